// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/calyxhealth/calyx/internal/bus"
	"github.com/calyxhealth/calyx/internal/models"
	"github.com/calyxhealth/calyx/internal/notify"
)

func startBridge(t *testing.T, hub *Hub) *bus.Bus {
	t.Helper()
	pub, sub := bus.NewGoChannelTransport(bus.GoChannelConfig{Buffer: 64})
	b := bus.New(pub, sub)
	t.Cleanup(func() { _ = b.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	bridge := NewBridge(b, hub)
	go func() { _ = bridge.Serve(ctx) }()

	// Give the subscriptions a moment to attach.
	time.Sleep(50 * time.Millisecond)
	return b
}

func waitForMessage(t *testing.T, c *Client, want string) Message {
	t.Helper()
	select {
	case msg := <-c.send:
		if msg.Type != want {
			t.Fatalf("message type = %q, want %q", msg.Type, want)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("no %s message within timeout", want)
		return Message{}
	}
}

func TestBridgeForwardsNotificationToOwner(t *testing.T) {
	hub := NewHub(nil, nil)
	b := startBridge(t, hub)

	alice := newHubClient(hub, "alice")
	bob := newHubClient(hub, "bob")
	hub.register(alice)
	hub.register(bob)

	n := models.Notification{
		ID:               "n1",
		UserID:           "alice",
		Type:             "chat_message",
		NotificationType: models.NotificationTypeChat,
		Priority:         models.PriorityMedium,
		Content:          "hello",
		CreatedAt:        time.Now().UTC(),
	}
	if err := b.Publish(context.Background(), bus.TopicNotificationCreated, n); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitForMessage(t, alice, MessageTypeNotificationCreated)
	if msgs := drainMessages(bob); len(msgs) != 0 {
		t.Errorf("bob received %d messages, want 0", len(msgs))
	}
}

func TestBridgeForwardsUnreadCounts(t *testing.T) {
	hub := NewHub(nil, nil)
	b := startBridge(t, hub)

	alice := newHubClient(hub, "alice")
	hub.register(alice)

	change := notify.UnreadCountChange{
		UserID: "alice",
		Total:  3,
		ByType: notify.Counts{models.NotificationTypeChat: 3},
	}
	if err := b.Publish(context.Background(), bus.TopicUnreadCountChanged, change); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitForMessage(t, alice, MessageTypeUnreadCountChanged)
}

func TestBridgeForwardsTypingToRoom(t *testing.T) {
	hub := NewHub(nil, nil)
	b := startBridge(t, hub)

	alice := newHubClient(hub, "alice")
	outsider := newHubClient(hub, "bob")
	hub.register(alice)
	hub.register(outsider)
	hub.joinRoom(alice, "g1")

	indicator := TypingIndicator{GroupID: "g1", UserID: "carol", Typing: true}
	if err := b.Publish(context.Background(), bus.TopicTypingIndicator, indicator); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitForMessage(t, alice, MessageTypeTypingIndicator)
	if msgs := drainMessages(outsider); len(msgs) != 0 {
		t.Errorf("non-room client received %d messages, want 0", len(msgs))
	}
}
