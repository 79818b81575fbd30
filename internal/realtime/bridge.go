// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

package realtime

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/calyxhealth/calyx/internal/bus"
	"github.com/calyxhealth/calyx/internal/logging"
	"github.com/calyxhealth/calyx/internal/models"
	"github.com/calyxhealth/calyx/internal/notify"
)

// Bridge forwards bus events to live websocket clients. It is the only
// consumer that turns internal topics into client-facing message types;
// a suture service so that a transport failure tears it down for a
// clean supervised restart.
type Bridge struct {
	bus    *bus.Bus
	hub    *Hub
	logger zerolog.Logger
}

// NewBridge wires the bus-to-hub forwarder.
func NewBridge(b *bus.Bus, hub *Hub) *Bridge {
	return &Bridge{
		bus:    b,
		hub:    hub,
		logger: logging.With().Str("component", "realtime-bridge").Logger(),
	}
}

// String identifies the bridge in supervisor logs.
func (br *Bridge) String() string { return "realtime-bridge" }

// Serve subscribes to the client-facing topics and blocks until the
// context is canceled.
func (br *Bridge) Serve(ctx context.Context) error {
	subs := map[bus.Topic]bus.Handler{
		bus.TopicNotificationCreated: br.onNotificationCreated,
		bus.TopicUnreadCountChanged:  br.onUnreadCountChanged,
		bus.TopicTypingIndicator:     br.onTypingIndicator,
		bus.TopicUserStatusChanged:   br.onUserStatusChanged,
		bus.TopicAISessionMessage:    br.onAISessionMessage,
	}

	var ids []bus.SubscriptionID
	for topic, handler := range subs {
		id, err := br.bus.Subscribe(ctx, topic, handler)
		if err != nil {
			for _, prev := range ids {
				br.bus.Unsubscribe(prev)
			}
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		ids = append(ids, id)
	}
	br.logger.Info().Int("topics", len(ids)).Msg("realtime bridge subscribed")

	<-ctx.Done()
	for _, id := range ids {
		br.bus.Unsubscribe(id)
	}
	return ctx.Err()
}

func (br *Bridge) onNotificationCreated(_ context.Context, evt *bus.Event) error {
	var n models.Notification
	if err := evt.Decode(&n); err != nil {
		return fmt.Errorf("decode notification event %s: %w", evt.ID, err)
	}
	br.hub.EmitToUser(n.UserID, Message{Type: MessageTypeNotificationCreated, Data: n})
	return nil
}

func (br *Bridge) onUnreadCountChanged(_ context.Context, evt *bus.Event) error {
	var change notify.UnreadCountChange
	if err := evt.Decode(&change); err != nil {
		return fmt.Errorf("decode unread count event %s: %w", evt.ID, err)
	}
	br.hub.EmitToUser(change.UserID, Message{Type: MessageTypeUnreadCountChanged, Data: change})
	return nil
}

func (br *Bridge) onTypingIndicator(ctx context.Context, evt *bus.Event) error {
	var indicator TypingIndicator
	if err := evt.Decode(&indicator); err != nil {
		return fmt.Errorf("decode typing event %s: %w", evt.ID, err)
	}
	br.hub.EmitToRoom(ctx, indicator.GroupID, Message{Type: MessageTypeTypingIndicator, Data: indicator}, evt)
	return nil
}

func (br *Bridge) onUserStatusChanged(ctx context.Context, evt *bus.Event) error {
	var status UserStatus
	if err := evt.Decode(&status); err != nil {
		return fmt.Errorf("decode user status event %s: %w", evt.ID, err)
	}
	br.hub.Broadcast(ctx, Message{Type: MessageTypeUserStatusChanged, Data: status}, evt)
	return nil
}

// onAISessionMessage broadcasts with the ownership filter deciding the
// single allowed recipient.
func (br *Bridge) onAISessionMessage(ctx context.Context, evt *bus.Event) error {
	var payload map[string]any
	if err := evt.Decode(&payload); err != nil {
		return fmt.Errorf("decode ai session event %s: %w", evt.ID, err)
	}
	br.hub.Broadcast(ctx, Message{Type: MessageTypeAISessionMessage, Data: payload}, evt)
	return nil
}
