// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

package subscriptions

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/calyxhealth/calyx/internal/bus"
	"github.com/calyxhealth/calyx/internal/logging"
	"github.com/calyxhealth/calyx/internal/store"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

func mustEvent(t *testing.T, topic bus.Topic, payload any) *bus.Event {
	t.Helper()
	evt, err := bus.NewEvent(topic, payload)
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	return evt
}

func TestGroupMembershipFilter(t *testing.T) {
	groups := store.NewMemoryGroups()
	groups.SetGroup("g1", "alice", "bob")
	f := &GroupMembershipFilter{Groups: groups}
	ctx := context.Background()
	evt := mustEvent(t, bus.TopicChatMessageCreated, map[string]string{"groupId": "g1"})

	tests := []struct {
		name   string
		userID string
		want   bool
	}{
		{"owner", "alice", true},
		{"member", "bob", true},
		{"outsider", "mallory", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Allow(ctx, Subscription{UserID: tt.userID}, evt)
			if err != nil {
				t.Fatalf("Allow: %v", err)
			}
			if got != tt.want {
				t.Errorf("Allow = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGroupMembershipIsFreshPerEvent(t *testing.T) {
	groups := store.NewMemoryGroups()
	groups.SetGroup("g1", "alice", "bob")
	f := &GroupMembershipFilter{Groups: groups}
	ctx := context.Background()
	sub := Subscription{UserID: "bob"}
	evt := mustEvent(t, bus.TopicChatMessageCreated, map[string]string{"groupId": "g1"})

	if ok, _ := f.Allow(ctx, sub, evt); !ok {
		t.Fatal("member denied before removal")
	}

	// Membership changed after subscribe time; the next event is denied.
	groups.RemoveMember("g1", "bob")
	if ok, _ := f.Allow(ctx, sub, evt); ok {
		t.Error("removed member still allowed")
	}
}

func TestAISessionFilter(t *testing.T) {
	sessions := store.NewMemoryAISessions()
	sessions.Put("s1", "alice")
	f := &AISessionFilter{Sessions: sessions}
	ctx := context.Background()
	evt := mustEvent(t, bus.TopicAISessionMessage, map[string]string{"aiSessionId": "s1"})

	if ok, err := f.Allow(ctx, Subscription{UserID: "alice"}, evt); err != nil || !ok {
		t.Errorf("owner Allow = (%v, %v), want (true, nil)", ok, err)
	}
	if ok, _ := f.Allow(ctx, Subscription{UserID: "bob"}, evt); ok {
		t.Error("non-owner allowed")
	}

	// Unknown session: the lookup error denies delivery.
	unknown := mustEvent(t, bus.TopicAISessionMessage, map[string]string{"aiSessionId": "nope"})
	ok, err := f.Allow(ctx, Subscription{UserID: "alice"}, unknown)
	if ok || err == nil {
		t.Errorf("unknown session Allow = (%v, %v), want denial with error", ok, err)
	}
}

func TestUserStatusFilter(t *testing.T) {
	f := &UserStatusFilter{}
	ctx := context.Background()
	evt := mustEvent(t, bus.TopicUserStatusChanged, map[string]any{"userId": "alice", "online": true})

	tests := []struct {
		name string
		vars map[string]string
		want bool
	}{
		{"no variable passes", nil, true},
		{"empty variable passes", map[string]string{"userId": ""}, true},
		{"matching variable passes", map[string]string{"userId": "alice"}, true},
		{"mismatched variable denied", map[string]string{"userId": "bob"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Allow(ctx, Subscription{UserID: "x", Variables: tt.vars}, evt)
			if err != nil {
				t.Fatalf("Allow: %v", err)
			}
			if got != tt.want {
				t.Errorf("Allow = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegistryUnfilteredTopicPasses(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()
	evt := mustEvent(t, bus.TopicNotificationCreated, map[string]string{"userId": "alice"})

	ok, err := r.Allow(ctx, Subscription{UserID: "anyone"}, evt)
	if err != nil || !ok {
		t.Errorf("unfiltered Allow = (%v, %v), want (true, nil)", ok, err)
	}
}

type errorFilter struct{}

func (errorFilter) Allow(context.Context, Subscription, *bus.Event) (bool, error) {
	return true, errors.New("lookup failed")
}

func TestRegistryFailsClosed(t *testing.T) {
	r := NewRegistry()
	r.Register(bus.TopicChatMessageCreated, errorFilter{})
	ctx := context.Background()
	evt := mustEvent(t, bus.TopicChatMessageCreated, map[string]string{"groupId": "g1"})

	ok, err := r.Allow(ctx, Subscription{UserID: "alice"}, evt)
	if ok || err == nil {
		t.Errorf("Allow = (%v, %v), want denial with error", ok, err)
	}
}

func TestDefaultRegistryWiring(t *testing.T) {
	groups := store.NewMemoryGroups()
	groups.SetGroup("g1", "alice")
	r := NewDefaultRegistry(groups, store.NewMemoryAISessions())
	ctx := context.Background()

	evt := mustEvent(t, bus.TopicTypingIndicator, map[string]string{"groupId": "g1", "userId": "alice"})
	if ok, _ := r.Allow(ctx, Subscription{UserID: "mallory"}, evt); ok {
		t.Error("typing event delivered to non-member")
	}
	if ok, _ := r.Allow(ctx, Subscription{UserID: "alice"}, evt); !ok {
		t.Error("typing event withheld from owner")
	}
}
