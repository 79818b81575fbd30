// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

// Package subscriptions authorizes event delivery to live subscribers.
//
// Subscribing to a topic is necessary but not sufficient for receiving
// any given event: every event is independently authorized against the
// subscriber's current entitlements at delivery time. Membership and
// ownership are looked up fresh per event, never cached at subscribe
// time, because both can change between subscribe and delivery.
package subscriptions

import (
	"context"
	"fmt"
	"sync"

	"github.com/calyxhealth/calyx/internal/bus"
	"github.com/calyxhealth/calyx/internal/store"
)

// Subscription identifies a live subscriber: the authenticated user,
// the session the subscription is bound to, and the query variables it
// was opened with.
type Subscription struct {
	UserID    string
	SessionID string
	Variables map[string]string
}

// Filter is a per-event delivery predicate.
type Filter interface {
	// Allow reports whether the event may be delivered to the
	// subscriber. An error denies delivery; the caller decides whether
	// to log it.
	Allow(ctx context.Context, sub Subscription, evt *bus.Event) (bool, error)
}

// Registry maps topics to their filters. Topics without a registered
// filter deliver unconditionally.
type Registry struct {
	mu      sync.RWMutex
	filters map[bus.Topic]Filter
}

// NewRegistry returns an empty filter registry.
func NewRegistry() *Registry {
	return &Registry{filters: make(map[bus.Topic]Filter)}
}

// Register installs the filter for a topic, replacing any previous one.
func (r *Registry) Register(topic bus.Topic, f Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters[topic] = f
}

// Allow evaluates the topic's filter, passing events on unfiltered
// topics through. Fails closed: a filter error denies delivery.
func (r *Registry) Allow(ctx context.Context, sub Subscription, evt *bus.Event) (bool, error) {
	r.mu.RLock()
	f, ok := r.filters[evt.Topic]
	r.mu.RUnlock()
	if !ok {
		return true, nil
	}
	allowed, err := f.Allow(ctx, sub, evt)
	if err != nil {
		return false, err
	}
	return allowed, nil
}

// NewDefaultRegistry wires the standard topic filters: group membership
// for chat and typing events, session ownership for AI sessions, and
// variable matching for user-status events.
func NewDefaultRegistry(groups store.Groups, aiSessions store.AISessions) *Registry {
	r := NewRegistry()
	membership := &GroupMembershipFilter{Groups: groups}
	r.Register(bus.TopicChatMessageCreated, membership)
	r.Register(bus.TopicTypingIndicator, membership)
	r.Register(bus.TopicAISessionMessage, &AISessionFilter{Sessions: aiSessions})
	r.Register(bus.TopicUserStatusChanged, &UserStatusFilter{})
	return r
}

// GroupMembershipFilter passes events only to current owners or members
// of the event's group.
type GroupMembershipFilter struct {
	Groups store.Groups
}

// Allow re-checks group membership for every event.
func (f *GroupMembershipFilter) Allow(ctx context.Context, sub Subscription, evt *bus.Event) (bool, error) {
	var payload struct {
		GroupID string `json:"groupId"`
	}
	if err := evt.Decode(&payload); err != nil {
		return false, fmt.Errorf("decode group event: %w", err)
	}
	if payload.GroupID == "" {
		return false, nil
	}
	return f.Groups.IsOwnerOrMember(ctx, payload.GroupID, sub.UserID)
}

// AISessionFilter passes AI session events only to the session's owner.
type AISessionFilter struct {
	Sessions store.AISessions
}

// Allow checks ownership of the event's AI session.
func (f *AISessionFilter) Allow(ctx context.Context, sub Subscription, evt *bus.Event) (bool, error) {
	var payload struct {
		AISessionID string `json:"aiSessionId"`
	}
	if err := evt.Decode(&payload); err != nil {
		return false, fmt.Errorf("decode ai session event: %w", err)
	}
	if payload.AISessionID == "" {
		return false, nil
	}
	owner, err := f.Sessions.Owner(ctx, payload.AISessionID)
	if err != nil {
		return false, err
	}
	return owner == sub.UserID, nil
}

// UserStatusFilter passes every status event unless the subscription
// was opened with a userId variable, in which case only events for that
// user pass.
type UserStatusFilter struct{}

// Allow matches the optional userId subscription variable.
func (f *UserStatusFilter) Allow(_ context.Context, sub Subscription, evt *bus.Event) (bool, error) {
	want, ok := sub.Variables["userId"]
	if !ok || want == "" {
		return true, nil
	}
	var payload struct {
		UserID string `json:"userId"`
	}
	if err := evt.Decode(&payload); err != nil {
		return false, fmt.Errorf("decode user status event: %w", err)
	}
	return payload.UserID == want, nil
}
