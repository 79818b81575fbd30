// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

// Package models defines the core data shapes shared across Calyx
// components: notifications, unread counters, and the pagination
// envelope used by the query surface.
package models

import (
	"fmt"
	"time"
)

// NotificationType is the coarse notification category. Unread counters
// are maintained per (user, NotificationType) pair.
type NotificationType string

const (
	NotificationTypeCarePlan NotificationType = "CARE_PLAN"
	NotificationTypeChat     NotificationType = "CHAT"
	NotificationTypeForum    NotificationType = "FORUM"
	NotificationTypeSystem   NotificationType = "SYSTEM"
)

// NotificationTypes lists every valid NotificationType. The order is
// stable and used when rendering per-type counter maps.
var NotificationTypes = []NotificationType{
	NotificationTypeCarePlan,
	NotificationTypeChat,
	NotificationTypeForum,
	NotificationTypeSystem,
}

// Valid reports whether t is a known notification type.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationTypeCarePlan, NotificationTypeChat, NotificationTypeForum, NotificationTypeSystem:
		return true
	}
	return false
}

// ParseNotificationType converts a string into a NotificationType.
func ParseNotificationType(s string) (NotificationType, error) {
	t := NotificationType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown notification type %q", s)
	}
	return t, nil
}

// Priority orders notifications for display and delivery emphasis.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Notification is a persisted per-user notification record. Rows are
// created exclusively by the notify service and mutated only by
// read-marking; the core never hard-deletes them.
//
// Invariant: Read=true implies ReadAt is set; Read=false implies ReadAt
// is nil.
type Notification struct {
	ID               string           `json:"id" bson:"_id"`
	UserID           string           `json:"userId" bson:"userId"`
	Type             string           `json:"type" bson:"type"` // free-form sub-type, e.g. "chat_mention"
	NotificationType NotificationType `json:"notificationType" bson:"notificationType"`
	Priority         Priority         `json:"priority" bson:"priority"`
	Content          string           `json:"content" bson:"content"`
	ActionURL        string           `json:"actionUrl,omitempty" bson:"actionUrl,omitempty"`
	Metadata         map[string]any   `json:"metadata,omitempty" bson:"metadata,omitempty"`
	Read             bool             `json:"read" bson:"read"`
	ReadAt           *time.Time       `json:"readAt,omitempty" bson:"readAt,omitempty"`
	CreatedAt        time.Time        `json:"createdAt" bson:"createdAt"`

	RelatedCarePlanID  string `json:"relatedCarePlanId,omitempty" bson:"relatedCarePlanId,omitempty"`
	RelatedChatID      string `json:"relatedChatId,omitempty" bson:"relatedChatId,omitempty"`
	RelatedForumPostID string `json:"relatedForumPostId,omitempty" bson:"relatedForumPostId,omitempty"`
}

// MarkRead transitions the notification to read at the given instant.
// Idempotent: marking an already-read notification keeps the original
// ReadAt.
func (n *Notification) MarkRead(at time.Time) {
	if n.Read {
		return
	}
	n.Read = true
	n.ReadAt = &at
}

// UnreadCounter is the derived per-(user, type) unread count. It must
// equal the number of unread notification rows for the pair, maintained
// incrementally and repairable by reconciliation.
type UnreadCounter struct {
	UserID           string           `json:"userId" bson:"userId"`
	NotificationType NotificationType `json:"notificationType" bson:"notificationType"`
	Count            int              `json:"count" bson:"count"`
	LastUpdated      time.Time        `json:"lastUpdated" bson:"lastUpdated"`
}
