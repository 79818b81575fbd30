// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

// Package store defines the data-access collaborator consumed by the
// notification core. Durable storage of domain entities is an external
// concern; this package carries only the typed query/mutation surface
// the core needs, an in-memory implementation for tests and
// single-process deployments, and MongoDB adapters for production.
//
// Guarantees are single-row transactional only. Cross-row consistency
// (counters vs notification rows) is the notify package's job, repaired
// by reconciliation.
package store

import (
	"context"
	"time"

	"github.com/calyxhealth/calyx/internal/models"
)

// NotificationFilter narrows notification queries. Zero-valued fields
// are ignored.
type NotificationFilter struct {
	UserID           string
	NotificationType models.NotificationType // empty = all types
	Read             *bool                   // nil = both states
}

// Notifications is the persistence surface for notification rows.
type Notifications interface {
	// Create persists a new notification row.
	Create(ctx context.Context, n *models.Notification) error

	// Get returns the notification by id, or a NOT_FOUND error.
	Get(ctx context.Context, id string) (*models.Notification, error)

	// Update overwrites an existing row, matched by id.
	Update(ctx context.Context, n *models.Notification) error

	// MarkRead transitions the row from unread to read at the given
	// instant, atomically with the read check: exactly one of any
	// number of concurrent callers observes transitioned=true. An
	// already-read row returns the row with transitioned=false. A row
	// owned by a different user is NOT_FOUND.
	MarkRead(ctx context.Context, id, userID string, at time.Time) (n *models.Notification, transitioned bool, err error)

	// List returns rows matching the filter ordered by createdAt
	// descending (id descending as tiebreaker), starting after the row
	// identified by afterID when non-empty, limited to take rows.
	List(ctx context.Context, f NotificationFilter, afterID string, take int) ([]*models.Notification, error)

	// Count returns the number of rows matching the filter.
	Count(ctx context.Context, f NotificationFilter) (int, error)

	// MarkAllRead transitions every unread row for the user to read at
	// the given instant and returns the number of rows transitioned.
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error)
}

// CarePlan is the slice of the care-plan entity the core reads and
// writes: progress milestones. Everything else about care plans lives
// in the excluded collaborator.
type CarePlan struct {
	ID                    string
	OwnerUserID           string
	ProgressScore         int
	LastNotifiedMilestone int
}

// CarePlans exposes milestone state for the care-plan event handler.
type CarePlans interface {
	Get(ctx context.Context, id string) (*CarePlan, error)
	SetLastNotifiedMilestone(ctx context.Context, id string, milestone int) error
}

// Groups answers membership questions for recipient computation and
// per-event subscription authorization. Lookups are always fresh;
// membership can change between subscribe time and event delivery.
type Groups interface {
	// Members returns the current member user ids of the group,
	// including the owner.
	Members(ctx context.Context, groupID string) ([]string, error)

	// IsOwnerOrMember reports whether the user currently owns or
	// belongs to the group.
	IsOwnerOrMember(ctx context.Context, groupID, userID string) (bool, error)
}

// Sessions resolves opaque session identifiers to authenticated user
// ids. Session issuance is out of scope; the core only consumes.
type Sessions interface {
	// Resolve returns the user id for the session, an UNAUTHENTICATED
	// error when the session is unknown or expired, or an INTERNAL
	// error when the lookup itself fails.
	Resolve(ctx context.Context, sessionID string) (string, error)
}

// AISessions exposes ownership of AI chat sessions for subscription
// filtering.
type AISessions interface {
	Owner(ctx context.Context, sessionID string) (string, error)
}
