// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

package notify

import (
	"context"

	"github.com/calyxhealth/calyx/internal/models"
	"github.com/calyxhealth/calyx/internal/store"
)

// AggregateCounterStore derives every read from the authoritative
// notification rows instead of maintaining cached counters. Reads are
// exact by construction but cost one count query per type; mutations
// are no-ops because the row writes that precede them already changed
// the aggregate. Get never returns CACHE_MISS.
//
// This is the lazy access mode of the open counter-semantics question;
// the cache-backed stores are the strict mode.
type AggregateCounterStore struct {
	notifications store.Notifications
}

// NewAggregateCounterStore returns a CounterStore deriving counts from
// the given notification store.
func NewAggregateCounterStore(notifications store.Notifications) *AggregateCounterStore {
	return &AggregateCounterStore{notifications: notifications}
}

// Increment is a no-op: the preceding row write already moved the aggregate.
func (s *AggregateCounterStore) Increment(context.Context, string, models.NotificationType) error {
	return nil
}

// Decrement is a no-op: the preceding row write already moved the aggregate.
func (s *AggregateCounterStore) Decrement(context.Context, string, models.NotificationType) error {
	return nil
}

// Get counts unread rows per type.
func (s *AggregateCounterStore) Get(ctx context.Context, userID string) (Counts, error) {
	unread := false
	counts := zeroFilled(nil)
	for _, t := range models.NotificationTypes {
		n, err := s.notifications.Count(ctx, store.NotificationFilter{
			UserID:           userID,
			NotificationType: t,
			Read:             &unread,
		})
		if err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, nil
}

// Overwrite is a no-op: there is nothing cached to repair.
func (s *AggregateCounterStore) Overwrite(context.Context, string, Counts) error {
	return nil
}
