// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

package notify

import (
	"context"

	"github.com/calyxhealth/calyx/internal/models"
)

// Counts maps notification types to unread counts for one user.
type Counts map[models.NotificationType]int

// Total sums the per-type counts.
func (c Counts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// Clone returns an independent copy.
func (c Counts) Clone() Counts {
	out := make(Counts, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// CounterStore maintains per-(user, type) unread counters. All
// mutations are atomic at (user, type) granularity; decrement clamps at
// zero and never produces a negative count.
//
// Two access modes exist behind this one interface, mirroring the two
// unread-count semantics in the wild:
//
//   - Cache-backed stores (memory, Redis, Badger) are strict: Get on a
//     user with no entry fails with CACHE_MISS, signaling the counters
//     were never initialized and reconciliation should run. Zero is a
//     real value; absence is not zero.
//
//   - The aggregate store derives every read from the authoritative
//     notification rows and never misses, trading read latency for
//     exactness.
//
// The caller picks the trade-off via configuration.
type CounterStore interface {
	// Increment adds one to the (user, type) counter, initializing the
	// user's entry when absent.
	Increment(ctx context.Context, userID string, t models.NotificationType) error

	// Decrement subtracts one from the (user, type) counter, clamping
	// at zero.
	Decrement(ctx context.Context, userID string, t models.NotificationType) error

	// Get returns the user's per-type counts. Strict implementations
	// fail with CACHE_MISS when the user has no entry.
	Get(ctx context.Context, userID string) (Counts, error)

	// Overwrite replaces the user's entry with the given counts,
	// initializing it when absent. Missing types are written as zero so
	// a subsequent Get never misses. Used by reconciliation and by
	// mark-all-read resets.
	Overwrite(ctx context.Context, userID string, counts Counts) error
}

// zeroFilled returns counts with every known type present, defaulting
// absent types to zero.
func zeroFilled(counts Counts) Counts {
	out := make(Counts, len(models.NotificationTypes))
	for _, t := range models.NotificationTypes {
		out[t] = counts[t]
	}
	return out
}
