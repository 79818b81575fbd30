// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

package notify

import (
	"context"
	"sync"
	"time"

	"github.com/calyxhealth/calyx/internal/apperr"
	"github.com/calyxhealth/calyx/internal/models"
)

// MemoryCounterStore is the in-process CounterStore: a mutex-guarded
// map. Strict access mode. Suitable for tests and single-process
// deployments; counters do not survive restarts (reconciliation
// repopulates them).
type MemoryCounterStore struct {
	mu          sync.Mutex
	counts      map[string]Counts
	lastUpdated map[string]time.Time
}

// NewMemoryCounterStore returns an empty in-memory counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		counts:      make(map[string]Counts),
		lastUpdated: make(map[string]time.Time),
	}
}

// Increment adds one to the (user, type) counter.
func (s *MemoryCounterStore) Increment(_ context.Context, userID string, t models.NotificationType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counts[userID]
	if !ok {
		c = zeroFilled(nil)
		s.counts[userID] = c
	}
	c[t]++
	s.lastUpdated[userID] = time.Now()
	return nil
}

// Decrement subtracts one, clamping at zero.
func (s *MemoryCounterStore) Decrement(_ context.Context, userID string, t models.NotificationType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counts[userID]
	if !ok {
		c = zeroFilled(nil)
		s.counts[userID] = c
	}
	if c[t] > 0 {
		c[t]--
	}
	s.lastUpdated[userID] = time.Now()
	return nil
}

// Get returns the user's counts, or CACHE_MISS when never initialized.
func (s *MemoryCounterStore) Get(_ context.Context, userID string) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counts[userID]
	if !ok {
		return nil, apperr.CacheMiss(userID)
	}
	return c.Clone(), nil
}

// Overwrite replaces the user's entry.
func (s *MemoryCounterStore) Overwrite(_ context.Context, userID string, counts Counts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[userID] = zeroFilled(counts)
	s.lastUpdated[userID] = time.Now()
	return nil
}
