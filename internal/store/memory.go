// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/calyxhealth/calyx/internal/apperr"
	"github.com/calyxhealth/calyx/internal/models"
)

// MemoryNotifications is a mutex-guarded in-memory Notifications
// implementation. It is the authoritative store in tests and in
// single-process deployments without MongoDB.
type MemoryNotifications struct {
	mu   sync.RWMutex
	rows map[string]*models.Notification
}

// NewMemoryNotifications returns an empty in-memory notification store.
func NewMemoryNotifications() *MemoryNotifications {
	return &MemoryNotifications{rows: make(map[string]*models.Notification)}
}

// Create persists a copy of the row.
func (s *MemoryNotifications) Create(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.rows[n.ID] = &cp
	return nil
}

// Get returns a copy of the row by id.
func (s *MemoryNotifications) Get(_ context.Context, id string) (*models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.rows[id]
	if !ok {
		return nil, apperr.NotFound("notification", id)
	}
	cp := *n
	return &cp, nil
}

// Update overwrites the stored row matched by id.
func (s *MemoryNotifications) Update(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[n.ID]; !ok {
		return apperr.NotFound("notification", n.ID)
	}
	cp := *n
	s.rows[n.ID] = &cp
	return nil
}

// MarkRead transitions the row under the store mutex, so the read
// check and the write are one atomic step.
func (s *MemoryNotifications) MarkRead(_ context.Context, id, userID string, at time.Time) (*models.Notification, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.rows[id]
	if !ok || n.UserID != userID {
		return nil, false, apperr.NotFound("notification", id)
	}
	if n.Read {
		cp := *n
		return &cp, false, nil
	}
	n.MarkRead(at)
	cp := *n
	return &cp, true, nil
}

func matches(n *models.Notification, f NotificationFilter) bool {
	if f.UserID != "" && n.UserID != f.UserID {
		return false
	}
	if f.NotificationType != "" && n.NotificationType != f.NotificationType {
		return false
	}
	if f.Read != nil && n.Read != *f.Read {
		return false
	}
	return true
}

// List returns matching rows ordered by createdAt descending.
func (s *MemoryNotifications) List(_ context.Context, f NotificationFilter, afterID string, take int) ([]*models.Notification, error) {
	s.mu.RLock()
	all := make([]*models.Notification, 0, len(s.rows))
	for _, n := range s.rows {
		if matches(n, f) {
			cp := *n
			all = append(all, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	start := 0
	if afterID != "" {
		for i, n := range all {
			if n.ID == afterID {
				start = i + 1
				break
			}
		}
	}
	if start >= len(all) {
		return nil, nil
	}
	all = all[start:]
	if take > 0 && take < len(all) {
		all = all[:take]
	}
	return all, nil
}

// Count returns the number of rows matching the filter.
func (s *MemoryNotifications) Count(_ context.Context, f NotificationFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, n := range s.rows {
		if matches(n, f) {
			count++
		}
	}
	return count, nil
}

// MarkAllRead transitions every unread row for the user.
func (s *MemoryNotifications) MarkAllRead(_ context.Context, userID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.rows {
		if n.UserID == userID && !n.Read {
			n.MarkRead(at)
			count++
		}
	}
	return count, nil
}

// MemoryCarePlans holds care-plan milestone state in memory.
type MemoryCarePlans struct {
	mu    sync.RWMutex
	plans map[string]*CarePlan
}

// NewMemoryCarePlans returns an empty in-memory care-plan store.
func NewMemoryCarePlans() *MemoryCarePlans {
	return &MemoryCarePlans{plans: make(map[string]*CarePlan)}
}

// Put inserts or replaces a plan. Test and seeding helper.
func (s *MemoryCarePlans) Put(p *CarePlan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.plans[p.ID] = &cp
}

// Get returns a copy of the plan by id.
func (s *MemoryCarePlans) Get(_ context.Context, id string) (*CarePlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, apperr.NotFound("care plan", id)
	}
	cp := *p
	return &cp, nil
}

// SetLastNotifiedMilestone persists the milestone watermark.
func (s *MemoryCarePlans) SetLastNotifiedMilestone(_ context.Context, id string, milestone int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return apperr.NotFound("care plan", id)
	}
	p.LastNotifiedMilestone = milestone
	return nil
}

// MemoryGroups holds group ownership and membership in memory.
type MemoryGroups struct {
	mu      sync.RWMutex
	owners  map[string]string
	members map[string]map[string]struct{}
}

// NewMemoryGroups returns an empty in-memory group store.
func NewMemoryGroups() *MemoryGroups {
	return &MemoryGroups{
		owners:  make(map[string]string),
		members: make(map[string]map[string]struct{}),
	}
}

// SetGroup replaces a group's owner and member set. Test and seeding helper.
func (s *MemoryGroups) SetGroup(groupID, ownerID string, memberIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[groupID] = ownerID
	set := make(map[string]struct{}, len(memberIDs)+1)
	set[ownerID] = struct{}{}
	for _, id := range memberIDs {
		set[id] = struct{}{}
	}
	s.members[groupID] = set
}

// RemoveMember drops a user from the group. Test and seeding helper.
func (s *MemoryGroups) RemoveMember(groupID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members[groupID], userID)
}

// Members returns the current member ids of the group.
func (s *MemoryGroups) Members(_ context.Context, groupID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.members[groupID]
	if !ok {
		return nil, apperr.NotFound("group", groupID)
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// IsOwnerOrMember reports current ownership or membership.
func (s *MemoryGroups) IsOwnerOrMember(_ context.Context, groupID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.owners[groupID] == userID {
		return true, nil
	}
	_, ok := s.members[groupID][userID]
	return ok, nil
}

// MemorySessions maps opaque session ids to user ids.
type MemorySessions struct {
	mu       sync.RWMutex
	sessions map[string]string
}

// NewMemorySessions returns an empty in-memory session store.
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{sessions: make(map[string]string)}
}

// Put registers a session. Test and seeding helper.
func (s *MemorySessions) Put(sessionID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = userID
}

// Resolve returns the user id for a live session.
func (s *MemorySessions) Resolve(_ context.Context, sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.sessions[sessionID]
	if !ok {
		return "", apperr.Unauthenticated("unknown or expired session")
	}
	return userID, nil
}

// MemoryAISessions maps AI chat session ids to owning user ids.
type MemoryAISessions struct {
	mu     sync.RWMutex
	owners map[string]string
}

// NewMemoryAISessions returns an empty in-memory AI-session store.
func NewMemoryAISessions() *MemoryAISessions {
	return &MemoryAISessions{owners: make(map[string]string)}
}

// Put registers a session owner. Test and seeding helper.
func (s *MemoryAISessions) Put(sessionID, ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[sessionID] = ownerID
}

// Owner returns the owning user id of the AI session.
func (s *MemoryAISessions) Owner(_ context.Context, sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.owners[sessionID]
	if !ok {
		return "", apperr.NotFound("ai session", sessionID)
	}
	return owner, nil
}
