// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/calyxhealth/calyx/internal/apperr"
	"github.com/calyxhealth/calyx/internal/models"
)

func newNotification(id, userID string, typ models.NotificationType, createdAt time.Time) *models.Notification {
	return &models.Notification{
		ID:               id,
		UserID:           userID,
		Type:             "test",
		NotificationType: typ,
		Priority:         models.PriorityMedium,
		Content:          "content " + id,
		CreatedAt:        createdAt,
	}
}

func TestMemoryNotificationsCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryNotifications()
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	n := newNotification("n1", "u1", models.NotificationTypeChat, base)
	if err := s.Create(ctx, n); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get(ctx, "n1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content != "content n1" {
		t.Errorf("Content = %q", got.Content)
	}

	// Mutating the returned copy must not affect the stored row.
	got.Content = "mutated"
	again, _ := s.Get(ctx, "n1")
	if again.Content != "content n1" {
		t.Error("Get returned a shared reference, want a copy")
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Get missing = %v, want NOT_FOUND", err)
	}
	if err := s.Update(ctx, newNotification("missing", "u1", models.NotificationTypeChat, base)); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Update missing = %v, want NOT_FOUND", err)
	}
}

func TestMemoryNotificationsListOrderAndCursor(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryNotifications()
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		n := newNotification(fmt.Sprintf("n%d", i), "u1", models.NotificationTypeChat, base.Add(time.Duration(i)*time.Minute))
		if err := s.Create(ctx, n); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	page1, err := s.List(ctx, NotificationFilter{UserID: "u1"}, "", 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page1) != 2 || page1[0].ID != "n4" || page1[1].ID != "n3" {
		t.Fatalf("page1 = %v, want [n4 n3]", ids(page1))
	}

	page2, err := s.List(ctx, NotificationFilter{UserID: "u1"}, page1[1].ID, 2)
	if err != nil {
		t.Fatalf("List after cursor: %v", err)
	}
	if len(page2) != 2 || page2[0].ID != "n2" || page2[1].ID != "n1" {
		t.Fatalf("page2 = %v, want [n2 n1]", ids(page2))
	}
}

func ids(rows []*models.Notification) []string {
	out := make([]string, len(rows))
	for i, n := range rows {
		out[i] = n.ID
	}
	return out
}

func TestMemoryNotificationsCountAndMarkAllRead(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryNotifications()
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	for i, typ := range []models.NotificationType{
		models.NotificationTypeChat, models.NotificationTypeChat, models.NotificationTypeForum,
	} {
		if err := s.Create(ctx, newNotification(fmt.Sprintf("n%d", i), "u1", typ, base)); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	unread := false
	f := NotificationFilter{UserID: "u1", NotificationType: models.NotificationTypeChat, Read: &unread}
	if n, _ := s.Count(ctx, f); n != 2 {
		t.Errorf("unread chat count = %d, want 2", n)
	}

	transitioned, err := s.MarkAllRead(ctx, "u1", base.Add(time.Hour))
	if err != nil {
		t.Fatalf("MarkAllRead: %v", err)
	}
	if transitioned != 3 {
		t.Errorf("transitioned = %d, want 3", transitioned)
	}

	// Second call is a no-op.
	transitioned, _ = s.MarkAllRead(ctx, "u1", base.Add(2*time.Hour))
	if transitioned != 0 {
		t.Errorf("second MarkAllRead = %d, want 0", transitioned)
	}

	n, _ := s.Get(ctx, "n0")
	if !n.Read || n.ReadAt == nil {
		t.Error("row not transitioned to read with readAt set")
	}
}

func TestMemoryNotificationsMarkRead(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryNotifications()
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	if err := s.Create(ctx, newNotification("n1", "u1", models.NotificationTypeChat, base)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	n, transitioned, err := s.MarkRead(ctx, "n1", "u1", base.Add(time.Minute))
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if !transitioned || !n.Read || n.ReadAt == nil {
		t.Fatalf("first MarkRead: transitioned=%v read=%v readAt=%v", transitioned, n.Read, n.ReadAt)
	}

	// Repeat call reports no transition and keeps the original readAt.
	n, transitioned, err = s.MarkRead(ctx, "n1", "u1", base.Add(time.Hour))
	if err != nil {
		t.Fatalf("second MarkRead: %v", err)
	}
	if transitioned {
		t.Error("second MarkRead reported a transition")
	}
	if !n.ReadAt.Equal(base.Add(time.Minute)) {
		t.Errorf("readAt = %v, want original instant", n.ReadAt)
	}

	if _, _, err := s.MarkRead(ctx, "n1", "other", base); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("foreign owner = %v, want NOT_FOUND", err)
	}
	if _, _, err := s.MarkRead(ctx, "missing", "u1", base); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing row = %v, want NOT_FOUND", err)
	}
}

func TestMemoryNotificationsMarkReadSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryNotifications()
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	if err := s.Create(ctx, newNotification("n1", "u1", models.NotificationTypeChat, base)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, transitioned, err := s.MarkRead(ctx, "n1", "u1", base.Add(time.Minute))
			if err != nil {
				t.Errorf("MarkRead: %v", err)
				return
			}
			if transitioned {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	if got := len(wins); got != 1 {
		t.Errorf("transitions observed = %d, want exactly 1", got)
	}
}

func TestMemoryGroupsMembership(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGroups()
	g.SetGroup("g1", "owner", "a", "b")

	members, err := g.Members(ctx, "g1")
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(members) != 3 {
		t.Errorf("members = %v, want owner+a+b", members)
	}

	for _, tt := range []struct {
		user string
		want bool
	}{
		{"owner", true}, {"a", true}, {"stranger", false},
	} {
		got, err := g.IsOwnerOrMember(ctx, "g1", tt.user)
		if err != nil {
			t.Fatalf("IsOwnerOrMember(%s): %v", tt.user, err)
		}
		if got != tt.want {
			t.Errorf("IsOwnerOrMember(%s) = %v, want %v", tt.user, got, tt.want)
		}
	}

	// Membership changes are visible to subsequent lookups.
	g.RemoveMember("g1", "a")
	got, _ := g.IsOwnerOrMember(ctx, "g1", "a")
	if got {
		t.Error("removed member still reported as member")
	}
}

func TestMemorySessionsResolve(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySessions()
	s.Put("sess-1", "u1")

	userID, err := s.Resolve(ctx, "sess-1")
	if err != nil || userID != "u1" {
		t.Errorf("Resolve = (%q, %v), want (u1, nil)", userID, err)
	}

	if _, err := s.Resolve(ctx, "nope"); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Errorf("Resolve unknown = %v, want UNAUTHENTICATED", err)
	}
}
