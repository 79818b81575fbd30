// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

package notify

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/calyxhealth/calyx/internal/apperr"
	"github.com/calyxhealth/calyx/internal/bus"
	"github.com/calyxhealth/calyx/internal/logging"
	"github.com/calyxhealth/calyx/internal/models"
	"github.com/calyxhealth/calyx/internal/store"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
	fail   bool
}

type recordedEvent struct {
	topic   bus.Topic
	payload any
}

func (p *recordingPublisher) Publish(_ context.Context, topic bus.Topic, payload any) error {
	if p.fail {
		return errors.New("transport down")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{topic: topic, payload: payload})
	return nil
}

func (p *recordingPublisher) byTopic(topic bus.Topic) []recordedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []recordedEvent
	for _, e := range p.events {
		if e.topic == topic {
			out = append(out, e)
		}
	}
	return out
}

func newTestService() (*Service, *recordingPublisher) {
	pub := &recordingPublisher{}
	svc := NewService(store.NewMemoryNotifications(), NewMemoryCounterStore(), pub)
	return svc, pub
}

func chatInput(userID string) CreateNotificationInput {
	return CreateNotificationInput{
		UserID:           userID,
		Type:             "chat_message",
		NotificationType: models.NotificationTypeChat,
		Content:          "new message",
	}
}

func TestCreateNotificationValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	tests := []struct {
		name      string
		mutate    func(*CreateNotificationInput)
		wantField string
	}{
		{"missing userId", func(in *CreateNotificationInput) { in.UserID = "" }, "userId"},
		{"missing type", func(in *CreateNotificationInput) { in.Type = "" }, "type"},
		{"missing notificationType", func(in *CreateNotificationInput) { in.NotificationType = "" }, "notificationType"},
		{"missing content", func(in *CreateNotificationInput) { in.Content = "" }, "content"},
		{"bogus notificationType", func(in *CreateNotificationInput) { in.NotificationType = "EMAIL" }, "notificationType"},
		{"bogus priority", func(in *CreateNotificationInput) { in.Priority = "WHENEVER" }, "priority"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := chatInput("u1")
			tt.mutate(&in)
			_, err := svc.CreateNotification(ctx, in)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("error = %v, want VALIDATION", err)
			}
			var appErr *apperr.Error
			if errors.As(err, &appErr) && appErr.Field() != tt.wantField {
				t.Errorf("field = %q, want %q", appErr.Field(), tt.wantField)
			}
		})
	}
}

func TestCreateNotificationIncrementsCounter(t *testing.T) {
	svc, pub := newTestService()
	ctx := context.Background()

	before, err := svc.GetUnreadCountByType(ctx, "u1", models.NotificationTypeChat)
	if !errors.Is(err, apperr.ErrCacheMiss) {
		t.Fatalf("uninitialized counter: err = %v (count %d), want CACHE_MISS", err, before)
	}

	n, err := svc.CreateNotification(ctx, chatInput("u1"))
	if err != nil {
		t.Fatalf("CreateNotification: %v", err)
	}
	if n.Priority != models.PriorityMedium {
		t.Errorf("default priority = %s, want MEDIUM", n.Priority)
	}
	if n.Read || n.ReadAt != nil {
		t.Error("new notification must be unread with nil readAt")
	}

	count, err := svc.GetUnreadCountByType(ctx, "u1", models.NotificationTypeChat)
	if err != nil || count != 1 {
		t.Errorf("count = (%d, %v), want (1, nil)", count, err)
	}

	if got := pub.byTopic(bus.TopicNotificationCreated); len(got) != 1 {
		t.Errorf("notification-created publishes = %d, want 1", len(got))
	}
	changes := pub.byTopic(bus.TopicUnreadCountChanged)
	if len(changes) != 1 {
		t.Fatalf("unread-count publishes = %d, want 1", len(changes))
	}
	change := changes[0].payload.(UnreadCountChange)
	if change.Total != 1 || change.ByType[models.NotificationTypeChat] != 1 {
		t.Errorf("count change = %+v, want total 1", change)
	}
}

func TestCreateNotificationSurvivesPublishFailure(t *testing.T) {
	pub := &recordingPublisher{fail: true}
	svc := NewService(store.NewMemoryNotifications(), NewMemoryCounterStore(), pub)
	ctx := context.Background()

	n, err := svc.CreateNotification(ctx, chatInput("u1"))
	if err != nil {
		t.Fatalf("publish failure must not fail the create: %v", err)
	}

	// The counter increment happened even though publishing failed.
	count, err := svc.GetUnreadCountByType(ctx, "u1", models.NotificationTypeChat)
	if err != nil || count != 1 {
		t.Errorf("count = (%d, %v), want (1, nil)", count, err)
	}
	if n.ID == "" {
		t.Error("notification not returned")
	}
}

// failingCounters simulates a counter store outage.
type failingCounters struct{ CounterStore }

func (f failingCounters) Increment(context.Context, string, models.NotificationType) error {
	return errors.New("counter store down")
}

func TestCreateNotificationSurvivesCounterFailure(t *testing.T) {
	notifications := store.NewMemoryNotifications()
	svc := NewService(notifications, failingCounters{NewMemoryCounterStore()}, &recordingPublisher{})
	ctx := context.Background()

	n, err := svc.CreateNotification(ctx, chatInput("u1"))
	if err != nil {
		t.Fatalf("counter failure must not fail the create: %v", err)
	}

	// The row exists; reconciliation can repair the counter later.
	if _, err := notifications.Get(ctx, n.ID); err != nil {
		t.Errorf("notification row missing after counter failure: %v", err)
	}
}

func TestConcurrentCreatesNoLostUpdates(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.CreateNotification(ctx, chatInput("u1")); err != nil {
				t.Errorf("CreateNotification: %v", err)
			}
		}()
	}
	wg.Wait()

	count, err := svc.GetUnreadCountByType(ctx, "u1", models.NotificationTypeChat)
	if err != nil {
		t.Fatalf("GetUnreadCountByType: %v", err)
	}
	if count != n {
		t.Errorf("final count = %d, want %d (lost updates)", count, n)
	}
}

func TestMarkAsReadIdempotent(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	n1, _ := svc.CreateNotification(ctx, chatInput("u1"))
	if _, err := svc.CreateNotification(ctx, chatInput("u1")); err != nil {
		t.Fatalf("CreateNotification: %v", err)
	}

	if _, err := svc.MarkAsRead(ctx, n1.ID, "u1"); err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}
	if _, err := svc.MarkAsRead(ctx, n1.ID, "u1"); err != nil {
		t.Fatalf("second MarkAsRead: %v", err)
	}

	// Two calls decrement exactly once.
	count, err := svc.GetUnreadCountByType(ctx, "u1", models.NotificationTypeChat)
	if err != nil || count != 1 {
		t.Errorf("count = (%d, %v), want (1, nil)", count, err)
	}

	got, _ := svc.MarkAsRead(ctx, n1.ID, "u1")
	if !got.Read || got.ReadAt == nil {
		t.Error("read=true must imply readAt set")
	}
}

func TestConcurrentMarkAsReadDecrementsOnce(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	n1, _ := svc.CreateNotification(ctx, chatInput("u1"))
	if _, err := svc.CreateNotification(ctx, chatInput("u1")); err != nil {
		t.Fatalf("CreateNotification: %v", err)
	}

	// All racers target the same notification; only one false-to-true
	// transition may reach the counter, leaving the sibling unread row
	// counted.
	const racers = 16
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.MarkAsRead(ctx, n1.ID, "u1"); err != nil {
				t.Errorf("MarkAsRead: %v", err)
			}
		}()
	}
	wg.Wait()

	count, err := svc.GetUnreadCountByType(ctx, "u1", models.NotificationTypeChat)
	if err != nil {
		t.Fatalf("GetUnreadCountByType: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1 (decrement fired more than once)", count)
	}
}

func TestMarkAsReadErrors(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.MarkAsRead(ctx, "missing", "u1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing notification: err = %v, want NOT_FOUND", err)
	}

	n, _ := svc.CreateNotification(ctx, chatInput("u1"))
	if _, err := svc.MarkAsRead(ctx, n.ID, "other-user"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("foreign notification: err = %v, want NOT_FOUND", err)
	}
}

func TestMarkAllAsRead(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.CreateNotification(ctx, chatInput("u1")); err != nil {
			t.Fatalf("CreateNotification: %v", err)
		}
	}

	transitioned, err := svc.MarkAllAsRead(ctx, "u1")
	if err != nil || transitioned != 3 {
		t.Fatalf("MarkAllAsRead = (%d, %v), want (3, nil)", transitioned, err)
	}

	total, err := svc.GetUnreadCount(ctx, "u1")
	if err != nil || total != 0 {
		t.Errorf("total after mark-all = (%d, %v), want (0, nil)", total, err)
	}

	// Reconciliation agrees with incremental state.
	counts, err := svc.SyncCountersFromNotifications(ctx, "u1")
	if err != nil {
		t.Fatalf("SyncCountersFromNotifications: %v", err)
	}
	if counts.Total() != 0 {
		t.Errorf("reconciled total = %d, want 0", counts.Total())
	}

	// Safe on zero unread rows.
	transitioned, err = svc.MarkAllAsRead(ctx, "u1")
	if err != nil || transitioned != 0 {
		t.Errorf("second MarkAllAsRead = (%d, %v), want (0, nil)", transitioned, err)
	}
}

func TestUnreadCountScenario(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	forumInput := chatInput("u1")
	forumInput.NotificationType = models.NotificationTypeForum
	forumInput.Type = "forum_reply"

	var chatIDs []string
	for i := 0; i < 3; i++ {
		n, err := svc.CreateNotification(ctx, chatInput("u1"))
		if err != nil {
			t.Fatalf("create chat: %v", err)
		}
		chatIDs = append(chatIDs, n.ID)
	}
	for i := 0; i < 2; i++ {
		if _, err := svc.CreateNotification(ctx, forumInput); err != nil {
			t.Fatalf("create forum: %v", err)
		}
	}

	if total, _ := svc.GetUnreadCount(ctx, "u1"); total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if n, _ := svc.GetUnreadCountByType(ctx, "u1", models.NotificationTypeChat); n != 3 {
		t.Errorf("chat = %d, want 3", n)
	}
	if n, _ := svc.GetUnreadCountByType(ctx, "u1", models.NotificationTypeForum); n != 2 {
		t.Errorf("forum = %d, want 2", n)
	}

	if _, err := svc.MarkAsRead(ctx, chatIDs[0], "u1"); err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}
	if n, _ := svc.GetUnreadCountByType(ctx, "u1", models.NotificationTypeChat); n != 2 {
		t.Errorf("chat after read = %d, want 2", n)
	}
	if total, _ := svc.GetUnreadCount(ctx, "u1"); total != 4 {
		t.Errorf("total after read = %d, want 4", total)
	}
}

func TestBulkNotificationsPartialFailure(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	// The empty user id fails validation; the others proceed.
	result, err := svc.CreateBulkNotifications(ctx, BulkNotificationInput{
		UserIDs:          []string{"a", "", "c"},
		Type:             "forum_post",
		NotificationType: models.NotificationTypeForum,
		Content:          "new post",
	})
	if err != nil {
		t.Fatalf("CreateBulkNotifications: %v", err)
	}
	if len(result.Created) != 2 {
		t.Errorf("created = %d, want 2", len(result.Created))
	}
	if len(result.Failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(result.Failures))
	}
	if !errors.Is(result.Failures[0].Err, apperr.ErrValidation) {
		t.Errorf("failure err = %v, want VALIDATION", result.Failures[0].Err)
	}

	for _, userID := range []string{"a", "c"} {
		if n, _ := svc.GetUnreadCountByType(ctx, userID, models.NotificationTypeForum); n != 1 {
			t.Errorf("count for %s = %d, want 1", userID, n)
		}
	}
}

func TestSyncAfterDriftRepairsCounter(t *testing.T) {
	notifications := store.NewMemoryNotifications()
	counters := NewMemoryCounterStore()
	svc := NewService(notifications, counters, &recordingPublisher{})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := svc.CreateNotification(ctx, chatInput("u1")); err != nil {
			t.Fatalf("CreateNotification: %v", err)
		}
	}

	// Inject drift: pretend an increment was lost.
	if err := counters.Overwrite(ctx, "u1", Counts{models.NotificationTypeChat: 1}); err != nil {
		t.Fatalf("Overwrite: %v", err)
	}

	counts, err := svc.SyncCountersFromNotifications(ctx, "u1")
	if err != nil {
		t.Fatalf("SyncCountersFromNotifications: %v", err)
	}
	if counts[models.NotificationTypeChat] != 4 {
		t.Errorf("reconciled chat count = %d, want 4", counts[models.NotificationTypeChat])
	}
	if n, _ := svc.GetUnreadCountByType(ctx, "u1", models.NotificationTypeChat); n != 4 {
		t.Errorf("count after sync = %d, want 4", n)
	}
}

func TestListNotificationsPagination(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := svc.CreateNotification(ctx, chatInput("u1")); err != nil {
			t.Fatalf("CreateNotification: %v", err)
		}
	}

	page1, err := svc.ListNotifications(ctx, "u1", "", 2, "")
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if len(page1.Edges) != 2 || !page1.PageInfo.HasNextPage || page1.PageInfo.HasPreviousPage {
		t.Fatalf("page1 = %+v", page1.PageInfo)
	}
	if page1.TotalCount != 5 {
		t.Errorf("totalCount = %d, want 5", page1.TotalCount)
	}

	page2, err := svc.ListNotifications(ctx, "u1", "", 10, page1.PageInfo.EndCursor)
	if err != nil {
		t.Fatalf("ListNotifications page2: %v", err)
	}
	if len(page2.Edges) != 3 || page2.PageInfo.HasNextPage || !page2.PageInfo.HasPreviousPage {
		t.Fatalf("page2 = %d edges, pageInfo %+v", len(page2.Edges), page2.PageInfo)
	}

	if _, err := svc.ListNotifications(ctx, "u1", "", 10, "garbage!!"); !errors.Is(err, apperr.ErrBadCursor) {
		t.Errorf("bad cursor err = %v, want BAD_CURSOR", err)
	}
}

func TestAggregateCounterModeNeverMisses(t *testing.T) {
	notifications := store.NewMemoryNotifications()
	svc := NewService(notifications, NewAggregateCounterStore(notifications), &recordingPublisher{})
	ctx := context.Background()

	// Lazy mode: an uninitialized user reads as zero, not CACHE_MISS.
	total, err := svc.GetUnreadCount(ctx, "u1")
	if err != nil || total != 0 {
		t.Fatalf("aggregate GetUnreadCount = (%d, %v), want (0, nil)", total, err)
	}

	if _, err := svc.CreateNotification(ctx, chatInput("u1")); err != nil {
		t.Fatalf("CreateNotification: %v", err)
	}
	if n, _ := svc.GetUnreadCountByType(ctx, "u1", models.NotificationTypeChat); n != 1 {
		t.Errorf("aggregate chat count = %d, want 1", n)
	}
}
