// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

// Package notify is the single source of truth for creating
// notifications and keeping per-user unread counters consistent.
//
// Ordering contract for CreateNotification: the row write comes first;
// the counter increment happens-after the write succeeds and is
// attempted even when the subsequent publish fails; increment and
// publish failures are logged, never surfaced to the caller. The system
// favors "notification exists, counter briefly stale" over failing the
// create because an unrelated counter write failed. Reconciliation
// repairs drift.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/calyxhealth/calyx/internal/apperr"
	"github.com/calyxhealth/calyx/internal/bus"
	"github.com/calyxhealth/calyx/internal/logging"
	"github.com/calyxhealth/calyx/internal/metrics"
	"github.com/calyxhealth/calyx/internal/models"
	"github.com/calyxhealth/calyx/internal/store"
)

// Publisher is the slice of the bus the service needs. Narrowed for
// testability.
type Publisher interface {
	Publish(ctx context.Context, topic bus.Topic, payload any) error
}

// UnreadCountChange is the payload carried on TopicUnreadCountChanged.
// It carries absolute values so clients render exact badge counts
// without tracking deltas.
type UnreadCountChange struct {
	UserID string `json:"userId"`
	Total  int    `json:"total"`
	ByType Counts `json:"byType"`
}

// CreateNotificationInput is the validated input to CreateNotification.
type CreateNotificationInput struct {
	UserID           string                  `validate:"required"`
	Type             string                  `validate:"required"`
	NotificationType models.NotificationType `validate:"required"`
	Priority         models.Priority         // defaults to MEDIUM
	Content          string                  `validate:"required"`
	ActionURL        string
	Metadata         map[string]any

	RelatedCarePlanID  string
	RelatedChatID      string
	RelatedForumPostID string
}

// BulkNotificationInput fans one notification template out to many users.
type BulkNotificationInput struct {
	UserIDs          []string
	Type             string
	NotificationType models.NotificationType
	Priority         models.Priority
	Content          string
	ActionURL        string
	Metadata         map[string]any

	RelatedCarePlanID  string
	RelatedChatID      string
	RelatedForumPostID string
}

// BulkFailure records one user whose notification could not be created.
type BulkFailure struct {
	UserID string
	Err    error
}

// BulkResult holds per-user outcomes of a bulk create. Failures are
// collected rather than silently dropped; one user's failure never
// blocks the rest.
type BulkResult struct {
	Created  []*models.Notification
	Failures []BulkFailure
}

// Service implements the notification store and counter engine.
type Service struct {
	notifications store.Notifications
	counters      CounterStore
	publisher     Publisher
	validate      *validator.Validate
	logger        zerolog.Logger
	now           func() time.Time
}

// NewService wires the notification service. publisher may be nil in
// tests that only exercise persistence and counters.
func NewService(notifications store.Notifications, counters CounterStore, publisher Publisher) *Service {
	return &Service{
		notifications: notifications,
		counters:      counters,
		publisher:     publisher,
		validate:      validator.New(),
		logger:        logging.With().Str("component", "notify").Logger(),
		now:           time.Now,
	}
}

// validateInput maps the first validator failure onto a VALIDATION
// error naming the offending field in its wire spelling.
func (s *Service) validateInput(in *CreateNotificationInput) error {
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperr.Validation(wireField(verrs[0].Field()), "is required")
		}
		return apperr.Validation("", err.Error())
	}
	if !in.NotificationType.Valid() {
		return apperr.Validation("notificationType", fmt.Sprintf("unknown value %q", in.NotificationType))
	}
	if in.Priority != "" && !in.Priority.Valid() {
		return apperr.Validation("priority", fmt.Sprintf("unknown value %q", in.Priority))
	}
	return nil
}

// wireField converts a Go struct field name to its wire spelling
// (UserID -> userId, NotificationType -> notificationType).
func wireField(name string) string {
	if name == "" {
		return name
	}
	if strings.HasSuffix(name, "ID") {
		name = name[:len(name)-2] + "Id"
	}
	return strings.ToLower(name[:1]) + name[1:]
}

// CreateNotification validates, persists, increments counters, and
// publishes. Only validation and persistence failures reach the caller.
func (s *Service) CreateNotification(ctx context.Context, in CreateNotificationInput) (*models.Notification, error) {
	if err := s.validateInput(&in); err != nil {
		return nil, err
	}

	priority := in.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}

	n := &models.Notification{
		ID:                 uuid.New().String(),
		UserID:             in.UserID,
		Type:               in.Type,
		NotificationType:   in.NotificationType,
		Priority:           priority,
		Content:            in.Content,
		ActionURL:          in.ActionURL,
		Metadata:           in.Metadata,
		CreatedAt:          s.now().UTC(),
		RelatedCarePlanID:  in.RelatedCarePlanID,
		RelatedChatID:      in.RelatedChatID,
		RelatedForumPostID: in.RelatedForumPostID,
	}

	if err := s.notifications.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("persist notification: %w", err)
	}
	metrics.NotificationsCreated.WithLabelValues(string(n.NotificationType), string(n.Priority)).Inc()

	// Counter increment happens-after the persisted write. A failure
	// here leaves a logged inconsistency for reconciliation to repair;
	// it does not fail the create.
	err := s.counters.Increment(ctx, n.UserID, n.NotificationType)
	metrics.RecordCounterOp("increment", err)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("user_id", n.UserID).
			Str("notification_id", n.ID).
			Str("notification_type", string(n.NotificationType)).
			Msg("counter increment failed after persisted write")
	}

	s.publishCreated(ctx, n)
	s.publishCountChange(ctx, n.UserID)
	return n, nil
}

func (s *Service) publishCreated(ctx context.Context, n *models.Notification) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, bus.TopicNotificationCreated, n); err != nil {
		s.logger.Error().
			Err(err).
			Str("notification_id", n.ID).
			Str("user_id", n.UserID).
			Msg("notification-created publish failed")
	}
}

// publishCountChange emits the user's current totals. Skipped when the
// counters cannot be read; the client's next full fetch will catch up.
func (s *Service) publishCountChange(ctx context.Context, userID string) {
	if s.publisher == nil {
		return
	}
	counts, err := s.counters.Get(ctx, userID)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("user_id", userID).
			Msg("skipping unread-count publish, counters unreadable")
		return
	}
	change := UnreadCountChange{UserID: userID, Total: counts.Total(), ByType: counts}
	if err := s.publisher.Publish(ctx, bus.TopicUnreadCountChanged, change); err != nil {
		s.logger.Error().
			Err(err).
			Str("user_id", userID).
			Msg("unread-count publish failed")
	}
}

// CreateBulkNotifications applies CreateNotification once per target
// user. Calls are independent; failures are collected and logged, and
// the successful results are always returned.
func (s *Service) CreateBulkNotifications(ctx context.Context, in BulkNotificationInput) (*BulkResult, error) {
	result := &BulkResult{}
	for _, userID := range in.UserIDs {
		n, err := s.CreateNotification(ctx, CreateNotificationInput{
			UserID:             userID,
			Type:               in.Type,
			NotificationType:   in.NotificationType,
			Priority:           in.Priority,
			Content:            in.Content,
			ActionURL:          in.ActionURL,
			Metadata:           in.Metadata,
			RelatedCarePlanID:  in.RelatedCarePlanID,
			RelatedChatID:      in.RelatedChatID,
			RelatedForumPostID: in.RelatedForumPostID,
		})
		if err != nil {
			s.logger.Error().
				Err(err).
				Str("user_id", userID).
				Str("type", in.Type).
				Msg("bulk notification failed for user")
			result.Failures = append(result.Failures, BulkFailure{UserID: userID, Err: err})
			continue
		}
		result.Created = append(result.Created, n)
	}
	return result, nil
}

// MarkAsRead transitions a notification to read. Idempotent: a second
// call succeeds without touching the counter again. The false-to-true
// transition is a compare-and-set inside the store, so concurrent
// calls on the same notification decrement the counter exactly once.
// A notification owned by another user reads as NOT_FOUND so ids
// cannot be probed.
func (s *Service) MarkAsRead(ctx context.Context, notificationID, userID string) (*models.Notification, error) {
	n, transitioned, err := s.notifications.MarkRead(ctx, notificationID, userID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if !transitioned {
		return n, nil
	}

	err = s.counters.Decrement(ctx, userID, n.NotificationType)
	metrics.RecordCounterOp("decrement", err)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("user_id", userID).
			Str("notification_id", n.ID).
			Msg("counter decrement failed after read transition")
	}

	s.publishCountChange(ctx, userID)
	return n, nil
}

// MarkAllAsRead transitions every unread row for the user and resets
// counters to zero in one logical step. Safe with zero unread rows.
// Returns the number of rows transitioned.
func (s *Service) MarkAllAsRead(ctx context.Context, userID string) (int, error) {
	transitioned, err := s.notifications.MarkAllRead(ctx, userID, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}

	err = s.counters.Overwrite(ctx, userID, Counts{})
	metrics.RecordCounterOp("reset", err)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("user_id", userID).
			Msg("counter reset failed after mark-all-read")
	}

	s.publishCountChange(ctx, userID)
	return transitioned, nil
}

// GetUnreadCount returns the user's total unread count. In strict
// counter mode a user with no entry yields CACHE_MISS; callers should
// trigger SyncCountersFromNotifications and retry.
func (s *Service) GetUnreadCount(ctx context.Context, userID string) (int, error) {
	counts, err := s.counters.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	return counts.Total(), nil
}

// GetUnreadCountByType returns the unread count for one type.
func (s *Service) GetUnreadCountByType(ctx context.Context, userID string, t models.NotificationType) (int, error) {
	if !t.Valid() {
		return 0, apperr.Validation("notificationType", fmt.Sprintf("unknown value %q", t))
	}
	counts, err := s.counters.Get(ctx, userID)
	if err != nil {
		return 0, err
	}
	return counts[t], nil
}

// SyncCountersFromNotifications recomputes the user's counters from the
// authoritative notification rows and overwrites the counter store.
// Idempotent. Safe to run concurrently with live increments, with a
// known weakness: a counter written concurrently may be briefly
// overwritten by a stale reconciliation value until the next sync.
func (s *Service) SyncCountersFromNotifications(ctx context.Context, userID string) (Counts, error) {
	unread := false
	counts := make(Counts, len(models.NotificationTypes))
	for _, t := range models.NotificationTypes {
		n, err := s.notifications.Count(ctx, store.NotificationFilter{
			UserID:           userID,
			NotificationType: t,
			Read:             &unread,
		})
		if err != nil {
			return nil, fmt.Errorf("count %s notifications: %w", t, err)
		}
		counts[t] = n
	}

	if err := s.counters.Overwrite(ctx, userID, counts); err != nil {
		return nil, fmt.Errorf("overwrite counters: %w", err)
	}
	return counts, nil
}

// ListNotifications returns a page of the user's notifications, newest
// first, in the standard pagination envelope.
func (s *Service) ListNotifications(ctx context.Context, userID string, t models.NotificationType, first int, after string) (*models.Page[*models.Notification], error) {
	if first <= 0 {
		first = 20
	}

	afterID := ""
	if after != "" {
		id, err := models.DecodeCursor(after)
		if err != nil {
			return nil, err
		}
		afterID = id
	}

	filter := store.NotificationFilter{UserID: userID, NotificationType: t}
	rows, err := s.notifications.List(ctx, filter, afterID, first+1)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	total, err := s.notifications.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count notifications: %w", err)
	}

	hasNext := len(rows) > first
	if hasNext {
		rows = rows[:first]
	}

	page := &models.Page[*models.Notification]{TotalCount: total}
	for _, n := range rows {
		page.Edges = append(page.Edges, models.Edge[*models.Notification]{
			Node:   n,
			Cursor: models.EncodeCursor(n.ID),
		})
	}
	page.PageInfo = models.PageInfo{
		HasNextPage:     hasNext,
		HasPreviousPage: after != "",
	}
	if len(page.Edges) > 0 {
		page.PageInfo.StartCursor = page.Edges[0].Cursor
		page.PageInfo.EndCursor = page.Edges[len(page.Edges)-1].Cursor
	}
	return page, nil
}
