// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

package events

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/calyxhealth/calyx/internal/bus"
	"github.com/calyxhealth/calyx/internal/logging"
	"github.com/calyxhealth/calyx/internal/mentions"
	"github.com/calyxhealth/calyx/internal/models"
	"github.com/calyxhealth/calyx/internal/notify"
	"github.com/calyxhealth/calyx/internal/store"
)

// milestoneThresholds are the care-plan progress percentages that
// trigger a milestone notification, in ascending order.
var milestoneThresholds = [...]int{25, 50, 75, 100}

const contentPreviewLimit = 120

// Handlers holds the domain event handlers and their collaborators.
type Handlers struct {
	notify    *notify.Service
	groups    store.Groups
	careplans store.CarePlans
	logger    zerolog.Logger
}

// NewHandlers wires the domain event handlers.
func NewHandlers(svc *notify.Service, groups store.Groups, careplans store.CarePlans) *Handlers {
	return &Handlers{
		notify:    svc,
		groups:    groups,
		careplans: careplans,
		logger:    logging.With().Str("component", "events").Logger(),
	}
}

// Register attaches every handler to its domain topic as a bus fan-out.
func (h *Handlers) Register(b *bus.Bus) {
	b.AddFanOut(bus.TopicChatMessageCreated, h.HandleChatMessage)
	b.AddFanOut(bus.TopicForumPostCreated, h.HandleForumPost)
	b.AddFanOut(bus.TopicQuestionnaireAssigned, h.HandleQuestionnaireAssigned)
	b.AddFanOut(bus.TopicQuestionnaireCompleted, h.HandleQuestionnaireCompleted)
	b.AddFanOut(bus.TopicCarePlanUpdated, h.HandleCarePlanProgress)
}

// HandleChatMessage notifies every group member except the sender about
// a new chat message. Mentioned members get a HIGH priority
// notification, the rest MEDIUM. Membership is read fresh at handling
// time, so mentions of non-members are silently dropped.
func (h *Handlers) HandleChatMessage(ctx context.Context, evt *bus.Event) error {
	var e ChatMessageEvent
	if err := evt.Decode(&e); err != nil {
		return fmt.Errorf("decode chat message event: %w", err)
	}
	if err := e.validate(); err != nil {
		return fmt.Errorf("chat message event %s: %w", e.MessageID, err)
	}

	members, err := h.groups.Members(ctx, e.GroupID)
	if err != nil {
		return fmt.Errorf("members of group %s for message %s: %w", e.GroupID, e.MessageID, err)
	}
	mentionedIDs, regularIDs := mentions.Partition(members, e.SenderID, mentions.Extract(e.Content))

	base := notify.BulkNotificationInput{
		NotificationType: models.NotificationTypeChat,
		ActionURL:        "/chats/" + e.GroupID,
		RelatedChatID:    e.GroupID,
		Metadata:         map[string]any{"messageId": e.MessageID, "senderId": e.SenderID},
	}

	mentioned := base
	mentioned.UserIDs = mentionedIDs
	mentioned.Type = "chat_mention"
	mentioned.Priority = models.PriorityHigh
	mentioned.Content = fmt.Sprintf("%s mentioned you: %s", e.SenderName, preview(e.Content))

	regular := base
	regular.UserIDs = regularIDs
	regular.Type = "chat_message"
	regular.Priority = models.PriorityMedium
	regular.Content = fmt.Sprintf("%s: %s", e.SenderName, preview(e.Content))

	return h.createTiers(ctx, "message", e.MessageID, mentioned, regular)
}

// HandleForumPost notifies group members about a new forum post, with
// the same mention tiering as chat messages.
func (h *Handlers) HandleForumPost(ctx context.Context, evt *bus.Event) error {
	var e ForumPostEvent
	if err := evt.Decode(&e); err != nil {
		return fmt.Errorf("decode forum post event: %w", err)
	}
	if err := e.validate(); err != nil {
		return fmt.Errorf("forum post event %s: %w", e.PostID, err)
	}

	members, err := h.groups.Members(ctx, e.GroupID)
	if err != nil {
		return fmt.Errorf("members of group %s for post %s: %w", e.GroupID, e.PostID, err)
	}
	mentionedIDs, regularIDs := mentions.Partition(members, e.AuthorID, mentions.Extract(e.Content))

	base := notify.BulkNotificationInput{
		NotificationType:   models.NotificationTypeForum,
		ActionURL:          "/forum/posts/" + e.PostID,
		RelatedForumPostID: e.PostID,
		Metadata:           map[string]any{"groupId": e.GroupID, "authorId": e.AuthorID},
	}

	mentioned := base
	mentioned.UserIDs = mentionedIDs
	mentioned.Type = "forum_mention"
	mentioned.Priority = models.PriorityHigh
	mentioned.Content = fmt.Sprintf("%s mentioned you in %q", e.AuthorName, e.Title)

	regular := base
	regular.UserIDs = regularIDs
	regular.Type = "forum_post"
	regular.Priority = models.PriorityMedium
	regular.Content = fmt.Sprintf("%s posted %q", e.AuthorName, e.Title)

	return h.createTiers(ctx, "post", e.PostID, mentioned, regular)
}

// createTiers issues one bulk create per non-empty priority tier.
// Per-user failures are already collected and logged by the notify
// service; only a tier-level failure propagates to the bus log.
func (h *Handlers) createTiers(ctx context.Context, entity, entityID string, tiers ...notify.BulkNotificationInput) error {
	for _, tier := range tiers {
		if len(tier.UserIDs) == 0 {
			continue
		}
		result, err := h.notify.CreateBulkNotifications(ctx, tier)
		if err != nil {
			return fmt.Errorf("bulk create %s for %s %s: %w", tier.Type, entity, entityID, err)
		}
		if len(result.Failures) > 0 {
			h.logger.Warn().
				Str(entity+"_id", entityID).
				Str("type", tier.Type).
				Int("failed", len(result.Failures)).
				Int("created", len(result.Created)).
				Msg("bulk notification partially failed")
		}
	}
	return nil
}

// HandleQuestionnaireAssigned notifies the assignee.
func (h *Handlers) HandleQuestionnaireAssigned(ctx context.Context, evt *bus.Event) error {
	var e QuestionnaireEvent
	if err := evt.Decode(&e); err != nil {
		return fmt.Errorf("decode questionnaire event: %w", err)
	}
	if err := e.validate(); err != nil {
		return fmt.Errorf("questionnaire event %s: %w", e.QuestionnaireID, err)
	}

	_, err := h.notify.CreateNotification(ctx, notify.CreateNotificationInput{
		UserID:           e.AssigneeUserID,
		Type:             "questionnaire_assigned",
		NotificationType: models.NotificationTypeCarePlan,
		Priority:         models.PriorityMedium,
		Content:          fmt.Sprintf("You have a new questionnaire: %q", e.Title),
		ActionURL:        "/questionnaires/" + e.QuestionnaireID,
		Metadata:         map[string]any{"questionnaireId": e.QuestionnaireID},
	})
	if err != nil {
		return fmt.Errorf("questionnaire %s assigned notification: %w", e.QuestionnaireID, err)
	}
	return nil
}

// HandleQuestionnaireCompleted notifies the assigning clinician. Events
// without a clinician are valid and produce no notification.
func (h *Handlers) HandleQuestionnaireCompleted(ctx context.Context, evt *bus.Event) error {
	var e QuestionnaireEvent
	if err := evt.Decode(&e); err != nil {
		return fmt.Errorf("decode questionnaire event: %w", err)
	}
	if err := e.validate(); err != nil {
		return fmt.Errorf("questionnaire event %s: %w", e.QuestionnaireID, err)
	}
	if e.ClinicianUserID == "" {
		return nil
	}

	_, err := h.notify.CreateNotification(ctx, notify.CreateNotificationInput{
		UserID:           e.ClinicianUserID,
		Type:             "questionnaire_completed",
		NotificationType: models.NotificationTypeCarePlan,
		Priority:         models.PriorityMedium,
		Content:          fmt.Sprintf("Questionnaire %q has been completed", e.Title),
		ActionURL:        "/questionnaires/" + e.QuestionnaireID,
		Metadata:         map[string]any{"questionnaireId": e.QuestionnaireID, "assigneeUserId": e.AssigneeUserID},
	})
	if err != nil {
		return fmt.Errorf("questionnaire %s completed notification: %w", e.QuestionnaireID, err)
	}
	return nil
}

// HandleCarePlanProgress fires at most one milestone notification per
// progress update: the lowest threshold newly crossed and not yet
// notified. Crossing several thresholds in one jump notifies only the
// lowest; the rest fire on subsequent updates.
func (h *Handlers) HandleCarePlanProgress(ctx context.Context, evt *bus.Event) error {
	var e CarePlanProgressEvent
	if err := evt.Decode(&e); err != nil {
		return fmt.Errorf("decode care plan event: %w", err)
	}
	if err := e.validate(); err != nil {
		return fmt.Errorf("care plan event %s: %w", e.CarePlanID, err)
	}

	plan, err := h.careplans.Get(ctx, e.CarePlanID)
	if err != nil {
		return fmt.Errorf("load care plan %s: %w", e.CarePlanID, err)
	}

	milestone := nextMilestone(e.PreviousScore, e.NewScore, plan.LastNotifiedMilestone)
	if milestone == 0 {
		return nil
	}

	priority := models.PriorityMedium
	if milestone == 100 {
		priority = models.PriorityHigh
	}

	_, err = h.notify.CreateNotification(ctx, notify.CreateNotificationInput{
		UserID:            plan.OwnerUserID,
		Type:              "care_plan_milestone",
		NotificationType:  models.NotificationTypeCarePlan,
		Priority:          priority,
		Content:           fmt.Sprintf("Your care plan %q reached %d%% completion", e.Title, milestone),
		ActionURL:         "/care-plans/" + e.CarePlanID,
		Metadata:          map[string]any{"milestone": milestone, "newScore": e.NewScore},
		RelatedCarePlanID: e.CarePlanID,
	})
	if err != nil {
		return fmt.Errorf("care plan %s milestone notification: %w", e.CarePlanID, err)
	}

	if err := h.careplans.SetLastNotifiedMilestone(ctx, e.CarePlanID, milestone); err != nil {
		return fmt.Errorf("persist milestone %d for care plan %s: %w", milestone, e.CarePlanID, err)
	}
	return nil
}

// nextMilestone returns the lowest threshold crossed by the score
// change and not yet notified, or 0 when no milestone fires.
func nextMilestone(previousScore, newScore, lastNotified int) int {
	for _, t := range milestoneThresholds {
		if previousScore < t && t <= newScore && lastNotified < t {
			return t
		}
	}
	return 0
}

// preview truncates message content for notification bodies.
func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= contentPreviewLimit {
		return text
	}
	return string(runes[:contentPreviewLimit]) + "…"
}
