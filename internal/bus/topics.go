// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

package bus

// Topic is a named bus channel. Topics are process-wide static
// constants with no lifecycle beyond process start.
type Topic string

const (
	// TopicNotificationCreated fires after a notification row is persisted.
	TopicNotificationCreated Topic = "notification.created"

	// TopicUnreadCountChanged carries a user's current unread totals
	// (absolute values, not deltas) after any counter mutation.
	TopicUnreadCountChanged Topic = "unread_count.changed"

	// TopicChatMessageCreated is published by the chat collaborator when
	// a message is persisted.
	TopicChatMessageCreated Topic = "chat.message.created"

	// TopicForumPostCreated is published by the forum collaborator when
	// a post is persisted.
	TopicForumPostCreated Topic = "forum.post.created"

	// TopicQuestionnaireAssigned fires when a questionnaire is assigned
	// to a patient.
	TopicQuestionnaireAssigned Topic = "questionnaire.assigned"

	// TopicQuestionnaireCompleted fires when a patient completes a
	// questionnaire.
	TopicQuestionnaireCompleted Topic = "questionnaire.completed"

	// TopicCarePlanUpdated fires on care-plan progress updates.
	TopicCarePlanUpdated Topic = "care_plan.updated"

	// TopicTypingIndicator carries transient typing state for a chat
	// group. Never persisted.
	TopicTypingIndicator Topic = "typing.indicator"

	// TopicUserStatusChanged fires when a user's presence flips between
	// online and offline.
	TopicUserStatusChanged Topic = "user.status.changed"

	// TopicAISessionMessage carries streamed messages for an AI chat
	// session. Delivered only to the session's owner.
	TopicAISessionMessage Topic = "ai_session.message"
)
