// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

// Package events translates domain events into notification creation.
//
// Handlers run as bus fan-outs: fire-and-forget from the publisher's
// perspective. A failing handler is logged with the originating event's
// identifying fields and never retried; the originating domain action
// (sending the message, updating the plan) has already succeeded and
// stays successful. Event payloads arrive denormalized: the producer
// embeds the display fields the notification needs, and handlers never
// re-fetch referenced entities for content. Membership, by contrast, is
// always looked up fresh at handling time.
package events

import "github.com/calyxhealth/calyx/internal/apperr"

// ChatMessageEvent is the payload on TopicChatMessageCreated.
type ChatMessageEvent struct {
	MessageID  string `json:"messageId"`
	GroupID    string `json:"groupId"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
}

func (e *ChatMessageEvent) validate() error {
	switch {
	case e.MessageID == "":
		return apperr.Validation("messageId", "is required")
	case e.GroupID == "":
		return apperr.Validation("groupId", "is required")
	case e.SenderID == "":
		return apperr.Validation("senderId", "is required")
	}
	return nil
}

// ForumPostEvent is the payload on TopicForumPostCreated.
type ForumPostEvent struct {
	PostID     string `json:"postId"`
	GroupID    string `json:"groupId"`
	AuthorID   string `json:"authorId"`
	AuthorName string `json:"authorName"`
	Title      string `json:"title"`
	Content    string `json:"content"`
}

func (e *ForumPostEvent) validate() error {
	switch {
	case e.PostID == "":
		return apperr.Validation("postId", "is required")
	case e.GroupID == "":
		return apperr.Validation("groupId", "is required")
	case e.AuthorID == "":
		return apperr.Validation("authorId", "is required")
	}
	return nil
}

// QuestionnaireEvent is the payload on TopicQuestionnaireAssigned and
// TopicQuestionnaireCompleted. ClinicianUserID is the assigning
// clinician, notified on completion.
type QuestionnaireEvent struct {
	QuestionnaireID string `json:"questionnaireId"`
	Title           string `json:"title"`
	AssigneeUserID  string `json:"assigneeUserId"`
	ClinicianUserID string `json:"clinicianUserId"`
}

func (e *QuestionnaireEvent) validate() error {
	switch {
	case e.QuestionnaireID == "":
		return apperr.Validation("questionnaireId", "is required")
	case e.AssigneeUserID == "":
		return apperr.Validation("assigneeUserId", "is required")
	}
	return nil
}

// CarePlanProgressEvent is the payload on TopicCarePlanUpdated. Scores
// are percentages in [0, 100].
type CarePlanProgressEvent struct {
	CarePlanID    string `json:"carePlanId"`
	Title         string `json:"title"`
	PreviousScore int    `json:"previousScore"`
	NewScore      int    `json:"newScore"`
}

func (e *CarePlanProgressEvent) validate() error {
	if e.CarePlanID == "" {
		return apperr.Validation("carePlanId", "is required")
	}
	if e.NewScore < 0 || e.NewScore > 100 {
		return apperr.Validation("newScore", "must be between 0 and 100")
	}
	return nil
}
