// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

package realtime

// Server-to-client and client-to-server websocket message types.
const (
	MessageTypeNotificationCreated = "NOTIFICATION_CREATED"
	MessageTypeUnreadCountChanged  = "UNREAD_COUNT_CHANGED"
	MessageTypeTypingIndicator     = "TYPING_INDICATOR"
	MessageTypeUserStatusChanged   = "USER_STATUS_CHANGED"
	MessageTypeAISessionMessage    = "AI_SESSION_MESSAGE"

	MessageTypeJoinRoom  = "JOIN_ROOM"
	MessageTypeLeaveRoom = "LEAVE_ROOM"
	MessageTypeTyping    = "TYPING"
	MessageTypePing      = "PING"
	MessageTypePong      = "PONG"
)

// Message is the websocket frame envelope in both directions.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// ClientFrame is an inbound frame from a connected client. Room and
// group ids coincide: a chat group's room carries its live traffic.
type ClientFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId,omitempty"`
}

// TypingIndicator is the bus payload for transient typing state.
type TypingIndicator struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
	Typing  bool   `json:"typing"`
}

// UserStatus is the bus payload for presence flips.
type UserStatus struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}
