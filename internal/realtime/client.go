// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

package realtime

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/calyxhealth/calyx/internal/bus"
	"github.com/calyxhealth/calyx/internal/logging"
	"github.com/calyxhealth/calyx/internal/subscriptions"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // 64 KB

	sendBufferSize = 256

	// Inbound frame rate limit per connection. Typing indicators are the
	// chattiest legitimate traffic; anything past this is abuse or a bug.
	inboundRate  = rate.Limit(20)
	inboundBurst = 40
)

// clientIDCounter hands out stable per-process client ids for logs.
var clientIDCounter atomic.Uint64

// Client is the middleman between one websocket connection and the hub.
// Its rooms map is guarded by the hub mutex; the client itself only
// reads sub, conn, and the channels.
type Client struct {
	id      uint64
	hub     *Hub
	conn    *websocket.Conn
	send    chan Message
	sub     subscriptions.Subscription
	limiter *rate.Limiter
	rooms   map[string]struct{}
}

// NewClient wraps an authenticated connection.
func NewClient(hub *Hub, conn *websocket.Conn, sub subscriptions.Subscription) *Client {
	return &Client{
		id:      clientIDCounter.Add(1),
		hub:     hub,
		conn:    conn,
		send:    make(chan Message, sendBufferSize),
		sub:     sub,
		limiter: rate.NewLimiter(inboundRate, inboundBurst),
		rooms:   make(map[string]struct{}),
	}
}

// Start begins the read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump consumes client frames until the connection drops, then
// unregisters. Frames past the rate limit are dropped, not fatal.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame ClientFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Uint64("client_id", c.id).Msg("unexpected websocket close")
			}
			return
		}
		if !c.limiter.Allow() {
			logging.Warn().
				Uint64("client_id", c.id).
				Str("user_id", c.sub.UserID).
				Str("frame_type", frame.Type).
				Msg("inbound frame rate limit exceeded, dropping frame")
			continue
		}
		c.handleFrame(frame)
	}
}

// handleFrame dispatches one inbound frame.
func (c *Client) handleFrame(frame ClientFrame) {
	switch frame.Type {
	case MessageTypeJoinRoom:
		if frame.RoomID != "" {
			c.hub.joinRoom(c, frame.RoomID)
		}
	case MessageTypeLeaveRoom:
		if frame.RoomID != "" {
			c.hub.leaveRoom(c, frame.RoomID)
		}
	case MessageTypeTyping:
		c.publishTyping(frame.RoomID)
	case MessageTypePing:
		select {
		case c.send <- Message{Type: MessageTypePong}:
		default:
		}
	default:
		logging.Debug().
			Uint64("client_id", c.id).
			Str("frame_type", frame.Type).
			Msg("ignoring unknown client frame")
	}
}

// publishTyping puts the typing state on the bus, where the bridge
// fans it back out to the room through the subscription filters. The
// client must have joined the room first.
func (c *Client) publishTyping(roomID string) {
	if roomID == "" || c.hub.publisher == nil || !c.hub.inRoom(c, roomID) {
		return
	}
	indicator := TypingIndicator{GroupID: roomID, UserID: c.sub.UserID, Typing: true}
	if err := c.hub.publisher.Publish(context.Background(), bus.TopicTypingIndicator, indicator); err != nil {
		logging.Error().
			Err(err).
			Str("user_id", c.sub.UserID).
			Str("room_id", roomID).
			Msg("typing indicator publish failed")
	}
}

// writePump pushes hub messages and pings to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutting down"))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				logging.Error().Err(err).Uint64("client_id", c.id).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
