// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

package realtime

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/calyxhealth/calyx/internal/bus"
	"github.com/calyxhealth/calyx/internal/logging"
	"github.com/calyxhealth/calyx/internal/metrics"
	"github.com/calyxhealth/calyx/internal/subscriptions"
)

// Publisher is the slice of the bus the hub needs for presence and
// typing events.
type Publisher interface {
	Publish(ctx context.Context, topic bus.Topic, payload any) error
}

// Hub is the connection and presence registry. It tracks every live
// client, the per-user connection sets (multi-device), and a derived
// room index. The hub's maps are the sole shared mutable state; all
// mutation goes through the hub mutex.
//
// The room index is a performance cache over authoritative group
// membership, rebuilt implicitly as clients join and leave; entries are
// pruned as soon as a room has no live connections.
type Hub struct {
	publisher Publisher
	filters   *subscriptions.Registry
	logger    zerolog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
	byUser  map[string]map[*Client]struct{}
	rooms   map[string]map[string]int // roomID -> userID -> live connection count
}

// NewHub wires the registry. filters may be nil, which delivers room
// and broadcast traffic unfiltered.
func NewHub(publisher Publisher, filters *subscriptions.Registry) *Hub {
	return &Hub{
		publisher: publisher,
		filters:   filters,
		logger:    logging.With().Str("component", "realtime-hub").Logger(),
		clients:   make(map[*Client]struct{}),
		byUser:    make(map[string]map[*Client]struct{}),
		rooms:     make(map[string]map[string]int),
	}
}

// String identifies the hub in supervisor logs.
func (h *Hub) String() string { return "realtime-hub" }

// Serve blocks until the context is canceled, then closes every live
// client. Designed for suture supervision; a restart begins with an
// empty registry and clients reconnect.
func (h *Hub) Serve(ctx context.Context) error {
	<-ctx.Done()
	closed := h.closeAll()
	h.logger.Info().Int("clients_closed", closed).Msg("realtime hub stopped")
	return ctx.Err()
}

// register adds an authenticated client. The first connection for a
// user flips them online and broadcasts the presence change.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	set, existed := h.byUser[c.sub.UserID]
	if !existed {
		set = make(map[*Client]struct{})
		h.byUser[c.sub.UserID] = set
	}
	set[c] = struct{}{}
	total := len(h.clients)
	online := len(h.byUser)
	h.mu.Unlock()

	metrics.WebsocketConnections.Set(float64(total))
	metrics.WebsocketUsersOnline.Set(float64(online))
	h.logger.Info().
		Str("user_id", c.sub.UserID).
		Int("total_clients", total).
		Msg("client connected")

	if !existed {
		h.publishPresence(c.sub.UserID, true)
	}
}

// unregister removes a client and its room tracking. Only when the
// user's last connection goes does the user flip offline; multi-device
// users stay online while any device remains connected.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)

	for roomID := range c.rooms {
		h.dropFromRoom(roomID, c.sub.UserID)
	}
	c.rooms = nil

	lastConnection := false
	if set, ok := h.byUser[c.sub.UserID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byUser, c.sub.UserID)
			lastConnection = true
		}
	}
	total := len(h.clients)
	online := len(h.byUser)
	h.mu.Unlock()

	metrics.WebsocketConnections.Set(float64(total))
	metrics.WebsocketUsersOnline.Set(float64(online))
	h.logger.Info().
		Str("user_id", c.sub.UserID).
		Int("total_clients", total).
		Msg("client disconnected")

	if lastConnection {
		h.publishPresence(c.sub.UserID, false)
	}
}

// dropFromRoom decrements the room index entry, pruning empty entries.
// Caller holds h.mu.
func (h *Hub) dropFromRoom(roomID, userID string) {
	room, ok := h.rooms[roomID]
	if !ok {
		return
	}
	room[userID]--
	if room[userID] <= 0 {
		delete(room, userID)
	}
	if len(room) == 0 {
		delete(h.rooms, roomID)
	}
}

// joinRoom adds the client to room tracking. Idempotent per client; a
// client may join many rooms.
func (h *Hub) joinRoom(c *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	if _, ok := c.rooms[roomID]; ok {
		return
	}
	c.rooms[roomID] = struct{}{}
	room, ok := h.rooms[roomID]
	if !ok {
		room = make(map[string]int)
		h.rooms[roomID] = room
	}
	room[c.sub.UserID]++
}

// leaveRoom removes the client from room tracking, pruning the room
// entry when its tracked membership becomes empty.
func (h *Hub) leaveRoom(c *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := c.rooms[roomID]; !ok {
		return
	}
	delete(c.rooms, roomID)
	h.dropFromRoom(roomID, c.sub.UserID)
}

// inRoom reports whether the client currently tracks the room.
func (h *Hub) inRoom(c *Client, roomID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.rooms[roomID]
	return ok
}

// EmitToUser delivers to every live connection owned by the user.
// Silently no-ops for offline users; the persisted notification remains
// their durable record.
// Sends happen under the read lock so a concurrent unregister cannot
// close a send channel mid-delivery; deliver never blocks, so the lock
// is held only briefly.
func (h *Hub) EmitToUser(userID string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byUser[userID] {
		h.deliver(c, msg)
	}
}

// EmitToRoom delivers to every connection of every user tracked in the
// room, authorizing each subscriber against the originating event.
func (h *Hub) EmitToRoom(ctx context.Context, roomID string, msg Message, evt *bus.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for userID := range h.rooms[roomID] {
		for c := range h.byUser[userID] {
			if _, ok := c.rooms[roomID]; !ok {
				continue
			}
			if h.allowed(ctx, c, evt) {
				h.deliver(c, msg)
			}
		}
	}
}

// Broadcast delivers to every live connection, authorizing each
// subscriber against the originating event.
func (h *Hub) Broadcast(ctx context.Context, msg Message, evt *bus.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if h.allowed(ctx, c, evt) {
			h.deliver(c, msg)
		}
	}
}

// allowed evaluates the per-event subscription filter. Fails closed on
// filter errors.
func (h *Hub) allowed(ctx context.Context, c *Client, evt *bus.Event) bool {
	if h.filters == nil || evt == nil {
		return true
	}
	ok, err := h.filters.Allow(ctx, c.sub, evt)
	if err != nil {
		h.logger.Warn().
			Err(err).
			Str("topic", string(evt.Topic)).
			Str("user_id", c.sub.UserID).
			Msg("subscription filter error, withholding event")
		metrics.SubscriptionDenials.WithLabelValues(string(evt.Topic)).Inc()
		return false
	}
	if !ok {
		metrics.SubscriptionDenials.WithLabelValues(string(evt.Topic)).Inc()
	}
	return ok
}

// deliver sends without blocking. A client whose send buffer is full
// drops the message; the durable notification row is the fallback.
func (h *Hub) deliver(c *Client, msg Message) {
	select {
	case c.send <- msg:
	default:
		h.logger.Warn().
			Str("user_id", c.sub.UserID).
			Str("message_type", msg.Type).
			Msg("client send buffer full, dropping message")
	}
}

// OnlineUsers returns the users with at least one live connection.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	users := make([]string, 0, len(h.byUser))
	for userID := range h.byUser {
		users = append(users, userID)
	}
	return users
}

// UserOnline reports whether the user has any live connection.
func (h *Hub) UserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.byUser[userID]
	return ok
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomUserCount returns the number of users tracked in a room.
func (h *Hub) RoomUserCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// publishPresence broadcasts a presence flip. Detached from any request
// context: presence outlives the connection that triggered it.
func (h *Hub) publishPresence(userID string, online bool) {
	if h.publisher == nil {
		return
	}
	status := UserStatus{UserID: userID, Online: online}
	if err := h.publisher.Publish(context.Background(), bus.TopicUserStatusChanged, status); err != nil {
		h.logger.Error().
			Err(err).
			Str("user_id", userID).
			Bool("online", online).
			Msg("presence publish failed")
	}
}

// closeAll tears down every client, returning how many were closed.
func (h *Hub) closeAll() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.clients)
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.byUser = make(map[string]map[*Client]struct{})
	h.rooms = make(map[string]map[string]int)
	metrics.WebsocketConnections.Set(0)
	metrics.WebsocketUsersOnline.Set(0)
	return n
}
