// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

package realtime

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/calyxhealth/calyx/internal/apperr"
	"github.com/calyxhealth/calyx/internal/logging"
	"github.com/calyxhealth/calyx/internal/subscriptions"
)

// Handshake close reasons. Three distinct observable failures so a
// misbehaving client can be diagnosed from the close frame alone.
const (
	closeReasonMissingToken  = "missing token"
	closeReasonInvalidToken  = "invalid or expired token"
	closeReasonSessionLookup = "session lookup failed"
)

// Handler upgrades HTTP requests to authenticated websocket clients.
// A connection failing the handshake is closed with a policy-violation
// frame and never enters the registry.
type Handler struct {
	hub      *Hub
	auth     *Authenticator
	upgrader websocket.Upgrader
}

// NewHandler wires the websocket endpoint. checkOrigin may be nil to
// accept any origin (same-origin enforcement belongs to the proxy in
// front).
func NewHandler(hub *Hub, auth *Authenticator, checkOrigin func(*http.Request) bool) *Handler {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		hub:  hub,
		auth: auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// ServeHTTP performs the handshake: upgrade, authenticate, register.
// The upgrade happens first so auth failures can be reported in a close
// frame rather than an opaque HTTP error.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	token := bearerToken(r)
	if token == "" {
		closeWithReason(conn, closeReasonMissingToken)
		return
	}

	userID, sessionID, err := h.auth.Authenticate(r.Context(), token)
	if err != nil {
		reason := closeReasonSessionLookup
		if errors.Is(err, apperr.ErrUnauthenticated) {
			reason = closeReasonInvalidToken
		}
		logging.Warn().
			Err(err).
			Str("remote", r.RemoteAddr).
			Str("reason", reason).
			Msg("websocket handshake rejected")
		closeWithReason(conn, reason)
		return
	}

	client := NewClient(h.hub, conn, subscriptions.Subscription{
		UserID:    userID,
		SessionID: sessionID,
		Variables: subscriptionVariables(r),
	})
	h.hub.register(client)
	client.Start()
}

// bearerToken extracts the credential from the token query parameter or
// the Authorization header. Browsers cannot set headers on websocket
// dials, so the query parameter is the primary path.
func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	auth := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return after
	}
	return ""
}

// subscriptionVariables lifts filter variables off the query string.
func subscriptionVariables(r *http.Request) map[string]string {
	vars := make(map[string]string)
	if userID := r.URL.Query().Get("userId"); userID != "" {
		vars["userId"] = userID
	}
	return vars
}

// closeWithReason sends a policy-violation close frame and drops the
// connection.
func closeWithReason(conn *websocket.Conn, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
	_ = conn.Close()
}
