// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

package realtime

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"github.com/calyxhealth/calyx/internal/apperr"
	"github.com/calyxhealth/calyx/internal/store"
)

// tokenClaims is the JWT claim set the handshake expects. The token
// binds to a server-side session via the sid claim; the session, not
// the token, is the source of truth for the user id.
type tokenClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Authenticator validates handshake credentials: a signed token
// resolving to a live session.
type Authenticator struct {
	secret   []byte
	sessions store.Sessions
}

// NewAuthenticator wires handshake authentication.
func NewAuthenticator(secret []byte, sessions store.Sessions) *Authenticator {
	return &Authenticator{secret: secret, sessions: sessions}
}

// Authenticate verifies the token signature and resolves its session.
// Returns UNAUTHENTICATED for a bad or expired token or an unknown
// session; any other error means the session lookup itself failed.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (userID, sessionID string, err error) {
	claims := &tokenClaims{}
	_, err = jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		return "", "", apperr.Unauthenticated("invalid or expired token")
	}
	if claims.SessionID == "" {
		return "", "", apperr.Unauthenticated("token carries no session")
	}

	userID, err = a.sessions.Resolve(ctx, claims.SessionID)
	if err != nil {
		return "", "", err
	}
	return userID, claims.SessionID, nil
}
