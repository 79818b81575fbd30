// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

package models

import (
	"encoding/base64"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/calyxhealth/calyx/internal/apperr"
)

// Edge pairs a node with the opaque cursor identifying its position.
type Edge[T any] struct {
	Node   T      `json:"node"`
	Cursor string `json:"cursor"`
}

// PageInfo describes the boundaries of a page for cursor pagination.
type PageInfo struct {
	HasNextPage     bool   `json:"hasNextPage"`
	HasPreviousPage bool   `json:"hasPreviousPage"`
	StartCursor     string `json:"startCursor,omitempty"`
	EndCursor       string `json:"endCursor,omitempty"`
}

// Page is the pagination envelope returned by list operations.
type Page[T any] struct {
	Edges      []Edge[T] `json:"edges"`
	PageInfo   PageInfo  `json:"pageInfo"`
	TotalCount int       `json:"totalCount"`
}

// cursorPayload is the structured identifier behind the opaque cursor.
type cursorPayload struct {
	ID string `json:"id"`
}

// EncodeCursor produces an opaque cursor from a row identifier.
func EncodeCursor(id string) string {
	raw, _ := json.Marshal(cursorPayload{ID: id})
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeCursor reverses EncodeCursor. Invalid input fails with a
// BAD_CURSOR error.
func DecodeCursor(cursor string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return "", apperr.BadCursor(fmt.Errorf("base64 decode: %w", err))
	}
	var payload cursorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", apperr.BadCursor(fmt.Errorf("unmarshal payload: %w", err))
	}
	if payload.ID == "" {
		return "", apperr.BadCursor(fmt.Errorf("cursor payload has no id"))
	}
	return payload.ID, nil
}
