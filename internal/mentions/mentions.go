// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

// Package mentions extracts @-mentions from free text and partitions
// notification recipients into priority tiers. Both operations are pure
// functions with no I/O.
//
// Mention detection is syntactic, not identity-verified: a mentioned
// string need not correspond to a real user. Callers intersect the
// result with actual membership before notifying, so unmatched mentions
// are silently ignored.
package mentions

import "regexp"

// mentionPattern matches @ followed by one or more alphanumeric,
// hyphen, or underscore characters.
var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_-]+)`)

// Extract returns the unique set of mentioned identifiers in text.
// Set semantics: duplicates removed, order not guaranteed.
func Extract(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		out[m[1]] = struct{}{}
	}
	return out
}

// Partition splits recipients into the mentioned and regular tiers.
// The sender is excluded from both; a recipient present in mentioned
// goes to the mentioned tier even if also a regular member. The two
// output slices are disjoint and their union equals
// allRecipientIDs minus the sender. Input order is preserved within
// each tier.
func Partition(allRecipientIDs []string, senderID string, mentioned map[string]struct{}) (mentionedIDs, regularIDs []string) {
	seen := make(map[string]struct{}, len(allRecipientIDs))
	for _, id := range allRecipientIDs {
		if id == senderID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := mentioned[id]; ok {
			mentionedIDs = append(mentionedIDs, id)
		} else {
			regularIDs = append(regularIDs, id)
		}
	}
	return mentionedIDs, regularIDs
}
