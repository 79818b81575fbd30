// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

package notify

import (
	"context"
	"errors"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/calyxhealth/calyx/internal/apperr"
	"github.com/calyxhealth/calyx/internal/models"
)

// badgerKeyPrefix namespaces counter entries inside the Badger DB.
var badgerKeyPrefix = []byte("unread/")

// BadgerCounterStore keeps unread counters in an embedded Badger DB,
// one key per user holding the serialized Counts. Strict access mode.
// This is the durable single-binary deployment mode: counters survive
// restarts without an external cache.
type BadgerCounterStore struct {
	db *badger.DB
}

// NewBadgerCounterStore opens (or creates) the Badger database at path.
func NewBadgerCounterStore(path string) (*BadgerCounterStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, apperr.Internal("open badger", err)
	}
	return &BadgerCounterStore{db: db}, nil
}

// Close releases the underlying database.
func (s *BadgerCounterStore) Close() error {
	return s.db.Close()
}

func badgerKey(userID string) []byte {
	return append(append([]byte{}, badgerKeyPrefix...), userID...)
}

// mutate applies fn to the user's stored counts inside one Badger
// transaction, retrying on write conflicts so concurrent mutations for
// the same user serialize rather than fail.
func (s *BadgerCounterStore) mutate(userID string, fn func(Counts)) error {
	for {
		err := s.db.Update(func(txn *badger.Txn) error {
			counts := zeroFilled(nil)
			item, err := txn.Get(badgerKey(userID))
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
				// first write for this user
			case err != nil:
				return err
			default:
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &counts)
				}); err != nil {
					return err
				}
			}
			fn(counts)
			raw, err := json.Marshal(counts)
			if err != nil {
				return err
			}
			return txn.Set(badgerKey(userID), raw)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return apperr.Internal("badger counter mutate", err)
		}
		return nil
	}
}

// Increment adds one to the (user, type) counter.
func (s *BadgerCounterStore) Increment(_ context.Context, userID string, t models.NotificationType) error {
	return s.mutate(userID, func(c Counts) { c[t]++ })
}

// Decrement subtracts one, clamping at zero.
func (s *BadgerCounterStore) Decrement(_ context.Context, userID string, t models.NotificationType) error {
	return s.mutate(userID, func(c Counts) {
		if c[t] > 0 {
			c[t]--
		}
	})
}

// Get returns the user's counts, or CACHE_MISS when no key exists.
func (s *BadgerCounterStore) Get(_ context.Context, userID string) (Counts, error) {
	var counts Counts
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(userID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			counts = zeroFilled(nil)
			return json.Unmarshal(val, &counts)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, apperr.CacheMiss(userID)
	}
	if err != nil {
		return nil, apperr.Internal("badger get counters", err)
	}
	return counts, nil
}

// Overwrite replaces the user's entry with the given counts.
func (s *BadgerCounterStore) Overwrite(_ context.Context, userID string, counts Counts) error {
	full := zeroFilled(counts)
	raw, err := json.Marshal(full)
	if err != nil {
		return apperr.Internal("marshal counters", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(userID), raw)
	}); err != nil {
		return apperr.Internal("badger overwrite counters", err)
	}
	return nil
}
