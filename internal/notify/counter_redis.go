// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

package notify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/calyxhealth/calyx/internal/apperr"
	"github.com/calyxhealth/calyx/internal/models"
)

// counterKeyPrefix namespaces Calyx unread hashes in a shared Redis.
const counterKeyPrefix = "calyx:unread:"

// decrClampScript decrements a hash field and clamps the result at
// zero in one atomic server-side step.
var decrClampScript = redis.NewScript(`
local v = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
if v < 0 then
  redis.call('HSET', KEYS[1], ARGV[1], 0)
  return 0
end
return v
`)

// RedisCounterStore keeps unread counters in a Redis hash per user,
// one field per notification type. Strict access mode: a user with no
// hash yields CACHE_MISS. This is the shared-cache deployment mode for
// multi-process setups.
type RedisCounterStore struct {
	client *redis.Client
}

// NewRedisCounterStore returns a Redis-backed counter store.
func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

// ConnectRedis dials Redis and verifies the connection.
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func counterKey(userID string) string {
	return counterKeyPrefix + userID
}

// Increment adds one to the (user, type) field via HINCRBY.
func (s *RedisCounterStore) Increment(ctx context.Context, userID string, t models.NotificationType) error {
	if err := s.client.HIncrBy(ctx, counterKey(userID), string(t), 1).Err(); err != nil {
		return apperr.Internal("redis increment", err)
	}
	return nil
}

// Decrement subtracts one, clamping at zero atomically server-side.
func (s *RedisCounterStore) Decrement(ctx context.Context, userID string, t models.NotificationType) error {
	if err := decrClampScript.Run(ctx, s.client, []string{counterKey(userID)}, string(t)).Err(); err != nil {
		return apperr.Internal("redis decrement", err)
	}
	return nil
}

// Get returns the user's counts, or CACHE_MISS when the hash is absent.
func (s *RedisCounterStore) Get(ctx context.Context, userID string) (Counts, error) {
	fields, err := s.client.HGetAll(ctx, counterKey(userID)).Result()
	if err != nil {
		return nil, apperr.Internal("redis get counters", err)
	}
	if len(fields) == 0 {
		return nil, apperr.CacheMiss(userID)
	}
	counts := zeroFilled(nil)
	for field, raw := range fields {
		t, err := models.ParseNotificationType(field)
		if err != nil {
			continue // stale field from an older schema
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			n = 0
		}
		counts[t] = n
	}
	return counts, nil
}

// Overwrite replaces the user's hash with the given counts in one
// pipelined DEL+HSET.
func (s *RedisCounterStore) Overwrite(ctx context.Context, userID string, counts Counts) error {
	full := zeroFilled(counts)
	fields := make(map[string]any, len(full))
	for t, n := range full {
		fields[string(t)] = n
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, counterKey(userID))
	pipe.HSet(ctx, counterKey(userID), fields)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperr.Internal("redis overwrite counters", err)
	}
	return nil
}
