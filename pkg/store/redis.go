package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix is the Redis key prefix of session cache slots.
const KeyPrefix = "portal:cache:"

// maxUpdateAttempts bounds optimistic transaction retries on write conflicts.
const maxUpdateAttempts = 10

// ErrConflict is returned when a slot update keeps losing optimistic transactions.
var ErrConflict = errors.New("cache slot update conflict")

// RedisSlot stores the blob under one Redis key per session.
// Every write refreshes the key TTL, so the slot lives as long as the session is active.
type RedisSlot struct {
	redis *redis.Client
	key   string
	ttl   time.Duration
}

// NewRedisSlot creates a slot for sessionID. A zero ttl keeps the key until cleared.
func NewRedisSlot(redisClient *redis.Client, sessionID string, ttl time.Duration) *RedisSlot {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisSlot{
		redis: redisClient,
		key:   KeyPrefix + sessionID,
		ttl:   ttl,
	}
}

// Key returns the Redis key of the slot.
func (r *RedisSlot) Key() string {
	return r.key
}

// Load reads the blob. A missing key is an empty slot.
func (r *RedisSlot) Load(ctx context.Context) ([]byte, error) {
	data, err := r.redis.Get(ctx, r.key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Update runs fn inside a WATCH/MULTI transaction and retries when another
// writer modified the slot in between.
func (r *RedisSlot) Update(ctx context.Context, fn func(current []byte) ([]byte, error)) error {
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, r.key).Bytes()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("redis get: %w", err)
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.key, next, r.ttl)
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		err := r.redis.Watch(ctx, txf, r.key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		CacheConflicts.Inc()
	}
	return fmt.Errorf("%w: %s after %d attempts", ErrConflict, r.key, maxUpdateAttempts)
}

// Clear deletes the slot key.
func (r *RedisSlot) Clear(ctx context.Context) error {
	if err := r.redis.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

var _ Slot = (*RedisSlot)(nil)
