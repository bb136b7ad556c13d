package session

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for session tracking.
var (
	sessionAuthenticated = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portal_session_authenticated",
		Help: "1 if the portal session is authenticated, 0 if it expired",
	})

	sessionExpiriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portal_session_expiries_total",
		Help: "Total number of times the portal session was seen expired",
	})
)

// Tracker records the authentication state of a session.
// With a Redis client the state is shared across processes; without one it
// lives in memory.
type Tracker struct {
	redis  *redis.Client
	key    string
	ttl    time.Duration
	logger zerolog.Logger

	mu    sync.Mutex
	local State
}

// NewTracker creates a tracker for sessionID. redisClient may be nil.
// ttl bounds how long the state outlives the last update in Redis (0 = forever).
func NewTracker(redisClient *redis.Client, sessionID string, ttl time.Duration, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		key:    RedisKeyPrefix + sessionID,
		ttl:    ttl,
		logger: logger,
		local:  State{Authenticated: true},
	}
}

// State returns the current state. A session never seen is assumed authenticated.
func (t *Tracker) State(ctx context.Context) (*State, error) {
	if t.redis == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		state := t.local
		return &state, nil
	}

	fields, err := t.redis.HGetAll(ctx, t.key).Result()
	if err != nil {
		return nil, fmt.Errorf("get session state: %w", err)
	}

	if len(fields) == 0 {
		t.logger.Debug().Str("key", t.key).Msg("No session state in Redis, assuming authenticated")
		return &State{Authenticated: true}, nil
	}

	state := &State{
		Authenticated: fields[fieldAuthenticated] == "1",
		LastValidated: parseUnixMilli(fields[fieldLastValidated]),
		ExpiredAt:     parseUnixMilli(fields[fieldExpiredAt]),
		LastUpdate:    parseUnixMilli(fields[fieldLastUpdate]),
	}
	return state, nil
}

// MarkValid records a successful validation.
func (t *Tracker) MarkValid(ctx context.Context) error {
	now := time.Now()
	if err := t.write(ctx, now, func(s *State) {
		s.Authenticated = true
		s.LastValidated = now
	}, map[string]any{
		fieldAuthenticated: "1",
		fieldLastValidated: now.UnixMilli(),
	}); err != nil {
		return err
	}

	sessionAuthenticated.Set(1)
	t.logger.Debug().Time("validated_at", now).Msg("Session validated")
	return nil
}

// MarkExpired records that the portal rejected the session.
func (t *Tracker) MarkExpired(ctx context.Context) error {
	now := time.Now()
	if err := t.write(ctx, now, func(s *State) {
		s.Authenticated = false
		s.ExpiredAt = now
	}, map[string]any{
		fieldAuthenticated: "0",
		fieldExpiredAt:     now.UnixMilli(),
	}); err != nil {
		return err
	}

	sessionAuthenticated.Set(0)
	sessionExpiriesTotal.Inc()
	t.logger.Warn().Time("expired_at", now).Msg("Portal session expired - re-authentication required")
	return nil
}

func (t *Tracker) write(ctx context.Context, now time.Time, apply func(*State), fields map[string]any) error {
	if t.redis == nil {
		t.mu.Lock()
		apply(&t.local)
		t.local.LastUpdate = now
		t.mu.Unlock()
		return nil
	}

	fields[fieldLastUpdate] = now.UnixMilli()

	pipe := t.redis.TxPipeline()
	pipe.HSet(ctx, t.key, fields)
	if t.ttl > 0 {
		pipe.Expire(ctx, t.key, t.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store session state in redis: %w", err)
	}
	return nil
}

func parseUnixMilli(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
