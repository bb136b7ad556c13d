package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var keepaliveChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "portal_keepalive_checks_total",
	Help: "Total number of session validations by result",
}, []string{"result"}) // "valid", "expired", "failed"

// ErrSessionExpired is returned when the portal rejects the session with 401.
var ErrSessionExpired = errors.New("portal session expired")

// StatusError is a non-2xx validation response other than 401.
type StatusError struct {
	StatusCode int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("session validation failed with status %d", e.StatusCode)
}

// Validator performs one session validation request and returns its HTTP status.
// An error means the request never produced a response.
type Validator interface {
	Validate(ctx context.Context) (int, error)
}

// KeepaliveConfig configures the keepalive loop.
type KeepaliveConfig struct {
	// Interval between validations (default 2 minutes)
	Interval time.Duration

	// Retry applies to network failures and 5xx responses of a single validation
	Retry RetryConfig

	// OnExpired is called once per detected expiry, e.g. to redirect to login
	OnExpired func(ctx context.Context)
}

// Keepalive periodically re-validates the portal session.
// It is independent of the response cache.
type Keepalive struct {
	validator Validator
	tracker   *Tracker
	config    KeepaliveConfig
	logger    zerolog.Logger
}

// NewKeepalive creates a keepalive loop. validator and tracker are required.
func NewKeepalive(validator Validator, tracker *Tracker, config KeepaliveConfig, logger zerolog.Logger) *Keepalive {
	if validator == nil {
		panic("validator cannot be nil")
	}
	if tracker == nil {
		panic("tracker cannot be nil")
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = DefaultRetryConfig()
	}
	return &Keepalive{
		validator: validator,
		tracker:   tracker,
		config:    config,
		logger:    logger.With().Str("component", "session-keepalive").Logger(),
	}
}

// Run validates the session every Interval until ctx is done.
func (k *Keepalive) Run(ctx context.Context) error {
	k.logger.Info().Dur("interval", k.config.Interval).Msg("Session keepalive started")

	ticker := time.NewTicker(k.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			k.logger.Info().Msg("Session keepalive stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := k.Check(ctx); err != nil && !errors.Is(err, ErrSessionExpired) {
				k.logger.Error().Err(err).Msg("Session validation failed")
			}
		}
	}
}

// Check performs one validation, retrying transient failures.
func (k *Keepalive) Check(ctx context.Context) error {
	err := retryWithBackoff(ctx, k.config.Retry, isTransient, func() error {
		status, err := k.validator.Validate(ctx)
		if err != nil {
			return err
		}
		switch {
		case status >= 200 && status < 300:
			return nil
		case status == http.StatusUnauthorized:
			return ErrSessionExpired
		default:
			return &StatusError{StatusCode: status}
		}
	})

	switch {
	case err == nil:
		keepaliveChecksTotal.WithLabelValues("valid").Inc()
		if terr := k.tracker.MarkValid(ctx); terr != nil {
			k.logger.Warn().Err(terr).Msg("Failed to record session state")
		}
		return nil

	case errors.Is(err, ErrSessionExpired):
		keepaliveChecksTotal.WithLabelValues("expired").Inc()
		if terr := k.tracker.MarkExpired(ctx); terr != nil {
			k.logger.Warn().Err(terr).Msg("Failed to record session state")
		}
		if k.config.OnExpired != nil {
			k.config.OnExpired(ctx)
		}
		return err

	default:
		keepaliveChecksTotal.WithLabelValues("failed").Inc()
		return err
	}
}

// isTransient reports whether a validation error is worth retrying:
// network failures and 5xx responses.
func isTransient(err error) bool {
	if errors.Is(err, ErrSessionExpired) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
