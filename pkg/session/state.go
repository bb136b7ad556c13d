// Package session tracks whether the portal session is still authenticated
// and keeps it alive by re-validating it on a fixed interval.
//
// The portal authenticates with browser-style session cookies. A 401 from any
// endpoint means the session expired and the user has to go through the login
// entry point again; the tracker records that so every component sharing the
// session (via Redis) sees the same state.
package session

import (
	"time"
)

// Redis key layout for session state. The session id is appended.
const (
	RedisKeyPrefix = "portal:session:"

	fieldAuthenticated = "authenticated"
	fieldLastValidated = "last_validated"
	fieldExpiredAt     = "expired_at"
	fieldLastUpdate    = "last_update"
)

// DefaultInterval is how often the keepalive re-validates the session.
const DefaultInterval = 2 * time.Minute

// State is the authentication state of one portal session.
type State struct {
	// Authenticated is false once the portal answered 401.
	Authenticated bool `json:"authenticated"`

	// LastValidated is the last time the session was confirmed valid.
	LastValidated time.Time `json:"last_validated"`

	// ExpiredAt is when the session was last seen expired (zero if never).
	ExpiredAt time.Time `json:"expired_at"`

	// LastUpdate is when this state was last written.
	LastUpdate time.Time `json:"last_update"`
}

// IsStale returns true if the state was not updated within maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsReauth returns true if the user has to log in again.
func (s *State) NeedsReauth() bool {
	return !s.Authenticated
}

// SinceValidated returns the time since the last successful validation.
// Returns 0 if the session was never validated.
func (s *State) SinceValidated() time.Duration {
	if s.LastValidated.IsZero() {
		return 0
	}
	return time.Since(s.LastValidated)
}
