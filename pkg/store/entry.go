package store

import (
	"time"
)

// Entry is the cached response for one (host, path) pair.
type Entry struct {
	// Host of the request URL
	Host string `json:"host"`

	// Key is the request path (without query string)
	Key string `json:"key"`

	// Data is the decoded response payload: an object, a collection or a scalar
	Data any `json:"data"`

	// CacheTime is the time of the most recent write to this entry
	CacheTime time.Time `json:"cacheTime"`
}

// IsCollection reports whether the entry holds a JSON array.
func (e *Entry) IsCollection() bool {
	_, ok := e.Data.([]any)
	return ok
}

// Age returns how long ago the entry was written.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CacheTime)
}

// IsFresh reports whether the entry is younger than period.
// A zero or negative period means the entry never goes stale.
func (e *Entry) IsFresh(period time.Duration, now time.Time) bool {
	if period <= 0 {
		return true
	}
	return e.Age(now) < period
}
