package store

import (
	"errors"
	"fmt"
	"net/url"
)

// ErrInvalidURL indicates a URL that cannot be used as a cache key.
var ErrInvalidURL = errors.New("invalid cache url")

// Key identifies a cache entry. The query string is deliberately not part of it.
type Key struct {
	Host string
	Path string
}

// ParseKey derives the cache key from a request URL.
//
// Example:
//
//	https://portal.example/api/Grades?from=2024-01-01 -> {portal.example, /api/Grades}
func ParseKey(rawURL string) (Key, error) {
	if rawURL == "" {
		return Key{}, fmt.Errorf("%w: empty url", ErrInvalidURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	return Key{Host: u.Host, Path: u.Path}, nil
}

// String returns the key in host+path form.
func (k Key) String() string {
	return k.Host + k.Path
}

func (k Key) matches(e *Entry) bool {
	return e.Host == k.Host && e.Key == k.Path
}
