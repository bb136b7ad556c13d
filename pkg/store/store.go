package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/school-portal-client/pkg/selector"
)

// Store reads and writes cache entries through a session slot.
type Store struct {
	slot   Slot
	now    func() time.Time
	logger zerolog.Logger
}

// NewStore creates a store backed by slot.
func NewStore(slot Slot, logger zerolog.Logger) *Store {
	if slot == nil {
		panic("cache slot cannot be nil")
	}
	return &Store{
		slot:   slot,
		now:    time.Now,
		logger: logger.With().Str("component", "cache-store").Logger(),
	}
}

// Get returns the entry for the host and path of rawURL, or nil on miss.
//
// With selectors and collection data the returned copy only holds the
// elements whose id is selected. The stored entry is never modified.
func (s *Store) Get(ctx context.Context, rawURL string, selectors []string) (*Entry, error) {
	key, err := ParseKey(rawURL)
	if err != nil {
		return nil, err
	}

	blob, err := s.slot.Load(ctx)
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("load cache slot: %w", err)
	}

	entries := s.decode(blob)
	idx := indexOf(entries, key)
	if idx < 0 {
		s.logger.Debug().Str("key", key.String()).Msg("Cache entry not found")
		return nil, nil
	}

	entry := entries[idx]
	if entry.IsCollection() && !selector.IsEmpty(selectors) {
		entry.Data = selector.Filter(entry.Data, selectors)
	}
	return &entry, nil
}

// Set writes data for the host and path of rawURL, merging collections by id.
func (s *Store) Set(ctx context.Context, rawURL string, data any) error {
	key, err := ParseKey(rawURL)
	if err != nil {
		return err
	}

	now := s.now()
	var (
		mode  writeMode
		count int
		size  int
	)
	err = s.slot.Update(ctx, func(current []byte) ([]byte, error) {
		var entries []Entry
		entries, mode = upsert(s.decode(current), key, data, now)

		next, err := json.Marshal(entries)
		if err != nil {
			return nil, fmt.Errorf("marshal cache entries: %w", err)
		}
		count, size = len(entries), len(next)
		return next, nil
	})
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("update cache slot: %w", err)
	}

	CacheWrites.WithLabelValues(string(mode)).Inc()
	CacheEntries.Set(float64(count))
	CacheSize.Set(float64(size))

	s.logger.Debug().
		Str("key", key.String()).
		Str("mode", string(mode)).
		Int("entries", count).
		Msg("Cache entry written")

	return nil
}

// Clear removes every entry of the session.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.slot.Clear(ctx); err != nil {
		CacheErrors.WithLabelValues("clear").Inc()
		return fmt.Errorf("clear cache slot: %w", err)
	}
	CacheEntries.Set(0)
	CacheSize.Set(0)
	s.logger.Info().Msg("Cache cleared")
	return nil
}

// Entries returns a snapshot of all entries in insertion order.
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	blob, err := s.slot.Load(ctx)
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("load cache slot: %w", err)
	}
	return s.decode(blob), nil
}

// Now returns the store clock.
func (s *Store) Now() time.Time {
	return s.now()
}

// SetClock replaces the store clock (for testing).
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// decode parses a blob. Anything that fails to decode is an empty store.
func (s *Store) decode(blob []byte) []Entry {
	if len(bytes.TrimSpace(blob)) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(blob))
	dec.UseNumber()

	var entries []Entry
	if err := dec.Decode(&entries); err != nil {
		CacheCorrupt.Inc()
		s.logger.Warn().Err(err).Int("bytes", len(blob)).Msg("Discarding corrupt cache blob")
		return nil
	}
	return entries
}
