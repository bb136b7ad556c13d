package store

import (
	"time"

	"github.com/Sternrassler/school-portal-client/pkg/selector"
)

// writeMode describes how Set applied incoming data.
type writeMode string

const (
	modeReplace writeMode = "replace"
	modeMerge   writeMode = "merge"
)

// upsert applies data to the entry for key and returns the updated sequence.
// The sequence never holds two entries for the same key.
func upsert(entries []Entry, key Key, data any, now time.Time) ([]Entry, writeMode) {
	idx := indexOf(entries, key)

	if idx >= 0 {
		cached, cachedOK := entries[idx].Data.([]any)
		incoming, incomingOK := data.([]any)
		if cachedOK && incomingOK {
			entries[idx].Data = mergeByID(cached, incoming)
			entries[idx].CacheTime = now
			return entries, modeMerge
		}
		entries = append(entries[:idx], entries[idx+1:]...)
	}

	entries = append(entries, Entry{
		Host:      key.Host,
		Key:       key.Path,
		Data:      data,
		CacheTime: now,
	})
	return entries, modeReplace
}

// mergeByID merges incoming elements into cached ones keyed by id.
// Fields of an incoming element win; fields it omits are kept.
// Elements without an id, or with an unknown id, are appended.
func mergeByID(cached, incoming []any) []any {
	merged := make([]any, len(cached), len(cached)+len(incoming))
	copy(merged, cached)

	positions := make(map[string]int, len(merged))
	for i, item := range merged {
		if id, ok := selector.ID(item); ok {
			positions[id] = i
		}
	}

	for _, item := range incoming {
		id, ok := selector.ID(item)
		if !ok {
			merged = append(merged, item)
			continue
		}
		pos, exists := positions[id]
		if !exists {
			positions[id] = len(merged)
			merged = append(merged, item)
			continue
		}
		merged[pos] = mergeFields(merged[pos], item)
	}
	return merged
}

func mergeFields(old, update any) any {
	oldObj, ok := old.(map[string]any)
	if !ok {
		return update
	}
	updateObj := update.(map[string]any)

	out := make(map[string]any, len(oldObj)+len(updateObj))
	for k, v := range oldObj {
		out[k] = v
	}
	for k, v := range updateObj {
		out[k] = v
	}
	return out
}

func indexOf(entries []Entry, key Key) int {
	for i := range entries {
		if key.matches(&entries[i]) {
			return i
		}
	}
	return -1
}
