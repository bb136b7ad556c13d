// Package selector resolves id selectors for narrowed collection requests.
//
// The portal API accepts a comma-joined id list appended to a collection path
// (e.g. /Grades/12,17) and returns only the matching elements. A single id must
// still be sent as a pair, so Resolve appends the sentinel id "0" in that case.
package selector

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Sentinel is appended when exactly one id is requested.
const Sentinel = "0"

// Set is a resolved selector set.
type Set struct {
	// IDs are the de-duplicated ids as requested, without the sentinel.
	IDs []string

	// Segment is the comma-joined path segment sent upstream.
	Segment string
}

// Dedupe removes duplicate ids, keeping the first occurrence.
func Dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Resolve de-duplicates ids and builds the path segment.
func Resolve(ids []string) Set {
	deduped := Dedupe(ids)
	if IsEmpty(deduped) {
		return Set{IDs: deduped}
	}

	segment := deduped
	if len(deduped) == 1 {
		segment = []string{deduped[0], Sentinel}
	}

	return Set{
		IDs:     deduped,
		Segment: strings.Join(segment, ","),
	}
}

// IsEmpty reports whether ids should leave the request path untouched:
// no ids at all, or only the empty-string placeholder.
func IsEmpty(ids []string) bool {
	return len(ids) == 0 || (len(ids) == 1 && ids[0] == "")
}

// Empty reports whether the set augments nothing.
func (s Set) Empty() bool {
	return s.Segment == ""
}

// Apply appends the selector segment to path.
func (s Set) Apply(path string) string {
	if s.Empty() {
		return path
	}
	return strings.TrimSuffix(path, "/") + "/" + s.Segment
}

// ID extracts the canonical id of a collection element.
// Numbers and strings compare by text, so 42 and "42" are the same id.
func ID(item any) (string, bool) {
	obj, ok := item.(map[string]any)
	if !ok {
		return "", false
	}
	raw, ok := obj["id"]
	if !ok {
		return "", false
	}

	switch v := raw.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}

// Covers reports whether every id is present in the collection data.
// Non-collection data never covers a non-empty selector set.
func Covers(data any, ids []string) bool {
	if IsEmpty(ids) {
		return true
	}
	items, ok := data.([]any)
	if !ok {
		return false
	}

	present := make(map[string]struct{}, len(items))
	for _, item := range items {
		if id, ok := ID(item); ok {
			present[id] = struct{}{}
		}
	}
	for _, id := range ids {
		if _, ok := present[id]; !ok {
			return false
		}
	}
	return true
}

// Filter returns the collection elements whose id is in ids.
// Non-collection data and empty selector sets are returned unchanged.
func Filter(data any, ids []string) any {
	items, ok := data.([]any)
	if !ok || IsEmpty(ids) {
		return data
	}

	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	out := make([]any, 0, len(ids))
	for _, item := range items {
		if id, ok := ID(item); ok {
			if _, hit := wanted[id]; hit {
				out = append(out, item)
			}
		}
	}
	return out
}
