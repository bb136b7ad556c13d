package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/school-portal-client/pkg/batch"
	"github.com/Sternrassler/school-portal-client/pkg/client"
	"github.com/Sternrassler/school-portal-client/pkg/metrics"
	"github.com/Sternrassler/school-portal-client/pkg/session"
	"github.com/Sternrassler/school-portal-client/pkg/store"
)

// Query parameters consumed by the proxy; all others are forwarded.
const (
	paramIDs     = "ids"
	paramNoCache = "nocache"
	paramRaw     = "raw"
)

type server struct {
	client      *client.Client
	store       *store.Store
	tracker     *session.Tracker
	warmer      *batch.Warmer
	redis       *redis.Client // nil when the cache lives in memory
	cachePeriod int
	authEntry   string
	logger      zerolog.Logger
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/api/", s.proxyHandler)
	mux.HandleFunc("/cache", s.cacheHandler)
	mux.HandleFunc("/warm", s.warmHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports 503 while Redis is unreachable or the session expired.
func (s *server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			http.Error(w, "Redis unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	state, err := s.tracker.State(ctx)
	if err != nil {
		http.Error(w, "Session state unavailable", http.StatusServiceUnavailable)
		return
	}
	if state.NeedsReauth() {
		http.Error(w, "Session expired", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// proxyHandler serves GET /api/<resource>?ids=1,2&nocache=1&raw=1&<forwarded query>.
// A portal 401 is answered with 401 and the auth entry; any other response
// without data is a 502.
func (s *server) proxyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	opts := s.requestOptions(r.URL.Query())

	resp, err := s.client.Do(r.Context(), r.URL.Path, opts)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("Proxy request failed")
		writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("portal request failed: %v", err))
		return
	}

	if resp.StatusCode == http.StatusUnauthorized {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":      "session expired",
			"auth_entry": s.authEntry,
		})
		return
	}
	if resp.Data == nil {
		writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("portal returned no data (status %d)", resp.StatusCode))
		return
	}

	writeJSON(w, http.StatusOK, resp.Data)
}

func (s *server) requestOptions(query url.Values) client.Options {
	opts := client.Options{
		Cache:        client.CacheFor(s.cachePeriod),
		CustomFormat: query.Get(paramRaw) == "1",
	}
	if query.Get(paramNoCache) == "1" {
		opts.Cache = client.CachePolicy{}
	}
	if ids := query.Get(paramIDs); ids != "" {
		opts.Selectors = strings.Split(ids, ",")
	}

	forwarded := url.Values{}
	for key, values := range query {
		switch key {
		case paramIDs, paramNoCache, paramRaw:
			continue
		}
		forwarded[key] = values
	}
	if len(forwarded) > 0 {
		opts.Query = forwarded
	}
	return opts
}

type cacheEntry struct {
	Host      string    `json:"host"`
	Key       string    `json:"key"`
	CacheTime time.Time `json:"cacheTime"`
	Items     int       `json:"items,omitempty"`
}

// cacheHandler lists (GET) or clears (DELETE) the session cache.
func (s *server) cacheHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries, err := s.store.Entries(r.Context())
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out := make([]cacheEntry, 0, len(entries))
		for _, e := range entries {
			ce := cacheEntry{Host: e.Host, Key: e.Key, CacheTime: e.CacheTime}
			if items, ok := e.Data.([]any); ok {
				ce.Items = len(items)
			}
			out = append(out, ce)
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodDelete:
		if err := s.store.Clear(r.Context()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.logger.Info().Msg("Cache cleared")
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, DELETE")
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type warmRequest struct {
	Paths []string `json:"paths"`
}

type warmResult struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// warmHandler preloads the posted paths into the cache.
func (s *server) warmHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req warmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if len(req.Paths) == 0 {
		writeJSONError(w, http.StatusBadRequest, "paths must not be empty")
		return
	}

	targets := make([]batch.Target, 0, len(req.Paths))
	for _, p := range req.Paths {
		targets = append(targets, batch.Target{
			URL:     p,
			Options: client.Options{Cache: client.CacheFor(s.cachePeriod)},
		})
	}

	results := s.warmer.WarmAll(r.Context(), targets)

	out := make(map[string]warmResult, len(results))
	for key, res := range results {
		wr := warmResult{OK: res.OK(), Duration: res.Duration.String()}
		if res.Err != nil {
			wr.Error = res.Err.Error()
		}
		out[key] = wr
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
