// Package testutil provides testing utilities for the portal client.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SessionCookie is the cookie name the mock portal authenticates with.
const SessionCookie = "PortalSession"

// MockPortalResponse defines the behavior for a mock portal endpoint response.
type MockPortalResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockPortal is a configurable mock of the portal API.
//
// Collections registered with SetCollection are served wrapped in their root
// key and honor the comma-joined selector path segment, like the real API.
type MockPortal struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Session, when set, is the only accepted session cookie value
	session string

	// Tracking
	RequestCount int
	Paths        []string
	LastCookie   string
}

// NewMockPortal creates a new mock portal server.
func NewMockPortal() *MockPortal {
	mock := &MockPortal{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.Paths = append(mock.Paths, r.URL.RequestURI())
		if c, err := r.Cookie(SessionCookie); err == nil {
			mock.LastCookie = c.Value
		}
		session := mock.session
		mock.mu.Unlock()

		if session != "" {
			c, err := r.Cookie(SessionCookie)
			if err != nil || c.Value != session {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}

		if handler := mock.lookup(r.URL.Path); handler != nil {
			handler(w, r)
			return
		}

		http.NotFound(w, r)
	}))

	return mock
}

// lookup finds the handler for path, falling back to the parent collection
// path when the last segment is a selector list.
func (m *MockPortal) lookup(path string) func(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if h, ok := m.handlers[path]; ok {
		return h
	}
	if i := strings.LastIndex(path, "/"); i > 0 {
		if h, ok := m.handlers[path[:i]]; ok {
			return h
		}
	}
	return nil
}

// URL returns the mock server URL.
func (m *MockPortal) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockPortal) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockPortal) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.Paths = nil
	m.LastCookie = ""
}

// RequireSession makes every endpoint answer 401 unless the session cookie matches.
func (m *MockPortal) RequireSession(value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = value
}

// SetHandler sets a custom handler for a specific path.
func (m *MockPortal) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockPortal) SetResponse(path string, resp MockPortalResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetCollection serves items under path wrapped as {"<root>": [...]}.
// A trailing comma-joined id segment (path/1,2) narrows the result.
func (m *MockPortal) SetCollection(path, root string, items []map[string]any) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		result := items
		if rest := strings.TrimPrefix(r.URL.Path, path); rest != "" {
			wanted := map[string]bool{}
			for _, id := range strings.Split(strings.Trim(rest, "/"), ",") {
				wanted[id] = true
			}
			result = nil
			for _, item := range items {
				if wanted[idString(item["id"])] {
					result = append(result, item)
				}
			}
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{root: result})
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockPortal) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPaths returns the request URIs seen so far.
func (m *MockPortal) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.Paths...)
}

// GetLastCookie returns the session cookie value of the last request.
func (m *MockPortal) GetLastCookie() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastCookie
}

// NewEnvelopeResponse creates a 200 OK response wrapping payload under root.
func NewEnvelopeResponse(root string, payload any) MockPortalResponse {
	body, _ := json.Marshal(map[string]any{root: payload})
	return MockPortalResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewUnauthorizedResponse creates a 401 response (session expired).
func NewUnauthorizedResponse() MockPortalResponse {
	return MockPortalResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       `{"Message": "Authorization has been denied for this request."}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockPortalResponse {
	return MockPortalResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"Message": "An error has occurred."}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case int:
		return strconv.Itoa(id)
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}
