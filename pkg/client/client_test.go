package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/school-portal-client/internal/testutil"
	"github.com/Sternrassler/school-portal-client/pkg/session"
	"github.com/Sternrassler/school-portal-client/pkg/store"
)

// testClock is a manually advanced clock for TTL tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var grades = []map[string]any{
	{"id": 1, "subject": "Mathematics", "mark": "2"},
	{"id": 2, "subject": "German", "mark": "1"},
	{"id": 3, "subject": "Biology", "mark": "3"},
}

// setupClient creates a client against a fresh mock portal and in-memory store.
func setupClient(t *testing.T, mutate func(*Config)) (*Client, *testutil.MockPortal, *testClock) {
	t.Helper()

	mock := testutil.NewMockPortal()
	t.Cleanup(mock.Close)

	st := store.NewStore(store.NewMemorySlot(), zerolog.Nop())
	clock := &testClock{now: time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC)}
	st.SetClock(clock.Now)

	cfg := DefaultConfig(st, mock.URL(), "PortalTest/1.0")
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })

	return c, mock, clock
}

func toJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func idsOf(t *testing.T, data any) []string {
	t.Helper()
	items, ok := data.([]any)
	if !ok {
		t.Fatalf("data is %T, want []any", data)
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, toJSON(t, item.(map[string]any)["id"]))
	}
	return ids
}

func TestNew_Validation(t *testing.T) {
	st := store.NewStore(store.NewMemorySlot(), zerolog.Nop())

	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid config",
			config:      DefaultConfig(st, "https://portal.example", "TestApp/1.0.0"),
			expectError: false,
		},
		{
			name:        "valid config without base url",
			config:      Config{Store: st, UserAgent: "TestApp/1.0.0"},
			expectError: false,
		},
		{
			name:        "nil store",
			config:      Config{UserAgent: "TestApp/1.0.0"},
			expectError: true,
			errorMsg:    "cache store is required",
		},
		{
			name:        "empty user agent",
			config:      Config{Store: st},
			expectError: true,
			errorMsg:    "user-agent is required",
		},
		{
			name:        "relative base url",
			config:      Config{Store: st, UserAgent: "TestApp/1.0.0", BaseURL: "/api"},
			expectError: true,
			errorMsg:    `base url must be absolute (got "/api")`,
		},
		{
			name: "cookies without base url",
			config: Config{
				Store:     st,
				UserAgent: "TestApp/1.0.0",
				Cookies:   []*http.Cookie{{Name: testutil.SessionCookie, Value: "x"}},
			},
			expectError: true,
			errorMsg:    "base url is required to seed cookies",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.config)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got nil")
					return
				}
				if tt.errorMsg != "" && err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
			} else {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
					return
				}
				if client == nil {
					t.Error("Client is nil")
				}
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	st := store.NewStore(store.NewMemorySlot(), zerolog.Nop())
	cfg := DefaultConfig(st, "https://portal.example", "TestApp/1.0.0")

	if cfg.Store != st {
		t.Error("Store not set correctly")
	}
	if cfg.UserAgent != "TestApp/1.0.0" {
		t.Errorf("UserAgent = %q, want %q", cfg.UserAgent, "TestApp/1.0.0")
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if cfg.AuthEntryURL == "" || cfg.KeepalivePath == "" {
		t.Error("AuthEntryURL and KeepalivePath should have defaults")
	}
}

// TestClient_Get_CachedGrades covers the Grades scenario: fetch and unwrap,
// serve from cache within the period, refetch once it elapsed.
func TestClient_Get_CachedGrades(t *testing.T) {
	c, mock, clock := setupClient(t, nil)
	mock.SetCollection("/api/Grades", "Grades", grades)
	ctx := context.Background()
	opts := Options{Cache: CacheFor(600)}

	first, err := c.Get(ctx, mock.URL()+"/api/Grades", opts)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := idsOf(t, first); len(got) != 3 {
		t.Fatalf("first Get ids = %v, want 3 grades", got)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("requests after first Get = %d, want 1", mock.GetRequestCount())
	}

	clock.Advance(599 * time.Second)
	second, err := c.Get(ctx, mock.URL()+"/api/Grades", opts)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if toJSON(t, second) != toJSON(t, first) {
		t.Errorf("cached data = %s, want %s", toJSON(t, second), toJSON(t, first))
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("requests after cached Get = %d, want 1", mock.GetRequestCount())
	}

	clock.Advance(2 * time.Second)
	if _, err := c.Get(ctx, mock.URL()+"/api/Grades", opts); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if mock.GetRequestCount() != 2 {
		t.Errorf("requests after stale Get = %d, want 2", mock.GetRequestCount())
	}
}

func TestClient_Get_TTLExpiry(t *testing.T) {
	c, mock, clock := setupClient(t, nil)
	mock.SetCollection("/api/Absences", "Absences", []map[string]any{{"id": 9}})
	ctx := context.Background()
	opts := Options{Cache: CacheFor(60)}

	if _, err := c.Get(ctx, "/api/Absences", opts); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	clock.Advance(61 * time.Second)
	if _, err := c.Get(ctx, "/api/Absences", opts); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if mock.GetRequestCount() != 2 {
		t.Errorf("requests = %d, want 2 (entry older than period is stale)", mock.GetRequestCount())
	}
}

func TestClient_Get_ZeroPeriodNeverStale(t *testing.T) {
	c, mock, clock := setupClient(t, nil)
	mock.SetCollection("/api/Timetable", "Timetable", []map[string]any{{"id": 1}})
	ctx := context.Background()
	opts := Options{Cache: CachePolicy{Enabled: true}}

	for i := 0; i < 3; i++ {
		if _, err := c.Get(ctx, "/api/Timetable", opts); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		clock.Advance(24 * time.Hour)
	}

	if mock.GetRequestCount() != 1 {
		t.Errorf("requests = %d, want 1", mock.GetRequestCount())
	}
}

func TestClient_Get_SelectorCompleteness(t *testing.T) {
	c, mock, _ := setupClient(t, nil)
	mock.SetCollection("/api/Grades", "Grades", grades)
	ctx := context.Background()

	// single selector carries the sentinel id
	one, err := c.Get(ctx, "/api/Grades", Options{Cache: CacheFor(600), Selectors: []string{"1"}})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := idsOf(t, one); len(got) != 1 || got[0] != "1" {
		t.Errorf("ids = %v, want [1]", got)
	}

	// id 2 is not cached yet: refetch
	both, err := c.Get(ctx, "/api/Grades", Options{Cache: CacheFor(600), Selectors: []string{"1", "2", "1"}})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := idsOf(t, both); len(got) != 2 {
		t.Errorf("ids = %v, want 2 grades", got)
	}

	// both cached now: no request
	again, err := c.Get(ctx, "/api/Grades", Options{Cache: CacheFor(600), Selectors: []string{"2", "1"}})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := idsOf(t, again); len(got) != 2 {
		t.Errorf("ids = %v, want 2 grades", got)
	}

	paths := mock.GetPaths()
	want := []string{"/api/Grades/1,0", "/api/Grades/1,2"}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}

	// the cached collection accumulated both grades
	entry, err := c.Store().Get(ctx, mock.URL()+"/api/Grades", nil)
	if err != nil || entry == nil {
		t.Fatalf("Store().Get() = %v, %v", entry, err)
	}
	if got := idsOf(t, entry.Data); len(got) != 2 {
		t.Errorf("cached ids = %v, want 2", got)
	}
}

func TestClient_Get_FiltersExtraElements(t *testing.T) {
	c, mock, _ := setupClient(t, nil)
	// ignores the selector segment and returns everything
	mock.SetResponse("/api/Messages/2,0", testutil.NewEnvelopeResponse("Messages", []map[string]any{
		{"id": 1}, {"id": 2}, {"id": 3},
	}))

	data, err := c.Get(context.Background(), "/api/Messages", Options{Selectors: []string{"2"}})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := idsOf(t, data); len(got) != 1 || got[0] != "2" {
		t.Errorf("ids = %v, want [2]", got)
	}
}

func TestClient_Get_QueryAndCacheKey(t *testing.T) {
	c, mock, _ := setupClient(t, nil)
	mock.SetCollection("/api/Attendance", "Attendance", []map[string]any{{"id": 5}})
	ctx := context.Background()

	opts := Options{
		Cache: CacheFor(600),
		Query: map[string][]string{"from": {"2024-09-01"}},
	}
	if _, err := c.Get(ctx, "/api/Attendance", opts); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	paths := mock.GetPaths()
	if len(paths) != 1 || paths[0] != "/api/Attendance?from=2024-09-01" {
		t.Errorf("paths = %v, want query appended", paths)
	}

	// the cache key ignores the query
	entry, err := c.Store().Get(ctx, mock.URL()+"/api/Attendance?from=1999-01-01", nil)
	if err != nil || entry == nil {
		t.Fatalf("Store().Get() = %v, %v", entry, err)
	}
}

func TestClient_Get_CacheDisabled(t *testing.T) {
	c, mock, _ := setupClient(t, nil)
	mock.SetCollection("/api/Grades", "Grades", grades)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.Get(ctx, "/api/Grades", Options{}); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
	}

	if mock.GetRequestCount() != 2 {
		t.Errorf("requests = %d, want 2", mock.GetRequestCount())
	}
	entries, _ := c.Store().Entries(ctx)
	if len(entries) != 0 {
		t.Errorf("entries = %d, want 0 with caching disabled", len(entries))
	}
}

func TestClient_Get_CustomFormat(t *testing.T) {
	c, mock, _ := setupClient(t, nil)
	mock.SetResponse("/api/Profile", testutil.MockPortalResponse{
		StatusCode: http.StatusOK,
		Body:       `{"name": "Ada", "class": "7b"}`,
	})
	ctx := context.Background()

	raw, err := c.Get(ctx, "/api/Profile", Options{CustomFormat: true})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if toJSON(t, raw) != `{"class":"7b","name":"Ada"}` {
		t.Errorf("custom format data = %s", toJSON(t, raw))
	}

	unwrapped, err := c.Get(ctx, "/api/Profile", Options{})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if unwrapped != "Ada" {
		t.Errorf("unwrapped data = %v, want first property value", unwrapped)
	}
}

func TestClient_Get_Unauthorized(t *testing.T) {
	var (
		redirectedTo string
		calls        int
	)
	tracker := session.NewTracker(nil, "test", 0, zerolog.Nop())

	c, mock, _ := setupClient(t, func(cfg *Config) {
		cfg.Tracker = tracker
		cfg.OnUnauthorized = func(ctx context.Context, authEntryURL string) {
			calls++
			redirectedTo = authEntryURL
		}
	})
	mock.SetResponse("/api/Grades", testutil.NewUnauthorizedResponse())

	data, err := c.Get(context.Background(), "/api/Grades", Options{Cache: CacheFor(600)})
	if err != nil {
		t.Fatalf("Get() error = %v, want nil for HTTP errors", err)
	}
	if data != nil {
		t.Errorf("data = %v, want nil", data)
	}
	if calls != 1 {
		t.Errorf("OnUnauthorized calls = %d, want 1", calls)
	}
	if redirectedTo != mock.URL()+"/login" {
		t.Errorf("redirect = %q, want %q", redirectedTo, mock.URL()+"/login")
	}

	state, _ := tracker.State(context.Background())
	if state.Authenticated {
		t.Error("session should be marked expired after 401")
	}

	entries, _ := c.Store().Entries(context.Background())
	if len(entries) != 0 {
		t.Errorf("entries = %d, failed responses must not be cached", len(entries))
	}
}

func TestClient_Get_ServerErrorReturnsNil(t *testing.T) {
	c, mock, _ := setupClient(t, nil)
	mock.SetResponse("/api/Grades", testutil.NewServerErrorResponse())

	data, err := c.Get(context.Background(), "/api/Grades", Options{})
	if err != nil {
		t.Fatalf("Get() error = %v, want nil for HTTP errors", err)
	}
	if data != nil {
		t.Errorf("data = %v, want nil", data)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("requests = %d, want 1 (no retries)", mock.GetRequestCount())
	}
}

func TestClient_Get_NetworkErrorPropagates(t *testing.T) {
	c, mock, _ := setupClient(t, nil)
	mock.Close()

	_, err := c.Get(context.Background(), "/api/Grades", Options{})
	if err == nil {
		t.Fatal("Get() error = nil, want network error")
	}
	if !strings.Contains(err.Error(), "portal request /api/Grades") {
		t.Errorf("error = %v, want endpoint context", err)
	}
}

func TestClient_Get_DecodeErrorPropagates(t *testing.T) {
	c, mock, _ := setupClient(t, nil)
	mock.SetResponse("/api/Grades", testutil.MockPortalResponse{
		StatusCode: http.StatusOK,
		Body:       `<html>maintenance</html>`,
	})

	_, err := c.Get(context.Background(), "/api/Grades", Options{})
	var perr *PortalError
	if !errors.As(err, &perr) || perr.ErrorClass != ErrorClassDecode {
		t.Errorf("error = %v, want decode PortalError", err)
	}
}

func TestClient_Get_TruncatedEnvelopeNotCached(t *testing.T) {
	c, mock, _ := setupClient(t, nil)
	mock.SetResponse("/api/Grades", testutil.MockPortalResponse{
		StatusCode: http.StatusOK,
		Body:       `{"Grades":[{"id":1}]`,
	})

	_, err := c.Get(context.Background(), "/api/Grades", Options{Cache: CacheFor(600)})
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("error = %v, want ErrDecode", err)
	}

	entry, err := c.Store().Get(context.Background(), mock.URL()+"/api/Grades", nil)
	if err != nil {
		t.Fatalf("Store().Get() error = %v", err)
	}
	if entry != nil {
		t.Errorf("entry = %v, want nothing cached for a truncated body", entry.Data)
	}
}

func TestClient_Get_CoalescesConcurrentRequests(t *testing.T) {
	c, mock, _ := setupClient(t, nil)
	mock.SetResponse("/api/Timetable", testutil.MockPortalResponse{
		StatusCode: http.StatusOK,
		Body:       `{"Timetable": [{"id": 1}]}`,
		Delay:      200 * time.Millisecond,
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background(), "/api/Timetable", Options{Cache: CacheFor(600)}); err != nil {
				t.Errorf("Get() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if mock.GetRequestCount() != 1 {
		t.Errorf("requests = %d, want 1", mock.GetRequestCount())
	}
}

func TestClient_Get_CoalescedCallerSurvivesLeaderCancel(t *testing.T) {
	c, mock, _ := setupClient(t, nil)
	mock.SetResponse("/api/Timetable", testutil.MockPortalResponse{
		StatusCode: http.StatusOK,
		Body:       `{"Timetable": [{"id": 1}]}`,
		Delay:      300 * time.Millisecond,
	})

	leaderCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.Get(leaderCtx, "/api/Timetable", Options{})
		leaderErr <- err
	}()

	deadline := time.Now().Add(time.Second)
	for mock.GetRequestCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	type result struct {
		data any
		err  error
	}
	follower := make(chan result, 1)
	go func() {
		data, err := c.Get(context.Background(), "/api/Timetable", Options{})
		follower <- result{data, err}
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Errorf("leader error = %v, want context.Canceled", err)
	}

	res := <-follower
	if res.err != nil {
		t.Fatalf("follower error = %v, want nil", res.err)
	}
	if ids := idsOf(t, res.data); len(ids) != 1 || ids[0] != "1" {
		t.Errorf("follower data = %v, want timetable entry 1", res.data)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("requests = %d, want 1", mock.GetRequestCount())
	}
}

func TestClient_Do_StatusCode(t *testing.T) {
	c, mock, _ := setupClient(t, nil)
	mock.SetCollection("/api/Grades", "Grades", grades)
	mock.SetResponse("/api/Broken", testutil.NewServerErrorResponse())

	tests := []struct {
		name       string
		url        string
		wantStatus int
		wantCached bool
		wantData   bool
	}{
		{name: "fetched", url: "/api/Grades", wantStatus: http.StatusOK, wantData: true},
		{name: "cached", url: "/api/Grades", wantStatus: 0, wantCached: true, wantData: true},
		{name: "server error", url: "/api/Broken", wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := c.Do(context.Background(), tt.url, Options{Cache: CacheFor(600)})
			if err != nil {
				t.Fatalf("Do() error = %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if resp.Cached != tt.wantCached {
				t.Errorf("Cached = %v, want %v", resp.Cached, tt.wantCached)
			}
			if (resp.Data != nil) != tt.wantData {
				t.Errorf("Data = %v, wantData %v", resp.Data, tt.wantData)
			}
		})
	}
}

func TestClient_SessionCookie(t *testing.T) {
	c, mock, _ := setupClient(t, func(cfg *Config) {
		cfg.Cookies = []*http.Cookie{{Name: testutil.SessionCookie, Value: "s3cr3t", Path: "/"}}
	})
	mock.RequireSession("s3cr3t")
	mock.SetCollection("/api/Grades", "Grades", grades)

	data, err := c.Get(context.Background(), "/api/Grades", Options{})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if data == nil {
		t.Fatal("data = nil, want grades with a valid session cookie")
	}
	if mock.GetLastCookie() != "s3cr3t" {
		t.Errorf("cookie = %q, want %q", mock.GetLastCookie(), "s3cr3t")
	}
}

func TestClient_Validate(t *testing.T) {
	c, mock, _ := setupClient(t, nil)

	mock.SetResponse("/api/Session", testutil.MockPortalResponse{StatusCode: http.StatusOK})
	status, err := c.Validate(context.Background())
	if err != nil || status != http.StatusOK {
		t.Errorf("Validate() = %d, %v, want 200", status, err)
	}

	mock.SetResponse("/api/Session", testutil.NewUnauthorizedResponse())
	status, err = c.Validate(context.Background())
	if err != nil || status != http.StatusUnauthorized {
		t.Errorf("Validate() = %d, %v, want 401", status, err)
	}
}
