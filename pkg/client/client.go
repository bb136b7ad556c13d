// Package client provides the cache-aware portal HTTP client.
//
// Every GET against the portal API goes through Client.Get, which combines
// selector resolution, a session-scoped response cache, an authenticated
// (cookie based) request and write-back of the decoded payload.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/singleflight"

	"github.com/Sternrassler/school-portal-client/pkg/selector"
	"github.com/Sternrassler/school-portal-client/pkg/session"
	"github.com/Sternrassler/school-portal-client/pkg/store"
)

// Prometheus metrics for portal client operations.
var (
	portalRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_requests_total",
		Help: "Total portal requests by endpoint and status",
	}, []string{"endpoint", "status"})

	portalRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portal_request_duration_seconds",
		Help:    "Portal request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	portalErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_errors_total",
		Help: "Total portal errors by class",
	}, []string{"class"})

	portalCacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_cache_lookups_total",
		Help: "Total cache lookups by result",
	}, []string{"result"}) // "hit", "miss", "stale", "incomplete", "error"

	portalCoalescedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portal_coalesced_requests_total",
		Help: "Total Get calls served by an identical in-flight request",
	})
)

const tracerName = "github.com/Sternrassler/school-portal-client/pkg/client"

// Client is the cache-aware portal client.
type Client struct {
	httpClient *http.Client
	store      *store.Store
	tracker    *session.Tracker
	baseURL    *url.URL
	flight     singleflight.Group
	timeout    time.Duration
	tracer     trace.Tracer
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Store is the session response cache (REQUIRED)
	Store *store.Store

	// BaseURL of the portal API; relative request URLs resolve against it
	BaseURL string

	// User-Agent header (REQUIRED)
	UserAgent string

	// Timeout per network request
	Timeout time.Duration

	// Jar holds the session cookies; a public-suffix aware jar is created if nil
	Jar http.CookieJar

	// Cookies seed the jar for BaseURL, e.g. the session cookie obtained at login
	Cookies []*http.Cookie

	// Tracker records session expiry on 401 (optional)
	Tracker *session.Tracker

	// AuthEntryURL is where the user re-authenticates after a 401
	AuthEntryURL string

	// OnUnauthorized is invoked on every 401 with AuthEntryURL
	OnUnauthorized func(ctx context.Context, authEntryURL string)

	// KeepalivePath is requested by Validate to re-validate the session
	KeepalivePath string
}

// DefaultConfig returns a default configuration.
func DefaultConfig(st *store.Store, baseURL, userAgent string) Config {
	return Config{
		Store:         st,
		BaseURL:       baseURL,
		UserAgent:     userAgent,
		Timeout:       30 * time.Second,
		AuthEntryURL:  "/login",
		KeepalivePath: "/api/Session",
	}
}

// New creates a new portal client.
func New(cfg Config) (*Client, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("cache store is required")
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	var base *url.URL
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || !u.IsAbs() {
			return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
		}
		base = u
	}

	jar := cfg.Jar
	if jar == nil {
		j, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		jar = j
	}
	if len(cfg.Cookies) > 0 {
		if base == nil {
			return nil, fmt.Errorf("base url is required to seed cookies")
		}
		jar.SetCookies(base, cfg.Cookies)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
		store:   cfg.Store,
		tracker: cfg.Tracker,
		baseURL: base,
		timeout: timeout,
		tracer:  otel.Tracer(tracerName),
		config:  cfg,
		logger:  log.With().Str("component", "portal-client").Logger(),
	}, nil
}

// Response is the outcome of a portal GET.
type Response struct {
	// Data is the decoded payload; nil for non-2xx and empty bodies
	Data any

	// StatusCode of the portal response; 0 when served from the cache
	StatusCode int

	// Cached reports whether Data came from the store
	Cached bool
}

// Get returns the payload of a portal resource.
//
// A fresh cached entry that covers every selector is returned without network
// I/O. Otherwise the resource is fetched, unwrapped, filtered to the selectors
// and, with caching enabled, merged back into the store.
//
// Non-2xx responses yield (nil, nil); a 401 additionally marks the session
// expired and invokes OnUnauthorized. Network failures and undecodable bodies
// are returned as errors. Concurrent identical requests share one fetch and
// receive the same payload value, which callers must treat as read-only.
func (c *Client) Get(ctx context.Context, rawURL string, opts Options) (any, error) {
	resp, err := c.Do(ctx, rawURL, opts)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Do is Get with the portal status code of the response.
//
// A shared fetch runs detached from the caller that started it and is bounded
// by the client timeout; each caller stops waiting when its own ctx is done.
func (c *Client) Do(ctx context.Context, rawURL string, opts Options) (*Response, error) {
	req, err := resolveRequest(c.baseURL, rawURL, opts)
	if err != nil {
		return nil, err
	}

	if opts.Cache.Enabled {
		if data, ok := c.lookup(ctx, req, opts.Cache.Period); ok {
			return &Response{Data: data, Cached: true}, nil
		}
	}

	if opts.Decoder != nil {
		return c.fetch(ctx, req, opts)
	}

	ch := c.flight.DoChan(flightKey(req, opts), func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.fetch(fctx, req, opts)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("portal request %s: %w", req.endpoint, ctx.Err())
	case res := <-ch:
		if res.Shared {
			portalCoalescedTotal.Inc()
			c.logger.Debug().Str("url", req.requestURL).Msg("Joined in-flight request")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Response), nil
	}
}

// lookup consults the store with the un-augmented URL and the requested selectors.
func (c *Client) lookup(ctx context.Context, req *request, period time.Duration) (any, bool) {
	ids := req.selectors.IDs

	entry, err := c.store.Get(ctx, req.baseURL, ids)
	if err != nil {
		portalCacheLookupsTotal.WithLabelValues("error").Inc()
		c.logger.Warn().Err(err).Str("endpoint", req.endpoint).Msg("Cache get error")
		return nil, false
	}
	if entry == nil {
		portalCacheLookupsTotal.WithLabelValues("miss").Inc()
		return nil, false
	}

	if !entry.IsFresh(period, c.store.Now()) {
		portalCacheLookupsTotal.WithLabelValues("stale").Inc()
		c.logger.Debug().
			Str("endpoint", req.endpoint).
			Dur("age", entry.Age(c.store.Now())).
			Dur("period", period).
			Msg("Cache entry stale")
		return nil, false
	}

	if !selector.Covers(entry.Data, ids) {
		portalCacheLookupsTotal.WithLabelValues("incomplete").Inc()
		c.logger.Debug().
			Str("endpoint", req.endpoint).
			Strs("selectors", ids).
			Msg("Cache entry does not cover selectors")
		return nil, false
	}

	portalCacheLookupsTotal.WithLabelValues("hit").Inc()
	c.logger.Debug().Str("endpoint", req.endpoint).Msg("Cache hit")
	return entry.Data, true
}

// fetch performs the network request and writes the result back.
func (c *Client) fetch(ctx context.Context, req *request, opts Options) (*Response, error) {
	endpoint := req.endpoint

	ctx, span := c.tracer.Start(ctx, "portal.fetch", trace.WithAttributes(
		attribute.String("url.full", req.requestURL),
		attribute.String("portal.endpoint", endpoint),
		attribute.Int("portal.selectors", len(req.selectors.IDs)),
	))
	defer span.End()

	startTime := time.Now()
	defer func() {
		portalRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("url", req.requestURL).
		Msg("Executing portal request")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		portalErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		portalRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "network error")
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		return nil, fmt.Errorf("portal request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	portalRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if !isSuccess(resp.StatusCode) {
		_, _ = io.Copy(io.Discard, resp.Body)
		c.handleStatusError(ctx, span, endpoint, resp)
		return &Response{StatusCode: resp.StatusCode}, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		portalErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "read body")
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return &Response{StatusCode: resp.StatusCode}, nil
	}

	data, err := opts.decoder()(body)
	if err != nil {
		portalErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode")
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Undecodable portal response")
		return nil, &PortalError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassDecode,
			Endpoint:   endpoint,
			Message:    "response body is not valid JSON",
			Err:        err,
		}
	}

	if !req.selectors.Empty() {
		data = selector.Filter(data, req.selectors.IDs)
	}

	if opts.Cache.Enabled {
		if err := c.store.Set(ctx, req.baseURL, data); err != nil {
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to cache response")
		}
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(startTime)).
		Msg("Portal request completed")

	return &Response{Data: data, StatusCode: resp.StatusCode}, nil
}

// handleStatusError logs and counts a non-2xx response; 401 triggers re-authentication.
func (c *Client) handleStatusError(ctx context.Context, span trace.Span, endpoint string, resp *http.Response) {
	perr := &PortalError{
		StatusCode: resp.StatusCode,
		ErrorClass: classifyStatus(resp.StatusCode),
		Endpoint:   endpoint,
		Message:    resp.Status,
	}

	portalErrorsTotal.WithLabelValues(string(perr.ErrorClass)).Inc()
	span.SetStatus(codes.Error, perr.Message)

	c.logger.Warn().
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Str("error_class", string(perr.ErrorClass)).
		Msg(perr.Error())

	if perr.ErrorClass == ErrorClassAuth {
		c.handleUnauthorized(ctx)
	}
}

// handleUnauthorized records the expiry and sends the user to the auth entry point.
func (c *Client) handleUnauthorized(ctx context.Context) {
	if c.tracker != nil {
		if err := c.tracker.MarkExpired(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to record session expiry")
		}
	}

	authURL := c.authEntryURL()
	if c.config.OnUnauthorized != nil {
		c.config.OnUnauthorized(ctx, authURL)
		return
	}
	c.logger.Warn().Str("auth_entry", authURL).Msg("Session expired - re-authentication required")
}

func (c *Client) authEntryURL() string {
	entry := c.config.AuthEntryURL
	if c.baseURL == nil || entry == "" {
		return entry
	}
	u, err := url.Parse(entry)
	if err != nil {
		return entry
	}
	return c.baseURL.ResolveReference(u).String()
}

// Validate requests the keepalive path without caching and returns the status.
// It implements session.Validator.
func (c *Client) Validate(ctx context.Context) (int, error) {
	req, err := resolveRequest(c.baseURL, c.config.KeepalivePath, Options{})
	if err != nil {
		return 0, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.requestURL, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("validate session: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

// flightKey identifies requests that may share one fetch.
func flightKey(req *request, opts Options) string {
	return fmt.Sprintf("%s|custom=%t|cache=%t", req.requestURL, opts.CustomFormat, opts.Cache.Enabled)
}

// Store returns the response cache.
func (c *Client) Store() *store.Store {
	return c.store
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
// The client keeps its own cookie jar.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

var _ session.Validator = (*Client)(nil)
