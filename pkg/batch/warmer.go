package batch

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/school-portal-client/pkg/client"
)

var (
	warmTargetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_warm_targets_total",
		Help: "Total number of warmed targets by result",
	}, []string{"result"}) // "ok", "empty", "error", "cancelled"

	warmDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "portal_warm_duration_seconds",
		Help:    "Duration of a warm-up run in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	})
)

// Config holds warmer configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel requests
	MaxConcurrency int
	// Timeout per target
	Timeout time.Duration
}

// DefaultConfig returns a configuration gentle enough for the portal.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        30 * time.Second,
	}
}

// Fetcher is implemented by *client.Client.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, opts client.Options) (any, error)
}

// Target is one resource to preload.
type Target struct {
	// Name keys the result; the URL is used when empty.
	Name    string
	URL     string
	Options client.Options
}

func (t Target) key() string {
	if t.Name != "" {
		return t.Name
	}
	return t.URL
}

// Result is the outcome of warming one target.
type Result struct {
	Data     any
	Err      error
	Duration time.Duration
}

// OK reports whether the target returned data.
func (r Result) OK() bool {
	return r.Err == nil && r.Data != nil
}

// Warmer preloads portal resources into the cache with a worker pool.
type Warmer struct {
	fetcher Fetcher
	config  Config
	logger  zerolog.Logger
}

// NewWarmer creates a new warmer.
func NewWarmer(fetcher Fetcher, config Config) *Warmer {
	if fetcher == nil {
		panic("fetcher cannot be nil")
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Warmer{
		fetcher: fetcher,
		config:  config,
		logger:  log.With().Str("component", "warmer").Logger(),
	}
}

type job struct {
	index  int
	target Target
}

type jobResult struct {
	key    string
	result Result
}

// WarmAll fetches every target and returns one result per target key.
// Targets sharing a key are fetched once, using the first of them.
// Caching is forced on for every target. A failing target does not stop the
// others; targets not started before ctx is done report ctx.Err().
func (w *Warmer) WarmAll(ctx context.Context, targets []Target) map[string]Result {
	start := time.Now()
	defer func() { warmDuration.Observe(time.Since(start).Seconds()) }()

	targets = dedupe(targets)
	results := make(map[string]Result, len(targets))
	if len(targets) == 0 {
		return results
	}

	queue := make(chan job, len(targets))
	for i, t := range targets {
		queue <- job{index: i, target: t}
	}
	close(queue)

	workers := w.config.MaxConcurrency
	if workers > len(targets) {
		workers = len(targets)
	}

	out := make(chan jobResult, len(targets))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go w.worker(ctx, queue, out, &wg, i)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	var ok, failed int
	for r := range out {
		results[r.key] = r.result
		if r.result.Err != nil {
			failed++
		} else {
			ok++
		}
	}

	w.logger.Info().
		Int("targets", len(targets)).
		Int("ok", ok).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Warm-up complete")

	return results
}

// dedupe drops targets whose key was already seen, keeping the first.
func dedupe(targets []Target) []Target {
	seen := make(map[string]struct{}, len(targets))
	out := make([]Target, 0, len(targets))
	for _, t := range targets {
		if _, ok := seen[t.key()]; ok {
			continue
		}
		seen[t.key()] = struct{}{}
		out = append(out, t)
	}
	return out
}

// worker processes targets from the queue
func (w *Warmer) worker(ctx context.Context, queue <-chan job, out chan<- jobResult, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	processed := 0

	for j := range queue {
		key := j.target.key()

		if err := ctx.Err(); err != nil {
			warmTargetsTotal.WithLabelValues("cancelled").Inc()
			out <- jobResult{key: key, result: Result{Err: err}}
			continue
		}

		out <- jobResult{key: key, result: w.warm(ctx, j.target)}
		processed++
	}

	if processed > 0 {
		w.logger.Debug().
			Int("worker_id", workerID).
			Int("targets_processed", processed).
			Msg("Worker completed")
	}
}

func (w *Warmer) warm(ctx context.Context, t Target) Result {
	opts := t.Options
	opts.Cache.Enabled = true

	tctx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	start := time.Now()
	data, err := w.fetcher.Get(tctx, t.URL, opts)
	r := Result{Data: data, Err: err, Duration: time.Since(start)}

	switch {
	case err != nil:
		warmTargetsTotal.WithLabelValues("error").Inc()
		w.logger.Warn().Err(err).Str("target", t.key()).Msg("Warm-up target failed")
	case data == nil:
		warmTargetsTotal.WithLabelValues("empty").Inc()
		w.logger.Debug().Str("target", t.key()).Msg("Warm-up target returned no data")
	default:
		warmTargetsTotal.WithLabelValues("ok").Inc()
	}

	return r
}
