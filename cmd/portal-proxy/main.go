package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/school-portal-client/pkg/batch"
	"github.com/Sternrassler/school-portal-client/pkg/client"
	"github.com/Sternrassler/school-portal-client/pkg/config"
	"github.com/Sternrassler/school-portal-client/pkg/logging"
	"github.com/Sternrassler/school-portal-client/pkg/session"
	"github.com/Sternrassler/school-portal-client/pkg/store"
)

func main() {
	envFile := os.Getenv("PORTAL_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}

	cfg, err := config.Load(envFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	logging.Setup(logging.Config{
		Level:   logging.LogLevel(cfg.LogLevel),
		Pretty:  cfg.LogPretty,
		Output:  os.Stderr,
		Service: logging.ComponentProxy,
	})
	logger := logging.NewLogger(logging.ComponentProxy)

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	logger = logging.WithSession(logger, sessionID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Setup Redis (optional)
	var redisClient *redis.Client
	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid Redis configuration")
	}
	if redisOpts != nil {
		redisClient = redis.NewClient(redisOpts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Str("addr", redisOpts.Addr).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()
		logger.Info().Str("addr", redisOpts.Addr).Msg("Connected to Redis")
	}

	var slot store.Slot = store.NewMemorySlot()
	if redisClient != nil {
		slot = store.NewRedisSlot(redisClient, sessionID, cfg.SessionTTL)
	}
	st := store.NewStore(slot, logging.WithSession(logging.NewLogger(logging.ComponentStore), sessionID))
	tracker := session.NewTracker(redisClient, sessionID, cfg.SessionTTL, logging.NewLogger(logging.ComponentSession))

	clientCfg := client.DefaultConfig(st, cfg.BaseURL, cfg.UserAgent)
	clientCfg.Timeout = cfg.HTTPTimeout
	clientCfg.Tracker = tracker
	clientCfg.AuthEntryURL = cfg.AuthEntry
	clientCfg.KeepalivePath = cfg.KeepalivePath
	if cfg.SessionCookie != "" {
		clientCfg.Cookies = []*http.Cookie{{Name: cfg.SessionCookieName, Value: cfg.SessionCookie, Path: "/"}}
	}

	portalClient, err := client.New(clientCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create portal client")
	}
	defer portalClient.Close()

	keepalive := session.NewKeepalive(portalClient, tracker, session.KeepaliveConfig{
		Interval: cfg.KeepaliveInterval,
		Retry:    session.DefaultRetryConfig(),
		OnExpired: func(context.Context) {
			logger.Warn().Str("auth_entry", cfg.AuthEntry).Msg("Session expired - log in again")
		},
	}, logger)
	go func() {
		if err := keepalive.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Keepalive stopped")
		}
	}()

	warmer := batch.NewWarmer(portalClient, batch.Config{
		MaxConcurrency: cfg.WarmConcurrency,
		Timeout:        cfg.HTTPTimeout,
	})

	srv := &server{
		client:      portalClient,
		store:       st,
		tracker:     tracker,
		warmer:      warmer,
		redis:       redisClient,
		cachePeriod: cfg.CachePeriod,
		authEntry:   cfg.AuthEntry,
		logger:      logger,
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Shutdown failed")
		}
	}()

	logger.Info().
		Str("addr", httpServer.Addr).
		Str("base_url", cfg.BaseURL).
		Str("user_agent", cfg.UserAgent).
		Bool("redis", redisClient != nil).
		Msg("Starting portal proxy server")

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("Server failed")
	}
	logger.Info().Msg("Server stopped")
}
