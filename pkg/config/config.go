// Package config loads the portal client settings from the environment.
//
// Every key can be set as PORTAL_<KEY> (for example PORTAL_BASE_URL). An optional
// .env file is loaded first; variables already present in the environment win.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of all environment variables.
const EnvPrefix = "PORTAL"

// Setting keys.
const (
	KeyBaseURL           = "base_url"
	KeyUserAgent         = "user_agent"
	KeyRedisURL          = "redis_url"
	KeySessionID         = "session_id"
	KeySessionCookie     = "session_cookie"
	KeySessionCookieName = "session_cookie_name"
	KeySessionTTL        = "session_ttl"
	KeyCachePeriod       = "cache_period"
	KeyHTTPTimeout       = "http_timeout"
	KeyKeepaliveInterval = "keepalive_interval"
	KeyKeepalivePath     = "keepalive_path"
	KeyAuthEntry         = "auth_entry"
	KeyPort              = "port"
	KeyLogLevel          = "log_level"
	KeyLogPretty         = "log_pretty"
	KeyWarmConcurrency   = "warm_concurrency"
)

// ErrMissingBaseURL is returned when no portal base URL is configured.
var ErrMissingBaseURL = errors.New("base url is required")

// Config holds all settings.
type Config struct {
	BaseURL   string
	UserAgent string

	// RedisURL selects the Redis session slot; empty keeps the cache in memory.
	RedisURL string

	// SessionID scopes the cache; empty means "generate one".
	SessionID         string
	SessionCookie     string
	SessionCookieName string
	SessionTTL        time.Duration

	// CachePeriod in seconds applied by the proxy to every request.
	CachePeriod int

	HTTPTimeout       time.Duration
	KeepaliveInterval time.Duration
	KeepalivePath     string
	AuthEntry         string

	Port      string
	LogLevel  string
	LogPretty bool

	WarmConcurrency int
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault(KeyBaseURL, "")
	v.SetDefault(KeyUserAgent, "school-portal-client/0.1.0")
	v.SetDefault(KeyRedisURL, "")
	v.SetDefault(KeySessionID, "")
	v.SetDefault(KeySessionCookie, "")
	v.SetDefault(KeySessionCookieName, "PortalSession")
	v.SetDefault(KeySessionTTL, 8*time.Hour)
	v.SetDefault(KeyCachePeriod, 600)
	v.SetDefault(KeyHTTPTimeout, 30*time.Second)
	v.SetDefault(KeyKeepaliveInterval, 2*time.Minute)
	v.SetDefault(KeyKeepalivePath, "/api/Session")
	v.SetDefault(KeyAuthEntry, "/login")
	v.SetDefault(KeyPort, "8080")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogPretty, false)
	v.SetDefault(KeyWarmConcurrency, 4)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads the optional dotenv file and returns the resolved configuration.
// A missing file is ignored; an empty path skips dotenv loading.
func Load(dotEnvPath string) (*Config, error) {
	if dotEnvPath != "" {
		if _, err := os.Stat(dotEnvPath); err == nil {
			if err := godotenv.Load(dotEnvPath); err != nil {
				return nil, fmt.Errorf("load %s: %w", dotEnvPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat %s: %w", dotEnvPath, err)
		}
	}

	cfg := FromViper(New())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromViper maps a viper instance onto Config.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		BaseURL:           strings.TrimSuffix(v.GetString(KeyBaseURL), "/"),
		UserAgent:         v.GetString(KeyUserAgent),
		RedisURL:          v.GetString(KeyRedisURL),
		SessionID:         v.GetString(KeySessionID),
		SessionCookie:     v.GetString(KeySessionCookie),
		SessionCookieName: v.GetString(KeySessionCookieName),
		SessionTTL:        v.GetDuration(KeySessionTTL),
		CachePeriod:       v.GetInt(KeyCachePeriod),
		HTTPTimeout:       v.GetDuration(KeyHTTPTimeout),
		KeepaliveInterval: v.GetDuration(KeyKeepaliveInterval),
		KeepalivePath:     v.GetString(KeyKeepalivePath),
		AuthEntry:         v.GetString(KeyAuthEntry),
		Port:              v.GetString(KeyPort),
		LogLevel:          v.GetString(KeyLogLevel),
		LogPretty:         v.GetBool(KeyLogPretty),
		WarmConcurrency:   v.GetInt(KeyWarmConcurrency),
	}
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrMissingBaseURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("base url must be absolute (got %q)", c.BaseURL)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent is required")
	}
	if c.CachePeriod < 0 {
		return fmt.Errorf("cache period must not be negative (got %d)", c.CachePeriod)
	}
	if c.WarmConcurrency < 1 {
		return fmt.Errorf("warm concurrency must be at least 1 (got %d)", c.WarmConcurrency)
	}
	return nil
}

// RedisOptions parses RedisURL. Both redis:// URLs and bare host:port are accepted.
// Returns nil when Redis is not configured.
func (c *Config) RedisOptions() (*redis.Options, error) {
	if c.RedisURL == "" {
		return nil, nil
	}
	if !strings.Contains(c.RedisURL, "://") {
		return &redis.Options{Addr: c.RedisURL}, nil
	}
	opts, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return opts, nil
}
