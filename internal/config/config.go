// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/api and cmd/ingest.
//
// The schedule reference epoch and interval are deliberately absent: they live
// in the versioned schedule_config record (see internal/schedule).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Table names: single source of truth, matches schema/schema.sql
// --------------------------------------------------------------------------

const (
	ScheduleConfigTable   = "schedule_config"
	FixtureCyclesTable    = "fixture_cycles"
	FixtureHashesTable    = "fixture_hashes"
	OutcomesTable         = "match_outcomes"
	WagersTable           = "wagers"
	UsersTable            = "users"
	SettlementEventsTable = "settlement_events"
	NotificationsTable    = "notifications"
)

// --------------------------------------------------------------------------
// Config struct, populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Database
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// CORS
	CORSAllowOrigins []string

	// Response cache
	CacheEnabled    bool
	CacheMaxEntries int

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Leagues and fixtures
	LeaguesFile         string
	FixtureSalt         string
	FixtureHorizonWeeks int
	FixtureMaxAttempts  int

	// Match resolver
	MatchPoolMinSize int
	MatchesPerWeek   int

	// Settlement
	SettleBatchSize     int
	SettleInterval      time.Duration
	SettleWorkers       int
	SettleNotifyTimeout time.Duration
	SettleStuckAfter    time.Duration

	// Outcome publication
	PublishInterval time.Duration
	PublishBackfill int

	// Optional integrations
	RedisURL        string
	TelegramToken   string
	TelegramChatID  int64
	NotifyRetention time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// DATABASE_URL is not validated here; commands that need it call RequireDatabase.
func Load() (*Config, error) {
	chatID := int64(0)
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TELEGRAM_CHAT_ID: %w", err)
		}
		chatID = n
	}

	cfg := &Config{
		DatabaseURL:    envOr("DATABASE_URL", ""),
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		CacheEnabled:    envBool("CACHE_ENABLED", true),
		CacheMaxEntries: envInt("CACHE_MAX_ENTRIES", 10_000),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		LeaguesFile:         envOr("LEAGUES_FILE", "leagues.yaml"),
		FixtureSalt:         envOr("FIXTURE_SALT", "scoracle"),
		FixtureHorizonWeeks: envInt("FIXTURE_HORIZON_WEEKS", 38),
		FixtureMaxAttempts:  envInt("FIXTURE_MAX_ATTEMPTS", 100),

		MatchPoolMinSize: envInt("MATCH_POOL_MIN_SIZE", 200),
		MatchesPerWeek:   envInt("MATCHES_PER_WEEK", 10),

		SettleBatchSize:     envInt("SETTLE_BATCH_SIZE", 100),
		SettleInterval:      envDuration("SETTLE_INTERVAL", 30*time.Second),
		SettleWorkers:       envInt("SETTLE_WORKERS", 2),
		SettleNotifyTimeout: envDuration("SETTLE_NOTIFY_TIMEOUT", 5*time.Second),
		SettleStuckAfter:    envDuration("SETTLE_STUCK_AFTER", 2*time.Minute),

		PublishInterval: envDuration("PUBLISH_INTERVAL", time.Minute),
		PublishBackfill: envInt("PUBLISH_BACKFILL", 500),

		RedisURL:        envOr("REDIS_URL", ""),
		TelegramToken:   envOr("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:  chatID,
		NotifyRetention: envDuration("NOTIFY_RETENTION", 30*24*time.Hour),
	}

	if cfg.MatchesPerWeek < 1 {
		return nil, fmt.Errorf("MATCHES_PER_WEEK must be positive, got %d", cfg.MatchesPerWeek)
	}
	if cfg.SettleBatchSize < 1 {
		return nil, fmt.Errorf("SETTLE_BATCH_SIZE must be positive, got %d", cfg.SettleBatchSize)
	}
	return cfg, nil
}

// RequireDatabase returns an error when no database URL is configured.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}
	return nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// TelegramEnabled reports whether both bot token and chat are configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go duration strings ("30s") or a bare number of seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
