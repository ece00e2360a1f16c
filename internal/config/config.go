package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the core runtime configuration for the service.
// Values are primarily sourced from environment variables, with
// sensible defaults where appropriate. See .env.example.
type Config struct {
	ListenAddr string

	// DatabaseURL is either a postgres:// URL or sqlite://<path>.
	DatabaseURL string

	// RedisURL points at the fast counter cache. Empty disables it and every
	// cache read falls through to the database.
	RedisURL string

	CacheProbeTimeout time.Duration
	CacheOpTimeout    time.Duration

	// Location decides where "today" starts for daily counters and buckets.
	Location *time.Location

	// EventCreatesSession makes custom events create a missing session row.
	EventCreatesSession bool

	// StatsToken guards the query and live endpoints when set.
	StatsToken string

	CORSOrigin string

	// ExcludeURLPatterns are SQL LIKE patterns for page URLs left out of
	// every statistic, such as the dashboard's own pages.
	ExcludeURLPatterns []string

	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables and applies
// defaults for anything missing or malformed.
func Load() *Config {
	cfg := &Config{
		ListenAddr:          getenv("APP_LISTEN_ADDR", ":8001"),
		DatabaseURL:         getenv("APP_DATABASE_URL", "sqlite://raymond_analysis.db"),
		RedisURL:            os.Getenv("APP_REDIS_URL"),
		CacheProbeTimeout:   250 * time.Millisecond,
		CacheOpTimeout:      500 * time.Millisecond,
		Location:            time.Local,
		EventCreatesSession: false,
		StatsToken:          os.Getenv("APP_STATS_TOKEN"),
		CORSOrigin:          getenv("APP_CORS_ORIGIN", "*"),
		LogLevel:            getenv("LOG_LEVEL", "info"),
		LogFormat:           getenv("LOG_FORMAT", "json"),
	}

	if _, ok := os.LookupEnv("APP_REDIS_URL"); !ok {
		cfg.RedisURL = "redis://localhost:6379/0"
	}

	if v := os.Getenv("APP_CACHE_PROBE_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.CacheProbeTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("APP_CACHE_OP_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.CacheOpTimeout = time.Duration(ms) * time.Millisecond
		}
	}

	cfg.ExcludeURLPatterns = defaultExcludePatterns
	if v, ok := os.LookupEnv("APP_EXCLUDE_URL_PATTERNS"); ok {
		cfg.ExcludeURLPatterns = splitList(v)
	}

	if v := strings.TrimSpace(os.Getenv("APP_TIMEZONE")); v != "" {
		if loc, err := time.LoadLocation(v); err == nil {
			cfg.Location = loc
		}
	}

	if v := os.Getenv("APP_EVENT_CREATES_SESSION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.EventCreatesSession = b
		}
	}

	return cfg
}

var defaultExcludePatterns = []string{"%/dashboard%", "%localhost:5500%"}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
