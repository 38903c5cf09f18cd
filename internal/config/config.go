package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	HTTPTimeout time.Duration
	LogLevel    slog.Level

	// WarehouseDSN selects Postgres; empty runs on the in-memory warehouse.
	WarehouseDSN     string
	WarehouseTable   string
	QueryTimeout     time.Duration
	PerspectivesFile string

	CacheTTL        time.Duration
	CacheMaxEntries int

	SessionMax  int
	SessionIdle time.Duration

	// FactsURL is the upstream JSON feed loaded into the in-memory warehouse.
	FactsURL string
}

func FromEnv() Config {
	lvl := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		lvl = slog.LevelDebug
	}
	return Config{
		Port:             envOr("PORT", "8080"),
		HTTPTimeout:      seconds("HTTP_TIMEOUT_SECONDS", 15*time.Second),
		LogLevel:         lvl,
		WarehouseDSN:     os.Getenv("WAREHOUSE_DSN"),
		WarehouseTable:   envOr("WAREHOUSE_TABLE", "ad_daily_facts"),
		QueryTimeout:     seconds("QUERY_TIMEOUT_SECONDS", 30*time.Second),
		PerspectivesFile: os.Getenv("PERSPECTIVES_FILE"),
		CacheTTL:         seconds("CACHE_TTL_SECONDS", 5*time.Minute),
		CacheMaxEntries:  intOr("CACHE_MAX_ENTRIES", 256),
		SessionMax:       intOr("SESSION_MAX", 1000),
		SessionIdle:      seconds("SESSION_IDLE_SECONDS", 30*time.Minute),
		FactsURL:         os.Getenv("FACTS_URL"),
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func seconds(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func intOr(k string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(k)); err == nil && n > 0 {
		return n
	}
	return def
}
