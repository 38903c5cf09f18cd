package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "LOG_LEVEL", "HTTP_TIMEOUT_SECONDS", "WAREHOUSE_DSN", "WAREHOUSE_TABLE",
		"QUERY_TIMEOUT_SECONDS", "PERSPECTIVES_FILE", "CACHE_TTL_SECONDS", "CACHE_MAX_ENTRIES", "FACTS_URL", "SESSION_MAX", "SESSION_IDLE_SECONDS"} {
		t.Setenv(k, "")
	}
	c := FromEnv()
	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, slog.LevelInfo, c.LogLevel)
	assert.Equal(t, 15*time.Second, c.HTTPTimeout)
	assert.Equal(t, "ad_daily_facts", c.WarehouseTable)
	assert.Equal(t, 5*time.Minute, c.CacheTTL)
	assert.Equal(t, 256, c.CacheMaxEntries)
	assert.Equal(t, 1000, c.SessionMax)
	assert.Equal(t, 30*time.Minute, c.SessionIdle)
	assert.Empty(t, c.WarehouseDSN)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CACHE_TTL_SECONDS", "60")
	t.Setenv("CACHE_MAX_ENTRIES", "32")
	t.Setenv("QUERY_TIMEOUT_SECONDS", "2.5")
	t.Setenv("WAREHOUSE_DSN", "postgres://localhost/ads")
	t.Setenv("SESSION_MAX", "10")
	t.Setenv("SESSION_IDLE_SECONDS", "600")

	c := FromEnv()
	assert.Equal(t, "9000", c.Port)
	assert.Equal(t, slog.LevelDebug, c.LogLevel)
	assert.Equal(t, time.Minute, c.CacheTTL)
	assert.Equal(t, 32, c.CacheMaxEntries)
	assert.Equal(t, 2500*time.Millisecond, c.QueryTimeout)
	assert.Equal(t, "postgres://localhost/ads", c.WarehouseDSN)
	assert.Equal(t, 10, c.SessionMax)
	assert.Equal(t, 10*time.Minute, c.SessionIdle)
}

func TestFromEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("CACHE_TTL_SECONDS", "soon")
	t.Setenv("CACHE_MAX_ENTRIES", "-4")
	c := FromEnv()
	assert.Equal(t, 5*time.Minute, c.CacheTTL)
	assert.Equal(t, 256, c.CacheMaxEntries)
}
