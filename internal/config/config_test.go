package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var allKeys = []string{"PORT", "NODE_ENV", "LOG_LEVEL", "ZAPIER_WEBHOOK_URL", "WEBHOOK_TIMEOUT_MS",
	"KV_BACKEND", "REDIS_URL", "DATABASE_URL", "SQLITE_PATH", "NATS_URL", "OPENAI_API_KEY",
	"REALTIME_MODEL", "REALTIME_VOICE", "AGENTS_FILE", "CLEANUP_INTERVAL_MS", "CLEANUP_MAX_AGE_MS"}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "production", cfg.Env)
	assert.False(t, cfg.Development())
	assert.Empty(t, cfg.WebhookURL)
	assert.Equal(t, 10*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, "memory", cfg.KVBackend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Empty(t, cfg.NatsURL, "nats disabled by default")
	assert.Equal(t, "coral", cfg.RealtimeVoice)
	assert.Zero(t, cfg.CleanupInterval, "sweeper disabled by default")
	assert.Equal(t, 24*time.Hour, cfg.CleanupMaxAge)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("NODE_ENV", "development")
	t.Setenv("ZAPIER_WEBHOOK_URL", "https://hooks.zapier.com/hooks/catch/1/abc")
	t.Setenv("WEBHOOK_TIMEOUT_MS", "2500")
	t.Setenv("KV_BACKEND", "redis")
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("CLEANUP_INTERVAL_MS", "60000")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()

	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.Development())
	assert.Equal(t, "https://hooks.zapier.com/hooks/catch/1/abc", cfg.WebhookURL)
	assert.Equal(t, 2500*time.Millisecond, cfg.WebhookTimeout)
	assert.Equal(t, "redis", cfg.KVBackend)
	assert.Equal(t, "nats://localhost:4222", cfg.NatsURL)
	assert.Equal(t, time.Minute, cfg.CleanupInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InvalidInt(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "notanumber")
	t.Setenv("WEBHOOK_TIMEOUT_MS", "soon")

	cfg := Load()

	assert.Equal(t, 3000, cfg.Port, "invalid value falls back to default")
	assert.Equal(t, 10*time.Second, cfg.WebhookTimeout)
}
