package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port            int
	Env             string
	LogLevel        string
	WebhookURL      string
	WebhookTimeout  time.Duration
	KVBackend       string
	RedisURL        string
	DatabaseURL     string
	SQLitePath      string
	NatsURL         string
	OpenAIAPIKey    string
	RealtimeModel   string
	RealtimeVoice   string
	AgentsFile      string
	CleanupInterval time.Duration
	CleanupMaxAge   time.Duration
}

func Load() Config {
	return Config{
		Port:            envInt("PORT", 3000),
		Env:             envStr("NODE_ENV", "production"),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		WebhookURL:      envStr("ZAPIER_WEBHOOK_URL", ""),
		WebhookTimeout:  envMillis("WEBHOOK_TIMEOUT_MS", 10000),
		KVBackend:       envStr("KV_BACKEND", "memory"),
		RedisURL:        envStr("REDIS_URL", "redis://localhost:6379/0"),
		DatabaseURL:     envStr("DATABASE_URL", ""),
		SQLitePath:      envStr("SQLITE_PATH", "panface.db"),
		NatsURL:         envStr("NATS_URL", ""),
		OpenAIAPIKey:    envStr("OPENAI_API_KEY", ""),
		RealtimeModel:   envStr("REALTIME_MODEL", "gpt-4o-realtime-preview-2024-12-17"),
		RealtimeVoice:   envStr("REALTIME_VOICE", "coral"),
		AgentsFile:      envStr("AGENTS_FILE", ""),
		CleanupInterval: envMillis("CLEANUP_INTERVAL_MS", 0),
		CleanupMaxAge:   envMillis("CLEANUP_MAX_AGE_MS", 24*60*60*1000),
	}
}

// Development reports whether the service runs with NODE_ENV=development.
func (c Config) Development() bool {
	return c.Env == "development"
}

func envStr(key, fallback string) string {
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

func envMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}
