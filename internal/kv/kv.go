// Package kv provides an opaque string-keyed value store with pluggable
// backends. Each operation is atomic on a single key; nothing spans keys.
package kv

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kv: key not found")

// Store is the interface consumed by the transcript store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Options carries backend-specific connection settings.
type Options struct {
	RedisURL    string
	DatabaseURL string
	SQLitePath  string
}

// Open returns the backend named by kind: memory, redis, postgres or sqlite.
func Open(ctx context.Context, kind string, opts Options) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(ctx, opts.RedisURL)
	case "postgres":
		if opts.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres backend")
		}
		return NewPostgres(ctx, opts.DatabaseURL)
	case "sqlite":
		return NewSQLite(ctx, opts.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown kv backend %q", kind)
	}
}
