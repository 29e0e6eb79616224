package repository

import (
	"context"
	"fmt"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Params selects and addresses a backend.
type Params struct {
	Backend       string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Open returns the Store for p.Backend. An empty backend means SQLite.
func Open(ctx context.Context, p Params, opts ...Option) (Store, error) {
	switch p.Backend {
	case "", BackendSQLite:
		return OpenSQLite(ctx, p.SQLitePath, opts...)
	case BackendRedis:
		return OpenRedis(ctx, p.RedisAddr, p.RedisPassword, p.RedisDB, opts...)
	default:
		return nil, fmt.Errorf("%q: %w", p.Backend, ErrUnknownBackend)
	}
}
