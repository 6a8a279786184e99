package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config selects and configures a backend.
type Config struct {
	// Backend is one of "sqlite" (default), "redis" or "memory".
	Backend string
	// Path is the SQLite database file. Defaults to "hikari.db".
	Path string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// KeyPrefix namespaces every Redis key. Defaults to "hikari:".
	KeyPrefix string
}

// Open constructs the configured backend and verifies it is reachable.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendSQLite:
		path := cfg.Path
		if path == "" {
			path = "hikari.db"
		}
		return OpenSQLite(path)
	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:        cfg.RedisAddr,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			DialTimeout: 5 * time.Second,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("docstore: redis ping %s: %w", cfg.RedisAddr, err)
		}
		return NewRedis(client, cfg.KeyPrefix), nil
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("docstore: unknown backend %q", cfg.Backend)
	}
}
