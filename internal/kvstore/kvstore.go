// Package kvstore is the durable key-value storage behind persisted client
// state (chat history, preferences). Values are stored JSON-encoded.
package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Store is a JSON key-value store.
type Store interface {
	// Get decodes the value at key into dst. It reports false when the key
	// does not exist.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Put(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Driver        string
	Path          string // sqlite file
	DSN           string // postgres
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Prefix        string // redis key prefix
}

// Open returns the backend named by cfg.Driver. An empty driver means sqlite.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("kvstore: sqlite path is required")
		}
		return OpenSQLite(ctx, cfg.Path)
	case DriverPostgres, "pg", "pgx":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("kvstore: postgres dsn is required")
		}
		return OpenPostgres(ctx, cfg.DSN)
	case DriverRedis:
		return OpenRedis(ctx, cfg)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("kvstore: unknown driver %q", cfg.Driver)
	}
}

func encode(key string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", key, err)
	}
	return data, nil
}

func decode(key string, data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
