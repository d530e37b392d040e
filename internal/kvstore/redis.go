package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "graphiti-browser:"

// RedisStore keeps values as plain redis strings under a key prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// OpenRedis connects to cfg.RedisAddr and verifies the connection.
func OpenRedis(ctx context.Context, cfg Config) (*RedisStore, error) {
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("kvstore: redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	slog.Info("kvstore: redis connected", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	return true, decode(key, data, dst)
}

func (s *RedisStore) Put(ctx context.Context, key string, v any) error {
	data, err := encode(key, v)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.prefix+key, data, 0).Err(); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
