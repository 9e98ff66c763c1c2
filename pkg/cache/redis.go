package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aquaponics/pondwatch/pkg/sensor"
)

// Redis stores series as JSON strings, one key per pond.
type Redis struct {
	cli    *redis.Client
	prefix string
}

func NewRedis(addr string, db int, password, prefix string) *Redis {
	cli := redis.NewClient(&redis.Options{Addr: addr, DB: db, Password: password})
	return &Redis{cli: cli, prefix: prefix}
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(cli *redis.Client, prefix string) *Redis {
	return &Redis{cli: cli, prefix: prefix}
}

func (r *Redis) Close() error { return r.cli.Close() }

// Ping checks the connection to Redis.
func (r *Redis) Ping(ctx context.Context) error {
	return r.cli.Ping(ctx).Err()
}

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) Get(ctx context.Context, key string) (sensor.Series, bool, error) {
	b, err := r.cli.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get series %q: %w", key, err)
	}
	var s sensor.Series
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, false, fmt.Errorf("failed to decode series %q: %w", key, err)
	}
	return s, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, s sensor.Series, ttl time.Duration) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode series %q: %w", key, err)
	}
	if err := r.cli.Set(ctx, r.key(key), b, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set series %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.cli.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete series %q: %w", key, err)
	}
	return nil
}
