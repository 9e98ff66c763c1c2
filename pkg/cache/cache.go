// Package cache stores loaded pond series for a bounded time so repeated
// dashboard refreshes do not reload the backing source on every request.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/aquaponics/pondwatch/pkg/sensor"
)

// Cache is a TTL cache of series keyed by pond name.
type Cache interface {
	// Get returns the cached series and whether it was present and unexpired.
	Get(ctx context.Context, key string) (sensor.Series, bool, error)
	// Set stores s under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, s sensor.Series, ttl time.Duration) error
	// Delete removes key; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Config selects and configures the cache backend.
type Config struct {
	Backend   string        `env:"CACHE_BACKEND" envDefault:"memory"` // memory or redis
	TTL       time.Duration `env:"CACHE_TTL" envDefault:"1m"`
	RedisAddr string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB   int           `env:"REDIS_DB" envDefault:"0"`
	RedisPass string        `env:"REDIS_PASSWORD" envDefault:""`
	KeyPrefix string        `env:"REDIS_KEY_PREFIX" envDefault:"pondwatch:series:"`
}

// LoadConfig reads the cache configuration from environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse cache config: %w", err)
	}
	return cfg, nil
}

// New builds the backend named by cfg.Backend. The returned close function
// releases backend resources.
func New(cfg Config) (Cache, func() error, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), func() error { return nil }, nil
	case "redis":
		r := NewRedis(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPass, cfg.KeyPrefix)
		return r, r.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
