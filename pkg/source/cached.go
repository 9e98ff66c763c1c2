package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aquaponics/pondwatch/pkg/cache"
	"github.com/aquaponics/pondwatch/pkg/sensor"
)

// CacheRecorder receives cache hit and miss events.
type CacheRecorder interface {
	CacheHit(pond string)
	CacheMiss(pond string)
}

type noopRecorder struct{}

func (noopRecorder) CacheHit(string)  {}
func (noopRecorder) CacheMiss(string) {}

// Cached serves series from a cache, falling back to the wrapped source on a
// miss. Cache failures are logged and never fail a read. A load that
// overlaps an Invalidate of the same pond is returned but not cached.
type Cached struct {
	src   Source
	cache cache.Cache
	ttl   time.Duration
	log   *zap.SugaredLogger
	rec   CacheRecorder

	mu          sync.Mutex
	generations map[string]uint64
}

// NewCached wraps src. rec may be nil.
func NewCached(src Source, c cache.Cache, ttl time.Duration, log *zap.SugaredLogger, rec CacheRecorder) *Cached {
	if rec == nil {
		rec = noopRecorder{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Cached{src: src, cache: c, ttl: ttl, log: log, rec: rec, generations: make(map[string]uint64)}
}

func (c *Cached) Ponds(ctx context.Context) ([]string, error) {
	return c.src.Ponds(ctx)
}

func (c *Cached) Series(ctx context.Context, pond string) (sensor.Series, error) {
	s, ok, err := c.cache.Get(ctx, pond)
	if err != nil {
		c.log.Warnw("series cache read failed", "pond", pond, "error", err)
	}
	if ok {
		c.rec.CacheHit(pond)
		return s, nil
	}
	c.rec.CacheMiss(pond)

	gen := c.generation(pond)
	s, err = c.src.Series(ctx, pond)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[pond] != gen {
		c.log.Debugw("pond changed while loading, not caching", "pond", pond)
		return s, nil
	}
	if err := c.cache.Set(ctx, pond, s, c.ttl); err != nil {
		c.log.Warnw("series cache write failed", "pond", pond, "error", err)
	}
	return s, nil
}

func (c *Cached) generation(pond string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[pond]
}

// Invalidate drops the cached series of pond. Loads already in flight for
// pond will not cache their result.
func (c *Cached) Invalidate(ctx context.Context, pond string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[pond]++
	if err := c.cache.Delete(ctx, pond); err != nil {
		return fmt.Errorf("failed to invalidate %q: %w", pond, err)
	}
	return nil
}
