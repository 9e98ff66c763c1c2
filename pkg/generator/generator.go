// Package generator simulates the sensor network of a pond, emitting random
// readings at a fixed frequency to a Sink.
package generator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aquaponics/pondwatch/pkg/sensor"
)

// Sink receives generated readings.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string
	Publish(ctx context.Context, pond string, r sensor.Reading) error
}

// Recorder observes publish outcomes. *metrics.Metrics implements it.
type Recorder interface {
	RecordReadingPublished(sink string, err error)
}

type noopRecorder struct{}

func (noopRecorder) RecordReadingPublished(string, error) {}

// Config configures a Generator.
type Config struct {
	Pond      string
	Frequency time.Duration
	Start     time.Time
	Seed      uint64
	Columns   []Column
	// Limit stops Stream after this many readings; zero streams until cancelled.
	Limit int
	// MaxConsecutiveErrors stops Stream after this many failed publishes in a row; zero never stops.
	MaxConsecutiveErrors int
}

// Generator produces readings for one pond. Next is safe for concurrent use.
type Generator struct {
	mu      sync.Mutex
	cfg     Config
	rng     *rand.Rand
	entryID int64
	log     *zap.SugaredLogger
	rec     Recorder
}

// New validates cfg and returns a Generator. rec may be nil.
func New(cfg Config, log *zap.SugaredLogger, rec Recorder) (*Generator, error) {
	if cfg.Pond == "" {
		return nil, errors.New("invalid pond: must not be empty")
	}
	if cfg.Frequency <= 0 {
		return nil, fmt.Errorf("invalid frequency: must be greater than 0: %s", cfg.Frequency)
	}
	if len(cfg.Columns) == 0 {
		cfg.Columns = DefaultColumns()
	}
	for _, c := range cfg.Columns {
		if c.Delta < 0 {
			return nil, fmt.Errorf("invalid delta for %s: %v", c.Field, c.Delta)
		}
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Now().UTC()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if rec == nil {
		rec = noopRecorder{}
	}
	return &Generator{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		log: log,
		rec: rec,
	}, nil
}

// Next returns the following reading. The first reading is stamped at
// Start with entry id 1; each later one is one Frequency apart.
func (g *Generator) Next() sensor.Reading {
	g.mu.Lock()
	defer g.mu.Unlock()

	createdAt := g.cfg.Start.Add(time.Duration(g.entryID) * g.cfg.Frequency)
	g.entryID++
	r := sensor.NewReading(createdAt, g.entryID)
	for _, c := range g.cfg.Columns {
		c.Field.Set(&r, c.draw(g.rng))
	}
	return r
}

// Stream publishes one reading per Frequency tick to sink until ctx is done,
// Limit is reached or too many publishes fail in a row.
func (g *Generator) Stream(ctx context.Context, sink Sink) error {
	t := time.NewTicker(g.cfg.Frequency)
	defer t.Stop()

	sent, failures := 0, 0
	for {
		r := g.Next()
		err := sink.Publish(ctx, g.cfg.Pond, r)
		g.rec.RecordReadingPublished(sink.Name(), err)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			g.log.Warnw("failed to publish reading",
				"pond", g.cfg.Pond,
				"sink", sink.Name(),
				"entryID", r.EntryID,
				"error", err,
			)
			if g.cfg.MaxConsecutiveErrors > 0 && failures >= g.cfg.MaxConsecutiveErrors {
				return fmt.Errorf("sink %s failed %d times in a row: %w", sink.Name(), failures, err)
			}
		} else {
			failures = 0
			sent++
			g.log.Debugw("published reading", "pond", g.cfg.Pond, "sink", sink.Name(), "entryID", r.EntryID)
		}

		if g.cfg.Limit > 0 && sent >= g.cfg.Limit {
			g.log.Infow("generator reached limit", "pond", g.cfg.Pond, "sent", sent)
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
