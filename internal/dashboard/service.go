// Package dashboard composes the live dashboard views from pond sources and
// session-scoped window rotation.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/aquaponics/pondwatch/pkg/checkpointer"
	"github.com/aquaponics/pondwatch/pkg/rotation"
	"github.com/aquaponics/pondwatch/pkg/sensor"
	"github.com/aquaponics/pondwatch/pkg/source"
)

// Rotation keys and view names.
const (
	ViewMain      = "main"
	ViewAggregate = "aggregate"
	ViewPond      = "pond"

	aggregateKey = "aggregate"
)

var ErrNoPonds = errors.New("no ponds available")

// MainKey is the rotation key of a pond card on the overview page.
func MainKey(pond string) string { return "main_" + pond }

// PondKey is the rotation key of a pond detail page.
func PondKey(pond string) string { return "pond_" + pond }

// Config holds the view settings.
type Config struct {
	Window   int
	Forecast int
	Epsilon  float64
	Fields   []sensor.Field
	Align    rotation.AlignPolicy
}

// DefaultConfig returns the dashboard defaults.
func DefaultConfig() Config {
	return Config{
		Window:   rotation.DefaultWindow,
		Forecast: rotation.DefaultForecast,
		Epsilon:  rotation.DefaultEpsilon,
		Fields:   sensor.WaterQualityFields(),
		Align:    rotation.AlignTruncate,
	}
}

// Recorder receives view events. *metrics.Metrics implements it.
type Recorder interface {
	RecordFrame(view string, wrapped bool)
	IncInsufficientData(pond string)
	IncSourceError(pond string)
	SetActiveSessions(n int)
}

type noopRecorder struct{}

func (noopRecorder) RecordFrame(string, bool)    {}
func (noopRecorder) IncInsufficientData(string) {}
func (noopRecorder) IncSourceError(string)      {}
func (noopRecorder) SetActiveSessions(int)      {}

// Service builds the dashboard views. Each session scrolls through the data
// with its own cursors. Safe for concurrent use.
type Service struct {
	cfg      Config
	src      source.Source
	sessions *rotation.Sessions
	cp       checkpointer.Checkpointer
	log      *zap.SugaredLogger
	rec      Recorder

	restores singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithCheckpointer restores the cursors of a session from cp the first time
// the session is seen.
func WithCheckpointer(cp checkpointer.Checkpointer) Option {
	return func(s *Service) { s.cp = cp }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec Recorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.rec = rec
		}
	}
}

// New creates a Service and its session registry.
func New(cfg Config, src source.Source, log *zap.SugaredLogger, opts ...Option) (*Service, error) {
	if len(cfg.Fields) == 0 {
		cfg.Fields = sensor.WaterQualityFields()
	}
	if cfg.Epsilon < 0 {
		return nil, fmt.Errorf("invalid trend epsilon: must not be negative: %g", cfg.Epsilon)
	}
	sessions, err := rotation.NewSessions(cfg.Window, cfg.Forecast)
	if err != nil {
		return nil, err
	}
	s := &Service{cfg: cfg, src: src, sessions: sessions, log: log, rec: noopRecorder{}}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sessions returns the session registry, e.g. for checkpointing and eviction.
func (s *Service) Sessions() *rotation.Sessions { return s.sessions }

// StartJanitor evicts sessions idle for longer than ttl every interval until
// ctx is done and keeps the active sessions gauge in step with evictions.
func (s *Service) StartJanitor(ctx context.Context, log *zap.SugaredLogger, interval, ttl time.Duration) {
	rotation.StartJanitor(ctx, log, s.sessions, interval, ttl, s.rec.SetActiveSessions)
}

// Config returns the view settings.
func (s *Service) Config() Config { return s.cfg }

// Ponds lists the pond names in display order.
func (s *Service) Ponds(ctx context.Context) ([]string, error) {
	return s.src.Ponds(ctx)
}

// rotator returns the rotator of a session. A new session starts from its
// stored checkpoint when a checkpointer is configured.
func (s *Service) rotator(ctx context.Context, sessionID string) (*rotation.Rotator, error) {
	if _, ok := s.sessions.Get(sessionID); ok || s.cp == nil {
		r, err := s.sessions.GetOrCreate(sessionID)
		if !ok {
			s.rec.SetActiveSessions(s.sessions.Len())
		}
		return r, err
	}

	_, err, _ := s.restores.Do(sessionID, func() (any, error) {
		if r, ok := s.sessions.Get(sessionID); ok {
			return r, nil
		}
		r, err := rotation.NewRotator(s.cfg.Window, s.cfg.Forecast)
		if err != nil {
			return nil, err
		}
		restored, err := checkpointer.Restore(ctx, r, s.cp, sessionID)
		switch {
		case err != nil:
			s.log.Warnw("failed to restore session cursors, starting from zero", "session", sessionID, "error", err)
		case restored:
			s.log.Debugw("restored session cursors", "session", sessionID, "series", r.Cursors().Len())
		}
		r, err = s.sessions.Add(sessionID, r)
		if err != nil {
			return nil, err
		}
		s.rec.SetActiveSessions(s.sessions.Len())
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return s.sessions.GetOrCreate(sessionID)
}

// Main builds the overview page: the latest values and trends of every pond.
// A pond without enough data or with a failing source gets a status instead
// of failing the page.
func (s *Service) Main(ctx context.Context, sessionID string) (Overview, error) {
	r, err := s.rotator(ctx, sessionID)
	if err != nil {
		return Overview{}, err
	}
	ponds, err := s.src.Ponds(ctx)
	if err != nil {
		return Overview{}, fmt.Errorf("failed to list ponds: %w", err)
	}

	out := Overview{Ponds: make([]PondSummary, 0, len(ponds))}
	for _, pond := range ponds {
		out.Ponds = append(out.Ponds, s.summary(ctx, r, pond))
	}
	return out, nil
}

func (s *Service) summary(ctx context.Context, r *rotation.Rotator, pond string) PondSummary {
	series, err := s.src.Series(ctx, pond)
	if err != nil {
		s.rec.IncSourceError(pond)
		s.log.Warnw("failed to load pond series", "pond", pond, "error", err)
		return PondSummary{Pond: pond, Status: StatusError, Message: err.Error()}
	}

	f, err := r.Next(MainKey(pond), series)
	if err != nil {
		if errors.Is(err, rotation.ErrInsufficientData) {
			s.rec.IncInsufficientData(pond)
			return PondSummary{Pond: pond, Status: StatusInsufficient, Message: err.Error()}
		}
		return PondSummary{Pond: pond, Status: StatusError, Message: err.Error()}
	}
	s.rec.RecordFrame(ViewMain, f.Wrapped)

	at := f.Window.Last().CreatedAt
	return PondSummary{
		Pond:   pond,
		Status: StatusOK,
		Start:  f.Start,
		Time:   &at,
		Values: fieldValues(f, s.cfg.Fields, s.cfg.Epsilon),
	}
}

// Pond builds the detail page of one pond. Unknown ponds fail with
// source.ErrUnknownPond, short series with rotation.ErrInsufficientData.
func (s *Service) Pond(ctx context.Context, sessionID, pond string) (PondView, error) {
	r, err := s.rotator(ctx, sessionID)
	if err != nil {
		return PondView{}, err
	}
	series, err := s.src.Series(ctx, pond)
	if err != nil {
		if !errors.Is(err, source.ErrUnknownPond) {
			s.rec.IncSourceError(pond)
		}
		return PondView{}, fmt.Errorf("failed to load series of pond %s: %w", pond, err)
	}

	f, err := r.Next(PondKey(pond), series)
	if err != nil {
		if errors.Is(err, rotation.ErrInsufficientData) {
			s.rec.IncInsufficientData(pond)
		}
		return PondView{}, err
	}
	s.rec.RecordFrame(ViewPond, f.Wrapped)

	view := PondView{
		Pond:    pond,
		Start:   f.Start,
		Wrapped: f.Wrapped,
		Time:    f.Window.Last().CreatedAt,
		Values:  fieldValues(f, s.cfg.Fields, s.cfg.Epsilon),
		Series:  make([]FieldSeries, 0, len(s.cfg.Fields)),
	}
	for _, field := range s.cfg.Fields {
		view.Series = append(view.Series, FieldSeries{
			Field:    field,
			Label:    field.Label(),
			Window:   points(f.Window, field),
			Forecast: points(f.Forecast, field),
		})
	}
	return view, nil
}

// Aggregate compares every pond on the rows of the first (base) pond. The base
// pond rotates under its own key; the other ponds are cut at the same row
// indexes and reduced to min/median/max bands per field.
func (s *Service) Aggregate(ctx context.Context, sessionID string) (AggregateView, error) {
	r, err := s.rotator(ctx, sessionID)
	if err != nil {
		return AggregateView{}, err
	}
	ponds, err := s.src.Ponds(ctx)
	if err != nil {
		return AggregateView{}, fmt.Errorf("failed to list ponds: %w", err)
	}
	if len(ponds) == 0 {
		return AggregateView{}, ErrNoPonds
	}

	base := ponds[0]
	baseSeries, err := s.src.Series(ctx, base)
	if err != nil {
		s.rec.IncSourceError(base)
		return AggregateView{}, fmt.Errorf("failed to load series of base pond %s: %w", base, err)
	}
	f, err := r.Next(aggregateKey, baseSeries)
	if err != nil {
		if errors.Is(err, rotation.ErrInsufficientData) {
			s.rec.IncInsufficientData(base)
		}
		return AggregateView{}, err
	}
	s.rec.RecordFrame(ViewAggregate, f.Wrapped)

	view := AggregateView{Base: base, Start: f.Start, Ponds: []string{base}}
	all := []sensor.Series{baseSeries}
	for _, pond := range ponds[1:] {
		series, err := s.src.Series(ctx, pond)
		if err != nil {
			s.rec.IncSourceError(pond)
			s.log.Warnw("skipping pond in aggregate", "pond", pond, "error", err)
			if view.Skipped == nil {
				view.Skipped = make(map[string]string)
			}
			view.Skipped[pond] = err.Error()
			continue
		}
		view.Ponds = append(view.Ponds, pond)
		all = append(all, series)
	}

	windows, err := rotation.AlignWindows(s.cfg.Align, f.Start, s.cfg.Window, all...)
	if err != nil {
		return AggregateView{}, err
	}
	for _, field := range s.cfg.Fields {
		bands, err := rotation.Bands(s.cfg.Align, field, windows...)
		if err != nil {
			return AggregateView{}, err
		}
		fb := FieldBands{Field: field, Label: field.Label(), Points: make([]BandPoint, len(bands))}
		for i, b := range bands {
			fb.Points[i] = BandPoint{
				Time:   f.Window[b.Index].CreatedAt,
				Min:    sensor.Nullable(b.Min),
				Median: sensor.Nullable(b.Median),
				Max:    sensor.Nullable(b.Max),
			}
		}
		view.Fields = append(view.Fields, fb)
	}
	return view, nil
}
