package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aquaponics/pondwatch/pkg/rotation"
	"github.com/aquaponics/pondwatch/pkg/sensor"
	"github.com/aquaponics/pondwatch/pkg/source"
)

var t0 = time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)

// fakeSource serves fixed series; errs makes Series fail for a pond.
type fakeSource struct {
	ponds  []string
	series map[string]sensor.Series
	errs   map[string]error
}

func (s *fakeSource) Ponds(context.Context) ([]string, error) {
	return s.ponds, nil
}

func (s *fakeSource) Series(_ context.Context, pond string) (sensor.Series, error) {
	if err := s.errs[pond]; err != nil {
		return nil, err
	}
	series, ok := s.series[pond]
	if !ok {
		return nil, fmt.Errorf("%w: %s", source.ErrUnknownPond, pond)
	}
	return series, nil
}

// ramp returns n readings whose temperature is base+i and pH is constant.
func ramp(n int, base float64) sensor.Series {
	s := make(sensor.Series, n)
	for i := range s {
		r := sensor.NewReading(t0.Add(time.Duration(i)*time.Minute), int64(i+1))
		r.Temperature = base + float64(i)
		r.PH = 7
		s[i] = r
	}
	return s
}

type recorder struct {
	mu           sync.Mutex
	frames       map[string]int
	wraps        int
	insufficient map[string]int
	sourceErrors map[string]int
	sessions     int
}

func newRecorder() *recorder {
	return &recorder{frames: map[string]int{}, insufficient: map[string]int{}, sourceErrors: map[string]int{}}
}

func (r *recorder) RecordFrame(view string, wrapped bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames[view]++
	if wrapped {
		r.wraps++
	}
}

func (r *recorder) IncInsufficientData(pond string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insufficient[pond]++
}

func (r *recorder) IncSourceError(pond string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sourceErrors[pond]++
}

func (r *recorder) SetActiveSessions(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = n
}

type mockCheckpointer struct {
	mock.Mock
}

func (m *mockCheckpointer) Initialize(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockCheckpointer) Write(ctx context.Context, sessionID string, cursors map[string]int) error {
	return m.Called(ctx, sessionID, cursors).Error(0)
}

func (m *mockCheckpointer) Read(ctx context.Context, sessionID string) (map[string]int, bool, error) {
	args := m.Called(ctx, sessionID)
	cursors, _ := args.Get(0).(map[string]int)
	return cursors, args.Bool(1), args.Error(2)
}

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Window = 3
	cfg.Forecast = 2
	return cfg
}

func newTestService(t *testing.T, src source.Source, opts ...Option) *Service {
	t.Helper()
	svc, err := New(smallConfig(), src, zap.NewNop().Sugar(), opts...)
	require.NoError(t, err)
	return svc
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	_, err := New(Config{Window: 0, Forecast: 1}, src, zap.NewNop().Sugar())
	require.Error(t, err)

	cfg := smallConfig()
	cfg.Epsilon = -1
	_, err = New(cfg, src, zap.NewNop().Sugar())
	require.ErrorContains(t, err, "epsilon")

	cfg = smallConfig()
	cfg.Fields = nil
	svc, err := New(cfg, src, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Equal(t, sensor.WaterQualityFields(), svc.Config().Fields)
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.Equal(t, 100, cfg.Window)
	assert.Equal(t, 10, cfg.Forecast)
	assert.InDelta(t, 0.01, cfg.Epsilon, 1e-12)
	assert.Len(t, cfg.Fields, 6)
	assert.Equal(t, rotation.AlignTruncate, cfg.Align)
}

func TestMain_StatusesPerPond(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		ponds: []string{"IoTPond1", "IoTPond2", "IoTPond3"},
		series: map[string]sensor.Series{
			"IoTPond1": ramp(8, 20),
			"IoTPond2": ramp(4, 20),
		},
		errs: map[string]error{"IoTPond3": errors.New("connection refused")},
	}
	rec := newRecorder()
	svc := newTestService(t, src, WithRecorder(rec))

	ov, err := svc.Main(t.Context(), "alice")
	require.NoError(t, err)
	require.Len(t, ov.Ponds, 3)

	ok := ov.Ponds[0]
	assert.Equal(t, StatusOK, ok.Status)
	assert.Equal(t, 0, ok.Start)
	require.NotNil(t, ok.Time)
	assert.Equal(t, t0.Add(2*time.Minute), *ok.Time)
	require.Len(t, ok.Values, 6)
	temp := ok.Values[0]
	assert.Equal(t, sensor.Temperature, temp.Field)
	require.NotNil(t, temp.Value)
	assert.InDelta(t, 22.0, *temp.Value, 1e-9)
	assert.Equal(t, rotation.Rising, temp.Trend)
	assert.Equal(t, "▲", temp.Symbol)

	assert.Equal(t, StatusInsufficient, ov.Ponds[1].Status)
	assert.Contains(t, ov.Ponds[1].Message, "main_IoTPond2")
	assert.Empty(t, ov.Ponds[1].Values)

	assert.Equal(t, StatusError, ov.Ponds[2].Status)
	assert.Contains(t, ov.Ponds[2].Message, "connection refused")

	assert.Equal(t, 1, rec.frames[ViewMain])
	assert.Equal(t, 1, rec.insufficient["IoTPond2"])
	assert.Equal(t, 1, rec.sourceErrors["IoTPond3"])
	assert.Equal(t, 1, rec.sessions)
}

func TestMain_RotatesAndWraps(t *testing.T) {
	t.Parallel()

	// W=3, F=2, N=7: maxStart is 2
	src := &fakeSource{ponds: []string{"IoTPond1"}, series: map[string]sensor.Series{"IoTPond1": ramp(7, 20)}}
	rec := newRecorder()
	svc := newTestService(t, src, WithRecorder(rec))

	var starts []int
	for range 7 {
		ov, err := svc.Main(t.Context(), "alice")
		require.NoError(t, err)
		starts = append(starts, ov.Ponds[0].Start)
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0}, starts)
	assert.Equal(t, 2, rec.wraps)
}

func TestSessionsAreIsolated(t *testing.T) {
	t.Parallel()

	src := &fakeSource{ponds: []string{"IoTPond1"}, series: map[string]sensor.Series{"IoTPond1": ramp(10, 20)}}
	svc := newTestService(t, src)

	for range 3 {
		_, err := svc.Main(t.Context(), "alice")
		require.NoError(t, err)
	}
	ov, err := svc.Main(t.Context(), "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, ov.Ponds[0].Start)

	// the overview and detail pages scroll independently
	view, err := svc.Pond(t.Context(), "alice", "IoTPond1")
	require.NoError(t, err)
	assert.Equal(t, 0, view.Start)
	assert.Equal(t, 2, svc.Sessions().Len())
}

func TestStartJanitor_UpdatesActiveSessions(t *testing.T) {
	t.Parallel()

	src := &fakeSource{ponds: []string{"IoTPond1"}, series: map[string]sensor.Series{"IoTPond1": ramp(10, 20)}}
	rec := newRecorder()
	svc := newTestService(t, src, WithRecorder(rec))

	for _, id := range []string{"alice", "bob"} {
		_, err := svc.Main(t.Context(), id)
		require.NoError(t, err)
	}
	rec.mu.Lock()
	require.Equal(t, 2, rec.sessions)
	rec.mu.Unlock()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	done := make(chan struct{})
	go func() {
		svc.StartJanitor(ctx, zap.NewNop().Sugar(), 5*time.Millisecond, time.Nanosecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.sessions == 0
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, 0, svc.Sessions().Len())
}

func TestPond(t *testing.T) {
	t.Parallel()

	series := ramp(8, 20)
	series[2].PH = sensor.Missing()
	src := &fakeSource{ponds: []string{"IoTPond1"}, series: map[string]sensor.Series{"IoTPond1": series}}
	rec := newRecorder()
	svc := newTestService(t, src, WithRecorder(rec))

	_, err := svc.Pond(t.Context(), "alice", "IoTPond1")
	require.NoError(t, err)
	view, err := svc.Pond(t.Context(), "alice", "IoTPond1")
	require.NoError(t, err)

	assert.Equal(t, "IoTPond1", view.Pond)
	assert.Equal(t, 1, view.Start)
	assert.Equal(t, t0.Add(3*time.Minute), view.Time)
	require.Len(t, view.Series, 6)

	temp := view.Series[0]
	assert.Equal(t, "Temperature (°C)", temp.Label)
	require.Len(t, temp.Window, 3)
	require.Len(t, temp.Forecast, 2)
	assert.Equal(t, t0.Add(time.Minute), temp.Window[0].Time)
	assert.InDelta(t, 24.0, *temp.Forecast[0].Value, 1e-9)
	assert.Equal(t, t0.Add(4*time.Minute), temp.Forecast[0].Time, "forecast follows the window")

	var ph FieldSeries
	for _, fs := range view.Series {
		if fs.Field == sensor.PH {
			ph = fs
		}
	}
	assert.Nil(t, ph.Window[1].Value, "missing values are null")
	assert.Equal(t, 2, rec.frames[ViewPond])
}

func TestPond_Errors(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		ponds:  []string{"IoTPond1", "IoTPond2"},
		series: map[string]sensor.Series{"IoTPond1": ramp(3, 20)},
		errs:   map[string]error{"IoTPond2": errors.New("timeout")},
	}
	rec := newRecorder()
	svc := newTestService(t, src, WithRecorder(rec))

	_, err := svc.Pond(t.Context(), "alice", "IoTPond9")
	require.ErrorIs(t, err, source.ErrUnknownPond)
	assert.Zero(t, rec.sourceErrors["IoTPond9"])

	_, err = svc.Pond(t.Context(), "alice", "IoTPond1")
	var insufficient *rotation.InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 3, insufficient.Have)
	assert.Equal(t, 5, insufficient.Need)
	assert.Equal(t, 1, rec.insufficient["IoTPond1"])

	_, err = svc.Pond(t.Context(), "alice", "IoTPond2")
	require.ErrorContains(t, err, "timeout")
	assert.Equal(t, 1, rec.sourceErrors["IoTPond2"])

	_, err = svc.Pond(t.Context(), "", "IoTPond1")
	require.Error(t, err)
}

func TestAggregate(t *testing.T) {
	t.Parallel()

	p3 := ramp(4, 40)
	p3[1].Temperature = sensor.Missing()
	src := &fakeSource{
		ponds: []string{"IoTPond1", "IoTPond2", "IoTPond3"},
		series: map[string]sensor.Series{
			"IoTPond1": ramp(8, 20),
			"IoTPond2": ramp(8, 30),
			"IoTPond3": p3,
		},
	}
	rec := newRecorder()
	svc := newTestService(t, src, WithRecorder(rec))

	_, err := svc.Aggregate(t.Context(), "alice")
	require.NoError(t, err)
	view, err := svc.Aggregate(t.Context(), "alice")
	require.NoError(t, err)

	assert.Equal(t, "IoTPond1", view.Base)
	assert.Equal(t, 1, view.Start)
	assert.Equal(t, []string{"IoTPond1", "IoTPond2", "IoTPond3"}, view.Ponds)
	require.Len(t, view.Fields, 6)

	temp := view.Fields[0]
	assert.Equal(t, sensor.Temperature, temp.Field)
	// IoTPond3 has just enough rows for the window at start 1
	require.Len(t, temp.Points, 3)
	first := temp.Points[0]
	assert.Equal(t, t0.Add(time.Minute), first.Time)
	assert.InDelta(t, 21.0, *first.Min, 1e-9)
	assert.InDelta(t, 26.0, *first.Median, 1e-9, "missing value skipped, even count averaged")
	assert.InDelta(t, 31.0, *first.Max, 1e-9)
	assert.InDelta(t, 32.0, *temp.Points[1].Median, 1e-9)
	assert.Equal(t, 2, rec.frames[ViewAggregate])
}

func TestAggregate_TruncatesShortPonds(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		ponds: []string{"IoTPond1", "IoTPond2"},
		series: map[string]sensor.Series{
			"IoTPond1": ramp(8, 20),
			"IoTPond2": ramp(2, 30),
		},
	}
	svc := newTestService(t, src)

	_, err := svc.Aggregate(t.Context(), "alice")
	require.NoError(t, err)
	view, err := svc.Aggregate(t.Context(), "alice")
	require.NoError(t, err)
	assert.Len(t, view.Fields[0].Points, 1)

	cfg := smallConfig()
	cfg.Align = rotation.AlignStrict
	strict, err := New(cfg, src, zap.NewNop().Sugar())
	require.NoError(t, err)
	_, err = strict.Aggregate(t.Context(), "alice")
	require.ErrorIs(t, err, rotation.ErrMisaligned)
}

func TestAggregate_Errors(t *testing.T) {
	t.Parallel()

	_, err := newTestService(t, &fakeSource{}).Aggregate(t.Context(), "alice")
	require.ErrorIs(t, err, ErrNoPonds)

	short := &fakeSource{ponds: []string{"IoTPond1"}, series: map[string]sensor.Series{"IoTPond1": ramp(2, 20)}}
	_, err = newTestService(t, short).Aggregate(t.Context(), "alice")
	require.ErrorIs(t, err, rotation.ErrInsufficientData)

	core, logs := observer.New(zap.WarnLevel)
	skipping := &fakeSource{
		ponds:  []string{"IoTPond1", "IoTPond2"},
		series: map[string]sensor.Series{"IoTPond1": ramp(8, 20)},
		errs:   map[string]error{"IoTPond2": errors.New("timeout")},
	}
	svc, err := New(smallConfig(), skipping, zap.New(core).Sugar())
	require.NoError(t, err)
	view, err := svc.Aggregate(t.Context(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"IoTPond1"}, view.Ponds)
	assert.Equal(t, map[string]string{"IoTPond2": "timeout"}, view.Skipped)
	assert.Equal(t, 1, logs.FilterMessage("skipping pond in aggregate").Len())
}

func TestCheckpointRestore(t *testing.T) {
	t.Parallel()

	src := &fakeSource{ponds: []string{"IoTPond1"}, series: map[string]sensor.Series{"IoTPond1": ramp(10, 20)}}
	cp := &mockCheckpointer{}
	cp.On("Read", mock.Anything, "alice").Return(map[string]int{MainKey("IoTPond1"): 4}, true, nil).Once()
	cp.On("Read", mock.Anything, "bob").Return(nil, false, errors.New("table missing")).Once()

	rec := newRecorder()
	svc := newTestService(t, src, WithCheckpointer(cp), WithRecorder(rec))

	ov, err := svc.Main(t.Context(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 4, ov.Ponds[0].Start)
	ov, err = svc.Main(t.Context(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 5, ov.Ponds[0].Start)

	// a failed restore starts from zero
	ov, err = svc.Main(t.Context(), "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, ov.Ponds[0].Start)

	assert.Equal(t, 2, rec.sessions)
	cp.AssertExpectations(t)
}

func TestCheckpointRestore_ConcurrentFirstRequests(t *testing.T) {
	t.Parallel()

	src := &fakeSource{ponds: []string{"IoTPond1"}, series: map[string]sensor.Series{"IoTPond1": ramp(50, 20)}}
	cp := &mockCheckpointer{}
	cp.On("Read", mock.Anything, "alice").Return(map[string]int{MainKey("IoTPond1"): 10}, true, nil)
	svc := newTestService(t, src, WithCheckpointer(cp))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Main(context.Background(), "alice")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	r, ok := svc.Sessions().Get("alice")
	require.True(t, ok)
	c, _ := r.Peek(MainKey("IoTPond1"))
	assert.Equal(t, 18, c, "every request advanced the restored cursor once")
}

type checkpointRecorder struct {
	errs []error
}

func (r *checkpointRecorder) RecordCheckpointWrite(err error) { r.errs = append(r.errs, err) }

func TestInstrumentCheckpointer(t *testing.T) {
	t.Parallel()

	cp := &mockCheckpointer{}
	writeErr := errors.New("disk full")
	cp.On("Write", mock.Anything, "alice", mock.Anything).Return(nil).Once()
	cp.On("Write", mock.Anything, "bob", mock.Anything).Return(writeErr).Once()
	cp.On("Initialize", mock.Anything).Return(nil).Once()

	rec := &checkpointRecorder{}
	wrapped := InstrumentCheckpointer(cp, rec)
	require.NoError(t, wrapped.Initialize(t.Context()))
	require.NoError(t, wrapped.Write(t.Context(), "alice", map[string]int{"a": 1}))
	require.ErrorIs(t, wrapped.Write(t.Context(), "bob", map[string]int{"a": 1}), writeErr)

	assert.Equal(t, []error{nil, writeErr}, rec.errs)
	assert.Same(t, cp, InstrumentCheckpointer(cp, nil))
	cp.AssertExpectations(t)
}
