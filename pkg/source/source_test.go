package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aquaponics/pondwatch/pkg/cache"
	"github.com/aquaponics/pondwatch/pkg/sensor"
)

func pondCSV(rows int) string {
	out := "created_at,entry_id,temperature\n"
	for i := range rows {
		out += fmt.Sprintf("2024-01-01T00:%02d:00Z,%d,%d\n", i, i+1, 20+i)
	}
	return out
}

func writePond(t *testing.T, dir, name string, rows int) string {
	t.Helper()
	p := filepath.Join(dir, name+".csv")
	require.NoError(t, os.WriteFile(p, []byte(pondCSV(rows)), 0o600))
	return p
}

func TestCSVDir(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	writePond(t, dir, "IoTPond2", 2)
	writePond(t, dir, "IoTPond1", 3)

	c, err := NewCSVDir(dir)
	require.NoError(t, err)

	ponds, err := c.Ponds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"IoTPond1", "IoTPond2"}, ponds)

	s, err := c.Series(ctx, "IoTPond1")
	require.NoError(t, err)
	assert.Len(t, s, 3)

	_, err = c.Series(ctx, "IoTPond9")
	require.ErrorIs(t, err, ErrUnknownPond)

	writePond(t, dir, "IoTPond3", 1)
	require.NoError(t, c.Rescan())
	ponds, _ = c.Ponds(ctx)
	assert.Len(t, ponds, 3)
}

func TestReadPondsConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "data"), 0o700))
	writePond(t, filepath.Join(dir, "data"), "east", 4)

	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{
			name: "relative path resolved",
			yaml: "ponds:\n  - name: East Pond\n    path: data/east.csv\n",
		},
		{
			name:    "missing path",
			yaml:    "ponds:\n  - name: East Pond\n",
			wantErr: true,
		},
		{
			name:    "duplicate pond",
			yaml:    "ponds:\n  - {name: a, path: x.csv}\n  - {name: a, path: y.csv}\n",
			wantErr: true,
		},
		{
			name:    "not yaml",
			yaml:    "ponds: [",
			wantErr: true,
		},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(dir, fmt.Sprintf("ponds-%d.yaml", i))
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o600))

			cfg, err := ReadPondsConfig(path)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			c := NewCSVFromConfig(cfg)
			ponds, _ := c.Ponds(context.Background())
			assert.Equal(t, []string{"East Pond"}, ponds)
			s, err := c.Series(context.Background(), "East Pond")
			require.NoError(t, err)
			assert.Len(t, s, 4)
		})
	}
}

type countingSource struct {
	mu    sync.Mutex
	loads int
	err   error
}

func (s *countingSource) Ponds(context.Context) ([]string, error) { return []string{"p"}, nil }

func (s *countingSource) Series(_ context.Context, pond string) (sensor.Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.loads++
	return sensor.Series{sensor.NewReading(time.Unix(0, 0), 1)}, nil
}

type recorder struct{ hits, misses int }

func (r *recorder) CacheHit(string)  { r.hits++ }
func (r *recorder) CacheMiss(string) { r.misses++ }

func TestCached(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := &countingSource{}
	rec := &recorder{}
	c := NewCached(src, cache.NewMemory(), time.Minute, zap.NewNop().Sugar(), rec)

	for range 3 {
		s, err := c.Series(ctx, "p")
		require.NoError(t, err)
		require.Len(t, s, 1)
	}
	assert.Equal(t, 1, src.loads)
	assert.Equal(t, 2, rec.hits)
	assert.Equal(t, 1, rec.misses)

	require.NoError(t, c.Invalidate(ctx, "p"))
	_, err := c.Series(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, 2, src.loads)
}

func TestCached_SourceErrorNotCached(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	boom := errors.New("boom")
	src := &countingSource{err: boom}
	c := NewCached(src, cache.NewMemory(), time.Minute, nil, nil)

	_, err := c.Series(ctx, "p")
	require.ErrorIs(t, err, boom)

	src.mu.Lock()
	src.err = nil
	src.mu.Unlock()
	_, err = c.Series(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, 1, src.loads)
}

// blockingSource holds Series until release is closed.
type blockingSource struct {
	started chan struct{}
	release chan struct{}
}

func (s *blockingSource) Ponds(context.Context) ([]string, error) { return []string{"p"}, nil }

func (s *blockingSource) Series(context.Context, string) (sensor.Series, error) {
	close(s.started)
	<-s.release
	return sensor.Series{sensor.NewReading(time.Unix(0, 0), 1)}, nil
}

func TestCached_InvalidateDuringLoadSkipsCaching(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := &blockingSource{started: make(chan struct{}), release: make(chan struct{})}
	mem := cache.NewMemory()
	c := NewCached(src, mem, time.Minute, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Series(ctx, "p")
		done <- err
	}()

	<-src.started
	require.NoError(t, c.Invalidate(ctx, "p"))
	close(src.release)
	require.NoError(t, <-done)

	_, ok, err := mem.Get(ctx, "p")
	require.NoError(t, err)
	assert.False(t, ok, "a load overlapping an invalidation must not be cached")
}

type chanInvalidator chan string

func (c chanInvalidator) Invalidate(_ context.Context, pond string) error {
	select {
	case c <- pond:
	default:
	}
	return nil
}

func TestWatch_InvalidatesChangedPond(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writePond(t, dir, "IoTPond1", 2)
	c, err := NewCSVDir(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inv := make(chanInvalidator, 16)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, zap.NewNop().Sugar(), c, inv) }()

	// the watcher registers asynchronously; keep touching the file until seen
	require.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(dir, "IoTPond1.csv"), []byte(pondCSV(3)), 0o600)
		select {
		case pond := <-inv:
			return pond == "IoTPond1"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	writePond(t, dir, "IoTPond2", 1)
	require.Eventually(t, func() bool {
		_, ok := c.Path("IoTPond2")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
