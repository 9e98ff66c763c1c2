package rotation

import (
	"fmt"

	"github.com/aquaponics/pondwatch/pkg/sensor"
)

// Default window geometry used by the dashboard.
const (
	DefaultWindow   = 100
	DefaultForecast = 10
)

// Frame is the result of one rotation step.
type Frame struct {
	SeriesID string
	// Start is the index of the first window row in the source series.
	Start    int
	Window   sensor.Series
	Forecast sensor.Series
	// Wrapped is true when this call moved the stored cursor back to zero.
	Wrapped bool
}

// Rotator hands out window/forecast pairs from ordered series, one cursor per
// series identifier. It is safe for concurrent use.
type Rotator struct {
	window   int
	forecast int
	cursors  *Cursors
}

// NewRotator creates a Rotator with window length w and forecast length f.
func NewRotator(w, f int) (*Rotator, error) {
	if w <= 0 {
		return nil, fmt.Errorf("invalid window length: must be greater than 0: %d", w)
	}
	if f <= 0 {
		return nil, fmt.Errorf("invalid forecast length: must be greater than 0: %d", f)
	}
	return &Rotator{window: w, forecast: f, cursors: NewCursors()}, nil
}

// Window returns the configured window length.
func (r *Rotator) Window() int { return r.window }

// Forecast returns the configured forecast length.
func (r *Rotator) Forecast() int { return r.forecast }

// Cursors exposes the cursor store, e.g. for checkpointing.
func (r *Rotator) Cursors() *Cursors { return r.cursors }

// Advance returns the window start index for a series of n rows and moves the
// stored cursor one row forward, wrapping to zero past the last valid start.
// A series shorter than window+forecast fails without touching the cursor.
func (r *Rotator) Advance(seriesID string, n int) (start int, wrapped bool, err error) {
	need := r.window + r.forecast
	if n < need {
		return 0, false, &InsufficientDataError{SeriesID: seriesID, Have: n, Need: need}
	}
	start, wrapped = r.cursors.advance(seriesID, n-need)
	return start, wrapped, nil
}

// Next returns the current window and forecast of series for seriesID and
// advances its cursor. The returned slices share memory with series.
func (r *Rotator) Next(seriesID string, series sensor.Series) (Frame, error) {
	start, wrapped, err := r.Advance(seriesID, len(series))
	if err != nil {
		return Frame{}, err
	}
	mid := start + r.window
	end := mid + r.forecast
	return Frame{
		SeriesID: seriesID,
		Start:    start,
		Window:   series[start:mid:mid],
		Forecast: series[mid:end:end],
		Wrapped:  wrapped,
	}, nil
}

// Peek returns the stored cursor for seriesID without creating it.
func (r *Rotator) Peek(seriesID string) (int, bool) {
	return r.cursors.Get(seriesID)
}

// Reset moves the cursor of seriesID back to the start of the series.
func (r *Rotator) Reset(seriesID string) {
	_ = r.cursors.Set(seriesID, 0)
}
