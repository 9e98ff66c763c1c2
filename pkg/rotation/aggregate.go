package rotation

import (
	"fmt"
	"slices"

	"github.com/aquaponics/pondwatch/pkg/sensor"
)

// AlignPolicy decides what happens when aligned series have unequal lengths.
type AlignPolicy int

const (
	// AlignTruncate keeps only the rows every series can supply.
	AlignTruncate AlignPolicy = iota
	// AlignStrict fails with ErrMisaligned unless every series supplies a full window.
	AlignStrict
)

func (p AlignPolicy) String() string {
	if p == AlignStrict {
		return "strict"
	}
	return "truncate"
}

// ParseAlignPolicy maps "truncate" or "strict" to a policy.
func ParseAlignPolicy(s string) (AlignPolicy, error) {
	switch s {
	case "truncate", "":
		return AlignTruncate, nil
	case "strict":
		return AlignStrict, nil
	default:
		return 0, fmt.Errorf("unknown align policy %q: want truncate or strict", s)
	}
}

// Band is the spread of one field across series at one row index.
// Min, Median and Max are NaN when every series is missing the value.
type Band struct {
	Index  int
	Min    float64
	Median float64
	Max    float64
}

// AlignWindows cuts rows [start, start+w) out of every series, aligning them by
// row index. Under AlignTruncate all windows are cut to the shortest one.
func AlignWindows(policy AlignPolicy, start, w int, series ...sensor.Series) ([]sensor.Series, error) {
	if start < 0 || w <= 0 {
		return nil, fmt.Errorf("invalid alignment range: start=%d window=%d", start, w)
	}
	rows := w
	for i, s := range series {
		avail := max(0, min(len(s)-start, w))
		if avail < w && policy == AlignStrict {
			return nil, fmt.Errorf("%w: series %d has %d of %d rows from index %d", ErrMisaligned, i, avail, w, start)
		}
		rows = min(rows, avail)
	}
	out := make([]sensor.Series, len(series))
	for i, s := range series {
		if rows == 0 {
			out[i] = sensor.Series{}
			continue
		}
		out[i] = s[start : start+rows : start+rows]
	}
	return out, nil
}

// Bands computes per-row min/median/max of field across windows that are
// already aligned by row index. Missing values are skipped. Under AlignStrict
// windows of different lengths fail with ErrMisaligned; under AlignTruncate the
// result has as many rows as the shortest window.
func Bands(policy AlignPolicy, field sensor.Field, windows ...sensor.Series) ([]Band, error) {
	if len(windows) == 0 {
		return nil, nil
	}
	rows := len(windows[0])
	for i, w := range windows[1:] {
		if len(w) != rows && policy == AlignStrict {
			return nil, fmt.Errorf("%w: window %d has %d rows, window 0 has %d", ErrMisaligned, i+1, len(w), rows)
		}
		rows = min(rows, len(w))
	}

	bands := make([]Band, rows)
	values := make([]float64, 0, len(windows))
	for i := range rows {
		values = values[:0]
		for _, w := range windows {
			if v := field.Value(w[i]); !sensor.IsMissing(v) {
				values = append(values, v)
			}
		}
		bands[i] = band(i, values)
	}
	return bands, nil
}

func band(i int, values []float64) Band {
	if len(values) == 0 {
		nan := sensor.Missing()
		return Band{Index: i, Min: nan, Median: nan, Max: nan}
	}
	slices.Sort(values)
	n := len(values)
	median := values[n/2]
	if n%2 == 0 {
		median = (values[n/2-1] + values[n/2]) / 2
	}
	return Band{Index: i, Min: values[0], Median: median, Max: values[n-1]}
}
