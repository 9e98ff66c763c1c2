// Package loader reads pond sensor CSV exports into cleaned, time-sorted series.
package loader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aquaponics/pondwatch/pkg/sensor"
	"github.com/aquaponics/pondwatch/pkg/utils"
)

const (
	colCreatedAt = "created_at"
	colEntryID   = "entry_id"
)

var ErrMissingColumn = errors.New("missing required column")

// aliases maps normalised headers to fields. Both the raw sensor export
// headers and the snake_case database column names are accepted.
var aliases = map[string]sensor.Field{
	"temperaturec":        sensor.Temperature,
	"temperature":         sensor.Temperature,
	"ph":                  sensor.PH,
	"dissolvedoxygeng/ml": sensor.DissolvedOxygen,
	"dissolved_oxygen":    sensor.DissolvedOxygen,
	"dissolvedoxygen":     sensor.DissolvedOxygen,
	"turbidityntu":        sensor.Turbidity,
	"turbidity":           sensor.Turbidity,
	"ammoniag/ml":         sensor.Ammonia,
	"ammonia":             sensor.Ammonia,
	"nitrateg/ml":         sensor.Nitrate,
	"nitrate":             sensor.Nitrate,
	"population":          sensor.Population,
	"fish_length":         sensor.FishLength,
	"fishlengthcm":        sensor.FishLength,
	"fish_lengthcm":       sensor.FishLength,
	"total_lengthcm":      sensor.FishLength,
	"fish_weight":         sensor.FishWeight,
	"fishweightg":         sensor.FishWeight,
	"fish_weightg":        sensor.FishWeight,
	"weightg":             sensor.FishWeight,
}

// timeLayouts are tried in order. Slash and dash dates are day-first.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"02-01-2006 15:04:05",
	"02-01-2006 15:04",
	"02-01-2006",
}

// ParseTime parses a created_at value. Ambiguous dates are read day-first.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// LoadCSV reads and cleans the CSV file at path.
func LoadCSV(path string) (sensor.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pond csv: %w", err)
	}
	defer f.Close()

	s, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return s, nil
}

// LoadDir loads every *.csv file in dir keyed by pond name (the file stem).
func LoadDir(dir string) (map[string]sensor.Series, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to list csv files: %w", err)
	}
	out := make(map[string]sensor.Series, len(paths))
	for _, p := range paths {
		s, err := LoadCSV(p)
		if err != nil {
			return nil, err
		}
		out[utils.FileStem(p)] = s
	}
	return out, nil
}

// Parse reads CSV from r and returns the cleaned series. Rows with an
// unparseable created_at or without any water-quality value are dropped,
// exact duplicates are removed and the result is sorted by created_at.
func Parse(r io.Reader) (sensor.Series, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, colCreatedAt)
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	timeCol, idCol := -1, -1
	fieldCols := make(map[int]sensor.Field)
	for i, h := range header {
		name := utils.NormalizeHeader(h)
		switch name {
		case colCreatedAt:
			timeCol = i
		case colEntryID:
			idCol = i
		default:
			if f, ok := aliases[name]; ok {
				fieldCols[i] = f
			}
		}
	}
	if timeCol < 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, colCreatedAt)
	}

	var (
		out  sensor.Series
		seen = make(map[rowKey]struct{})
		row  int
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", row+1, err)
		}
		row++

		if timeCol >= len(rec) {
			continue
		}
		ts, err := ParseTime(rec[timeCol])
		if err != nil {
			continue
		}
		var entryID int64
		if idCol >= 0 && idCol < len(rec) {
			if id, err := strconv.ParseFloat(strings.TrimSpace(rec[idCol]), 64); err == nil {
				entryID = int64(id)
			}
		}

		reading := sensor.NewReading(ts, entryID)
		for col, f := range fieldCols {
			if col < len(rec) {
				f.Set(&reading, parseNumber(rec[col]))
			}
		}
		if !reading.HasSensorData() {
			continue
		}
		k := keyOf(reading)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, reading)
	}

	slices.SortStableFunc(out, func(a, b sensor.Reading) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if idCol < 0 {
		for i := range out {
			out[i].EntryID = int64(i + 1)
		}
	}
	return out, nil
}

func parseNumber(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsInf(v, 0) {
		return sensor.Missing()
	}
	return v
}

type rowKey struct {
	createdAt int64
	entryID   int64
	values    [9]uint64
}

// nanBits is the canonical bit pattern used for missing values in row keys.
var nanBits = math.Float64bits(math.NaN())

func keyOf(r sensor.Reading) rowKey {
	k := rowKey{createdAt: r.CreatedAt.UnixNano(), entryID: r.EntryID}
	for i, f := range sensor.AllFields() {
		v := f.Value(r)
		if sensor.IsMissing(v) {
			k.values[i] = nanBits
			continue
		}
		k.values[i] = math.Float64bits(v)
	}
	return k
}
