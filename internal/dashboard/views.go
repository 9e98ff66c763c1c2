package dashboard

import (
	"time"

	"github.com/aquaponics/pondwatch/pkg/rotation"
	"github.com/aquaponics/pondwatch/pkg/sensor"
)

// Pond statuses shown on the overview page.
const (
	StatusOK           = "ok"
	StatusInsufficient = "not enough data"
	StatusError        = "error"
)

// FieldValue is the latest value of one field and where it is heading.
type FieldValue struct {
	Field  sensor.Field   `json:"field"`
	Label  string         `json:"label"`
	Value  *float64       `json:"value"`
	Trend  rotation.Trend `json:"trend"`
	Symbol string         `json:"symbol"`
}

// PondSummary is one pond card of the overview page.
type PondSummary struct {
	Pond    string       `json:"pond"`
	Status  string       `json:"status"`
	Message string       `json:"message,omitempty"`
	Start   int          `json:"start"`
	Time    *time.Time   `json:"time,omitempty"`
	Values  []FieldValue `json:"values,omitempty"`
}

// Overview is the main page: one summary per pond.
type Overview struct {
	Ponds []PondSummary `json:"ponds"`
}

// Point is one timestamped value of a chart line.
type Point struct {
	Time  time.Time `json:"time"`
	Value *float64  `json:"value"`
}

// FieldSeries is the window and forecast of one field.
type FieldSeries struct {
	Field    sensor.Field `json:"field"`
	Label    string       `json:"label"`
	Window   []Point      `json:"window"`
	Forecast []Point      `json:"forecast"`
}

// PondView is the detail page of one pond.
type PondView struct {
	Pond    string        `json:"pond"`
	Start   int           `json:"start"`
	Wrapped bool          `json:"wrapped"`
	Time    time.Time     `json:"time"`
	Values  []FieldValue  `json:"values"`
	Series  []FieldSeries `json:"series"`
}

// BandPoint is the spread of a field across ponds at one window row.
type BandPoint struct {
	Time   time.Time `json:"time"`
	Min    *float64  `json:"min"`
	Median *float64  `json:"median"`
	Max    *float64  `json:"max"`
}

// FieldBands is the min/median/max band of one field.
type FieldBands struct {
	Field  sensor.Field `json:"field"`
	Label  string       `json:"label"`
	Points []BandPoint  `json:"points"`
}

// AggregateView compares all ponds aligned on the rows of the base pond.
type AggregateView struct {
	Base    string            `json:"base"`
	Start   int               `json:"start"`
	Ponds   []string          `json:"ponds"`
	Skipped map[string]string `json:"skipped,omitempty"`
	Fields  []FieldBands      `json:"fields"`
}

func fieldValues(f rotation.Frame, fields []sensor.Field, epsilon float64) []FieldValue {
	latest := f.Window.Last()
	out := make([]FieldValue, 0, len(fields))
	for _, field := range fields {
		trend := rotation.FrameTrend(f, field, epsilon)
		out = append(out, FieldValue{
			Field:  field,
			Label:  field.Label(),
			Value:  sensor.Nullable(field.Value(latest)),
			Trend:  trend,
			Symbol: trend.Symbol(),
		})
	}
	return out
}

func points(s sensor.Series, field sensor.Field) []Point {
	out := make([]Point, len(s))
	for i, r := range s {
		out[i] = Point{Time: r.CreatedAt, Value: sensor.Nullable(field.Value(r))}
	}
	return out
}
