package rotation

import (
	"fmt"

	"github.com/aquaponics/pondwatch/pkg/sensor"
)

// DefaultEpsilon is the dead band below which a change is reported as flat.
const DefaultEpsilon = 0.01

// Trend is the direction of a field between the end of the window and the end of the forecast.
type Trend int

const (
	Flat Trend = iota
	Rising
	Falling
)

func (t Trend) String() string {
	switch t {
	case Rising:
		return "rising"
	case Falling:
		return "falling"
	default:
		return "flat"
	}
}

// Symbol is the arrow shown next to a value.
func (t Trend) Symbol() string {
	switch t {
	case Rising:
		return "▲"
	case Falling:
		return "▼"
	default:
		return "–"
	}
}

func (t Trend) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Trend) UnmarshalText(b []byte) error {
	switch string(b) {
	case "rising":
		*t = Rising
	case "falling":
		*t = Falling
	case "flat":
		*t = Flat
	default:
		return fmt.Errorf("unknown trend %q", string(b))
	}
	return nil
}

// Classify compares future against current. A missing value on either side is Flat.
func Classify(current, future, epsilon float64) Trend {
	delta := future - current
	switch {
	case delta > epsilon:
		return Rising
	case delta < -epsilon:
		return Falling
	default:
		return Flat
	}
}

// FrameTrend classifies field using the last window row and the last forecast row.
func FrameTrend(f Frame, field sensor.Field, epsilon float64) Trend {
	if len(f.Window) == 0 || len(f.Forecast) == 0 {
		return Flat
	}
	return Classify(field.Value(f.Window.Last()), field.Value(f.Forecast.Last()), epsilon)
}
