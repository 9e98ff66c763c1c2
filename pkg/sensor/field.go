package sensor

import (
	"errors"
	"fmt"
)

// Field identifies a numeric column of a Reading.
type Field int

const (
	Temperature Field = iota
	PH
	DissolvedOxygen
	Turbidity
	Ammonia
	Nitrate
	Population
	FishLength
	FishWeight
)

var ErrUnknownField = errors.New("unknown sensor field")

var fieldNames = map[Field]string{
	Temperature:     "temperature",
	PH:              "ph",
	DissolvedOxygen: "dissolved_oxygen",
	Turbidity:       "turbidity",
	Ammonia:         "ammonia",
	Nitrate:         "nitrate",
	Population:      "population",
	FishLength:      "fish_length",
	FishWeight:      "fish_weight",
}

var fieldLabels = map[Field]string{
	Temperature:     "Temperature (°C)",
	PH:              "pH",
	DissolvedOxygen: "Dissolved Oxygen (g/ml)",
	Turbidity:       "Turbidity (NTU)",
	Ammonia:         "Ammonia (g/ml)",
	Nitrate:         "Nitrate (g/ml)",
	Population:      "Population",
	FishLength:      "Fish Length (cm)",
	FishWeight:      "Fish Weight (g)",
}

// AllFields returns every numeric column in storage order.
func AllFields() []Field {
	return []Field{Temperature, Turbidity, DissolvedOxygen, PH, Ammonia, Nitrate, Population, FishLength, FishWeight}
}

// WaterQualityFields returns the six fields shown on the dashboard, in display order.
func WaterQualityFields() []Field {
	return []Field{Temperature, PH, DissolvedOxygen, Turbidity, Ammonia, Nitrate}
}

// ParseField maps a column name to a Field.
func ParseField(name string) (Field, error) {
	for f, n := range fieldNames {
		if n == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownField, name)
}

func (f Field) String() string {
	if n, ok := fieldNames[f]; ok {
		return n
	}
	return fmt.Sprintf("field(%d)", int(f))
}

// Label is the human readable column title.
func (f Field) Label() string {
	return fieldLabels[f]
}

func (f Field) MarshalText() ([]byte, error) {
	if _, ok := fieldNames[f]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownField, int(f))
	}
	return []byte(f.String()), nil
}

func (f *Field) UnmarshalText(b []byte) error {
	parsed, err := ParseField(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Value reads the field from r.
func (f Field) Value(r Reading) float64 {
	switch f {
	case Temperature:
		return r.Temperature
	case PH:
		return r.PH
	case DissolvedOxygen:
		return r.DissolvedOxygen
	case Turbidity:
		return r.Turbidity
	case Ammonia:
		return r.Ammonia
	case Nitrate:
		return r.Nitrate
	case Population:
		return r.Population
	case FishLength:
		return r.FishLength
	case FishWeight:
		return r.FishWeight
	default:
		return Missing()
	}
}

// Set writes v into the field of r.
func (f Field) Set(r *Reading, v float64) {
	switch f {
	case Temperature:
		r.Temperature = v
	case PH:
		r.PH = v
	case DissolvedOxygen:
		r.DissolvedOxygen = v
	case Turbidity:
		r.Turbidity = v
	case Ammonia:
		r.Ammonia = v
	case Nitrate:
		r.Nitrate = v
	case Population:
		r.Population = v
	case FishLength:
		r.FishLength = v
	case FishWeight:
		r.FishWeight = v
	}
}
