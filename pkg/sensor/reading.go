package sensor

import (
	"encoding/json"
	"math"
	"time"
)

// Reading is a single row of pond sensor data.
// Missing numeric values are represented as NaN in memory and as null on the wire.
type Reading struct {
	CreatedAt       time.Time
	EntryID         int64
	Temperature     float64
	Turbidity       float64
	DissolvedOxygen float64
	PH              float64
	Ammonia         float64
	Nitrate         float64
	Population      float64
	FishLength      float64
	FishWeight      float64
}

// Series is a time ordered sequence of readings from one pond.
type Series []Reading

// Missing returns the value used for an absent measurement.
func Missing() float64 { return math.NaN() }

// IsMissing reports whether v is an absent measurement.
func IsMissing(v float64) bool { return math.IsNaN(v) }

// NewReading returns a reading with every sensor value set to missing.
func NewReading(createdAt time.Time, entryID int64) Reading {
	r := Reading{CreatedAt: createdAt, EntryID: entryID}
	for _, f := range AllFields() {
		f.Set(&r, Missing())
	}
	return r
}

// HasSensorData reports whether at least one water-quality value is present.
func (r Reading) HasSensorData() bool {
	for _, f := range WaterQualityFields() {
		if !IsMissing(f.Value(r)) {
			return true
		}
	}
	return false
}

// Equal compares two readings treating missing values as equal to each other.
func (r Reading) Equal(o Reading) bool {
	if !r.CreatedAt.Equal(o.CreatedAt) || r.EntryID != o.EntryID {
		return false
	}
	for _, f := range AllFields() {
		a, b := f.Value(r), f.Value(o)
		if IsMissing(a) && IsMissing(b) {
			continue
		}
		if a != b {
			return false
		}
	}
	return true
}

type wireReading struct {
	CreatedAt       time.Time `json:"created_at"`
	EntryID         int64     `json:"entry_id"`
	Temperature     *float64  `json:"temperature"`
	Turbidity       *float64  `json:"turbidity"`
	DissolvedOxygen *float64  `json:"dissolved_oxygen"`
	PH              *float64  `json:"ph"`
	Ammonia         *float64  `json:"ammonia"`
	Nitrate         *float64  `json:"nitrate"`
	Population      *float64  `json:"population"`
	FishLength      *float64  `json:"fish_length"`
	FishWeight      *float64  `json:"fish_weight"`
}

// Nullable converts a measurement to a pointer, nil when missing.
func Nullable(v float64) *float64 {
	if IsMissing(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func fromNullable(p *float64) float64 {
	if p == nil {
		return Missing()
	}
	return *p
}

func (r Reading) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireReading{
		CreatedAt:       r.CreatedAt,
		EntryID:         r.EntryID,
		Temperature:     Nullable(r.Temperature),
		Turbidity:       Nullable(r.Turbidity),
		DissolvedOxygen: Nullable(r.DissolvedOxygen),
		PH:              Nullable(r.PH),
		Ammonia:         Nullable(r.Ammonia),
		Nitrate:         Nullable(r.Nitrate),
		Population:      Nullable(r.Population),
		FishLength:      Nullable(r.FishLength),
		FishWeight:      Nullable(r.FishWeight),
	})
}

func (r *Reading) UnmarshalJSON(data []byte) error {
	var w wireReading
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = Reading{
		CreatedAt:       w.CreatedAt,
		EntryID:         w.EntryID,
		Temperature:     fromNullable(w.Temperature),
		Turbidity:       fromNullable(w.Turbidity),
		DissolvedOxygen: fromNullable(w.DissolvedOxygen),
		PH:              fromNullable(w.PH),
		Ammonia:         fromNullable(w.Ammonia),
		Nitrate:         fromNullable(w.Nitrate),
		Population:      fromNullable(w.Population),
		FishLength:      fromNullable(w.FishLength),
		FishWeight:      fromNullable(w.FishWeight),
	}
	return nil
}

// Last returns the final reading of the series. The series must not be empty.
func (s Series) Last() Reading {
	return s[len(s)-1]
}

// Values extracts one field from every reading.
func (s Series) Values(f Field) []float64 {
	out := make([]float64, len(s))
	for i, r := range s {
		out[i] = f.Value(r)
	}
	return out
}
