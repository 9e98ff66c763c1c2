package generator

import (
	"math"
	"math/rand/v2"

	"github.com/aquaponics/pondwatch/pkg/sensor"
)

// Column describes how one sensor value is drawn.
type Column struct {
	Field   sensor.Field
	Average float64
	Delta   float64
	// Integer truncates drawn values towards zero.
	Integer bool
}

// aspect weights out of 10: missing, outlier, normal.
const (
	missingWeight = 1
	outlierWeight = 2
	totalWeight   = 10
)

// DefaultColumns returns the ranges of the reference mock device.
func DefaultColumns() []Column {
	return []Column{
		{Field: sensor.Temperature, Average: 25, Delta: 5},
		{Field: sensor.Turbidity, Average: 50, Delta: 50, Integer: true},
		{Field: sensor.DissolvedOxygen, Average: 50, Delta: 50},
		{Field: sensor.PH, Average: 50, Delta: 50},
		{Field: sensor.Ammonia, Average: 50, Delta: 50},
		{Field: sensor.Nitrate, Average: 50, Delta: 50, Integer: true},
		{Field: sensor.Population, Average: 50, Delta: 50, Integer: true},
		{Field: sensor.FishLength, Average: 50, Delta: 50},
		{Field: sensor.FishWeight, Average: 50, Delta: 50},
	}
}

// draw returns a missing value 10% of the time, an outlier within two deltas
// 20% of the time and a normal value within one delta otherwise.
func (c Column) draw(rng *rand.Rand) float64 {
	spread := c.Delta
	switch pick := rng.IntN(totalWeight); {
	case pick < missingWeight:
		return sensor.Missing()
	case pick < missingWeight+outlierWeight:
		spread = 2 * c.Delta
	}
	lo, hi := c.Average-spread, c.Average+spread
	v := lo + rng.Float64()*(hi-lo)
	if c.Integer {
		v = math.Trunc(v)
	}
	return v
}
