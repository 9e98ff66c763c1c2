// Package source provides pond series to the dashboard from CSV files or
// databases, optionally behind a cache.
package source

import (
	"context"
	"errors"

	"github.com/aquaponics/pondwatch/pkg/sensor"
)

var ErrUnknownPond = errors.New("unknown pond")

// Source supplies cleaned, time-sorted series per pond.
type Source interface {
	// Ponds returns the pond names in display order.
	Ponds(ctx context.Context) ([]string, error)
	// Series returns the full series of pond. Unknown ponds fail with ErrUnknownPond.
	Series(ctx context.Context, pond string) (sensor.Series, error)
}

// Invalidator drops cached data of one pond.
type Invalidator interface {
	Invalidate(ctx context.Context, pond string) error
}
