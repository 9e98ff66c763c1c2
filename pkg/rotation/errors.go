package rotation

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData is matched by every *InsufficientDataError.
	ErrInsufficientData = errors.New("insufficient data for window and forecast")
	// ErrMisaligned is returned by strict alignment when a series cannot supply a full window.
	ErrMisaligned = errors.New("series are not aligned")
)

// InsufficientDataError reports a series too short to hold one window plus forecast.
type InsufficientDataError struct {
	SeriesID string
	Have     int
	Need     int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: series %q has %d rows, need at least %d", ErrInsufficientData, e.SeriesID, e.Have, e.Need)
}

func (e *InsufficientDataError) Unwrap() error {
	return ErrInsufficientData
}
