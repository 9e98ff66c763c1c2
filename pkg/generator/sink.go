package generator

import (
	"context"
	"io"

	"github.com/aquaponics/pondwatch/pkg/loader"
	"github.com/aquaponics/pondwatch/pkg/sensor"
)

// CSVSink appends readings to a CSV stream loadable by loader.Parse.
type CSVSink struct {
	w *loader.Writer
}

// NewCSVSink writes to w, starting with a header row when withHeader is set.
func NewCSVSink(w io.Writer, withHeader bool) *CSVSink {
	return &CSVSink{w: loader.NewWriter(w, withHeader)}
}

func (s *CSVSink) Name() string { return "csv" }

func (s *CSVSink) Publish(_ context.Context, _ string, r sensor.Reading) error {
	return s.w.Write(r)
}

// Multi fans a reading out to several sinks and returns the first error.
type Multi []Sink

func (m Multi) Name() string { return "multi" }

func (m Multi) Publish(ctx context.Context, pond string, r sensor.Reading) error {
	var first error
	for _, s := range m {
		if err := s.Publish(ctx, pond, r); err != nil && first == nil {
			first = err
		}
	}
	return first
}
