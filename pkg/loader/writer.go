package loader

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/aquaponics/pondwatch/pkg/sensor"
)

// Writer appends readings as CSV rows using the database column names, so
// files it produces load back through Parse.
type Writer struct {
	mu     sync.Mutex
	w      *csv.Writer
	header bool
}

// NewWriter returns a Writer on w. The header row is written before the first
// reading unless withHeader is false (e.g. when appending to an existing file).
func NewWriter(w io.Writer, withHeader bool) *Writer {
	return &Writer{w: csv.NewWriter(w), header: !withHeader}
}

// Header returns the column names in write order.
func Header() []string {
	h := []string{colCreatedAt, colEntryID}
	for _, f := range sensor.AllFields() {
		h = append(h, f.String())
	}
	return h
}

// Write appends one reading and flushes it.
func (w *Writer) Write(r sensor.Reading) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.header {
		if err := w.w.Write(Header()); err != nil {
			return fmt.Errorf("failed to write csv header: %w", err)
		}
		w.header = true
	}

	rec := make([]string, 0, 2+len(sensor.AllFields()))
	rec = append(rec, r.CreatedAt.UTC().Format(time.RFC3339Nano), strconv.FormatInt(r.EntryID, 10))
	for _, f := range sensor.AllFields() {
		v := f.Value(r)
		if sensor.IsMissing(v) {
			rec = append(rec, "")
			continue
		}
		rec = append(rec, strconv.FormatFloat(v, 'f', -1, 64))
	}
	if err := w.w.Write(rec); err != nil {
		return fmt.Errorf("failed to write csv row: %w", err)
	}
	w.w.Flush()
	return w.w.Error()
}
