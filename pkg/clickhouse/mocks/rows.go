package mocks

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Rows is an in-memory driver.Rows. Scan copies each value of the current row
// into the matching destination pointer by reflection, so a nil value leaves
// a pointer-to-pointer destination nil (like a NULL).
type Rows struct {
	driver.Rows

	Data    [][]any
	ScanErr error
	IterErr error
	pos     int
	closed  bool
}

func NewRows(data ...[]any) *Rows {
	return &Rows{Data: data}
}

func (r *Rows) Next() bool {
	if r.pos >= len(r.Data) {
		return false
	}
	r.pos++
	return true
}

func (r *Rows) Scan(dest ...any) error {
	if r.ScanErr != nil {
		return r.ScanErr
	}
	if r.pos == 0 || r.pos > len(r.Data) {
		return errors.New("scan called without a current row")
	}
	row := r.Data[r.pos-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(row))
	}
	for i, d := range dest {
		if row[i] == nil {
			continue
		}
		dv := reflect.ValueOf(d)
		if dv.Kind() != reflect.Pointer || dv.IsNil() {
			return fmt.Errorf("scan: destination %d is not a pointer", i)
		}
		sv := reflect.ValueOf(row[i])
		target := dv.Elem()
		if !sv.Type().AssignableTo(target.Type()) {
			return fmt.Errorf("scan: column %d: cannot assign %s to %s", i, sv.Type(), target.Type())
		}
		target.Set(sv)
	}
	return nil
}

func (r *Rows) Err() error { return r.IterErr }

func (r *Rows) Close() error {
	r.closed = true
	return nil
}

// Closed reports whether Close was called.
func (r *Rows) Closed() bool { return r.closed }
