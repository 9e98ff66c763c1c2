package mocks

import (
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stretchr/testify/mock"
)

// MockBatch records appended rows. Methods not overridden here are promoted
// from the nil embedded driver.Batch and panic if called.
type MockBatch struct {
	driver.Batch
	mock.Mock

	Appended [][]any
}

func (b *MockBatch) Append(v ...any) error {
	args := b.Called(v...)
	if args.Error(0) == nil {
		b.Appended = append(b.Appended, v)
	}
	return args.Error(0)
}

func (b *MockBatch) Send() error {
	return b.Called().Error(0)
}

func (b *MockBatch) Abort() error {
	return b.Called().Error(0)
}

func (b *MockBatch) Rows() int {
	return len(b.Appended)
}
