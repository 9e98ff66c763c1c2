package testutils

import (
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/aquaponics/pondwatch/pkg/clickhouse"
	"github.com/aquaponics/pondwatch/pkg/clickhouse/mocks"
)

// MockConn is re-exported so repository tests need a single import.
type MockConn = mocks.MockConn

// NewTestClient creates a client around conn without dialing ClickHouse.
// Repository tests use it with a MockConn.
func NewTestClient(conn driver.Conn) clickhouse.Client {
	return clickhouse.NewWithConn(conn, zap.NewNop().Sugar())
}
