package cursors

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/aquaponics/pondwatch/pkg/checkpointer"
	"github.com/aquaponics/pondwatch/pkg/clickhouse"
)

// Repository is used to write and read the rotation cursors of display sessions
// to persistent storage (ClickHouse). It implements the checkpointer.Checkpointer interface
// and adds ClickHouse-specific operations.
type Repository interface {
	checkpointer.Checkpointer
	DeleteCursors(ctx context.Context, sessionID string) error
}

var (
	_ Repository                = (*repository)(nil)
	_ checkpointer.Checkpointer = (*repository)(nil)
)

//go:embed queries/create-table.sql
var createTableQuery string

//go:embed queries/write-cursors.sql
var writeCursorsQuery string

//go:embed queries/read-cursors.sql
var readCursorsQuery string

//go:embed queries/delete-cursors.sql
var deleteCursorsQuery string

type repository struct {
	client    clickhouse.Client
	database  string
	tableName string
	now       func() time.Time

	mu        sync.Mutex
	lastStamp int64
}

func NewRepository(ctx context.Context, client clickhouse.Client, database, tableName string) (Repository, error) {
	repo := &repository{client: client, database: database, tableName: tableName, now: time.Now}
	if err := repo.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to create cursors table: %w", err)
	}
	return repo, nil
}

// Initialize ensures the cursors table exists in ClickHouse.
// Schema:
//   - session_id, series_id: String (sorting key)
//   - cursor: UInt64
//   - timestamp: Int64, Unix nanoseconds (used by ReplacingMergeTree for deduplication)
func (r *repository) Initialize(ctx context.Context) error {
	query := fmt.Sprintf(createTableQuery, r.database, r.tableName)
	if err := r.client.Conn().Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create cursors table: %w", err)
	}
	return nil
}

// Write persists every cursor of a session in one batch. Rows are stamped in
// Unix nanoseconds and each write of this repository gets a strictly greater
// stamp than the previous one, so the latest write wins on read.
func (r *repository) Write(ctx context.Context, sessionID string, cursors map[string]int) error {
	if len(cursors) == 0 {
		return nil
	}
	query := fmt.Sprintf(writeCursorsQuery, r.database, r.tableName)
	batch, err := r.client.Conn().PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare cursor batch: %w", err)
	}

	ts := r.stamp()
	for seriesID, cursor := range cursors {
		if cursor < 0 {
			_ = batch.Abort()
			return fmt.Errorf("invalid cursor for %s: %d", seriesID, cursor)
		}
		if err := batch.Append(sessionID, seriesID, uint64(cursor), ts); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append cursor %s: %w", seriesID, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to write cursors (session: %s): %w", sessionID, err)
	}
	return nil
}

func (r *repository) stamp() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := r.now().UnixNano()
	if ts <= r.lastStamp {
		ts = r.lastStamp + 1
	}
	r.lastStamp = ts
	return ts
}

// Read retrieves the latest cursor of every series of a session.
func (r *repository) Read(ctx context.Context, sessionID string) (map[string]int, bool, error) {
	query := fmt.Sprintf(readCursorsQuery, r.database, r.tableName)
	rows, err := r.client.Conn().Query(ctx, query, sessionID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cursors (session: %s): %w", sessionID, err)
	}
	defer rows.Close()

	cursors := make(map[string]int)
	for rows.Next() {
		var (
			seriesID string
			cursor   uint64
		)
		if err := rows.Scan(&seriesID, &cursor); err != nil {
			return nil, false, fmt.Errorf("failed to scan cursor: %w", err)
		}
		cursors[seriesID] = int(cursor)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("failed to iterate cursors: %w", err)
	}
	if len(cursors) == 0 {
		return nil, false, nil
	}
	return cursors, true, nil
}

func (r *repository) DeleteCursors(ctx context.Context, sessionID string) error {
	query := fmt.Sprintf(deleteCursorsQuery, r.database, r.tableName)
	if err := r.client.Conn().Exec(ctx, query, sessionID); err != nil {
		return fmt.Errorf("failed to delete cursors: %w", err)
	}
	return nil
}
