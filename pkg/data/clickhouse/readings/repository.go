package readings

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/aquaponics/pondwatch/pkg/clickhouse"
	"github.com/aquaponics/pondwatch/pkg/sensor"
	"github.com/aquaponics/pondwatch/pkg/source"
)

// Repository stores pond readings in one ClickHouse table keyed by pond. It
// implements source.Source so the dashboard can read straight from it.
type Repository interface {
	source.Source
	CreateTableIfNotExists(ctx context.Context) error
	InsertBatch(ctx context.Context, pond string, readings []sensor.Reading) error
	DeletePond(ctx context.Context, pond string) error
}

var _ Repository = (*repository)(nil)

//go:embed queries/create-table.sql
var createTableQuery string

//go:embed queries/insert-readings.sql
var insertReadingsQuery string

//go:embed queries/select-series.sql
var selectSeriesQuery string

//go:embed queries/select-ponds.sql
var selectPondsQuery string

//go:embed queries/delete-pond.sql
var deletePondQuery string

type repository struct {
	client    clickhouse.Client
	database  string
	tableName string
}

// NewRepository creates the readings table if needed and returns the repository.
func NewRepository(ctx context.Context, client clickhouse.Client, database, tableName string) (Repository, error) {
	repo := &repository{client: client, database: database, tableName: tableName}
	if err := repo.CreateTableIfNotExists(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

// CreateTableIfNotExists ensures the readings table exists.
// Rows are deduplicated on (pond, created_at, entry_id) at merge time, keeping the latest insert.
func (r *repository) CreateTableIfNotExists(ctx context.Context) error {
	query := fmt.Sprintf(createTableQuery, r.database, r.tableName)
	if err := r.client.Conn().Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create readings table: %w", err)
	}
	return nil
}

// InsertBatch writes readings of one pond in a single batch. Missing values are stored as NULL.
func (r *repository) InsertBatch(ctx context.Context, pond string, readings []sensor.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	query := fmt.Sprintf(insertReadingsQuery, r.database, r.tableName)
	batch, err := r.client.Conn().PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare readings batch: %w", err)
	}

	for _, rd := range readings {
		err := batch.Append(
			pond,
			rd.CreatedAt.UTC(),
			rd.EntryID,
			sensor.Nullable(rd.Temperature),
			sensor.Nullable(rd.Turbidity),
			sensor.Nullable(rd.DissolvedOxygen),
			sensor.Nullable(rd.PH),
			sensor.Nullable(rd.Ammonia),
			sensor.Nullable(rd.Nitrate),
			sensor.Nullable(rd.Population),
			sensor.Nullable(rd.FishLength),
			sensor.Nullable(rd.FishWeight),
		)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append reading (pond: %s, entry: %d): %w", pond, rd.EntryID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send readings batch (pond: %s, rows: %d): %w", pond, len(readings), err)
	}
	return nil
}

// Series returns every reading of pond ordered by created_at. A pond without
// rows fails with source.ErrUnknownPond.
func (r *repository) Series(ctx context.Context, pond string) (sensor.Series, error) {
	query := fmt.Sprintf(selectSeriesQuery, r.database, r.tableName)
	rows, err := r.client.Conn().Query(ctx, query, pond)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings (pond: %s): %w", pond, err)
	}
	defer rows.Close()

	var out sensor.Series
	for rows.Next() {
		var (
			createdAt time.Time
			entryID   int64
			vals      [9]*float64
		)
		if err := rows.Scan(
			&createdAt, &entryID,
			&vals[0], &vals[1], &vals[2], &vals[3], &vals[4], &vals[5], &vals[6], &vals[7], &vals[8],
		); err != nil {
			return nil, fmt.Errorf("failed to scan reading (pond: %s): %w", pond, err)
		}
		rd := sensor.NewReading(createdAt.UTC(), entryID)
		for i, f := range sensor.AllFields() {
			if vals[i] != nil {
				f.Set(&rd, *vals[i])
			}
		}
		out = append(out, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate readings (pond: %s): %w", pond, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %q", source.ErrUnknownPond, pond)
	}
	return out, nil
}

// Ponds returns every pond with at least one reading, sorted by name.
func (r *repository) Ponds(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(selectPondsQuery, r.database, r.tableName)
	rows, err := r.client.Conn().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query ponds: %w", err)
	}
	defer rows.Close()

	var ponds []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan pond: %w", err)
		}
		ponds = append(ponds, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ponds: %w", err)
	}
	return ponds, nil
}

// DeletePond removes all readings of pond.
func (r *repository) DeletePond(ctx context.Context, pond string) error {
	query := fmt.Sprintf(deletePondQuery, r.database, r.tableName)
	if err := r.client.Conn().Exec(ctx, query, pond); err != nil {
		return fmt.Errorf("failed to delete pond %s: %w", pond, err)
	}
	return nil
}
