// Package readings stores pond readings in Postgres with one table per pond,
// the layout used by the sensor-db upload scripts.
package readings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aquaponics/pondwatch/pkg/sensor"
	"github.com/aquaponics/pondwatch/pkg/source"
	"github.com/aquaponics/pondwatch/pkg/utils"
)

// undefinedTable is the SQLSTATE returned when a queried table does not exist.
const undefinedTable = "42P01"

var _ source.Source = (*Repository)(nil)

// Repository reads and imports pond tables. Pond names are mapped to table
// names with utils.SQLIdent, so Ponds returns the normalised names.
type Repository struct {
	pool   *pgxpool.Pool
	schema string
}

// New connects a pool and verifies it with a ping.
func New(ctx context.Context, cfg Config) (*Repository, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}
	return &Repository{pool: pool, schema: schema}, nil
}

func (r *Repository) Close() { r.pool.Close() }

// columns lists the table columns in COPY and SELECT order.
func columns() []string {
	cols := []string{"created_at", "entry_id"}
	for _, f := range sensor.AllFields() {
		cols = append(cols, f.String())
	}
	return cols
}

func (r *Repository) table(pond string) (pgx.Identifier, error) {
	ident, err := utils.SQLIdent(pond)
	if err != nil {
		return nil, fmt.Errorf("invalid pond name %q: %w", pond, err)
	}
	return pgx.Identifier{r.schema, ident}, nil
}

func createTableSQL(table pgx.Identifier) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	created_at TIMESTAMPTZ NOT NULL,
	entry_id BIGINT NOT NULL,
	temperature DOUBLE PRECISION,
	turbidity DOUBLE PRECISION,
	dissolved_oxygen DOUBLE PRECISION,
	ph DOUBLE PRECISION,
	ammonia DOUBLE PRECISION,
	nitrate DOUBLE PRECISION,
	population DOUBLE PRECISION,
	fish_length DOUBLE PRECISION,
	fish_weight DOUBLE PRECISION
)`, table.Sanitize())
}

func selectSeriesSQL(table pgx.Identifier) string {
	cols := columns()
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at, entry_id`,
		strings.Join(quoted, ", "), table.Sanitize())
}

// CreateTable creates the table of pond if it does not exist.
func (r *Repository) CreateTable(ctx context.Context, pond string) error {
	table, err := r.table(pond)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, createTableSQL(table)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table.Sanitize(), err)
	}
	return nil
}

// copyRows converts readings to COPY rows. Missing values become NULL.
func copyRows(readings []sensor.Reading) [][]any {
	rows := make([][]any, 0, len(readings))
	for _, rd := range readings {
		row := make([]any, 0, 2+len(sensor.AllFields()))
		row = append(row, rd.CreatedAt.UTC(), rd.EntryID)
		for _, f := range sensor.AllFields() {
			row = append(row, sensor.Nullable(f.Value(rd)))
		}
		rows = append(rows, row)
	}
	return rows
}

// Import replaces the table of pond with readings inside one transaction and
// returns the number of copied rows.
func (r *Repository) Import(ctx context.Context, pond string, readings []sensor.Reading) (int64, error) {
	table, err := r.table(pond)
	if err != nil {
		return 0, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin import of %s: %w", pond, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+table.Sanitize()); err != nil {
		return 0, fmt.Errorf("failed to drop table %s: %w", table.Sanitize(), err)
	}
	if _, err := tx.Exec(ctx, createTableSQL(table)); err != nil {
		return 0, fmt.Errorf("failed to create table %s: %w", table.Sanitize(), err)
	}
	n, err := tx.CopyFrom(ctx, table, columns(), pgx.CopyFromRows(copyRows(readings)))
	if err != nil {
		return 0, fmt.Errorf("failed to copy readings into %s: %w", table.Sanitize(), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit import of %s: %w", pond, err)
	}
	return n, nil
}

// Series returns every reading of pond ordered by created_at. A missing or
// empty table fails with source.ErrUnknownPond.
func (r *Repository) Series(ctx context.Context, pond string) (sensor.Series, error) {
	table, err := r.table(pond)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", source.ErrUnknownPond, err)
	}
	rows, err := r.pool.Query(ctx, selectSeriesSQL(table))
	if err != nil {
		return nil, wrapQueryErr(pond, err)
	}
	defer rows.Close()

	var out sensor.Series
	fields := sensor.AllFields()
	for rows.Next() {
		var rd sensor.Reading
		vals := make([]*float64, len(fields))
		dest := []any{&rd.CreatedAt, &rd.EntryID}
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan reading (pond: %s): %w", pond, err)
		}
		rd.CreatedAt = rd.CreatedAt.UTC()
		for i, f := range fields {
			f.Set(&rd, fromNullable(vals[i]))
		}
		out = append(out, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryErr(pond, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %q", source.ErrUnknownPond, pond)
	}
	return out, nil
}

func wrapQueryErr(pond string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
		return fmt.Errorf("%w: %q", source.ErrUnknownPond, pond)
	}
	return fmt.Errorf("failed to query readings (pond: %s): %w", pond, err)
}

func fromNullable(p *float64) float64 {
	if p == nil {
		return sensor.Missing()
	}
	return *p
}

// Ponds lists the base tables of the schema, sorted by name.
func (r *Repository) Ponds(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT table_name FROM information_schema.tables
WHERE table_type = 'BASE TABLE' AND table_schema = $1 ORDER BY table_name`, r.schema)
	if err != nil {
		return nil, fmt.Errorf("failed to list pond tables: %w", err)
	}
	ponds, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan pond tables: %w", err)
	}
	return ponds, nil
}
