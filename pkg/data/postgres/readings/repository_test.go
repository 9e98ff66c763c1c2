package readings

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquaponics/pondwatch/pkg/sensor"
	"github.com/aquaponics/pondwatch/pkg/source"
)

func TestColumns(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{
		"created_at", "entry_id", "temperature", "turbidity", "dissolved_oxygen", "ph",
		"ammonia", "nitrate", "population", "fish_length", "fish_weight",
	}, columns())
}

func TestTableName(t *testing.T) {
	t.Parallel()
	r := &Repository{schema: "public"}

	tests := []struct {
		pond    string
		want    string
		wantErr bool
	}{
		{pond: "IoTPond1", want: `"public"."iotpond1"`},
		{pond: "Pond 2 (east)", want: `"public"."pond_2_east"`},
		{pond: "3rd", want: `"public"."pond_3rd"`},
		{pond: "!!!", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.pond, func(t *testing.T) {
			t.Parallel()
			table, err := r.table(tt.pond)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, table.Sanitize())
		})
	}
}

func TestSQL(t *testing.T) {
	t.Parallel()
	table := pgx.Identifier{"public", "iotpond1"}

	create := createTableSQL(table)
	assert.Contains(t, create, `CREATE TABLE IF NOT EXISTS "public"."iotpond1"`)
	assert.Contains(t, create, "created_at TIMESTAMPTZ NOT NULL")

	sel := selectSeriesSQL(table)
	assert.Contains(t, sel, `"fish_weight" FROM "public"."iotpond1"`)
	assert.Contains(t, sel, "ORDER BY created_at, entry_id")
}

func TestCopyRows(t *testing.T) {
	t.Parallel()
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("X", 3600))
	rd := sensor.NewReading(ts, 7)
	rd.Temperature = 24.5
	rd.PH = 7.1

	rows := copyRows([]sensor.Reading{rd})
	require.Len(t, rows, 1)
	row := rows[0]
	require.Len(t, row, len(columns()))
	assert.Equal(t, ts.UTC(), row[0])
	assert.Equal(t, int64(7), row[1])
	assert.InDelta(t, 24.5, *row[2].(*float64), 1e-9)
	assert.Nil(t, row[3].(*float64))
	assert.InDelta(t, 7.1, *row[5].(*float64), 1e-9)
}

func TestWrapQueryErr(t *testing.T) {
	t.Parallel()
	missing := fmt.Errorf("query: %w", &pgconn.PgError{Code: undefinedTable})
	require.ErrorIs(t, wrapQueryErr("p", missing), source.ErrUnknownPond)

	other := errors.New("connection reset")
	err := wrapQueryErr("p", other)
	require.ErrorIs(t, err, other)
	assert.NotErrorIs(t, err, source.ErrUnknownPond)
}

func TestLoad(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://u:p@db:5432/x")
	t.Setenv("POSTGRES_MAX_CONNS", "9")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db:5432/x", cfg.DSN)
	assert.Equal(t, int32(9), cfg.MaxConns)
	assert.Equal(t, "public", cfg.Schema)
}
