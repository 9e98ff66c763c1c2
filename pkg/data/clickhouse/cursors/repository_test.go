package cursors

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aquaponics/pondwatch/pkg/clickhouse/mocks"
	"github.com/aquaponics/pondwatch/pkg/clickhouse/testutils"
)

func containsAll(parts ...string) any {
	return mock.MatchedBy(func(q string) bool {
		for _, p := range parts {
			if !strings.Contains(q, p) {
				return false
			}
		}
		return true
	})
}

func newRepo(t *testing.T, conn *testutils.MockConn) *repository {
	t.Helper()
	conn.On("Exec", mock.Anything, containsAll("CREATE TABLE IF NOT EXISTS", "default.cursors", "ReplacingMergeTree")).
		Return(nil).Once()
	repo, err := NewRepository(t.Context(), testutils.NewTestClient(conn), "default", "cursors")
	require.NoError(t, err)
	r := repo.(*repository)
	r.now = func() time.Time { return time.Unix(1700000000, 0) }
	return r
}

func TestRepository_Write(t *testing.T) {
	t.Parallel()
	conn := &testutils.MockConn{}
	repo := newRepo(t, conn)

	batch := &mocks.MockBatch{}
	batch.On("Append", "kiosk", mock.Anything, mock.Anything, int64(1700000000*time.Second)).Return(nil)
	batch.On("Send").Return(nil).Once()
	conn.On("PrepareBatch", mock.Anything, containsAll("INSERT INTO default.cursors")).Return(batch, nil).Once()

	err := repo.Write(t.Context(), "kiosk", map[string]int{"main_IoTPond1": 3, "aggregate": 0})
	require.NoError(t, err)

	got := map[string]uint64{}
	for _, row := range batch.Appended {
		got[row[1].(string)] = row[2].(uint64)
	}
	assert.Equal(t, map[string]uint64{"main_IoTPond1": 3, "aggregate": 0}, got)
	conn.AssertExpectations(t)
	batch.AssertExpectations(t)
}

func TestRepository_Write_SameInstantStampsIncrease(t *testing.T) {
	t.Parallel()
	conn := &testutils.MockConn{}
	repo := newRepo(t, conn)

	var stamps []int64
	for range 3 {
		batch := &mocks.MockBatch{}
		batch.On("Append", "kiosk", "aggregate", mock.Anything, mock.Anything).Return(nil).Once()
		batch.On("Send").Return(nil).Once()
		conn.On("PrepareBatch", mock.Anything, containsAll("INSERT INTO default.cursors")).Return(batch, nil).Once()

		require.NoError(t, repo.Write(t.Context(), "kiosk", map[string]int{"aggregate": 1}))
		require.Len(t, batch.Appended, 1)
		stamps = append(stamps, batch.Appended[0][3].(int64))
	}
	assert.Equal(t, []int64{
		int64(1700000000 * time.Second),
		int64(1700000000*time.Second) + 1,
		int64(1700000000*time.Second) + 2,
	}, stamps)
}

func TestRepository_Write_Empty(t *testing.T) {
	t.Parallel()
	conn := &testutils.MockConn{}
	repo := newRepo(t, conn)
	require.NoError(t, repo.Write(t.Context(), "kiosk", nil))
	conn.AssertNotCalled(t, "PrepareBatch", mock.Anything, mock.Anything)
}

func TestRepository_Write_Errors(t *testing.T) {
	t.Parallel()
	prepErr := errors.New("prepare failed")
	sendErr := errors.New("send failed")

	tests := []struct {
		name    string
		cursors map[string]int
		setup   func(conn *testutils.MockConn, batch *mocks.MockBatch)
		wantErr error
	}{
		{
			name:    "prepare fails",
			cursors: map[string]int{"a": 1},
			setup: func(conn *testutils.MockConn, _ *mocks.MockBatch) {
				conn.On("PrepareBatch", mock.Anything, mock.Anything).Return(nil, prepErr)
			},
			wantErr: prepErr,
		},
		{
			name:    "send fails",
			cursors: map[string]int{"a": 1},
			setup: func(conn *testutils.MockConn, batch *mocks.MockBatch) {
				batch.On("Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
				batch.On("Send").Return(sendErr)
				conn.On("PrepareBatch", mock.Anything, mock.Anything).Return(batch, nil)
			},
			wantErr: sendErr,
		},
		{
			name:    "negative cursor aborts",
			cursors: map[string]int{"a": -1},
			setup: func(conn *testutils.MockConn, batch *mocks.MockBatch) {
				batch.On("Abort").Return(nil).Once()
				conn.On("PrepareBatch", mock.Anything, mock.Anything).Return(batch, nil)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			conn := &testutils.MockConn{}
			repo := newRepo(t, conn)
			batch := &mocks.MockBatch{}
			tt.setup(conn, batch)

			err := repo.Write(t.Context(), "kiosk", tt.cursors)
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
			batch.AssertExpectations(t)
		})
	}
}

func TestRepository_Read(t *testing.T) {
	t.Parallel()
	conn := &testutils.MockConn{}
	repo := newRepo(t, conn)

	rows := mocks.NewRows(
		[]any{"main_IoTPond1", uint64(4)},
		[]any{"aggregate", uint64(1)},
	)
	conn.On("Query", mock.Anything, containsAll("argMax(cursor, timestamp)", "default.cursors"), "kiosk").
		Return(rows, nil).Once()

	cursors, exists, err := repo.Read(t.Context(), "kiosk")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, map[string]int{"main_IoTPond1": 4, "aggregate": 1}, cursors)
	assert.True(t, rows.Closed())
}

func TestRepository_Read_NotFound(t *testing.T) {
	t.Parallel()
	conn := &testutils.MockConn{}
	repo := newRepo(t, conn)
	conn.On("Query", mock.Anything, mock.Anything, "new").Return(mocks.NewRows(), nil)

	cursors, exists, err := repo.Read(t.Context(), "new")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Nil(t, cursors)
}

func TestRepository_Read_ScanError(t *testing.T) {
	t.Parallel()
	conn := &testutils.MockConn{}
	repo := newRepo(t, conn)
	rows := mocks.NewRows([]any{"a", uint64(1)})
	rows.ScanErr = errors.New("bad type")
	conn.On("Query", mock.Anything, mock.Anything, "kiosk").Return(rows, nil)

	_, _, err := repo.Read(t.Context(), "kiosk")
	require.ErrorIs(t, err, rows.ScanErr)
}

func TestRepository_DeleteCursors(t *testing.T) {
	t.Parallel()
	conn := &testutils.MockConn{}
	repo := newRepo(t, conn)
	conn.On("Exec", mock.Anything, containsAll("ALTER TABLE default.cursors DELETE"), "kiosk").Return(nil).Once()

	require.NoError(t, repo.DeleteCursors(t.Context(), "kiosk"))
	conn.AssertExpectations(t)
}
