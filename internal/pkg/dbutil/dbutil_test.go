package dbutil

import (
	"context"
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func TestFinalize(t *testing.T) {
	tests := []struct {
		name      string
		dialect   Dialect
		query     string
		args      []interface{}
		wantQuery string
		wantArgs  []interface{}
	}{
		{
			name:      "postgres rebinds",
			dialect:   DialectPostgres,
			query:     "SELECT id FROM import_sessions WHERE user_id=? AND status=?",
			args:      []interface{}{"u1", "running"},
			wantQuery: "SELECT id FROM import_sessions WHERE user_id=$1 AND status=$2",
			wantArgs:  []interface{}{"u1", "running"},
		},
		{
			name:      "sqlite keeps question marks",
			dialect:   DialectSQLite,
			query:     "SELECT id FROM import_sessions WHERE user_id=?",
			args:      []interface{}{"u1"},
			wantQuery: "SELECT id FROM import_sessions WHERE user_id=?",
			wantArgs:  []interface{}{"u1"},
		},
		{
			name:      "postgres identifier quotes",
			dialect:   DialectPostgres,
			query:     "INSERT INTO tags (`id`,`name`) VALUES (?,?)",
			args:      []interface{}{"t1", "go"},
			wantQuery: `INSERT INTO tags ("id","name") VALUES ($1,$2)`,
			wantArgs:  []interface{}{"t1", "go"},
		},
		{
			name:      "limit offset swapped",
			dialect:   DialectPostgres,
			query:     "SELECT id FROM t WHERE a=? LIMIT ?,?",
			args:      []interface{}{"x", uint(20), uint(10)},
			wantQuery: "SELECT id FROM t WHERE a=$1 LIMIT $2 OFFSET $3",
			wantArgs:  []interface{}{"x", uint(10), uint(20)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, args := Finalize(tt.dialect, tt.query, tt.args)
			require.Equal(t, tt.wantQuery, q)
			require.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestParseDialect(t *testing.T) {
	d, ok := ParseDialect("PostgreSQL")
	require.True(t, ok)
	require.Equal(t, DialectPostgres, d)
	d, ok = ParseDialect("sqlite3")
	require.True(t, ok)
	require.Equal(t, DialectSQLite, d)
	_, ok = ParseDialect("mysql")
	require.False(t, ok)
}

func TestIsConflict(t *testing.T) {
	require.True(t, IsConflict(&pq.Error{Code: "23505"}))
	require.False(t, IsConflict(&pq.Error{Code: "23503"}))
	require.False(t, IsConflict(errors.New("boom")))
	require.False(t, IsConflict(nil))
}

func TestRetryOnBusy(t *testing.T) {
	calls := 0
	err := RetryOnBusy(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)

	calls = 0
	boom := errors.New("boom")
	err = RetryOnBusy(context.Background(), func() error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestInPlaceholders(t *testing.T) {
	require.Equal(t, "", InPlaceholders(0))
	require.Equal(t, "?", InPlaceholders(1))
	require.Equal(t, "?, ?, ?", InPlaceholders(3))
}
