package db_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/bitacora/internal/db"
	"github.com/mind-engage/bitacora/internal/db/dbtest"
)

func TestParseDriver(t *testing.T) {
	for in, want := range map[string]db.Driver{
		"": db.DriverSQLite, "sqlite3": db.DriverSQLite, "SQLite": db.DriverSQLite,
		"pgx": db.DriverPostgres, "postgresql": db.DriverPostgres, "pg": db.DriverPostgres,
	} {
		got, err := db.ParseDriver(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := db.ParseDriver("oracle")
	assert.Error(t, err)
}

func TestSchemaIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")
	for i := 0; i < 2; i++ {
		conn, err := db.OpenSQLiteFile(context.Background(), path)
		require.NoError(t, err)
		require.NoError(t, conn.Close())
	}
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	insert := func(tx *sql.Tx, id string) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO component_weights (section_id, continuous, online_platform, exam, updated_at)
			VALUES ($1, 40, 30, 30, 0)`, id)
		return err
	}
	count := func() int {
		var n int
		require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM component_weights`).Scan(&n))
		return n
	}

	require.NoError(t, db.WithTx(ctx, conn, func(tx *sql.Tx) error { return insert(tx, "s1") }))
	assert.Equal(t, 1, count())

	boom := errors.New("boom")
	err := db.WithTx(ctx, conn, func(tx *sql.Tx) error {
		if err := insert(tx, "s2"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, count(), "rolled back")

	err = db.WithTx(ctx, conn, func(tx *sql.Tx) error { return insert(tx, "s1") })
	require.Error(t, err)
	assert.True(t, db.IsUniqueViolation(err))
	assert.False(t, db.IsUniqueViolation(boom))
	assert.False(t, db.IsUniqueViolation(nil))
}
