// Package dbtest opens throwaway sqlite databases for store tests.
package dbtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mind-engage/bitacora/internal/db"
)

// Open returns a fresh schema-initialized sqlite database under t.TempDir.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	conn, err := db.OpenSQLiteFile(context.Background(), filepath.Join(t.TempDir(), "bitacora.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}
