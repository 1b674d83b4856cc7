package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/itemshelf/internal/db"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	d, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func countRows(t *testing.T, d *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, d.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

// lockedDB returns a second handle on a file database whose write lock is
// held by another connection. The handle does not wait for locks, so every
// write transaction it begins fails with SQLITE_BUSY until release is called.
func lockedDB(t *testing.T) (contender *sql.DB, release func()) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "locked.sqlite3")

	holder, err := db.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = holder.Close() })

	tx, err := holder.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	_, err = tx.Exec(`INSERT INTO category (id, name) VALUES (100, 'holder')`)
	require.NoError(t, err)

	contender, err = sql.Open("sqlite", "file:"+path+"?_txlock=immediate&_pragma=busy_timeout(0)")
	require.NoError(t, err)
	t.Cleanup(func() { _ = contender.Close() })

	return contender, func() { _ = tx.Rollback() }
}

func TestIsConflict(t *testing.T) {
	contender, release := lockedDB(t)
	defer release()

	err := db.RunInTransaction(context.Background(), contender, func(context.Context) error { return nil })
	require.Error(t, err)
	assert.True(t, IsConflict(err), "busy BEGIN should be retryable: %v", err)

	assert.True(t, IsConflict(fmt.Errorf("wrapped: %w", ErrCategoryConflict)))
	assert.False(t, IsConflict(ErrPersistence))
	assert.False(t, IsConflict(errors.New("boom")))
	assert.False(t, IsConflict(nil))
}
