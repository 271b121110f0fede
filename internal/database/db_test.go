package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CreatesDatabaseFile(t *testing.T) {
	dir := t.TempDir()

	db, err := New(Config{
		Path:    filepath.Join(dir, "results.db"),
		Profile: ProfileResults,
		Name:    "results",
	})
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, "results", db.Name())
	assert.Equal(t, ProfileResults, db.Profile())
	assert.FileExists(t, filepath.Join(dir, "results.db"))
}

func TestNew_MemoryURIWithQueryParams(t *testing.T) {
	// file: URIs used by tests already carry a query string; the PRAGMA
	// options must append with '&', not start a second '?'.
	db, err := New(Config{
		Path: "file:uri_params_test?mode=memory&cache=shared",
		Name: "results",
	})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate())
	_, err = db.Conn().Exec(
		"INSERT INTO evaluation_runs (run_id, started_at, retrain_every, first_period) VALUES ('r1', 0, 1, 0)",
	)
	require.NoError(t, err)
}

func TestMigrate_AppliesSchemaIdempotently(t *testing.T) {
	db, err := New(Config{
		Path: "file:migrate_test?mode=memory&cache=shared",
		Name: "results",
	})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate())
	// Second run must be a no-op, not an error
	require.NoError(t, db.Migrate())

	var count int
	err = db.Conn().QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='regime_records'",
	).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMigrate_UnknownDatabaseIsNoop(t *testing.T) {
	db, err := New(Config{
		Path: "file:unknown_test?mode=memory&cache=shared",
		Name: "something_else",
	})
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.Migrate())
}
