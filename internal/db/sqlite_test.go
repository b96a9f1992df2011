package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staffsched/internal/config"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	cfg := config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "nested", "test.sqlite")}
	db, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenCreatesDatabaseAndSchema(t *testing.T) {
	db := openTestDB(t)

	_, err := os.Stat(db.Path())
	require.NoError(t, err)

	var name string
	err = db.Get(&name, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'licenses'`)
	require.NoError(t, err)
	assert.Equal(t, "licenses", name)

	version, dirty, err := db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Migrate())
	require.NoError(t, db.Migrate())
	require.NoError(t, db.Ping(context.Background()))
}

func TestReopenKeepsData(t *testing.T) {
	cfg := config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "test.sqlite")}

	first, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	_, err = first.Exec(`INSERT INTO licenses (start_date, end_date, region, status) VALUES ('2024-01-01 00:00:00', '2024-12-31 00:00:00', 'UTC', 'valid')`)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer second.Close()

	var count int
	require.NoError(t, second.Get(&count, `SELECT COUNT(*) FROM licenses`))
	assert.Equal(t, 1, count)
}

func TestStatusConstraint(t *testing.T) {
	db := openTestDB(t)

	_, err := db.Exec(`INSERT INTO licenses (start_date, end_date, region, status) VALUES ('2024-01-01 00:00:00', '2024-12-31 00:00:00', 'UTC', 'bogus')`)
	assert.Error(t, err)
}

func TestOpenFailsWhenDirectoryIsAFile(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "data")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

	_, err := Open(context.Background(), config.DatabaseConfig{Path: filepath.Join(blocker, "test.sqlite")})
	assert.Error(t, err)
}
