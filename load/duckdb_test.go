package load

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rasnes/movielens-etl/config"
	"github.com/rasnes/movielens-etl/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func setupTestDB(t *testing.T) *DuckDB {
	cfg := &config.Config{
		DuckDB: config.DuckDBConfig{
			Path: ":memory:",
		},
	}

	db, err := NewDuckDB(cfg, testLogger())
	if err != nil {
		t.Fatalf("Failed to create DuckDB instance: %v", err)
	}
	t.Cleanup(db.Close)

	return db
}

// setupStore returns a store on a fresh in-memory database with the schema in place.
func setupStore(t *testing.T) (*Store, *DuckDB) {
	db := setupTestDB(t)
	store := NewStore(db.DBx, testLogger(), utils.FixedTimeProvider{T: testNow})
	require.NoError(t, store.EnsureSchema(context.Background()))
	return store, db
}

func TestNewDuckDB(t *testing.T) {
	db := setupTestDB(t)

	assert.NotNil(t, db.DB)
	assert.NotNil(t, db.DBx)
	assert.Equal(t, ":memory:", db.DBType)
}

func TestNewDuckDBMotherDuckWithoutToken(t *testing.T) {
	t.Setenv("MOTHERDUCK_TOKEN", "")
	cfg := &config.Config{DuckDB: config.DuckDBConfig{Path: "md:movielens"}}

	_, err := NewDuckDB(cfg, testLogger())
	assert.ErrorContains(t, err, "MOTHERDUCK_TOKEN")
}

func TestNewDuckDBConnInitQueries(t *testing.T) {
	dir := t.TempDir()
	initFile := filepath.Join(dir, "init.sql")
	require.NoError(t, os.WriteFile(initFile, []byte("SET threads = 1;"), 0o644))

	cfg := &config.Config{DuckDB: config.DuckDBConfig{
		Path:              ":memory:",
		ConnInitFnQueries: []string{initFile},
	}}
	db, err := NewDuckDB(cfg, testLogger())
	require.NoError(t, err)
	defer db.Close()

	res, err := db.GetQueryResults(context.Background(), "SELECT current_setting('threads') AS threads")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1"}}, res.Rows)
}

func TestGetQueryResults(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.DB.ExecContext(ctx, "CREATE TABLE test (id INTEGER, name VARCHAR, note VARCHAR)")
	require.NoError(t, err)
	_, err = db.DB.ExecContext(ctx, "INSERT INTO test VALUES (1, 'Alice', NULL), (2, 'Bob', 'x')")
	require.NoError(t, err)

	res, err := db.GetQueryResults(ctx, "SELECT name, id, note FROM test ORDER BY id")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "id", "note"}, res.Columns)
	assert.Equal(t, [][]string{{"Alice", "1", ""}, {"Bob", "2", "x"}}, res.Rows)

	names, ok := res.Column("name")
	assert.True(t, ok)
	assert.Equal(t, []string{"Alice", "Bob"}, names)

	_, ok = res.Column("missing")
	assert.False(t, ok)
}

func TestGetQueryResultsFromFile(t *testing.T) {
	db := setupTestDB(t)

	path := filepath.Join(t.TempDir(), "query.sql")
	require.NoError(t, os.WriteFile(path, []byte("SELECT 42 AS answer"), 0o644))

	res, err := db.GetQueryResultsFromFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"answer"}, res.Columns)
	assert.Equal(t, [][]string{{"42"}}, res.Rows)

	_, err = db.GetQueryResultsFromFile(context.Background(), filepath.Join(t.TempDir(), "nope.sql"))
	assert.ErrorContains(t, err, "failed to open file")
}
