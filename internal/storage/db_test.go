package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB creates a migrated in-memory DB for testing.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), MemoryPath, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func addTestURL(t *testing.T, db *DB, url string) URLID {
	t.Helper()
	id, err := db.AddURL(context.Background(), URLRow{URL: url, Title: url})
	require.NoError(t, err)
	return id
}

func TestTransaction_NestedIsRejected(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.BeginTransaction())
	assert.True(t, db.InTransaction())
	assert.ErrorIs(t, db.BeginTransaction(), ErrTransactionOpen)

	require.NoError(t, db.CommitTransaction())
	assert.False(t, db.InTransaction())
	assert.ErrorIs(t, db.CommitTransaction(), ErrNoTransaction)
}

func TestTransaction_WritesVisibleInsideAndAfterCommit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.BeginTransaction())
	id := addTestURL(t, db, "https://example.com/")

	got, err := db.GetURL(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", got.URL)

	require.NoError(t, db.CommitTransaction())
	_, err = db.GetURL(ctx, id)
	require.NoError(t, err)
}

func TestTransaction_Rollback(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.BeginTransaction())
	addTestURL(t, db, "https://example.com/")
	require.NoError(t, db.RollbackTransaction())

	n, err := db.URLCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSavepoint_RollbackUndoesOnlyInnerWork(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.BeginTransaction())

	addTestURL(t, db, "https://kept.example/")
	require.NoError(t, db.Savepoint(ctx, "sp"))
	addTestURL(t, db, "https://dropped.example/")
	require.NoError(t, db.RollbackToSavepoint(ctx, "sp"))

	_, err := db.GetRowForURL(ctx, "https://kept.example/")
	require.NoError(t, err)
	_, err = db.GetRowForURL(ctx, "https://dropped.example/")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.CommitTransaction())
}

func TestErrorCallback_ReceivesStatementErrors(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	var got []error
	db.SetErrorCallback(func(err error) { got = append(got, err) })

	addTestURL(t, db, "https://example.com/")
	_, err := db.AddURL(ctx, URLRow{URL: "https://example.com/"})
	require.Error(t, err, "duplicate url violates the unique index")
	require.Len(t, got, 1)
	assert.False(t, IsCatastrophic(got[0]))

	// Missing rows are not errors.
	_, err = db.GetURL(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, got, 1)
}

func TestIsCatastrophic(t *testing.T) {
	assert.True(t, IsCatastrophic(sqlite3.Error{Code: sqlite3.ErrCorrupt}))
	assert.True(t, IsCatastrophic(errors.Join(errors.New("wrapped"), sqlite3.Error{Code: sqlite3.ErrNotADB})))
	assert.False(t, IsCatastrophic(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	assert.False(t, IsCatastrophic(errors.New("plain")))
}

func TestOpen_NotADatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "History")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("not a database file ", 64)), 0644))

	_, err := Open(context.Background(), path, Options{})
	require.Error(t, err)
	assert.True(t, IsCatastrophic(err))
}

func TestRaze_EmptiesAndRecreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "History")
	ctx := context.Background()
	db, err := Open(ctx, path, Options{})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.BeginTransaction())
	urlID := addTestURL(t, db, "https://example.com/")
	_, err = db.AddVisit(ctx, &VisitRow{URLID: urlID, VisitTime: time.Now()}, SourceBrowsed)
	require.NoError(t, err)
	require.NoError(t, db.CommitTransaction())
	require.NoError(t, db.BeginTransaction())

	require.NoError(t, db.Raze(ctx))
	assert.False(t, db.InTransaction())

	n, err := db.URLCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = db.VisitCount(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Schema is usable again.
	addTestURL(t, db, "https://after.example/")
}

func TestSizeBytesAndTrimMemory(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	size, err := db.SizeBytes(ctx)
	require.NoError(t, err)
	assert.Positive(t, size)
	require.NoError(t, db.TrimMemory(ctx))
}

func TestVacuum_RefusedInsideTransaction(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.BeginTransaction())
	assert.ErrorIs(t, db.Vacuum(ctx), ErrTransactionOpen)
	require.NoError(t, db.CommitTransaction())
	require.NoError(t, db.Vacuum(ctx))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}
