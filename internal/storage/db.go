package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrTransactionOpen is returned when a second top-level transaction is
	// requested while one is already open.
	ErrTransactionOpen = errors.New("transaction already open")
	// ErrNoTransaction is returned when committing without an open transaction.
	ErrNoTransaction = errors.New("no open transaction")
)

// Options configure Open.
type Options struct {
	// JournalMode is passed to PRAGMA journal_mode. Empty means WAL.
	JournalMode string
	Logger      *slog.Logger
}

// DB is the history row store. It wraps a single SQLite connection and
// routes every statement through the open transaction, if any. DB is not
// safe for concurrent use; the engine calls it from one sequence.
type DB struct {
	db     *sql.DB
	tx     *sql.Tx
	path   string
	opts   Options
	logger *slog.Logger

	onError func(error)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Open opens (creating if needed) the database at path and applies pending
// migrations.
func Open(ctx context.Context, path string, opts Options) (*DB, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &DB{path: path, opts: opts, logger: logger.With("component", "storage")}
	if err := d.open(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DB) open(ctx context.Context) error {
	if d.path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(d.path), 0755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", d.path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	// One connection: an in-memory database exists per connection, and the
	// singleton transaction must see every write.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	runner := NewMigrationRunner(db, d.opts.JournalMode)
	if err := runner.Run(ctx); err != nil {
		db.Close()
		return fmt.Errorf("run migrations: %w", err)
	}

	d.db = db
	return nil
}

// Path returns the file the database was opened from.
func (d *DB) Path() string { return d.path }

// SetErrorCallback installs fn to be called with every statement error
// (sql.ErrNoRows excluded).
func (d *DB) SetErrorCallback(fn func(error)) { d.onError = fn }

// IsCatastrophic reports whether err means the file itself is unusable and
// must be razed.
func IsCatastrophic(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrCorrupt || se.Code == sqlite3.ErrNotADB
	}
	return false
}

func (d *DB) report(err error) {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return
	}
	if d.onError != nil {
		d.onError(err)
	}
}

func (d *DB) q() querier {
	if d.tx != nil {
		return d.tx
	}
	return d.db
}

func (d *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := d.q().ExecContext(ctx, query, args...)
	d.report(err)
	return res, err
}

// scanOne runs a single-row query into dest. A missing row yields
// sql.ErrNoRows.
func (d *DB) scanOne(ctx context.Context, query string, args []any, dest ...any) error {
	err := d.q().QueryRowContext(ctx, query, args...).Scan(dest...)
	d.report(err)
	return err
}

// collect runs query and scans every row with scan. Rows are fully read
// before returning so callers may issue further statements.
func collect[T any](ctx context.Context, d *DB, scan func(rowScanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := d.q().QueryContext(ctx, query, args...)
	if err != nil {
		d.report(err)
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			d.report(err)
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		d.report(err)
		return nil, err
	}
	return out, nil
}

// Exec runs a raw statement. Used for maintenance pragmas and tests.
func (d *DB) Exec(ctx context.Context, query string, args ...any) error {
	_, err := d.exec(ctx, query, args...)
	return err
}

// --- transactions ---

// BeginTransaction opens the top-level transaction. Only one may be open.
func (d *DB) BeginTransaction() error {
	if d.tx != nil {
		return ErrTransactionOpen
	}
	// Not tied to a request context: the transaction outlives the caller.
	tx, err := d.db.Begin()
	if err != nil {
		d.report(err)
		return fmt.Errorf("begin transaction: %w", err)
	}
	d.tx = tx
	return nil
}

// CommitTransaction commits the open transaction.
func (d *DB) CommitTransaction() error {
	if d.tx == nil {
		return ErrNoTransaction
	}
	tx := d.tx
	d.tx = nil
	if err := tx.Commit(); err != nil {
		d.report(err)
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction abandons the open transaction.
func (d *DB) RollbackTransaction() error {
	if d.tx == nil {
		return ErrNoTransaction
	}
	tx := d.tx
	d.tx = nil
	return tx.Rollback()
}

// InTransaction reports whether a top-level transaction is open.
func (d *DB) InTransaction() bool { return d.tx != nil }

// Savepoint opens a nested savepoint named name.
func (d *DB) Savepoint(ctx context.Context, name string) error {
	_, err := d.exec(ctx, "SAVEPOINT "+name)
	return err
}

// RollbackToSavepoint undoes everything since Savepoint(name) and drops it.
func (d *DB) RollbackToSavepoint(ctx context.Context, name string) error {
	if _, err := d.exec(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
		return err
	}
	return d.ReleaseSavepoint(ctx, name)
}

// ReleaseSavepoint keeps the work done since Savepoint(name).
func (d *DB) ReleaseSavepoint(ctx context.Context, name string) error {
	_, err := d.exec(ctx, "RELEASE SAVEPOINT "+name)
	return err
}

// --- maintenance ---

// Vacuum rebuilds the file. It cannot run inside a transaction.
func (d *DB) Vacuum(ctx context.Context) error {
	if d.tx != nil {
		return ErrTransactionOpen
	}
	_, err := d.exec(ctx, "VACUUM")
	return err
}

// SetExclusiveLocking keeps the file lock once acquired so no second
// process can open the same database.
func (d *DB) SetExclusiveLocking(ctx context.Context) error {
	_, err := d.exec(ctx, "PRAGMA locking_mode = EXCLUSIVE")
	return err
}

// TrimMemory releases cached pages.
func (d *DB) TrimMemory(ctx context.Context) error {
	_, err := d.exec(ctx, "PRAGMA shrink_memory")
	return err
}

// SizeBytes returns the size of the database in bytes.
func (d *DB) SizeBytes(ctx context.Context) (int64, error) {
	var pages, pageSize int64
	if err := d.scanOne(ctx, "PRAGMA page_count", nil, &pages); err != nil {
		return 0, err
	}
	if err := d.scanOne(ctx, "PRAGMA page_size", nil, &pageSize); err != nil {
		return 0, err
	}
	return pages * pageSize, nil
}

// Raze destroys every table and recreates an empty schema. When the file
// is too damaged to drop tables it is deleted and reopened instead. Any
// open transaction is discarded.
func (d *DB) Raze(ctx context.Context) error {
	if d.tx != nil {
		_ = d.tx.Rollback()
		d.tx = nil
	}

	err := d.dropAllTables(ctx)
	if err == nil {
		if _, err = d.db.ExecContext(ctx, "VACUUM"); err == nil {
			err = NewMigrationRunner(d.db, d.opts.JournalMode).Run(ctx)
		}
	}
	if err == nil {
		d.logger.Warn("database razed", "path", d.path)
		return nil
	}
	if d.path == MemoryPath {
		return fmt.Errorf("raze: %w", err)
	}

	d.logger.Warn("raze failed, deleting database file", "path", d.path, "error", err)
	d.db.Close()
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		if rmErr := os.Remove(d.path + suffix); rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("remove database file: %w", rmErr)
		}
	}
	return d.open(ctx)
}

func (d *DB) dropAllTables(ctx context.Context) error {
	rows, err := d.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return err
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, name := range names {
		if _, err := d.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %q", name)); err != nil {
			return fmt.Errorf("drop %s: %w", name, err)
		}
	}
	return nil
}

// Close commits any open transaction and closes the connection.
func (d *DB) Close() error {
	if d.tx != nil {
		if err := d.CommitTransaction(); err != nil {
			d.logger.Error("commit on close failed", "error", err)
		}
	}
	return d.db.Close()
}

// --- value conversion ---

func timeToDB(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func timeFromDB(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v)
}

func durationToDB(d time.Duration) int64 { return d.Microseconds() }

func durationFromDB(v int64) time.Duration { return time.Duration(v) * time.Microsecond }

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, '?')
	}
	return string(b)
}

func int64Args[T ~int64](ids []T) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = int64(id)
	}
	return args
}
