package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const urlColumns = `id, url, title, visit_count, typed_count, last_visit_time, hidden`

func scanURL(s rowScanner) (URLRow, error) {
	var r URLRow
	var last int64
	if err := s.Scan(&r.ID, &r.URL, &r.Title, &r.VisitCount, &r.TypedCount, &last, &r.Hidden); err != nil {
		return URLRow{}, err
	}
	r.LastVisit = timeFromDB(last)
	return r, nil
}

func (d *DB) getURL(ctx context.Context, where string, arg any) (*URLRow, error) {
	var last int64
	var r URLRow
	err := d.scanOne(ctx, "SELECT "+urlColumns+" FROM urls WHERE "+where, []any{arg},
		&r.ID, &r.URL, &r.Title, &r.VisitCount, &r.TypedCount, &last, &r.Hidden)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get url: %w", err)
	}
	r.LastVisit = timeFromDB(last)
	return &r, nil
}

// GetURL returns the row with the given id.
func (d *DB) GetURL(ctx context.Context, id URLID) (*URLRow, error) {
	return d.getURL(ctx, "id = ?", int64(id))
}

// GetRowForURL returns the row for an exact URL string.
func (d *DB) GetRowForURL(ctx context.Context, url string) (*URLRow, error) {
	return d.getURL(ctx, "url = ?", url)
}

// AddURL inserts row and returns its new id. row.ID is ignored unless
// nonzero, in which case the row is inserted with that id.
func (d *DB) AddURL(ctx context.Context, row URLRow) (URLID, error) {
	var idArg any
	if row.ID != 0 {
		idArg = int64(row.ID)
	}
	res, err := d.exec(ctx,
		`INSERT INTO urls (id, url, title, visit_count, typed_count, last_visit_time, hidden)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		idArg, row.URL, row.Title, row.VisitCount, row.TypedCount, timeToDB(row.LastVisit), row.Hidden)
	if err != nil {
		return 0, fmt.Errorf("insert url: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return URLID(id), nil
}

// UpdateURL writes every mutable column of row.
func (d *DB) UpdateURL(ctx context.Context, row URLRow) error {
	res, err := d.exec(ctx,
		`UPDATE urls SET title = ?, visit_count = ?, typed_count = ?, last_visit_time = ?, hidden = ?
		 WHERE id = ?`,
		row.Title, row.VisitCount, row.TypedCount, timeToDB(row.LastVisit), row.Hidden, int64(row.ID))
	if err != nil {
		return fmt.Errorf("update url: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("url %d: %w", row.ID, ErrNotFound)
	}
	return nil
}

// DeleteURL removes the url row only; dependents are the caller's problem.
func (d *DB) DeleteURL(ctx context.Context, id URLID) error {
	if _, err := d.exec(ctx, "DELETE FROM urls WHERE id = ?", int64(id)); err != nil {
		return fmt.Errorf("delete url: %w", err)
	}
	return nil
}

// AllURLs enumerates every url row in id order.
func (d *DB) AllURLs(ctx context.Context) ([]URLRow, error) {
	return collect(ctx, d, scanURL, "SELECT "+urlColumns+" FROM urls ORDER BY id")
}

// TypedURLs returns rows that were typed at least once, most typed first.
func (d *DB) TypedURLs(ctx context.Context) ([]URLRow, error) {
	return collect(ctx, d, scanURL,
		"SELECT "+urlColumns+" FROM urls WHERE typed_count > 0 ORDER BY typed_count DESC, id")
}

// IsTypedHost reports whether any typed URL lives on host, with or without
// a port, for the schemes the intranet heuristic considers.
func (d *DB) IsTypedHost(ctx context.Context, host string) (bool, error) {
	if host == "" {
		return false, nil
	}
	h := escapeLike(host)
	var where []string
	var args []any
	for _, scheme := range []string{"http", "https", "ftp"} {
		where = append(where, `url LIKE ? ESCAPE '\'`, `url LIKE ? ESCAPE '\'`)
		args = append(args, scheme+"://"+h+"/%", scheme+"://"+h+":%")
	}
	var n int
	err := d.scanOne(ctx,
		"SELECT COUNT(*) FROM urls WHERE typed_count > 0 AND ("+strings.Join(where, " OR ")+")",
		args, &n)
	if err != nil {
		return false, fmt.Errorf("typed host: %w", err)
	}
	return n > 0, nil
}

// SearchURLs matches every word of q.Text against url or title and filters
// by last visit time. Results are most recent first.
func (d *DB) SearchURLs(ctx context.Context, q SearchQuery) ([]URLRow, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	var clauses []string
	var args []any
	for _, w := range strings.Fields(q.Text) {
		clauses = append(clauses, `(url LIKE ? ESCAPE '\' OR title LIKE ? ESCAPE '\')`)
		pat := "%" + escapeLike(w) + "%"
		args = append(args, pat, pat)
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "last_visit_time >= ?")
		args = append(args, timeToDB(q.Since))
	}
	if !q.Until.IsZero() {
		clauses = append(clauses, "last_visit_time < ?")
		args = append(args, timeToDB(q.Until))
	}
	if !q.IncludeHidden {
		clauses = append(clauses, "hidden = 0")
	}

	query := "SELECT " + urlColumns + " FROM urls"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY last_visit_time DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, q.Limit, q.Offset)

	rows, err := collect(ctx, d, scanURL, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search urls: %w", err)
	}
	if rows == nil {
		rows = []URLRow{}
	}
	return rows, nil
}

// URLCount returns the number of url rows.
func (d *DB) URLCount(ctx context.Context) (int64, error) {
	var n int64
	err := d.scanOne(ctx, "SELECT COUNT(*) FROM urls", nil, &n)
	return n, err
}

// CountAndLastVisitForOrigin counts the url rows under origin (for example
// "https://example.com") and returns the newest last visit among them.
func (d *DB) CountAndLastVisitForOrigin(ctx context.Context, origin string) (int, time.Time, error) {
	var n int
	var last sql.NullInt64
	err := d.scanOne(ctx,
		`SELECT COUNT(*), MAX(last_visit_time) FROM urls WHERE url = ? OR url LIKE ? ESCAPE '\'`,
		[]any{origin, escapeLike(origin) + "/%"}, &n, &last)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("origin counts: %w", err)
	}
	return n, timeFromDB(last.Int64), nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
