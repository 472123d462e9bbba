package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/runnerr0/visitdb/internal/transition"
)

const visitColumns = `id, url, visit_time, from_visit, external_referrer_url, transition,
	segment_id, visit_duration, incremented_omnibox_typed_score, opener_visit,
	originator_cache_guid, originator_visit_id, originator_from_visit, originator_opener_visit,
	is_known_to_sync, consider_for_ntp_most_visited, visited_link_id, app_id`

func scanVisit(s rowScanner) (VisitRow, error) {
	var v VisitRow
	var visitTime, duration int64
	err := s.Scan(&v.ID, &v.URLID, &visitTime, &v.ReferringVisit, &v.ExternalReferrerURL, &v.Transition,
		&v.SegmentID, &duration, &v.IncrementedOmniboxTypedScore, &v.OpenerVisit,
		&v.OriginatorCacheGUID, &v.OriginatorVisitID, &v.OriginatorReferringVisit, &v.OriginatorOpenerVisit,
		&v.IsKnownToSync, &v.ConsiderForNTPMostVisited, &v.VisitedLinkID, &v.AppID)
	if err != nil {
		return VisitRow{}, err
	}
	v.VisitTime = timeFromDB(visitTime)
	v.VisitDuration = durationFromDB(duration)
	return v, nil
}

func visitArgs(v *VisitRow) []any {
	return []any{
		int64(v.URLID), timeToDB(v.VisitTime), int64(v.ReferringVisit), v.ExternalReferrerURL,
		int64(v.Transition), int64(v.SegmentID), durationToDB(v.VisitDuration),
		v.IncrementedOmniboxTypedScore, int64(v.OpenerVisit),
		v.OriginatorCacheGUID, int64(v.OriginatorVisitID), int64(v.OriginatorReferringVisit),
		int64(v.OriginatorOpenerVisit), v.IsKnownToSync, v.ConsiderForNTPMostVisited,
		int64(v.VisitedLinkID), v.AppID,
	}
}

func (d *DB) visitsWhere(ctx context.Context, where string, args ...any) ([]VisitRow, error) {
	rows, err := collect(ctx, d, scanVisit, "SELECT "+visitColumns+" FROM visits "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query visits: %w", err)
	}
	return rows, nil
}

func (d *DB) oneVisit(ctx context.Context, where string, args ...any) (*VisitRow, error) {
	rows, err := d.visitsWhere(ctx, where+" LIMIT 1", args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// AddVisit inserts v, records its source and sets v.ID.
func (d *DB) AddVisit(ctx context.Context, v *VisitRow, source VisitSource) (VisitID, error) {
	res, err := d.exec(ctx,
		`INSERT INTO visits (url, visit_time, from_visit, external_referrer_url, transition,
			segment_id, visit_duration, incremented_omnibox_typed_score, opener_visit,
			originator_cache_guid, originator_visit_id, originator_from_visit, originator_opener_visit,
			is_known_to_sync, consider_for_ntp_most_visited, visited_link_id, app_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		visitArgs(v)...)
	if err != nil {
		return 0, fmt.Errorf("insert visit: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	v.ID = VisitID(id)

	if source != SourceBrowsed {
		if _, err := d.exec(ctx, "INSERT OR REPLACE INTO visit_source (id, source) VALUES (?, ?)",
			id, int(source)); err != nil {
			return 0, fmt.Errorf("insert visit source: %w", err)
		}
	}
	return v.ID, nil
}

// GetVisit returns the visit with the given id.
func (d *DB) GetVisit(ctx context.Context, id VisitID) (*VisitRow, error) {
	return d.oneVisit(ctx, "WHERE id = ?", int64(id))
}

// UpdateVisit rewrites every column of v except its id.
func (d *DB) UpdateVisit(ctx context.Context, v *VisitRow) error {
	if v.ID == 0 {
		return fmt.Errorf("update visit: %w", ErrNotFound)
	}
	args := append(visitArgs(v), int64(v.ID))
	res, err := d.exec(ctx,
		`UPDATE visits SET url = ?, visit_time = ?, from_visit = ?, external_referrer_url = ?,
			transition = ?, segment_id = ?, visit_duration = ?, incremented_omnibox_typed_score = ?,
			opener_visit = ?, originator_cache_guid = ?, originator_visit_id = ?,
			originator_from_visit = ?, originator_opener_visit = ?, is_known_to_sync = ?,
			consider_for_ntp_most_visited = ?, visited_link_id = ?, app_id = ?
		 WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update visit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("visit %d: %w", v.ID, ErrNotFound)
	}
	return nil
}

// DeleteVisit removes v. Visits that referred to v are re-pointed at v's own
// referrer so chains stay connected.
func (d *DB) DeleteVisit(ctx context.Context, v VisitRow) error {
	if _, err := d.exec(ctx, "UPDATE visits SET from_visit = ? WHERE from_visit = ?",
		int64(v.ReferringVisit), int64(v.ID)); err != nil {
		return fmt.Errorf("repair referrers: %w", err)
	}
	if _, err := d.exec(ctx, "DELETE FROM visits WHERE id = ?", int64(v.ID)); err != nil {
		return fmt.Errorf("delete visit: %w", err)
	}
	if _, err := d.exec(ctx, "DELETE FROM visit_source WHERE id = ?", int64(v.ID)); err != nil {
		return fmt.Errorf("delete visit source: %w", err)
	}
	return nil
}

// GetVisitSource returns where the visit came from.
func (d *DB) GetVisitSource(ctx context.Context, id VisitID) (VisitSource, error) {
	var s int
	err := d.scanOne(ctx, "SELECT source FROM visit_source WHERE id = ?", []any{int64(id)}, &s)
	if errors.Is(err, sql.ErrNoRows) {
		return SourceBrowsed, nil
	}
	if err != nil {
		return 0, fmt.Errorf("visit source: %w", err)
	}
	return VisitSource(s), nil
}

// VisitsForURL returns every visit of url, oldest first.
func (d *DB) VisitsForURL(ctx context.Context, urlID URLID) ([]VisitRow, error) {
	return d.visitsWhere(ctx, "WHERE url = ? ORDER BY visit_time, id", int64(urlID))
}

// MostRecentVisitsForURL returns up to max visits of url, newest first.
func (d *DB) MostRecentVisitsForURL(ctx context.Context, urlID URLID, max int) ([]VisitRow, error) {
	return d.visitsWhere(ctx, "WHERE url = ? ORDER BY visit_time DESC, id DESC LIMIT ?", int64(urlID), max)
}

// MostRecentVisitForURL returns the newest visit of url.
func (d *DB) MostRecentVisitForURL(ctx context.Context, urlID URLID) (*VisitRow, error) {
	return d.oneVisit(ctx, "WHERE url = ? ORDER BY visit_time DESC, id DESC", int64(urlID))
}

// VisitsInRange returns visits with begin <= time < end, newest first. Zero
// bounds are open; max <= 0 means no limit. A non-empty appID restricts the
// result to that app.
func (d *DB) VisitsInRange(ctx context.Context, begin, end time.Time, max int, appID string) ([]VisitRow, error) {
	endArg := int64(1<<63 - 1)
	if !end.IsZero() {
		endArg = timeToDB(end)
	}
	if max <= 0 {
		max = -1
	}
	where := "WHERE visit_time >= ? AND visit_time < ?"
	args := []any{timeToDB(begin), endArg}
	if appID != "" {
		where += " AND app_id = ?"
		args = append(args, appID)
	}
	args = append(args, max)
	return d.visitsWhere(ctx, where+" ORDER BY visit_time DESC, id DESC LIMIT ?", args...)
}

// VisitsAtTime returns every visit recorded at exactly t.
func (d *DB) VisitsAtTime(ctx context.Context, t time.Time) ([]VisitRow, error) {
	return d.visitsWhere(ctx, "WHERE visit_time = ? ORDER BY id", timeToDB(t))
}

// LastVisitAtTime returns the last-inserted visit recorded at exactly t.
func (d *DB) LastVisitAtTime(ctx context.Context, t time.Time) (*VisitRow, error) {
	return d.oneVisit(ctx, "WHERE visit_time = ? ORDER BY id DESC", timeToDB(t))
}

// VisitsOlderThan returns up to max visits before t, oldest first.
func (d *DB) VisitsOlderThan(ctx context.Context, t time.Time, max int) ([]VisitRow, error) {
	return d.visitsWhere(ctx, "WHERE visit_time < ? ORDER BY visit_time, id LIMIT ?", timeToDB(t), max)
}

// VisitByOriginator finds the local copy of a visit synced from guid.
func (d *DB) VisitByOriginator(ctx context.Context, guid string, originatorID VisitID) (*VisitRow, error) {
	return d.oneVisit(ctx, "WHERE originator_cache_guid = ? AND originator_visit_id = ? ORDER BY id",
		guid, int64(originatorID))
}

// ForeignVisitsUpTo returns up to max foreign visits with id <= maxID,
// lowest id first.
func (d *DB) ForeignVisitsUpTo(ctx context.Context, maxID VisitID, max int) ([]VisitRow, error) {
	return d.visitsWhere(ctx, "WHERE originator_cache_guid != '' AND id <= ? ORDER BY id LIMIT ?",
		int64(maxID), max)
}

// RedirectsFromVisit returns visits that are redirects out of from.
func (d *DB) RedirectsFromVisit(ctx context.Context, from VisitID) ([]VisitRow, error) {
	return d.visitsWhere(ctx, "WHERE from_visit = ? AND (transition & ?) != 0 ORDER BY id",
		int64(from), int64(transition.IsRedirectMask))
}

// VisitsReferredBy returns every visit whose referrer is from.
func (d *DB) VisitsReferredBy(ctx context.Context, from VisitID) ([]VisitRow, error) {
	return d.visitsWhere(ctx, "WHERE from_visit = ? ORDER BY id", int64(from))
}

// MaxVisitID returns the largest visit id in use, or 0.
func (d *DB) MaxVisitID(ctx context.Context) (VisitID, error) {
	var id sql.NullInt64
	if err := d.scanOne(ctx, "SELECT MAX(id) FROM visits", nil, &id); err != nil {
		return 0, fmt.Errorf("max visit id: %w", err)
	}
	return VisitID(id.Int64), nil
}

// StartDate returns the time of the oldest visit, or zero if none.
func (d *DB) StartDate(ctx context.Context) (time.Time, error) {
	var t sql.NullInt64
	if err := d.scanOne(ctx, "SELECT MIN(visit_time) FROM visits", nil, &t); err != nil {
		return time.Time{}, fmt.Errorf("start date: %w", err)
	}
	return timeFromDB(t.Int64), nil
}

// VisitCount returns the number of visits. When foreignOnly is set only
// synced visits are counted.
func (d *DB) VisitCount(ctx context.Context, foreignOnly bool) (int64, error) {
	q := "SELECT COUNT(*) FROM visits"
	if foreignOnly {
		q += " WHERE originator_cache_guid != ''"
	}
	var n int64
	err := d.scanOne(ctx, q, nil, &n)
	return n, err
}

// CountDistinctURLsInRange counts distinct URLs visited in [begin, end).
// A zero end is open.
func (d *DB) CountDistinctURLsInRange(ctx context.Context, begin, end time.Time) (int64, error) {
	endArg := int64(1<<63 - 1)
	if !end.IsZero() {
		endArg = timeToDB(end)
	}
	var n int64
	err := d.scanOne(ctx, "SELECT COUNT(DISTINCT url) FROM visits WHERE visit_time >= ? AND visit_time < ?",
		[]any{timeToDB(begin), endArg}, &n)
	return n, err
}

// ClearKnownToSync clears the flag on every visit.
func (d *DB) ClearKnownToSync(ctx context.Context) error {
	_, err := d.exec(ctx, "UPDATE visits SET is_known_to_sync = 0 WHERE is_known_to_sync != 0")
	return err
}

// VisitsWithSegment returns visits assigned to segment.
func (d *DB) VisitsWithSegment(ctx context.Context, seg SegmentID) ([]VisitRow, error) {
	return d.visitsWhere(ctx, "WHERE segment_id = ? ORDER BY id", int64(seg))
}

// SetSegmentID assigns seg to the visit.
func (d *DB) SetSegmentID(ctx context.Context, id VisitID, seg SegmentID) error {
	res, err := d.exec(ctx, "UPDATE visits SET segment_id = ? WHERE id = ?", int64(seg), int64(id))
	if err != nil {
		return fmt.Errorf("set segment id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("visit %d: %w", id, ErrNotFound)
	}
	return nil
}
