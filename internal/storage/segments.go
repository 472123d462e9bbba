package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SegmentIDForName returns the segment called name, or 0.
func (d *DB) SegmentIDForName(ctx context.Context, name string) (SegmentID, error) {
	var id int64
	err := d.scanOne(ctx, "SELECT id FROM segments WHERE name = ?", []any{name}, &id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("segment for name: %w", err)
	}
	return SegmentID(id), nil
}

// GetSegment returns the segment with the given id.
func (d *DB) GetSegment(ctx context.Context, id SegmentID) (*Segment, error) {
	var s Segment
	err := d.scanOne(ctx, "SELECT id, name, url_id FROM segments WHERE id = ?", []any{int64(id)},
		&s.ID, &s.Name, &s.URLID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get segment: %w", err)
	}
	return &s, nil
}

// CreateSegment adds a segment represented by urlID.
func (d *DB) CreateSegment(ctx context.Context, urlID URLID, name string) (SegmentID, error) {
	res, err := d.exec(ctx, "INSERT INTO segments (name, url_id) VALUES (?, ?)", name, int64(urlID))
	if err != nil {
		return 0, fmt.Errorf("create segment: %w", err)
	}
	id, err := res.LastInsertId()
	return SegmentID(id), err
}

// UpdateSegmentRepresentationURL points the segment at a newer url row.
func (d *DB) UpdateSegmentRepresentationURL(ctx context.Context, id SegmentID, urlID URLID) error {
	_, err := d.exec(ctx, "UPDATE segments SET url_id = ? WHERE id = ?", int64(urlID), int64(id))
	return err
}

// DeleteSegmentForURL removes any segment represented by urlID together with
// its usage rows.
func (d *DB) DeleteSegmentForURL(ctx context.Context, urlID URLID) error {
	if _, err := d.exec(ctx,
		"DELETE FROM segment_usage WHERE segment_id IN (SELECT id FROM segments WHERE url_id = ?)",
		int64(urlID)); err != nil {
		return fmt.Errorf("delete segment usage: %w", err)
	}
	if _, err := d.exec(ctx, "DELETE FROM segments WHERE url_id = ?", int64(urlID)); err != nil {
		return fmt.Errorf("delete segment: %w", err)
	}
	return nil
}

// AdjustSegmentVisitCount adds delta to the counter of segment for the day
// slot. Counters never drop below zero and no row is created for a
// non-positive delta.
func (d *DB) AdjustSegmentVisitCount(ctx context.Context, id SegmentID, slot time.Time, delta int) error {
	if id == 0 || delta == 0 {
		return nil
	}
	slotArg := timeToDB(slot)

	var rowID int64
	var count int
	err := d.scanOne(ctx, "SELECT id, visit_count FROM segment_usage WHERE segment_id = ? AND time_slot = ?",
		[]any{int64(id), slotArg}, &rowID, &count)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if delta < 0 {
			return nil
		}
		_, err = d.exec(ctx, "INSERT INTO segment_usage (segment_id, time_slot, visit_count) VALUES (?, ?, ?)",
			int64(id), slotArg, delta)
	case err == nil:
		_, err = d.exec(ctx, "UPDATE segment_usage SET visit_count = ? WHERE id = ?", max(0, count+delta), rowID)
	}
	if err != nil {
		return fmt.Errorf("adjust segment usage: %w", err)
	}
	return nil
}

// SegmentUsageSince returns every usage row with time_slot >= since.
func (d *DB) SegmentUsageSince(ctx context.Context, since time.Time) ([]SegmentUsage, error) {
	return collect(ctx, d, scanSegmentUsage,
		"SELECT segment_id, time_slot, visit_count FROM segment_usage WHERE time_slot >= ? ORDER BY segment_id, time_slot",
		timeToDB(since))
}

// SegmentUsageFor returns the usage series of one segment.
func (d *DB) SegmentUsageFor(ctx context.Context, id SegmentID) ([]SegmentUsage, error) {
	return collect(ctx, d, scanSegmentUsage,
		"SELECT segment_id, time_slot, visit_count FROM segment_usage WHERE segment_id = ? ORDER BY time_slot",
		int64(id))
}

func scanSegmentUsage(s rowScanner) (SegmentUsage, error) {
	var u SegmentUsage
	var slot int64
	if err := s.Scan(&u.SegmentID, &slot, &u.VisitCount); err != nil {
		return SegmentUsage{}, err
	}
	u.TimeSlot = timeFromDB(slot)
	return u, nil
}

// DeleteSegmentUsageOlderThan drops usage rows before t.
func (d *DB) DeleteSegmentUsageOlderThan(ctx context.Context, t time.Time) error {
	_, err := d.exec(ctx, "DELETE FROM segment_usage WHERE time_slot < ?", timeToDB(t))
	return err
}

// SegmentCount returns the number of segments.
func (d *DB) SegmentCount(ctx context.Context) (int64, error) {
	var n int64
	err := d.scanOne(ctx, "SELECT COUNT(*) FROM segments", nil, &n)
	return n, err
}
