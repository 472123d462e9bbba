package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetVisitedLink finds the partitioned row for (link, top-level, frame).
func (d *DB) GetVisitedLink(ctx context.Context, linkURLID URLID, topLevelURL, frameURL string) (*VisitedLinkRow, error) {
	r := VisitedLinkRow{LinkURLID: linkURLID, TopLevelURL: topLevelURL, FrameURL: frameURL}
	err := d.scanOne(ctx,
		"SELECT id, visit_count FROM visited_links WHERE link_url_id = ? AND top_level_url = ? AND frame_url = ?",
		[]any{int64(linkURLID), topLevelURL, frameURL}, &r.ID, &r.VisitCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get visited link: %w", err)
	}
	return &r, nil
}

// GetVisitedLinkByID returns the row with the given id.
func (d *DB) GetVisitedLinkByID(ctx context.Context, id VisitedLinkID) (*VisitedLinkRow, error) {
	r := VisitedLinkRow{ID: id}
	err := d.scanOne(ctx,
		"SELECT link_url_id, top_level_url, frame_url, visit_count FROM visited_links WHERE id = ?",
		[]any{int64(id)}, &r.LinkURLID, &r.TopLevelURL, &r.FrameURL, &r.VisitCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get visited link: %w", err)
	}
	return &r, nil
}

// AddVisitedLink inserts a new row with the given count.
func (d *DB) AddVisitedLink(ctx context.Context, linkURLID URLID, topLevelURL, frameURL string, count int) (VisitedLinkID, error) {
	res, err := d.exec(ctx,
		"INSERT INTO visited_links (link_url_id, top_level_url, frame_url, visit_count) VALUES (?, ?, ?, ?)",
		int64(linkURLID), topLevelURL, frameURL, count)
	if err != nil {
		return 0, fmt.Errorf("add visited link: %w", err)
	}
	id, err := res.LastInsertId()
	return VisitedLinkID(id), err
}

// UpdateVisitedLinkCount sets the row's count, deleting it at zero.
func (d *DB) UpdateVisitedLinkCount(ctx context.Context, id VisitedLinkID, count int) error {
	var err error
	if count <= 0 {
		_, err = d.exec(ctx, "DELETE FROM visited_links WHERE id = ?", int64(id))
	} else {
		_, err = d.exec(ctx, "UPDATE visited_links SET visit_count = ? WHERE id = ?", count, int64(id))
	}
	if err != nil {
		return fmt.Errorf("update visited link: %w", err)
	}
	return nil
}

// DeleteVisitedLinksForURL removes every partition of linkURLID.
func (d *DB) DeleteVisitedLinksForURL(ctx context.Context, linkURLID URLID) error {
	_, err := d.exec(ctx, "DELETE FROM visited_links WHERE link_url_id = ?", int64(linkURLID))
	return err
}
