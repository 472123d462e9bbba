package storage

import (
	"context"
	"database/sql"
	"fmt"
)

const downloadColumns = `id, guid, current_path, target_path, start_time, end_time,
	received_bytes, total_bytes, state, interrupt_reason, url`

// NextDownloadID returns one past the highest download id.
func (d *DB) NextDownloadID(ctx context.Context) (DownloadID, error) {
	var id sql.NullInt64
	if err := d.scanOne(ctx, "SELECT MAX(id) FROM downloads", nil, &id); err != nil {
		return 0, fmt.Errorf("next download id: %w", err)
	}
	return DownloadID(id.Int64 + 1), nil
}

// CreateDownload inserts row. row.ID must be set.
func (d *DB) CreateDownload(ctx context.Context, row DownloadRow) error {
	_, err := d.exec(ctx, "INSERT INTO downloads ("+downloadColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		int64(row.ID), row.GUID, row.CurrentPath, row.TargetPath, timeToDB(row.StartTime), timeToDB(row.EndTime),
		row.ReceivedBytes, row.TotalBytes, int(row.State), row.InterruptReason, row.URL)
	if err != nil {
		return fmt.Errorf("create download: %w", err)
	}
	return nil
}

// UpdateDownload rewrites the mutable columns of row.
func (d *DB) UpdateDownload(ctx context.Context, row DownloadRow) error {
	res, err := d.exec(ctx,
		`UPDATE downloads SET current_path = ?, target_path = ?, end_time = ?, received_bytes = ?,
			total_bytes = ?, state = ?, interrupt_reason = ?
		 WHERE id = ?`,
		row.CurrentPath, row.TargetPath, timeToDB(row.EndTime), row.ReceivedBytes, row.TotalBytes,
		int(row.State), row.InterruptReason, int64(row.ID))
	if err != nil {
		return fmt.Errorf("update download: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("download %d: %w", row.ID, ErrNotFound)
	}
	return nil
}

// QueryDownloads returns every download, oldest first.
func (d *DB) QueryDownloads(ctx context.Context) ([]DownloadRow, error) {
	return collect(ctx, d, func(s rowScanner) (DownloadRow, error) {
		var r DownloadRow
		var start, end int64
		err := s.Scan(&r.ID, &r.GUID, &r.CurrentPath, &r.TargetPath, &start, &end,
			&r.ReceivedBytes, &r.TotalBytes, &r.State, &r.InterruptReason, &r.URL)
		r.StartTime = timeFromDB(start)
		r.EndTime = timeFromDB(end)
		return r, err
	}, "SELECT "+downloadColumns+" FROM downloads ORDER BY start_time, id")
}

// RemoveDownloads deletes the listed downloads.
func (d *DB) RemoveDownloads(ctx context.Context, ids []DownloadID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := d.exec(ctx, "DELETE FROM downloads WHERE id IN ("+placeholders(len(ids))+")", int64Args(ids)...)
	return err
}

// InterruptInProgressDownloads marks every in-progress download as
// interrupted with reason. Downloads cannot survive a restart.
func (d *DB) InterruptInProgressDownloads(ctx context.Context, reason int) (int64, error) {
	res, err := d.exec(ctx, "UPDATE downloads SET state = ?, interrupt_reason = ? WHERE state = ?",
		int(DownloadInterrupt), reason, int(DownloadInProgress))
	if err != nil {
		return 0, fmt.Errorf("interrupt downloads: %w", err)
	}
	return res.RowsAffected()
}
