package storage

import (
	"context"
	"fmt"
)

// ResetHistory empties every history table in one sweep. The url rows in
// keep survive with their ids, titles and hidden flags, but with counts and
// last visit cleared. Downloads, exclusions and meta are untouched. Callers
// usually commit and Vacuum afterwards to give the space back.
func (d *DB) ResetHistory(ctx context.Context, keep []URLID) error {
	where := "0"
	if len(keep) > 0 {
		where = "id IN (" + placeholders(len(keep)) + ")"
	}
	if _, err := d.exec(ctx, "DROP TABLE IF EXISTS temp.kept_urls"); err != nil {
		return fmt.Errorf("drop kept urls: %w", err)
	}
	if _, err := d.exec(ctx,
		"CREATE TEMP TABLE kept_urls AS SELECT id, url, title, hidden FROM urls WHERE "+where,
		int64Args(keep)...); err != nil {
		return fmt.Errorf("copy kept urls: %w", err)
	}

	for _, t := range historyTables {
		if _, err := d.exec(ctx, "DROP TABLE IF EXISTS main."+t.Name); err != nil {
			return fmt.Errorf("drop %s: %w", t.Name, err)
		}
	}
	if err := createTables(ctx, d.q(), historyTables); err != nil {
		d.report(err)
		return fmt.Errorf("recreate tables: %w", err)
	}

	if _, err := d.exec(ctx,
		`INSERT INTO urls (id, url, title, visit_count, typed_count, last_visit_time, hidden)
		 SELECT id, url, title, 0, 0, 0, hidden FROM kept_urls`); err != nil {
		return fmt.Errorf("restore kept urls: %w", err)
	}
	if _, err := d.exec(ctx, "DROP TABLE temp.kept_urls"); err != nil {
		return fmt.Errorf("drop kept urls: %w", err)
	}
	return nil
}
