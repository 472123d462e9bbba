package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// GetStats returns aggregate statistics about the database.
func (d *DB) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	var err error

	if stats.TotalURLs, err = d.URLCount(ctx); err != nil {
		return nil, fmt.Errorf("count urls: %w", err)
	}
	if stats.TotalVisits, err = d.VisitCount(ctx, false); err != nil {
		return nil, fmt.Errorf("count visits: %w", err)
	}
	if stats.ForeignVisits, err = d.VisitCount(ctx, true); err != nil {
		return nil, fmt.Errorf("count foreign visits: %w", err)
	}
	if stats.TotalSegments, err = d.SegmentCount(ctx); err != nil {
		return nil, fmt.Errorf("count segments: %w", err)
	}
	if stats.TotalClusters, err = d.ClusterCount(ctx); err != nil {
		return nil, fmt.Errorf("count clusters: %w", err)
	}

	// Oldest and newest (handle empty DB)
	if stats.TotalVisits > 0 {
		var oldest, newest sql.NullInt64
		if err := d.scanOne(ctx, "SELECT MIN(visit_time), MAX(visit_time) FROM visits", nil, &oldest, &newest); err != nil {
			return nil, fmt.Errorf("visit time range: %w", err)
		}
		stats.OldestVisit = timeFromDB(oldest.Int64)
		stats.NewestVisit = timeFromDB(newest.Int64)
	}

	if stats.DatabaseSizeBytes, err = d.SizeBytes(ctx); err != nil {
		return nil, fmt.Errorf("database size: %w", err)
	}

	stats.TopHosts, err = collect(ctx, d, func(s rowScanner) (HostCount, error) {
		var hc HostCount
		err := s.Scan(&hc.Host, &hc.Count)
		return hc, err
	}, `WITH rest AS (
			SELECT substr(url, instr(url, '://') + 3) AS r, visit_count FROM urls WHERE instr(url, '://') > 0
		)
		SELECT CASE WHEN instr(r, '/') > 0 THEN substr(r, 1, instr(r, '/') - 1) ELSE r END AS host,
			SUM(visit_count) AS cnt
		FROM rest GROUP BY host HAVING cnt > 0 ORDER BY cnt DESC, host LIMIT 10`)
	if err != nil {
		return nil, fmt.Errorf("top hosts: %w", err)
	}

	return stats, nil
}
