package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ReserveClusterID creates an empty cluster and returns its id. guid and
// originatorID are set for clusters that mirror a synced one.
func (d *DB) ReserveClusterID(ctx context.Context, guid string, originatorID ClusterID) (ClusterID, error) {
	res, err := d.exec(ctx,
		"INSERT INTO clusters (originator_cache_guid, originator_cluster_id) VALUES (?, ?)",
		guid, int64(originatorID))
	if err != nil {
		return 0, fmt.Errorf("reserve cluster: %w", err)
	}
	id, err := res.LastInsertId()
	return ClusterID(id), err
}

// ClusterIDForOriginator returns the local cluster mirroring (guid,
// originatorID), or 0.
func (d *DB) ClusterIDForOriginator(ctx context.Context, guid string, originatorID ClusterID) (ClusterID, error) {
	var id int64
	err := d.scanOne(ctx,
		"SELECT cluster_id FROM clusters WHERE originator_cache_guid = ? AND originator_cluster_id = ?",
		[]any{guid, int64(originatorID)}, &id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cluster for originator: %w", err)
	}
	return ClusterID(id), nil
}

// GetCluster returns the cluster row without visits or keywords.
func (d *DB) GetCluster(ctx context.Context, id ClusterID) (*Cluster, error) {
	c := Cluster{ID: id}
	err := d.scanOne(ctx,
		`SELECT should_show_on_prominent_ui_surfaces, label, raw_label, triggerability_calculated,
			originator_cache_guid, originator_cluster_id
		 FROM clusters WHERE cluster_id = ?`, []any{int64(id)},
		&c.ShouldShowOnProminentUISurfaces, &c.Label, &c.RawLabel, &c.TriggerabilityCalculated,
		&c.OriginatorCacheGUID, &c.OriginatorClusterID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cluster: %w", err)
	}
	return &c, nil
}

// UpdateClusterTriggerability stores the computed triggerability fields.
func (d *DB) UpdateClusterTriggerability(ctx context.Context, c Cluster) error {
	_, err := d.exec(ctx,
		`UPDATE clusters SET should_show_on_prominent_ui_surfaces = ?, label = ?, raw_label = ?,
			triggerability_calculated = 1
		 WHERE cluster_id = ?`,
		c.ShouldShowOnProminentUISurfaces, c.Label, c.RawLabel, int64(c.ID))
	if err != nil {
		return fmt.Errorf("update cluster triggerability: %w", err)
	}
	return nil
}

// PutClusterVisit inserts or replaces cv in cluster, including its
// duplicates.
func (d *DB) PutClusterVisit(ctx context.Context, cluster ClusterID, cv ClusterVisit) error {
	_, err := d.exec(ctx,
		`INSERT OR REPLACE INTO clusters_and_visits (cluster_id, visit_id, score, engagement_score,
			url_for_deduping, normalized_url, url_for_display, interaction_state)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(cluster), int64(cv.VisitID), cv.Score, cv.EngagementScore,
		cv.URLForDeduping, cv.NormalizedURL, cv.URLForDisplay, int(cv.InteractionState))
	if err != nil {
		return fmt.Errorf("put cluster visit: %w", err)
	}
	if _, err := d.exec(ctx, "DELETE FROM cluster_visit_duplicates WHERE visit_id = ?", int64(cv.VisitID)); err != nil {
		return fmt.Errorf("clear duplicates: %w", err)
	}
	for _, dup := range cv.DuplicateVisitIDs {
		if _, err := d.exec(ctx,
			"INSERT OR IGNORE INTO cluster_visit_duplicates (visit_id, duplicate_visit_id) VALUES (?, ?)",
			int64(cv.VisitID), int64(dup)); err != nil {
			return fmt.Errorf("add duplicate: %w", err)
		}
	}
	return nil
}

func scanClusterVisit(s rowScanner) (ClusterVisit, error) {
	var cv ClusterVisit
	err := s.Scan(&cv.VisitID, &cv.Score, &cv.EngagementScore, &cv.URLForDeduping,
		&cv.NormalizedURL, &cv.URLForDisplay, &cv.InteractionState)
	return cv, err
}

// ClusterVisits returns the visits of cluster, highest score first, with
// their duplicates filled in.
func (d *DB) ClusterVisits(ctx context.Context, cluster ClusterID) ([]ClusterVisit, error) {
	visits, err := collect(ctx, d, scanClusterVisit,
		`SELECT visit_id, score, engagement_score, url_for_deduping, normalized_url, url_for_display,
			interaction_state
		 FROM clusters_and_visits WHERE cluster_id = ? ORDER BY score DESC, visit_id`, int64(cluster))
	if err != nil {
		return nil, fmt.Errorf("cluster visits: %w", err)
	}
	for i := range visits {
		dups, err := collect(ctx, d, func(s rowScanner) (VisitID, error) {
			var id VisitID
			err := s.Scan(&id)
			return id, err
		}, "SELECT duplicate_visit_id FROM cluster_visit_duplicates WHERE visit_id = ? ORDER BY duplicate_visit_id",
			int64(visits[i].VisitID))
		if err != nil {
			return nil, fmt.Errorf("cluster duplicates: %w", err)
		}
		visits[i].DuplicateVisitIDs = dups
	}
	return visits, nil
}

// GetClusterVisit returns the membership row of visit.
func (d *DB) GetClusterVisit(ctx context.Context, visit VisitID) (*ClusterVisit, ClusterID, error) {
	var cv ClusterVisit
	var cluster ClusterID
	err := d.scanOne(ctx,
		`SELECT cluster_id, visit_id, score, engagement_score, url_for_deduping, normalized_url,
			url_for_display, interaction_state
		 FROM clusters_and_visits WHERE visit_id = ? ORDER BY cluster_id DESC LIMIT 1`,
		[]any{int64(visit)}, &cluster, &cv.VisitID, &cv.Score, &cv.EngagementScore,
		&cv.URLForDeduping, &cv.NormalizedURL, &cv.URLForDisplay, &cv.InteractionState)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get cluster visit: %w", err)
	}
	return &cv, cluster, nil
}

// UpdateInteractionState sets state on every listed visit.
func (d *DB) UpdateInteractionState(ctx context.Context, visits []VisitID, state InteractionState) error {
	if len(visits) == 0 {
		return nil
	}
	args := append([]any{int(state)}, int64Args(visits)...)
	_, err := d.exec(ctx,
		"UPDATE clusters_and_visits SET interaction_state = ? WHERE visit_id IN ("+placeholders(len(visits))+")",
		args...)
	return err
}

// PutClusterKeywords replaces the keywords of cluster.
func (d *DB) PutClusterKeywords(ctx context.Context, cluster ClusterID, kws []ClusterKeyword) error {
	if _, err := d.exec(ctx, "DELETE FROM cluster_keywords WHERE cluster_id = ?", int64(cluster)); err != nil {
		return fmt.Errorf("clear cluster keywords: %w", err)
	}
	for _, k := range kws {
		if _, err := d.exec(ctx,
			"INSERT OR REPLACE INTO cluster_keywords (cluster_id, keyword, type, score) VALUES (?, ?, ?, ?)",
			int64(cluster), k.Keyword, k.Type, k.Score); err != nil {
			return fmt.Errorf("add cluster keyword: %w", err)
		}
	}
	return nil
}

// ClusterKeywords returns the keywords of cluster, best first.
func (d *DB) ClusterKeywords(ctx context.Context, cluster ClusterID) ([]ClusterKeyword, error) {
	return collect(ctx, d, func(s rowScanner) (ClusterKeyword, error) {
		var k ClusterKeyword
		err := s.Scan(&k.Keyword, &k.Type, &k.Score)
		return k, err
	}, "SELECT keyword, type, score FROM cluster_keywords WHERE cluster_id = ? ORDER BY score DESC, keyword",
		int64(cluster))
}

// DeleteClusters removes clusters and everything hanging off them.
func (d *DB) DeleteClusters(ctx context.Context, ids []ClusterID) error {
	if len(ids) == 0 {
		return nil
	}
	in := "(" + placeholders(len(ids)) + ")"
	args := int64Args(ids)
	stmts := []string{
		"DELETE FROM cluster_visit_duplicates WHERE visit_id IN (SELECT visit_id FROM clusters_and_visits WHERE cluster_id IN " + in + ")",
		"DELETE FROM clusters_and_visits WHERE cluster_id IN " + in,
		"DELETE FROM cluster_keywords WHERE cluster_id IN " + in,
		"DELETE FROM clusters WHERE cluster_id IN " + in,
	}
	for _, stmt := range stmts {
		if _, err := d.exec(ctx, stmt, args...); err != nil {
			return fmt.Errorf("delete clusters: %w", err)
		}
	}
	return nil
}

// DeleteClusterVisitsForVisit removes visit from its clusters and drops any
// cluster it leaves empty.
func (d *DB) DeleteClusterVisitsForVisit(ctx context.Context, visit VisitID) error {
	owners, err := collect(ctx, d, scanClusterID,
		"SELECT cluster_id FROM clusters_and_visits WHERE visit_id = ?", int64(visit))
	if err != nil {
		return fmt.Errorf("clusters for visit: %w", err)
	}
	if _, err := d.exec(ctx, "DELETE FROM cluster_visit_duplicates WHERE visit_id = ? OR duplicate_visit_id = ?",
		int64(visit), int64(visit)); err != nil {
		return fmt.Errorf("delete cluster duplicates: %w", err)
	}
	if _, err := d.exec(ctx, "DELETE FROM clusters_and_visits WHERE visit_id = ?", int64(visit)); err != nil {
		return fmt.Errorf("delete cluster visit: %w", err)
	}

	var empty []ClusterID
	for _, id := range owners {
		var n int
		if err := d.scanOne(ctx, "SELECT COUNT(*) FROM clusters_and_visits WHERE cluster_id = ?",
			[]any{int64(id)}, &n); err != nil {
			return err
		}
		if n == 0 {
			empty = append(empty, id)
		}
	}
	return d.DeleteClusters(ctx, empty)
}

func scanClusterID(s rowScanner) (ClusterID, error) {
	var id ClusterID
	err := s.Scan(&id)
	return id, err
}

// ClusterIDContainingVisit returns the cluster holding visit, or 0.
func (d *DB) ClusterIDContainingVisit(ctx context.Context, visit VisitID) (ClusterID, error) {
	_, id, err := d.GetClusterVisit(ctx, visit)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	return id, err
}

// MostRecentClusterIDs returns clusters whose newest visit falls in
// [minTime, maxTime), newest first.
func (d *DB) MostRecentClusterIDs(ctx context.Context, minTime, maxTime time.Time, max int) ([]ClusterID, error) {
	maxArg := int64(1<<63 - 1)
	if !maxTime.IsZero() {
		maxArg = timeToDB(maxTime)
	}
	return collect(ctx, d, scanClusterID, `SELECT cv.cluster_id FROM clusters_and_visits cv JOIN visits v ON v.id = cv.visit_id
		GROUP BY cv.cluster_id
		HAVING MAX(v.visit_time) >= ? AND MAX(v.visit_time) < ?
		ORDER BY MAX(v.visit_time) DESC LIMIT ?`, timeToDB(minTime), maxArg, max)
}

// MostRecentClusteredTime returns the newest visit time among clustered
// visits, or zero.
func (d *DB) MostRecentClusteredTime(ctx context.Context) (time.Time, error) {
	var t sql.NullInt64
	err := d.scanOne(ctx,
		"SELECT MAX(v.visit_time) FROM clusters_and_visits cv JOIN visits v ON v.id = cv.visit_id", nil, &t)
	if err != nil {
		return time.Time{}, err
	}
	return timeFromDB(t.Int64), nil
}

// ClusterCount returns the number of clusters.
func (d *DB) ClusterCount(ctx context.Context) (int64, error) {
	var n int64
	err := d.scanOne(ctx, "SELECT COUNT(*) FROM clusters", nil, &n)
	return n, err
}
