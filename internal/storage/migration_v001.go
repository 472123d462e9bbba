package storage

import (
	"context"
	"database/sql"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// table is a table's DDL plus its indexes.
type table struct {
	Name  string
	Stmts []string
}

// historyTables hold browsing history proper. Deleting all history drops and
// recreates exactly these; downloads, exclusions and meta survive.
var historyTables = []table{
	{"urls", []string{
		`CREATE TABLE IF NOT EXISTS urls (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			url             TEXT NOT NULL,
			title           TEXT NOT NULL DEFAULT '',
			visit_count     INTEGER NOT NULL DEFAULT 0,
			typed_count     INTEGER NOT NULL DEFAULT 0,
			last_visit_time INTEGER NOT NULL DEFAULT 0,
			hidden          BOOLEAN NOT NULL DEFAULT 0
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_urls_url ON urls(url)`,
	}},
	{"visits", []string{
		`CREATE TABLE IF NOT EXISTS visits (
			id                              INTEGER PRIMARY KEY AUTOINCREMENT,
			url                             INTEGER NOT NULL,
			visit_time                      INTEGER NOT NULL,
			from_visit                      INTEGER NOT NULL DEFAULT 0,
			external_referrer_url           TEXT NOT NULL DEFAULT '',
			transition                      INTEGER NOT NULL DEFAULT 0,
			segment_id                      INTEGER NOT NULL DEFAULT 0,
			visit_duration                  INTEGER NOT NULL DEFAULT 0,
			incremented_omnibox_typed_score BOOLEAN NOT NULL DEFAULT 0,
			opener_visit                    INTEGER NOT NULL DEFAULT 0,
			originator_cache_guid           TEXT NOT NULL DEFAULT '',
			originator_visit_id             INTEGER NOT NULL DEFAULT 0,
			originator_from_visit           INTEGER NOT NULL DEFAULT 0,
			originator_opener_visit         INTEGER NOT NULL DEFAULT 0,
			is_known_to_sync                BOOLEAN NOT NULL DEFAULT 0,
			consider_for_ntp_most_visited   BOOLEAN NOT NULL DEFAULT 0,
			visited_link_id                 INTEGER NOT NULL DEFAULT 0,
			app_id                          TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_visits_url        ON visits(url)`,
		`CREATE INDEX IF NOT EXISTS idx_visits_from       ON visits(from_visit)`,
		`CREATE INDEX IF NOT EXISTS idx_visits_time       ON visits(visit_time)`,
		`CREATE INDEX IF NOT EXISTS idx_visits_originator ON visits(originator_cache_guid, originator_visit_id)`,
	}},
	{"visit_source", []string{
		`CREATE TABLE IF NOT EXISTS visit_source (
			id     INTEGER PRIMARY KEY,
			source INTEGER NOT NULL
		)`,
	}},
	{"visited_links", []string{
		`CREATE TABLE IF NOT EXISTS visited_links (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			link_url_id   INTEGER NOT NULL,
			top_level_url TEXT NOT NULL,
			frame_url     TEXT NOT NULL,
			visit_count   INTEGER NOT NULL DEFAULT 0,
			UNIQUE(link_url_id, top_level_url, frame_url)
		)`,
	}},
	{"segments", []string{
		`CREATE TABLE IF NOT EXISTS segments (
			id     INTEGER PRIMARY KEY AUTOINCREMENT,
			name   TEXT NOT NULL UNIQUE,
			url_id INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_segments_url ON segments(url_id)`,
	}},
	{"segment_usage", []string{
		`CREATE TABLE IF NOT EXISTS segment_usage (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			segment_id  INTEGER NOT NULL,
			time_slot   INTEGER NOT NULL,
			visit_count INTEGER NOT NULL DEFAULT 0,
			UNIQUE(segment_id, time_slot)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_segment_usage_slot ON segment_usage(time_slot)`,
	}},
	{"keyword_search_terms", []string{
		`CREATE TABLE IF NOT EXISTS keyword_search_terms (
			keyword_id      INTEGER NOT NULL,
			url_id          INTEGER NOT NULL,
			term            TEXT NOT NULL,
			normalized_term TEXT NOT NULL,
			PRIMARY KEY (keyword_id, url_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_keyword_terms_norm ON keyword_search_terms(keyword_id, normalized_term)`,
		`CREATE INDEX IF NOT EXISTS idx_keyword_terms_url  ON keyword_search_terms(url_id)`,
	}},
	{"clusters", []string{
		`CREATE TABLE IF NOT EXISTS clusters (
			cluster_id                           INTEGER PRIMARY KEY AUTOINCREMENT,
			should_show_on_prominent_ui_surfaces BOOLEAN NOT NULL DEFAULT 0,
			label                                TEXT NOT NULL DEFAULT '',
			raw_label                            TEXT NOT NULL DEFAULT '',
			triggerability_calculated            BOOLEAN NOT NULL DEFAULT 0,
			originator_cache_guid                TEXT NOT NULL DEFAULT '',
			originator_cluster_id                INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_clusters_originator
			ON clusters(originator_cache_guid, originator_cluster_id)
			WHERE originator_cache_guid != ''`,
	}},
	{"clusters_and_visits", []string{
		`CREATE TABLE IF NOT EXISTS clusters_and_visits (
			cluster_id        INTEGER NOT NULL,
			visit_id          INTEGER NOT NULL,
			score             REAL NOT NULL DEFAULT 0,
			engagement_score  REAL NOT NULL DEFAULT 0,
			url_for_deduping  TEXT NOT NULL DEFAULT '',
			normalized_url    TEXT NOT NULL DEFAULT '',
			url_for_display   TEXT NOT NULL DEFAULT '',
			interaction_state INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (cluster_id, visit_id)
		) WITHOUT ROWID`,
		`CREATE INDEX IF NOT EXISTS idx_clusters_and_visits_visit ON clusters_and_visits(visit_id)`,
	}},
	{"cluster_visit_duplicates", []string{
		`CREATE TABLE IF NOT EXISTS cluster_visit_duplicates (
			visit_id           INTEGER NOT NULL,
			duplicate_visit_id INTEGER NOT NULL,
			PRIMARY KEY (visit_id, duplicate_visit_id)
		) WITHOUT ROWID`,
	}},
	{"cluster_keywords", []string{
		`CREATE TABLE IF NOT EXISTS cluster_keywords (
			cluster_id INTEGER NOT NULL,
			keyword    TEXT NOT NULL,
			type       INTEGER NOT NULL DEFAULT 0,
			score      REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (cluster_id, keyword)
		)`,
	}},
	{"context_annotations", []string{
		`CREATE TABLE IF NOT EXISTS context_annotations (
			visit_id                      INTEGER PRIMARY KEY,
			browser_type                  INTEGER NOT NULL DEFAULT 0,
			window_id                     INTEGER NOT NULL DEFAULT 0,
			tab_id                        INTEGER NOT NULL DEFAULT 0,
			task_id                       INTEGER NOT NULL DEFAULT 0,
			root_task_id                  INTEGER NOT NULL DEFAULT 0,
			parent_task_id                INTEGER NOT NULL DEFAULT 0,
			response_code                 INTEGER NOT NULL DEFAULT 0,
			omnibox_url_copied            BOOLEAN NOT NULL DEFAULT 0,
			is_existing_part_of_tab_group BOOLEAN NOT NULL DEFAULT 0,
			is_placed_in_tab_group        BOOLEAN NOT NULL DEFAULT 0,
			is_existing_bookmark          BOOLEAN NOT NULL DEFAULT 0,
			is_new_bookmark               BOOLEAN NOT NULL DEFAULT 0,
			is_ntp_custom_link            BOOLEAN NOT NULL DEFAULT 0,
			duration_since_last_visit     INTEGER NOT NULL DEFAULT 0,
			page_end_reason               INTEGER NOT NULL DEFAULT 0,
			total_foreground_duration     INTEGER NOT NULL DEFAULT 0
		)`,
	}},
	{"content_annotations", []string{
		`CREATE TABLE IF NOT EXISTS content_annotations (
			visit_id                  INTEGER PRIMARY KEY,
			visibility_score          REAL NOT NULL DEFAULT -1,
			categories                TEXT NOT NULL DEFAULT '',
			page_topics_model_version INTEGER NOT NULL DEFAULT -1,
			annotation_flags          INTEGER NOT NULL DEFAULT 0,
			entities                  TEXT NOT NULL DEFAULT '',
			related_searches          TEXT NOT NULL DEFAULT '',
			search_normalized_url     TEXT NOT NULL DEFAULT '',
			search_terms              TEXT NOT NULL DEFAULT '',
			alternative_title         TEXT NOT NULL DEFAULT '',
			page_language             TEXT NOT NULL DEFAULT '',
			password_state            INTEGER NOT NULL DEFAULT 0,
			has_url_keyed_image       BOOLEAN NOT NULL DEFAULT 0
		)`,
	}},
}

var supportTables = []table{
	{"downloads", []string{
		`CREATE TABLE IF NOT EXISTS downloads (
			id               INTEGER PRIMARY KEY,
			guid             TEXT NOT NULL,
			current_path     TEXT NOT NULL DEFAULT '',
			target_path      TEXT NOT NULL DEFAULT '',
			start_time       INTEGER NOT NULL,
			end_time         INTEGER NOT NULL DEFAULT 0,
			received_bytes   INTEGER NOT NULL DEFAULT 0,
			total_bytes      INTEGER NOT NULL DEFAULT 0,
			state            INTEGER NOT NULL,
			interrupt_reason INTEGER NOT NULL DEFAULT 0,
			url              TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_downloads_guid ON downloads(guid)`,
	}},
	{"exclusions", []string{
		`CREATE TABLE IF NOT EXISTS exclusions (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			rule_type  TEXT NOT NULL CHECK (rule_type IN ('domain', 'regex')),
			rule_value TEXT NOT NULL,
			reason     TEXT NOT NULL DEFAULT '',
			is_default BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(rule_type, rule_value)
		)`,
	}},
	{"meta", []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}},
}

// migrateV001 creates every table and index. Every statement uses IF NOT
// EXISTS for idempotency.
func migrateV001(ctx context.Context, tx *sql.Tx) error {
	if err := createTables(ctx, tx, historyTables); err != nil {
		return err
	}
	return createTables(ctx, tx, supportTables)
}

func createTables(ctx context.Context, e execer, tables []table) error {
	for _, t := range tables {
		for _, stmt := range t.Stmts {
			if _, err := e.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
	}
	return nil
}

// migrateV002 seeds the built-in exclusion rules. Uses INSERT OR IGNORE so
// re-running is safe.
func migrateV002(ctx context.Context, tx *sql.Tx) error {
	type rule struct {
		RuleType  string
		RuleValue string
		Reason    string
	}

	defaults := []rule{
		{"domain", "chase.com", "Banking"},
		{"domain", "bankofamerica.com", "Banking"},
		{"domain", "wellsfargo.com", "Banking"},
		{"domain", "paypal.com", "Payments"},
		{"domain", "1password.com", "Password manager"},
		{"domain", "bitwarden.com", "Password manager"},
		{"domain", "lastpass.com", "Password manager"},
		{"domain", "accounts.google.com", "Sign-in"},
		{"domain", "login.microsoftonline.com", "Sign-in"},
		{"domain", "mychart.com", "Healthcare"},
		{"domain", "irs.gov", "Tax"},
		{"regex", `.*\.xxx$`, "Adult content"},
	}

	const insertSQL = `INSERT OR IGNORE INTO exclusions (rule_type, rule_value, reason, is_default) VALUES (?, ?, ?, 1)`

	for _, r := range defaults {
		if _, err := tx.ExecContext(ctx, insertSQL, r.RuleType, r.RuleValue, r.Reason); err != nil {
			return err
		}
	}

	return nil
}
