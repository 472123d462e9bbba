package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const contextColumns = `browser_type, window_id, tab_id, task_id, root_task_id, parent_task_id,
	response_code, omnibox_url_copied, is_existing_part_of_tab_group, is_placed_in_tab_group,
	is_existing_bookmark, is_new_bookmark, is_ntp_custom_link, duration_since_last_visit,
	page_end_reason, total_foreground_duration`

// GetContextAnnotations returns the context annotations of visit.
func (d *DB) GetContextAnnotations(ctx context.Context, visit VisitID) (*ContextAnnotations, error) {
	var a ContextAnnotations
	var sinceLast, foreground int64
	err := d.scanOne(ctx, "SELECT "+contextColumns+" FROM context_annotations WHERE visit_id = ?",
		[]any{int64(visit)},
		&a.BrowserType, &a.WindowID, &a.TabID, &a.TaskID, &a.RootTaskID, &a.ParentTaskID,
		&a.ResponseCode, &a.OmniboxURLCopied, &a.IsExistingPartOfTabGroup, &a.IsPlacedInTabGroup,
		&a.IsExistingBookmark, &a.IsNewBookmark, &a.IsNTPCustomLink, &sinceLast,
		&a.PageEndReason, &foreground)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get context annotations: %w", err)
	}
	a.DurationSinceLastVisit = durationFromDB(sinceLast)
	a.TotalForegroundDuration = durationFromDB(foreground)
	return &a, nil
}

// PutContextAnnotations inserts or replaces the context annotations of visit.
func (d *DB) PutContextAnnotations(ctx context.Context, visit VisitID, a ContextAnnotations) error {
	_, err := d.exec(ctx,
		"INSERT OR REPLACE INTO context_annotations (visit_id, "+contextColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(visit), a.BrowserType, a.WindowID, a.TabID, a.TaskID, a.RootTaskID, a.ParentTaskID,
		a.ResponseCode, a.OmniboxURLCopied, a.IsExistingPartOfTabGroup, a.IsPlacedInTabGroup,
		a.IsExistingBookmark, a.IsNewBookmark, a.IsNTPCustomLink, durationToDB(a.DurationSinceLastVisit),
		a.PageEndReason, durationToDB(a.TotalForegroundDuration))
	if err != nil {
		return fmt.Errorf("put context annotations: %w", err)
	}
	return nil
}

const contentColumns = `visibility_score, categories, page_topics_model_version, annotation_flags,
	entities, related_searches, search_normalized_url, search_terms, alternative_title,
	page_language, password_state, has_url_keyed_image`

// GetContentAnnotations returns the content annotations of visit.
func (d *DB) GetContentAnnotations(ctx context.Context, visit VisitID) (*ContentAnnotations, error) {
	var a ContentAnnotations
	var categories, entities, related string
	err := d.scanOne(ctx, "SELECT "+contentColumns+" FROM content_annotations WHERE visit_id = ?",
		[]any{int64(visit)},
		&a.VisibilityScore, &categories, &a.PageTopicsModelVersion, &a.AnnotationFlags,
		&entities, &related, &a.SearchNormalizedURL, &a.SearchTerms, &a.AlternativeTitle,
		&a.PageLanguage, &a.PasswordState, &a.HasURLKeyedImage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get content annotations: %w", err)
	}
	if err := decodeList(categories, &a.Categories); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	if err := decodeList(entities, &a.Entities); err != nil {
		return nil, fmt.Errorf("decode entities: %w", err)
	}
	if err := decodeList(related, &a.RelatedSearches); err != nil {
		return nil, fmt.Errorf("decode related searches: %w", err)
	}
	return &a, nil
}

// PutContentAnnotations inserts or replaces the content annotations of visit.
func (d *DB) PutContentAnnotations(ctx context.Context, visit VisitID, a ContentAnnotations) error {
	categories, err := encodeList(a.Categories)
	if err != nil {
		return err
	}
	entities, err := encodeList(a.Entities)
	if err != nil {
		return err
	}
	related, err := encodeList(a.RelatedSearches)
	if err != nil {
		return err
	}
	_, err = d.exec(ctx,
		"INSERT OR REPLACE INTO content_annotations (visit_id, "+contentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(visit), a.VisibilityScore, categories, a.PageTopicsModelVersion, int64(a.AnnotationFlags),
		entities, related, a.SearchNormalizedURL, a.SearchTerms, a.AlternativeTitle,
		a.PageLanguage, a.PasswordState, a.HasURLKeyedImage)
	if err != nil {
		return fmt.Errorf("put content annotations: %w", err)
	}
	return nil
}

// DeleteAnnotationsForVisit drops both annotation rows of visit.
func (d *DB) DeleteAnnotationsForVisit(ctx context.Context, visit VisitID) error {
	if _, err := d.exec(ctx, "DELETE FROM context_annotations WHERE visit_id = ?", int64(visit)); err != nil {
		return fmt.Errorf("delete context annotations: %w", err)
	}
	if _, err := d.exec(ctx, "DELETE FROM content_annotations WHERE visit_id = ?", int64(visit)); err != nil {
		return fmt.Errorf("delete content annotations: %w", err)
	}
	return nil
}

// SetAnnotationFlagForVisitsBefore ORs flag into the content annotations of
// every visit older than micros.
func (d *DB) SetAnnotationFlagForVisitsBefore(ctx context.Context, flag uint32, micros int64) error {
	_, err := d.exec(ctx,
		`UPDATE content_annotations SET annotation_flags = annotation_flags | ?
		 WHERE visit_id IN (SELECT id FROM visits WHERE visit_time < ?)`,
		int64(flag), micros)
	return err
}

func encodeList[T any](v []T) (string, error) {
	if len(v) == 0 {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(b), nil
}

func decodeList[T any](s string, out *[]T) error {
	if s == "" {
		*out = nil
		return nil
	}
	return json.Unmarshal([]byte(s), out)
}
