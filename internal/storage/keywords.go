package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// NormalizeTerm lower-cases a search term and collapses whitespace.
func NormalizeTerm(term string) string {
	return strings.Join(strings.Fields(strings.ToLower(term)), " ")
}

// SetKeywordSearchTerm records that urlID was produced by searching term
// with keyword.
func (d *DB) SetKeywordSearchTerm(ctx context.Context, keyword KeywordID, urlID URLID, term string) error {
	_, err := d.exec(ctx,
		"INSERT OR REPLACE INTO keyword_search_terms (keyword_id, url_id, term, normalized_term) VALUES (?, ?, ?, ?)",
		int64(keyword), int64(urlID), term, NormalizeTerm(term))
	if err != nil {
		return fmt.Errorf("set keyword search term: %w", err)
	}
	return nil
}

// KeywordSearchTermForURL returns the term row stored for urlID.
func (d *DB) KeywordSearchTermForURL(ctx context.Context, urlID URLID) (*KeywordSearchTermRow, error) {
	var r KeywordSearchTermRow
	err := d.scanOne(ctx,
		"SELECT keyword_id, url_id, term, normalized_term FROM keyword_search_terms WHERE url_id = ? LIMIT 1",
		[]any{int64(urlID)}, &r.KeywordID, &r.URLID, &r.Term, &r.NormalizedTerm)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("keyword term for url: %w", err)
	}
	return &r, nil
}

// DeleteKeywordSearchTermsForURL drops every term that produced urlID.
func (d *DB) DeleteKeywordSearchTermsForURL(ctx context.Context, urlID URLID) error {
	_, err := d.exec(ctx, "DELETE FROM keyword_search_terms WHERE url_id = ?", int64(urlID))
	return err
}

// DeleteAllSearchTermsForKeyword drops every term of keyword.
func (d *DB) DeleteAllSearchTermsForKeyword(ctx context.Context, keyword KeywordID) error {
	_, err := d.exec(ctx, "DELETE FROM keyword_search_terms WHERE keyword_id = ?", int64(keyword))
	return err
}

// URLIDsForKeywordTerm returns the urls produced by searching term (compared
// normalized) with keyword.
func (d *DB) URLIDsForKeywordTerm(ctx context.Context, keyword KeywordID, term string) ([]URLID, error) {
	return collect(ctx, d, func(s rowScanner) (URLID, error) {
		var id URLID
		err := s.Scan(&id)
		return id, err
	}, "SELECT url_id FROM keyword_search_terms WHERE keyword_id = ? AND normalized_term = ? ORDER BY url_id",
		int64(keyword), NormalizeTerm(term))
}

// MostRepeatedTerms returns the terms of keyword searched most often,
// counting the visits of every url each term produced.
func (d *DB) MostRepeatedTerms(ctx context.Context, keyword KeywordID, max int) ([]KeywordSearchTermVisit, error) {
	return collect(ctx, d, func(s rowScanner) (KeywordSearchTermVisit, error) {
		var v KeywordSearchTermVisit
		var last int64
		err := s.Scan(&v.Term, &v.NormalizedTerm, &v.VisitCount, &last)
		v.LastVisit = timeFromDB(last)
		return v, err
	}, `SELECT MAX(k.term), k.normalized_term, SUM(u.visit_count), MAX(u.last_visit_time)
		FROM keyword_search_terms k JOIN urls u ON u.id = k.url_id
		WHERE k.keyword_id = ?
		GROUP BY k.normalized_term
		ORDER BY SUM(u.visit_count) DESC, MAX(u.last_visit_time) DESC
		LIMIT ?`, int64(keyword), max)
}
