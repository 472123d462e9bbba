package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// ExclusionRules is the set of host rules that keep URLs out of history.
type ExclusionRules struct {
	domains []string
	regexes []*regexp.Regexp
}

// NewExclusionRules builds rules from plain domains and regular expressions.
// Invalid expressions are skipped.
func NewExclusionRules(domains, patterns []string) *ExclusionRules {
	r := &ExclusionRules{}
	r.Add(domains, patterns)
	return r
}

// Add appends more rules.
func (r *ExclusionRules) Add(domains, patterns []string) {
	for _, d := range domains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			r.domains = append(r.domains, d)
		}
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue // skip invalid regex
		}
		r.regexes = append(r.regexes, re)
	}
}

// IsExcluded reports whether host equals, or is a subdomain of, an excluded
// domain or matches an excluded pattern.
func (r *ExclusionRules) IsExcluded(host string) bool {
	if r == nil || host == "" {
		return false
	}
	host = strings.ToLower(host)
	for _, d := range r.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	for _, re := range r.regexes {
		if re.MatchString(host) {
			return true
		}
	}
	return false
}

// Len returns the number of rules.
func (r *ExclusionRules) Len() int { return len(r.domains) + len(r.regexes) }

// LoadExclusions reads the exclusion rules stored in the database.
func (d *DB) LoadExclusions(ctx context.Context) (*ExclusionRules, error) {
	type rule struct{ kind, value string }
	rules, err := collect(ctx, d, func(s rowScanner) (rule, error) {
		var r rule
		err := s.Scan(&r.kind, &r.value)
		return r, err
	}, "SELECT rule_type, rule_value FROM exclusions ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("load exclusions: %w", err)
	}

	var domains, patterns []string
	for _, r := range rules {
		switch r.kind {
		case "domain":
			domains = append(domains, r.value)
		case "regex":
			patterns = append(patterns, r.value)
		}
	}
	return NewExclusionRules(domains, patterns), nil
}

// AddExclusion stores a user rule. kind is "domain" or "regex".
func (d *DB) AddExclusion(ctx context.Context, kind, value, reason string) error {
	if kind == "regex" {
		if _, err := regexp.Compile(value); err != nil {
			return fmt.Errorf("invalid exclusion pattern: %w", err)
		}
	}
	_, err := d.exec(ctx,
		"INSERT OR IGNORE INTO exclusions (rule_type, rule_value, reason, is_default) VALUES (?, ?, ?, 0)",
		kind, value, reason)
	if err != nil {
		return fmt.Errorf("add exclusion: %w", err)
	}
	return nil
}
