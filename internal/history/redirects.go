package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/runnerr0/visitdb/internal/storage"
)

// maxChainWalk bounds every walk over referring visits. Chains in a healthy
// database are far shorter; a longer walk means the rows form a loop.
const maxChainWalk = 1024

// mostRecentVisitOf returns the newest visit of url, or nil when the URL or
// its visits are unknown.
func (b *Backend) mostRecentVisitOf(ctx context.Context, rawURL string) (*storage.VisitRow, error) {
	u, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	row, err := b.db.GetRowForURL(ctx, u)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	visit, err := b.db.MostRecentVisitForURL(ctx, row.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return visit, err
}

func (b *Backend) urlOfVisit(ctx context.Context, v storage.VisitRow) (string, error) {
	row, err := b.db.GetURL(ctx, v.URLID)
	if err != nil {
		return "", fmt.Errorf("url of visit %d: %w", v.ID, err)
	}
	return row.URL, nil
}

// QueryRedirectsFrom returns the URLs the most recent visit of fromURL
// redirected to, in order. A loop in the stored chain ends the walk.
func (b *Backend) QueryRedirectsFrom(ctx context.Context, fromURL string) ([]string, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	cur, err := b.mostRecentVisitOf(ctx, fromURL)
	if err != nil || cur == nil {
		return nil, err
	}

	var out []string
	seen := map[storage.VisitID]bool{cur.ID: true}
	for steps := 0; steps < maxChainWalk; steps++ {
		next, err := b.db.RedirectsFromVisit(ctx, cur.ID)
		if err != nil {
			return out, err
		}
		if len(next) == 0 {
			return out, nil
		}
		hop := next[0]
		if seen[hop.ID] {
			b.logger.Warn("loop in redirect chain", "visit", hop.ID)
			return out, nil
		}
		seen[hop.ID] = true
		u, err := b.urlOfVisit(ctx, hop)
		if err != nil {
			b.logger.Warn("redirect hop without url", "visit", hop.ID, "error", err)
			return out, nil
		}
		out = append(out, u)
		cur = &hop
	}
	b.logger.Warn("redirect walk hit its limit", "url", fromURL)
	return out, nil
}

// QueryRedirectsTo returns the URLs that redirected to the most recent visit
// of toURL, nearest first: for a chain A -> B -> C and toURL C the result
// is [B, A].
func (b *Backend) QueryRedirectsTo(ctx context.Context, toURL string) ([]string, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	cur, err := b.mostRecentVisitOf(ctx, toURL)
	if err != nil || cur == nil {
		return nil, err
	}

	var out []string
	seen := map[storage.VisitID]bool{cur.ID: true}
	for steps := 0; steps < maxChainWalk; steps++ {
		if cur.Transition.IsChainStart() || !cur.Transition.IsRedirect() || cur.ReferringVisit == 0 {
			return out, nil
		}
		if seen[cur.ReferringVisit] {
			b.logger.Warn("loop in redirect chain", "visit", cur.ReferringVisit)
			return out, nil
		}
		seen[cur.ReferringVisit] = true
		prev, err := b.db.GetVisit(ctx, cur.ReferringVisit)
		if err != nil {
			b.logger.Warn("redirect source missing", "visit", cur.ReferringVisit, "error", err)
			return out, nil
		}
		u, err := b.urlOfVisit(ctx, *prev)
		if err != nil {
			b.logger.Warn("redirect hop without url", "visit", prev.ID, "error", err)
			return out, nil
		}
		out = append(out, u)
		cur = prev
	}
	b.logger.Warn("redirect walk hit its limit", "url", toURL)
	return out, nil
}

// GetRedirectChain returns the visits of the chain ending at visit, chain
// start first. A missing referrer or a loop truncates the chain to what was
// found.
func (b *Backend) GetRedirectChain(ctx context.Context, visit storage.VisitRow) ([]storage.VisitRow, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	chain := []storage.VisitRow{visit}
	seen := map[storage.VisitID]bool{}
	for !visit.Transition.IsChainStart() && len(chain) < maxChainWalk {
		seen[visit.ID] = true
		prev, err := b.db.GetVisit(ctx, visit.ReferringVisit)
		if err != nil {
			b.logger.Warn("redirect chain broken", "visit", visit.ID, "referrer", visit.ReferringVisit, "error", err)
			break
		}
		if seen[prev.ID] {
			b.logger.Warn("loop in redirect chain", "visit", prev.ID)
			break
		}
		chain = append(chain, *prev)
		visit = *prev
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// GetRedirectChainStart returns the first visit of the chain ending at
// visit.
func (b *Backend) GetRedirectChainStart(ctx context.Context, visit storage.VisitRow) (storage.VisitRow, error) {
	chain, err := b.GetRedirectChain(ctx, visit)
	if err != nil {
		return storage.VisitRow{}, err
	}
	return chain[0], nil
}

// GetCachedRecentRedirects returns the last redirect chain that ended at
// pageURL, or just pageURL when none is cached.
func (b *Backend) GetCachedRecentRedirects(pageURL string) []string {
	if chain, ok := b.redirects.Get(pageURL); ok {
		return append([]string(nil), chain...)
	}
	return []string{pageURL}
}
