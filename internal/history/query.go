package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/runnerr0/visitdb/internal/storage"
	"github.com/runnerr0/visitdb/internal/transition"
)

const (
	// maxTitleLength caps stored titles, in runes.
	maxTitleLength = 4096
	// maxTextMatches bounds the URL rows a text query considers.
	maxTextMatches = 10000
)

func truncateTitle(title string) string {
	if utf8.RuneCountInString(title) <= maxTitleLength {
		return title
	}
	runes := []rune(title)
	return string(runes[:maxTitleLength])
}

// isVisibleVisit reports whether v is shown in history lists: the end of
// its redirect chain, top level, and not generated by a keyword.
func isVisibleVisit(v storage.VisitRow) bool {
	t := v.Transition
	return t.IsChainEnd() && t.IsMainFrame() && !t.CoreIs(transition.KeywordGenerated)
}

type dupKey struct {
	url storage.URLID
	day int64
}

// dedupe applies policy to visits in their current order, keeping the first
// visit of every URL (or of every URL and day).
func dedupe(visits []storage.VisitRow, policy DuplicatePolicy) []storage.VisitRow {
	if policy == KeepAllDuplicates {
		return visits
	}
	seen := make(map[dupKey]bool)
	out := visits[:0]
	for _, v := range visits {
		k := dupKey{url: v.URLID}
		if policy == RemoveDuplicatesPerDay {
			k.day = dayStart(v.VisitTime).Unix()
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}

// limitVisits truncates visits to max and reports whether anything was
// cut.
func limitVisits(visits []storage.VisitRow, max int) ([]storage.VisitRow, bool) {
	if max > 0 && len(visits) > max {
		return visits[:max], true
	}
	return visits, false
}

// visibleVisitsInRange returns the visible visits selected by opts, newest
// first unless opts.OldestFirst. The bool reports whether MaxCount cut the
// result short.
func (b *Backend) visibleVisitsInRange(ctx context.Context, opts QueryOptions) ([]storage.VisitRow, bool, error) {
	all, err := b.db.VisitsInRange(ctx, opts.Begin, opts.End, 0, opts.AppID)
	if err != nil {
		return nil, false, err
	}
	visits := make([]storage.VisitRow, 0, len(all))
	for _, v := range all {
		if isVisibleVisit(v) {
			visits = append(visits, v)
		}
	}
	if opts.OldestFirst {
		for i, j := 0, len(visits)-1; i < j; i, j = i+1, j-1 {
			visits[i], visits[j] = visits[j], visits[i]
		}
	}
	visits = dedupe(visits, opts.DuplicatePolicy)
	visits, more := limitVisits(visits, opts.MaxCount)
	return visits, more, nil
}

// QueryHistory lists visits in the range of opts. An empty text lists every
// visible visit; otherwise only visits of URLs whose address or title
// contains every word of text are listed.
func (b *Backend) QueryHistory(ctx context.Context, text string, opts QueryOptions) (*QueryResults, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}

	var visits []storage.VisitRow
	var more bool
	var err error
	if text == "" {
		visits, more, err = b.visibleVisitsInRange(ctx, opts)
	} else {
		visits, more, err = b.textMatchedVisits(ctx, text, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	res := &QueryResults{Results: make([]URLResult, 0, len(visits))}
	rows := make(map[storage.URLID]*storage.URLRow)
	for _, v := range visits {
		row, ok := rows[v.URLID]
		if !ok {
			row, err = b.db.GetURL(ctx, v.URLID)
			if errors.Is(err, storage.ErrNotFound) {
				b.logger.Warn("visit without url row", "visit", v.ID)
				continue
			}
			if err != nil {
				return nil, err
			}
			rows[v.URLID] = row
		}
		res.Results = append(res.Results, URLResult{URLRow: *row, VisitTime: v.VisitTime, VisitID: v.ID})
	}
	res.ReachedBeginning = !more && (opts.Begin.IsZero() || !opts.Begin.After(b.firstRecordedTime))
	return res, nil
}

func (b *Backend) textMatchedVisits(ctx context.Context, text string, opts QueryOptions) ([]storage.VisitRow, bool, error) {
	rows, err := b.db.SearchURLs(ctx, storage.SearchQuery{Text: text, Limit: maxTextMatches})
	if err != nil {
		return nil, false, err
	}
	var visits []storage.VisitRow
	for _, row := range rows {
		all, err := b.db.VisitsForURL(ctx, row.ID)
		if err != nil {
			return nil, false, err
		}
		for _, v := range all {
			if isVisibleVisit(v) && inRange(v.VisitTime, opts.Begin, opts.End) &&
				(opts.AppID == "" || v.AppID == opts.AppID) {
				visits = append(visits, v)
			}
		}
	}
	sort.SliceStable(visits, func(i, j int) bool {
		if opts.OldestFirst {
			return visits[i].VisitTime.Before(visits[j].VisitTime)
		}
		return visits[i].VisitTime.After(visits[j].VisitTime)
	})
	visits = dedupe(visits, opts.DuplicatePolicy)
	visits, more := limitVisits(visits, opts.MaxCount)
	return visits, more, nil
}

// QueryURL returns the row of rawURL and, when wantVisits is set, its
// visits oldest first.
func (b *Backend) QueryURL(ctx context.Context, rawURL string, wantVisits bool) (*QueryURLResult, error) {
	row, err := b.GetURL(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	res := &QueryURLResult{Row: *row}
	if wantVisits {
		if res.Visits, err = b.db.VisitsForURL(ctx, row.ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// GetURL returns the row of rawURL or storage.ErrNotFound.
func (b *Backend) GetURL(ctx context.Context, rawURL string) (*storage.URLRow, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	u, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	return b.db.GetRowForURL(ctx, u)
}

// GetURLByID returns a url row by id.
func (b *Backend) GetURLByID(ctx context.Context, id storage.URLID) (*storage.URLRow, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	return b.db.GetURL(ctx, id)
}

// GetVisitByID returns a visit by id.
func (b *Backend) GetVisitByID(ctx context.Context, id storage.VisitID) (*storage.VisitRow, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	return b.db.GetVisit(ctx, id)
}

// GetVisitsForURL returns every visit of a url row, oldest first.
func (b *Backend) GetVisitsForURL(ctx context.Context, id storage.URLID) ([]storage.VisitRow, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	return b.db.VisitsForURL(ctx, id)
}

// GetMostRecentVisitsForURL returns up to max visits of a url row, newest
// first.
func (b *Backend) GetMostRecentVisitsForURL(ctx context.Context, id storage.URLID, max int) ([]storage.VisitRow, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	return b.db.MostRecentVisitsForURL(ctx, id, max)
}

// GetAllTypedURLs returns the rows with a typed count above zero.
func (b *Backend) GetAllTypedURLs(ctx context.Context) ([]storage.URLRow, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	return b.db.TypedURLs(ctx)
}

// GetHistoryCount returns the number of distinct URLs visited in
// [begin, end). A zero end is open.
func (b *Backend) GetHistoryCount(ctx context.Context, begin, end time.Time) (int64, error) {
	if err := b.ready(); err != nil {
		return 0, err
	}
	return b.db.CountDistinctURLsInRange(ctx, begin, end)
}

// GetStats returns aggregate statistics about the database.
func (b *Backend) GetStats(ctx context.Context) (*storage.Stats, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	return b.db.GetStats(ctx)
}

// SetPageTitle sets the title of rawURL and of every URL in the redirect
// chain that last led to it.
func (b *Backend) SetPageTitle(ctx context.Context, rawURL, title string) error {
	if err := b.ready(); err != nil {
		return err
	}
	u, err := NormalizeURL(rawURL)
	if err != nil {
		return err
	}
	title = truncateTitle(title)

	var changed []storage.URLRow
	for _, hop := range b.GetCachedRecentRedirects(u) {
		row, err := b.db.GetRowForURL(ctx, hop)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if row.Title == title {
			continue
		}
		row.Title = title
		if err := b.db.UpdateURL(ctx, *row); err != nil {
			return err
		}
		changed = append(changed, *row)
	}
	if len(changed) > 0 {
		b.notifyURLsModified(changed, false)
		b.ScheduleCommit()
	}
	return nil
}

// AddPageNoVisitForBookmark creates a hidden row for a bookmarked URL that
// has never been visited. An existing row is left alone. The title
// defaults to the URL.
func (b *Backend) AddPageNoVisitForBookmark(ctx context.Context, rawURL, title string) error {
	if err := b.ready(); err != nil {
		return err
	}
	u, err := NormalizeURL(rawURL)
	if err != nil {
		return err
	}
	_, err = b.db.GetRowForURL(ctx, u)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if title == "" {
		title = u
	}
	if _, err := b.db.AddURL(ctx, storage.URLRow{
		URL:       u,
		Title:     truncateTitle(title),
		LastVisit: b.now(),
		Hidden:    true,
	}); err != nil {
		return err
	}
	b.ScheduleCommit()
	return nil
}

// AddPagesWithDetails imports url rows. Each new or existing row gets one
// visit at its last visit time, except for synced imports whose visits
// arrive separately.
func (b *Backend) AddPagesWithDetails(ctx context.Context, rows []storage.URLRow, source storage.VisitSource) error {
	if err := b.ready(); err != nil {
		return err
	}
	var modified []storage.URLRow
	err := b.withSavepoint(ctx, "import", func(q *notifyQueue) error {
		for _, in := range rows {
			u, err := NormalizeURL(in.URL)
			if err != nil || !b.CanAddURL(u) {
				b.logger.Debug("skipping imported url", "url", in.URL, "error", err)
				continue
			}
			in.URL = u
			in.Title = truncateTitle(in.Title)

			existing, err := b.db.GetRowForURL(ctx, u)
			switch {
			case err == nil:
				in.ID = existing.ID
				if in.LastVisit.Before(existing.LastVisit) {
					in.LastVisit = existing.LastVisit
				}
				if err := b.db.UpdateURL(ctx, in); err != nil {
					return err
				}
			case errors.Is(err, storage.ErrNotFound):
				in.ID = 0
				if in.ID, err = b.db.AddURL(ctx, in); err != nil {
					return err
				}
			default:
				return err
			}
			modified = append(modified, in)

			if source == storage.SourceSynced || in.LastVisit.IsZero() {
				continue
			}
			visit := storage.VisitRow{
				URLID:      in.ID,
				VisitTime:  in.LastVisit,
				Transition: transition.Link | transition.ChainStart | transition.ChainEnd,
			}
			if _, err := b.db.AddVisit(ctx, &visit, source); err != nil {
				return err
			}
			if b.firstRecordedTime.IsZero() || visit.VisitTime.Before(b.firstRecordedTime) {
				b.firstRecordedTime = visit.VisitTime
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	b.notifyURLsModified(modified, false)
	b.ScheduleCommit()
	return nil
}
