package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/runnerr0/visitdb/internal/metrics"
	"github.com/runnerr0/visitdb/internal/storage"
	"github.com/runnerr0/visitdb/internal/transition"
)

// expirer deletes visits older than the retention threshold in small
// batches on the backend's sequence. It runs often while there is a
// backlog and rarely once caught up.
type expirer struct {
	b      *Backend
	cancel func()
}

func newExpirer(b *Backend) *expirer {
	return &expirer{b: b}
}

func (e *expirer) start() {
	if e.b.cfg.Retention.Days <= 0 {
		e.b.logger.Info("age expiration disabled")
		return
	}
	e.schedule(e.interval(false))
}

func (e *expirer) stop() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

func (e *expirer) interval(idle bool) time.Duration {
	r := e.b.cfg.Retention
	if idle {
		return time.Duration(r.ExpireIdleIntervalSeconds) * time.Second
	}
	return time.Duration(r.ExpireIntervalSeconds) * time.Second
}

func (e *expirer) schedule(d time.Duration) {
	e.stop()
	e.cancel = e.b.seq.PostDelayedTask(d, e.run)
}

func (e *expirer) threshold() time.Time {
	return e.b.now().AddDate(0, 0, -e.b.cfg.Retention.Days)
}

func (e *expirer) run() {
	e.cancel = nil
	b := e.b
	if b.ready() != nil {
		return
	}
	ctx := context.Background()
	n, err := b.expireOneBatch(ctx, e.threshold())
	if err != nil {
		b.logger.Warn("age expiration failed", "error", err)
	}
	if n > 0 {
		b.logger.Debug("expired old visits", "count", n)
	}
	e.schedule(e.interval(err != nil || n < b.expireBatchSize()))
}

func (b *Backend) expireBatchSize() int {
	if n := b.cfg.Retention.ExpireBatchSize; n > 0 {
		return n
	}
	return 32
}

// expireOneBatch deletes up to one batch of visits older than threshold
// along with segment usage past the scoring window.
func (b *Backend) expireOneBatch(ctx context.Context, threshold time.Time) (int, error) {
	visits, err := b.db.VisitsOlderThan(ctx, threshold, b.expireBatchSize())
	if err != nil {
		return 0, err
	}
	if len(visits) > 0 {
		if _, err := b.expireVisits(ctx, expireRequest{visits: visits, reason: metrics.ReasonExpired, end: threshold}); err != nil {
			return 0, err
		}
		b.refreshFirstRecordedTime(ctx)
	}
	days := b.cfg.Engine.SegmentScoreDays
	if days <= 0 {
		days = 90
	}
	if err := b.db.DeleteSegmentUsageOlderThan(ctx, dayStart(b.now()).AddDate(0, 0, -days)); err != nil {
		return len(visits), err
	}
	if len(visits) > 0 {
		b.ScheduleCommit()
	}
	return len(visits), nil
}

// ExpireOlderThan deletes every visit before threshold, batch by batch,
// and commits. It returns the number of visits deleted.
func (b *Backend) ExpireOlderThan(ctx context.Context, threshold time.Time) (int, error) {
	if err := b.ready(); err != nil {
		return 0, err
	}
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := b.expireOneBatch(ctx, threshold)
		total += n
		if err != nil {
			return total, err
		}
		if n < b.expireBatchSize() {
			break
		}
	}
	b.Commit()
	return total, nil
}

// expireRequest names the rows one deletion pass removes.
type expireRequest struct {
	visits []storage.VisitRow
	// urls are checked for orphaning even when none of their visits are
	// in visits.
	urls       []storage.URLID
	reason     string
	begin, end time.Time
}

// urlEffect tallies what the deleted visits of one URL contributed to its
// counters.
type urlEffect struct {
	visits int
	typed  int
}

// expireVisits deletes req.visits with everything hanging off them. A URL
// left without visits is deleted unless it is pinned, in which case its
// counters are reset. Surviving URLs have their counters and last visit
// recomputed.
func (b *Backend) expireVisits(ctx context.Context, req expireRequest) (DeletionInfo, error) {
	info := DeletionInfo{
		FromExpiration: req.reason == metrics.ReasonExpired,
		Reason:         req.reason,
		Begin:          req.begin,
		End:            req.end,
	}
	var modified []storage.URLRow

	err := b.withSavepoint(ctx, "expire", func(q *notifyQueue) error {
		effects := make(map[storage.URLID]*urlEffect)
		var order []storage.URLID
		touch := func(id storage.URLID) *urlEffect {
			e, ok := effects[id]
			if !ok {
				e = &urlEffect{}
				effects[id] = e
				order = append(order, id)
			}
			return e
		}

		seen := make(map[storage.VisitID]bool, len(req.visits))
		deleted := 0
		for _, v := range req.visits {
			if seen[v.ID] {
				continue
			}
			seen[v.ID] = true
			// Earlier deletions may have re-pointed this visit's referrer.
			cur, err := b.db.GetVisit(ctx, v.ID)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			v = *cur
			if err := b.deleteVisitRelatedInfo(ctx, v); err != nil {
				return fmt.Errorf("expire visit %d: %w", v.ID, err)
			}
			if err := b.db.DeleteVisit(ctx, v); err != nil {
				return fmt.Errorf("expire visit %d: %w", v.ID, err)
			}
			deleted++
			e := touch(v.URLID)
			if !v.Transition.CoreIs(transition.Reload) {
				e.visits++
			}
			if v.IncrementedOmniboxTypedScore {
				e.typed++
			}
			visit := v
			q.add(func() { b.notifyVisitDeleted(visit) })
		}
		for _, id := range req.urls {
			touch(id)
		}

		for _, id := range order {
			row, err := b.db.GetURL(ctx, id)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			gone, changed, err := b.settleURL(ctx, row, effects[id])
			if err != nil {
				return err
			}
			switch {
			case gone:
				info.DeletedRows = append(info.DeletedRows, *row)
			case changed:
				modified = append(modified, *row)
			}
		}

		if b.favicons != nil && len(info.DeletedRows) > 0 {
			urls := make([]string, len(info.DeletedRows))
			for i, r := range info.DeletedRows {
				urls[i] = r.URL
			}
			info.FaviconURLs = b.favicons.DeleteMappings(urls)
		}

		reason, urlsGone := req.reason, len(info.DeletedRows)
		q.add(func() {
			b.metrics.VisitsDeleted.WithLabelValues(reason).Add(float64(deleted))
			b.metrics.URLsDeleted.Add(float64(urlsGone))
		})
		return nil
	})
	if err != nil {
		return DeletionInfo{}, err
	}

	for _, row := range info.DeletedRows {
		b.redirects.Remove(row.URL)
	}
	b.notifyURLsModified(modified, info.FromExpiration)
	if len(req.visits) > 0 || len(info.DeletedRows) > 0 {
		b.notifyURLsDeleted(info)
	}
	return info, nil
}

// deleteVisitRelatedInfo removes the side-table rows of v and gives back
// its segment and visited-link counts.
func (b *Backend) deleteVisitRelatedInfo(ctx context.Context, v storage.VisitRow) error {
	if err := b.db.DeleteAnnotationsForVisit(ctx, v.ID); err != nil {
		return err
	}
	if err := b.db.DeleteClusterVisitsForVisit(ctx, v.ID); err != nil {
		return err
	}
	if v.SegmentID != 0 {
		if err := b.db.AdjustSegmentVisitCount(ctx, v.SegmentID, dayStart(v.VisitTime), -1); err != nil {
			return err
		}
	}
	if v.VisitedLinkID != 0 {
		link, err := b.db.GetVisitedLinkByID(ctx, v.VisitedLinkID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			return err
		default:
			if err := b.db.UpdateVisitedLinkCount(ctx, link.ID, link.VisitCount-1); err != nil {
				return err
			}
		}
	}
	return nil
}

// settleURL brings row in line with the visits it has left. It reports
// whether the row was deleted and, if not, whether it changed.
func (b *Backend) settleURL(ctx context.Context, row *storage.URLRow, e *urlEffect) (gone, changed bool, err error) {
	latest, err := b.db.MostRecentVisitForURL(ctx, row.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return false, false, err
	}

	if latest == nil {
		if b.client == nil || !b.client.IsPinnedURL(row.URL) {
			return true, false, b.deleteURLRow(ctx, *row)
		}
		if row.VisitCount == 0 && row.TypedCount == 0 && row.LastVisit.IsZero() {
			return false, false, nil
		}
		row.VisitCount, row.TypedCount, row.LastVisit = 0, 0, time.Time{}
		return false, true, b.db.UpdateURL(ctx, *row)
	}

	before := *row
	row.VisitCount = max(0, row.VisitCount-e.visits)
	row.TypedCount = max(0, row.TypedCount-e.typed)
	row.LastVisit = latest.VisitTime
	if *row == before {
		return false, false, nil
	}
	return false, true, b.db.UpdateURL(ctx, *row)
}

// deleteURLRow removes a url row and everything keyed by it.
func (b *Backend) deleteURLRow(ctx context.Context, row storage.URLRow) error {
	if err := b.db.DeleteKeywordSearchTermsForURL(ctx, row.ID); err != nil {
		return err
	}
	if err := b.db.DeleteSegmentForURL(ctx, row.ID); err != nil {
		return err
	}
	if err := b.db.DeleteVisitedLinksForURL(ctx, row.ID); err != nil {
		return err
	}
	return b.db.DeleteURL(ctx, row.ID)
}

func (b *Backend) refreshFirstRecordedTime(ctx context.Context) {
	first, err := b.db.StartDate(ctx)
	if err != nil {
		b.logger.Warn("reading start date failed", "error", err)
		return
	}
	b.firstRecordedTime = first
}

// removeVisits deletes visits for reason without forcing a commit.
func (b *Backend) removeVisits(ctx context.Context, visits []storage.VisitRow, reason string) error {
	if _, err := b.expireVisits(ctx, expireRequest{visits: visits, reason: reason}); err != nil {
		return err
	}
	b.refreshFirstRecordedTime(ctx)
	return nil
}

// RemoveVisits deletes the given visits and commits.
func (b *Backend) RemoveVisits(ctx context.Context, visits []storage.VisitRow) error {
	if err := b.ready(); err != nil {
		return err
	}
	if err := b.removeVisits(ctx, visits, metrics.ReasonExplicit); err != nil {
		return err
	}
	b.Commit()
	return nil
}

// DeleteURL deletes a URL and all of its visits.
func (b *Backend) DeleteURL(ctx context.Context, rawURL string) error {
	return b.DeleteURLs(ctx, []string{rawURL})
}

// DeleteURLs deletes URLs and all of their visits. Pinned URLs keep their
// row with reset counters. Unknown URLs are ignored.
func (b *Backend) DeleteURLs(ctx context.Context, urls []string) error {
	if err := b.ready(); err != nil {
		return err
	}
	var req expireRequest
	req.reason = metrics.ReasonExplicit
	for _, raw := range urls {
		row, err := b.rowForURL(ctx, raw)
		if err != nil {
			return err
		}
		if row == nil {
			continue
		}
		visits, err := b.db.VisitsForURL(ctx, row.ID)
		if err != nil {
			return err
		}
		req.visits = append(req.visits, visits...)
		req.urls = append(req.urls, row.ID)
	}
	if _, err := b.expireVisits(ctx, req); err != nil {
		return err
	}
	b.refreshFirstRecordedTime(ctx)
	b.Commit()
	return nil
}

// URLAndTime pairs a URL with a cutoff.
type URLAndTime struct {
	URL   string
	Until time.Time
}

// DeleteURLsUntil deletes, for each URL, its visits before Until. The URL
// row goes too once no visits are left.
func (b *Backend) DeleteURLsUntil(ctx context.Context, pairs []URLAndTime) error {
	if err := b.ready(); err != nil {
		return err
	}
	req := expireRequest{reason: metrics.ReasonExplicit}
	for _, p := range pairs {
		row, err := b.rowForURL(ctx, p.URL)
		if err != nil {
			return err
		}
		if row == nil {
			continue
		}
		visits, err := b.db.VisitsForURL(ctx, row.ID)
		if err != nil {
			return err
		}
		for _, v := range visits {
			if v.VisitTime.Before(p.Until) {
				req.visits = append(req.visits, v)
			}
		}
	}
	if _, err := b.expireVisits(ctx, req); err != nil {
		return err
	}
	b.refreshFirstRecordedTime(ctx)
	b.Commit()
	return nil
}

// rowForURL returns the row of raw, or nil when it is not stored.
func (b *Backend) rowForURL(ctx context.Context, raw string) (*storage.URLRow, error) {
	u, err := NormalizeURL(raw)
	if err != nil {
		return nil, err
	}
	row, err := b.db.GetRowForURL(ctx, u)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return row, err
}

func inRange(t, begin, end time.Time) bool {
	return !t.Before(begin) && (end.IsZero() || t.Before(end))
}

// visitsForExpiration lists the visits args selects.
func (b *Backend) visitsForExpiration(ctx context.Context, args ExpireArgs) ([]storage.VisitRow, error) {
	if len(args.URLs) == 0 {
		return b.db.VisitsInRange(ctx, args.Begin, args.End, 0, args.AppID)
	}
	var out []storage.VisitRow
	for _, raw := range args.URLs {
		row, err := b.rowForURL(ctx, raw)
		if err != nil {
			return nil, err
		}
		if row == nil {
			continue
		}
		visits, err := b.db.VisitsForURL(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		for _, v := range visits {
			if inRange(v.VisitTime, args.Begin, args.End) && (args.AppID == "" || v.AppID == args.AppID) {
				out = append(out, v)
			}
		}
	}
	return out, nil
}

// ExpireHistoryBetween deletes the visits in [begin, end) of urls, or of
// every URL when urls is empty. Zero bounds are open. With no bounds and no
// URLs it deletes all history.
func (b *Backend) ExpireHistoryBetween(ctx context.Context, urls []string, begin, end time.Time) error {
	if err := b.ready(); err != nil {
		return err
	}
	if begin.IsZero() && end.IsZero() && len(urls) == 0 {
		return b.DeleteAllHistory(ctx)
	}
	return b.ExpireHistory(ctx, []ExpireArgs{{URLs: urls, Begin: begin, End: end}})
}

// ExpireHistory deletes every range in list and commits once.
func (b *Backend) ExpireHistory(ctx context.Context, list []ExpireArgs) error {
	if err := b.ready(); err != nil {
		return err
	}
	for _, args := range list {
		visits, err := b.visitsForExpiration(ctx, args)
		if err != nil {
			return err
		}
		if _, err := b.expireVisits(ctx, expireRequest{
			visits: visits,
			reason: metrics.ReasonExplicit,
			begin:  args.Begin,
			end:    args.End,
		}); err != nil {
			return err
		}
	}
	b.refreshFirstRecordedTime(ctx)
	b.Commit()
	return nil
}

// ExpireHistoryForTimes deletes history when only approximate visit times
// are known. Every URL with a visible visit at one of times within
// [begin, end) loses all of its visits at any of those times.
func (b *Backend) ExpireHistoryForTimes(ctx context.Context, times []time.Time, begin, end time.Time) error {
	if err := b.ready(); err != nil {
		return err
	}
	if len(times) == 0 {
		return nil
	}
	wanted := make(map[int64]bool, len(times))
	for _, t := range times {
		wanted[t.UnixMicro()] = true
	}

	visible, _, err := b.visibleVisitsInRange(ctx, QueryOptions{
		Begin:           begin,
		End:             end,
		DuplicatePolicy: KeepAllDuplicates,
	})
	if err != nil {
		return err
	}
	urls := make(map[storage.URLID]bool)
	for _, v := range visible {
		if wanted[v.VisitTime.UnixMicro()] {
			urls[v.URLID] = true
		}
	}
	if len(urls) == 0 {
		return nil
	}

	sorted := append([]time.Time(nil), times...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].After(sorted[j]) })
	var visits []storage.VisitRow
	var last time.Time
	for i, t := range sorted {
		if i > 0 && t.Equal(last) {
			continue
		}
		last = t
		if !inRange(t, begin, end) {
			continue
		}
		at, err := b.db.VisitsAtTime(ctx, t)
		if err != nil {
			return err
		}
		for _, v := range at {
			if urls[v.URLID] {
				visits = append(visits, v)
			}
		}
	}
	if _, err := b.expireVisits(ctx, expireRequest{visits: visits, reason: metrics.ReasonExplicit, begin: begin, end: end}); err != nil {
		return err
	}
	b.refreshFirstRecordedTime(ctx)
	b.Commit()
	return nil
}

// URLsNoLongerBookmarked deletes the rows of urls that have no visits and
// are no longer pinned.
func (b *Backend) URLsNoLongerBookmarked(ctx context.Context, urls []string) error {
	if err := b.ready(); err != nil {
		return err
	}
	req := expireRequest{reason: metrics.ReasonExplicit}
	for _, raw := range urls {
		row, err := b.rowForURL(ctx, raw)
		if err != nil {
			return err
		}
		if row != nil {
			req.urls = append(req.urls, row.ID)
		}
	}
	if len(req.urls) == 0 {
		return nil
	}
	if _, err := b.expireVisits(ctx, req); err != nil {
		return err
	}
	b.ScheduleCommit()
	return nil
}

// DeleteAllHistory empties every history table. Rows of pinned URLs are
// kept with their counters reset. The file is vacuumed afterwards.
func (b *Backend) DeleteAllHistory(ctx context.Context) error {
	if err := b.ready(); err != nil {
		return err
	}
	visitCount, err := b.db.VisitCount(ctx, false)
	if err != nil {
		return err
	}
	urlCount, err := b.db.URLCount(ctx)
	if err != nil {
		return err
	}

	var keep []storage.URLID
	var keepURLs []string
	if b.client != nil {
		for _, p := range b.client.GetPinnedURLs() {
			row, err := b.rowForURL(ctx, p.URL)
			if err != nil {
				b.logger.Debug("skipping pinned url", "url", p.URL, "error", err)
				continue
			}
			if row != nil {
				keep = append(keep, row.ID)
				keepURLs = append(keepURLs, row.URL)
			}
		}
	}
	if b.favicons != nil {
		if err := b.favicons.ClearAllExcept(keepURLs); err != nil {
			b.logger.Warn("clearing favicons failed", "error", err)
		}
	}

	if err := b.db.ResetHistory(ctx, keep); err != nil {
		return fmt.Errorf("delete all history: %w", err)
	}
	b.cancelScheduledCommit()
	b.commitSingletonTransaction("forced")
	if err := b.db.Vacuum(ctx); err != nil {
		b.logger.Warn("vacuum after deleting history failed", "error", err)
	}
	b.beginSingletonTransaction()

	b.refreshFirstRecordedTime(ctx)
	b.tracker.Clear()
	b.redirects.Clear()
	b.metrics.VisitsDeleted.WithLabelValues(metrics.ReasonAll).Add(float64(visitCount))
	b.metrics.URLsDeleted.Add(float64(urlCount - int64(len(keep))))
	b.logger.Info("deleted all history", "visits", visitCount, "kept_urls", len(keep))
	b.notifyURLsDeleted(DeletionInfo{AllHistory: true, Reason: metrics.ReasonAll})
	return nil
}
