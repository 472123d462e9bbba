package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/runnerr0/visitdb/internal/storage"
	"github.com/runnerr0/visitdb/internal/transition"
)

// notifyQueue collects notifications raised inside a savepoint. They are
// sent once the savepoint is released so a rolled back write is never
// announced.
type notifyQueue struct {
	fns []func()
}

func (q *notifyQueue) add(fn func()) { q.fns = append(q.fns, fn) }

func (q *notifyQueue) flush() {
	for _, fn := range q.fns {
		fn()
	}
	q.fns = nil
}

// withSavepoint runs fn inside a savepoint named name. When fn fails every
// write it made is undone, the first recorded time is restored and its
// queued notifications are dropped.
func (b *Backend) withSavepoint(ctx context.Context, name string, fn func(q *notifyQueue) error) error {
	if err := b.db.Savepoint(ctx, name); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}
	first := b.firstRecordedTime
	var q notifyQueue
	if err := fn(&q); err != nil {
		b.firstRecordedTime = first
		if rbErr := b.db.RollbackToSavepoint(ctx, name); rbErr != nil {
			b.logger.Error("rollback to savepoint failed", "savepoint", name, "error", rbErr)
		}
		return err
	}
	if err := b.db.ReleaseSavepoint(ctx, name); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	q.flush()
	return nil
}

// pageVisit is everything addPageVisit writes for one hop.
type pageVisit struct {
	url              string
	time             time.Time
	referringVisit   storage.VisitID
	externalReferrer string
	transition       transition.Transition
	hidden           bool
	source           storage.VisitSource
	incrementTyped   bool
	openerVisit      storage.VisitID
	considerForNTP   bool
	localNavID       int64
	title            string
	topLevelURL      string
	frameURL         string
	appID            string

	duration                 time.Duration
	originatorCacheGUID      string
	originatorVisitID        storage.VisitID
	originatorReferringVisit storage.VisitID
	originatorOpenerVisit    storage.VisitID
	knownToSync              bool
}

func sourceLabel(s storage.VisitSource) string {
	switch s {
	case storage.SourceSynced:
		return "synced"
	case storage.SourceExtension:
		return "extension"
	case storage.SourceImported:
		return "imported"
	default:
		return "browsed"
	}
}

func isVisitedLinkTransition(t transition.Transition) bool {
	return t.CoreIs(transition.Link) || t.CoreIs(transition.ManualSubframe)
}

// addPageVisit upserts the url row of p and inserts one visit for it.
func (b *Backend) addPageVisit(ctx context.Context, q *notifyQueue, p pageVisit) (storage.URLRow, storage.VisitRow, error) {
	row, err := b.db.GetRowForURL(ctx, p.url)
	switch {
	case err == nil:
		if !p.transition.CoreIs(transition.Reload) {
			row.VisitCount++
		}
		if p.incrementTyped {
			row.TypedCount++
		}
		if row.LastVisit.Before(p.time) {
			row.LastVisit = p.time
		}
		if p.title != "" {
			row.Title = truncateTitle(p.title)
		}
		// Visits only ever un-hide.
		if !p.hidden {
			row.Hidden = false
		}
		if err := b.db.UpdateURL(ctx, *row); err != nil {
			return storage.URLRow{}, storage.VisitRow{}, fmt.Errorf("update url row: %w", err)
		}
	case errors.Is(err, storage.ErrNotFound):
		row = &storage.URLRow{
			URL:        p.url,
			Title:      truncateTitle(p.title),
			VisitCount: 1,
			LastVisit:  p.time,
			Hidden:     p.hidden,
		}
		if p.incrementTyped {
			row.TypedCount = 1
		}
		if row.ID, err = b.db.AddURL(ctx, *row); err != nil {
			return storage.URLRow{}, storage.VisitRow{}, fmt.Errorf("add url row: %w", err)
		}
	default:
		return storage.URLRow{}, storage.VisitRow{}, fmt.Errorf("look up url row: %w", err)
	}

	var linkID storage.VisitedLinkID
	if p.source != storage.SourceSynced && isVisitedLinkTransition(p.transition) &&
		p.topLevelURL != "" && p.frameURL != "" {
		link, err := b.db.GetVisitedLink(ctx, row.ID, p.topLevelURL, p.frameURL)
		switch {
		case err == nil:
			if err := b.db.UpdateVisitedLinkCount(ctx, link.ID, link.VisitCount+1); err != nil {
				return storage.URLRow{}, storage.VisitRow{}, err
			}
			linkID = link.ID
		case errors.Is(err, storage.ErrNotFound):
			if linkID, err = b.db.AddVisitedLink(ctx, row.ID, p.topLevelURL, p.frameURL, 1); err != nil {
				return storage.URLRow{}, storage.VisitRow{}, err
			}
		default:
			return storage.URLRow{}, storage.VisitRow{}, err
		}
	}

	visit := storage.VisitRow{
		URLID:                        row.ID,
		VisitTime:                    p.time,
		ReferringVisit:               p.referringVisit,
		ExternalReferrerURL:          p.externalReferrer,
		Transition:                   p.transition,
		VisitDuration:                p.duration,
		IncrementedOmniboxTypedScore: p.incrementTyped,
		OpenerVisit:                  p.openerVisit,
		OriginatorCacheGUID:          p.originatorCacheGUID,
		OriginatorVisitID:            p.originatorVisitID,
		OriginatorReferringVisit:     p.originatorReferringVisit,
		OriginatorOpenerVisit:        p.originatorOpenerVisit,
		IsKnownToSync:                p.knownToSync,
		ConsiderForNTPMostVisited:    p.considerForNTP,
		VisitedLinkID:                linkID,
		AppID:                        p.appID,
	}
	if _, err := b.db.AddVisit(ctx, &visit, p.source); err != nil {
		return storage.URLRow{}, storage.VisitRow{}, fmt.Errorf("add visit: %w", err)
	}

	if b.firstRecordedTime.IsZero() || visit.VisitTime.Before(b.firstRecordedTime) {
		b.firstRecordedTime = visit.VisitTime
	}

	urlRow, source, navID := *row, p.source, p.localNavID
	q.add(func() {
		b.metrics.VisitsAdded.WithLabelValues(sourceLabel(source)).Inc()
		b.notifyURLVisited(urlRow, visit, navID)
	})
	return urlRow, visit, nil
}

// AddPage records one navigation, including its redirect chain. A URL that
// may not be stored is skipped without error. When any write fails the
// whole call is undone.
func (b *Backend) AddPage(ctx context.Context, args AddPageArgs) error {
	if err := b.ready(); err != nil {
		return err
	}

	pageURL, err := NormalizeURL(args.URL)
	if err != nil {
		return fmt.Errorf("add page: %w", err)
	}
	if !b.CanAddURL(pageURL) {
		b.logger.Debug("url not eligible for history", "url", pageURL)
		return nil
	}
	referrer := normalizeOptional(args.Referrer)
	redirects := make([]string, 0, len(args.Redirects))
	for _, r := range args.Redirects {
		n, err := NormalizeURL(r)
		if err != nil {
			return fmt.Errorf("add page: redirect hop: %w", err)
		}
		redirects = append(redirects, n)
	}
	if len(redirects) > 0 && redirects[len(redirects)-1] != pageURL {
		return fmt.Errorf("add page: redirect chain ends at %q, not %q", redirects[len(redirects)-1], pageURL)
	}
	visitTime := args.Time
	if visitTime.IsZero() {
		visitTime = b.now()
	}

	var lastVisit storage.VisitID
	err = b.withSavepoint(ctx, "add_page", func(q *notifyQueue) error {
		var err error
		lastVisit, err = b.addPage(ctx, q, args, pageURL, referrer, redirects, visitTime)
		return err
	})
	if err != nil {
		b.logger.Warn("add page failed", "url", pageURL, "error", err)
		return err
	}

	core := args.Transition.Core()
	if core != transition.AutoSubframe && core != transition.ManualSubframe &&
		core != transition.KeywordGenerated && lastVisit != 0 {
		b.tracker.AddVisit(args.ContextID, args.NavEntryID, pageURL, lastVisit)
	}
	b.ScheduleCommit()
	return nil
}

func normalizeOptional(raw string) string {
	if raw == "" {
		return ""
	}
	n, err := NormalizeURL(raw)
	if err != nil {
		return ""
	}
	return n
}

// addPage does the writes of AddPage and returns the id of the final visit.
func (b *Backend) addPage(ctx context.Context, q *notifyQueue, args AddPageArgs,
	pageURL, referrer string, redirects []string, visitTime time.Time) (storage.VisitID, error) {
	lastVisit := b.tracker.GetLastVisit(args.ContextID, args.NavEntryID, referrer)
	externalReferrer := ""
	if referrer != "" && lastVisit == 0 {
		externalReferrer = referrer
	}
	fromVisit := lastVisit

	if b.firstRecordedTime.IsZero() || visitTime.Before(b.firstRecordedTime) {
		b.firstRecordedTime = visitTime
	}

	requested := args.Transition
	keywordGenerated := requested.CoreIs(transition.KeywordGenerated)
	hasRedirects := len(redirects) > 1

	// Teach the omnibox intranet hosts the user reached without typing.
	if requested.IsMainFrame() && !requested.CoreIs(transition.Typed) && !keywordGenerated {
		if b.isUntypedIntranetHost(ctx, pageURL) ||
			(hasRedirects && b.isUntypedIntranetHost(ctx, redirects[0])) {
			requested = requested.WithCore(transition.Typed)
		}
	}

	var openerVisit storage.VisitID
	if args.Opener != nil {
		openerVisit = b.tracker.GetLastVisit(args.Opener.ContextID, args.Opener.NavEntryID,
			normalizeOptional(args.Opener.URL))
	}
	topLevelURL := normalizeOptional(args.TopLevelURL)
	frameURL := referrer

	base := pageVisit{
		time:           visitTime,
		hidden:         args.Hidden,
		source:         args.Source,
		considerForNTP: args.ConsiderForNTPMostVisited,
		localNavID:     args.LocalNavigationID,
		title:          args.Title,
		topLevelURL:    topLevelURL,
		frameURL:       frameURL,
		appID:          args.AppID,
	}

	if !hasRedirects {
		t := requested | transition.ChainStart | transition.ChainEnd
		p := base
		p.url = pageURL
		p.referringVisit = lastVisit
		p.externalReferrer = externalReferrer
		p.transition = t
		p.incrementTyped = transition.IsTypedIncrement(t)
		p.openerVisit = openerVisit
		_, visit, err := b.addPageVisit(ctx, q, p)
		if err != nil {
			return 0, err
		}
		lastVisit = visit.ID

		// Keyword-generated visits duplicate a real navigation.
		if !keywordGenerated && args.ConsiderForNTPMostVisited {
			if _, err := b.AssignSegmentForNewVisit(ctx, pageURL, fromVisit, visit.ID, t, visitTime); err != nil {
				return 0, err
			}
		}
	} else {
		redirectInfo := transition.ChainStart
		var extended []string

		switch {
		case schemeOf(redirects[0]) == "about":
			// A page opened about:blank and scripted a navigation; the real
			// source is unknown.
			redirects = redirects[1:]
		case requested&transition.ClientRedirect != 0:
			redirectInfo = transition.ClientRedirect
			if referrer != "" {
				// The first hop is the referrer, already recorded.
				redirects = redirects[1:]
				if args.DidReplaceEntry {
					if err := b.clearChainEnd(ctx, q, lastVisit); err != nil {
						return 0, err
					}
					extended = b.GetCachedRecentRedirects(referrer)
				}
			}
		}

		transferTyped := false
		if len(redirects) > 1 {
			if transition.IsTypedIncrement(requested) &&
				schemeOf(redirects[0]) == "http" && schemeOf(redirects[1]) == "https" &&
				redirectComparisonForm(redirects[0]) == redirectComparisonForm(redirects[1]) {
				transferTyped = true
			} else if requested.CoreIs(transition.FormSubmit) {
				// The posting page already has its title; the redirect
				// target must not overwrite it.
				redirects = redirects[1:]
			}
		}

		for i, hop := range redirects {
			t := (requested &^ transition.RedirectQualifiers) | redirectInfo
			if i == len(redirects)-1 {
				t |= transition.ChainEnd
			}
			incrementTyped := transition.IsTypedIncrement(t)
			if transferTyped {
				switch i {
				case 0:
					incrementTyped = false
				case 1:
					incrementTyped = true
				}
			}

			p := base
			p.url = hop
			p.referringVisit = lastVisit
			p.transition = t
			p.incrementTyped = incrementTyped
			if i == 0 {
				p.externalReferrer = externalReferrer
				p.openerVisit = openerVisit
			}
			_, visit, err := b.addPageVisit(ctx, q, p)
			if err != nil {
				return 0, err
			}
			lastVisit = visit.ID

			if t.IsChainStart() && args.ConsiderForNTPMostVisited {
				if _, err := b.AssignSegmentForNewVisit(ctx, hop, fromVisit, visit.ID, t, visitTime); err != nil {
					return 0, err
				}
			}
			redirectInfo = transition.ServerRedirect
		}

		extended = append(extended, redirects...)
		q.add(func() { b.redirects.Put(pageURL, extended) })
	}

	added := lastVisit != 0 && lastVisit != fromVisit
	if added && args.ContextAnnotations != nil {
		if err := b.db.PutContextAnnotations(ctx, lastVisit, *args.ContextAnnotations); err != nil {
			return 0, err
		}
	}
	if !added {
		return 0, nil
	}
	return lastVisit, nil
}

// clearChainEnd drops the chain-end qualifier of a visit whose navigation
// entry was replaced by a client redirect.
func (b *Backend) clearChainEnd(ctx context.Context, q *notifyQueue, id storage.VisitID) error {
	if id == 0 {
		return nil
	}
	visit, err := b.db.GetVisit(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !visit.Transition.IsChainEnd() {
		return nil
	}
	visit.Transition &^= transition.ChainEnd
	if err := b.db.UpdateVisit(ctx, visit); err != nil {
		return err
	}
	updated := *visit
	q.add(func() { b.notifyVisitUpdated(updated, VisitUpdateTransition) })
	return nil
}

// UpdateVisitDuration sets the duration of a visit from its end time. The
// duration is never negative.
func (b *Backend) UpdateVisitDuration(ctx context.Context, id storage.VisitID, end time.Time) error {
	if err := b.ready(); err != nil {
		return err
	}
	visit, err := b.db.GetVisit(ctx, id)
	if err != nil {
		return err
	}
	visit.VisitDuration = 0
	if end.After(visit.VisitTime) {
		visit.VisitDuration = end.Sub(visit.VisitTime)
	}
	if err := b.db.UpdateVisit(ctx, visit); err != nil {
		return err
	}
	b.notifyVisitUpdated(*visit, VisitUpdateDuration)
	b.ScheduleCommit()
	return nil
}

// UpdateWithPageEndTime records when the page of a tracked navigation was
// closed.
func (b *Backend) UpdateWithPageEndTime(ctx context.Context, contextID ContextID, navEntryID int, pageURL string, end time.Time) error {
	if err := b.ready(); err != nil {
		return err
	}
	id := b.tracker.GetLastVisit(contextID, navEntryID, normalizeOptional(pageURL))
	if id == 0 {
		return storage.ErrNotFound
	}
	return b.UpdateVisitDuration(ctx, id, end)
}
