package history

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/runnerr0/visitdb/internal/storage"
	"github.com/runnerr0/visitdb/internal/transition"
)

// dayStart is the local midnight starting t's day, the time slot segment
// counters are kept under.
func dayStart(t time.Time) time.Time {
	l := t.Local()
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, time.Local)
}

// GetLastSegmentID walks the referrers of fromVisit and returns the first
// segment found, or 0. A referrer loop yields 0.
func (b *Backend) GetLastSegmentID(ctx context.Context, fromVisit storage.VisitID) (storage.SegmentID, error) {
	seen := make(map[storage.VisitID]bool)
	id := fromVisit
	for steps := 0; id != 0 && steps < maxChainWalk; steps++ {
		row, err := b.db.GetVisit(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		if row.SegmentID != 0 {
			return row.SegmentID, nil
		}
		id = row.ReferringVisit
		if seen[id] {
			b.logger.Warn("loop in referrer chain", "visit", id)
			return 0, nil
		}
		seen[id] = true
	}
	return 0, nil
}

// CalculateSegmentID returns the segment a main-frame visit to pageURL
// belongs to. Typed and auto-bookmark navigations (other than back/forward)
// start a segment named after the URL; everything else inherits the segment
// of its referrer chain.
func (b *Backend) CalculateSegmentID(ctx context.Context, pageURL string, fromVisit storage.VisitID, t transition.Transition) (storage.SegmentID, error) {
	if !t.IsMainFrame() {
		return 0, nil
	}
	startsSegment := (t.CoreIs(transition.Typed) || t.CoreIs(transition.AutoBookmark)) &&
		t&transition.ForwardBack == 0
	if !startsSegment {
		return b.GetLastSegmentID(ctx, fromVisit)
	}

	row, err := b.db.GetRowForURL(ctx, pageURL)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	name := segmentName(pageURL)
	id, err := b.db.SegmentIDForName(ctx, name)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return b.db.CreateSegment(ctx, row.ID, name)
	}
	// Keep the representative URL fresh.
	if err := b.db.UpdateSegmentRepresentationURL(ctx, id, row.ID); err != nil {
		return 0, err
	}
	return id, nil
}

// AssignSegmentForNewVisit sets the segment of a freshly inserted visit and
// counts it for the day of ts.
func (b *Backend) AssignSegmentForNewVisit(ctx context.Context, pageURL string, fromVisit, visit storage.VisitID,
	t transition.Transition, ts time.Time) (storage.SegmentID, error) {
	if !t.IsMainFrame() {
		return 0, nil
	}
	seg, err := b.CalculateSegmentID(ctx, pageURL, fromVisit, t)
	if err != nil || seg == 0 {
		return 0, err
	}
	if err := b.db.SetSegmentID(ctx, visit, seg); err != nil {
		return 0, err
	}
	if err := b.db.AdjustSegmentVisitCount(ctx, seg, dayStart(ts), 1); err != nil {
		return 0, err
	}
	return seg, nil
}

// canAddForeignVisitToSegments decides whether a synced visit counts for
// most visited: this device must be a phone running iOS and the visit must
// come from a phone running Android or iOS.
func (b *Backend) canAddForeignVisitToSegments(v storage.VisitRow) bool {
	if v.OriginatorCacheGUID == "" || !v.ConsiderForNTPMostVisited {
		return false
	}
	foreign, ok := b.syncDevices[v.OriginatorCacheGUID]
	if !ok {
		return false
	}
	local, ok := b.syncDevices[b.localDeviceGUID]
	if !ok {
		return false
	}
	if local.OS != OSIOS || local.FormFactor != FormFactorPhone {
		return false
	}
	return foreign.FormFactor == FormFactorPhone && (foreign.OS == OSAndroid || foreign.OS == OSIOS)
}

// UpdateSegmentForExistingForeignVisit recomputes the segment of a synced
// visit after its referrer or transition changed. The old segment's counter
// is decremented before the new one is incremented.
func (b *Backend) UpdateSegmentForExistingForeignVisit(ctx context.Context, visit *storage.VisitRow) error {
	if !visit.IsForeign() {
		return fmt.Errorf("visit %d is not foreign", visit.ID)
	}
	row, err := b.db.GetURL(ctx, visit.URLID)
	if err != nil {
		b.logger.Warn("foreign visit without url row", "visit", visit.ID, "error", err)
		return nil
	}

	var seg storage.SegmentID
	if b.canAddForeignVisitsToSegments && b.canAddForeignVisitToSegments(*visit) {
		if seg, err = b.CalculateSegmentID(ctx, row.URL, visit.ReferringVisit, visit.Transition); err != nil {
			return err
		}
	}
	if seg == visit.SegmentID {
		return nil
	}
	slot := dayStart(visit.VisitTime)
	if visit.SegmentID != 0 {
		if err := b.db.AdjustSegmentVisitCount(ctx, visit.SegmentID, slot, -1); err != nil {
			return err
		}
	}
	if seg != 0 {
		if err := b.db.AdjustSegmentVisitCount(ctx, seg, slot, 1); err != nil {
			return err
		}
	}
	visit.SegmentID = seg
	return b.db.SetSegmentID(ctx, visit.ID, seg)
}

type segmentScore struct {
	id    storage.SegmentID
	score float64
	last  time.Time
}

// QueryMostVisitedURLs returns up to n URLs ranked by segment usage over
// the scoring window. Every day with visits adds (1 + ln(count)) weighted by
// a recency boost that is 3x today, 2x a week ago and falls towards 1x.
func (b *Backend) QueryMostVisitedURLs(ctx context.Context, n int) ([]MostVisitedURL, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	now := b.now()
	days := b.cfg.Engine.SegmentScoreDays
	if days <= 0 {
		days = 90
	}
	usage, err := b.db.SegmentUsageSince(ctx, dayStart(now).AddDate(0, 0, -days))
	if err != nil {
		return nil, err
	}

	var scores []*segmentScore
	var cur *segmentScore
	for _, u := range usage {
		if u.VisitCount <= 0 {
			continue
		}
		if cur == nil || cur.id != u.SegmentID {
			cur = &segmentScore{id: u.SegmentID}
			scores = append(scores, cur)
		}
		daysAgo := float64(int(now.Sub(u.TimeSlot).Hours() / 24))
		if daysAgo < 0 {
			daysAgo = 0
		}
		dayScore := 1 + math.Log(float64(u.VisitCount))
		boost := 1 + 2*(1/(1+daysAgo/7))
		cur.score += boost * dayScore
		if u.TimeSlot.After(cur.last) {
			cur.last = u.TimeSlot
		}
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].last.After(scores[j].last)
	})

	out := make([]MostVisitedURL, 0, n)
	for _, s := range scores {
		if len(out) == n {
			break
		}
		seg, err := b.db.GetSegment(ctx, s.id)
		if err != nil {
			b.logger.Debug("segment vanished", "segment", s.id, "error", err)
			continue
		}
		row, err := b.db.GetURL(ctx, seg.URLID)
		if err != nil {
			b.logger.Debug("segment without url row", "segment", s.id, "error", err)
			continue
		}
		if b.client != nil && !b.client.IsWebSafe(row.URL) {
			continue
		}
		out = append(out, MostVisitedURL{URL: row.URL, Title: row.Title, Score: s.score})
	}
	return out, nil
}
