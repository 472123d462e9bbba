package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/visitdb/internal/transition"
)

func addTestVisit(t *testing.T, db *DB, v VisitRow) VisitRow {
	t.Helper()
	_, err := db.AddVisit(context.Background(), &v, SourceBrowsed)
	require.NoError(t, err)
	return v
}

func TestVisit_AddGetRoundtrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	urlID := addTestURL(t, db, "https://example.com/")
	ts := time.Date(2024, 1, 2, 3, 4, 5, 6000, time.UTC)

	in := VisitRow{
		URLID:                     urlID,
		VisitTime:                 ts,
		Transition:                transition.Typed | transition.ChainStart | transition.ChainEnd | transition.ServerRedirect,
		VisitDuration:             1500 * time.Millisecond,
		OriginatorCacheGUID:       "remote",
		OriginatorVisitID:         9,
		ConsiderForNTPMostVisited: true,
		AppID:                     "app",
	}
	id, err := db.AddVisit(ctx, &in, SourceSynced)
	require.NoError(t, err)
	assert.Equal(t, id, in.ID)

	got, err := db.GetVisit(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.VisitTime.Equal(ts))
	assert.Equal(t, in.Transition, got.Transition)
	assert.Equal(t, 1500*time.Millisecond, got.VisitDuration)
	assert.True(t, got.IsForeign())
	assert.True(t, got.ConsiderForNTPMostVisited)
	assert.Equal(t, "app", got.AppID)

	src, err := db.GetVisitSource(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, SourceSynced, src)

	byOrigin, err := db.VisitByOriginator(ctx, "remote", 9)
	require.NoError(t, err)
	assert.Equal(t, id, byOrigin.ID)
}

func TestVisit_DeleteRepairsReferrers(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	urlID := addTestURL(t, db, "https://example.com/")
	now := time.Now()

	a := addTestVisit(t, db, VisitRow{URLID: urlID, VisitTime: now})
	b := addTestVisit(t, db, VisitRow{URLID: urlID, VisitTime: now, ReferringVisit: a.ID})
	c := addTestVisit(t, db, VisitRow{URLID: urlID, VisitTime: now, ReferringVisit: b.ID})

	require.NoError(t, db.DeleteVisit(ctx, b))

	got, err := db.GetVisit(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ReferringVisit)

	_, err = db.GetVisit(ctx, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVisit_RangeQueries(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	urlID := addTestURL(t, db, "https://example.com/")
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		addTestVisit(t, db, VisitRow{URLID: urlID, VisitTime: base.Add(time.Duration(i) * time.Hour)})
	}

	inRange, err := db.VisitsInRange(ctx, base.Add(time.Hour), base.Add(3*time.Hour), 0, "")
	require.NoError(t, err)
	require.Len(t, inRange, 2)
	assert.True(t, inRange[0].VisitTime.After(inRange[1].VisitTime), "newest first")

	open, err := db.VisitsInRange(ctx, time.Time{}, time.Time{}, 3, "")
	require.NoError(t, err)
	assert.Len(t, open, 3)

	older, err := db.VisitsOlderThan(ctx, base.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, older, 2)

	atTime, err := db.VisitsAtTime(ctx, base.Add(4*time.Hour))
	require.NoError(t, err)
	assert.Len(t, atTime, 1)

	start, err := db.StartDate(ctx)
	require.NoError(t, err)
	assert.True(t, start.Equal(base))

	recent, err := db.MostRecentVisitForURL(ctx, urlID)
	require.NoError(t, err)
	assert.True(t, recent.VisitTime.Equal(base.Add(4*time.Hour)))
}

func TestVisit_ForeignVisitsUpTo(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	urlID := addTestURL(t, db, "https://example.com/")
	now := time.Now()

	var foreign []VisitID
	for i := 0; i < 4; i++ {
		addTestVisit(t, db, VisitRow{URLID: urlID, VisitTime: now})
		v := addTestVisit(t, db, VisitRow{URLID: urlID, VisitTime: now, OriginatorCacheGUID: "dev", OriginatorVisitID: VisitID(i + 1)})
		foreign = append(foreign, v.ID)
	}

	got, err := db.ForeignVisitsUpTo(ctx, foreign[2], 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, foreign[0], got[0].ID)
	assert.Equal(t, foreign[1], got[1].ID)

	got, err = db.ForeignVisitsUpTo(ctx, foreign[2], 100)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	maxID, err := db.MaxVisitID(ctx)
	require.NoError(t, err)
	assert.Equal(t, foreign[3], maxID)

	n, err := db.VisitCount(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestVisit_RedirectsFromVisit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	urlID := addTestURL(t, db, "https://example.com/")
	now := time.Now()

	root := addTestVisit(t, db, VisitRow{URLID: urlID, VisitTime: now})
	addTestVisit(t, db, VisitRow{URLID: urlID, VisitTime: now, ReferringVisit: root.ID, Transition: transition.Link})
	redirect := addTestVisit(t, db, VisitRow{URLID: urlID, VisitTime: now, ReferringVisit: root.ID,
		Transition: transition.Link | transition.ServerRedirect})

	got, err := db.RedirectsFromVisit(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, redirect.ID, got[0].ID)

	all, err := db.VisitsReferredBy(ctx, root.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestVisit_UpdateAndKnownToSync(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	urlID := addTestURL(t, db, "https://example.com/")

	v := addTestVisit(t, db, VisitRow{URLID: urlID, VisitTime: time.Now(), IsKnownToSync: true})
	v.SegmentID = 5
	require.NoError(t, db.UpdateVisit(ctx, &v))

	require.NoError(t, db.ClearKnownToSync(ctx))
	got, err := db.GetVisit(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, SegmentID(5), got.SegmentID)
	assert.False(t, got.IsKnownToSync)

	withSeg, err := db.VisitsWithSegment(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, withSeg, 1)
}
