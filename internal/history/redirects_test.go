package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/visitdb/internal/config"
	"github.com/runnerr0/visitdb/internal/storage"
	"github.com/runnerr0/visitdb/internal/transition"
)

func TestQueryRedirects_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.addPage(t, AddPageArgs{
		URL:        "https://example.com/c",
		Redirects:  []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"},
		Transition: transition.Link,
	})

	from, err := env.b.QueryRedirectsFrom(env.ctx, "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/b", "https://example.com/c"}, from)

	to, err := env.b.QueryRedirectsTo(env.ctx, "https://example.com/c")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/b", "https://example.com/a"}, to)

	c := env.visits(t, "https://example.com/c")[0]
	chain, err := env.b.GetRedirectChain(env.ctx, c)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, env.visits(t, "https://example.com/a")[0].ID, chain[0].ID)

	start, err := env.b.GetRedirectChainStart(env.ctx, c)
	require.NoError(t, err)
	assert.Equal(t, chain[0].ID, start.ID)
}

func TestQueryRedirects_UnknownURL(t *testing.T) {
	env := newTestEnv(t)
	from, err := env.b.QueryRedirectsFrom(env.ctx, "https://example.com/nowhere")
	require.NoError(t, err)
	assert.Empty(t, from)
}

// loopedVisits stores two redirect visits that refer to each other, which a
// healthy database never contains.
func loopedVisits(t *testing.T, env *testEnv) (storage.VisitRow, storage.VisitRow) {
	t.Helper()
	db := env.b.DB()
	urlID, err := db.AddURL(env.ctx, storage.URLRow{URL: "https://example.com/loop", VisitCount: 2, LastVisit: testStart})
	require.NoError(t, err)

	a := storage.VisitRow{URLID: urlID, VisitTime: testStart, Transition: transition.Link | transition.ServerRedirect}
	_, err = db.AddVisit(env.ctx, &a, storage.SourceBrowsed)
	require.NoError(t, err)
	b := storage.VisitRow{URLID: urlID, VisitTime: testStart.Add(time.Second), ReferringVisit: a.ID,
		Transition: transition.Link | transition.ServerRedirect | transition.ChainEnd}
	_, err = db.AddVisit(env.ctx, &b, storage.SourceBrowsed)
	require.NoError(t, err)

	a.ReferringVisit = b.ID
	require.NoError(t, db.UpdateVisit(env.ctx, &a))
	return a, b
}

func TestRedirectWalks_TerminateOnLoops(t *testing.T) {
	env := newTestEnv(t)
	_, b := loopedVisits(t, env)

	chain, err := env.b.GetRedirectChain(env.ctx, b)
	require.NoError(t, err)
	assert.Len(t, chain, 2)

	seg, err := env.b.GetLastSegmentID(env.ctx, b.ID)
	require.NoError(t, err)
	assert.Zero(t, seg)

	to, err := env.b.QueryRedirectsTo(env.ctx, "https://example.com/loop")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(to), 2)
}

func TestSegments_LinkInheritsReferrerSegment(t *testing.T) {
	env := newTestEnv(t)
	env.addPage(t, AddPageArgs{URL: "https://example.com/", ContextID: 1, NavEntryID: 1,
		Transition: transition.Typed, ConsiderForNTPMostVisited: true})
	env.addPage(t, AddPageArgs{URL: "https://example.com/article", ContextID: 1, NavEntryID: 2,
		Referrer: "https://example.com/", Transition: transition.Link, ConsiderForNTPMostVisited: true})

	home := env.visits(t, "https://example.com/")[0]
	article := env.visits(t, "https://example.com/article")[0]
	require.NotZero(t, home.SegmentID)
	assert.Equal(t, home.SegmentID, article.SegmentID)
	assert.Equal(t, 2, segmentTotal(t, env.b.DB(), home.SegmentID))
}

func TestSegments_WWWSharesSegment(t *testing.T) {
	env := newTestEnv(t)
	env.addPage(t, AddPageArgs{URL: "https://www.example.com/", Transition: transition.Typed, ConsiderForNTPMostVisited: true})
	env.addPage(t, AddPageArgs{URL: "http://example.com/", Transition: transition.Typed, ConsiderForNTPMostVisited: true})

	a := env.visits(t, "https://www.example.com/")[0]
	b := env.visits(t, "http://example.com/")[0]
	require.NotZero(t, a.SegmentID)
	assert.Equal(t, a.SegmentID, b.SegmentID)
}

func TestQueryMostVisitedURLs_RanksByUsage(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		env.addPage(t, AddPageArgs{URL: "https://news.example.com/", Transition: transition.Typed, ConsiderForNTPMostVisited: true})
	}
	env.addPage(t, AddPageArgs{URL: "https://mail.example.com/", Transition: transition.Typed, ConsiderForNTPMostVisited: true})
	env.addPage(t, AddPageArgs{URL: "https://quiet.example.com/", Transition: transition.Typed})

	got, err := env.b.QueryMostVisitedURLs(env.ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "https://news.example.com/", got[0].URL)
	assert.Equal(t, "https://mail.example.com/", got[1].URL)
	assert.Greater(t, got[0].Score, got[1].Score)

	one, err := env.b.QueryMostVisitedURLs(env.ctx, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func foreignSegmentEnv(t *testing.T) *testEnv {
	env := newTestEnv(t, func(p *Params) {
		cfg := config.DefaultConfig()
		cfg.Sync.LocalDeviceGUID = "local-phone"
		cfg.Sync.OS = OSIOS
		cfg.Sync.FormFactor = FormFactorPhone
		p.Config = cfg
	})
	env.b.SetSyncDeviceInfo(map[string]DeviceInfo{
		"remote-phone":  {OS: OSAndroid, FormFactor: FormFactorPhone},
		"remote-laptop": {OS: "windows", FormFactor: "desktop"},
	})
	env.b.SetCanAddForeignVisitsToSegments(true)
	return env
}

func foreignVisit(guid string, id storage.VisitID, tr transition.Transition, at time.Time) storage.VisitRow {
	return storage.VisitRow{
		VisitTime:                 at,
		Transition:                tr | transition.ChainStart | transition.ChainEnd,
		OriginatorCacheGUID:       guid,
		OriginatorVisitID:         id,
		ConsiderForNTPMostVisited: true,
	}
}

func TestSegments_ForeignVisitUpdateKeepsCountsBalanced(t *testing.T) {
	env := foreignSegmentEnv(t)
	u := "https://example.com/"

	id, err := env.b.AddSyncedVisit(env.ctx, u, "Example", false,
		foreignVisit("remote-phone", 1, transition.Typed, testStart), nil, nil)
	require.NoError(t, err)
	v, err := env.b.GetVisitByID(env.ctx, id)
	require.NoError(t, err)
	seg := v.SegmentID
	require.NotZero(t, seg)
	assert.Equal(t, 1, segmentTotal(t, env.b.DB(), seg))

	_, err = env.b.UpdateSyncedVisit(env.ctx, u, "Example", false,
		foreignVisit("remote-phone", 1, transition.Link, testStart), nil, nil)
	require.NoError(t, err)

	v, err = env.b.GetVisitByID(env.ctx, id)
	require.NoError(t, err)
	assert.Zero(t, v.SegmentID)
	assert.Equal(t, 0, segmentTotal(t, env.b.DB(), seg))
}

func TestSegments_ForeignDesktopVisitNotCounted(t *testing.T) {
	env := foreignSegmentEnv(t)
	id, err := env.b.AddSyncedVisit(env.ctx, "https://example.com/", "", false,
		foreignVisit("remote-laptop", 1, transition.Typed, testStart), nil, nil)
	require.NoError(t, err)

	v, err := env.b.GetVisitByID(env.ctx, id)
	require.NoError(t, err)
	assert.Zero(t, v.SegmentID)
}
