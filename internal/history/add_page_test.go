package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/visitdb/internal/storage"
	"github.com/runnerr0/visitdb/internal/transition"
)

func TestAddPage_TypedThenLink(t *testing.T) {
	env := newTestEnv(t)
	env.addPage(t, AddPageArgs{URL: "http://a.test", Transition: transition.Typed, ConsiderForNTPMostVisited: true})
	env.seq.Advance(time.Minute)
	env.addPage(t, AddPageArgs{URL: "http://a.test", Transition: transition.Link, ConsiderForNTPMostVisited: true})

	row := env.row(t, "http://a.test/")
	assert.Equal(t, 2, row.VisitCount)
	assert.Equal(t, 1, row.TypedCount)

	visits := env.visits(t, "http://a.test/")
	require.Len(t, visits, 2)
	seg := visits[0].SegmentID
	require.NotZero(t, seg)
	assert.Zero(t, visits[1].SegmentID)

	usage, err := env.b.DB().SegmentUsageFor(env.ctx, seg)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, 1, usage[0].VisitCount)
	assert.True(t, usage[0].TimeSlot.Equal(dayStart(testStart)))
}

func TestAddPage_HTTPSUpgradeMovesTypedCredit(t *testing.T) {
	env := newTestEnv(t)
	env.addPage(t, AddPageArgs{
		URL:        "https://a.test/",
		Redirects:  []string{"http://a.test/", "https://a.test/"},
		Transition: transition.Typed,
	})

	assert.Equal(t, 0, env.row(t, "http://a.test/").TypedCount)
	assert.Equal(t, 1, env.row(t, "https://a.test/").TypedCount)
}

func TestAddPage_HiddenOnlyEverClears(t *testing.T) {
	env := newTestEnv(t)
	u := "https://example.com/frame"

	env.addPage(t, AddPageArgs{URL: u, Transition: transition.Link, Hidden: true})
	assert.True(t, env.row(t, u).Hidden)

	env.addPage(t, AddPageArgs{URL: u, Transition: transition.Link})
	assert.False(t, env.row(t, u).Hidden)

	env.addPage(t, AddPageArgs{URL: u, Transition: transition.Link, Hidden: true})
	assert.False(t, env.row(t, u).Hidden)
}

func TestAddPage_ReloadDoesNotCountAsVisit(t *testing.T) {
	env := newTestEnv(t)
	u := "https://example.com/"
	env.addPage(t, AddPageArgs{URL: u, Transition: transition.Link})
	env.addPage(t, AddPageArgs{URL: u, Transition: transition.Reload})

	assert.Equal(t, 1, env.row(t, u).VisitCount)
	assert.Len(t, env.visits(t, u), 2)
}

func TestAddPage_RedirectChainTransitions(t *testing.T) {
	env := newTestEnv(t)
	env.addPage(t, AddPageArgs{
		URL:        "https://example.com/c",
		Redirects:  []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"},
		Transition: transition.Link,
	})

	a := env.visits(t, "https://example.com/a")[0]
	b := env.visits(t, "https://example.com/b")[0]
	c := env.visits(t, "https://example.com/c")[0]

	assert.True(t, a.Transition.IsChainStart())
	assert.False(t, a.Transition.IsChainEnd())
	assert.True(t, b.Transition.Has(transition.ServerRedirect))
	assert.True(t, c.Transition.IsChainEnd())
	assert.Equal(t, a.ID, b.ReferringVisit)
	assert.Equal(t, b.ID, c.ReferringVisit)

	assert.Equal(t, []string{
		"https://example.com/a", "https://example.com/b", "https://example.com/c",
	}, env.b.GetCachedRecentRedirects("https://example.com/c"))
}

func TestAddPage_ClientRedirectReplacingEntryExtendsChain(t *testing.T) {
	env := newTestEnv(t)
	env.addPage(t, AddPageArgs{
		URL:        "https://example.com/start",
		ContextID:  1,
		NavEntryID: 1,
		Transition: transition.Link,
	})
	env.addPage(t, AddPageArgs{
		URL:             "https://example.com/landing",
		ContextID:       1,
		NavEntryID:      1,
		Referrer:        "https://example.com/start",
		Redirects:       []string{"https://example.com/start", "https://example.com/landing"},
		Transition:      transition.Link | transition.ClientRedirect,
		DidReplaceEntry: true,
	})

	start := env.visits(t, "https://example.com/start")
	require.Len(t, start, 1, "the referrer must not be recorded twice")
	assert.False(t, start[0].Transition.IsChainEnd())

	landing := env.visits(t, "https://example.com/landing")[0]
	assert.Equal(t, start[0].ID, landing.ReferringVisit)
	assert.True(t, landing.Transition.Has(transition.ClientRedirect))
	assert.True(t, landing.Transition.IsChainEnd())

	assert.Equal(t, []string{"https://example.com/start", "https://example.com/landing"},
		env.b.GetCachedRecentRedirects("https://example.com/landing"))
	assert.Contains(t, env.observer.updated, VisitUpdateTransition)
}

func TestAddPage_ReferrerResolvedThroughTracker(t *testing.T) {
	env := newTestEnv(t)
	env.addPage(t, AddPageArgs{URL: "https://example.com/", ContextID: 3, NavEntryID: 1, Transition: transition.Typed})
	env.addPage(t, AddPageArgs{
		URL:        "https://example.com/next",
		ContextID:  3,
		NavEntryID: 2,
		Referrer:   "https://example.com/",
		Transition: transition.Link,
	})
	env.addPage(t, AddPageArgs{
		URL:        "https://example.com/other",
		ContextID:  4,
		NavEntryID: 1,
		Referrer:   "https://elsewhere.example.org/",
		Transition: transition.Link,
	})

	first := env.visits(t, "https://example.com/")[0]
	next := env.visits(t, "https://example.com/next")[0]
	assert.Equal(t, first.ID, next.ReferringVisit)
	assert.Empty(t, next.ExternalReferrerURL)

	other := env.visits(t, "https://example.com/other")[0]
	assert.Zero(t, other.ReferringVisit)
	assert.Equal(t, "https://elsewhere.example.org/", other.ExternalReferrerURL)
}

func TestAddPage_RejectedURLIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	env.delegate.reject["https://example.com/secret"] = true

	require.NoError(t, env.b.AddPage(env.ctx, AddPageArgs{URL: "https://example.com/secret", Transition: transition.Link}))
	require.NoError(t, env.b.AddPage(env.ctx, AddPageArgs{URL: "https://www.chase.com/", Transition: transition.Link}))
	require.NoError(t, env.b.AddPage(env.ctx, AddPageArgs{URL: "javascript:void(0)", Transition: transition.Link}))

	assert.False(t, env.hasURL(t, "https://example.com/secret"))
	assert.False(t, env.hasURL(t, "https://www.chase.com/"))
	assert.Empty(t, env.delegate.visited)
}

func TestAddPage_RedirectChainMustEndAtURL(t *testing.T) {
	env := newTestEnv(t)
	err := env.b.AddPage(env.ctx, AddPageArgs{
		URL:        "https://example.com/c",
		Redirects:  []string{"https://example.com/a", "https://example.com/b"},
		Transition: transition.Link,
	})
	require.Error(t, err)
	assert.False(t, env.hasURL(t, "https://example.com/a"))
}

func TestAddPage_NotifiesAndSchedulesCommit(t *testing.T) {
	env := newTestEnv(t)
	env.visit(t, "https://example.com/", testStart)

	require.Len(t, env.delegate.visited, 1)
	require.Len(t, env.observer.visited, 1)
	assert.True(t, env.b.CommitPending())
}

func TestAddPage_LowersFirstRecordedTime(t *testing.T) {
	env := newTestEnv(t)
	env.visit(t, "https://example.com/new", testStart)
	old := testStart.Add(-72 * time.Hour)
	env.visit(t, "https://example.com/old", old)

	assert.True(t, env.b.FirstRecordedTime().Equal(old))
}

func TestAddPage_StoresContextAnnotationsAndOpener(t *testing.T) {
	env := newTestEnv(t)
	env.addPage(t, AddPageArgs{URL: "https://example.com/opener", ContextID: 1, NavEntryID: 1, Transition: transition.Link})
	env.addPage(t, AddPageArgs{
		URL:                "https://example.com/popup",
		ContextID:          2,
		NavEntryID:         1,
		Transition:         transition.Link,
		Opener:             &Opener{ContextID: 1, NavEntryID: 1, URL: "https://example.com/opener"},
		ContextAnnotations: &storage.ContextAnnotations{TabID: 2, ResponseCode: 200},
	})

	opener := env.visits(t, "https://example.com/opener")[0]
	popup := env.visits(t, "https://example.com/popup")[0]
	assert.Equal(t, opener.ID, popup.OpenerVisit)

	ann, err := env.b.DB().GetContextAnnotations(env.ctx, popup.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ann.TabID)
	assert.Equal(t, 200, ann.ResponseCode)
}

func TestAddPage_VisitedLinksNeedTopLevelAndFrame(t *testing.T) {
	env := newTestEnv(t)
	args := AddPageArgs{
		URL:         "https://example.com/target",
		Referrer:    "https://example.com/frame",
		TopLevelURL: "https://example.com/top",
		Transition:  transition.Link,
	}
	env.addPage(t, args)
	env.addPage(t, args)

	visits := env.visits(t, "https://example.com/target")
	require.Len(t, visits, 2)
	require.NotZero(t, visits[0].VisitedLinkID)
	assert.Equal(t, visits[0].VisitedLinkID, visits[1].VisitedLinkID)

	link, err := env.b.DB().GetVisitedLinkByID(env.ctx, visits[0].VisitedLinkID)
	require.NoError(t, err)
	assert.Equal(t, 2, link.VisitCount)

	args.URL, args.TopLevelURL = "https://example.com/untracked", ""
	env.addPage(t, args)
	assert.Zero(t, env.visits(t, "https://example.com/untracked")[0].VisitedLinkID)
}

func TestUpdateVisitDuration_NeverNegative(t *testing.T) {
	env := newTestEnv(t)
	env.addPage(t, AddPageArgs{URL: "https://example.com/", ContextID: 1, NavEntryID: 1, Transition: transition.Link})
	v := env.visits(t, "https://example.com/")[0]

	require.NoError(t, env.b.UpdateWithPageEndTime(env.ctx, 1, 1, "https://example.com/", testStart.Add(90*time.Second)))
	got, err := env.b.GetVisitByID(env.ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, got.VisitDuration)

	require.NoError(t, env.b.UpdateVisitDuration(env.ctx, v.ID, testStart.Add(-time.Hour)))
	got, err = env.b.GetVisitByID(env.ctx, v.ID)
	require.NoError(t, err)
	assert.Zero(t, got.VisitDuration)

	assert.ErrorIs(t, env.b.UpdateWithPageEndTime(env.ctx, 9, 1, "https://example.com/", testStart), storage.ErrNotFound)
}

func TestAddPage_FailedWriteLeavesStateUnchanged(t *testing.T) {
	env := newTestEnv(t)
	env.visit(t, "https://example.com/", testStart)
	before := env.b.FirstRecordedTime()

	require.NoError(t, env.b.DB().Exec(env.ctx,
		`CREATE TEMP TRIGGER fail_visits BEFORE INSERT ON visits BEGIN SELECT RAISE(ABORT, 'disk says no'); END`))
	err := env.b.AddPage(env.ctx, AddPageArgs{
		URL:        "https://example.com/old",
		Time:       testStart.Add(-72 * time.Hour),
		Transition: transition.Link,
	})
	require.Error(t, err)
	require.NoError(t, env.b.DB().Exec(env.ctx, `DROP TRIGGER fail_visits`))

	assert.True(t, env.b.FirstRecordedTime().Equal(before))
	assert.False(t, env.hasURL(t, "https://example.com/old"))
	assert.Len(t, env.visits(t, "https://example.com/"), 1)
}
