package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runnerr0/visitdb/internal/config"
	"github.com/runnerr0/visitdb/internal/logging"
	"github.com/runnerr0/visitdb/internal/metrics"
	"github.com/runnerr0/visitdb/internal/sequence"
	"github.com/runnerr0/visitdb/internal/storage"
	"github.com/runnerr0/visitdb/internal/transition"
)

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)

type recordingDelegate struct {
	NopDelegate
	reject        map[string]bool
	visited       []storage.VisitRow
	modified      [][]storage.URLRow
	deletions     []DeletionInfo
	profileErrors []error
	termsUpdated  []string
	termsDeleted  []storage.URLID
	loaded        bool
}

func (d *recordingDelegate) CanAddURL(u string) bool { return !d.reject[u] }

func (d *recordingDelegate) NotifyProfileError(err error, _ string) {
	d.profileErrors = append(d.profileErrors, err)
}

func (d *recordingDelegate) NotifyURLVisited(_ storage.URLRow, v storage.VisitRow, _ int64) {
	d.visited = append(d.visited, v)
}

func (d *recordingDelegate) NotifyURLsModified(rows []storage.URLRow) {
	d.modified = append(d.modified, rows)
}

func (d *recordingDelegate) NotifyDeletions(info DeletionInfo) {
	d.deletions = append(d.deletions, info)
}

func (d *recordingDelegate) NotifyKeywordSearchTermUpdated(_ storage.URLRow, _ storage.KeywordID, term string) {
	d.termsUpdated = append(d.termsUpdated, term)
}

func (d *recordingDelegate) NotifyKeywordSearchTermDeleted(id storage.URLID) {
	d.termsDeleted = append(d.termsDeleted, id)
}

func (d *recordingDelegate) DBLoaded() { d.loaded = true }

type pinningClient struct {
	pinned map[string]string
}

func (c *pinningClient) IsPinnedURL(u string) bool {
	_, ok := c.pinned[u]
	return ok
}

func (c *pinningClient) GetPinnedURLs() []URLAndTitle {
	var out []URLAndTitle
	for u, title := range c.pinned {
		out = append(out, URLAndTitle{URL: u, Title: title})
	}
	return out
}

func (c *pinningClient) IsWebSafe(string) bool { return true }

type recordingObserver struct {
	visited []storage.VisitRow
	updated []VisitUpdateReason
	deleted []storage.VisitID
	all     int
}

func (o *recordingObserver) OnURLVisited(_ storage.URLRow, v storage.VisitRow) {
	o.visited = append(o.visited, v)
}
func (o *recordingObserver) OnURLsModified([]storage.URLRow, bool) {}
func (o *recordingObserver) OnURLsDeleted(all, _ bool, _ []storage.URLRow, _ []string) {
	if all {
		o.all++
	}
}
func (o *recordingObserver) OnVisitUpdated(_ storage.VisitRow, r VisitUpdateReason) {
	o.updated = append(o.updated, r)
}
func (o *recordingObserver) OnVisitDeleted(v storage.VisitRow) { o.deleted = append(o.deleted, v.ID) }

type testEnv struct {
	ctx      context.Context
	b        *Backend
	seq      *sequence.Manual
	delegate *recordingDelegate
	client   *pinningClient
	observer *recordingObserver
}

// newTestEnv starts a backend on an in-memory database driven by a manual
// sequence. opts may adjust the parameters before the backend is built.
func newTestEnv(t *testing.T, opts ...func(*Params)) *testEnv {
	t.Helper()
	seq := sequence.NewManual(testStart)
	env := &testEnv{
		ctx:      context.Background(),
		seq:      seq,
		delegate: &recordingDelegate{reject: map[string]bool{}},
		client:   &pinningClient{pinned: map[string]string{}},
		observer: &recordingObserver{},
	}
	p := Params{
		Path:     storage.MemoryPath,
		Config:   config.DefaultConfig(),
		Logger:   logging.Discard(),
		Metrics:  metrics.New(),
		Sequence: seq,
		Delegate: env.delegate,
		Client:   env.client,
		Now:      seq.Now,
	}
	for _, o := range opts {
		o(&p)
	}
	env.b = NewBackend(p)
	require.NoError(t, env.b.Init(env.ctx))
	env.b.AddObserver(env.observer)
	t.Cleanup(func() { env.b.Close() })
	return env
}

func (e *testEnv) addPage(t *testing.T, args AddPageArgs) {
	t.Helper()
	require.NoError(t, e.b.AddPage(e.ctx, args))
}

// visit records a plain link navigation to u at at.
func (e *testEnv) visit(t *testing.T, u string, at time.Time) {
	t.Helper()
	e.addPage(t, AddPageArgs{URL: u, Time: at, Transition: transition.Link, ConsiderForNTPMostVisited: true})
}

func (e *testEnv) row(t *testing.T, u string) *storage.URLRow {
	t.Helper()
	row, err := e.b.GetURL(e.ctx, u)
	require.NoError(t, err)
	return row
}

func (e *testEnv) visits(t *testing.T, u string) []storage.VisitRow {
	t.Helper()
	visits, err := e.b.GetVisitsForURL(e.ctx, e.row(t, u).ID)
	require.NoError(t, err)
	return visits
}

func (e *testEnv) hasURL(t *testing.T, u string) bool {
	t.Helper()
	_, err := e.b.GetURL(e.ctx, u)
	if err == nil {
		return true
	}
	require.ErrorIs(t, err, storage.ErrNotFound)
	return false
}

func segmentTotal(t *testing.T, db *storage.DB, seg storage.SegmentID) int {
	t.Helper()
	usage, err := db.SegmentUsageFor(context.Background(), seg)
	require.NoError(t, err)
	total := 0
	for _, u := range usage {
		total += u.VisitCount
	}
	return total
}
