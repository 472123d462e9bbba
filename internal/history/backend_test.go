package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/visitdb/internal/config"
	"github.com/runnerr0/visitdb/internal/logging"
	"github.com/runnerr0/visitdb/internal/sequence"
	"github.com/runnerr0/visitdb/internal/storage"
	"github.com/runnerr0/visitdb/internal/transition"
)

func TestInit_Twice(t *testing.T) {
	env := newTestEnv(t)
	assert.ErrorIs(t, env.b.Init(env.ctx), ErrAlreadyInitialized)
	assert.True(t, env.delegate.loaded)
}

func TestOperationsBeforeInit(t *testing.T) {
	b := NewBackend(Params{Path: storage.MemoryPath, Sequence: sequence.NewManual(testStart), Logger: logging.Discard()})
	ctx := context.Background()

	assert.ErrorIs(t, b.AddPage(ctx, AddPageArgs{URL: "https://example.com/", Transition: transition.Link}), ErrNotInitialized)
	_, err := b.QueryHistory(ctx, "", QueryOptions{})
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, b.DeleteAllHistory(ctx), ErrNotInitialized)
	assert.Nil(t, b.DB())
}

func TestInit_OpenFailureNotifiesDelegate(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	delegate := &recordingDelegate{reject: map[string]bool{}}
	b := NewBackend(Params{
		Path:     filepath.Join(blocker, "History"),
		Sequence: sequence.NewManual(testStart),
		Logger:   logging.Discard(),
		Delegate: delegate,
	})
	ctx := context.Background()

	require.Error(t, b.Init(ctx))
	assert.Len(t, delegate.profileErrors, 1)
	assert.False(t, delegate.loaded)
	assert.ErrorIs(t, b.AddPage(ctx, AddPageArgs{URL: "https://example.com/", Transition: transition.Link}), ErrNotInitialized)
	assert.NoError(t, b.Close())
}

func TestClose_StopsEverything(t *testing.T) {
	env := newTestEnv(t)
	env.visit(t, "https://example.com/", testStart)

	require.NoError(t, env.b.Close())
	require.NoError(t, env.b.Close())
	assert.ErrorIs(t, env.b.AddPage(env.ctx, AddPageArgs{URL: "https://example.com/", Transition: transition.Link}), ErrNotInitialized)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.b.metrics.Commits.WithLabelValues("shutdown")))
	assert.Zero(t, env.seq.PendingDelayed())
}

func TestCommit_DebouncesWrites(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		env.visit(t, "https://example.com/", testStart)
	}
	assert.True(t, env.b.CommitPending())

	env.seq.Advance(9 * time.Second)
	assert.Zero(t, testutil.ToFloat64(env.b.metrics.Commits.WithLabelValues("timer")))

	env.seq.Advance(time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.b.metrics.Commits.WithLabelValues("timer")))
	assert.False(t, env.b.CommitPending())
	assert.True(t, env.b.DB().InTransaction())
}

func TestCommit_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "History")
	withPath := func(p *Params) { p.Path = path }

	first := newTestEnv(t, withPath)
	first.visit(t, "https://example.com/", testStart)
	require.NoError(t, first.b.Close())

	second := newTestEnv(t, withPath)
	assert.Equal(t, 1, second.row(t, "https://example.com/").VisitCount)
	assert.True(t, second.b.FirstRecordedTime().Equal(testStart))
}

type stepTask struct {
	name  string
	steps int
	log   *[]string
	done  *[]string
}

func (s *stepTask) RunOnDBSequence(context.Context, *Backend, *storage.DB) TaskStatus {
	s.steps--
	*s.log = append(*s.log, s.name)
	if s.steps > 0 {
		return TaskContinue
	}
	return TaskDone
}

func (s *stepTask) DoneRunOnMainSequence(canceled bool) {
	if canceled {
		*s.done = append(*s.done, s.name+":canceled")
		return
	}
	*s.done = append(*s.done, s.name)
}

func TestProcessDBTask_RunsStepsInTurn(t *testing.T) {
	env := newTestEnv(t)
	var log, done []string
	env.b.ProcessDBTask(&stepTask{name: "a", steps: 2, log: &log, done: &done}, nil, nil)
	env.b.ProcessDBTask(&stepTask{name: "b", steps: 1, log: &log, done: &done}, nil, nil)
	env.b.ProcessDBTask(&stepTask{name: "c", steps: 1, log: &log, done: &done}, nil, func() bool { return true })

	assert.Equal(t, []string{"a"}, log)
	env.seq.RunUntilIdle()

	assert.Equal(t, []string{"a", "a", "b"}, log)
	assert.ElementsMatch(t, []string{"a", "b", "c:canceled"}, done)
	assert.Zero(t, env.b.PendingDBTasks())
	assert.Equal(t, 2.0, testutil.ToFloat64(env.b.metrics.DBTasks.WithLabelValues("done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.b.metrics.DBTasks.WithLabelValues("canceled")))
}

func TestProcessDBTask_DroppedOnClose(t *testing.T) {
	env := newTestEnv(t)
	var log, done []string
	env.b.ProcessDBTask(&stepTask{name: "a", steps: 5, log: &log, done: &done}, nil, nil)
	require.NoError(t, env.b.Close())
	env.seq.RunUntilIdle()

	assert.Equal(t, []string{"a"}, log)
	assert.Equal(t, []string{"a:canceled"}, done)
}

func TestCatastrophicError_RazesOnce(t *testing.T) {
	env := newTestEnv(t)
	env.visit(t, "https://example.com/", testStart)
	env.b.Commit()

	corrupt := sqlite3.Error{Code: sqlite3.ErrCorrupt}
	env.b.databaseError(corrupt)
	env.b.databaseError(corrupt)
	env.b.databaseError(sqlite3.Error{Code: sqlite3.ErrBusy})
	env.seq.RunUntilIdle()

	assert.Equal(t, 1.0, testutil.ToFloat64(env.b.metrics.Razes))
	assert.Len(t, env.delegate.profileErrors, 1)
	assert.Equal(t, 1, env.observer.all)
	assert.False(t, env.hasURL(t, "https://example.com/"))
	assert.True(t, env.b.FirstRecordedTime().IsZero())

	env.visit(t, "https://example.com/again", testStart)
	assert.True(t, env.hasURL(t, "https://example.com/again"))
}

func TestOnMemoryPressure_TrimsRedirectCache(t *testing.T) {
	env := newTestEnv(t)
	for _, u := range []string{"https://example.com/1", "https://example.com/2", "https://example.com/3", "https://example.com/4"} {
		env.addPage(t, AddPageArgs{URL: u, Redirects: []string{"https://example.com/start", u}, Transition: transition.Link})
	}
	require.Equal(t, 4, env.b.redirects.Len())

	env.b.OnMemoryPressure(false)
	assert.Equal(t, 2, env.b.redirects.Len())
	env.b.OnMemoryPressure(true)
	assert.Zero(t, env.b.redirects.Len())
	assert.Zero(t, testutil.ToFloat64(env.b.metrics.RedirectCacheEntries))
}

func TestExclusions_DenylistFromConfig(t *testing.T) {
	env := newTestEnv(t, func(p *Params) {
		cfg := config.DefaultConfig()
		cfg.Capture.DenylistDomains = []string{"intranet.example.com"}
		cfg.Capture.DenylistRegex = []string{`^secret\.`}
		p.Config = cfg
	})
	assert.False(t, env.b.CanAddURL("https://wiki.intranet.example.com/page"))
	assert.False(t, env.b.CanAddURL("https://secret.example.org/"))
	assert.False(t, env.b.CanAddURL("chrome-extension://abc/"))
	assert.True(t, env.b.CanAddURL("https://example.com/"))
}

func TestIntranetHostsCountAsTyped(t *testing.T) {
	env := newTestEnv(t)
	env.addPage(t, AddPageArgs{URL: "http://printer.test/", Transition: transition.Link})

	v := env.visits(t, "http://printer.test/")[0]
	assert.True(t, v.Transition.CoreIs(transition.Typed))
	assert.Equal(t, 1, env.row(t, "http://printer.test/").TypedCount)

	env.addPage(t, AddPageArgs{URL: "http://printer.test/queue", Transition: transition.Link})
	v = env.visits(t, "http://printer.test/queue")[0]
	assert.True(t, v.Transition.CoreIs(transition.Link))
}

func TestIntranetHostWithPortCountsAsTypedOnce(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		env.addPage(t, AddPageArgs{URL: "http://jenkins:8080/", Transition: transition.Link})
		env.seq.Advance(time.Second)
	}
	assert.Equal(t, 1, env.row(t, "http://jenkins:8080/").TypedCount)

	env.addPage(t, AddPageArgs{URL: "http://jenkins/", Transition: transition.Link})
	assert.Zero(t, env.row(t, "http://jenkins/").TypedCount)
}
