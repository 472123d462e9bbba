// Package history records and queries browsing history on top of the
// storage package.
//
// A Backend owns the database, a long-lived transaction that is committed
// on a debounce timer, and the in-memory caches that speed up recording
// (the visit tracker and the redirect cache). It is not safe for concurrent
// use: every call must come from the Sequence it was created with. Service
// wraps a Backend in its own goroutine for callers that need that.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/runnerr0/visitdb/internal/config"
	"github.com/runnerr0/visitdb/internal/metrics"
	"github.com/runnerr0/visitdb/internal/sequence"
	"github.com/runnerr0/visitdb/internal/storage"
)

var (
	// ErrNotInitialized is returned by every operation when Init has not
	// run or the database could not be opened.
	ErrNotInitialized = errors.New("history backend not initialized")
	// ErrAlreadyInitialized is returned by a second Init.
	ErrAlreadyInitialized = errors.New("history backend already initialized")
)

// Params configure NewBackend. Only Path and Sequence are required.
type Params struct {
	// Path of the database file, or storage.MemoryPath.
	Path     string
	Config   *config.Config
	Logger   *slog.Logger
	Metrics  *metrics.History
	Sequence sequence.Sequence
	Delegate Delegate
	Client   Client
	Favicons FaviconBackend
	// Now overrides the clock. Tests pass the virtual clock of a
	// sequence.Manual.
	Now func() time.Time
}

// Backend is the history engine.
type Backend struct {
	path     string
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.History
	seq      sequence.Sequence
	now      func() time.Time
	delegate Delegate
	client   Client
	favicons FaviconBackend

	observers []Observer

	initialized bool
	closed      bool
	db          *storage.DB
	exclusions  *storage.ExclusionRules

	tracker   *VisitTracker
	redirects *RedirectCache
	expirer   *expirer

	// firstRecordedTime is the time of the oldest visit, zero when empty.
	firstRecordedTime time.Time

	cancelCommit  func()
	dbTasks       []*queuedTask
	scheduledRaze bool

	localDeviceGUID               string
	syncDevices                   map[string]DeviceInfo
	canAddForeignVisitsToSegments bool
}

// NewBackend creates a backend. Call Init before anything else.
func NewBackend(p Params) *Backend {
	cfg := p.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := p.Metrics
	if m == nil {
		m = metrics.New()
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	delegate := p.Delegate
	if delegate == nil {
		delegate = NopDelegate{}
	}

	b := &Backend{
		path:                          p.Path,
		cfg:                           cfg,
		logger:                        logger.With("component", "history"),
		metrics:                       m,
		seq:                           p.Sequence,
		now:                           now,
		delegate:                      delegate,
		client:                        p.Client,
		favicons:                      p.Favicons,
		tracker:                       NewVisitTracker(cfg.Engine.VisitTrackerSize),
		redirects:                     NewRedirectCache(cfg.Engine.RedirectCacheSize),
		localDeviceGUID:               cfg.Sync.LocalDeviceGUID,
		syncDevices:                   make(map[string]DeviceInfo),
		canAddForeignVisitsToSegments: cfg.Sync.AddForeignVisitsToSegments,
	}
	b.redirects.onResize = func(n int) { m.RedirectCacheEntries.Set(float64(n)) }
	if b.localDeviceGUID != "" {
		b.syncDevices[b.localDeviceGUID] = DeviceInfo{OS: cfg.Sync.OS, FormFactor: cfg.Sync.FormFactor}
	}
	b.expirer = newExpirer(b)
	return b
}

// Init opens the database and starts background maintenance. When the
// database cannot be opened the delegate is told, the error is returned and
// the backend stays usable with every operation failing with
// ErrNotInitialized.
func (b *Backend) Init(ctx context.Context) error {
	if b.initialized {
		return ErrAlreadyInitialized
	}
	b.initialized = true

	db, err := storage.Open(ctx, b.path, storage.Options{
		JournalMode: b.cfg.Storage.SQLiteJournalMode,
		Logger:      b.logger,
	})
	if err != nil {
		b.logger.Error("opening history database failed", "path", b.path, "error", err)
		b.delegate.NotifyProfileError(err, fmt.Sprintf("open %s: %v", b.path, err))
		return fmt.Errorf("open history database: %w", err)
	}
	b.db = db
	db.SetErrorCallback(b.databaseError)

	rules, err := db.LoadExclusions(ctx)
	if err != nil {
		b.logger.Warn("loading exclusion rules failed", "error", err)
		rules = storage.NewExclusionRules(nil, nil)
	}
	rules.Add(b.cfg.Capture.EffectiveDenylist(), b.cfg.Capture.DenylistRegex)
	b.exclusions = rules

	typed, err := db.TypedURLs(ctx)
	if err != nil {
		b.logger.Warn("reading typed urls failed", "error", err)
	}
	b.delegate.SetInMemoryIndex(typed)

	// From here on no second process may open the file.
	if err := db.SetExclusiveLocking(ctx); err != nil {
		b.logger.Warn("exclusive locking failed", "error", err)
	}

	if n, err := db.InterruptInProgressDownloads(ctx, b.cfg.Downloads.InterruptReasonCrash); err != nil {
		b.logger.Warn("interrupting stale downloads failed", "error", err)
	} else if n > 0 {
		b.logger.Info("marked in-progress downloads as interrupted", "count", n)
	}

	b.beginSingletonTransaction()

	if b.firstRecordedTime, err = db.StartDate(ctx); err != nil {
		b.logger.Warn("reading start date failed", "error", err)
	}

	b.expirer.start()
	b.delegate.DBLoaded()

	until, err := db.DeleteForeignVisitsUntilID(ctx)
	if err != nil {
		b.logger.Warn("reading foreign deletion mark failed", "error", err)
	} else if until != 0 {
		b.logger.Info("resuming foreign visit deletion", "until_visit", until)
		b.startDeletingForeignVisits()
	}

	b.logger.Info("history backend ready", "path", b.path, "first_recorded", b.firstRecordedTime)
	return nil
}

// Close commits pending work and closes the database. The backend cannot
// be used afterwards.
func (b *Backend) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.cancelScheduledCommit()
	b.expirer.stop()
	b.tracker.Clear()
	b.redirects.Clear()
	b.dropQueuedTasks()

	if b.db == nil {
		return nil
	}
	b.commitSingletonTransaction("shutdown")
	if b.favicons != nil {
		b.favicons.Commit()
	}
	err := b.db.Close()
	b.db = nil
	b.firstRecordedTime = time.Time{}
	return err
}

// DB exposes the row store for queued tasks and maintenance tools. It is
// nil before Init or when the database could not be opened.
func (b *Backend) DB() *storage.DB { return b.db }

// FirstRecordedTime returns the time of the oldest visit, or zero.
func (b *Backend) FirstRecordedTime() time.Time { return b.firstRecordedTime }

func (b *Backend) ready() error {
	if b.db == nil || b.closed {
		return ErrNotInitialized
	}
	return nil
}

// AddObserver registers o.
func (b *Backend) AddObserver(o Observer) { b.observers = append(b.observers, o) }

// RemoveObserver unregisters o.
func (b *Backend) RemoveObserver(o Observer) {
	for i, cur := range b.observers {
		if cur == o {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			return
		}
	}
}

// --- transaction and commit ---

func (b *Backend) beginSingletonTransaction() {
	if err := b.db.BeginTransaction(); err != nil {
		// Retried on the next commit.
		b.metrics.TransactionErrors.Inc()
		b.logger.Warn("begin transaction failed", "error", err)
	}
}

func (b *Backend) commitSingletonTransaction(trigger string) {
	if !b.db.InTransaction() {
		return
	}
	start := time.Now()
	if err := b.db.CommitTransaction(); err != nil {
		b.metrics.TransactionErrors.Inc()
		b.logger.Warn("commit failed", "trigger", trigger, "error", err)
		return
	}
	b.metrics.Commits.WithLabelValues(trigger).Inc()
	b.metrics.CommitSeconds.Observe(time.Since(start).Seconds())
}

// Commit flushes the singleton transaction to disk and opens a new one.
func (b *Backend) Commit() {
	b.commit("forced")
}

func (b *Backend) commit(trigger string) {
	if b.db == nil {
		return
	}
	b.cancelScheduledCommit()
	b.commitSingletonTransaction(trigger)
	b.beginSingletonTransaction()
	if b.favicons != nil {
		b.favicons.Commit()
	}
}

// ScheduleCommit arranges a commit after the commit interval unless one is
// already pending.
func (b *Backend) ScheduleCommit() {
	if b.cancelCommit != nil || b.closed {
		return
	}
	interval := time.Duration(b.cfg.Engine.CommitIntervalSeconds) * time.Second
	b.cancelCommit = b.seq.PostDelayedTask(interval, func() {
		b.cancelCommit = nil
		b.commit("timer")
	})
}

// CommitPending reports whether a debounced commit is scheduled.
func (b *Backend) CommitPending() bool { return b.cancelCommit != nil }

func (b *Backend) cancelScheduledCommit() {
	if b.cancelCommit != nil {
		b.cancelCommit()
		b.cancelCommit = nil
	}
}

// --- queued tasks ---

type queuedTask struct {
	task       DBTask
	origin     sequence.Sequence
	isCanceled func() bool
}

func (q *queuedTask) canceled() bool {
	return q.isCanceled != nil && q.isCanceled()
}

// ProcessDBTask queues task. Tasks run one step at a time, in order; a task
// returning TaskContinue goes to the back of the queue. The completion is
// posted to origin, also for tasks dropped because isCanceled returned
// true. isCanceled may be nil.
func (b *Backend) ProcessDBTask(task DBTask, origin sequence.Sequence, isCanceled func() bool) {
	if origin == nil {
		origin = b.seq
	}
	scheduled := len(b.dbTasks) > 0
	b.dbTasks = append(b.dbTasks, &queuedTask{task: task, origin: origin, isCanceled: isCanceled})
	if !scheduled {
		b.processDBTasks()
	}
}

func (b *Backend) processDBTasks() {
	if b.db == nil || b.closed {
		b.dropQueuedTasks()
		return
	}
	for len(b.dbTasks) > 0 && b.dbTasks[0].canceled() {
		b.finishTask(b.dbTasks[0], true)
		b.dbTasks = b.dbTasks[1:]
	}
	if len(b.dbTasks) == 0 {
		return
	}

	q := b.dbTasks[0]
	b.dbTasks = b.dbTasks[1:]
	if q.task.RunOnDBSequence(context.Background(), b, b.db) == TaskDone {
		b.finishTask(q, false)
	} else {
		b.dbTasks = append(b.dbTasks, q)
	}
	if len(b.dbTasks) > 0 {
		b.seq.PostTask(b.processDBTasks)
	}
}

func (b *Backend) finishTask(q *queuedTask, canceled bool) {
	outcome := "done"
	if canceled {
		outcome = "canceled"
	}
	b.metrics.DBTasks.WithLabelValues(outcome).Inc()
	task := q.task
	q.origin.PostTask(func() { task.DoneRunOnMainSequence(canceled) })
}

func (b *Backend) dropQueuedTasks() {
	for _, q := range b.dbTasks {
		b.finishTask(q, true)
	}
	b.dbTasks = nil
}

// PendingDBTasks returns the number of queued tasks.
func (b *Backend) PendingDBTasks() int { return len(b.dbTasks) }

// --- error recovery ---

func (b *Backend) databaseError(err error) {
	if b.scheduledRaze || !storage.IsCatastrophic(err) {
		b.logger.Debug("database error", "error", err)
		return
	}
	b.logger.Error("catastrophic database error, scheduling reset", "error", err)
	b.scheduledRaze = true
	// Not from inside the failing statement.
	b.seq.PostTask(func() { b.killHistoryDatabase(err) })
}

func (b *Backend) killHistoryDatabase(cause error) {
	b.scheduledRaze = false
	if b.db == nil || b.closed {
		return
	}
	ctx := context.Background()
	b.cancelScheduledCommit()

	b.metrics.Razes.Inc()
	if err := b.db.Raze(ctx); err != nil {
		b.logger.Error("razing history database failed", "error", err)
		b.delegate.NotifyProfileError(err, fmt.Sprintf("raze after %v: %v", cause, err))
		b.db.Close()
		b.db = nil
		return
	}
	b.delegate.NotifyProfileError(cause, "history database was corrupt and has been reset")

	b.tracker.Clear()
	b.redirects.Clear()
	b.firstRecordedTime = time.Time{}
	b.beginSingletonTransaction()
	b.notifyURLsDeleted(DeletionInfo{AllHistory: true, Reason: metrics.ReasonAll})
}

// OnMemoryPressure drops cold cache entries and asks SQLite to release
// memory. Durable state is untouched.
func (b *Backend) OnMemoryPressure(critical bool) {
	if critical {
		b.redirects.Clear()
	} else {
		b.redirects.TrimColdHalf()
	}
	if b.db != nil {
		if err := b.db.TrimMemory(context.Background()); err != nil {
			b.logger.Debug("trim memory failed", "error", err)
		}
	}
	if b.favicons != nil {
		b.favicons.TrimMemory()
	}
}

// ClearCachedDataForContextID forgets the tracked visits of a closed tab.
func (b *Backend) ClearCachedDataForContextID(id ContextID) {
	b.tracker.ClearCachedDataForContextID(id)
}

// --- notifications ---

func (b *Backend) notifyURLVisited(row storage.URLRow, visit storage.VisitRow, localNavigationID int64) {
	for _, o := range b.observers {
		o.OnURLVisited(row, visit)
	}
	b.delegate.NotifyURLVisited(row, visit, localNavigationID)
}

func (b *Backend) notifyURLsModified(rows []storage.URLRow, fromExpiration bool) {
	if len(rows) == 0 {
		return
	}
	for _, o := range b.observers {
		o.OnURLsModified(rows, fromExpiration)
	}
	b.delegate.NotifyURLsModified(rows)
}

func (b *Backend) notifyURLsDeleted(info DeletionInfo) {
	if !info.AllHistory && b.db != nil {
		info.OriginCounts = make(map[string]OriginCount)
		for _, row := range info.DeletedRows {
			origin := originOf(row.URL)
			if origin == "" {
				continue
			}
			if _, done := info.OriginCounts[origin]; done {
				continue
			}
			n, last, err := b.db.CountAndLastVisitForOrigin(context.Background(), origin)
			if err != nil {
				b.logger.Warn("origin counts failed", "origin", origin, "error", err)
				continue
			}
			info.OriginCounts[origin] = OriginCount{Count: n, LastVisit: last}
		}
	}
	for _, o := range b.observers {
		o.OnURLsDeleted(info.AllHistory, info.FromExpiration, info.DeletedRows, info.FaviconURLs)
	}
	b.delegate.NotifyDeletions(info)
}

func (b *Backend) notifyVisitUpdated(visit storage.VisitRow, reason VisitUpdateReason) {
	for _, o := range b.observers {
		o.OnVisitUpdated(visit, reason)
	}
}

func (b *Backend) notifyVisitDeleted(visit storage.VisitRow) {
	b.tracker.RemoveVisitByID(visit.ID)
	for _, o := range b.observers {
		o.OnVisitDeleted(visit)
	}
}

func (b *Backend) notifyFaviconsChanged(pageURLs []string, iconURL string) {
	b.delegate.NotifyFaviconsChanged(pageURLs, iconURL)
}
