package history

import (
	"context"

	"github.com/runnerr0/visitdb/internal/storage"
)

// Delegate receives the backend's persisted changes. Every call happens on
// the backend's sequence.
type Delegate interface {
	// CanAddURL is the last word on whether a URL may be recorded.
	CanAddURL(url string) bool
	// NotifyProfileError reports that the database could not be opened or
	// had to be razed. diagnostics is free-form text for bug reports.
	NotifyProfileError(err error, diagnostics string)
	// SetInMemoryIndex hands over the typed URLs read at startup so the
	// caller can build its autocomplete index before the file is locked.
	SetInMemoryIndex(typed []storage.URLRow)
	NotifyFaviconsChanged(pageURLs []string, iconURL string)
	NotifyURLVisited(url storage.URLRow, visit storage.VisitRow, localNavigationID int64)
	NotifyURLsModified(rows []storage.URLRow)
	NotifyDeletions(info DeletionInfo)
	NotifyKeywordSearchTermUpdated(row storage.URLRow, keyword storage.KeywordID, term string)
	NotifyKeywordSearchTermDeleted(urlID storage.URLID)
	// DBLoaded is called once Init has finished with a usable database.
	DBLoaded()
}

// NopDelegate accepts every URL and ignores every notification. Embed it to
// implement only the calls you care about.
type NopDelegate struct{}

func (NopDelegate) CanAddURL(string) bool { return true }
func (NopDelegate) NotifyProfileError(error, string) {}
func (NopDelegate) SetInMemoryIndex([]storage.URLRow) {}
func (NopDelegate) NotifyFaviconsChanged([]string, string) {}
func (NopDelegate) NotifyURLVisited(storage.URLRow, storage.VisitRow, int64) {}
func (NopDelegate) NotifyURLsModified([]storage.URLRow) {}
func (NopDelegate) NotifyDeletions(DeletionInfo) {}
func (NopDelegate) NotifyKeywordSearchTermUpdated(storage.URLRow, storage.KeywordID, string) {}
func (NopDelegate) NotifyKeywordSearchTermDeleted(storage.URLID) {}
func (NopDelegate) DBLoaded() {}

// VisitUpdateReason says why OnVisitUpdated fired.
type VisitUpdateReason int

const (
	VisitUpdateTransition VisitUpdateReason = iota
	VisitUpdateDuration
	VisitUpdateReferrerOpener
	VisitUpdateKnownToSync
	VisitUpdateSyncedVisit
)

// Observer listens to row-level changes. Any number may be registered with
// AddObserver.
type Observer interface {
	OnURLVisited(url storage.URLRow, visit storage.VisitRow)
	OnURLsModified(rows []storage.URLRow, fromExpiration bool)
	OnURLsDeleted(allHistory, fromExpiration bool, rows []storage.URLRow, faviconURLs []string)
	OnVisitUpdated(visit storage.VisitRow, reason VisitUpdateReason)
	OnVisitDeleted(visit storage.VisitRow)
}

// URLAndTitle names a pinned URL.
type URLAndTitle struct {
	URL   string
	Title string
}

// Client answers questions about URLs the history layer does not own, such
// as bookmarks.
type Client interface {
	// IsPinnedURL reports whether url must survive expiration.
	IsPinnedURL(url string) bool
	GetPinnedURLs() []URLAndTitle
	// IsWebSafe filters most-visited results.
	IsWebSafe(url string) bool
}

// FaviconBackend is the optional favicon store kept in step with history.
type FaviconBackend interface {
	// DeleteMappings drops the icon mappings of pageURLs and returns the icon
	// URLs that no longer map to any page.
	DeleteMappings(pageURLs []string) []string
	// ClearAllExcept drops every mapping except those of keep.
	ClearAllExcept(keep []string) error
	Commit()
	TrimMemory()
}

// TaskStatus is returned by DBTask.RunOnDBSequence.
type TaskStatus int

const (
	// TaskContinue asks to be run again after the other queued tasks.
	TaskContinue TaskStatus = iota
	// TaskDone finishes the task.
	TaskDone
)

// DBTask is a unit of read work queued with ProcessDBTask. Queued tasks run
// one step at a time on the backend's sequence.
type DBTask interface {
	RunOnDBSequence(ctx context.Context, b *Backend, db *storage.DB) TaskStatus
	// DoneRunOnMainSequence is posted to the origin sequence once the task
	// finished or was dropped. canceled is true in the latter case.
	DoneRunOnMainSequence(canceled bool)
}
