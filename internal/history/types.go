package history

import (
	"time"

	"github.com/runnerr0/visitdb/internal/storage"
	"github.com/runnerr0/visitdb/internal/transition"
)

// ContextID identifies a page context such as a tab. Zero means none.
type ContextID int64

// Opener names the page that opened the one being recorded.
type Opener struct {
	ContextID  ContextID
	NavEntryID int
	URL        string
}

// AddPageArgs describes one navigation to record.
type AddPageArgs struct {
	URL  string
	Time time.Time
	// ContextID and NavEntryID locate the navigation in its tab so that the
	// referring visit can be found without a database lookup.
	ContextID  ContextID
	NavEntryID int
	Referrer   string
	// Redirects is the chain that led to URL, ending with URL itself.
	Redirects  []string
	Transition transition.Transition
	Hidden     bool
	Source     storage.VisitSource
	// DidReplaceEntry is set when this navigation replaced the referrer's
	// history entry, as client redirects usually do.
	DidReplaceEntry           bool
	ConsiderForNTPMostVisited bool
	Title                     string
	TopLevelURL               string
	Opener                    *Opener
	LocalNavigationID         int64
	AppID                     string
	ContextAnnotations        *storage.ContextAnnotations
}

// DeletionInfo describes rows removed from history.
type DeletionInfo struct {
	AllHistory     bool
	FromExpiration bool
	Reason         string
	Begin, End     time.Time
	DeletedRows    []storage.URLRow
	FaviconURLs    []string
	// OriginCounts holds, for the origin of every deleted URL, what is left
	// of that origin after the deletion.
	OriginCounts map[string]OriginCount
}

// OriginCount is the remaining URL count and newest visit of an origin.
type OriginCount struct {
	Count     int
	LastVisit time.Time
}

// DuplicatePolicy controls how repeated visits to one URL are reported.
type DuplicatePolicy int

const (
	RemoveAllDuplicates DuplicatePolicy = iota
	RemoveDuplicatesPerDay
	KeepAllDuplicates
)

// QueryOptions restrict QueryHistory.
type QueryOptions struct {
	Begin, End time.Time
	// MaxCount <= 0 means unlimited.
	MaxCount        int
	DuplicatePolicy DuplicatePolicy
	OldestFirst     bool
	AppID           string
}

// URLResult is a URL row paired with one visit time.
type URLResult struct {
	storage.URLRow
	VisitTime time.Time
	VisitID   storage.VisitID
}

// QueryResults is the answer to QueryHistory.
type QueryResults struct {
	Results []URLResult
	// ReachedBeginning is set when nothing older than the results exists.
	ReachedBeginning bool
}

// QueryURLResult is the answer to QueryURL.
type QueryURLResult struct {
	Row    storage.URLRow
	Visits []storage.VisitRow
}

// MostVisitedURL is one entry of QueryMostVisitedURLs.
type MostVisitedURL struct {
	URL   string
	Title string
	Score float64
}

// ExpireArgs is one range handed to ExpireHistory. Empty URLs means all
// URLs; a zero End means no upper bound.
type ExpireArgs struct {
	URLs       []string
	Begin, End time.Time
	AppID      string
}

// DeviceInfo describes a synced device.
type DeviceInfo struct {
	OS         string
	FormFactor string
}

// Device OS and form factor values used by the cross-device segment rule.
const (
	OSAndroid       = "android"
	OSIOS           = "ios"
	FormFactorPhone = "phone"
)

// AnnotatedVisit bundles a visit with its side tables.
type AnnotatedVisit struct {
	URL               storage.URLRow
	Visit             storage.VisitRow
	Context           storage.ContextAnnotations
	Content           storage.ContentAnnotations
	ReferringVisitURL string
	OpenerVisitURL    string
	Source            storage.VisitSource
}
