package storage

import (
	"time"

	"github.com/runnerr0/visitdb/internal/transition"
)

// Row identifiers. Zero means "none" everywhere.
type (
	URLID         int64
	VisitID       int64
	SegmentID     int64
	ClusterID     int64
	VisitedLinkID int64
	KeywordID     int64
	DownloadID    int64
)

// URLRow is one entry of the urls table.
type URLRow struct {
	ID         URLID
	URL        string
	Title      string
	VisitCount int
	TypedCount int
	LastVisit  time.Time
	Hidden     bool
}

// VisitSource records where a visit came from. Browsed visits have no row in
// visit_source.
type VisitSource int

const (
	SourceBrowsed VisitSource = iota
	SourceSynced
	SourceExtension
	SourceImported
)

// VisitRow is one navigation event.
type VisitRow struct {
	ID                           VisitID
	URLID                        URLID
	VisitTime                    time.Time
	ReferringVisit               VisitID
	ExternalReferrerURL          string
	Transition                   transition.Transition
	SegmentID                    SegmentID
	VisitDuration                time.Duration
	IncrementedOmniboxTypedScore bool
	OpenerVisit                  VisitID

	// Set only for visits that arrived from another device.
	OriginatorCacheGUID      string
	OriginatorVisitID        VisitID
	OriginatorReferringVisit VisitID
	OriginatorOpenerVisit    VisitID

	IsKnownToSync             bool
	ConsiderForNTPMostVisited bool
	VisitedLinkID             VisitedLinkID
	AppID                     string
}

// IsForeign reports whether the visit was synced from another device.
func (v *VisitRow) IsForeign() bool { return v.OriginatorCacheGUID != "" }

// VisitedLinkRow is a partitioned visited-link entry.
type VisitedLinkRow struct {
	ID          VisitedLinkID
	LinkURLID   URLID
	TopLevelURL string
	FrameURL    string
	VisitCount  int
}

// SegmentUsage is one per-day counter of a segment.
type SegmentUsage struct {
	SegmentID  SegmentID
	TimeSlot   time.Time
	VisitCount int
}

// Segment is a "most visited" bucket.
type Segment struct {
	ID    SegmentID
	Name  string
	URLID URLID
}

// InteractionState tracks how the user handled a visit inside a cluster.
type InteractionState int

const (
	InteractionDefault InteractionState = iota
	InteractionHidden
	InteractionDone
)

// Cluster groups visits belonging to one journey.
type Cluster struct {
	ID                              ClusterID
	ShouldShowOnProminentUISurfaces bool
	Label                           string
	RawLabel                        string
	TriggerabilityCalculated        bool
	OriginatorCacheGUID             string
	OriginatorClusterID             ClusterID
	Visits                          []ClusterVisit
	Keywords                        []ClusterKeyword
}

// ClusterVisit is a visit's membership in a cluster.
type ClusterVisit struct {
	VisitID           VisitID
	Score             float64
	EngagementScore   float64
	URLForDeduping    string
	NormalizedURL     string
	URLForDisplay     string
	InteractionState  InteractionState
	DuplicateVisitIDs []VisitID
}

// ClusterKeyword is a keyword attached to a cluster.
type ClusterKeyword struct {
	Keyword string
	Type    int
	Score   float64
}

// ContextAnnotations are per-visit facts about the browsing context. The
// first group is known when the visit is recorded, the second when the page
// is closed.
type ContextAnnotations struct {
	BrowserType  int
	WindowID     int64
	TabID        int64
	TaskID       int64
	RootTaskID   int64
	ParentTaskID int64
	ResponseCode int

	OmniboxURLCopied         bool
	IsExistingPartOfTabGroup bool
	IsPlacedInTabGroup       bool
	IsExistingBookmark       bool
	IsNewBookmark            bool
	IsNTPCustomLink          bool
	DurationSinceLastVisit   time.Duration
	PageEndReason            int
	TotalForegroundDuration  time.Duration
}

// Defaults for ContentAnnotations fields that are not plain zero values.
const (
	DefaultVisibilityScore        = -1.0
	DefaultPageTopicsModelVersion = -1
)

// Category is a weighted id used for categories and entities.
type Category struct {
	ID     string `json:"id"`
	Weight int    `json:"weight"`
}

// PasswordState values.
const (
	PasswordStateUnknown = iota
	PasswordStateNoPasswordField
	PasswordStateHasPasswordField
)

// Annotation flags.
const (
	AnnotationFlagBrowsingTopicsEligible uint32 = 1 << 0
)

// ContentAnnotations hold model output and page metadata for a visit.
type ContentAnnotations struct {
	VisibilityScore        float64
	Categories             []Category
	PageTopicsModelVersion int64
	AnnotationFlags        uint32
	Entities               []Category
	RelatedSearches        []string
	SearchNormalizedURL    string
	SearchTerms            string
	AlternativeTitle       string
	PageLanguage           string
	PasswordState          int
	HasURLKeyedImage       bool
}

// NewContentAnnotations returns annotations with every field at its default.
func NewContentAnnotations() ContentAnnotations {
	return ContentAnnotations{
		VisibilityScore:        DefaultVisibilityScore,
		PageTopicsModelVersion: DefaultPageTopicsModelVersion,
	}
}

// DownloadState is the persisted state of a download.
type DownloadState int

const (
	DownloadInProgress DownloadState = 1
	DownloadComplete   DownloadState = 2
	DownloadCancelled  DownloadState = 3
	DownloadInterrupt  DownloadState = 4
)

// DownloadRow is one downloads entry.
type DownloadRow struct {
	ID              DownloadID
	GUID            string
	CurrentPath     string
	TargetPath      string
	StartTime       time.Time
	EndTime         time.Time
	ReceivedBytes   int64
	TotalBytes      int64
	State           DownloadState
	InterruptReason int
	URL             string
}

// KeywordSearchTermRow ties a search term to the URL it produced.
type KeywordSearchTermRow struct {
	KeywordID      KeywordID
	URLID          URLID
	Term           string
	NormalizedTerm string
}

// KeywordSearchTermVisit is a term with how often it was searched.
type KeywordSearchTermVisit struct {
	Term           string
	NormalizedTerm string
	VisitCount     int
	LastVisit      time.Time
}

// SearchQuery defines filters for free-text history queries.
type SearchQuery struct {
	Text   string
	Since  time.Time
	Until  time.Time
	Limit  int
	Offset int
	// IncludeHidden also returns hidden URLs.
	IncludeHidden bool
}

// Stats holds aggregate statistics about the history database.
type Stats struct {
	TotalURLs         int64
	TotalVisits       int64
	ForeignVisits     int64
	TotalSegments     int64
	TotalClusters     int64
	OldestVisit       time.Time
	NewestVisit       time.Time
	DatabaseSizeBytes int64
	TopHosts          []HostCount
}

// HostCount pairs a host with its visit count.
type HostCount struct {
	Host  string
	Count int64
}
