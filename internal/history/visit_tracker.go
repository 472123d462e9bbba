package history

import "github.com/runnerr0/visitdb/internal/storage"

// Trimmed tracker lists keep this many of their newest entries.
const trackerTrimmedSize = 64

type trackedVisit struct {
	url        string
	navEntryID int
	visit      storage.VisitID
}

// VisitTracker remembers the latest visits of each open page context so a
// new navigation can find its referring visit without a database query.
type VisitTracker struct {
	maxPerContext int
	contexts      map[ContextID][]trackedVisit
}

// NewVisitTracker returns a tracker keeping up to maxPerContext visits per
// context. When a list grows past the limit its oldest entries are dropped.
func NewVisitTracker(maxPerContext int) *VisitTracker {
	if maxPerContext <= trackerTrimmedSize {
		maxPerContext = trackerTrimmedSize + 1
	}
	return &VisitTracker{
		maxPerContext: maxPerContext,
		contexts:      make(map[ContextID][]trackedVisit),
	}
}

// GetLastVisit returns the newest visit to referrer in context made at or
// before navigation entry navEntryID, or 0.
func (t *VisitTracker) GetLastVisit(context ContextID, navEntryID int, referrer string) storage.VisitID {
	if context == 0 || referrer == "" {
		return 0
	}
	list := t.contexts[context]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].navEntryID > navEntryID {
			continue
		}
		if list[i].url == referrer {
			return list[i].visit
		}
	}
	return 0
}

// AddVisit records visit as the latest visit to pageURL in context.
func (t *VisitTracker) AddVisit(context ContextID, navEntryID int, pageURL string, visit storage.VisitID) {
	if context == 0 {
		return
	}
	list := append(t.contexts[context], trackedVisit{url: pageURL, navEntryID: navEntryID, visit: visit})
	if len(list) > t.maxPerContext {
		list = append([]trackedVisit(nil), list[len(list)-trackerTrimmedSize:]...)
	}
	t.contexts[context] = list
}

// RemoveVisitByID forgets a deleted visit everywhere.
func (t *VisitTracker) RemoveVisitByID(visit storage.VisitID) {
	for ctx, list := range t.contexts {
		kept := list[:0]
		for _, v := range list {
			if v.visit != visit {
				kept = append(kept, v)
			}
		}
		if len(kept) == 0 {
			delete(t.contexts, ctx)
			continue
		}
		t.contexts[ctx] = kept
	}
}

// ClearCachedDataForContextID drops a closed context.
func (t *VisitTracker) ClearCachedDataForContextID(context ContextID) {
	delete(t.contexts, context)
}

// Clear forgets everything.
func (t *VisitTracker) Clear() {
	t.contexts = make(map[ContextID][]trackedVisit)
}

// Len returns the number of tracked visits across all contexts.
func (t *VisitTracker) Len() int {
	n := 0
	for _, list := range t.contexts {
		n += len(list)
	}
	return n
}
