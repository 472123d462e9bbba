package history

import (
	"context"
	"errors"

	"github.com/runnerr0/visitdb/internal/storage"
)

// ModelAnnotations are the content fields produced by page models. Fields
// at their default value (-1 scores and versions, empty lists) leave the
// stored value alone.
type ModelAnnotations struct {
	VisibilityScore        float64
	Categories             []storage.Category
	PageTopicsModelVersion int64
	Entities               []storage.Category
}

// NewModelAnnotations returns model annotations with every field at its
// default.
func NewModelAnnotations() ModelAnnotations {
	return ModelAnnotations{
		VisibilityScore:        storage.DefaultVisibilityScore,
		PageTopicsModelVersion: storage.DefaultPageTopicsModelVersion,
	}
}

func (m ModelAnnotations) mergeInto(c *storage.ContentAnnotations) {
	if m.VisibilityScore != storage.DefaultVisibilityScore {
		c.VisibilityScore = m.VisibilityScore
	}
	if len(m.Categories) > 0 {
		c.Categories = m.Categories
	}
	if m.PageTopicsModelVersion != storage.DefaultPageTopicsModelVersion {
		c.PageTopicsModelVersion = m.PageTopicsModelVersion
	}
	if len(m.Entities) > 0 {
		c.Entities = m.Entities
	}
}

// copyOnVisit copies the fields known when a visit is recorded from src
// into dst and leaves the on-close fields of dst alone.
func copyOnVisit(dst *storage.ContextAnnotations, src storage.ContextAnnotations) {
	dst.BrowserType = src.BrowserType
	dst.WindowID = src.WindowID
	dst.TabID = src.TabID
	dst.TaskID = src.TaskID
	dst.RootTaskID = src.RootTaskID
	dst.ParentTaskID = src.ParentTaskID
	dst.ResponseCode = src.ResponseCode
}

// visitExists reports whether id names a stored visit.
func (b *Backend) visitExists(ctx context.Context, id storage.VisitID) (bool, error) {
	if id == 0 {
		return false, nil
	}
	_, err := b.db.GetVisit(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// updateContent loads the content annotations of an existing visit (or
// defaults), applies fn and stores the result. Unknown visits are ignored.
func (b *Backend) updateContent(ctx context.Context, id storage.VisitID, fn func(*storage.ContentAnnotations)) error {
	ok, err := b.visitExists(ctx, id)
	if err != nil || !ok {
		return err
	}
	content, err := b.db.GetContentAnnotations(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		c := storage.NewContentAnnotations()
		content, err = &c, nil
	}
	if err != nil {
		return err
	}
	fn(content)
	if err := b.db.PutContentAnnotations(ctx, id, *content); err != nil {
		return err
	}
	b.ScheduleCommit()
	return nil
}

func (b *Backend) putContextAnnotations(ctx context.Context, id storage.VisitID, onVisitOnly bool, a storage.ContextAnnotations) error {
	ok, err := b.visitExists(ctx, id)
	if err != nil || !ok {
		return err
	}
	existing, err := b.db.GetContextAnnotations(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return err
	case onVisitOnly:
		copyOnVisit(existing, a)
		a = *existing
	default:
		copyOnVisit(&a, *existing)
	}
	if err := b.db.PutContextAnnotations(ctx, id, a); err != nil {
		return err
	}
	b.ScheduleCommit()
	return nil
}

// AddContextAnnotationsForVisit stores the on-visit context of a visit,
// keeping any on-close fields already recorded.
func (b *Backend) AddContextAnnotationsForVisit(ctx context.Context, id storage.VisitID, a storage.ContextAnnotations) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.putContextAnnotations(ctx, id, true, a)
}

// SetOnCloseContextAnnotationsForVisit stores the on-close context of a
// visit, keeping the on-visit fields already recorded.
func (b *Backend) SetOnCloseContextAnnotationsForVisit(ctx context.Context, id storage.VisitID, a storage.ContextAnnotations) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.putContextAnnotations(ctx, id, false, a)
}

// SetPageLanguageForVisit sets the language of the tracked visit to pageURL.
func (b *Backend) SetPageLanguageForVisit(ctx context.Context, contextID ContextID, navEntryID int, pageURL, language string) error {
	if err := b.ready(); err != nil {
		return err
	}
	id := b.tracker.GetLastVisit(contextID, navEntryID, normalizeOptional(pageURL))
	if id == 0 {
		return nil
	}
	return b.SetPageLanguageForVisitByVisitID(ctx, id, language)
}

// SetPageLanguageForVisitByVisitID sets the language of a visit.
func (b *Backend) SetPageLanguageForVisitByVisitID(ctx context.Context, id storage.VisitID, language string) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.updateContent(ctx, id, func(c *storage.ContentAnnotations) { c.PageLanguage = language })
}

// SetPasswordStateForVisit sets the password state of the tracked visit to
// pageURL.
func (b *Backend) SetPasswordStateForVisit(ctx context.Context, contextID ContextID, navEntryID int, pageURL string, state int) error {
	if err := b.ready(); err != nil {
		return err
	}
	id := b.tracker.GetLastVisit(contextID, navEntryID, normalizeOptional(pageURL))
	if id == 0 {
		return nil
	}
	return b.SetPasswordStateForVisitByVisitID(ctx, id, state)
}

// SetPasswordStateForVisitByVisitID sets the password state of a visit.
func (b *Backend) SetPasswordStateForVisitByVisitID(ctx context.Context, id storage.VisitID, state int) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.updateContent(ctx, id, func(c *storage.ContentAnnotations) { c.PasswordState = state })
}

// AddContentModelAnnotationsForVisit merges model output into the content
// annotations of a visit. Default fields in m keep the stored values.
func (b *Backend) AddContentModelAnnotationsForVisit(ctx context.Context, id storage.VisitID, m ModelAnnotations) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.updateContent(ctx, id, m.mergeInto)
}

// AddRelatedSearchesForVisit replaces the related searches of a visit.
func (b *Backend) AddRelatedSearchesForVisit(ctx context.Context, id storage.VisitID, searches []string) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.updateContent(ctx, id, func(c *storage.ContentAnnotations) {
		c.RelatedSearches = append([]string(nil), searches...)
	})
}

// AddSearchMetadataForVisit records the normalized search URL and terms of
// a search results visit.
func (b *Backend) AddSearchMetadataForVisit(ctx context.Context, id storage.VisitID, normalizedURL, terms string) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.updateContent(ctx, id, func(c *storage.ContentAnnotations) {
		c.SearchNormalizedURL = normalizedURL
		c.SearchTerms = terms
	})
}

// AddPageMetadataForVisit records an alternative title for a visit.
func (b *Backend) AddPageMetadataForVisit(ctx context.Context, id storage.VisitID, alternativeTitle string) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.updateContent(ctx, id, func(c *storage.ContentAnnotations) { c.AlternativeTitle = alternativeTitle })
}

// SetHasURLKeyedImageForVisit records whether the page has an image keyed
// by its URL.
func (b *Backend) SetHasURLKeyedImageForVisit(ctx context.Context, id storage.VisitID, has bool) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.updateContent(ctx, id, func(c *storage.ContentAnnotations) { c.HasURLKeyedImage = has })
}

// SetBrowsingTopicsAllowed marks the tracked visit to pageURL as eligible
// for browsing topics.
func (b *Backend) SetBrowsingTopicsAllowed(ctx context.Context, contextID ContextID, navEntryID int, pageURL string) error {
	if err := b.ready(); err != nil {
		return err
	}
	id := b.tracker.GetLastVisit(contextID, navEntryID, normalizeOptional(pageURL))
	if id == 0 {
		return nil
	}
	return b.updateContent(ctx, id, func(c *storage.ContentAnnotations) {
		c.AnnotationFlags |= storage.AnnotationFlagBrowsingTopicsEligible
	})
}

// GetAnnotatedVisits returns the visible visits matching opts with their
// url rows, annotations and referrer and opener URLs, newest first unless
// opts.OldestFirst is set. Duplicates are always kept.
func (b *Backend) GetAnnotatedVisits(ctx context.Context, opts QueryOptions) ([]AnnotatedVisit, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	opts.DuplicatePolicy = KeepAllDuplicates
	visits, _, err := b.visibleVisitsInRange(ctx, opts)
	if err != nil {
		return nil, err
	}

	out := make([]AnnotatedVisit, 0, len(visits))
	for _, v := range visits {
		row, err := b.db.GetURL(ctx, v.URLID)
		if err != nil {
			b.logger.Warn("visit without url row", "visit", v.ID, "error", err)
			continue
		}
		av := AnnotatedVisit{URL: *row, Visit: v, Content: storage.NewContentAnnotations()}
		if c, err := b.db.GetContextAnnotations(ctx, v.ID); err == nil {
			av.Context = *c
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		if c, err := b.db.GetContentAnnotations(ctx, v.ID); err == nil {
			av.Content = *c
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		av.ReferringVisitURL = b.urlOfVisitID(ctx, v.ReferringVisit)
		av.OpenerVisitURL = b.urlOfVisitID(ctx, v.OpenerVisit)
		if av.Source, err = b.db.GetVisitSource(ctx, v.ID); err != nil {
			return nil, err
		}
		out = append(out, av)
	}
	return out, nil
}

// urlOfVisitID returns the URL of a visit, or "" when it is unknown.
func (b *Backend) urlOfVisitID(ctx context.Context, id storage.VisitID) string {
	if id == 0 {
		return ""
	}
	v, err := b.db.GetVisit(ctx, id)
	if err != nil {
		return ""
	}
	u, err := b.urlOfVisit(ctx, *v)
	if err != nil {
		return ""
	}
	return u
}
