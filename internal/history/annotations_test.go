package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/visitdb/internal/storage"
	"github.com/runnerr0/visitdb/internal/transition"
)

func TestContextAnnotations_OnVisitAndOnCloseMerge(t *testing.T) {
	env := newTestEnv(t)
	id := env.visitID(t, "https://example.com/", testStart)

	require.NoError(t, env.b.AddContextAnnotationsForVisit(env.ctx, id,
		storage.ContextAnnotations{TabID: 5, ResponseCode: 200}))
	require.NoError(t, env.b.SetOnCloseContextAnnotationsForVisit(env.ctx, id, storage.ContextAnnotations{
		TabID:                   99,
		PageEndReason:           3,
		TotalForegroundDuration: time.Minute,
		IsNewBookmark:           true,
	}))

	got, err := env.b.DB().GetContextAnnotations(env.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.TabID)
	assert.Equal(t, 200, got.ResponseCode)
	assert.Equal(t, 3, got.PageEndReason)
	assert.Equal(t, time.Minute, got.TotalForegroundDuration)

	require.NoError(t, env.b.AddContextAnnotationsForVisit(env.ctx, id, storage.ContextAnnotations{TabID: 7}))
	got, err = env.b.DB().GetContextAnnotations(env.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.TabID)
	assert.Zero(t, got.ResponseCode)
	assert.True(t, got.IsNewBookmark)
	assert.Equal(t, time.Minute, got.TotalForegroundDuration)
}

func TestContextAnnotations_UnknownVisitIgnored(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.b.AddContextAnnotationsForVisit(env.ctx, 404, storage.ContextAnnotations{TabID: 1}))
	_, err := env.b.DB().GetContextAnnotations(env.ctx, 404)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestContentModelAnnotations_DefaultsKeepStoredValues(t *testing.T) {
	env := newTestEnv(t)
	id := env.visitID(t, "https://example.com/", testStart)

	first := NewModelAnnotations()
	first.VisibilityScore = 0.5
	first.Categories = []storage.Category{{ID: "sports", Weight: 80}}
	first.PageTopicsModelVersion = 3
	require.NoError(t, env.b.AddContentModelAnnotationsForVisit(env.ctx, id, first))

	second := NewModelAnnotations()
	second.Entities = []storage.Category{{ID: "team", Weight: 40}}
	require.NoError(t, env.b.AddContentModelAnnotationsForVisit(env.ctx, id, second))

	got, err := env.b.DB().GetContentAnnotations(env.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.VisibilityScore)
	assert.Equal(t, []storage.Category{{ID: "sports", Weight: 80}}, got.Categories)
	assert.Equal(t, int64(3), got.PageTopicsModelVersion)
	assert.Equal(t, []storage.Category{{ID: "team", Weight: 40}}, got.Entities)
}

func TestContentAnnotations_MetadataSetters(t *testing.T) {
	env := newTestEnv(t)
	id := env.visitID(t, "https://example.com/search?q=go", testStart)

	require.NoError(t, env.b.AddRelatedSearchesForVisit(env.ctx, id, []string{"golang", "go tutorial"}))
	require.NoError(t, env.b.AddSearchMetadataForVisit(env.ctx, id, "https://example.com/search?q=go", "go"))
	require.NoError(t, env.b.AddPageMetadataForVisit(env.ctx, id, "Go search"))
	require.NoError(t, env.b.SetHasURLKeyedImageForVisit(env.ctx, id, true))
	require.NoError(t, env.b.SetPasswordStateForVisitByVisitID(env.ctx, id, storage.PasswordStateHasPasswordField))

	got, err := env.b.DB().GetContentAnnotations(env.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"golang", "go tutorial"}, got.RelatedSearches)
	assert.Equal(t, "go", got.SearchTerms)
	assert.Equal(t, "Go search", got.AlternativeTitle)
	assert.True(t, got.HasURLKeyedImage)
	assert.Equal(t, storage.PasswordStateHasPasswordField, got.PasswordState)
	assert.Equal(t, storage.DefaultVisibilityScore, got.VisibilityScore)
}

func TestContentAnnotations_TrackedVisitSetters(t *testing.T) {
	env := newTestEnv(t)
	env.addPage(t, AddPageArgs{URL: "https://example.com/de", ContextID: 2, NavEntryID: 4, Transition: transition.Link})
	id := env.visits(t, "https://example.com/de")[0].ID

	require.NoError(t, env.b.SetPageLanguageForVisit(env.ctx, 2, 4, "https://example.com/de", "de"))
	require.NoError(t, env.b.SetPasswordStateForVisit(env.ctx, 2, 4, "https://example.com/de", storage.PasswordStateNoPasswordField))
	require.NoError(t, env.b.SetBrowsingTopicsAllowed(env.ctx, 2, 4, "https://example.com/de"))
	require.NoError(t, env.b.SetPageLanguageForVisit(env.ctx, 2, 5, "https://example.com/de", "fr"))

	got, err := env.b.DB().GetContentAnnotations(env.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "de", got.PageLanguage)
	assert.Equal(t, storage.PasswordStateNoPasswordField, got.PasswordState)
	assert.NotZero(t, got.AnnotationFlags&storage.AnnotationFlagBrowsingTopicsEligible)
}

func TestGetAnnotatedVisits(t *testing.T) {
	env := newTestEnv(t)
	env.addPage(t, AddPageArgs{URL: "https://example.com/", ContextID: 1, NavEntryID: 1, Transition: transition.Typed})
	env.seq.Advance(time.Second)
	env.addPage(t, AddPageArgs{
		URL:                "https://example.com/next",
		ContextID:          1,
		NavEntryID:         2,
		Referrer:           "https://example.com/",
		Transition:         transition.Link,
		ContextAnnotations: &storage.ContextAnnotations{TabID: 11},
	})
	next := env.visits(t, "https://example.com/next")[0]
	require.NoError(t, env.b.SetPageLanguageForVisitByVisitID(env.ctx, next.ID, "en"))

	got, err := env.b.GetAnnotatedVisits(env.ctx, QueryOptions{})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "https://example.com/next", got[0].URL.URL)
	assert.Equal(t, "https://example.com/", got[0].ReferringVisitURL)
	assert.Equal(t, int64(11), got[0].Context.TabID)
	assert.Equal(t, "en", got[0].Content.PageLanguage)
	assert.Equal(t, storage.SourceBrowsed, got[0].Source)

	assert.Empty(t, got[1].ReferringVisitURL)
	assert.Equal(t, storage.DefaultVisibilityScore, got[1].Content.VisibilityScore)

	oldest, err := env.b.GetAnnotatedVisits(env.ctx, QueryOptions{OldestFirst: true, MaxCount: 1})
	require.NoError(t, err)
	require.Len(t, oldest, 1)
	assert.Equal(t, "https://example.com/", oldest[0].URL.URL)
}
