package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/visitdb/internal/storage"
	"github.com/runnerr0/visitdb/internal/transition"
)

func addForeign(t *testing.T, env *testEnv, u string, origID storage.VisitID, at time.Time) storage.VisitID {
	t.Helper()
	id, err := env.b.AddSyncedVisit(env.ctx, u, "", false,
		foreignVisit("remote", origID, transition.Link, at), nil, nil)
	require.NoError(t, err)
	return id
}

func TestAddSyncedVisit_StoresOriginatorAndSource(t *testing.T) {
	env := newTestEnv(t)
	content := storage.NewContentAnnotations()
	content.PageLanguage = "de"
	id, err := env.b.AddSyncedVisit(env.ctx, "https://example.com/", "Beispiel", false,
		foreignVisit("remote", 42, transition.Typed, testStart),
		&storage.ContextAnnotations{ResponseCode: 200}, &content)
	require.NoError(t, err)

	v, err := env.b.GetForeignVisit(env.ctx, "remote", 42)
	require.NoError(t, err)
	assert.Equal(t, id, v.ID)
	assert.True(t, v.IsForeign())
	assert.True(t, v.IncrementedOmniboxTypedScore)

	src, err := env.b.DB().GetVisitSource(env.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.SourceSynced, src)

	row := env.row(t, "https://example.com/")
	assert.Equal(t, "Beispiel", row.Title)
	assert.Equal(t, 1, row.TypedCount)

	got, err := env.b.DB().GetContentAnnotations(env.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "de", got.PageLanguage)

	may, err := env.b.DB().MayContainForeignVisits(env.ctx)
	require.NoError(t, err)
	assert.True(t, may)
}

func TestAddSyncedVisit_Validation(t *testing.T) {
	env := newTestEnv(t)

	v := foreignVisit("remote", 1, transition.Link, testStart)
	v.ID = 5
	_, err := env.b.AddSyncedVisit(env.ctx, "https://example.com/", "", false, v, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidSyncedVisit)

	v = foreignVisit("", 1, transition.Link, testStart)
	_, err = env.b.AddSyncedVisit(env.ctx, "https://example.com/", "", false, v, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidSyncedVisit)

	v = foreignVisit("remote", 1, transition.Link, time.Time{})
	_, err = env.b.AddSyncedVisit(env.ctx, "https://example.com/", "", false, v, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidSyncedVisit)

	env.delegate.reject["https://example.com/private"] = true
	_, err = env.b.AddSyncedVisit(env.ctx, "https://example.com/private", "", false,
		foreignVisit("remote", 1, transition.Link, testStart), nil, nil)
	assert.ErrorIs(t, err, ErrURLRejected)
}

func TestUpdateSyncedVisit_MergesIntoStoredRow(t *testing.T) {
	env := newTestEnv(t)
	u := "https://example.com/doc"
	id := addForeign(t, env, u, 7, testStart)

	changed := foreignVisit("remote", 7, transition.Link, testStart)
	changed.VisitDuration = 2 * time.Minute
	got, err := env.b.UpdateSyncedVisit(env.ctx, u, "Renamed", false, changed,
		&storage.ContextAnnotations{TabID: 9}, nil)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	v, err := env.b.GetVisitByID(env.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, v.VisitDuration)
	assert.Equal(t, "Renamed", env.row(t, u).Title)
	assert.Contains(t, env.observer.updated, VisitUpdateSyncedVisit)

	ann, err := env.b.DB().GetContextAnnotations(env.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(9), ann.TabID)
}

func TestUpdateSyncedVisit_Rejections(t *testing.T) {
	env := newTestEnv(t)
	u := "https://example.com/doc"
	id := addForeign(t, env, u, 7, testStart)

	_, err := env.b.UpdateSyncedVisit(env.ctx, u, "", false,
		foreignVisit("someone-else", 7, transition.Link, testStart), nil, nil)
	assert.ErrorIs(t, err, ErrVisitMismatch)

	_, err = env.b.UpdateSyncedVisit(env.ctx, "https://example.com/other", "", false,
		foreignVisit("remote", 7, transition.Link, testStart), nil, nil)
	assert.ErrorIs(t, err, ErrVisitMismatch)

	_, err = env.b.UpdateSyncedVisit(env.ctx, u, "", false,
		foreignVisit("remote", 7, transition.Link, testStart.Add(time.Hour)), nil, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, env.b.DB().SetDeleteForeignVisitsUntilID(env.ctx, id))
	_, err = env.b.UpdateSyncedVisit(env.ctx, u, "", false,
		foreignVisit("remote", 7, transition.Link, testStart), nil, nil)
	assert.ErrorIs(t, err, ErrVisitPendingDeletion)
}

func TestMarkVisitAsKnownToSync(t *testing.T) {
	env := newTestEnv(t)
	env.visit(t, "https://example.com/", testStart)
	v := env.visits(t, "https://example.com/")[0]

	require.NoError(t, env.b.MarkVisitAsKnownToSync(env.ctx, v.ID))
	got, err := env.b.GetVisitByID(env.ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, got.IsKnownToSync)
	assert.Contains(t, env.observer.updated, VisitUpdateKnownToSync)

	known, err := env.b.DB().KnownToSyncVisitsExist(env.ctx)
	require.NoError(t, err)
	assert.True(t, known)
}

func TestUpdateVisitReferrerOpenerIDs(t *testing.T) {
	env := newTestEnv(t)
	env.visit(t, "https://example.com/a", testStart)
	a := env.visits(t, "https://example.com/a")[0]
	id := addForeign(t, env, "https://example.com/b", 3, testStart.Add(time.Second))

	require.NoError(t, env.b.UpdateVisitReferrerOpenerIDs(env.ctx, id, a.ID, 0))
	got, err := env.b.GetVisitByID(env.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ReferringVisit)
	assert.Contains(t, env.observer.updated, VisitUpdateReferrerOpener)
}

func TestDeleteAllForeignVisits_RemovesOnlyExistingForeignVisits(t *testing.T) {
	env := newTestEnv(t, func(p *Params) { p.Config.Engine.ForeignVisitDeleteBatch = 2 })
	env.visit(t, "https://example.com/local", testStart)
	local := env.visits(t, "https://example.com/local")[0]
	require.NoError(t, env.b.MarkVisitAsKnownToSync(env.ctx, local.ID))
	for i := 1; i <= 3; i++ {
		addForeign(t, env, "https://example.com/remote", storage.VisitID(i), testStart.Add(time.Duration(i)*time.Second))
	}

	require.NoError(t, env.b.DeleteAllForeignVisitsAndResetIsKnownToSync(env.ctx))

	may, err := env.b.DB().MayContainForeignVisits(env.ctx)
	require.NoError(t, err)
	assert.False(t, may)
	got, err := env.b.GetVisitByID(env.ctx, local.ID)
	require.NoError(t, err)
	assert.False(t, got.IsKnownToSync)

	late := addForeign(t, env, "https://example.com/late", 99, testStart.Add(time.Minute))
	env.seq.RunUntilIdle()

	n, err := env.b.DB().VisitCount(env.ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = env.b.GetVisitByID(env.ctx, late)
	assert.NoError(t, err)
	assert.False(t, env.hasURL(t, "https://example.com/remote"))
	assert.True(t, env.hasURL(t, "https://example.com/local"))

	until, err := env.b.DB().DeleteForeignVisitsUntilID(env.ctx)
	require.NoError(t, err)
	assert.Zero(t, until)
	assert.Zero(t, env.b.PendingDBTasks())
}

func TestDeleteAllForeignVisits_ResumesAfterRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "History")
	withPath := func(p *Params) { p.Path = path }

	first := newTestEnv(t, withPath)
	addForeign(t, first, "https://example.com/a", 1, testStart)
	addForeign(t, first, "https://example.com/b", 2, testStart.Add(time.Second))
	maxID, err := first.b.DB().MaxVisitID(first.ctx)
	require.NoError(t, err)
	require.NoError(t, first.b.DB().SetDeleteForeignVisitsUntilID(first.ctx, maxID))
	require.NoError(t, first.b.Close())

	second := newTestEnv(t, withPath)
	second.seq.RunUntilIdle()

	n, err := second.b.DB().VisitCount(second.ctx, true)
	require.NoError(t, err)
	assert.Zero(t, n)
	until, err := second.b.DB().DeleteForeignVisitsUntilID(second.ctx)
	require.NoError(t, err)
	assert.Zero(t, until)
}
