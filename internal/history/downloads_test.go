package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/visitdb/internal/storage"
)

func TestDownloads_CreateUpdateQueryRemove(t *testing.T) {
	env := newTestEnv(t)

	next, err := env.b.GetNextDownloadID(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.DownloadID(1), next)

	first, err := env.b.CreateDownload(env.ctx, storage.DownloadRow{
		URL:        "https://example.com/file.zip",
		TargetPath: "/tmp/file.zip",
		TotalBytes: 2048,
		State:      storage.DownloadInProgress,
	})
	require.NoError(t, err)
	assert.Equal(t, storage.DownloadID(1), first.ID)
	assert.True(t, first.StartTime.Equal(testStart))
	_, err = uuid.Parse(first.GUID)
	assert.NoError(t, err)

	second, err := env.b.CreateDownload(env.ctx, storage.DownloadRow{URL: "https://example.com/b.pdf", State: storage.DownloadComplete})
	require.NoError(t, err)
	assert.Equal(t, storage.DownloadID(2), second.ID)

	first.ReceivedBytes = 2048
	first.State = storage.DownloadComplete
	first.EndTime = testStart.Add(time.Minute)
	require.NoError(t, env.b.UpdateDownload(env.ctx, first))
	assert.ErrorIs(t, env.b.UpdateDownload(env.ctx, storage.DownloadRow{ID: 99}), storage.ErrNotFound)

	all, err := env.b.QueryDownloads(env.ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(2048), all[0].ReceivedBytes)
	assert.Equal(t, storage.DownloadComplete, all[0].State)
	assert.True(t, all[0].EndTime.Equal(testStart.Add(time.Minute)))

	require.NoError(t, env.b.RemoveDownloads(env.ctx, []storage.DownloadID{first.ID}))
	all, err = env.b.QueryDownloads(env.ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, second.ID, all[0].ID)
}

func TestDownloads_InProgressInterruptedOnReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "History")
	withPath := func(p *Params) { p.Path = path }

	first := newTestEnv(t, withPath)
	_, err := first.b.CreateDownload(first.ctx, storage.DownloadRow{URL: "https://example.com/big.iso", State: storage.DownloadInProgress})
	require.NoError(t, err)
	_, err = first.b.CreateDownload(first.ctx, storage.DownloadRow{URL: "https://example.com/done.txt", State: storage.DownloadComplete})
	require.NoError(t, err)
	require.NoError(t, first.b.Close())

	second := newTestEnv(t, withPath)
	all, err := second.b.QueryDownloads(second.ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, storage.DownloadInterrupt, all[0].State)
	assert.Equal(t, 50, all[0].InterruptReason)
	assert.Equal(t, storage.DownloadComplete, all[1].State)
}

func TestKeywordSearchTerms(t *testing.T) {
	env := newTestEnv(t)
	env.visit(t, "https://search.example.com/?q=go", testStart)
	env.visit(t, "https://search.example.com/?q=go", testStart.Add(time.Minute))
	env.visit(t, "https://search.example.com/?q=GO+", testStart)
	env.visit(t, "https://search.example.com/?q=rust", testStart)

	require.NoError(t, env.b.SetKeywordSearchTermsForURL(env.ctx, "https://search.example.com/?q=go", 1, "go"))
	require.NoError(t, env.b.SetKeywordSearchTermsForURL(env.ctx, "https://search.example.com/?q=GO+", 1, "GO "))
	require.NoError(t, env.b.SetKeywordSearchTermsForURL(env.ctx, "https://search.example.com/?q=rust", 1, "rust"))
	require.NoError(t, env.b.SetKeywordSearchTermsForURL(env.ctx, "https://search.example.com/?q=unknown", 1, "unknown"))
	assert.Len(t, env.delegate.termsUpdated, 3)

	terms, err := env.b.QueryMostRepeatedQueriesForKeyword(env.ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, terms, 2)
	assert.Equal(t, "go", terms[0].NormalizedTerm)
	assert.Equal(t, 3, terms[0].VisitCount)

	require.NoError(t, env.b.DeleteKeywordSearchTermForURL(env.ctx, "https://search.example.com/?q=rust"))
	terms, err = env.b.QueryMostRepeatedQueriesForKeyword(env.ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, terms, 1)

	require.NoError(t, env.b.DeleteMatchingURLsForKeyword(env.ctx, 1, "Go"))
	assert.False(t, env.hasURL(t, "https://search.example.com/?q=go"))
	assert.False(t, env.hasURL(t, "https://search.example.com/?q=GO+"))
	assert.True(t, env.hasURL(t, "https://search.example.com/?q=rust"))

	require.NoError(t, env.b.SetKeywordSearchTermsForURL(env.ctx, "https://search.example.com/?q=rust", 2, "rust"))
	require.NoError(t, env.b.DeleteAllSearchTermsForKeyword(env.ctx, 2))
	terms, err = env.b.QueryMostRepeatedQueriesForKeyword(env.ctx, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, terms)
}
