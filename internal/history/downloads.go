package history

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/runnerr0/visitdb/internal/storage"
)

// GetNextDownloadID returns the id the next download should use.
func (b *Backend) GetNextDownloadID(ctx context.Context) (storage.DownloadID, error) {
	if err := b.ready(); err != nil {
		return 0, err
	}
	return b.db.NextDownloadID(ctx)
}

// CreateDownload stores a new download. A missing id is allocated and a
// missing GUID generated; the stored row is returned.
func (b *Backend) CreateDownload(ctx context.Context, row storage.DownloadRow) (storage.DownloadRow, error) {
	if err := b.ready(); err != nil {
		return storage.DownloadRow{}, err
	}
	if row.ID == 0 {
		id, err := b.db.NextDownloadID(ctx)
		if err != nil {
			return storage.DownloadRow{}, err
		}
		row.ID = id
	}
	if row.GUID == "" {
		row.GUID = uuid.NewString()
	}
	if row.StartTime.IsZero() {
		row.StartTime = b.now()
	}
	if err := b.db.CreateDownload(ctx, row); err != nil {
		return storage.DownloadRow{}, err
	}
	b.ScheduleCommit()
	return row, nil
}

// UpdateDownload rewrites the progress fields of a download.
func (b *Backend) UpdateDownload(ctx context.Context, row storage.DownloadRow) error {
	if err := b.ready(); err != nil {
		return err
	}
	if err := b.db.UpdateDownload(ctx, row); err != nil {
		return err
	}
	b.ScheduleCommit()
	return nil
}

// QueryDownloads returns every download, oldest first.
func (b *Backend) QueryDownloads(ctx context.Context) ([]storage.DownloadRow, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	return b.db.QueryDownloads(ctx)
}

// RemoveDownloads deletes downloads by id.
func (b *Backend) RemoveDownloads(ctx context.Context, ids []storage.DownloadID) error {
	if err := b.ready(); err != nil {
		return err
	}
	if err := b.db.RemoveDownloads(ctx, ids); err != nil {
		return err
	}
	b.ScheduleCommit()
	return nil
}

// SetKeywordSearchTermsForURL records that rawURL is the result page of
// searching term with keyword. Unknown URLs are ignored.
func (b *Backend) SetKeywordSearchTermsForURL(ctx context.Context, rawURL string, keyword storage.KeywordID, term string) error {
	if err := b.ready(); err != nil {
		return err
	}
	row, err := b.rowForURL(ctx, rawURL)
	if err != nil || row == nil {
		return err
	}
	if err := b.db.SetKeywordSearchTerm(ctx, keyword, row.ID, term); err != nil {
		return err
	}
	b.delegate.NotifyKeywordSearchTermUpdated(*row, keyword, term)
	b.ScheduleCommit()
	return nil
}

// DeleteAllSearchTermsForKeyword forgets every term searched with keyword.
func (b *Backend) DeleteAllSearchTermsForKeyword(ctx context.Context, keyword storage.KeywordID) error {
	if err := b.ready(); err != nil {
		return err
	}
	if err := b.db.DeleteAllSearchTermsForKeyword(ctx, keyword); err != nil {
		return err
	}
	b.ScheduleCommit()
	return nil
}

// DeleteKeywordSearchTermForURL forgets the search term that produced
// rawURL.
func (b *Backend) DeleteKeywordSearchTermForURL(ctx context.Context, rawURL string) error {
	if err := b.ready(); err != nil {
		return err
	}
	row, err := b.rowForURL(ctx, rawURL)
	if err != nil || row == nil {
		return err
	}
	if err := b.db.DeleteKeywordSearchTermsForURL(ctx, row.ID); err != nil {
		return err
	}
	b.delegate.NotifyKeywordSearchTermDeleted(row.ID)
	b.ScheduleCommit()
	return nil
}

// DeleteMatchingURLsForKeyword deletes every URL produced by searching
// term with keyword, with its visits.
func (b *Backend) DeleteMatchingURLsForKeyword(ctx context.Context, keyword storage.KeywordID, term string) error {
	if err := b.ready(); err != nil {
		return err
	}
	ids, err := b.db.URLIDsForKeywordTerm(ctx, keyword, term)
	if err != nil {
		return err
	}
	var urls []string
	for _, id := range ids {
		row, err := b.db.GetURL(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		// Pinned rows survive DeleteURLs; their term must not.
		if err := b.db.DeleteKeywordSearchTermsForURL(ctx, id); err != nil {
			return err
		}
		b.delegate.NotifyKeywordSearchTermDeleted(id)
		urls = append(urls, row.URL)
	}
	if len(urls) == 0 {
		return nil
	}
	return b.DeleteURLs(ctx, urls)
}

// QueryMostRepeatedQueriesForKeyword returns up to n terms of keyword,
// most visited first.
func (b *Backend) QueryMostRepeatedQueriesForKeyword(ctx context.Context, keyword storage.KeywordID, n int) ([]storage.KeywordSearchTermVisit, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	return b.db.MostRepeatedTerms(ctx, keyword, n)
}
