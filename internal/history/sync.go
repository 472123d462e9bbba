package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/runnerr0/visitdb/internal/metrics"
	"github.com/runnerr0/visitdb/internal/storage"
	"github.com/runnerr0/visitdb/internal/transition"
)

var (
	// ErrInvalidSyncedVisit is returned for a synced visit that carries a
	// local id or lacks its originator.
	ErrInvalidSyncedVisit = errors.New("invalid synced visit")
	// ErrURLRejected is returned when a synced visit's URL may not be
	// stored.
	ErrURLRejected = errors.New("url not eligible for history")
	// ErrVisitPendingDeletion is returned by UpdateSyncedVisit for a
	// foreign visit already scheduled for deletion.
	ErrVisitPendingDeletion = errors.New("visit is scheduled for deletion")
	// ErrVisitMismatch is returned by UpdateSyncedVisit when the stored
	// visit at that time belongs to another device or URL.
	ErrVisitMismatch = errors.New("stored visit does not match synced visit")
)

func validateSyncedVisit(v storage.VisitRow) error {
	switch {
	case v.ID != 0:
		return fmt.Errorf("%w: has local id %d", ErrInvalidSyncedVisit, v.ID)
	case v.URLID != 0:
		return fmt.Errorf("%w: has local url id %d", ErrInvalidSyncedVisit, v.URLID)
	case v.VisitTime.IsZero():
		return fmt.Errorf("%w: no visit time", ErrInvalidSyncedVisit)
	case v.OriginatorCacheGUID == "":
		return fmt.Errorf("%w: no originator", ErrInvalidSyncedVisit)
	}
	return nil
}

// applySyncedContent stores the content fields sync carries.
func (b *Backend) applySyncedContent(ctx context.Context, id storage.VisitID, content *storage.ContentAnnotations) error {
	if content == nil {
		return nil
	}
	return b.updateContent(ctx, id, func(c *storage.ContentAnnotations) {
		c.PageLanguage = content.PageLanguage
		c.PasswordState = content.PasswordState
	})
}

// AddSyncedVisit stores a visit received from another device and returns
// its local id. visit must have no local ids and must name its originator.
func (b *Backend) AddSyncedVisit(ctx context.Context, rawURL, title string, hidden bool, visit storage.VisitRow,
	contextAnn *storage.ContextAnnotations, content *storage.ContentAnnotations) (storage.VisitID, error) {
	if err := validateSyncedVisit(visit); err != nil {
		return 0, err
	}
	if err := b.ready(); err != nil {
		return 0, err
	}
	pageURL, err := NormalizeURL(rawURL)
	if err != nil {
		return 0, err
	}
	if !b.CanAddURL(pageURL) {
		return 0, ErrURLRejected
	}

	var id storage.VisitID
	err = b.withSavepoint(ctx, "synced_visit", func(q *notifyQueue) error {
		_, added, err := b.addPageVisit(ctx, q, pageVisit{
			url:                      pageURL,
			time:                     visit.VisitTime,
			referringVisit:           visit.ReferringVisit,
			externalReferrer:         visit.ExternalReferrerURL,
			transition:               visit.Transition,
			hidden:                   hidden,
			source:                   storage.SourceSynced,
			incrementTyped:           transition.IsTypedIncrement(visit.Transition),
			openerVisit:              visit.OpenerVisit,
			considerForNTP:           visit.ConsiderForNTPMostVisited,
			title:                    title,
			appID:                    visit.AppID,
			duration:                 visit.VisitDuration,
			originatorCacheGUID:      visit.OriginatorCacheGUID,
			originatorVisitID:        visit.OriginatorVisitID,
			originatorReferringVisit: visit.OriginatorReferringVisit,
			originatorOpenerVisit:    visit.OriginatorOpenerVisit,
			knownToSync:              visit.IsKnownToSync,
		})
		if err != nil {
			return err
		}
		id = added.ID

		if contextAnn != nil {
			if err := b.db.PutContextAnnotations(ctx, id, *contextAnn); err != nil {
				return err
			}
		}
		if err := b.applySyncedContent(ctx, id, content); err != nil {
			return err
		}
		if err := b.db.SetMayContainForeignVisits(ctx, true); err != nil {
			return err
		}
		if b.canAddForeignVisitsToSegments && b.canAddForeignVisitToSegments(visit) {
			if _, err := b.AssignSegmentForNewVisit(ctx, pageURL, visit.ReferringVisit, id,
				visit.Transition, visit.VisitTime); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		b.logger.Warn("adding synced visit failed", "url", pageURL, "originator", visit.OriginatorCacheGUID, "error", err)
		return 0, err
	}
	b.ScheduleCommit()
	return id, nil
}

// UpdateSyncedVisit merges a changed synced visit into the stored row with
// the same time and originator. The local referrer, opener and segment are
// kept; the segment is then recomputed. A row already scheduled for
// foreign-visit deletion is not revived.
func (b *Backend) UpdateSyncedVisit(ctx context.Context, rawURL, title string, hidden bool, visit storage.VisitRow,
	contextAnn *storage.ContextAnnotations, content *storage.ContentAnnotations) (storage.VisitID, error) {
	if err := validateSyncedVisit(visit); err != nil {
		return 0, err
	}
	if err := b.ready(); err != nil {
		return 0, err
	}
	pageURL, err := NormalizeURL(rawURL)
	if err != nil {
		return 0, err
	}

	original, err := b.db.LastVisitAtTime(ctx, visit.VisitTime)
	if err != nil {
		return 0, err
	}
	if original.OriginatorCacheGUID != visit.OriginatorCacheGUID {
		return 0, fmt.Errorf("%w: visit %d came from %q", ErrVisitMismatch, original.ID, original.OriginatorCacheGUID)
	}
	until, err := b.db.DeleteForeignVisitsUntilID(ctx)
	if err != nil {
		return 0, err
	}
	if original.ID <= until {
		return 0, ErrVisitPendingDeletion
	}
	row, err := b.db.GetURL(ctx, original.URLID)
	if err != nil {
		return 0, err
	}
	if row.URL != pageURL {
		return 0, fmt.Errorf("%w: visit %d is for %q", ErrVisitMismatch, original.ID, row.URL)
	}

	updated := visit
	updated.ID = original.ID
	updated.URLID = original.URLID
	updated.ReferringVisit = original.ReferringVisit
	updated.OpenerVisit = original.OpenerVisit
	updated.SegmentID = original.SegmentID

	err = b.withSavepoint(ctx, "synced_visit", func(q *notifyQueue) error {
		row.Title = title
		row.Hidden = hidden
		if err := b.db.UpdateURL(ctx, *row); err != nil {
			return err
		}
		if err := b.db.UpdateVisit(ctx, &updated); err != nil {
			return err
		}
		if b.canAddForeignVisitsToSegments {
			if err := b.UpdateSegmentForExistingForeignVisit(ctx, &updated); err != nil {
				return err
			}
		}
		if contextAnn != nil {
			if err := b.putContextAnnotations(ctx, updated.ID, true, *contextAnn); err != nil {
				return err
			}
		}
		return b.applySyncedContent(ctx, updated.ID, content)
	})
	if err != nil {
		return 0, err
	}
	b.notifyVisitUpdated(updated, VisitUpdateSyncedVisit)
	b.ScheduleCommit()
	return updated.ID, nil
}

// GetForeignVisit returns the local copy of a visit synced from guid.
func (b *Backend) GetForeignVisit(ctx context.Context, guid string, originatorVisitID storage.VisitID) (*storage.VisitRow, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	return b.db.VisitByOriginator(ctx, guid, originatorVisitID)
}

// MarkVisitAsKnownToSync flags a visit as uploaded.
func (b *Backend) MarkVisitAsKnownToSync(ctx context.Context, id storage.VisitID) error {
	if err := b.ready(); err != nil {
		return err
	}
	visit, err := b.db.GetVisit(ctx, id)
	if err != nil {
		return err
	}
	visit.IsKnownToSync = true
	if err := b.db.UpdateVisit(ctx, visit); err != nil {
		return err
	}
	if err := b.db.SetKnownToSyncVisitsExist(ctx, true); err != nil {
		return err
	}
	b.notifyVisitUpdated(*visit, VisitUpdateKnownToSync)
	b.ScheduleCommit()
	return nil
}

// UpdateVisitReferrerOpenerIDs sets the local referrer and opener of a
// visit once sync has resolved them.
func (b *Backend) UpdateVisitReferrerOpenerIDs(ctx context.Context, id, referrer, opener storage.VisitID) error {
	if err := b.ready(); err != nil {
		return err
	}
	visit, err := b.db.GetVisit(ctx, id)
	if err != nil {
		return err
	}
	visit.ReferringVisit = referrer
	visit.OpenerVisit = opener
	if err := b.db.UpdateVisit(ctx, visit); err != nil {
		return err
	}
	if b.canAddForeignVisitsToSegments && visit.IsForeign() {
		if err := b.UpdateSegmentForExistingForeignVisit(ctx, visit); err != nil {
			return err
		}
	}
	b.notifyVisitUpdated(*visit, VisitUpdateReferrerOpener)
	b.ScheduleCommit()
	return nil
}

// SetSyncDeviceInfo replaces the known devices. The local device from the
// configuration is kept unless the map describes it.
func (b *Backend) SetSyncDeviceInfo(devices map[string]DeviceInfo) {
	next := make(map[string]DeviceInfo, len(devices)+1)
	for guid, info := range devices {
		next[guid] = info
	}
	if local, ok := b.syncDevices[b.localDeviceGUID]; ok && b.localDeviceGUID != "" {
		if _, described := next[b.localDeviceGUID]; !described {
			next[b.localDeviceGUID] = local
		}
	}
	b.syncDevices = next
}

// SetLocalDeviceOriginatorCacheGuid sets the id this device syncs under.
func (b *Backend) SetLocalDeviceOriginatorCacheGuid(guid string) {
	if info, ok := b.syncDevices[b.localDeviceGUID]; ok {
		if _, described := b.syncDevices[guid]; !described {
			b.syncDevices[guid] = info
		}
	}
	b.localDeviceGUID = guid
}

// SetCanAddForeignVisitsToSegments turns cross-device most visited on or
// off.
func (b *Backend) SetCanAddForeignVisitsToSegments(v bool) {
	b.canAddForeignVisitsToSegments = v
}

// DeleteAllForeignVisitsAndResetIsKnownToSync is called when history sync
// is turned off. Every visit loses its known-to-sync flag and the foreign
// visits that exist now are deleted in batches by a queued task. Foreign
// visits added after this call are not touched.
func (b *Backend) DeleteAllForeignVisitsAndResetIsKnownToSync(ctx context.Context) error {
	if err := b.ready(); err != nil {
		return err
	}
	known, err := b.db.KnownToSyncVisitsExist(ctx)
	if err != nil {
		return err
	}
	if known {
		if err := b.db.SetKnownToSyncVisitsExist(ctx, false); err != nil {
			return err
		}
		if err := b.db.ClearKnownToSync(ctx); err != nil {
			return err
		}
	}

	mayContain, err := b.db.MayContainForeignVisits(ctx)
	if err != nil {
		return err
	}
	if mayContain {
		until, err := b.db.DeleteForeignVisitsUntilID(ctx)
		if err != nil {
			return err
		}
		running := until != 0
		maxID, err := b.db.MaxVisitID(ctx)
		if err != nil {
			return err
		}
		if err := b.db.SetDeleteForeignVisitsUntilID(ctx, maxID); err != nil {
			return err
		}
		// Cleared now so foreign visits arriving before the deletion
		// finishes can set it again.
		if err := b.db.SetMayContainForeignVisits(ctx, false); err != nil {
			return err
		}
		// A running task picks up the new mark by itself.
		if !running {
			b.startDeletingForeignVisits()
		}
	}
	b.ScheduleCommit()
	return nil
}

func (b *Backend) startDeletingForeignVisits() {
	b.ProcessDBTask(&deleteForeignVisitsTask{}, b.seq, nil)
}

// deleteForeignVisitsTask removes one batch of foreign visits at or below
// the persisted mark per step, and clears the mark when none are left.
type deleteForeignVisitsTask struct{}

func (t *deleteForeignVisitsTask) RunOnDBSequence(ctx context.Context, b *Backend, db *storage.DB) TaskStatus {
	until, err := db.DeleteForeignVisitsUntilID(ctx)
	if err != nil || until == 0 {
		return TaskDone
	}
	batch := b.cfg.Engine.ForeignVisitDeleteBatch
	if batch <= 0 {
		batch = 100
	}
	visits, err := db.ForeignVisitsUpTo(ctx, until, batch)
	if err != nil {
		b.logger.Warn("listing foreign visits failed", "error", err)
		return TaskDone
	}
	if len(visits) == 0 {
		if err := db.SetDeleteForeignVisitsUntilID(ctx, 0); err != nil {
			b.logger.Warn("clearing foreign deletion mark failed", "error", err)
		}
		b.ScheduleCommit()
		return TaskDone
	}
	if err := b.removeVisits(ctx, visits, metrics.ReasonForeign); err != nil {
		b.logger.Warn("deleting foreign visits failed", "error", err)
		return TaskDone
	}
	b.ScheduleCommit()
	return TaskContinue
}

func (t *deleteForeignVisitsTask) DoneRunOnMainSequence(canceled bool) {}
