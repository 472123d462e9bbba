package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/runnerr0/visitdb/internal/storage"
)

// ReserveNextClusterIDWithVisit creates a cluster holding cv and returns
// its id.
func (b *Backend) ReserveNextClusterIDWithVisit(ctx context.Context, cv storage.ClusterVisit) (storage.ClusterID, error) {
	if err := b.ready(); err != nil {
		return 0, err
	}
	var id storage.ClusterID
	err := b.withSavepoint(ctx, "cluster", func(*notifyQueue) error {
		var err error
		if id, err = b.db.ReserveClusterID(ctx, "", 0); err != nil {
			return err
		}
		return b.db.PutClusterVisit(ctx, id, cv)
	})
	if err != nil {
		return 0, err
	}
	b.ScheduleCommit()
	return id, nil
}

// AddVisitsToCluster adds visits to an existing cluster.
func (b *Backend) AddVisitsToCluster(ctx context.Context, id storage.ClusterID, visits []storage.ClusterVisit) error {
	if err := b.ready(); err != nil {
		return err
	}
	if _, err := b.db.GetCluster(ctx, id); err != nil {
		return fmt.Errorf("cluster %d: %w", id, err)
	}
	err := b.withSavepoint(ctx, "cluster", func(*notifyQueue) error {
		return b.putClusterVisits(ctx, id, visits)
	})
	if err != nil {
		return err
	}
	b.ScheduleCommit()
	return nil
}

func (b *Backend) putClusterVisits(ctx context.Context, id storage.ClusterID, visits []storage.ClusterVisit) error {
	for _, cv := range visits {
		if err := b.db.PutClusterVisit(ctx, id, cv); err != nil {
			return err
		}
	}
	return nil
}

// AddVisitToSyncedCluster merges the visits of a cluster synced from guid
// into its local mirror, creating the mirror on first sight. Every
// (guid, originatorClusterID) pair maps to exactly one local cluster.
func (b *Backend) AddVisitToSyncedCluster(ctx context.Context, c storage.Cluster, guid string, originatorClusterID storage.ClusterID) (storage.ClusterID, error) {
	if err := b.ready(); err != nil {
		return 0, err
	}
	if guid == "" || originatorClusterID == 0 {
		return 0, fmt.Errorf("synced cluster needs an originator")
	}
	var id storage.ClusterID
	err := b.withSavepoint(ctx, "cluster", func(*notifyQueue) error {
		var err error
		if id, err = b.db.ClusterIDForOriginator(ctx, guid, originatorClusterID); err != nil {
			return err
		}
		if id == 0 {
			if id, err = b.db.ReserveClusterID(ctx, guid, originatorClusterID); err != nil {
				return err
			}
		}
		if err := b.putClusterVisits(ctx, id, c.Visits); err != nil {
			return err
		}
		c.ID = id
		return b.storeClusterDetails(ctx, c)
	})
	if err != nil {
		return 0, err
	}
	b.ScheduleCommit()
	return id, nil
}

// storeClusterDetails writes the triggerability fields and keywords of c
// when they are set.
func (b *Backend) storeClusterDetails(ctx context.Context, c storage.Cluster) error {
	if c.TriggerabilityCalculated {
		if err := b.db.UpdateClusterTriggerability(ctx, c); err != nil {
			return err
		}
	}
	if len(c.Keywords) > 0 {
		return b.db.PutClusterKeywords(ctx, c.ID, c.Keywords)
	}
	return nil
}

// UpdateClusterVisit replaces the stored membership of cv.VisitID.
func (b *Backend) UpdateClusterVisit(ctx context.Context, cv storage.ClusterVisit) error {
	if err := b.ready(); err != nil {
		return err
	}
	id, err := b.db.ClusterIDContainingVisit(ctx, cv.VisitID)
	if err != nil {
		return err
	}
	if id == 0 {
		return fmt.Errorf("visit %d is not clustered: %w", cv.VisitID, storage.ErrNotFound)
	}
	if err := b.db.PutClusterVisit(ctx, id, cv); err != nil {
		return err
	}
	b.ScheduleCommit()
	return nil
}

// UpdateVisitsInteractionState sets how the user handled visits inside
// their clusters.
func (b *Backend) UpdateVisitsInteractionState(ctx context.Context, visits []storage.VisitID, state storage.InteractionState) error {
	if err := b.ready(); err != nil {
		return err
	}
	if err := b.db.UpdateInteractionState(ctx, visits, state); err != nil {
		return err
	}
	b.ScheduleCommit()
	return nil
}

// HideVisits hides visits from cluster surfaces.
func (b *Backend) HideVisits(ctx context.Context, visits []storage.VisitID) error {
	return b.UpdateVisitsInteractionState(ctx, visits, storage.InteractionHidden)
}

// UpdateClusterTriggerability stores computed labels, surfaces and
// keywords for clusters. Unknown clusters are skipped.
func (b *Backend) UpdateClusterTriggerability(ctx context.Context, clusters []storage.Cluster) error {
	if err := b.ready(); err != nil {
		return err
	}
	err := b.withSavepoint(ctx, "cluster", func(*notifyQueue) error {
		for _, c := range clusters {
			if _, err := b.db.GetCluster(ctx, c.ID); errors.Is(err, storage.ErrNotFound) {
				continue
			} else if err != nil {
				return err
			}
			c.TriggerabilityCalculated = true
			if err := b.storeClusterDetails(ctx, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	b.ScheduleCommit()
	return nil
}

// ReplaceClusters deletes remove and stores add as new clusters, in one
// step.
func (b *Backend) ReplaceClusters(ctx context.Context, remove []storage.ClusterID, add []storage.Cluster) error {
	if err := b.ready(); err != nil {
		return err
	}
	err := b.withSavepoint(ctx, "cluster", func(*notifyQueue) error {
		if err := b.db.DeleteClusters(ctx, remove); err != nil {
			return err
		}
		for _, c := range add {
			id, err := b.db.ReserveClusterID(ctx, c.OriginatorCacheGUID, c.OriginatorClusterID)
			if err != nil {
				return err
			}
			if err := b.putClusterVisits(ctx, id, c.Visits); err != nil {
				return err
			}
			c.ID = id
			if err := b.storeClusterDetails(ctx, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	b.ScheduleCommit()
	return nil
}

// GetCluster returns a cluster with its visits. Keywords and duplicate
// visit ids are only filled in when withDetails is set.
func (b *Backend) GetCluster(ctx context.Context, id storage.ClusterID, withDetails bool) (*storage.Cluster, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	c, err := b.db.GetCluster(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Visits, err = b.db.ClusterVisits(ctx, id); err != nil {
		return nil, err
	}
	if !withDetails {
		for i := range c.Visits {
			c.Visits[i].DuplicateVisitIDs = nil
		}
		return c, nil
	}
	if c.Keywords, err = b.db.ClusterKeywords(ctx, id); err != nil {
		return nil, err
	}
	return c, nil
}

// GetMostRecentClusters returns up to max clusters whose newest visit is
// in [minTime, maxTime), newest first. A zero maxTime is open.
func (b *Backend) GetMostRecentClusters(ctx context.Context, minTime, maxTime time.Time, max int, withDetails bool) ([]storage.Cluster, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	ids, err := b.db.MostRecentClusterIDs(ctx, minTime, maxTime, max)
	if err != nil {
		return nil, err
	}
	out := make([]storage.Cluster, 0, len(ids))
	for _, id := range ids {
		c, err := b.GetCluster(ctx, id, withDetails)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

// GetClusterIDContainingVisit returns the cluster holding visit, or 0.
func (b *Backend) GetClusterIDContainingVisit(ctx context.Context, visit storage.VisitID) (storage.ClusterID, error) {
	if err := b.ready(); err != nil {
		return 0, err
	}
	return b.db.ClusterIDContainingVisit(ctx, visit)
}

// FindMostRecentClusteredTime returns the newest visit time among
// clustered visits, or zero.
func (b *Backend) FindMostRecentClusteredTime(ctx context.Context) (time.Time, error) {
	if err := b.ready(); err != nil {
		return time.Time{}, err
	}
	return b.db.MostRecentClusteredTime(ctx)
}
