package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// Keys in the meta table.
const (
	metaMayContainForeignVisits     = "may_contain_foreign_visits"
	metaDeleteForeignVisitsUntilID  = "delete_foreign_visits_until_id"
	metaKnownToSyncVisitsExist      = "known_to_sync_visits_exist"
	metaBrowsingTopicsAllowedBefore = "browsing_topics_allowed_before"
)

// GetMeta returns the value stored under key. ok is false when unset.
func (d *DB) GetMeta(ctx context.Context, key string) (value string, ok bool, err error) {
	err = d.scanOne(ctx, "SELECT value FROM meta WHERE key = ?", []any{key}, &value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, true, nil
}

// SetMeta stores value under key.
func (d *DB) SetMeta(ctx context.Context, key, value string) error {
	_, err := d.exec(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// DeleteMeta removes key.
func (d *DB) DeleteMeta(ctx context.Context, key string) error {
	_, err := d.exec(ctx, "DELETE FROM meta WHERE key = ?", key)
	return err
}

func (d *DB) metaInt(ctx context.Context, key string) (int64, error) {
	v, ok, err := d.GetMeta(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("meta %s: %w", key, err)
	}
	return n, nil
}

func (d *DB) setMetaBool(ctx context.Context, key string, v bool) error {
	s := "0"
	if v {
		s = "1"
	}
	return d.SetMeta(ctx, key, s)
}

// MayContainForeignVisits reports whether synced visits may be present.
func (d *DB) MayContainForeignVisits(ctx context.Context) (bool, error) {
	n, err := d.metaInt(ctx, metaMayContainForeignVisits)
	return n != 0, err
}

// SetMayContainForeignVisits records whether synced visits may be present.
func (d *DB) SetMayContainForeignVisits(ctx context.Context, v bool) error {
	return d.setMetaBool(ctx, metaMayContainForeignVisits, v)
}

// DeleteForeignVisitsUntilID returns the persisted high-water mark of a
// pending foreign-visit deletion, or 0 when none is pending.
func (d *DB) DeleteForeignVisitsUntilID(ctx context.Context) (VisitID, error) {
	n, err := d.metaInt(ctx, metaDeleteForeignVisitsUntilID)
	return VisitID(n), err
}

// SetDeleteForeignVisitsUntilID persists the high-water mark; 0 clears it.
func (d *DB) SetDeleteForeignVisitsUntilID(ctx context.Context, id VisitID) error {
	if id == 0 {
		return d.DeleteMeta(ctx, metaDeleteForeignVisitsUntilID)
	}
	return d.SetMeta(ctx, metaDeleteForeignVisitsUntilID, strconv.FormatInt(int64(id), 10))
}

// KnownToSyncVisitsExist reports whether any visit was marked known to sync.
func (d *DB) KnownToSyncVisitsExist(ctx context.Context) (bool, error) {
	n, err := d.metaInt(ctx, metaKnownToSyncVisitsExist)
	return n != 0, err
}

// SetKnownToSyncVisitsExist records whether any visit is known to sync.
func (d *DB) SetKnownToSyncVisitsExist(ctx context.Context, v bool) error {
	return d.setMetaBool(ctx, metaKnownToSyncVisitsExist, v)
}

// BrowsingTopicsAllowedBefore returns the time before which visits may
// feed browsing topics, or zero.
func (d *DB) BrowsingTopicsAllowedBefore(ctx context.Context) (int64, error) {
	return d.metaInt(ctx, metaBrowsingTopicsAllowedBefore)
}

// SetBrowsingTopicsAllowedBefore persists the topics cut-off time (microseconds).
func (d *DB) SetBrowsingTopicsAllowedBefore(ctx context.Context, micros int64) error {
	return d.SetMeta(ctx, metaBrowsingTopicsAllowedBefore, strconv.FormatInt(micros, 10))
}
