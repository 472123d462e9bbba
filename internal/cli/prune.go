package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/runnerr0/visitdb/internal/history"
)

// Execute implements the go-flags Commander interface for PruneCommand.
func (c *PruneCommand) Execute(args []string) error {
	return withSession(c.globals, func(ctx context.Context, s *session) error {
		return c.run(ctx, s, time.Now())
	})
}

// retention resolves the period to keep, from --older-than or the config.
func (c *PruneCommand) retention(s *session) (time.Duration, error) {
	if c.OlderThan != "" {
		d, err := parseDuration(c.OlderThan)
		if err != nil {
			return 0, fmt.Errorf("invalid --older-than value %q: %w", c.OlderThan, err)
		}
		return d, nil
	}
	if s.cfg.Retention.Days <= 0 {
		return 0, fmt.Errorf("no retention period configured; pass --older-than")
	}
	return time.Duration(s.cfg.Retention.Days) * 24 * time.Hour, nil
}

func (c *PruneCommand) run(ctx context.Context, s *session, now time.Time) error {
	keep, err := c.retention(s)
	if err != nil {
		return err
	}
	cutoff := now.Add(-keep)

	var visits int
	var urls int64
	err = s.svc.Do(ctx, func(b *history.Backend) error {
		var err error
		if urls, err = b.GetHistoryCount(ctx, time.Time{}, cutoff); err != nil {
			return err
		}
		if c.DryRun {
			old, err := b.DB().VisitsInRange(ctx, time.Time{}, cutoff, 0, "")
			visits = len(old)
			return err
		}
		visits, err = b.ExpireOlderThan(ctx, cutoff)
		return err
	})
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(map[string]any{
			"dry_run": c.DryRun,
			"cutoff":  formatTimeJSON(cutoff),
			"visits":  visits,
			"urls":    urls,
		})
	}

	verb := "Expired"
	if c.DryRun {
		verb = "Would expire"
	}
	fmt.Printf("%s %d visits of %d URLs older than %s (before %s).\n",
		verb, visits, urls, formatDurationHuman(keep), formatTime(cutoff))
	return nil
}
