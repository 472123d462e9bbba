package cli

import (
	"context"
	"fmt"

	"github.com/runnerr0/visitdb/internal/history"
	"github.com/runnerr0/visitdb/internal/storage"
)

// Execute implements the go-flags Commander interface for ForgetSyncedCommand.
func (c *ForgetSyncedCommand) Execute(args []string) error {
	return withSession(c.globals, c.run)
}

func (c *ForgetSyncedCommand) run(ctx context.Context, s *session) error {
	var before *storage.Stats
	err := s.svc.Do(ctx, func(b *history.Backend) error {
		var err error
		if before, err = b.GetStats(ctx); err != nil {
			return err
		}
		return b.DeleteAllForeignVisitsAndResetIsKnownToSync(ctx)
	})
	if err != nil {
		return fmt.Errorf("forget synced visits: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(map[string]any{"foreign_visits": before.ForeignVisits})
	}
	fmt.Printf("Deleting %d visits synced from other devices.\n", before.ForeignVisits)
	return nil
}
