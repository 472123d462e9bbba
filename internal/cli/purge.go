package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/runnerr0/visitdb/internal/history"
)

// confirmInput is where the purge prompt reads from; tests replace it.
var confirmInput io.Reader = os.Stdin

// Execute implements the go-flags Commander interface for PurgeCommand.
func (c *PurgeCommand) Execute(args []string) error {
	if !c.All {
		return fmt.Errorf("purge requires --all flag for safety")
	}

	if !c.Force {
		fmt.Println("⚠ WARNING: This will permanently delete ALL history.")
		fmt.Println("  - All visited URLs and visits")
		fmt.Println("  - All annotations, clusters and search terms")
		fmt.Println("  - All most visited sites")
		fmt.Println()
		fmt.Println("Pinned URLs keep their rows with counts reset. This action cannot be undone.")
		fmt.Println()
		fmt.Print(`Type "PURGE" to confirm: `)

		scanner := bufio.NewScanner(confirmInput)
		if !scanner.Scan() {
			return fmt.Errorf("aborted: no input received")
		}
		if strings.TrimSpace(scanner.Text()) != "PURGE" {
			return fmt.Errorf("aborted: confirmation text did not match")
		}
	}

	return withSession(c.globals, c.run)
}

func (c *PurgeCommand) run(ctx context.Context, s *session) error {
	err := s.svc.Do(ctx, func(b *history.Backend) error {
		return b.DeleteAllHistory(ctx)
	})
	if err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(map[string]any{
			"purged":  true,
			"message": "all history deleted",
		})
	}
	fmt.Println("Purged all history.")
	return nil
}
