package cli

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/runnerr0/visitdb/internal/history"
	"github.com/runnerr0/visitdb/internal/storage"
	"github.com/runnerr0/visitdb/internal/transition"
)

// Execute implements the go-flags Commander interface for AddCommand.
func (c *AddCommand) Execute(args []string) error {
	if c.URL == "" {
		return fmt.Errorf("--url is required for add command")
	}
	parsed, err := url.Parse(c.URL)
	if err != nil || parsed.Scheme == "" {
		return fmt.Errorf("invalid URL: %s", c.URL)
	}
	core, ok := transition.Parse(c.Transition)
	if !ok {
		return fmt.Errorf("unknown transition %q", c.Transition)
	}

	return withSession(c.globals, func(ctx context.Context, s *session) error {
		return c.run(ctx, s, core)
	})
}

func (c *AddCommand) run(ctx context.Context, s *session, core transition.Transition) error {
	args := history.AddPageArgs{
		URL:        c.URL,
		Time:       time.Now(),
		Referrer:   c.Referrer,
		Transition: core,
		Hidden:     c.Hidden,
		Title:      c.Title,
		AppID:      c.App,
		Source:     storage.SourceBrowsed,

		ConsiderForNTPMostVisited: true,
	}
	if len(c.Redirect) > 0 {
		args.Redirects = append(append([]string(nil), c.Redirect...), c.URL)
	}

	var row *storage.URLRow
	err := s.svc.Do(ctx, func(b *history.Backend) error {
		if !b.CanAddURL(c.URL) {
			return fmt.Errorf("URL %q is excluded from history", c.URL)
		}
		if err := b.AddPage(ctx, args); err != nil {
			return err
		}
		if c.Title != "" {
			if err := b.SetPageTitle(ctx, c.URL, c.Title); err != nil {
				return err
			}
		}
		var err error
		row, err = b.GetURL(ctx, c.URL)
		return err
	})
	if err != nil {
		return fmt.Errorf("recording visit: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return printJSON(map[string]any{
			"id":          row.ID,
			"url":         row.URL,
			"title":       row.Title,
			"visit_count": row.VisitCount,
			"typed_count": row.TypedCount,
			"last_visit":  formatTimeJSON(row.LastVisit),
		})
	}

	fmt.Printf("Recorded visit to %s (%s)\n", row.URL, formatTime(row.LastVisit))
	if row.Title != "" {
		fmt.Printf("  Title: %s\n", row.Title)
	}
	fmt.Printf("  Visits: %d (typed %d)\n", row.VisitCount, row.TypedCount)
	return nil
}
