package cli

import (
	"context"
	"fmt"

	"github.com/runnerr0/visitdb/internal/history"
)

type topJSON struct {
	URL   string  `json:"url"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// Execute implements the go-flags Commander interface for TopCommand.
func (c *TopCommand) Execute(args []string) error {
	if c.Limit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}
	return withSession(c.globals, c.run)
}

func (c *TopCommand) run(ctx context.Context, s *session) error {
	var top []history.MostVisitedURL
	err := s.svc.Do(ctx, func(b *history.Backend) error {
		var err error
		top, err = b.QueryMostVisitedURLs(ctx, c.Limit)
		return err
	})
	if err != nil {
		return fmt.Errorf("most visited: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		out := make([]topJSON, len(top))
		for i, t := range top {
			out[i] = topJSON{URL: t.URL, Title: t.Title, Score: t.Score}
		}
		return printJSON(out)
	}

	if len(top) == 0 {
		fmt.Println("No most visited sites yet.")
		return nil
	}
	for i, t := range top {
		title := t.Title
		if title == "" {
			title = t.URL
		}
		fmt.Printf("%2d. %-40s %6.2f  %s\n", i+1, title, t.Score, t.URL)
	}
	return nil
}
