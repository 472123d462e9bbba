package cli

import (
	"context"
	"fmt"

	"github.com/runnerr0/visitdb/internal/history"
)

// Execute implements the go-flags Commander interface for RedirectsCommand.
func (c *RedirectsCommand) Execute(args []string) error {
	if c.URL == "" {
		return fmt.Errorf("--url is required for redirects command")
	}
	return withSession(c.globals, c.run)
}

func (c *RedirectsCommand) run(ctx context.Context, s *session) error {
	var hops []string
	err := s.svc.Do(ctx, func(b *history.Backend) error {
		var err error
		if c.To {
			hops, err = b.QueryRedirectsTo(ctx, c.URL)
		} else {
			hops, err = b.QueryRedirectsFrom(ctx, c.URL)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("redirects: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		if hops == nil {
			hops = []string{}
		}
		return printJSON(map[string]any{"url": c.URL, "to": c.To, "redirects": hops})
	}

	if len(hops) == 0 {
		fmt.Printf("No redirects recorded for %s\n", c.URL)
		return nil
	}
	arrow := "->"
	if c.To {
		arrow = "<-"
	}
	fmt.Println(c.URL)
	for _, h := range hops {
		fmt.Printf("  %s %s\n", arrow, h)
	}
	return nil
}
