package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/runnerr0/visitdb/internal/history"
)

// Execute implements the go-flags Commander interface for SearchCommand.
func (c *SearchCommand) Execute(args []string) error {
	opts, err := c.queryOptions(time.Now())
	if err != nil {
		return err
	}
	return withSession(c.globals, func(ctx context.Context, s *session) error {
		return c.run(ctx, s, strings.Join(args, " "), opts)
	})
}

// queryOptions turns the flags into query options relative to now.
func (c *SearchCommand) queryOptions(now time.Time) (history.QueryOptions, error) {
	opts := history.QueryOptions{
		MaxCount:    c.Limit,
		OldestFirst: c.OldestFirst,
		AppID:       c.App,
	}
	switch {
	case c.AllDuplicates && c.PerDay:
		return opts, fmt.Errorf("--all-duplicates and --per-day are mutually exclusive")
	case c.AllDuplicates:
		opts.DuplicatePolicy = history.KeepAllDuplicates
	case c.PerDay:
		opts.DuplicatePolicy = history.RemoveDuplicatesPerDay
	}

	if c.Since != "" {
		dur, err := parseDuration(c.Since)
		if err != nil {
			return opts, fmt.Errorf("invalid --since value %q: %w", c.Since, err)
		}
		opts.Begin = now.Add(-dur)
	}
	if c.Until != "" {
		dur, err := parseDuration(c.Until)
		if err != nil {
			return opts, fmt.Errorf("invalid --until value %q: %w", c.Until, err)
		}
		opts.End = now.Add(-dur)
	}
	return opts, nil
}

func (c *SearchCommand) run(ctx context.Context, s *session, query string, opts history.QueryOptions) error {
	var res *history.QueryResults
	err := s.svc.Do(ctx, func(b *history.Backend) error {
		var err error
		res, err = b.QueryHistory(ctx, query, opts)
		return err
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return c.printJSON(query, res)
	}
	return c.printHuman(query, res)
}

func (c *SearchCommand) printHuman(query string, res *history.QueryResults) error {
	if len(res.Results) == 0 {
		if query != "" {
			fmt.Printf("No results found for %q (since %s)\n", query, c.Since)
		} else {
			fmt.Printf("No results found (since %s)\n", c.Since)
		}
		return nil
	}

	resultWord := "results"
	if len(res.Results) == 1 {
		resultWord = "result"
	}
	if query != "" {
		fmt.Printf("Found %d %s for %q (since %s)\n\n", len(res.Results), resultWord, query, c.Since)
	} else {
		fmt.Printf("Found %d %s (since %s)\n\n", len(res.Results), resultWord, c.Since)
	}

	for i, r := range res.Results {
		title := r.Title
		if title == "" {
			title = r.URL
		}
		fmt.Printf("%d. %s\n", i+1, title)
		fmt.Printf("   %s\n", r.URL)
		fmt.Printf("   %s · %d visits\n", formatTime(r.VisitTime), r.VisitCount)
		if i < len(res.Results)-1 {
			fmt.Println()
		}
	}
	if !res.ReachedBeginning {
		fmt.Println()
		fmt.Println("More results are available; widen --since or raise --limit.")
	}
	return nil
}

type jsonResult struct {
	VisitID    int64  `json:"visit_id"`
	URL        string `json:"url"`
	Title      string `json:"title"`
	VisitTime  string `json:"visit_time"`
	VisitCount int    `json:"visit_count"`
	TypedCount int    `json:"typed_count"`
}

type jsonSearchOutput struct {
	Count            int          `json:"count"`
	Query            string       `json:"query"`
	ReachedBeginning bool         `json:"reached_beginning"`
	Results          []jsonResult `json:"results"`
}

func (c *SearchCommand) printJSON(query string, res *history.QueryResults) error {
	out := jsonSearchOutput{
		Count:            len(res.Results),
		Query:            query,
		ReachedBeginning: res.ReachedBeginning,
		Results:          make([]jsonResult, len(res.Results)),
	}
	for i, r := range res.Results {
		out.Results[i] = jsonResult{
			VisitID:    int64(r.VisitID),
			URL:        r.URL,
			Title:      r.Title,
			VisitTime:  formatTimeJSON(r.VisitTime),
			VisitCount: r.VisitCount,
			TypedCount: r.TypedCount,
		}
	}
	return printJSON(out)
}
