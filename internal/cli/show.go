package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/runnerr0/visitdb/internal/history"
	"github.com/runnerr0/visitdb/internal/storage"
)

type showVisitJSON struct {
	ID         int64  `json:"id"`
	Time       string `json:"time"`
	Transition string `json:"transition"`
	Duration   string `json:"duration,omitempty"`
	Referrer   string `json:"referrer,omitempty"`
	Foreign    bool   `json:"foreign"`
}

type showJSON struct {
	ID         int64           `json:"id"`
	URL        string          `json:"url"`
	Title      string          `json:"title"`
	VisitCount int             `json:"visit_count"`
	TypedCount int             `json:"typed_count"`
	LastVisit  string          `json:"last_visit,omitempty"`
	Hidden     bool            `json:"hidden"`
	Visits     []showVisitJSON `json:"visits"`
}

type shownVisit struct {
	storage.VisitRow
	referrer string
}

// Execute implements the go-flags Commander interface for ShowCommand.
func (c *ShowCommand) Execute(args []string) error {
	if c.URL == "" {
		return fmt.Errorf("--url is required for show command")
	}
	return withSession(c.globals, c.run)
}

func (c *ShowCommand) run(ctx context.Context, s *session) error {
	var row *storage.URLRow
	var visits []shownVisit
	err := s.svc.Do(ctx, func(b *history.Backend) error {
		var err error
		if row, err = b.GetURL(ctx, c.URL); err != nil {
			return err
		}
		recent, err := b.GetMostRecentVisitsForURL(ctx, row.ID, c.Visits)
		if err != nil {
			return err
		}
		for _, v := range recent {
			sv := shownVisit{VisitRow: v, referrer: v.ExternalReferrerURL}
			if v.ReferringVisit != 0 {
				sv.referrer = referrerURL(ctx, b, v.ReferringVisit)
			}
			visits = append(visits, sv)
		}
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("no history for %s", c.URL)
	}
	if err != nil {
		return fmt.Errorf("show: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return printShowJSON(row, visits)
	}

	title := row.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Println(title)
	fmt.Printf("URL:         %s\n", row.URL)
	fmt.Printf("Visits:      %d (typed %d)\n", row.VisitCount, row.TypedCount)
	if !row.LastVisit.IsZero() {
		fmt.Printf("Last visit:  %s (%s)\n", formatTime(row.LastVisit), humanize.Time(row.LastVisit))
	}
	if row.Hidden {
		fmt.Println("Hidden:      yes")
	}
	if len(visits) == 0 {
		return nil
	}
	fmt.Println()
	fmt.Println("Recent visits:")
	for _, v := range visits {
		line := fmt.Sprintf("  %s  %s", formatTime(v.VisitTime), v.Transition)
		if v.VisitDuration > 0 {
			line += "  " + v.VisitDuration.Round(time.Second).String()
		}
		if v.referrer != "" {
			line += "  from " + v.referrer
		}
		if v.IsForeign() {
			line += "  (synced)"
		}
		fmt.Println(line)
	}
	return nil
}

// referrerURL returns the URL of a referring visit, or "" if it is gone.
func referrerURL(ctx context.Context, b *history.Backend, id storage.VisitID) string {
	v, err := b.GetVisitByID(ctx, id)
	if err != nil {
		return ""
	}
	row, err := b.GetURLByID(ctx, v.URLID)
	if err != nil {
		return ""
	}
	return row.URL
}

func printShowJSON(row *storage.URLRow, visits []shownVisit) error {
	out := showJSON{
		ID:         int64(row.ID),
		URL:        row.URL,
		Title:      row.Title,
		VisitCount: row.VisitCount,
		TypedCount: row.TypedCount,
		LastVisit:  formatTimeJSON(row.LastVisit),
		Hidden:     row.Hidden,
		Visits:     make([]showVisitJSON, len(visits)),
	}
	for i, v := range visits {
		sv := showVisitJSON{
			ID:         int64(v.ID),
			Time:       formatTimeJSON(v.VisitTime),
			Transition: v.Transition.String(),
			Referrer:   v.referrer,
			Foreign:    v.IsForeign(),
		}
		if v.VisitDuration > 0 {
			sv.Duration = v.VisitDuration.String()
		}
		out.Visits[i] = sv
	}
	return printJSON(out)
}
