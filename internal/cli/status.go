package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/runnerr0/visitdb/internal/history"
	"github.com/runnerr0/visitdb/internal/storage"
)

// statusJSON is the JSON output structure for the status command.
type statusJSON struct {
	Version           string             `json:"version"`
	DatabasePath      string             `json:"database_path"`
	DatabaseSizeBytes int64              `json:"database_size_bytes"`
	TotalURLs         int64              `json:"total_urls"`
	TotalVisits       int64              `json:"total_visits"`
	ForeignVisits     int64              `json:"foreign_visits"`
	Segments          int64              `json:"segments"`
	Clusters          int64              `json:"clusters"`
	OldestVisit       string             `json:"oldest_visit,omitempty"`
	NewestVisit       string             `json:"newest_visit,omitempty"`
	RetentionDays     int                `json:"retention_days"`
	TopHosts          []hostCountJSON    `json:"top_hosts"`
	Metrics           map[string]float64 `json:"metrics,omitempty"`
}

type hostCountJSON struct {
	Host  string `json:"host"`
	Count int64  `json:"count"`
}

// Execute implements the go-flags Commander interface for StatusCommand.
func (c *StatusCommand) Execute(args []string) error {
	return withSession(c.globals, c.run)
}

func (c *StatusCommand) run(ctx context.Context, s *session) error {
	var stats *storage.Stats
	err := s.svc.Do(ctx, func(b *history.Backend) error {
		var err error
		stats, err = b.GetStats(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	var snapshot map[string]float64
	if c.globals != nil && c.globals.Verbose {
		if snapshot, err = s.metrics.Snapshot(); err != nil {
			return fmt.Errorf("read metrics: %w", err)
		}
	}

	if c.globals != nil && c.globals.JSON {
		return c.printStatusJSON(s, stats, snapshot)
	}
	return c.printStatusHuman(s, stats, snapshot)
}

func (c *StatusCommand) printStatusHuman(s *session, stats *storage.Stats, snapshot map[string]float64) error {
	fmt.Println("visitdb status")
	fmt.Println("==============")
	fmt.Printf("Version:       %s\n", c.version)
	fmt.Printf("Database:      %s (%s)\n", s.dbPath, humanize.Bytes(uint64(stats.DatabaseSizeBytes)))
	fmt.Printf("URLs:          %s\n", humanize.Comma(stats.TotalURLs))
	fmt.Printf("Visits:        %s", humanize.Comma(stats.TotalVisits))
	if stats.ForeignVisits > 0 {
		fmt.Printf(" (%s from other devices)", humanize.Comma(stats.ForeignVisits))
	}
	fmt.Println()
	fmt.Printf("Segments:      %s\n", humanize.Comma(stats.TotalSegments))
	fmt.Printf("Clusters:      %s\n", humanize.Comma(stats.TotalClusters))

	if stats.TotalVisits > 0 {
		fmt.Printf("Oldest:        %s (%s)\n", stats.OldestVisit.Local().Format("2006-01-02"), humanize.Time(stats.OldestVisit))
		fmt.Printf("Newest:        %s (%s)\n", stats.NewestVisit.Local().Format("2006-01-02"), humanize.Time(stats.NewestVisit))
	}

	if s.cfg.Retention.Days > 0 {
		fmt.Printf("Retention:     %d days\n", s.cfg.Retention.Days)
	} else {
		fmt.Println("Retention:     forever")
	}

	if len(stats.TopHosts) > 0 {
		fmt.Println()
		fmt.Println("Top Hosts:")
		for _, h := range stats.TopHosts {
			fmt.Printf("  %-28s %s\n", h.Host, humanize.Comma(h.Count))
		}
	}

	if len(snapshot) > 0 {
		fmt.Println()
		fmt.Println("Metrics:")
		names := make([]string, 0, len(snapshot))
		for name := range snapshot {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %-40s %g\n", name, snapshot[name])
		}
	}
	return nil
}

func (c *StatusCommand) printStatusJSON(s *session, stats *storage.Stats, snapshot map[string]float64) error {
	out := statusJSON{
		Version:           c.version,
		DatabasePath:      s.dbPath,
		DatabaseSizeBytes: stats.DatabaseSizeBytes,
		TotalURLs:         stats.TotalURLs,
		TotalVisits:       stats.TotalVisits,
		ForeignVisits:     stats.ForeignVisits,
		Segments:          stats.TotalSegments,
		Clusters:          stats.TotalClusters,
		OldestVisit:       formatTimeJSON(stats.OldestVisit),
		NewestVisit:       formatTimeJSON(stats.NewestVisit),
		RetentionDays:     s.cfg.Retention.Days,
		TopHosts:          make([]hostCountJSON, len(stats.TopHosts)),
		Metrics:           snapshot,
	}
	for i, h := range stats.TopHosts {
		out.TopHosts[i] = hostCountJSON{Host: h.Host, Count: h.Count}
	}
	return printJSON(out)
}
