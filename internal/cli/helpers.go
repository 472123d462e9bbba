package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/runnerr0/visitdb/internal/config"
	"github.com/runnerr0/visitdb/internal/history"
	"github.com/runnerr0/visitdb/internal/logging"
	"github.com/runnerr0/visitdb/internal/metrics"
)

// session is one opened history database for the duration of a command.
type session struct {
	svc     *history.Service
	cfg     *config.Config
	metrics *metrics.History
	dbPath  string
	logs    io.Closer
}

// loadConfig reads the config named by --config, or the default one.
// Missing files are created with defaults.
func loadConfig(g *GlobalFlags) (*config.Config, error) {
	if g != nil && g.Config != "" {
		return config.LoadOrCreateAt(g.Config)
	}
	return config.LoadOrCreate()
}

// openSession loads the config, builds the logger and starts the history
// service on the configured (or --db) database.
func openSession(ctx context.Context, g *GlobalFlags) (*session, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.Logging.Level
	if g != nil && g.Verbose {
		level = "debug"
	}
	logger, logs, err := logging.New(logging.Config{
		Level:   level,
		File:    cfg.Logging.File,
		JSON:    strings.EqualFold(cfg.Logging.Format, "json"),
		Quiet:   g == nil || !g.Verbose,
		Service: "visitdb",
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	dbPath := ""
	if g != nil {
		dbPath = g.DB
	}
	if dbPath == "" {
		if dbPath, err = cfg.DatabasePath(); err != nil {
			logs.Close()
			return nil, err
		}
	}

	m := metrics.New()
	svc, err := history.NewService(ctx, history.Params{
		Path:    dbPath,
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("open history: %w", err)
	}
	return &session{svc: svc, cfg: cfg, metrics: m, dbPath: dbPath, logs: logs}, nil
}

// Close shuts the service down, committing pending writes.
func (s *session) Close() error {
	err := s.svc.Close()
	if cerr := s.logs.Close(); err == nil {
		err = cerr
	}
	return err
}

// withSession opens a session, runs fn and closes the session again.
func withSession(g *GlobalFlags, fn func(ctx context.Context, s *session) error) error {
	ctx := context.Background()
	s, err := openSession(ctx, g)
	if err != nil {
		return err
	}
	runErr := fn(ctx, s)
	if err := s.Close(); runErr == nil {
		runErr = err
	}
	return runErr
}

// parseDuration parses a human-friendly duration string like "30d", "7d", "24h", "2w".
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("invalid duration: empty string")
	}

	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]

	n, err := strconv.Atoi(numStr)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	switch suffix {
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	default:
		return 0, fmt.Errorf("invalid duration: %q (use d, h, w, or m suffix)", s)
	}
}

// formatDurationHuman formats a duration into a human-readable string like "30 days".
func formatDurationHuman(d time.Duration) string {
	days := int(d.Hours() / 24)
	if days > 0 {
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	hours := int(d.Hours())
	if hours > 0 {
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return d.String()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func formatTimeJSON(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
