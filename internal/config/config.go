package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Default config file path.
const DefaultConfigPath = "~/.config/visitdb/config.yaml"

// Config holds all visitdb configuration.
type Config struct {
	Retention RetentionConfig `yaml:"retention"`
	Engine    EngineConfig    `yaml:"engine"`
	Sync      SyncConfig      `yaml:"sync"`
	Intranet  IntranetConfig  `yaml:"intranet"`
	Capture   CaptureConfig   `yaml:"capture"`
	Storage   StorageConfig   `yaml:"storage"`
	Downloads DownloadsConfig `yaml:"downloads"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type RetentionConfig struct {
	Days                      int `yaml:"days"`
	ExpireBatchSize           int `yaml:"expire_batch_size"`
	ExpireIntervalSeconds     int `yaml:"expire_interval_seconds"`
	ExpireIdleIntervalSeconds int `yaml:"expire_idle_interval_seconds"`
}

type EngineConfig struct {
	CommitIntervalSeconds   int `yaml:"commit_interval_seconds"`
	RedirectCacheSize       int `yaml:"redirect_cache_size"`
	ForeignVisitDeleteBatch int `yaml:"foreign_visit_delete_batch"`
	VisitTrackerSize        int `yaml:"visit_tracker_size"`
	SegmentScoreDays        int `yaml:"segment_score_days"`
}

// SyncConfig describes this device to the merge layer.
type SyncConfig struct {
	LocalDeviceGUID            string `yaml:"local_device_guid"`
	AddForeignVisitsToSegments bool   `yaml:"add_foreign_visits_to_segments"`
	OS                         string `yaml:"os"`
	FormFactor                 string `yaml:"form_factor"`
	Channel                    string `yaml:"channel"`
}

// IntranetConfig tunes which hosts count as intranet hosts. Hosts whose
// top-level label is not a public registry are intranet by default.
type IntranetConfig struct {
	// Suffixes listed here are always intranet (e.g. "corp", "lan").
	Suffixes []string `yaml:"suffixes"`
	// Registries listed here are never intranet even if unknown to the
	// public suffix list.
	Registries []string `yaml:"registries"`
}

type CaptureConfig struct {
	UseDefaultDenylist bool     `yaml:"use_default_denylist"`
	DenylistDomains    []string `yaml:"denylist_domains"`
	DenylistRegex      []string `yaml:"denylist_regex"`
	AllowedSchemes     []string `yaml:"allowed_schemes"`
}

type StorageConfig struct {
	Path              string `yaml:"path"`
	SQLiteFile        string `yaml:"sqlite_file"`
	SQLiteJournalMode string `yaml:"sqlite_journal_mode"`
}

// DownloadsConfig carries the interrupt-reason values the download layer
// uses for "no interruption" and "browser crashed".
type DownloadsConfig struct {
	InterruptReasonNone  int `yaml:"interrupt_reason_none"`
	InterruptReasonCrash int `yaml:"interrupt_reason_crash"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"`
}

// Load reads a YAML config file at path and merges it with defaults.
// Returns an error if the file cannot be read, contains invalid YAML, or
// fails validation.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	checks := []struct {
		name  string
		value int
	}{
		{"retention.days", c.Retention.Days},
		{"retention.expire_batch_size", c.Retention.ExpireBatchSize},
		{"engine.commit_interval_seconds", c.Engine.CommitIntervalSeconds},
		{"engine.redirect_cache_size", c.Engine.RedirectCacheSize},
		{"engine.foreign_visit_delete_batch", c.Engine.ForeignVisitDeleteBatch},
		{"engine.visit_tracker_size", c.Engine.VisitTrackerSize},
	}
	for _, ch := range checks {
		if ch.value <= 0 {
			return fmt.Errorf("invalid config: %s must be positive, got %d", ch.name, ch.value)
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid config: logging.format %q", c.Logging.Format)
	}
	return nil
}

// DatabasePath returns the expanded path of the history database file.
func (c *Config) DatabasePath() (string, error) {
	dir, err := expandPath(c.Storage.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Storage.SQLiteFile), nil
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// LoadOrCreate loads the config from the default path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreate() (*Config, error) {
	path, err := expandPath(DefaultConfigPath)
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes defaults. A
// config without a local device GUID gets a fresh one, persisted so it
// stays stable.
func LoadOrCreateAt(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Sync.LocalDeviceGUID = uuid.NewString()

		if err := write(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.Sync.LocalDeviceGUID == "" {
		cfg.Sync.LocalDeviceGUID = uuid.NewString()
		if err := write(path, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func write(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
