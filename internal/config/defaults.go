package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Retention: RetentionConfig{
			Days:                      120,
			ExpireBatchSize:           32,
			ExpireIntervalSeconds:     30,
			ExpireIdleIntervalSeconds: 300,
		},
		Engine: EngineConfig{
			CommitIntervalSeconds:   10,
			RedirectCacheSize:       32,
			ForeignVisitDeleteBatch: 100,
			VisitTrackerSize:        96,
			SegmentScoreDays:        90,
		},
		Sync: SyncConfig{
			AddForeignVisitsToSegments: false,
			OS:                         "linux",
			FormFactor:                 "desktop",
			Channel:                    "stable",
		},
		Intranet: IntranetConfig{
			Suffixes:   []string{},
			Registries: []string{},
		},
		Capture: CaptureConfig{
			UseDefaultDenylist: true,
			DenylistDomains:    []string{},
			DenylistRegex:      []string{},
			AllowedSchemes:     []string{"http", "https", "ftp", "file", "data", "about", "chrome", "blob", "filesystem"},
		},
		Storage: StorageConfig{
			Path:              "~/.config/visitdb",
			SQLiteFile:        "History",
			SQLiteJournalMode: "wal",
		},
		Downloads: DownloadsConfig{
			InterruptReasonNone:  0,
			InterruptReasonCrash: 50,
		},
		Logging: LoggingConfig{
			Level:  "info",
			File:   "",
			Format: "text",
		},
	}
}
