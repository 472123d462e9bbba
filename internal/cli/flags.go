package cli

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file (created with defaults when missing)" default:""`
	DB      string `long:"db" description:"Path to the history database, overriding the config"`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// StatusCommand shows database statistics and the configuration summary.
type StatusCommand struct {
	globals *GlobalFlags
	version string
}

// AddCommand records one navigation by hand.
type AddCommand struct {
	URL        string   `long:"url" description:"URL to record (required)"`
	Title      string   `long:"title" description:"Page title"`
	Transition string   `long:"transition" description:"Core transition: link, typed, auto_bookmark, reload, ..." default:"link"`
	Referrer   string   `long:"referrer" description:"Referring URL"`
	Redirect   []string `long:"redirect" description:"Redirect hop before --url, in order (repeatable)"`
	Hidden     bool     `long:"hidden" description:"Record the URL as hidden"`
	App        string   `long:"app" description:"Application id the visit belongs to"`

	globals *GlobalFlags
	version string
}

// SearchCommand lists visits, optionally matching keywords.
type SearchCommand struct {
	Since         string `long:"since" description:"Only visits newer than duration (e.g., 7d, 24h, 2w)" default:"30d"`
	Until         string `long:"until" description:"Only visits older than duration"`
	Limit         int    `long:"limit" description:"Maximum results" default:"10"`
	AllDuplicates bool   `long:"all-duplicates" description:"List every visit instead of one per URL"`
	PerDay        bool   `long:"per-day" description:"List one visit per URL and day"`
	OldestFirst   bool   `long:"oldest-first" description:"Order results oldest first"`
	App           string `long:"app" description:"Only visits of this application id"`

	globals *GlobalFlags
	version string
}

// ShowCommand prints the stored row of a URL with its visits.
type ShowCommand struct {
	URL    string `long:"url" description:"URL to show (required)"`
	Visits int    `long:"visits" description:"Number of most recent visits to list" default:"10"`

	globals *GlobalFlags
	version string
}

// RedirectsCommand prints the redirect chain that last led from or to a URL.
type RedirectsCommand struct {
	URL string `long:"url" description:"URL to inspect (required)"`
	To  bool   `long:"to" description:"Walk the chain backwards to its start"`

	globals *GlobalFlags
	version string
}

// TopCommand lists the most visited sites.
type TopCommand struct {
	Limit int `long:"limit" description:"Maximum results" default:"10"`

	globals *GlobalFlags
	version string
}

// PruneCommand expires history older than the retention period.
type PruneCommand struct {
	OlderThan string `long:"older-than" description:"Override retention period (e.g., 30d)"`
	DryRun    bool   `long:"dry-run" description:"Show what would be pruned without deleting"`

	globals *GlobalFlags
	version string
}

// PurgeCommand deletes all history with a safety confirmation.
type PurgeCommand struct {
	All   bool `long:"all" description:"Required flag to confirm purge intent"`
	Force bool `long:"force" description:"Skip safety confirmation prompt"`

	globals *GlobalFlags
	version string
}

// ForgetSyncedCommand deletes every visit that arrived from another device.
type ForgetSyncedCommand struct {
	globals *GlobalFlags
	version string
}
