package config

import "sort"

// defaultDenylist groups hosts whose pages are never written to history.
var defaultDenylist = map[string][]string{
	"banking": {
		"chase.com", "bankofamerica.com", "wellsfargo.com", "citi.com", "capitalone.com",
		"schwab.com", "fidelity.com", "vanguard.com", "navyfederal.org",
	},
	"payments": {"paypal.com", "venmo.com", "zelle.com"},
	"passwords": {
		"1password.com", "lastpass.com", "bitwarden.com", "dashlane.com", "keepersecurity.com",
	},
	"identity": {
		"accounts.google.com", "login.microsoftonline.com", "login.live.com",
		"auth0.com", "okta.com", "duo.com", "login.gov", "id.me",
	},
	"health": {"mychart.com", "kp.org", "healthcare.gov", "medicare.gov"},
	"tax":    {"irs.gov", "ssa.gov", "turbotax.intuit.com", "hrblock.com"},
	"crypto": {"coinbase.com", "binance.com", "kraken.com"},
}

// DefaultDenylistDomains returns the curated denylist, sorted.
func DefaultDenylistDomains() []string {
	var out []string
	for _, hosts := range defaultDenylist {
		out = append(out, hosts...)
	}
	sort.Strings(out)
	return out
}

// DenylistCategories returns the category names of the curated denylist.
func DenylistCategories() []string {
	out := make([]string, 0, len(defaultDenylist))
	for c := range defaultDenylist {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// EffectiveDenylist returns the domains the capture layer should refuse:
// the curated list when enabled plus the user's own entries.
func (c CaptureConfig) EffectiveDenylist() []string {
	var out []string
	if c.UseDefaultDenylist {
		out = append(out, DefaultDenylistDomains()...)
	}
	return append(out, c.DenylistDomains...)
}
