package cli

import (
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Status       *StatusCommand
	Add          *AddCommand
	Search       *SearchCommand
	Show         *ShowCommand
	Redirects    *RedirectsCommand
	Top          *TopCommand
	Prune        *PruneCommand
	Purge        *PurgeCommand
	ForgetSynced *ForgetSyncedCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "visitdb"
	parser.LongDescription = "Local browsing history store: record visits, query them, and expire them."

	cmds := &commands{
		Status:       &StatusCommand{globals: &globals, version: version},
		Add:          &AddCommand{globals: &globals, version: version},
		Search:       &SearchCommand{globals: &globals, version: version},
		Show:         &ShowCommand{globals: &globals, version: version},
		Redirects:    &RedirectsCommand{globals: &globals, version: version},
		Top:          &TopCommand{globals: &globals, version: version},
		Prune:        &PruneCommand{globals: &globals, version: version},
		Purge:        &PurgeCommand{globals: &globals, version: version},
		ForgetSynced: &ForgetSyncedCommand{globals: &globals, version: version},
	}

	parser.AddCommand("status", "Show database statistics", "Show database statistics and the configuration summary.", cmds.Status)
	parser.AddCommand("add", "Record a visit", "Record one navigation to a URL, with optional redirects and referrer.", cmds.Add)
	parser.AddCommand("search", "Search visited pages", "List visited pages, optionally matching every given keyword.", cmds.Search)
	parser.AddCommand("show", "Show a stored URL", "Show the stored row of a URL and its most recent visits.", cmds.Show)
	parser.AddCommand("redirects", "Show a redirect chain", "Show the redirect chain that last led from or to a URL.", cmds.Redirects)
	parser.AddCommand("top", "List most visited sites", "List the most visited sites by segment score.", cmds.Top)
	parser.AddCommand("prune", "Expire old history", "Expire history older than the retention period.", cmds.Prune)
	parser.AddCommand("purge", "Delete ALL history", "Delete ALL history. Destructive operation with safety prompt.", cmds.Purge)
	parser.AddCommand("forget-synced", "Delete visits from other devices", "Delete every visit synced from another device and reset sync state.", cmds.ForgetSynced)

	return parser, &globals, cmds
}

// Run is the main entry point for the visitdb CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// go-flags requires a subcommand, but --version is valid without one.
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("visitdb %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				return nil
			}
		}
		return err
	}

	return nil
}
