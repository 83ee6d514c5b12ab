// tempo is the command-line interface for the tempo time-entry store.
//
// Usage:
//
//	tempo <command> [flags]
//
// Commands:
//
//	init        Write a tempo.yaml configuration
//	migrate     Apply and inspect schema migrations
//	entry       Create, update, delete and list work logs
//	absence     Create, update, delete and list absences
//	month       Submit, approve, reject and inspect fiscal months
//	stream      Inspect event streams and the audit trail
//	projection  Rebuild the read models
//	snapshot    Inspect and drop aggregate snapshots
//	version     Show version information
//
// Examples:
//
//	# Log a morning of work
//	tempo --actor alice entry create --project ACME --minutes 240
//
//	# Submit the current fiscal month
//	tempo --actor alice month submit
//
//	# Approve it as alice's manager
//	tempo --actor bob month approve alice_2024-01-21
package main

import (
	"os"

	"github.com/tempohq/tempo/cli/commands"
)

// Build information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.BuildDate = buildDate

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
