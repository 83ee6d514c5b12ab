// Package commands provides the CLI command implementations for tempo.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tempohq/tempo/cli/styles"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// globals holds the persistent flags shared by every command.
type globals struct {
	configPath string
	actor      string
	noColor    bool
}

// NewRootCommand creates the root command for the tempo CLI
func NewRootCommand() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:   "tempo",
		Short: "Event-sourced time entry and monthly approvals",
		Long: styles.Title.Render("tempo") + `

Record work logs and absences, submit fiscal months for approval and
inspect the event log behind them.

` + styles.Subtitle.Render("Quick Start:") + `

  ` + styles.Code.Render("tempo init") + `                 Write tempo.yaml
  ` + styles.Code.Render("tempo migrate up") + `           Create the database schema
  ` + styles.Code.Render("tempo entry create ...") + `     Log work
  ` + styles.Code.Render("tempo month submit") + `         Submit the current fiscal month`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if g.noColor {
				styles.DisableColors()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Path to tempo.yaml (default: search upwards from the working directory)")
	rootCmd.PersistentFlags().StringVar(&g.actor, "actor", os.Getenv("TEMPO_ACTOR"), "User issuing the command (env TEMPO_ACTOR)")
	rootCmd.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(NewInitCommand())
	rootCmd.AddCommand(NewMigrateCommand(g))
	rootCmd.AddCommand(NewEntryCommand(g))
	rootCmd.AddCommand(NewAbsenceCommand(g))
	rootCmd.AddCommand(NewMonthCommand(g))
	rootCmd.AddCommand(NewStreamCommand(g))
	rootCmd.AddCommand(NewProjectionCommand(g))
	rootCmd.AddCommand(NewSnapshotCommand(g))
	rootCmd.AddCommand(NewVersionCommand(Version, Commit, BuildDate))

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styles.FormatError(err.Error()))
		return err
	}
	return nil
}

// NewVersionCommand creates the version command
func NewVersionCommand(version, commit, buildDate string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, styles.FormatKeyValue("Version", version))
			fmt.Fprintln(out, styles.FormatKeyValue("Commit", commit))
			fmt.Fprintln(out, styles.FormatKeyValue("Built", buildDate))
		},
	}
}
