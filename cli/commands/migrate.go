package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tempohq/tempo/cli/styles"
	"github.com/tempohq/tempo/cli/ui"
)

// NewMigrateCommand creates the migrate command
func NewMigrateCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long: `Create and inspect the database schema.

Examples:
  tempo migrate up      # Apply all pending migrations
  tempo migrate status  # Show migration status`,
	}

	cmd.AddCommand(newMigrateUpCommand(g))
	cmd.AddCommand(newMigrateStatusCommand(g))
	return cmd
}

func newMigrateUpCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := g.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp()

			out := cmd.OutOrStdout()
			pending, err := a.PendingMigrations(ctx(cmd))
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				fmt.Fprintln(out, styles.FormatSuccess("Database is up to date"))
				return nil
			}

			for i, m := range pending {
				fmt.Fprintln(out, styles.FormatStep(i+1, len(pending), fmt.Sprintf("%04d_%s", m.Version, m.Name)))
			}
			done := fmt.Sprintf("Applied %d migration(s)", len(pending))
			if ui.Interactive(out) {
				return ui.RunSpinner(out, "Migrating "+a.Config.Database.Driver+" database", func() (string, error) {
					return done, a.Migrate(ctx(cmd))
				})
			}
			if err := a.Migrate(ctx(cmd)); err != nil {
				return err
			}
			fmt.Fprintln(out, styles.FormatSuccess(done))
			return nil
		},
	}
}

func newMigrateStatusCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := g.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp()

			applied, err := a.MigrationVersion(ctx(cmd))
			if err != nil {
				return err
			}
			pending, err := a.PendingMigrations(ctx(cmd))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, styles.FormatKeyValue("Driver", a.Config.Database.Driver))
			fmt.Fprintln(out, styles.FormatKeyValue("Applied", fmt.Sprint(applied)))
			fmt.Fprintln(out, styles.FormatKeyValue("Pending", fmt.Sprint(len(pending))))
			for _, m := range pending {
				fmt.Fprintf(out, "  %s %04d_%s\n", styles.IconPending, m.Version, m.Name)
			}
			return nil
		},
	}
}
