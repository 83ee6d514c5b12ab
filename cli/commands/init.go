package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/tempohq/tempo/cli/config"
	"github.com/tempohq/tempo/cli/styles"
	"github.com/tempohq/tempo/fiscal"
)

// NewInitCommand creates the init command
func NewInitCommand() *cobra.Command {
	var (
		name           string
		driver         string
		url            string
		fiscalStartDay int
		nonInteractive bool
	)

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Write a tempo.yaml configuration",
		Long: `Write a tempo.yaml configuration file.

Examples:
  tempo init                              # Ask for the settings
  tempo init --yes                        # SQLite in ./tempo.db
  tempo init --driver postgres --url "$DATABASE_URL" --fiscal-start-day 21 --yes`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			absDir, err := filepath.Abs(dir)
			if err != nil {
				return err
			}
			if config.Exists(absDir) {
				fmt.Fprintln(out, styles.FormatWarning(config.ConfigFileName+" already exists in this directory"))
				return nil
			}

			cfg := config.DefaultConfig()
			cfg.Project.Name = filepath.Base(absDir)
			if name != "" {
				cfg.Project.Name = name
			}
			if driver != "" {
				cfg.Database.Driver = driver
			}
			if url != "" {
				cfg.Database.URL = url
			}
			if fiscalStartDay != 0 {
				cfg.Project.FiscalStartDay = fiscalStartDay
			}

			if !nonInteractive {
				if err := runInitForm(cfg); err != nil {
					return err
				}
			}

			if err := cfg.Err(); err != nil {
				return err
			}
			if err := os.MkdirAll(absDir, 0o755); err != nil {
				return err
			}
			path := filepath.Join(absDir, config.ConfigFileName)
			if err := os.WriteFile(path, []byte(config.GenerateYAML(cfg)), 0o644); err != nil {
				return err
			}

			fmt.Fprintln(out, styles.FormatSuccess("Wrote "+path))
			fmt.Fprintln(out, styles.FormatInfo("Next: "+styles.Code.Render("tempo migrate up")))
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Project name (default: directory name)")
	cmd.Flags().StringVarP(&driver, "driver", "d", "", "Database driver: sqlite, postgres or memory")
	cmd.Flags().StringVar(&url, "url", "", "Database URL or SQLite file path")
	cmd.Flags().IntVar(&fiscalStartDay, "fiscal-start-day", 0, "Day of the month fiscal months start on (1-28)")
	cmd.Flags().BoolVarP(&nonInteractive, "yes", "y", false, "Skip the interactive form")

	return cmd
}

func runInitForm(cfg *config.Config) error {
	startDay := strconv.Itoa(cfg.Project.FiscalStartDay)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Project Name").
				Value(&cfg.Project.Name),
			huh.NewInput().
				Title("Fiscal Month Start Day").
				Description("Day of the calendar month a fiscal month starts on").
				Value(&startDay).
				Validate(func(s string) error {
					day, err := strconv.Atoi(s)
					if err != nil {
						return fmt.Errorf("not a number")
					}
					return fiscal.Pattern{StartDay: day}.Validate()
				}),
		).Title("Project"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Database Driver").
				Options(
					huh.NewOption("SQLite (single file)", config.DriverSQLite),
					huh.NewOption("PostgreSQL", config.DriverPostgres),
					huh.NewOption("In-Memory (testing only)", config.DriverMemory),
				).
				Value(&cfg.Database.Driver),
			huh.NewInput().
				Title("Database URL").
				Description("Postgres connection string or SQLite file path").
				Value(&cfg.Database.URL),
		).Title("Database"),
	).WithTheme(huh.ThemeDracula())

	if err := form.Run(); err != nil {
		return err
	}

	day, err := strconv.Atoi(startDay)
	if err != nil {
		return err
	}
	cfg.Project.FiscalStartDay = day
	return nil
}
