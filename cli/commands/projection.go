package commands

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tempohq/tempo"
	"github.com/tempohq/tempo/cli/styles"
	"github.com/tempohq/tempo/cli/ui"
)

// NewProjectionCommand creates the projection command
func NewProjectionCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projection",
		Short: "Manage the calendar and approval read models",
		Long: `Rebuild the read models from the event log.

Examples:
  tempo projection rebuild
  tempo projection rebuild --yes`,
	}

	cmd.AddCommand(newProjectionRebuildCommand(g))
	return cmd
}

func newProjectionRebuildCommand(g *globals) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Drop and replay every read model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := g.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp()

			out := cmd.OutOrStdout()
			rebuilder := a.Repos.Rebuilder()

			if !yes {
				var confirmed bool
				form := huh.NewForm(
					huh.NewGroup(
						huh.NewConfirm().
							Title("Rebuild " + strings.Join(rebuilder.Targets(), ", ") + " read models?").
							Description("All rows are deleted and replayed from the event log").
							Value(&confirmed),
					),
				).WithTheme(huh.ThemeDracula())

				if err := form.Run(); err != nil {
					return err
				}
				if !confirmed {
					fmt.Fprintln(out, styles.FormatInfo("Cancelled"))
					return nil
				}
			}

			// The callback must not block, so progress is dropped when the printer lags.
			progress := make(chan ui.ProgressMsg, 64)
			var (
				results    []tempo.RebuildResult
				rebuildErr error
			)

			grp, gctx := errgroup.WithContext(ctx(cmd))
			rebuilt := make(chan struct{})
			grp.Go(func() error {
				defer close(rebuilt)
				defer close(progress)
				results, rebuildErr = rebuilder.RebuildAll(gctx, func(p tempo.RebuildProgress) {
					select {
					case progress <- ui.ProgressMsg{
						Percent: ui.Percent(p.Processed, p.Total),
						Message: ui.StepMessage(p.AggregateType, p.Processed, p.Total),
					}:
					default:
					}
				})
				return rebuildErr
			})
			if ui.Interactive(out) {
				grp.Go(func() error {
					return ui.RunProgress(out, "Rebuilding read models", progress, func() (string, error) {
						<-rebuilt
						return "Replayed the event log", rebuildErr
					})
				})
			} else {
				grp.Go(func() error {
					for p := range progress {
						fmt.Fprintln(out, styles.Muted.Render(p.Message))
					}
					return nil
				})
			}
			if err := grp.Wait(); err != nil {
				return err
			}

			data := make([][]string, len(results))
			for i, r := range results {
				data[i] = []string{
					r.AggregateType, strings.Join(r.Projections, ", "),
					fmt.Sprint(r.Aggregates), fmt.Sprint(r.Events), r.Duration.String(),
				}
			}
			fmt.Fprintln(out, styles.Table([]string{"Aggregate", "Projections", "Aggregates", "Events", "Took"}, data))
			fmt.Fprintln(out, styles.FormatSuccess("Read models rebuilt"))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation")
	return cmd
}
