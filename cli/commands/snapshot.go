package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tempohq/tempo/cli/styles"
)

// NewSnapshotCommand creates the snapshot command
func NewSnapshotCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect aggregate snapshots",
		Long: `Inspect and drop aggregate snapshots. Snapshots are a cache; the
event log stays authoritative and a dropped snapshot is rebuilt on a later save.

Examples:
  tempo snapshot show wl-1
  tempo snapshot delete wl-1`,
	}

	cmd.AddCommand(newSnapshotShowCommand(g))
	cmd.AddCommand(newSnapshotDeleteCommand(g))
	return cmd
}

func newSnapshotShowCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show <aggregate-id>",
		Short: "Show an aggregate's snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := g.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp()

			out := cmd.OutOrStdout()
			snap, err := a.Store.LoadSnapshot(ctx(cmd), args[0])
			if err != nil {
				return err
			}
			if snap == nil {
				fmt.Fprintln(out, styles.FormatInfo(fmt.Sprintf("No snapshot for %q", args[0])))
				return nil
			}

			fmt.Fprintln(out, styles.FormatKeyValue("Aggregate", snap.AggregateType+" "+snap.AggregateID))
			fmt.Fprintln(out, styles.FormatKeyValue("Version", strconv.FormatInt(snap.Version, 10)))
			fmt.Fprintln(out, styles.FormatKeyValue("Created", snap.CreatedAt.Format(time.RFC3339)))
			fmt.Fprintln(out, styles.FormatKeyValue("Encoding", a.Store.StateSerializer().Name()))
			fmt.Fprintln(out, styles.FormatKeyValue("Size", fmt.Sprintf("%d bytes", len(snap.Data))))

			var state map[string]interface{}
			if err := a.Store.StateSerializer().Unmarshal(snap.Data, &state); err != nil {
				fmt.Fprintln(out, styles.FormatWarning("Snapshot state is unreadable: "+err.Error()))
				return nil
			}
			body, err := yaml.Marshal(state)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, styles.Box.Render(string(body)))
			return nil
		},
	}
}

func newSnapshotDeleteCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <aggregate-id>",
		Short: "Drop an aggregate's snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := g.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp()

			if err := a.Store.DeleteSnapshot(ctx(cmd), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), styles.FormatSuccess("Deleted snapshot of "+args[0]))
			return nil
		},
	}
}
