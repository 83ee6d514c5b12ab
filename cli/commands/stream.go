package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tempohq/tempo/cli/styles"
)

// NewStreamCommand creates the stream command
func NewStreamCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Inspect event streams",
		Long: `Inspect the event log behind an aggregate.

Examples:
  tempo stream list --type WorkLogEntry
  tempo stream show wl-1 --data
  tempo stream stats`,
	}

	cmd.AddCommand(newStreamListCommand(g))
	cmd.AddCommand(newStreamShowCommand(g))
	cmd.AddCommand(newStreamStatsCommand(g))
	return cmd
}

func newStreamListCommand(g *globals) *cobra.Command {
	var (
		aggregateType string
		limit         int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List event streams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := g.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp()

			streams, err := a.Streams(ctx(cmd), aggregateType, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(streams) == 0 {
				fmt.Fprintln(out, styles.FormatInfo("No streams found"))
				return nil
			}
			data := make([][]string, len(streams))
			for i, s := range streams {
				data[i] = []string{
					s.AggregateID, s.AggregateType, strconv.FormatInt(s.Version, 10),
					s.LastEventType, s.UpdatedAt.Format(time.RFC3339),
				}
			}
			fmt.Fprintln(out, styles.Table([]string{"Aggregate", "Type", "Version", "Last event", "Updated"}, data))
			return nil
		},
	}

	cmd.Flags().StringVarP(&aggregateType, "type", "t", "", "Only streams of this aggregate type")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of streams")
	return cmd
}

func newStreamShowCommand(g *globals) *cobra.Command {
	var showData bool

	cmd := &cobra.Command{
		Use:   "show <aggregate-id>",
		Short: "Show an aggregate's events and audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := g.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp()

			id := args[0]
			events, err := a.Store.LoadRaw(ctx(cmd), id, 0)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(events) == 0 {
				fmt.Fprintln(out, styles.FormatInfo(fmt.Sprintf("No events for %q", id)))
				return nil
			}

			fmt.Fprintln(out, styles.Title.Render(styles.IconStream+" "+events[0].AggregateType+" "+id))
			data := make([][]string, len(events))
			for i, e := range events {
				row := []string{
					strconv.FormatInt(e.Version, 10), e.Type, e.OccurredAt.Format(time.RFC3339),
					e.Metadata.UserID, e.Metadata.CausationID, e.Metadata.CorrelationID,
				}
				if showData {
					row = append(row, string(e.Data))
				}
				data[i] = row
			}
			headers := []string{"Version", "Event", "Occurred", "User", "Command", "Correlation"}
			if showData {
				headers = append(headers, "Data")
			}
			fmt.Fprintln(out, styles.Table(headers, data))

			audit, err := a.Store.LoadAudit(ctx(cmd), id)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, styles.Subtitle.Render("Audit trail"))
			rows := make([][]string, len(audit))
			for i, r := range audit {
				rows[i] = []string{r.OccurredAt.Format(time.RFC3339), r.EventType, r.ActingUserID, r.EventID}
			}
			fmt.Fprintln(out, styles.Table([]string{"Occurred", "Event", "Acting user", "Event ID"}, rows))
			return nil
		},
	}

	cmd.Flags().BoolVar(&showData, "data", false, "Include event payloads")
	return cmd
}

func newStreamStatsCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise the event store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := g.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp()

			stats, err := a.Stats(ctx(cmd))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, styles.FormatKeyValue("Events", strconv.FormatInt(stats.TotalEvents, 10)))
			fmt.Fprintln(out, styles.FormatKeyValue("Aggregates", strconv.FormatInt(stats.TotalAggregates, 10)))
			fmt.Fprintln(out, styles.FormatKeyValue("Snapshots", strconv.FormatInt(stats.TotalSnapshots, 10)))
			if len(stats.EventTypes) > 0 {
				data := make([][]string, len(stats.EventTypes))
				for i, t := range stats.EventTypes {
					data[i] = []string{t.Type, strconv.FormatInt(t.Count, 10)}
				}
				fmt.Fprintln(out, styles.Table([]string{"Event", "Count"}, data))
			}
			return nil
		},
	}
}
