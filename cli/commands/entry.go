package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tempohq/tempo"
	"github.com/tempohq/tempo/cli/styles"
	"github.com/tempohq/tempo/readmodel"
	"github.com/tempohq/tempo/service"
	"github.com/tempohq/tempo/timesheet"
)

// entryFlags are the fields shared by create and update.
type entryFlags struct {
	date        string
	project     string
	minutes     int
	description string
}

func (f *entryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.date, "date", "", "Date worked, YYYY-MM-DD (default: today)")
	cmd.Flags().StringVarP(&f.project, "project", "p", "", "Project code")
	cmd.Flags().IntVarP(&f.minutes, "minutes", "m", 0, "Minutes worked (1-1440)")
	cmd.Flags().StringVar(&f.description, "description", "", "What was done")
}

// NewEntryCommand creates the entry command
func NewEntryCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entry",
		Short: "Record work-log entries",
		Long: `Create, change and list work-log entries.

Examples:
  tempo entry create --member alice --project PRJ --minutes 90 --actor alice
  tempo entry update 3f2a... --project PRJ --minutes 60 --actor alice
  tempo entry list --member alice --month-of 2024-01-25`,
	}

	cmd.AddCommand(newEntryCreateCommand(g))
	cmd.AddCommand(newEntryUpdateCommand(g))
	cmd.AddCommand(newEntryDeleteCommand(g))
	cmd.AddCommand(newCalendarListCommand(g, readmodel.KindWorkLog))
	return cmd
}

func newEntryCreateCommand(g *globals) *cobra.Command {
	var (
		id     string
		member string
		f      entryFlags
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft work-log entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := g.commandBase()
			if err != nil {
				return err
			}
			if member == "" {
				member = base.ActorID
			}
			return dispatch(g, cmd, service.CreateWorkLog{
				CommandBase: base,
				ID:          id,
				MemberID:    member,
				Date:        dateOrToday(f.date),
				ProjectCode: f.project,
				Minutes:     f.minutes,
				Description: f.description,
			}, "Created work log")
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Entry id (default: generated)")
	cmd.Flags().StringVar(&member, "member", "", "Member the entry belongs to (default: the actor)")
	f.register(cmd)
	return cmd
}

func newEntryUpdateCommand(g *globals) *cobra.Command {
	var (
		f        entryFlags
		expected int64
	)

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace the fields of a draft work-log entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := g.commandBase()
			if err != nil {
				return err
			}
			return dispatchEdit(g, cmd, args[0], expected, func(version int64) tempo.Command {
				return service.UpdateWorkLog{
					CommandBase:     base,
					ID:              args[0],
					ExpectedVersion: version,
					Date:            dateOrToday(f.date),
					ProjectCode:     f.project,
					Minutes:         f.minutes,
					Description:     f.description,
				}
			}, "Updated work log")
		},
	}

	f.register(cmd)
	registerExpectedVersion(cmd, &expected)
	return cmd
}

func newEntryDeleteCommand(g *globals) *cobra.Command {
	var expected int64

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a draft work-log entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := g.commandBase()
			if err != nil {
				return err
			}
			return dispatchEdit(g, cmd, args[0], expected, func(version int64) tempo.Command {
				return service.DeleteWorkLog{CommandBase: base, ID: args[0], ExpectedVersion: version}
			}, "Deleted work log")
		},
	}

	registerExpectedVersion(cmd, &expected)
	return cmd
}

// absenceFlags are the fields shared by create and update.
type absenceFlags struct {
	date        string
	absenceType string
	minutes     int
	note        string
}

func (f *absenceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.date, "date", "", "Date of absence, YYYY-MM-DD (default: today)")
	cmd.Flags().StringVarP(&f.absenceType, "type", "t", string(timesheet.PaidLeave), "PAID_LEAVE, SICK_LEAVE, SPECIAL_LEAVE or UNPAID_LEAVE")
	cmd.Flags().IntVarP(&f.minutes, "minutes", "m", 480, "Minutes absent (1-1440)")
	cmd.Flags().StringVar(&f.note, "note", "", "Note")
}

// NewAbsenceCommand creates the absence command
func NewAbsenceCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "absence",
		Short: "Record absences",
		Long: `Create, change and list absences.

Examples:
  tempo absence create --type SICK_LEAVE --date 2024-01-29 --actor alice
  tempo absence list --member alice --month-of 2024-01-29`,
	}

	cmd.AddCommand(newAbsenceCreateCommand(g))
	cmd.AddCommand(newAbsenceUpdateCommand(g))
	cmd.AddCommand(newAbsenceDeleteCommand(g))
	cmd.AddCommand(newCalendarListCommand(g, readmodel.KindAbsence))
	return cmd
}

func newAbsenceCreateCommand(g *globals) *cobra.Command {
	var (
		id     string
		member string
		f      absenceFlags
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft absence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := g.commandBase()
			if err != nil {
				return err
			}
			if member == "" {
				member = base.ActorID
			}
			return dispatch(g, cmd, service.CreateAbsence{
				CommandBase: base,
				ID:          id,
				MemberID:    member,
				Date:        dateOrToday(f.date),
				AbsenceType: timesheet.AbsenceType(f.absenceType),
				Minutes:     f.minutes,
				Note:        f.note,
			}, "Created absence")
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Absence id (default: generated)")
	cmd.Flags().StringVar(&member, "member", "", "Member the absence belongs to (default: the actor)")
	f.register(cmd)
	return cmd
}

func newAbsenceUpdateCommand(g *globals) *cobra.Command {
	var (
		f        absenceFlags
		expected int64
	)

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace the fields of a draft absence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := g.commandBase()
			if err != nil {
				return err
			}
			return dispatchEdit(g, cmd, args[0], expected, func(version int64) tempo.Command {
				return service.UpdateAbsence{
					CommandBase:     base,
					ID:              args[0],
					ExpectedVersion: version,
					Date:            dateOrToday(f.date),
					AbsenceType:     timesheet.AbsenceType(f.absenceType),
					Minutes:         f.minutes,
					Note:            f.note,
				}
			}, "Updated absence")
		},
	}

	f.register(cmd)
	registerExpectedVersion(cmd, &expected)
	return cmd
}

func newAbsenceDeleteCommand(g *globals) *cobra.Command {
	var expected int64

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a draft absence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := g.commandBase()
			if err != nil {
				return err
			}
			return dispatchEdit(g, cmd, args[0], expected, func(version int64) tempo.Command {
				return service.DeleteAbsence{CommandBase: base, ID: args[0], ExpectedVersion: version}
			}, "Deleted absence")
		},
	}

	registerExpectedVersion(cmd, &expected)
	return cmd
}

func newCalendarListCommand(g *globals, kind readmodel.Kind) *cobra.Command {
	var (
		member  string
		monthOf string
		from    string
		to      string
		status  string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List calendar rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := g.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp()

			filter := readmodel.CalendarFilter{MemberID: member, Kind: kind, From: from, To: to}
			if monthOf != "" {
				month, err := a.Config.FiscalPattern().MonthContaining(timesheet.Date(monthOf))
				if err != nil {
					return err
				}
				filter.From, filter.To = month.Start.String(), month.End.String()
			}
			if status != "" {
				filter.Statuses = []string{strings.ToUpper(status)}
			}

			rows, err := a.ReadModel.FindCalendarRows(ctx(cmd), filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, styles.FormatInfo("Nothing recorded"))
				return nil
			}
			fmt.Fprintln(out, calendarTable(rows))
			return nil
		},
	}

	cmd.Flags().StringVar(&member, "member", "", "Only this member")
	cmd.Flags().StringVar(&monthOf, "month-of", "", "Only the fiscal month containing this date")
	cmd.Flags().StringVar(&from, "from", "", "First date, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "Last date, YYYY-MM-DD")
	cmd.Flags().StringVar(&status, "status", "", "Only DRAFT, SUBMITTED or APPROVED rows")
	return cmd
}

func calendarTable(rows []readmodel.CalendarRow) string {
	total := 0
	data := make([][]string, 0, len(rows)+1)
	for _, r := range rows {
		what := r.ProjectCode
		if r.Kind == readmodel.KindAbsence {
			what = r.AbsenceType
		}
		data = append(data, []string{
			r.Date, r.AggregateID, r.MemberID, what,
			styles.FormatMinutes(r.Minutes), styles.FormatStatus(r.Status), r.Note,
		})
		total += r.Minutes
	}
	data = append(data, []string{"", "", "", "total", styles.FormatMinutes(total), "", ""})
	return styles.Table([]string{"Date", "ID", "Member", "Project/Type", "Time", "Status", "Note"}, data)
}

// dispatch opens the app, sends cmd through the service and reports the result.
func dispatch(g *globals, cmd *cobra.Command, command tempo.Command, done string) error {
	return dispatchEdit(g, cmd, "", -1, func(int64) tempo.Command { return command }, done)
}

func registerExpectedVersion(cmd *cobra.Command, expected *int64) {
	cmd.Flags().Int64Var(expected, "expected-version", 0,
		"Version the change is based on; fails if the record moved on (default: the current version)")
}

// dispatchEdit builds the command for the version the edit is based on. With
// expected 0 that is the record's current version; an unknown id is still sent
// so the handler reports why it cannot be edited. A negative expected skips the lookup.
func dispatchEdit(g *globals, cmd *cobra.Command, id string, expected int64, build func(version int64) tempo.Command, done string) error {
	a, closeApp, err := g.openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	if expected == 0 {
		events, err := a.Store.LoadRaw(ctx(cmd), id, 0)
		if err != nil {
			return err
		}
		expected = 1
		if n := len(events); n > 0 {
			expected = events[n-1].Version
		}
	}

	res, err := a.Service.Dispatch(ctx(cmd), build(expected))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, styles.FormatSuccess(done))
	fmt.Fprintln(out, styles.FormatKeyValue("ID", res.AggregateID))
	fmt.Fprintln(out, styles.FormatKeyValue("Version", strconv.FormatInt(res.Version, 10)))
	return nil
}

func dateOrToday(s string) timesheet.Date {
	if s == "" {
		return timesheet.DateOf(time.Now())
	}
	return timesheet.Date(s)
}
