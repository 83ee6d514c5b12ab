package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tempohq/tempo/app"
	"github.com/tempohq/tempo/approval"
	"github.com/tempohq/tempo/cli/styles"
	"github.com/tempohq/tempo/readmodel"
	"github.com/tempohq/tempo/service"
	"github.com/tempohq/tempo/timesheet"
)

// NewMonthCommand creates the month command
func NewMonthCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "month",
		Short: "Submit, approve and reject fiscal months",
		Long: `Move every draft record of a member's fiscal month through approval.

Examples:
  tempo month submit --date 2024-02-03 --actor alice
  tempo month approve alice_2024-01-21 --actor bob
  tempo month reject alice_2024-01-21 --reason "missing Friday" --actor bob
  tempo month show alice_2024-01-21`,
	}

	cmd.AddCommand(newMonthSubmitCommand(g))
	cmd.AddCommand(newMonthDecisionCommand(g, approval.OpApprove))
	cmd.AddCommand(newMonthDecisionCommand(g, approval.OpReject))
	cmd.AddCommand(newMonthShowCommand(g))
	cmd.AddCommand(newMonthListCommand(g))
	return cmd
}

func newMonthSubmitCommand(g *globals) *cobra.Command {
	var (
		member string
		date   string
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit the drafts of the fiscal month containing a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := g.commandBase()
			if err != nil {
				return err
			}
			if member == "" {
				member = base.ActorID
			}

			a, closeApp, err := g.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp()

			month, err := a.Config.FiscalPattern().MonthContaining(dateOrToday(date))
			if err != nil {
				return err
			}
			res, err := a.Service.Dispatch(ctx(cmd), service.SubmitMonth{CommandBase: base, MemberID: member, Month: month})
			if err != nil {
				return err
			}
			printCascade(cmd, "Submitted "+month.String(), res.Data.(approval.Result))
			return nil
		},
	}

	cmd.Flags().StringVar(&member, "member", "", "Member whose month is submitted (default: the actor)")
	cmd.Flags().StringVar(&date, "date", "", "Any date in the fiscal month (default: today)")
	return cmd
}

func newMonthDecisionCommand(g *globals, op string) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   op + " <approval-id>",
		Short: strings.ToUpper(op[:1]) + op[1:] + " a submitted month",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := g.commandBase()
			if err != nil {
				return err
			}

			a, closeApp, err := g.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp()

			var (
				res  approval.Result
				done string
			)
			switch op {
			case approval.OpApprove:
				r, err := a.Service.Dispatch(ctx(cmd), service.ApproveMonth{CommandBase: base, ApprovalID: args[0]})
				if err != nil {
					return err
				}
				res, done = r.Data.(approval.Result), "Approved "+args[0]
			default:
				r, err := a.Service.Dispatch(ctx(cmd), service.RejectMonth{CommandBase: base, ApprovalID: args[0], Reason: reason})
				if err != nil {
					return err
				}
				res, done = r.Data.(approval.Result), "Rejected "+args[0]
			}
			printCascade(cmd, done, res)
			return nil
		},
	}

	if op == approval.OpReject {
		cmd.Flags().StringVarP(&reason, "reason", "r", "", "Why the month is rejected")
	}
	return cmd
}

func printCascade(cmd *cobra.Command, done string, res approval.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, styles.FormatSuccess(done))
	fmt.Fprintln(out, styles.FormatKeyValue("Approval", res.ApprovalID))
	fmt.Fprintln(out, styles.FormatKeyValue("Status", styles.FormatStatus(string(res.Status))))
	fmt.Fprintln(out, styles.FormatKeyValue("Work logs", fmt.Sprint(len(res.WorkLogIDs))))
	fmt.Fprintln(out, styles.FormatKeyValue("Absences", fmt.Sprint(len(res.AbsenceIDs))))
}

func newMonthShowCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show <approval-id>",
		Short: "Show a month's approval and its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := g.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp()
			return showMonth(cmd, a, args[0])
		},
	}
}

func showMonth(cmd *cobra.Command, a *app.App, approvalID string) error {
	memberID, start, err := timesheet.ParseApprovalID(approvalID)
	if err != nil {
		return err
	}
	month, err := a.Config.FiscalPattern().MonthContaining(start)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	row, err := a.ReadModel.GetApprovalRow(ctx(cmd), approvalID)
	switch {
	case errors.Is(err, readmodel.ErrNotFound):
		fmt.Fprintln(out, styles.FormatKeyValue("Status", styles.FormatStatus(string(timesheet.ApprovalPending))))
	case err != nil:
		return err
	default:
		month = timesheet.FiscalMonth{Start: timesheet.Date(row.FiscalMonthStart), End: timesheet.Date(row.FiscalMonthEnd)}
		fmt.Fprintln(out, styles.FormatKeyValue("Status", styles.FormatStatus(row.Status)))
		if row.DecidedBy != "" {
			fmt.Fprintln(out, styles.FormatKeyValue("Decided by", row.DecidedBy))
		}
		if row.RejectionReason != "" {
			fmt.Fprintln(out, styles.FormatKeyValue("Reason", row.RejectionReason))
		}
	}
	fmt.Fprintln(out, styles.FormatKeyValue("Member", memberID))
	fmt.Fprintln(out, styles.FormatKeyValue("Fiscal month", month.String()))

	rows, err := a.ReadModel.FindCalendarRows(ctx(cmd), readmodel.CalendarFilter{
		MemberID: memberID,
		From:     month.Start.String(),
		To:       month.End.String(),
	})
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		fmt.Fprintln(out, calendarTable(rows))
	}
	return nil
}

func newMonthListCommand(g *globals) *cobra.Command {
	var (
		member string
		status string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the approval queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := g.openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp()

			rows, err := a.ReadModel.FindApprovalRows(ctx(cmd), readmodel.ApprovalFilter{
				MemberID: member,
				Status:   strings.ToUpper(status),
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, styles.FormatInfo("No months submitted"))
				return nil
			}
			data := make([][]string, len(rows))
			for i, r := range rows {
				data[i] = []string{
					r.ApprovalID, r.MemberID, r.FiscalMonthStart + " .. " + r.FiscalMonthEnd,
					styles.FormatStatus(r.Status), fmt.Sprint(r.WorkLogCount), fmt.Sprint(r.AbsenceCount), r.DecidedBy,
				}
			}
			fmt.Fprintln(out, styles.Table([]string{"Approval", "Member", "Month", "Status", "Work logs", "Absences", "Decided by"}, data))
			return nil
		},
	}

	cmd.Flags().StringVar(&member, "member", "", "Only this member")
	cmd.Flags().StringVar(&status, "status", "", "Only PENDING, SUBMITTED, APPROVED or REJECTED months")
	return cmd
}
