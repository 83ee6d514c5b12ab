package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tempohq/tempo/readmodel"
)

const calendarColumns = `aggregate_id, kind, member_id, entry_date, status, minutes, project_code, absence_type, note, version`

// UpsertCalendarRow inserts or replaces a calendar row.
func (s *Store) UpsertCalendarRow(ctx context.Context, row readmodel.CalendarRow) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	_, err := s.conn(ctx).ExecContext(ctx, s.sql(`
		INSERT INTO {{calendar_entries}} (`+calendarColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (aggregate_id) DO UPDATE SET
			kind = excluded.kind,
			member_id = excluded.member_id,
			entry_date = excluded.entry_date,
			status = excluded.status,
			minutes = excluded.minutes,
			project_code = excluded.project_code,
			absence_type = excluded.absence_type,
			note = excluded.note,
			version = excluded.version`),
		row.AggregateID, string(row.Kind), row.MemberID, row.Date, row.Status, row.Minutes,
		row.ProjectCode, row.AbsenceType, row.Note, row.Version)
	if err != nil {
		return fmt.Errorf("tempo/sqlstore: failed to upsert calendar row: %w", err)
	}
	return nil
}

// DeleteCalendarRow removes a calendar row. Deleting a missing row is not an error.
func (s *Store) DeleteCalendarRow(ctx context.Context, aggregateID string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	_, err := s.conn(ctx).ExecContext(ctx, s.sql(`DELETE FROM {{calendar_entries}} WHERE aggregate_id = ?`), aggregateID)
	if err != nil {
		return fmt.Errorf("tempo/sqlstore: failed to delete calendar row: %w", err)
	}
	return nil
}

// GetCalendarRow returns readmodel.ErrNotFound when the row does not exist.
func (s *Store) GetCalendarRow(ctx context.Context, aggregateID string) (*readmodel.CalendarRow, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	row := s.conn(ctx).QueryRowContext(ctx, s.sql(`
		SELECT `+calendarColumns+` FROM {{calendar_entries}} WHERE aggregate_id = ?`), aggregateID)
	r, err := scanCalendarRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, readmodel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tempo/sqlstore: failed to get calendar row: %w", err)
	}
	return &r, nil
}

// FindCalendarRows returns matching rows ordered by date, then aggregate id.
func (s *Store) FindCalendarRows(ctx context.Context, filter readmodel.CalendarFilter) ([]readmodel.CalendarRow, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if filter.MemberID != "" {
		where = append(where, "member_id = ?")
		args = append(args, filter.MemberID)
	}
	if filter.From != "" {
		where = append(where, "entry_date >= ?")
		args = append(args, filter.From)
	}
	if filter.To != "" {
		where = append(where, "entry_date <= ?")
		args = append(args, filter.To)
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, st)
		}
	}

	query := `SELECT ` + calendarColumns + ` FROM {{calendar_entries}}`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY entry_date, aggregate_id`

	rows, err := s.conn(ctx).QueryContext(ctx, s.sql(query), args...)
	if err != nil {
		return nil, fmt.Errorf("tempo/sqlstore: failed to find calendar rows: %w", err)
	}
	defer rows.Close()

	result := make([]readmodel.CalendarRow, 0)
	for rows.Next() {
		r, err := scanCalendarRow(rows)
		if err != nil {
			return nil, fmt.Errorf("tempo/sqlstore: failed to scan calendar row: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Collations differ between databases; keep the documented byte order.
	readmodel.SortCalendarRows(result)
	return result, nil
}

// ClearCalendar removes every row of the given kind.
func (s *Store) ClearCalendar(ctx context.Context, kind readmodel.Kind) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	_, err := s.conn(ctx).ExecContext(ctx, s.sql(`DELETE FROM {{calendar_entries}} WHERE kind = ?`), string(kind))
	if err != nil {
		return fmt.Errorf("tempo/sqlstore: failed to clear calendar: %w", err)
	}
	return nil
}

const approvalColumns = `approval_id, member_id, fiscal_month_start, fiscal_month_end, status, rejection_reason, decided_by, work_log_count, absence_count, version`

// UpsertApprovalRow inserts or replaces an approval queue row.
func (s *Store) UpsertApprovalRow(ctx context.Context, row readmodel.ApprovalRow) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	_, err := s.conn(ctx).ExecContext(ctx, s.sql(`
		INSERT INTO {{approval_queue}} (`+approvalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (approval_id) DO UPDATE SET
			member_id = excluded.member_id,
			fiscal_month_start = excluded.fiscal_month_start,
			fiscal_month_end = excluded.fiscal_month_end,
			status = excluded.status,
			rejection_reason = excluded.rejection_reason,
			decided_by = excluded.decided_by,
			work_log_count = excluded.work_log_count,
			absence_count = excluded.absence_count,
			version = excluded.version`),
		row.ApprovalID, row.MemberID, row.FiscalMonthStart, row.FiscalMonthEnd, row.Status,
		row.RejectionReason, row.DecidedBy, row.WorkLogCount, row.AbsenceCount, row.Version)
	if err != nil {
		return fmt.Errorf("tempo/sqlstore: failed to upsert approval row: %w", err)
	}
	return nil
}

// GetApprovalRow returns readmodel.ErrNotFound when the row does not exist.
func (s *Store) GetApprovalRow(ctx context.Context, approvalID string) (*readmodel.ApprovalRow, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	row := s.conn(ctx).QueryRowContext(ctx, s.sql(`
		SELECT `+approvalColumns+` FROM {{approval_queue}} WHERE approval_id = ?`), approvalID)
	r, err := scanApprovalRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, readmodel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tempo/sqlstore: failed to get approval row: %w", err)
	}
	return &r, nil
}

// FindApprovalRows returns matching rows ordered by fiscal month start, then member.
func (s *Store) FindApprovalRows(ctx context.Context, filter readmodel.ApprovalFilter) ([]readmodel.ApprovalRow, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if filter.MemberID != "" {
		where = append(where, "member_id = ?")
		args = append(args, filter.MemberID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT ` + approvalColumns + ` FROM {{approval_queue}}`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY fiscal_month_start, member_id`

	rows, err := s.conn(ctx).QueryContext(ctx, s.sql(query), args...)
	if err != nil {
		return nil, fmt.Errorf("tempo/sqlstore: failed to find approval rows: %w", err)
	}
	defer rows.Close()

	result := make([]readmodel.ApprovalRow, 0)
	for rows.Next() {
		r, err := scanApprovalRow(rows)
		if err != nil {
			return nil, fmt.Errorf("tempo/sqlstore: failed to scan approval row: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	readmodel.SortApprovalRows(result)
	return result, nil
}

// ClearApprovals removes every approval queue row.
func (s *Store) ClearApprovals(ctx context.Context) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, err := s.conn(ctx).ExecContext(ctx, s.sql(`DELETE FROM {{approval_queue}}`)); err != nil {
		return fmt.Errorf("tempo/sqlstore: failed to clear approvals: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCalendarRow(sc scanner) (readmodel.CalendarRow, error) {
	var (
		r    readmodel.CalendarRow
		kind string
	)
	err := sc.Scan(&r.AggregateID, &kind, &r.MemberID, &r.Date, &r.Status, &r.Minutes,
		&r.ProjectCode, &r.AbsenceType, &r.Note, &r.Version)
	r.Kind = readmodel.Kind(kind)
	return r, err
}

func scanApprovalRow(sc scanner) (readmodel.ApprovalRow, error) {
	var r readmodel.ApprovalRow
	err := sc.Scan(&r.ApprovalID, &r.MemberID, &r.FiscalMonthStart, &r.FiscalMonthEnd, &r.Status,
		&r.RejectionReason, &r.DecidedBy, &r.WorkLogCount, &r.AbsenceCount, &r.Version)
	return r, err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
