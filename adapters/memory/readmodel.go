package memory

import (
	"context"

	"github.com/tempohq/tempo/readmodel"
)

// UpsertCalendarRow inserts or replaces a calendar row.
func (a *MemoryAdapter) UpsertCalendarRow(ctx context.Context, row readmodel.CalendarRow) error {
	return a.write(ctx, func(s *state) error {
		s.calendar[row.AggregateID] = row
		return nil
	})
}

// DeleteCalendarRow removes a calendar row. Missing rows are ignored.
func (a *MemoryAdapter) DeleteCalendarRow(ctx context.Context, aggregateID string) error {
	return a.write(ctx, func(s *state) error {
		delete(s.calendar, aggregateID)
		return nil
	})
}

// GetCalendarRow returns the calendar row of an aggregate.
func (a *MemoryAdapter) GetCalendarRow(ctx context.Context, aggregateID string) (*readmodel.CalendarRow, error) {
	var row *readmodel.CalendarRow
	err := a.read(ctx, func(s *state) error {
		r, ok := s.calendar[aggregateID]
		if !ok {
			return readmodel.ErrNotFound
		}
		row = &r
		return nil
	})
	return row, err
}

// FindCalendarRows returns the rows matching filter ordered by date.
func (a *MemoryAdapter) FindCalendarRows(ctx context.Context, filter readmodel.CalendarFilter) ([]readmodel.CalendarRow, error) {
	var rows []readmodel.CalendarRow
	err := a.read(ctx, func(s *state) error {
		rows = make([]readmodel.CalendarRow, 0)
		for _, r := range s.calendar {
			if filter.Matches(r) {
				rows = append(rows, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	readmodel.SortCalendarRows(rows)
	return rows, nil
}

// ClearCalendar removes every calendar row of the given kind.
func (a *MemoryAdapter) ClearCalendar(ctx context.Context, kind readmodel.Kind) error {
	return a.write(ctx, func(s *state) error {
		for id, r := range s.calendar {
			if r.Kind == kind {
				delete(s.calendar, id)
			}
		}
		return nil
	})
}

// UpsertApprovalRow inserts or replaces an approval queue row.
func (a *MemoryAdapter) UpsertApprovalRow(ctx context.Context, row readmodel.ApprovalRow) error {
	return a.write(ctx, func(s *state) error {
		s.approvals[row.ApprovalID] = row
		return nil
	})
}

// GetApprovalRow returns an approval queue row.
func (a *MemoryAdapter) GetApprovalRow(ctx context.Context, approvalID string) (*readmodel.ApprovalRow, error) {
	var row *readmodel.ApprovalRow
	err := a.read(ctx, func(s *state) error {
		r, ok := s.approvals[approvalID]
		if !ok {
			return readmodel.ErrNotFound
		}
		row = &r
		return nil
	})
	return row, err
}

// FindApprovalRows returns the approval rows matching filter.
func (a *MemoryAdapter) FindApprovalRows(ctx context.Context, filter readmodel.ApprovalFilter) ([]readmodel.ApprovalRow, error) {
	var rows []readmodel.ApprovalRow
	err := a.read(ctx, func(s *state) error {
		rows = make([]readmodel.ApprovalRow, 0)
		for _, r := range s.approvals {
			if filter.Matches(r) {
				rows = append(rows, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	readmodel.SortApprovalRows(rows)
	return rows, nil
}

// ClearApprovals removes every approval queue row.
func (a *MemoryAdapter) ClearApprovals(ctx context.Context) error {
	return a.write(ctx, func(s *state) error {
		s.approvals = make(map[string]readmodel.ApprovalRow)
		return nil
	})
}
