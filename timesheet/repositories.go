package timesheet

import (
	"github.com/tempohq/tempo"
	"github.com/tempohq/tempo/readmodel"
)

// Repositories bundles the aggregate repositories of the timesheet domain,
// each wired to its inline projection.
type Repositories struct {
	WorkLogs  *tempo.Repository[*WorkLogEntry]
	Absences  *tempo.Repository[*Absence]
	Approvals *tempo.Repository[*MonthlyApproval]
}

// RegisterEvents registers every timesheet event with the store's serializer.
func RegisterEvents(store *tempo.EventStore) {
	store.RegisterEvents(WorkLogEvents()...)
	store.RegisterEvents(AbsenceEvents()...)
	store.RegisterEvents(MonthlyApprovalEvents()...)
}

// NewRepositories registers the domain events and builds the repositories.
// snapshotEvery <= 0 disables snapshots.
func NewRepositories(store *tempo.EventStore, rm readmodel.Store, snapshotEvery int) *Repositories {
	RegisterEvents(store)
	return &Repositories{
		WorkLogs: tempo.NewRepository[*WorkLogEntry](store, NewWorkLogEntry,
			tempo.WithProjection[*WorkLogEntry](NewWorkLogCalendar(rm)),
			tempo.WithSnapshotEvery[*WorkLogEntry](snapshotEvery),
		),
		Absences: tempo.NewRepository[*Absence](store, NewAbsence,
			tempo.WithProjection[*Absence](NewAbsenceCalendar(rm)),
			tempo.WithSnapshotEvery[*Absence](snapshotEvery),
		),
		Approvals: tempo.NewRepository[*MonthlyApproval](store, NewMonthlyApproval,
			tempo.WithProjection[*MonthlyApproval](NewApprovalQueue(rm)),
			tempo.WithSnapshotEvery[*MonthlyApproval](snapshotEvery),
		),
	}
}

// Rebuilder returns a rebuilder covering every timesheet read model.
func (r *Repositories) Rebuilder() *tempo.Rebuilder {
	return tempo.NewRebuilder(r.WorkLogs.Store(), r.WorkLogs, r.Absences, r.Approvals)
}
