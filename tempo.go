// Package tempo is the event-sourced persistence core of the tempo time-entry service.
//
// Work-log entries, absences and monthly approvals are aggregates whose state is the
// fold of their events. The EventStore appends events with optimistic concurrency,
// a Repository loads an aggregate from its latest snapshot plus the events after it
// and saves new events together with the aggregate's inline projections, and a
// UnitOfWork groups saves of several aggregates into one storage transaction.
//
// # Quick Start
//
//	adapter, err := sqlite.Open("tempo.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store := tempo.New(adapter, tempo.WithStateSerializer(msgpack.NewStateSerializer()))
//	defer store.Close()
//
//	repos := timesheet.NewRepositories(store, adapter, tempo.DefaultSnapshotEvery)
//
//	entry := timesheet.NewWorkLogEntry(uuid.NewString())
//	if err := entry.Create("alice", "2024-01-22", "PRJ-1", 480, "review"); err != nil {
//	    return err
//	}
//	version, err := repos.WorkLogs.Save(ctx, entry)
//
// # Concurrency
//
// Save appends with the version the aggregate was loaded at. When another writer got
// there first the save fails with ErrConcurrencyConflict and nothing is written;
// reload and retry:
//
//	if errors.Is(err, tempo.ErrConcurrencyConflict) {
//	    // reload and re-run the command
//	}
//
// # Units of work
//
// Saves made inside RunInTx share one transaction. Nested units join the outer one,
// so a single Save and a month-wide approval cascade use the same code path:
//
//	err := store.RunInTx(ctx, func(ctx context.Context) error {
//	    if _, err := repos.WorkLogs.Save(ctx, entry); err != nil {
//	        return err
//	    }
//	    _, err := repos.Approvals.Save(ctx, approval)
//	    return err
//	})
//
// # Commands
//
// Applications dispatch commands through a CommandBus with validation, recovery,
// logging, correlation and actor middleware; see the service package.
package tempo

// Version is the library version reported by the CLI.
const Version = "0.4.0"
