package tempo

import (
	"context"
	"fmt"
	"time"
)

// Rebuildable is implemented by anything whose read models can be rebuilt from the event log.
// Repository implements it for its inline projections.
type Rebuildable interface {
	AggregateType() string
	Rebuild(ctx context.Context, progress ProgressCallback) (RebuildResult, error)
}

// RebuildResult describes a finished rebuild.
type RebuildResult struct {
	// AggregateType is the type whose projections were rebuilt.
	AggregateType string

	// Projections lists the rebuilt projection names.
	Projections []string

	// Aggregates is the number of aggregates replayed.
	Aggregates int

	// Events is the number of events applied.
	Events int64

	// Duration is the elapsed time.
	Duration time.Duration
}

// RebuildProgress is reported after each replayed aggregate.
type RebuildProgress struct {
	AggregateType string
	Processed     int
	Total         int
}

// ProgressCallback receives rebuild progress. It must not block.
type ProgressCallback func(progress RebuildProgress)

// Rebuild drops the rows of every resettable projection and reprojects every aggregate
// of the repository's type from its full event history. The whole rebuild runs in
// one unit of work, so readers never see a half-built read model.
// Snapshots are not used.
func (r *Repository[A]) Rebuild(ctx context.Context, progress ProgressCallback) (RebuildResult, error) {
	start := time.Now()
	result := RebuildResult{AggregateType: r.aggregateType}
	for _, p := range r.projections {
		result.Projections = append(result.Projections, p.Name())
	}
	if len(r.projections) == 0 {
		return result, nil
	}

	err := r.store.RunInTx(ctx, func(ctx context.Context) error {
		for _, p := range r.projections {
			if rp, ok := p.(Resettable); ok {
				if err := rp.Reset(ctx); err != nil {
					return fmt.Errorf("tempo: failed to reset projection %s: %w", p.Name(), wrapStorage("reset projection", err))
				}
			}
		}

		ids, err := r.store.ListAggregateIDs(ctx, r.aggregateType)
		if err != nil {
			return err
		}

		for i, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}

			agg, err := r.Replay(ctx, id)
			if err != nil {
				return err
			}
			for _, p := range r.projections {
				if err := p.Project(ctx, agg); err != nil {
					return fmt.Errorf("tempo: projection %s failed for %q: %w", p.Name(), id, wrapStorage("project", err))
				}
			}

			result.Aggregates++
			result.Events += agg.Version()
			if progress != nil {
				progress(RebuildProgress{AggregateType: r.aggregateType, Processed: i + 1, Total: len(ids)})
			}
		}
		return nil
	})
	result.Duration = time.Since(start)
	if err != nil {
		r.logger.Error("Projection rebuild failed", "aggregateType", r.aggregateType, "error", err)
		return result, err
	}

	r.logger.Info("Projection rebuild completed",
		"aggregateType", r.aggregateType,
		"aggregates", result.Aggregates,
		"events", result.Events,
		"duration", result.Duration)
	return result, nil
}

// Rebuilder rebuilds the read models of several repositories together.
type Rebuilder struct {
	store   *EventStore
	targets []Rebuildable
	logger  Logger
}

// NewRebuilder creates a Rebuilder over the given repositories.
func NewRebuilder(store *EventStore, targets ...Rebuildable) *Rebuilder {
	return &Rebuilder{
		store:   store,
		targets: targets,
		logger:  store.Logger(),
	}
}

// Targets returns the aggregate types the rebuilder covers, in order.
func (b *Rebuilder) Targets() []string {
	types := make([]string, len(b.targets))
	for i, t := range b.targets {
		types[i] = t.AggregateType()
	}
	return types
}

// RebuildAll rebuilds every target inside a single unit of work. Either every
// read model is rebuilt or none is changed.
func (b *Rebuilder) RebuildAll(ctx context.Context, progress ProgressCallback) ([]RebuildResult, error) {
	var results []RebuildResult
	err := b.store.RunInTx(ctx, func(ctx context.Context) error {
		results = results[:0]
		for _, t := range b.targets {
			res, err := t.Rebuild(ctx, progress)
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

var _ Rebuildable = (*Repository[Aggregate])(nil)
