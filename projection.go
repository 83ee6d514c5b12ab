package tempo

import "context"

// Projection is the base interface for read models derived from aggregates.
type Projection interface {
	// Name returns the unique identifier for this projection.
	Name() string
}

// InlineProjection updates a read model in the same unit of work as the append.
// Project receives the aggregate after its new events were applied and must make the
// read model reflect exactly that state. Projecting the same state twice is a no-op.
type InlineProjection[A Aggregate] interface {
	Projection

	Project(ctx context.Context, agg A) error
}

// Resettable is implemented by projections that can drop their rows before a rebuild.
type Resettable interface {
	Reset(ctx context.Context) error
}

// ProjectionFunc adapts a function to an InlineProjection.
type ProjectionFunc[A Aggregate] struct {
	name    string
	project func(ctx context.Context, agg A) error
	reset   func(ctx context.Context) error
}

// NewProjectionFunc creates a named projection from a function. reset may be nil.
func NewProjectionFunc[A Aggregate](name string, project func(ctx context.Context, agg A) error, reset func(ctx context.Context) error) *ProjectionFunc[A] {
	return &ProjectionFunc[A]{name: name, project: project, reset: reset}
}

// Name returns the projection name.
func (p *ProjectionFunc[A]) Name() string {
	return p.name
}

// Project calls the wrapped function.
func (p *ProjectionFunc[A]) Project(ctx context.Context, agg A) error {
	return p.project(ctx, agg)
}

// Reset calls the wrapped reset function, if any.
func (p *ProjectionFunc[A]) Reset(ctx context.Context) error {
	if p.reset == nil {
		return nil
	}
	return p.reset(ctx)
}

var (
	_ InlineProjection[Aggregate] = (*ProjectionFunc[Aggregate])(nil)
	_ Resettable                  = (*ProjectionFunc[Aggregate])(nil)
)
