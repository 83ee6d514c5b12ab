package tempo

import "context"

type (
	actorKey       struct{}
	correlationKey struct{}
	causationKey   struct{}
)

// WithActor returns a context carrying the acting user's id.
// Events written under this context record the actor in their metadata and audit rows.
func WithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

// ActorFrom returns the acting user's id, or "" when none is set.
func ActorFrom(ctx context.Context) string {
	id, _ := ctx.Value(actorKey{}).(string)
	return id
}

// WithCorrelationID returns a context carrying a correlation id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationIDFrom returns the correlation id, or "".
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// WithCausationID returns a context carrying a causation id, usually the command type.
func WithCausationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, causationKey{}, id)
}

// CausationIDFrom returns the causation id, or "".
func CausationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(causationKey{}).(string)
	return id
}

// MetadataFrom builds event metadata from the values carried by ctx.
func MetadataFrom(ctx context.Context) Metadata {
	return Metadata{
		CorrelationID: CorrelationIDFrom(ctx),
		CausationID:   CausationIDFrom(ctx),
		UserID:        ActorFrom(ctx),
	}
}
