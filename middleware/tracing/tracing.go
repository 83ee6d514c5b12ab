// Package tracing provides OpenTelemetry integration for tempo.
//
// Basic usage with the command bus and an adapter:
//
//	tp := sdktrace.NewTracerProvider(...)
//	otel.SetTracerProvider(tp)
//
//	tracer := tracing.NewTracer()
//	bus.Use(tracing.CommandMiddleware(tracer))
//	store := tempo.New(tracing.NewAdapterMiddleware(adapter, tracer))
//
// Command spans carry the command type, target aggregate, actor and
// correlation id. Storage spans nest under them; a unit of work gets one
// span from BeginTx to Commit or Rollback with its reads and writes inside.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tempohq/tempo"
)

const (
	// TracerName is the name of the tempo tracer.
	TracerName = "github.com/tempohq/tempo"

	// DefaultServiceName is the default service name for spans.
	DefaultServiceName = "tempo"
)

// Tracer wraps an OpenTelemetry tracer for tempo operations.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithTracerProvider sets a custom TracerProvider.
func WithTracerProvider(tp trace.TracerProvider) TracerOption {
	return func(t *Tracer) {
		t.tracer = tp.Tracer(TracerName)
	}
}

// WithServiceName sets the service name for spans.
func WithServiceName(name string) TracerOption {
	return func(t *Tracer) {
		t.serviceName = name
	}
}

// NewTracer creates a new Tracer with the global TracerProvider.
func NewTracer(opts ...TracerOption) *Tracer {
	t := &Tracer{
		tracer:      otel.Tracer(TracerName),
		serviceName: DefaultServiceName,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Tracer returns the underlying OpenTelemetry tracer.
func (t *Tracer) Tracer() trace.Tracer {
	return t.tracer
}

// ServiceName returns the configured service name.
func (t *Tracer) ServiceName() string {
	return t.serviceName
}

// =============================================================================
// Command Middleware
// =============================================================================

// CommandMiddleware creates middleware that traces command execution.
// Place it after the correlation and actor middleware so their values are on the span.
func CommandMiddleware(tracer *Tracer) tempo.Middleware {
	return func(next tempo.MiddlewareFunc) tempo.MiddlewareFunc {
		return func(ctx context.Context, cmd tempo.Command) (tempo.CommandResult, error) {
			ctx, span := tracer.StartSpan(ctx, fmt.Sprintf("command.%s", cmd.CommandType()),
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			defer span.End()

			attrs := []attribute.KeyValue{
				attribute.String("tempo.service", tracer.serviceName),
				attribute.String("tempo.command.type", cmd.CommandType()),
			}
			if aggCmd, ok := cmd.(tempo.AggregateCommand); ok && aggCmd.AggregateID() != "" {
				attrs = append(attrs, attribute.String("tempo.command.aggregate_id", aggCmd.AggregateID()))
			}
			if id := tempo.CorrelationIDFrom(ctx); id != "" {
				attrs = append(attrs, attribute.String("tempo.correlation_id", id))
			}
			if actor := tempo.ActorFrom(ctx); actor != "" {
				attrs = append(attrs, attribute.String("tempo.actor", actor))
			}
			span.SetAttributes(attrs...)

			result, err := next(ctx, cmd)

			switch {
			case err != nil:
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			case result.IsError():
				span.RecordError(result.Error)
				span.SetStatus(codes.Error, result.Error.Error())
			default:
				span.SetStatus(codes.Ok, "")
				span.SetAttributes(
					attribute.String("tempo.result.aggregate_id", result.AggregateID),
					attribute.Int64("tempo.result.version", result.Version),
				)
			}

			return result, err
		}
	}
}

// =============================================================================
// Span Helpers
// =============================================================================

// SpanFromContext returns the current span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, opts ...trace.EventOption) {
	trace.SpanFromContext(ctx).AddEvent(name, opts...)
}

// SetError sets an error on the current span.
func SetError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets attributes on the current span.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// finish records err on span and sets its status.
func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
