// Package metrics provides Prometheus metrics for tempo.
//
// Basic usage:
//
//	m := metrics.New(metrics.WithMetricsServiceName("timesheets"))
//	if err := m.Register(prometheus.DefaultRegisterer); err != nil {
//		return err
//	}
//
//	// Count commands
//	bus.Use(m.CommandMiddleware())
//
//	// Time storage calls and count conflicts
//	store := tempo.New(m.WrapAdapter(adapter))
//
//	// Count approval cascades
//	coordinator := approval.NewCoordinator(..., approval.WithObserver(m))
//
// The metrics collected include:
//   - Command execution counts and durations
//   - Event store operations (append, load, snapshots, transactions)
//   - Concurrency conflicts by aggregate type
//   - Approval cascade outcomes and sizes
//   - Error counts by type
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tempohq/tempo"
)

// Default metric labels.
const (
	LabelCommandType   = "command_type"
	LabelAggregateType = "aggregate_type"
	LabelEventType     = "event_type"
	LabelOperation     = "operation"
	LabelOutcome       = "outcome"
	LabelStatus        = "status"
	LabelErrorType     = "error_type"
	LabelService       = "service"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation values.
const (
	OperationAppend         = "append"
	OperationLoad           = "load"
	OperationListAggregates = "list_aggregates"
	OperationSaveSnapshot   = "save_snapshot"
	OperationLoadSnapshot   = "load_snapshot"
	OperationDeleteSnapshot = "delete_snapshot"
	OperationLoadAudit      = "load_audit"
	OperationBegin          = "begin"
	OperationCommit         = "commit"
	OperationRollback       = "rollback"
)

// Metrics holds all Prometheus metrics for tempo.
type Metrics struct {
	namespace   string
	subsystem   string
	serviceName string

	// Command metrics
	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	commandsInFlight *prometheus.GaugeVec

	// Event store metrics
	storeOperationsTotal   *prometheus.CounterVec
	storeOperationDuration *prometheus.HistogramVec
	eventsAppendedTotal    *prometheus.CounterVec
	eventsLoadedTotal      *prometheus.CounterVec
	conflictsTotal         *prometheus.CounterVec

	// Approval metrics
	cascadesTotal   *prometheus.CounterVec
	cascadeSize     *prometheus.HistogramVec
	cascadeDuration *prometheus.HistogramVec

	// Error metrics
	errorsTotal *prometheus.CounterVec
}

// MetricsOption configures Metrics.
type MetricsOption func(*Metrics)

// WithNamespace sets the Prometheus namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(m *Metrics) {
		m.namespace = namespace
	}
}

// WithSubsystem sets the Prometheus subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(m *Metrics) {
		m.subsystem = subsystem
	}
}

// WithMetricsServiceName sets the service name label.
func WithMetricsServiceName(name string) MetricsOption {
	return func(m *Metrics) {
		m.serviceName = name
	}
}

// New creates a new Metrics instance with default settings.
func New(opts ...MetricsOption) *Metrics {
	m := &Metrics{
		namespace:   "tempo",
		serviceName: "unknown",
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initMetrics()
	return m
}

func (m *Metrics) initMetrics() {
	m.commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "commands_total",
			Help:      "Total number of commands processed.",
		},
		[]string{LabelService, LabelCommandType, LabelStatus},
	)

	m.commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "command_duration_seconds",
			Help:      "Duration of command processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelCommandType},
	)

	m.commandsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "commands_in_flight",
			Help:      "Number of commands currently being processed.",
		},
		[]string{LabelService, LabelCommandType},
	)

	m.storeOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "store_operations_total",
			Help:      "Total number of event store operations.",
		},
		[]string{LabelService, LabelOperation, LabelStatus},
	)

	m.storeOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "store_operation_duration_seconds",
			Help:      "Duration of event store operations in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelOperation},
	)

	m.eventsAppendedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "events_appended_total",
			Help:      "Total number of events appended.",
		},
		[]string{LabelService, LabelAggregateType, LabelEventType},
	)

	m.eventsLoadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "events_loaded_total",
			Help:      "Total number of events loaded.",
		},
		[]string{LabelService},
	)

	m.conflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "concurrency_conflicts_total",
			Help:      "Total number of appends rejected by optimistic concurrency.",
		},
		[]string{LabelService, LabelAggregateType},
	)

	m.cascadesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "approval_cascades_total",
			Help:      "Total number of month submit, approve and reject operations.",
		},
		[]string{LabelService, LabelOperation, LabelOutcome},
	)

	m.cascadeSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "approval_cascade_entries",
			Help:      "Number of work log and absence entries moved by a successful cascade.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{LabelService, LabelOperation},
	)

	m.cascadeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "approval_cascade_duration_seconds",
			Help:      "Duration of month operations in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelOperation},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors by type.",
		},
		[]string{LabelService, LabelErrorType},
	)
}

// Collectors returns all Prometheus collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.commandsTotal,
		m.commandDuration,
		m.commandsInFlight,
		m.storeOperationsTotal,
		m.storeOperationDuration,
		m.eventsAppendedTotal,
		m.eventsLoadedTotal,
		m.conflictsTotal,
		m.cascadesTotal,
		m.cascadeSize,
		m.cascadeDuration,
		m.errorsTotal,
	}
}

// MustRegister registers all collectors with the default registry.
// Panics if registration fails.
func (m *Metrics) MustRegister() {
	prometheus.MustRegister(m.Collectors()...)
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(registry prometheus.Registerer) error {
	for _, collector := range m.Collectors() {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Command Middleware
// =============================================================================

// CommandMiddleware returns middleware that records command metrics.
func (m *Metrics) CommandMiddleware() tempo.Middleware {
	return func(next tempo.MiddlewareFunc) tempo.MiddlewareFunc {
		return func(ctx context.Context, cmd tempo.Command) (tempo.CommandResult, error) {
			cmdType := cmd.CommandType()

			m.commandsInFlight.WithLabelValues(m.serviceName, cmdType).Inc()
			defer m.commandsInFlight.WithLabelValues(m.serviceName, cmdType).Dec()

			start := time.Now()
			result, err := next(ctx, cmd)
			m.commandDuration.WithLabelValues(m.serviceName, cmdType).Observe(time.Since(start).Seconds())

			status := StatusSuccess
			if err != nil || result.IsError() {
				status = StatusError
				if err == nil {
					err = result.Error
				}
				m.RecordError(errorTypeName(err))
			}
			m.commandsTotal.WithLabelValues(m.serviceName, cmdType, status).Inc()

			return result, err
		}
	}
}

// errorTypeName maps an error to a label value using the tempo sentinels.
func errorTypeName(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, tempo.ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, tempo.ErrInvalidStateTransition):
		return "invalid_state_transition"
	case errors.Is(err, tempo.ErrValidationFailed):
		return "validation_failed"
	case errors.Is(err, tempo.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, tempo.ErrAggregateNotFound):
		return "aggregate_not_found"
	case errors.Is(err, tempo.ErrHandlerNotFound):
		return "handler_not_found"
	case errors.Is(err, tempo.ErrHandlerPanicked):
		return "handler_panicked"
	case errors.Is(err, tempo.ErrSerializationFailed):
		return "serialization_failed"
	case errors.Is(err, tempo.ErrEventTypeNotRegistered):
		return "event_type_not_registered"
	case errors.Is(err, tempo.ErrNilAggregate):
		return "nil_aggregate"
	case errors.Is(err, tempo.ErrNilCommand):
		return "nil_command"
	case errors.Is(err, tempo.ErrEmptyAggregateID):
		return "empty_aggregate_id"
	case errors.Is(err, tempo.ErrNoEvents):
		return "no_events"
	case errors.Is(err, tempo.ErrAdapterClosed):
		return "adapter_closed"
	case errors.Is(err, tempo.ErrStorage):
		return "storage"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	default:
		return "unknown"
	}
}

// =============================================================================
// Approval Observer
// =============================================================================

// ObserveCascade records a month submit, approve or reject. It satisfies
// approval.Observer.
func (m *Metrics) ObserveCascade(operation, outcome string, cascaded int, duration time.Duration) {
	m.cascadesTotal.WithLabelValues(m.serviceName, operation, outcome).Inc()
	m.cascadeDuration.WithLabelValues(m.serviceName, operation).Observe(duration.Seconds())
	if outcome == "ok" {
		m.cascadeSize.WithLabelValues(m.serviceName, operation).Observe(float64(cascaded))
	}
}

// =============================================================================
// Manual Metric Recording
// =============================================================================

// RecordError records a custom error.
func (m *Metrics) RecordError(errorType string) {
	m.errorsTotal.WithLabelValues(m.serviceName, errorType).Inc()
}

// =============================================================================
// Getters for testing
// =============================================================================

// CommandsTotal returns the commands counter.
func (m *Metrics) CommandsTotal() *prometheus.CounterVec {
	return m.commandsTotal
}

// CommandDuration returns the command duration histogram.
func (m *Metrics) CommandDuration() *prometheus.HistogramVec {
	return m.commandDuration
}

// CommandsInFlight returns the in-flight commands gauge.
func (m *Metrics) CommandsInFlight() *prometheus.GaugeVec {
	return m.commandsInFlight
}

// StoreOperationsTotal returns the event store operations counter.
func (m *Metrics) StoreOperationsTotal() *prometheus.CounterVec {
	return m.storeOperationsTotal
}

// StoreOperationDuration returns the event store duration histogram.
func (m *Metrics) StoreOperationDuration() *prometheus.HistogramVec {
	return m.storeOperationDuration
}

// EventsAppendedTotal returns the events appended counter.
func (m *Metrics) EventsAppendedTotal() *prometheus.CounterVec {
	return m.eventsAppendedTotal
}

// EventsLoadedTotal returns the events loaded counter.
func (m *Metrics) EventsLoadedTotal() *prometheus.CounterVec {
	return m.eventsLoadedTotal
}

// ConflictsTotal returns the concurrency conflicts counter.
func (m *Metrics) ConflictsTotal() *prometheus.CounterVec {
	return m.conflictsTotal
}

// CascadesTotal returns the approval cascades counter.
func (m *Metrics) CascadesTotal() *prometheus.CounterVec {
	return m.cascadesTotal
}

// CascadeSize returns the cascade size histogram.
func (m *Metrics) CascadeSize() *prometheus.HistogramVec {
	return m.cascadeSize
}

// ErrorsTotal returns the errors counter.
func (m *Metrics) ErrorsTotal() *prometheus.CounterVec {
	return m.errorsTotal
}
