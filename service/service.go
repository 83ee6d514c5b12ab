// Package service exposes the timesheet operations as commands on a command bus.
//
// Entry commands load, change and save a single work-log entry or absence.
// Month commands go through the approval coordinator, which moves every
// record of the month in one unit of work.
//
//	svc := service.New(repos, coordinator, service.WithLogger(logger))
//	res, err := svc.Dispatch(ctx, service.CreateWorkLog{
//		CommandBase: tempo.CommandBase{ActorID: "alice"},
//		MemberID:    "alice",
//		Date:        "2024-01-25",
//		ProjectCode: "PRJ",
//		Minutes:     90,
//	})
package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/tempohq/tempo"
	"github.com/tempohq/tempo/approval"
	"github.com/tempohq/tempo/timesheet"
)

// Service dispatches timesheet commands.
type Service struct {
	bus         *tempo.CommandBus
	repos       *timesheet.Repositories
	coordinator *approval.Coordinator
}

type options struct {
	logger     tempo.Logger
	middleware []tempo.Middleware
	retry      *tempo.RetryConfig
	newID      func() string
}

// Option configures a Service.
type Option func(*options)

// WithLogger sets the logger of the logging middleware.
func WithLogger(l tempo.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMiddleware adds middleware between the request context middleware and
// logging, so metrics and tracing see the actor and correlation id.
func WithMiddleware(mw ...tempo.Middleware) Option {
	return func(o *options) {
		o.middleware = append(o.middleware, mw...)
	}
}

// WithRetry retries commands that lose a concurrency race.
func WithRetry(cfg tempo.RetryConfig) Option {
	return func(o *options) {
		o.retry = &cfg
	}
}

// WithIDGenerator sets the id generator for create commands without an id.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		o.newID = fn
	}
}

// New builds a service over the timesheet repositories and the approval coordinator.
func New(repos *timesheet.Repositories, coordinator *approval.Coordinator, opts ...Option) *Service {
	o := options{
		logger: tempo.NopLogger(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}

	chain := []tempo.Middleware{
		tempo.RecoveryMiddleware(),
		tempo.CorrelationIDMiddleware(nil),
		tempo.CausationMiddleware(),
		tempo.ActorMiddleware(true),
	}
	chain = append(chain, o.middleware...)
	chain = append(chain,
		tempo.NewLoggingMiddleware(o.logger).Middleware(),
		tempo.ValidationMiddleware(),
	)
	if o.retry != nil {
		chain = append(chain, tempo.RetryMiddleware(*o.retry))
	}

	s := &Service{
		bus:         tempo.NewCommandBus(tempo.WithMiddleware(chain...)),
		repos:       repos,
		coordinator: coordinator,
	}
	s.registerEntryHandlers(o.newID)
	s.registerMonthHandlers()
	return s
}

// Dispatch runs a command through the middleware chain and its handler.
func (s *Service) Dispatch(ctx context.Context, cmd tempo.Command) (tempo.CommandResult, error) {
	return s.bus.Dispatch(ctx, cmd)
}

// Bus returns the underlying command bus.
func (s *Service) Bus() *tempo.CommandBus {
	return s.bus
}

// Close stops accepting commands.
func (s *Service) Close() error {
	return s.bus.Close()
}

func (s *Service) registerEntryHandlers(newID func() string) {
	s.bus.Register(tempo.NewAggregateHandler(tempo.AggregateHandlerConfig[CreateWorkLog, *timesheet.WorkLogEntry]{
		Repository: s.repos.WorkLogs,
		Executor: func(_ context.Context, w *timesheet.WorkLogEntry, cmd CreateWorkLog) error {
			return w.Create(cmd.MemberID, cmd.Date, cmd.ProjectCode, cmd.Minutes, cmd.Description)
		},
		NewID: newID,
	}))
	s.bus.Register(tempo.NewAggregateHandler(tempo.AggregateHandlerConfig[UpdateWorkLog, *timesheet.WorkLogEntry]{
		Repository: s.repos.WorkLogs,
		Executor: func(_ context.Context, w *timesheet.WorkLogEntry, cmd UpdateWorkLog) error {
			return w.Update(cmd.Date, cmd.ProjectCode, cmd.Minutes, cmd.Description)
		},
	}))
	s.bus.Register(tempo.NewAggregateHandler(tempo.AggregateHandlerConfig[DeleteWorkLog, *timesheet.WorkLogEntry]{
		Repository: s.repos.WorkLogs,
		Executor: func(_ context.Context, w *timesheet.WorkLogEntry, _ DeleteWorkLog) error {
			return w.Delete()
		},
	}))

	s.bus.Register(tempo.NewAggregateHandler(tempo.AggregateHandlerConfig[CreateAbsence, *timesheet.Absence]{
		Repository: s.repos.Absences,
		Executor: func(_ context.Context, a *timesheet.Absence, cmd CreateAbsence) error {
			return a.Create(cmd.MemberID, cmd.Date, cmd.AbsenceType, cmd.Minutes, cmd.Note)
		},
		NewID: newID,
	}))
	s.bus.Register(tempo.NewAggregateHandler(tempo.AggregateHandlerConfig[UpdateAbsence, *timesheet.Absence]{
		Repository: s.repos.Absences,
		Executor: func(_ context.Context, a *timesheet.Absence, cmd UpdateAbsence) error {
			return a.Update(cmd.Date, cmd.AbsenceType, cmd.Minutes, cmd.Note)
		},
	}))
	s.bus.Register(tempo.NewAggregateHandler(tempo.AggregateHandlerConfig[DeleteAbsence, *timesheet.Absence]{
		Repository: s.repos.Absences,
		Executor: func(_ context.Context, a *timesheet.Absence, _ DeleteAbsence) error {
			return a.Delete()
		},
	}))
}

// The approver of a month decision is the acting user.
func (s *Service) registerMonthHandlers() {
	s.bus.Register(tempo.NewGenericHandler(func(ctx context.Context, cmd SubmitMonth) (tempo.CommandResult, error) {
		return monthResult(s.coordinator.SubmitMonth(ctx, cmd.MemberID, cmd.Month))
	}))
	s.bus.Register(tempo.NewGenericHandler(func(ctx context.Context, cmd ApproveMonth) (tempo.CommandResult, error) {
		return monthResult(s.coordinator.ApproveMonth(ctx, cmd.ApprovalID, tempo.ActorFrom(ctx)))
	}))
	s.bus.Register(tempo.NewGenericHandler(func(ctx context.Context, cmd RejectMonth) (tempo.CommandResult, error) {
		return monthResult(s.coordinator.RejectMonth(ctx, cmd.ApprovalID, tempo.ActorFrom(ctx), cmd.Reason))
	}))
}

func monthResult(res approval.Result, err error) (tempo.CommandResult, error) {
	if err != nil {
		return tempo.NewErrorResult(err), err
	}
	return tempo.NewSuccessResultWithData(res.ApprovalID, res.Version, res), nil
}
