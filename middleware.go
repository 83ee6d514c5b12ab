package tempo

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
)

// ValidationMiddleware validates commands before they reach the handler.
func ValidationMiddleware() Middleware {
	return func(next MiddlewareFunc) MiddlewareFunc {
		return func(ctx context.Context, cmd Command) (CommandResult, error) {
			if err := cmd.Validate(); err != nil {
				return NewErrorResult(err), err
			}
			return next(ctx, cmd)
		}
	}
}

// RecoveryMiddleware turns handler panics into *PanicError results.
func RecoveryMiddleware() Middleware {
	return func(next MiddlewareFunc) MiddlewareFunc {
		return func(ctx context.Context, cmd Command) (result CommandResult, err error) {
			defer func() {
				if r := recover(); r != nil {
					panicErr := NewPanicError(cmd.CommandType(), r, string(debug.Stack()))
					result = NewErrorResult(panicErr)
					err = panicErr
				}
			}()
			return next(ctx, cmd)
		}
	}
}

// LoggingMiddleware logs command execution.
type LoggingMiddleware struct {
	logger Logger
}

// NewLoggingMiddleware creates a new LoggingMiddleware.
func NewLoggingMiddleware(logger Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

// Middleware returns the middleware function.
func (m *LoggingMiddleware) Middleware() Middleware {
	return func(next MiddlewareFunc) MiddlewareFunc {
		return func(ctx context.Context, cmd Command) (CommandResult, error) {
			start := time.Now()
			m.logger.Debug("Dispatching command", "type", cmd.CommandType(), "actor", ActorFrom(ctx))

			result, err := next(ctx, cmd)
			duration := time.Since(start)

			switch {
			case err == nil:
				m.logger.Info("Command completed",
					"type", cmd.CommandType(),
					"duration", duration,
					"aggregateId", result.AggregateID,
					"version", result.Version,
				)
			case expectedFailure(err):
				// Rejected input and stale versions are the caller's problem.
				m.logger.Warn("Command rejected",
					"type", cmd.CommandType(),
					"duration", duration,
					"error", err,
				)
			default:
				m.logger.Error("Command failed",
					"type", cmd.CommandType(),
					"duration", duration,
					"error", err,
				)
			}
			return result, err
		}
	}
}

func expectedFailure(err error) bool {
	return errors.Is(err, ErrValidationFailed) ||
		errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrConcurrencyConflict)
}

// TimeoutMiddleware bounds command execution.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next MiddlewareFunc) MiddlewareFunc {
		return func(ctx context.Context, cmd Command) (CommandResult, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, cmd)
		}
	}
}

// RetryConfig configures RetryMiddleware.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first one).
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// Multiplier is the factor by which the delay increases on each retry.
	Multiplier float64

	// ShouldRetry decides whether an error is retried. Nil retries concurrency conflicts only.
	ShouldRetry func(err error) bool
}

// DefaultRetryConfig retries concurrency conflicts three times.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}
}

// RetryMiddleware re-dispatches commands that failed with a retryable error.
// Every attempt reloads its aggregates, so a conflict retry sees the winner's events.
// A VersionedCommand is never retried: its expected version cannot change.
func RetryMiddleware(config RetryConfig) Middleware {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 1.0
	}
	if config.ShouldRetry == nil {
		config.ShouldRetry = func(err error) bool {
			return errors.Is(err, ErrConcurrencyConflict)
		}
	}

	return func(next MiddlewareFunc) MiddlewareFunc {
		return func(ctx context.Context, cmd Command) (CommandResult, error) {
			if _, ok := cmd.(VersionedCommand); ok {
				return next(ctx, cmd)
			}

			var (
				result CommandResult
				err    error
			)
			delay := config.InitialDelay

			for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
				result, err = next(ctx, cmd)
				if err == nil || attempt == config.MaxAttempts || !config.ShouldRetry(err) {
					break
				}

				select {
				case <-ctx.Done():
					return NewErrorResult(ctx.Err()), ctx.Err()
				case <-time.After(delay):
				}

				delay = time.Duration(float64(delay) * config.Multiplier)
				if config.MaxDelay > 0 && delay > config.MaxDelay {
					delay = config.MaxDelay
				}
			}
			return result, err
		}
	}
}

// CorrelationIDMiddleware ensures every command runs with a correlation id.
// An id already in the context wins, then the command's own, then a generated one.
func CorrelationIDMiddleware(generator func() string) Middleware {
	if generator == nil {
		generator = uuid.NewString
	}

	return func(next MiddlewareFunc) MiddlewareFunc {
		return func(ctx context.Context, cmd Command) (CommandResult, error) {
			if CorrelationIDFrom(ctx) != "" {
				return next(ctx, cmd)
			}

			var id string
			if c, ok := cmd.(interface{ GetCorrelationID() string }); ok {
				id = c.GetCorrelationID()
			}
			if id == "" {
				id = generator()
			}
			return next(WithCorrelationID(ctx, id), cmd)
		}
	}
}

// CausationMiddleware records the command type as the causation id of the events it writes.
func CausationMiddleware() Middleware {
	return func(next MiddlewareFunc) MiddlewareFunc {
		return func(ctx context.Context, cmd Command) (CommandResult, error) {
			return next(WithCausationID(ctx, cmd.CommandType()), cmd)
		}
	}
}

// ActorMiddleware moves the command's actor into the context, where the event store
// picks it up for event metadata and audit rows. With required set, commands without
// an actor fail validation.
func ActorMiddleware(required bool) Middleware {
	return func(next MiddlewareFunc) MiddlewareFunc {
		return func(ctx context.Context, cmd Command) (CommandResult, error) {
			actor := ActorFrom(ctx)
			if c, ok := cmd.(interface{ GetActorID() string }); ok && c.GetActorID() != "" {
				actor = c.GetActorID()
			}
			if actor == "" {
				if required {
					err := NewValidationError(cmd.CommandType(), "actorId", "is required")
					return NewErrorResult(err), err
				}
				return next(ctx, cmd)
			}
			return next(WithActor(ctx, actor), cmd)
		}
	}
}
