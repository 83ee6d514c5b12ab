package tempo

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// CommandHandler handles one command type.
type CommandHandler interface {
	// CommandType returns the type of command this handler processes.
	CommandType() string

	// Handle processes the command and returns a result.
	Handle(ctx context.Context, cmd Command) (CommandResult, error)
}

// CommandHandlerFunc adapts a function to CommandHandler.
type CommandHandlerFunc struct {
	cmdType string
	fn      func(ctx context.Context, cmd Command) (CommandResult, error)
}

// NewCommandHandlerFunc creates a new CommandHandlerFunc.
func NewCommandHandlerFunc(cmdType string, fn func(ctx context.Context, cmd Command) (CommandResult, error)) *CommandHandlerFunc {
	return &CommandHandlerFunc{cmdType: cmdType, fn: fn}
}

// CommandType returns the command type this handler processes.
func (h *CommandHandlerFunc) CommandType() string {
	return h.cmdType
}

// Handle processes the command.
func (h *CommandHandlerFunc) Handle(ctx context.Context, cmd Command) (CommandResult, error) {
	return h.fn(ctx, cmd)
}

// GenericHandler is a type-safe handler for the command type C.
type GenericHandler[C Command] struct {
	handler func(ctx context.Context, cmd C) (CommandResult, error)
	cmdType string
}

// NewGenericHandler creates a new GenericHandler for the specified command type.
func NewGenericHandler[C Command](handler func(ctx context.Context, cmd C) (CommandResult, error)) *GenericHandler[C] {
	var zero C
	return &GenericHandler[C]{handler: handler, cmdType: zero.CommandType()}
}

// CommandType returns the command type this handler processes.
func (h *GenericHandler[C]) CommandType() string {
	return h.cmdType
}

// Handle processes the command with type checking.
func (h *GenericHandler[C]) Handle(ctx context.Context, cmd Command) (CommandResult, error) {
	typed, ok := cmd.(C)
	if !ok {
		err := fmt.Errorf("tempo: expected command type %T, got %T", *new(C), cmd)
		return NewErrorResult(err), err
	}
	return h.handler(ctx, typed)
}

// AggregateHandler loads the aggregate a command targets, runs the executor on it
// and saves the raised events through the aggregate's repository.
type AggregateHandler[C AggregateCommand, A Aggregate] struct {
	repo     *Repository[A]
	executor func(ctx context.Context, agg A, cmd C) error
	newID    func() string
}

// AggregateHandlerConfig configures an AggregateHandler.
type AggregateHandlerConfig[C AggregateCommand, A Aggregate] struct {
	Repository *Repository[A]
	Executor   func(ctx context.Context, agg A, cmd C) error

	// NewID assigns an id to commands that create an aggregate without naming one.
	NewID func() string
}

// NewAggregateHandler creates a new AggregateHandler.
func NewAggregateHandler[C AggregateCommand, A Aggregate](config AggregateHandlerConfig[C, A]) *AggregateHandler[C, A] {
	return &AggregateHandler[C, A]{
		repo:     config.Repository,
		executor: config.Executor,
		newID:    config.NewID,
	}
}

// CommandType returns the command type this handler processes.
func (h *AggregateHandler[C, A]) CommandType() string {
	var zero C
	return zero.CommandType()
}

// Handle loads the aggregate, executes the command, and saves the aggregate.
func (h *AggregateHandler[C, A]) Handle(ctx context.Context, cmd Command) (CommandResult, error) {
	typed, ok := cmd.(C)
	if !ok {
		err := fmt.Errorf("tempo: expected command type %T, got %T", *new(C), cmd)
		return NewErrorResult(err), err
	}

	id := typed.AggregateID()
	if id == "" {
		if h.newID == nil {
			err := NewValidationError(typed.CommandType(), "id", "is required")
			return NewErrorResult(err), err
		}
		id = h.newID()
	}

	agg, err := h.repo.Load(ctx, id)
	if err != nil {
		return NewErrorResult(err), err
	}
	if vc, ok := cmd.(VersionedCommand); ok && agg.Version() > 0 && vc.GetExpectedVersion() != agg.Version() {
		err := NewConcurrencyError(id, vc.GetExpectedVersion(), agg.Version())
		return NewErrorResult(err), err
	}
	if err := h.executor(ctx, agg, typed); err != nil {
		return NewErrorResult(err), err
	}

	version, err := h.repo.Save(ctx, agg)
	if err != nil {
		return NewErrorResult(err), err
	}
	return NewSuccessResult(agg.AggregateID(), version), nil
}

// HandlerRegistry manages command handler registration and lookup.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]CommandHandler
}

// NewHandlerRegistry creates a new HandlerRegistry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]CommandHandler)}
}

// Register adds a handler, replacing any handler of the same command type.
func (r *HandlerRegistry) Register(handler CommandHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[handler.CommandType()] = handler
}

// Get returns the handler for a command type, or nil.
func (r *HandlerRegistry) Get(cmdType string) CommandHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[cmdType]
}

// Has returns true if a handler is registered for the command type.
func (r *HandlerRegistry) Has(cmdType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[cmdType]
	return ok
}

// Count returns the number of registered handlers.
func (r *HandlerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// CommandTypes returns the registered command types, sorted.
func (r *HandlerRegistry) CommandTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// GetCommandType returns the type name of a command using reflection.
func GetCommandType(cmd interface{}) string {
	if cmd == nil {
		return ""
	}
	t := reflect.TypeOf(cmd)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
