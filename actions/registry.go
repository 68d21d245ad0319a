package actions

import (
	"context"
	"fmt"
	"sync"

	"github.com/c360/eventgate/errors"
)

// Executor performs one kind of action. Implementations must be safe for
// concurrent use; the job queue calls Execute from many workers.
type Executor interface {
	// Kind returns the action kind this executor handles
	Kind() Kind

	// Execute performs the action against the event payload. Transient
	// errors are retried by the job queue; invalid-classified errors are
	// dead-lettered.
	Execute(ctx context.Context, action Action, payload []byte) error
}

// Registry dispatches actions to the executor registered for their kind
type Registry struct {
	mu        sync.RWMutex
	executors map[Kind]Executor
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{executors: make(map[Kind]Executor)}
}

// Register adds an executor. Registering a kind twice fails; replacing an
// executor at runtime is never intended.
func (r *Registry) Register(exec Executor) error {
	kind := exec.Kind()
	if !kind.Valid() {
		return errors.WrapInvalid(errors.ErrInvalidAction, "Registry", "Register",
			fmt.Sprintf("unknown action type %q", kind))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[kind]; exists {
		return errors.WrapInvalid(errors.ErrInvalidAction, "Registry", "Register",
			fmt.Sprintf("executor for %q already registered", kind))
	}
	r.executors[kind] = exec
	return nil
}

// Execute validates the action and dispatches it to its executor. A missing
// executor is an invalid-classified error so the job is dead-lettered rather
// than retried forever.
func (r *Registry) Execute(ctx context.Context, action Action, payload []byte) error {
	if err := action.Validate(); err != nil {
		return err
	}

	r.mu.RLock()
	exec, ok := r.executors[action.Kind]
	r.mu.RUnlock()

	if !ok {
		return errors.WrapInvalid(errors.ErrInvalidAction, "Registry", "Execute",
			fmt.Sprintf("no executor registered for %q", action.Kind))
	}
	return exec.Execute(ctx, action, payload)
}

// Kinds returns the kinds with registered executors
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.executors))
	for k := range r.executors {
		kinds = append(kinds, k)
	}
	return kinds
}
