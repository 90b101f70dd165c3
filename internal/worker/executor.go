package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/domain"
)

// Executor runs one kind of job. Implementations must be safe for concurrent
// use: the runner calls Execute from multiple workers at once.
type Executor interface {
	// JobKind returns the dispatch key this executor handles.
	JobKind() string

	// Execute performs the work and returns the task result payload.
	// The context carries the lease deadline; implementations should stop
	// when it is cancelled.
	Execute(ctx context.Context, task *domain.Task) (domain.Payload, error)
}

// ExecutionError is a failure with a stable error code. Executors return it
// to control retry classification; any other error is reported under the
// generic EXECUTOR_ERROR code and stays retryable.
type ExecutionError struct {
	Code    string
	Message string
	Context domain.Payload
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Registry maps job kinds to executors. Registration happens during startup;
// the map is read-only afterwards.
type Registry struct {
	executors map[string]Executor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds an executor for its job kind.
// Returns an error on duplicate registration.
func (r *Registry) Register(e Executor) error {
	if e == nil {
		return errors.New("executor cannot be nil")
	}
	kind := e.JobKind()
	if kind == "" {
		return errors.New("executor job kind cannot be empty")
	}
	if _, ok := r.executors[kind]; ok {
		return fmt.Errorf("executor already registered for job kind %q", kind)
	}

	r.executors[kind] = e
	return nil
}

// Lookup returns the executor for the job kind, if any.
func (r *Registry) Lookup(jobKind string) (Executor, bool) {
	e, ok := r.executors[jobKind]
	return e, ok
}

// NoopExecutor completes immediately without doing any work. Used for
// smoke-testing the queue end to end.
type NoopExecutor struct{}

// JobKind implements Executor.
func (NoopExecutor) JobKind() string {
	return "system.noop"
}

// Execute implements Executor.
func (NoopExecutor) Execute(ctx context.Context, task *domain.Task) (domain.Payload, error) {
	return domain.Payload{"noop": true}, nil
}
