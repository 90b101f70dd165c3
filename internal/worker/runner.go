package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/domain"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/service"
)

// RunnerConfig holds configuration for the polling runner.
type RunnerConfig struct {
	// WorkerCount determines how many concurrent workers claim and run tasks
	WorkerCount int

	// PollInterval is how long a worker sleeps after finding the queue empty
	PollInterval time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:  2,
		PollInterval: time.Second,
	}
}

// Runner drives task execution: each worker claims the next eligible task
// through the service, dispatches it to the registered executor for its job
// kind, and reports the outcome back. There is no in-memory queue; the tasks
// table is the queue, and the claim's conditional update is what keeps two
// workers (in this process or another) off the same task.
type Runner struct {
	tasks      *service.TaskService
	registry   *Registry
	config     RunnerConfig
	logger     *slog.Logger
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewRunner creates a new Runner.
func NewRunner(tasks *service.TaskService, registry *Registry, config RunnerConfig, logger *slog.Logger) *Runner {
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultRunnerConfig().WorkerCount
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultRunnerConfig().PollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		tasks:      tasks,
		registry:   registry,
		config:     config,
		logger:     logger.With("component", "worker_runner"),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Start launches the worker goroutines.
func (r *Runner) Start() {
	for i := 0; i < r.config.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	r.logger.Info("worker runner started",
		"worker_count", r.config.WorkerCount,
		"poll_interval", r.config.PollInterval)
}

// Stop gracefully shuts down the runner, waiting for in-flight tasks.
func (r *Runner) Stop() {
	r.cancelFunc()
	r.wg.Wait()
	r.logger.Info("worker runner stopped")
}

// worker claims and processes tasks until the runner is stopped.
func (r *Runner) worker(id int) {
	defer r.wg.Done()

	log := r.logger.With("worker_id", id)
	log.Debug("starting worker")

	for {
		select {
		case <-r.ctx.Done():
			log.Debug("stopping worker")
			return
		default:
		}

		task, err := r.tasks.ClaimNextTask(r.ctx)
		if err != nil {
			if !errors.Is(err, service.ErrNoEligibleTasks) && !errors.Is(err, context.Canceled) {
				log.Error("failed to claim task", "error", err)
			}
			r.sleep()
			continue
		}

		r.processTask(task, log)
	}
}

// sleep waits one poll interval or until the runner is stopped.
func (r *Runner) sleep() {
	select {
	case <-r.ctx.Done():
	case <-time.After(r.config.PollInterval):
	}
}

// processTask executes one claimed task and reports its outcome.
func (r *Runner) processTask(task *domain.Task, log *slog.Logger) {
	log = log.With(
		"task_id", task.ID,
		"job_kind", task.JobKind,
		"attempt", task.AttemptCount,
	)

	executor, ok := r.registry.Lookup(task.JobKind)
	if !ok {
		log.Warn("no executor registered for job kind")
		r.reportFailure(task, &ExecutionError{
			Code:    domain.ErrorCodeUnsupportedJobKind,
			Message: "no executor registered for job kind " + task.JobKind,
		}, log)
		return
	}

	// Bound execution by the lease: work past the expiry could race a
	// reclaim, so the executor gets cancelled first.
	ctx := r.ctx
	if task.LeaseExpiresAt != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, *task.LeaseExpiresAt)
		defer cancel()
	}

	log.Info("processing task")

	result, err := executor.Execute(ctx, task)
	if err != nil {
		log.Error("task execution failed", "error", err)
		var execErr *ExecutionError
		if !errors.As(err, &execErr) {
			execErr = &ExecutionError{
				Code:    "EXECUTOR_ERROR",
				Message: err.Error(),
			}
		}
		r.reportFailure(task, execErr, log)
		return
	}

	// Reports use a fresh context so an in-flight outcome still lands
	// during shutdown.
	_, err = r.tasks.ReportOutcome(context.Background(), task.ID, service.ReportInput{
		Status: domain.TaskStatusCompleted,
		Result: result,
	})
	if err != nil {
		log.Error("failed to report task completion", "error", err)
		return
	}

	log.Info("task completed")
}

// reportFailure sends a failure report; the service decides between re-queue
// and dead-letter.
func (r *Runner) reportFailure(task *domain.Task, execErr *ExecutionError, log *slog.Logger) {
	_, err := r.tasks.ReportOutcome(context.Background(), task.ID, service.ReportInput{
		Status:       domain.TaskStatusFailed,
		ErrorCode:    execErr.Code,
		ErrorMessage: execErr.Message,
		ErrorContext: execErr.Context,
	})
	if err != nil {
		log.Error("failed to report task failure",
			"error_code", execErr.Code,
			"error", err)
	}
}
