package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/config"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/domain"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/platform/logger"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/store"
)

// listTasksMaxLimit caps plain task listings regardless of what the caller asks for.
const listTasksMaxLimit = 200

// TaskService implements the task lifecycle: idempotent creation, claiming,
// outcome reporting with retry scheduling, cancellation and manual retry.
// All status changes flow through the domain state machine plus a
// compare-and-swap in the store, so concurrent writers lose cleanly instead
// of clobbering each other.
type TaskService struct {
	tasks    store.TaskStore
	episodes store.EpisodeStore
	audit    store.AuditLogStore
	clock    Clock
	backoff  Backoff
	cfg      config.QueueConfig
	logger   *slog.Logger
}

// NewTaskService creates a new TaskService.
// Returns an error if any dependency is nil.
func NewTaskService(
	tasks store.TaskStore,
	episodes store.EpisodeStore,
	audit store.AuditLogStore,
	clock Clock,
	cfg config.QueueConfig,
	log *slog.Logger,
) (*TaskService, error) {
	if tasks == nil {
		return nil, errors.New("task store cannot be nil")
	}
	if episodes == nil {
		return nil, errors.New("episode store cannot be nil")
	}
	if audit == nil {
		return nil, errors.New("audit log store cannot be nil")
	}
	if clock == nil {
		return nil, errors.New("clock cannot be nil")
	}
	if log == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &TaskService{
		tasks:    tasks,
		episodes: episodes,
		audit:    audit,
		clock:    clock,
		backoff:  Backoff{Base: cfg.BackoffBase(), Cap: cfg.BackoffCap()},
		cfg:      cfg,
		logger:   log.With("component", "task_service"),
	}, nil
}

// CreateTaskInput carries the parameters for CreateTask.
type CreateTaskInput struct {
	EpisodeID      uuid.UUID
	ShotID         *uuid.UUID
	Type           domain.TaskType
	JobKind        string
	Payload        domain.Payload
	MaxAttempts    int
	TraceID        string
	IdempotencyKey string
}

// CreateTask enqueues a new task. When an idempotency key is supplied and a
// task with that key already exists in the episode, the existing task is
// returned unchanged and nothing new is created, regardless of the existing
// task's current status.
func (s *TaskService) CreateTask(ctx context.Context, input CreateTaskInput) (*domain.Task, error) {
	log := logger.FromContext(ctx)

	exists, err := s.episodes.Exists(ctx, input.EpisodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to check episode: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrEpisodeNotFound, input.EpisodeID)
	}

	if input.IdempotencyKey != "" {
		existing, err := s.tasks.GetByIdempotencyKey(ctx, input.EpisodeID, input.IdempotencyKey)
		if err == nil {
			log.Debug("task creation deduplicated by idempotency key",
				"task_id", existing.ID,
				"episode_id", input.EpisodeID)
			return existing, nil
		}
		if !errors.Is(err, store.ErrTaskNotFound) {
			return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
		}
	}

	maxAttempts := input.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.DefaultMaxAttempts
	}

	task, err := domain.NewTask(
		input.EpisodeID,
		input.ShotID,
		input.Type,
		input.JobKind,
		input.Payload,
		maxAttempts,
		input.TraceID,
		input.IdempotencyKey,
		s.clock.Now(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if err := s.tasks.Create(ctx, task); err != nil {
		// A concurrent create with the same key can slip in between the
		// lookup above and the insert; the unique index settles the race
		// and we return whichever task won.
		if errors.Is(err, store.ErrDuplicate) && input.IdempotencyKey != "" {
			existing, lookupErr := s.tasks.GetByIdempotencyKey(ctx, input.EpisodeID, input.IdempotencyKey)
			if lookupErr != nil {
				return nil, fmt.Errorf("failed to resolve idempotency race: %w", lookupErr)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	log.Info("task created",
		"task_id", task.ID,
		"episode_id", task.EpisodeID,
		"job_kind", task.JobKind,
		"max_attempts", task.MaxAttempts)

	return task, nil
}

// GetTask retrieves a task by ID.
func (s *TaskService) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// ListTasks returns tasks matching the filter, newest first. A non-positive
// limit selects the maximum.
func (s *TaskService) ListTasks(ctx context.Context, filter store.TaskFilter, limit int) ([]*domain.Task, error) {
	if limit <= 0 || limit > listTasksMaxLimit {
		limit = listTasksMaxLimit
	}

	tasks, err := s.tasks.List(ctx, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// CancelTask cancels a queued or running task. It returns (nil, nil) when
// the task does not exist or is not in a cancellable state, so the caller
// can distinguish "nothing to cancel" from a storage fault.
func (s *TaskService) CancelTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	log := logger.FromContext(ctx)

	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	if !task.CanTransitionTo(domain.TaskStatusCancelled) {
		return nil, nil
	}

	from := task.Status
	if err := task.TransitionTo(domain.TaskStatusCancelled, s.clock.Now()); err != nil {
		return nil, nil
	}
	task.LeaseToken = nil
	task.LeaseExpiresAt = nil

	if err := s.tasks.UpdateFromStatus(ctx, task, from); err != nil {
		// Lost the race: the task changed state underneath us, so it is no
		// longer cancellable from the state we observed.
		if errors.Is(err, store.ErrUpdateFailed) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to cancel task: %w", err)
	}

	log.Info("task cancelled", "task_id", task.ID, "previous_status", from)
	return task, nil
}

// ClaimNextTask claims the oldest eligible task for a worker: the task
// becomes running, its attempt count is incremented, and a fresh lease token
// with expiry is attached. Eligible means queued and due, or running with an
// expired lease — the latter is how work claimed by a crashed worker gets
// back into rotation. Returns ErrNoEligibleTasks when nothing qualifies.
func (s *TaskService) ClaimNextTask(ctx context.Context) (*domain.Task, error) {
	log := logger.FromContext(ctx)

	now := s.clock.Now()
	leaseToken := uuid.New()

	task, err := s.tasks.ClaimNext(ctx, now, leaseToken, now.Add(s.cfg.LeaseDuration()))
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return nil, ErrNoEligibleTasks
		}
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}

	log.Info("task claimed",
		"task_id", task.ID,
		"job_kind", task.JobKind,
		"attempt", task.AttemptCount,
		"lease_expires_at", task.LeaseExpiresAt)

	return task, nil
}

// ReportInput carries an execution report from a worker.
type ReportInput struct {
	Status       domain.TaskStatus
	Progress     *float64
	Result       domain.Payload
	ErrorCode    string
	ErrorMessage string
	ErrorContext domain.Payload
}

// ReportOutcome applies a worker's execution report to a running task.
//
// Status "running" updates progress in place. Status "completed" finishes the
// task and stores its result. Status "failed" either re-queues the task with
// a backoff delay or leaves it failed: the task stays failed when the error
// code is non-retryable or the attempt budget is exhausted, which is exactly
// the dead-letter condition.
//
// Reports against tasks that are not running fail with ErrInvalidTransition,
// including the case where the claim was lost to lease expiry in the interim.
func (s *TaskService) ReportOutcome(ctx context.Context, taskID uuid.UUID, input ReportInput) (*domain.Task, error) {
	log := logger.FromContext(ctx)

	switch input.Status {
	case domain.TaskStatusRunning, domain.TaskStatusCompleted, domain.TaskStatusFailed:
	default:
		return nil, fmt.Errorf("%w: report status must be running, completed or failed, got %q",
			ErrInvalidInput, input.Status)
	}
	if input.Progress != nil && (*input.Progress < 0 || *input.Progress > 1) {
		return nil, fmt.Errorf("%w: progress must be within [0, 1]", ErrInvalidInput)
	}
	if input.Status == domain.TaskStatusFailed && input.ErrorCode == "" {
		return nil, fmt.Errorf("%w: failure reports require an error code", ErrInvalidInput)
	}

	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	if task.Status != domain.TaskStatusRunning {
		return nil, fmt.Errorf("%w: task %s is %s", ErrInvalidTransition, task.ID, task.Status)
	}

	now := s.clock.Now()

	switch input.Status {
	case domain.TaskStatusRunning:
		if input.Progress != nil {
			task.Progress = *input.Progress
		}
		if input.Result != nil {
			task.Result = input.Result
		}
		task.UpdatedAt = now

	case domain.TaskStatusCompleted:
		if err := task.TransitionTo(domain.TaskStatusCompleted, now); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
		}
		task.Progress = 1
		if input.Progress != nil {
			task.Progress = *input.Progress
		}
		task.Result = input.Result
		task.ErrorCode = ""
		task.ErrorMessage = ""
		task.ErrorContext = nil
		task.LeaseToken = nil
		task.LeaseExpiresAt = nil

	case domain.TaskStatusFailed:
		task.ErrorCode = input.ErrorCode
		task.ErrorMessage = input.ErrorMessage
		task.ErrorContext = input.ErrorContext
		task.LeaseToken = nil
		task.LeaseExpiresAt = nil

		retryable := !domain.IsNonRetryableErrorCode(input.ErrorCode) &&
			task.AttemptCount < task.MaxAttempts

		if retryable {
			if err := task.TransitionTo(domain.TaskStatusQueued, now); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
			}
			delay := s.backoff.Delay(task.AttemptCount)
			task.NextAttemptAt = now.Add(delay)
			log.Info("task re-queued after failure",
				"task_id", task.ID,
				"attempt", task.AttemptCount,
				"error_code", task.ErrorCode,
				"next_attempt_at", task.NextAttemptAt)
		} else {
			if err := task.TransitionTo(domain.TaskStatusFailed, now); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
			}
			reason, _ := task.DeadReason()
			log.Warn("task dead-lettered",
				"task_id", task.ID,
				"attempt", task.AttemptCount,
				"error_code", task.ErrorCode,
				"dead_reason", reason)
		}
	}

	if err := s.tasks.UpdateFromStatus(ctx, task, domain.TaskStatusRunning); err != nil {
		if errors.Is(err, store.ErrUpdateFailed) {
			return nil, fmt.Errorf("%w: task %s left the running state before the report landed",
				ErrInvalidTransition, task.ID)
		}
		return nil, fmt.Errorf("failed to apply execution report: %w", err)
	}

	return task, nil
}

// RetryTask manually re-queues a single dead task and records the action in
// the audit log. It returns (nil, nil) when the task does not exist or does
// not currently match the dead-letter predicate; the re-validation happens
// atomically at write time, so a task revived by someone else in between is
// simply not retried twice.
//
// Audit append failures are logged but do not undo the retry: the state
// change has already committed and losing the annotation is preferable to
// losing the retry.
func (s *TaskService) RetryTask(ctx context.Context, id uuid.UUID, actor, reason string) (*domain.Task, error) {
	log := logger.FromContext(ctx)

	if actor == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}

	task, err := s.tasks.RequeueDead(ctx, id, s.clock.Now())
	if err != nil {
		if errors.Is(err, store.ErrUpdateFailed) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to retry task: %w", err)
	}

	s.appendRetryAudit(ctx, task, nil, actor, reason, domain.AuditActionTaskRetrySingle)

	log.Info("task retried",
		"task_id", task.ID,
		"actor", actor,
		"attempt_count", task.AttemptCount,
		"max_attempts", task.MaxAttempts)

	return task, nil
}

// appendRetryAudit writes one retry audit entry for the task. batchID is nil
// for single retries and shared across a bulk batch.
func (s *TaskService) appendRetryAudit(
	ctx context.Context,
	task *domain.Task,
	batchID *uuid.UUID,
	actor, reason string,
	action domain.AuditAction,
) {
	log := logger.FromContext(ctx)

	entry, err := domain.NewAuditLogEntry(action, actor,
		fmt.Sprintf("re-queued task %s (%s)", task.ID, task.JobKind), s.clock.Now())
	if err != nil {
		log.Error("failed to build retry audit entry", "task_id", task.ID, "error", err)
		return
	}

	taskID := task.ID
	episodeID := task.EpisodeID
	entry.BatchID = batchID
	entry.TaskID = &taskID
	entry.EpisodeID = &episodeID
	entry.TraceID = task.TraceID
	entry.JobKind = task.JobKind
	entry.Metadata = domain.Payload{
		"previous_error_code": task.ErrorCode,
		"attempt_count":       task.AttemptCount,
		"max_attempts":        task.MaxAttempts,
	}
	if reason != "" {
		entry.Metadata["reason"] = reason
	}

	if err := s.audit.Append(ctx, entry); err != nil {
		log.Error("failed to append retry audit entry",
			"task_id", task.ID,
			"action", action,
			"error", err)
	}
}
