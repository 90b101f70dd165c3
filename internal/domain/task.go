package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

// Possible task status values
const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// TaskType is the coarse category of a task. Dispatch happens on the
// finer-grained JobKind string; the type exists for filtering and reporting.
type TaskType string

// Possible task type values
const (
	TaskTypeLLM    TaskType = "LLM"
	TaskTypeImage  TaskType = "IMAGE"
	TaskTypeVideo  TaskType = "VIDEO"
	TaskTypeExport TaskType = "EXPORT"
	TaskTypeSystem TaskType = "SYSTEM"
)

// DeadReason classifies why a failed task is considered dead.
type DeadReason string

const (
	DeadReasonMaxAttemptsExceeded DeadReason = "max_attempts_exceeded"
	DeadReasonNonRetryable        DeadReason = "non_retryable"
)

// Stable error codes the queue itself understands. Executors report
// free-form codes; only the ones on the non-retryable list short-circuit
// the retry budget.
const (
	ErrorCodeUnsupportedJobKind = "UNSUPPORTED_JOB_KIND"
	ErrorCodeUnsupportedPayload = "UNSUPPORTED_PAYLOAD"
	ErrorCodeInvalidPayload     = "INVALID_PAYLOAD"
)

// nonRetryableErrorCodes is the fixed allow-list of error codes that
// dead-letter a task immediately, bypassing the remaining attempt budget.
var nonRetryableErrorCodes = map[string]struct{}{
	ErrorCodeUnsupportedJobKind: {},
	ErrorCodeUnsupportedPayload: {},
	ErrorCodeInvalidPayload:     {},
}

// IsNonRetryableErrorCode reports whether the given executor error code is
// on the fixed non-retryable list.
func IsNonRetryableErrorCode(code string) bool {
	_, ok := nonRetryableErrorCodes[code]
	return ok
}

// NonRetryableErrorCodes returns the fixed allow-list in sorted order, for
// store implementations that need to express the dead-letter predicate in SQL.
func NonRetryableErrorCodes() []string {
	codes := make([]string, 0, len(nonRetryableErrorCodes))
	for code := range nonRetryableErrorCodes {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Payload is the generic structured-value type used for task payloads,
// results and error context. The queue never interprets its contents.
type Payload map[string]any

// DefaultMaxAttempts is applied when task creation does not specify a budget.
const DefaultMaxAttempts = 3

// Common validation errors for Task
var (
	ErrEmptyTaskID        = errors.New("task ID cannot be empty")
	ErrEmptyEpisodeID     = errors.New("task episode ID cannot be empty")
	ErrEmptyJobKind       = errors.New("task job kind cannot be empty")
	ErrInvalidTaskType    = errors.New("invalid task type")
	ErrInvalidTaskStatus  = errors.New("invalid task status")
	ErrInvalidMaxAttempts = errors.New("task max attempts must be positive")
	ErrInvalidProgress    = errors.New("task progress must be within [0, 1]")

	// ErrInvalidTransition is returned by TransitionTo when the requested
	// status change is not allowed by the task state machine.
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// Task is one unit of asynchronous work with its own lifecycle and retry
// budget. The row in the tasks table is the unit of mutual exclusion: a
// worker owns a task only while it holds an unexpired lease on it.
type Task struct {
	ID             uuid.UUID  `json:"id"`
	EpisodeID      uuid.UUID  `json:"episode_id"`
	ShotID         *uuid.UUID `json:"shot_id,omitempty"`
	Type           TaskType   `json:"type"`
	JobKind        string     `json:"job_kind"`
	Payload        Payload    `json:"payload"`
	Status         TaskStatus `json:"status"`
	AttemptCount   int        `json:"attempt_count"`
	MaxAttempts    int        `json:"max_attempts"`
	NextAttemptAt  time.Time  `json:"next_attempt_at"`
	LeaseToken     *uuid.UUID `json:"lease_token,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	TraceID        string     `json:"trace_id,omitempty"`
	Progress       float64    `json:"progress"`
	Result         Payload    `json:"result,omitempty"`
	ErrorCode      string     `json:"error_code,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	ErrorContext   Payload    `json:"error_context,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewTask creates a queued task ready for its first attempt.
// maxAttempts <= 0 selects DefaultMaxAttempts.
// Returns an error if validation fails.
func NewTask(
	episodeID uuid.UUID,
	shotID *uuid.UUID,
	taskType TaskType,
	jobKind string,
	payload Payload,
	maxAttempts int,
	traceID string,
	idempotencyKey string,
	now time.Time,
) (*Task, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	task := &Task{
		ID:             uuid.New(),
		EpisodeID:      episodeID,
		ShotID:         shotID,
		Type:           taskType,
		JobKind:        jobKind,
		Payload:        payload,
		Status:         TaskStatusQueued,
		AttemptCount:   0,
		MaxAttempts:    maxAttempts,
		NextAttemptAt:  now,
		IdempotencyKey: idempotencyKey,
		TraceID:        traceID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.EpisodeID == uuid.Nil {
		return ErrEmptyEpisodeID
	}

	if t.JobKind == "" {
		return ErrEmptyJobKind
	}

	if !isValidTaskType(t.Type) {
		return ErrInvalidTaskType
	}

	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}

	if t.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	if t.Progress < 0 || t.Progress > 1 {
		return ErrInvalidProgress
	}

	return nil
}

// taskTransitions is the single source of truth for legal status changes.
// Every status mutation in the codebase goes through TransitionTo, so
// illegal transitions are rejected in one place instead of being re-checked
// at each call site.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusQueued:    {TaskStatusRunning, TaskStatusCancelled},
	TaskStatusRunning:   {TaskStatusCompleted, TaskStatusFailed, TaskStatusQueued, TaskStatusCancelled},
	TaskStatusFailed:    {TaskStatusQueued},
	TaskStatusCancelled: {TaskStatusQueued},
	TaskStatusCompleted: {},
}

// CanTransitionTo reports whether moving from the task's current status to
// the target status is legal.
func (t *Task) CanTransitionTo(target TaskStatus) bool {
	for _, allowed := range taskTransitions[t.Status] {
		if allowed == target {
			return true
		}
	}
	return false
}

// TransitionTo moves the task to the target status and bumps UpdatedAt.
// Returns ErrInvalidTransition (wrapped with the attempted change) if the
// state machine does not allow it.
func (t *Task) TransitionTo(target TaskStatus, now time.Time) error {
	if !t.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, target)
	}

	t.Status = target
	t.UpdatedAt = now
	return nil
}

// IsTerminal reports whether the task's current attempt cycle is over.
// Failed tasks may still be reopened by retry.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// DeadReason computes the dead-letter classification for the task.
// A task is dead when it is failed and either exhausted its attempt budget
// or failed with a non-retryable error code. The boolean is false for tasks
// that are not dead.
func (t *Task) DeadReason() (DeadReason, bool) {
	if t.Status != TaskStatusFailed {
		return "", false
	}

	if IsNonRetryableErrorCode(t.ErrorCode) {
		return DeadReasonNonRetryable, true
	}

	if t.AttemptCount >= t.MaxAttempts {
		return DeadReasonMaxAttemptsExceeded, true
	}

	return "", false
}

// IsDead reports whether the task currently matches the dead-letter predicate.
func (t *Task) IsDead() bool {
	_, dead := t.DeadReason()
	return dead
}

// LeaseExpired reports whether the task's lease, if any, has expired at now.
// Tasks without a lease are treated as expired so they stay claimable.
func (t *Task) LeaseExpired(now time.Time) bool {
	if t.LeaseExpiresAt == nil {
		return true
	}
	return !t.LeaseExpiresAt.After(now)
}

// isValidTaskStatus checks if the given status is a valid TaskStatus.
func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// isValidTaskType checks if the given type is a valid TaskType.
func isValidTaskType(taskType TaskType) bool {
	switch taskType {
	case TaskTypeLLM, TaskTypeImage, TaskTypeVideo, TaskTypeExport, TaskTypeSystem:
		return true
	default:
		return false
	}
}
