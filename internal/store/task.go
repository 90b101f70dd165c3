package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/domain"
)

// TaskFilter narrows task listings. Nil fields match everything.
type TaskFilter struct {
	EpisodeID *uuid.UUID
	Status    *domain.TaskStatus
}

// DeadLetterFilter narrows dead-letter queries and bulk-retry selections.
// Zero-valued fields match everything.
type DeadLetterFilter struct {
	EpisodeID  *uuid.UUID
	JobKind    string
	TraceID    string
	DeadReason *domain.DeadReason
	ErrorCode  string
}

// TaskStore defines the persistence interface for tasks. The tasks table is
// the single source of truth for status and attempt history; dead letters
// are a query over it, not separate storage.
type TaskStore interface {
	// Create inserts a new task. Returns ErrDuplicate if the task's
	// idempotency key already exists for the same episode.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if no task exists with the given ID.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// GetByIdempotencyKey retrieves the task created with the given
	// idempotency key within the episode scope.
	// Returns ErrTaskNotFound if no such task exists.
	GetByIdempotencyKey(ctx context.Context, episodeID uuid.UUID, key string) (*domain.Task, error)

	// List returns tasks matching the filter, newest first, capped at limit.
	List(ctx context.Context, filter TaskFilter, limit int) ([]*domain.Task, error)

	// ClaimNext atomically claims the oldest eligible queued task: sets it
	// running, assigns the lease, and increments attempt_count, all guarded
	// by a conditional update so two concurrent claims can never both win
	// the same row. Returns ErrTaskNotFound when no task is eligible.
	ClaimNext(ctx context.Context, now time.Time, leaseToken uuid.UUID, leaseExpiresAt time.Time) (*domain.Task, error)

	// UpdateFromStatus persists the task's current state with a
	// compare-and-swap on the previous status. Returns ErrUpdateFailed if
	// the row no longer holds the expected status (lost race).
	UpdateFromStatus(ctx context.Context, task *domain.Task, from domain.TaskStatus) error

	// RequeueDead re-queues a task only if it still matches the dead-letter
	// predicate at write time: status failed and either a non-retryable
	// error code or an exhausted attempt budget. The attempt count is
	// preserved and max_attempts is raised just enough to grant one more
	// attempt. Returns ErrUpdateFailed if the task is absent or no longer
	// dead.
	RequeueDead(ctx context.Context, id uuid.UUID, now time.Time) (*domain.Task, error)

	// ListDeadLetters returns tasks matching the dead-letter predicate and
	// filter, ordered by created_at DESC, id DESC so pagination is
	// deterministic.
	ListDeadLetters(ctx context.Context, filter DeadLetterFilter, limit, offset int) ([]*domain.Task, error)

	// CountDeadLetters counts tasks matching the dead-letter predicate and filter.
	CountDeadLetters(ctx context.Context, filter DeadLetterFilter) (int, error)
}

// EpisodeStore is the narrow view of episode storage the queue needs:
// task creation must reject references to episodes that do not exist.
// Episode records themselves belong to an external collaborator.
type EpisodeStore interface {
	// Exists reports whether an episode with the given ID exists.
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}
