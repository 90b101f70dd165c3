// Package postgres implements the store interfaces against PostgreSQL.
// The tasks row is the unit of mutual exclusion: claims and state
// transitions are conditional updates that only succeed when the row still
// matches the expected predicate at write time.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/domain"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/platform/logger"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/store"
)

// taskColumns is the column list shared by every task SELECT/RETURNING.
const taskColumns = `id, episode_id, shot_id, type, job_kind, payload, status,
	attempt_count, max_attempts, next_attempt_at, lease_token, lease_expires_at,
	idempotency_key, trace_id, progress, result, error_code, error_message,
	error_context, created_at, updated_at`

// deadLetterPredicate is the SQL form of domain.Task.DeadReason: failed and
// either out of budget or failed with a non-retryable code. The $%d
// placeholder is bound to the non-retryable code list.
const deadLetterPredicate = `status = 'failed'
	AND (attempt_count >= max_attempts OR error_code = ANY($%d))`

// PostgresTaskStore implements the store.TaskStore interface using PostgreSQL.
type PostgresTaskStore struct {
	db store.DBTX
}

var _ store.TaskStore = (*PostgresTaskStore)(nil)

// NewPostgresTaskStore creates a new PostgresTaskStore.
func NewPostgresTaskStore(db store.DBTX) *PostgresTaskStore {
	return &PostgresTaskStore{
		db: db,
	}
}

// Create inserts a new task row.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContext(ctx)

	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	payload, result, errCtx, err := marshalTaskBlobs(task)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tasks (id, episode_id, shot_id, type, job_kind, payload, status,
			attempt_count, max_attempts, next_attempt_at, lease_token, lease_expires_at,
			idempotency_key, trace_id, progress, result, error_code, error_message,
			error_context, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21)
	`

	_, err = s.db.ExecContext(ctx, query,
		task.ID,
		task.EpisodeID,
		task.ShotID,
		task.Type,
		task.JobKind,
		payload,
		task.Status,
		task.AttemptCount,
		task.MaxAttempts,
		task.NextAttemptAt,
		task.LeaseToken,
		task.LeaseExpiresAt,
		nullString(task.IdempotencyKey),
		task.TraceID,
		task.Progress,
		result,
		task.ErrorCode,
		task.ErrorMessage,
		errCtx,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		log.Error("failed to insert task",
			"task_id", task.ID,
			"job_kind", task.JobKind,
			"error", err)
		return fmt.Errorf("failed to insert task: %w", err)
	}

	return nil
}

// GetByID retrieves a task by its unique ID.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE id = $1`, taskColumns)

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return task, nil
}

// GetByIdempotencyKey retrieves the task created with the given key within
// the episode scope.
func (s *PostgresTaskStore) GetByIdempotencyKey(
	ctx context.Context,
	episodeID uuid.UUID,
	key string,
) (*domain.Task, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM tasks WHERE episode_id = $1 AND idempotency_key = $2`,
		taskColumns,
	)

	task, err := scanTask(s.db.QueryRowContext(ctx, query, episodeID, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task by idempotency key: %w", err)
	}

	return task, nil
}

// List returns tasks matching the filter, newest first.
func (s *PostgresTaskStore) List(
	ctx context.Context,
	filter store.TaskFilter,
	limit int,
) ([]*domain.Task, error) {
	conditions := []string{"TRUE"}
	args := []any{}

	if filter.EpisodeID != nil {
		args = append(args, *filter.EpisodeID)
		conditions = append(conditions, fmt.Sprintf("episode_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	args = append(args, limit)
	query := fmt.Sprintf(
		`SELECT %s FROM tasks WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d`,
		taskColumns,
		strings.Join(conditions, " AND "),
		len(args),
	)

	return s.queryTasks(ctx, query, args...)
}

// ClaimNext atomically claims the oldest eligible task for a worker. A task
// is eligible when it is queued and due, or when it is running past its
// lease expiry; reclaiming an expired lease burns a fresh attempt and is the
// only path that recovers work from a worker that died mid-attempt. The
// eligibility predicate is re-checked inside the UPDATE itself, and
// FOR UPDATE SKIP LOCKED keeps concurrent claimers off the same row, so two
// claims can never both succeed on one task.
func (s *PostgresTaskStore) ClaimNext(
	ctx context.Context,
	now time.Time,
	leaseToken uuid.UUID,
	leaseExpiresAt time.Time,
) (*domain.Task, error) {
	query := fmt.Sprintf(`
		UPDATE tasks SET
			status = 'running',
			lease_token = $1,
			lease_expires_at = $2,
			attempt_count = attempt_count + 1,
			updated_at = $3
		WHERE status IN ('queued', 'running') AND id = (
			SELECT id FROM tasks
			WHERE ((status = 'queued' AND next_attempt_at <= $3)
					OR (status = 'running' AND lease_expires_at <= $3))
				AND attempt_count < max_attempts
			ORDER BY next_attempt_at ASC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`, taskColumns)

	task, err := scanTask(s.db.QueryRowContext(ctx, query, leaseToken, leaseExpiresAt, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}

	return task, nil
}

// UpdateFromStatus persists the task's mutable state guarded by a
// compare-and-swap on the previous status.
func (s *PostgresTaskStore) UpdateFromStatus(
	ctx context.Context,
	task *domain.Task,
	from domain.TaskStatus,
) error {
	log := logger.FromContext(ctx)

	payload, result, errCtx, err := marshalTaskBlobs(task)
	if err != nil {
		return err
	}

	query := `
		UPDATE tasks SET
			payload = $1,
			status = $2,
			attempt_count = $3,
			max_attempts = $4,
			next_attempt_at = $5,
			lease_token = $6,
			lease_expires_at = $7,
			progress = $8,
			result = $9,
			error_code = $10,
			error_message = $11,
			error_context = $12,
			updated_at = $13
		WHERE id = $14 AND status = $15
	`

	res, err := s.db.ExecContext(ctx, query,
		payload,
		task.Status,
		task.AttemptCount,
		task.MaxAttempts,
		task.NextAttemptAt,
		task.LeaseToken,
		task.LeaseExpiresAt,
		task.Progress,
		result,
		task.ErrorCode,
		task.ErrorMessage,
		errCtx,
		task.UpdatedAt,
		task.ID,
		from,
	)
	if err != nil {
		log.Error("failed to update task",
			"task_id", task.ID,
			"from_status", from,
			"to_status", task.Status,
			"error", err)
		return fmt.Errorf("failed to update task: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: task %s no longer in status %s", store.ErrUpdateFailed, task.ID, from)
	}

	return nil
}

// RequeueDead re-queues a task only if it still matches the dead-letter
// predicate at write time. attempt_count is preserved; max_attempts is
// raised to attempt_count+1 when exhausted, granting exactly one further
// attempt per retry.
func (s *PostgresTaskStore) RequeueDead(
	ctx context.Context,
	id uuid.UUID,
	now time.Time,
) (*domain.Task, error) {
	query := fmt.Sprintf(`
		UPDATE tasks SET
			status = 'queued',
			next_attempt_at = $2,
			max_attempts = GREATEST(max_attempts, attempt_count + 1),
			lease_token = NULL,
			lease_expires_at = NULL,
			updated_at = $2
		WHERE id = $1 AND `+deadLetterPredicate+`
		RETURNING %s`, 3, taskColumns)

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id, now, domain.NonRetryableErrorCodes()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: task %s is not dead-lettered", store.ErrUpdateFailed, id)
		}
		return nil, fmt.Errorf("failed to requeue task: %w", err)
	}

	return task, nil
}

// ListDeadLetters returns dead-lettered tasks matching the filter with
// deterministic ordering so preview pages never overlap.
func (s *PostgresTaskStore) ListDeadLetters(
	ctx context.Context,
	filter store.DeadLetterFilter,
	limit, offset int,
) ([]*domain.Task, error) {
	where, args := buildDeadLetterWhere(filter)

	args = append(args, limit)
	limitPos := len(args)
	args = append(args, offset)
	offsetPos := len(args)

	query := fmt.Sprintf(
		`SELECT %s FROM tasks WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		taskColumns, where, limitPos, offsetPos,
	)

	return s.queryTasks(ctx, query, args...)
}

// CountDeadLetters counts dead-lettered tasks matching the filter.
func (s *PostgresTaskStore) CountDeadLetters(
	ctx context.Context,
	filter store.DeadLetterFilter,
) (int, error) {
	where, args := buildDeadLetterWhere(filter)

	query := fmt.Sprintf(`SELECT COUNT(*) FROM tasks WHERE %s`, where)

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}

	return count, nil
}

// buildDeadLetterWhere renders the dead-letter predicate plus the filter
// into a WHERE fragment and its arguments. The non-retryable code list is
// always the first argument so the predicate and the dead_reason filters
// can share it.
func buildDeadLetterWhere(filter store.DeadLetterFilter) (string, []any) {
	args := []any{domain.NonRetryableErrorCodes()}
	conditions := []string{fmt.Sprintf(deadLetterPredicate, 1)}

	if filter.EpisodeID != nil {
		args = append(args, *filter.EpisodeID)
		conditions = append(conditions, fmt.Sprintf("episode_id = $%d", len(args)))
	}
	if filter.JobKind != "" {
		args = append(args, filter.JobKind)
		conditions = append(conditions, fmt.Sprintf("job_kind = $%d", len(args)))
	}
	if filter.TraceID != "" {
		args = append(args, filter.TraceID)
		conditions = append(conditions, fmt.Sprintf("trace_id = $%d", len(args)))
	}
	if filter.ErrorCode != "" {
		args = append(args, filter.ErrorCode)
		conditions = append(conditions, fmt.Sprintf("error_code = $%d", len(args)))
	}
	if filter.DeadReason != nil {
		// non_retryable takes precedence in classification, so the
		// max_attempts_exceeded bucket excludes non-retryable codes.
		switch *filter.DeadReason {
		case domain.DeadReasonNonRetryable:
			conditions = append(conditions, "error_code = ANY($1)")
		case domain.DeadReasonMaxAttemptsExceeded:
			conditions = append(conditions,
				"attempt_count >= max_attempts AND NOT (error_code = ANY($1))")
		}
	}

	return strings.Join(conditions, " AND "), args
}

// queryTasks runs a multi-row task query and scans the results.
func (s *PostgresTaskStore) queryTasks(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	log := logger.FromContext(ctx)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query tasks", "error", err)
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}

	return tasks, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask maps one tasks row onto a domain.Task.
func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task           domain.Task
		shotID         uuid.NullUUID
		leaseToken     uuid.NullUUID
		leaseExpiresAt sql.NullTime
		idempotencyKey sql.NullString
		payload        []byte
		result         []byte
		errCtx         []byte
	)

	err := row.Scan(
		&task.ID,
		&task.EpisodeID,
		&shotID,
		&task.Type,
		&task.JobKind,
		&payload,
		&task.Status,
		&task.AttemptCount,
		&task.MaxAttempts,
		&task.NextAttemptAt,
		&leaseToken,
		&leaseExpiresAt,
		&idempotencyKey,
		&task.TraceID,
		&task.Progress,
		&result,
		&task.ErrorCode,
		&task.ErrorMessage,
		&errCtx,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if shotID.Valid {
		v := shotID.UUID
		task.ShotID = &v
	}
	if leaseToken.Valid {
		v := leaseToken.UUID
		task.LeaseToken = &v
	}
	if leaseExpiresAt.Valid {
		v := leaseExpiresAt.Time
		task.LeaseExpiresAt = &v
	}
	task.IdempotencyKey = idempotencyKey.String

	if err := unmarshalPayload(payload, &task.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode task payload: %w", err)
	}
	if err := unmarshalPayload(result, &task.Result); err != nil {
		return nil, fmt.Errorf("failed to decode task result: %w", err)
	}
	if err := unmarshalPayload(errCtx, &task.ErrorContext); err != nil {
		return nil, fmt.Errorf("failed to decode task error context: %w", err)
	}

	return &task, nil
}

// marshalTaskBlobs encodes the task's structured-value fields for JSONB columns.
func marshalTaskBlobs(task *domain.Task) (payload, result, errCtx []byte, err error) {
	payload, err = marshalPayload(task.Payload)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode task payload: %w", err)
	}
	result, err = marshalPayload(task.Result)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode task result: %w", err)
	}
	errCtx, err = marshalPayload(task.ErrorContext)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode task error context: %w", err)
	}
	return payload, result, errCtx, nil
}

// marshalPayload encodes a structured value, mapping nil to SQL NULL.
func marshalPayload(p domain.Payload) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// unmarshalPayload decodes a JSONB column, mapping SQL NULL to nil.
func unmarshalPayload(data []byte, dst *domain.Payload) error {
	if len(data) == 0 {
		*dst = nil
		return nil
	}
	return json.Unmarshal(data, dst)
}

// nullString maps the empty string to SQL NULL. Used for idempotency keys,
// where the partial unique index must only see real values.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// isUniqueViolation reports whether the error is a Postgres unique
// constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
