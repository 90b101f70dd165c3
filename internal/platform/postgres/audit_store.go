package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/domain"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/platform/logger"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/store"
)

const auditColumns = `id, batch_id, task_id, episode_id, trace_id, job_kind,
	action, actor, message, metadata, created_at`

// PostgresAuditLogStore implements store.AuditLogStore using PostgreSQL.
// The table is append-only: this type exposes no update path, and the only
// DELETE is the age-bounded prune.
type PostgresAuditLogStore struct {
	db store.DBTX
}

var _ store.AuditLogStore = (*PostgresAuditLogStore)(nil)

// NewPostgresAuditLogStore creates a new PostgresAuditLogStore.
func NewPostgresAuditLogStore(db store.DBTX) *PostgresAuditLogStore {
	return &PostgresAuditLogStore{
		db: db,
	}
}

// Append writes a new audit entry.
func (s *PostgresAuditLogStore) Append(ctx context.Context, entry *domain.AuditLogEntry) error {
	log := logger.FromContext(ctx)

	if err := entry.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	metadata, err := marshalPayload(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode audit metadata: %w", err)
	}

	query := `
		INSERT INTO task_audit_logs (id, batch_id, task_id, episode_id, trace_id,
			job_kind, action, actor, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = s.db.ExecContext(ctx, query,
		entry.ID,
		entry.BatchID,
		entry.TaskID,
		entry.EpisodeID,
		entry.TraceID,
		entry.JobKind,
		entry.Action,
		entry.Actor,
		entry.Message,
		metadata,
		entry.CreatedAt,
	)
	if err != nil {
		log.Error("failed to append audit entry",
			"audit_id", entry.ID,
			"action", entry.Action,
			"error", err)
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

// List returns entries matching the filter, newest first.
func (s *PostgresAuditLogStore) List(
	ctx context.Context,
	filter store.AuditFilter,
	limit, offset int,
) ([]*domain.AuditLogEntry, error) {
	log := logger.FromContext(ctx)

	where, args := buildAuditWhere(filter)

	args = append(args, limit)
	limitPos := len(args)
	args = append(args, offset)
	offsetPos := len(args)

	query := fmt.Sprintf(
		`SELECT %s FROM task_audit_logs WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		auditColumns, where, limitPos, offsetPos,
	)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query audit entries", "error", err)
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*domain.AuditLogEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit rows: %w", err)
	}

	return entries, nil
}

// Count counts entries matching the filter.
func (s *PostgresAuditLogStore) Count(ctx context.Context, filter store.AuditFilter) (int, error) {
	where, args := buildAuditWhere(filter)

	query := fmt.Sprintf(`SELECT COUNT(*) FROM task_audit_logs WHERE %s`, where)

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	return count, nil
}

// CountByActorActionSince counts entries by an exact actor and action
// written at or after since.
func (s *PostgresAuditLogStore) CountByActorActionSince(
	ctx context.Context,
	actor string,
	action domain.AuditAction,
	since time.Time,
) (int, error) {
	query := `
		SELECT COUNT(*) FROM task_audit_logs
		WHERE actor = $1 AND action = $2 AND created_at >= $3
	`

	var count int
	if err := s.db.QueryRowContext(ctx, query, actor, action, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count recent audit actions: %w", err)
	}

	return count, nil
}

// CountOlderThan counts entries matching the filter created strictly before
// the cutoff.
func (s *PostgresAuditLogStore) CountOlderThan(
	ctx context.Context,
	cutoff time.Time,
	filter store.AuditFilter,
) (int, error) {
	where, args := buildAuditWhere(filter)

	args = append(args, cutoff)
	query := fmt.Sprintf(
		`SELECT COUNT(*) FROM task_audit_logs WHERE %s AND created_at < $%d`,
		where, len(args),
	)

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count prunable audit entries: %w", err)
	}

	return count, nil
}

// DeleteOlderThan deletes up to limit matching entries older than the
// cutoff, oldest first, returning the deleted IDs.
func (s *PostgresAuditLogStore) DeleteOlderThan(
	ctx context.Context,
	cutoff time.Time,
	filter store.AuditFilter,
	limit int,
) ([]uuid.UUID, error) {
	log := logger.FromContext(ctx)

	where, args := buildAuditWhere(filter)

	args = append(args, cutoff)
	cutoffPos := len(args)
	args = append(args, limit)
	limitPos := len(args)

	query := fmt.Sprintf(`
		DELETE FROM task_audit_logs WHERE id IN (
			SELECT id FROM task_audit_logs
			WHERE %s AND created_at < $%d
			ORDER BY created_at ASC, id ASC
			LIMIT $%d
		)
		RETURNING id`, where, cutoffPos, limitPos)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to prune audit entries", "error", err)
		return nil, fmt.Errorf("failed to prune audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan pruned audit ID: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pruned audit IDs: %w", err)
	}

	return ids, nil
}

// buildAuditWhere renders the filter into a WHERE fragment and arguments.
// Actor is a case-insensitive substring match; everything else is exact.
func buildAuditWhere(filter store.AuditFilter) (string, []any) {
	conditions := []string{"TRUE"}
	args := []any{}

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
	if filter.Action != nil {
		args = append(args, *filter.Action)
		conditions = append(conditions, fmt.Sprintf("action = $%d", len(args)))
	}
	if filter.Actor != "" {
		args = append(args, "%"+escapeLikePattern(filter.Actor)+"%")
		conditions = append(conditions, fmt.Sprintf("actor ILIKE $%d", len(args)))
	}
	if filter.BatchID != nil {
		args = append(args, *filter.BatchID)
		conditions = append(conditions, fmt.Sprintf("batch_id = $%d", len(args)))
	}

	return strings.Join(conditions, " AND "), args
}

var likePatternEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLikePattern escapes LIKE/ILIKE metacharacters so a filter value
// matches itself literally instead of widening the pattern.
func escapeLikePattern(s string) string {
	return likePatternEscaper.Replace(s)
}

// scanAuditEntry maps one task_audit_logs row onto a domain.AuditLogEntry.
func scanAuditEntry(row rowScanner) (*domain.AuditLogEntry, error) {
	var (
		entry     domain.AuditLogEntry
		batchID   uuid.NullUUID
		taskID    uuid.NullUUID
		episodeID uuid.NullUUID
		metadata  []byte
	)

	err := row.Scan(
		&entry.ID,
		&batchID,
		&taskID,
		&episodeID,
		&entry.TraceID,
		&entry.JobKind,
		&entry.Action,
		&entry.Actor,
		&entry.Message,
		&metadata,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if batchID.Valid {
		v := batchID.UUID
		entry.BatchID = &v
	}
	if taskID.Valid {
		v := taskID.UUID
		entry.TaskID = &v
	}
	if episodeID.Valid {
		v := episodeID.UUID
		entry.EpisodeID = &v
	}

	if err := unmarshalPayload(metadata, &entry.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
	}

	return &entry, nil
}
