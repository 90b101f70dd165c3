package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/domain"
)

// AuditFilter narrows audit log queries. Actor is a substring match;
// Action and BatchID are exact. Zero-valued fields match everything.
type AuditFilter struct {
	EpisodeID *uuid.UUID
	JobKind   string
	TraceID   string
	Action    *domain.AuditAction
	Actor     string
	BatchID   *uuid.UUID
}

// AuditLogStore defines the persistence interface for the append-only audit
// log. There is deliberately no update method: entries are immutable once
// written, and the only destructive operation is age-based pruning.
type AuditLogStore interface {
	// Append writes a new audit entry.
	Append(ctx context.Context, entry *domain.AuditLogEntry) error

	// List returns entries matching the filter, newest first,
	// with limit/offset pagination.
	List(ctx context.Context, filter AuditFilter, limit, offset int) ([]*domain.AuditLogEntry, error)

	// Count counts entries matching the filter.
	Count(ctx context.Context, filter AuditFilter) (int, error)

	// CountByActorActionSince counts entries by an exact actor and action
	// written at or after since. This backs the sliding-window rate limit
	// on bulk operations.
	CountByActorActionSince(ctx context.Context, actor string, action domain.AuditAction, since time.Time) (int, error)

	// CountOlderThan counts entries matching the filter created strictly
	// before the cutoff.
	CountOlderThan(ctx context.Context, cutoff time.Time, filter AuditFilter) (int, error)

	// DeleteOlderThan deletes up to limit entries matching the filter
	// created strictly before the cutoff, oldest first, and returns the
	// IDs of the deleted rows.
	DeleteOlderThan(ctx context.Context, cutoff time.Time, filter AuditFilter, limit int) ([]uuid.UUID, error)
}
