package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// AuditAction identifies the kind of operator/automation action an audit
// entry records. The set is extensible; new actions only need a new constant.
type AuditAction string

const (
	AuditActionTaskRetrySingle       AuditAction = "TASK_RETRY_SINGLE"
	AuditActionTaskRetryBatchItem    AuditAction = "TASK_RETRY_BATCH_ITEM"
	AuditActionTaskRetryBatchSummary AuditAction = "TASK_RETRY_BATCH_SUMMARY"
	AuditActionTaskAuditPruneSummary AuditAction = "TASK_AUDIT_PRUNE_SUMMARY"
)

// Common validation errors for AuditLogEntry
var (
	ErrEmptyAuditID     = errors.New("audit entry ID cannot be empty")
	ErrEmptyAuditAction = errors.New("audit entry action cannot be empty")
	ErrEmptyAuditActor  = errors.New("audit entry actor cannot be empty")
)

// AuditLogEntry is one append-only record of a state-changing action against
// the queue. Entries are never updated after being written; every batch
// operation writes one ITEM entry per task acted on plus exactly one SUMMARY
// entry sharing the same BatchID.
type AuditLogEntry struct {
	ID        uuid.UUID   `json:"id"`
	BatchID   *uuid.UUID  `json:"batch_id,omitempty"`
	TaskID    *uuid.UUID  `json:"task_id,omitempty"`
	EpisodeID *uuid.UUID  `json:"episode_id,omitempty"`
	TraceID   string      `json:"trace_id,omitempty"`
	JobKind   string      `json:"job_kind,omitempty"`
	Action    AuditAction `json:"action"`
	Actor     string      `json:"actor"`
	Message   string      `json:"message"`
	Metadata  Payload     `json:"metadata,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// NewAuditLogEntry creates an audit entry for the given action and actor.
// Task-scoped fields are filled in by the caller after construction when
// they apply.
func NewAuditLogEntry(action AuditAction, actor, message string, now time.Time) (*AuditLogEntry, error) {
	entry := &AuditLogEntry{
		ID:        uuid.New(),
		Action:    action,
		Actor:     actor,
		Message:   message,
		CreatedAt: now,
	}

	if err := entry.Validate(); err != nil {
		return nil, err
	}

	return entry, nil
}

// Validate checks if the AuditLogEntry has valid data.
func (e *AuditLogEntry) Validate() error {
	if e.ID == uuid.Nil {
		return ErrEmptyAuditID
	}

	if e.Action == "" {
		return ErrEmptyAuditAction
	}

	if e.Actor == "" {
		return ErrEmptyAuditActor
	}

	return nil
}
