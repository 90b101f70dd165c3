package api

import (
	"github.com/google/uuid"

	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/domain"
)

// LoginRequest is the request body for the login endpoint.
type LoginRequest struct {
	Actor    string `json:"actor"    validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is the response for a successful login.
type LoginResponse struct {
	Actor string `json:"actor"`
	Token string `json:"token"`
}

// CreateTaskRequest is the request body for task creation.
type CreateTaskRequest struct {
	EpisodeID      uuid.UUID      `json:"episode_id"                validate:"required"`
	ShotID         *uuid.UUID     `json:"shot_id,omitempty"`
	Type           string         `json:"type"                      validate:"required"`
	JobKind        string         `json:"job_kind"                  validate:"required"`
	Payload        domain.Payload `json:"payload,omitempty"`
	MaxAttempts    int            `json:"max_attempts,omitempty"    validate:"omitempty,gt=0"`
	TraceID        string         `json:"trace_id,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// ReportRequest is the request body for worker outcome reports.
type ReportRequest struct {
	Status       string         `json:"status"                  validate:"required,oneof=running completed failed"`
	Progress     *float64       `json:"progress,omitempty"      validate:"omitempty,gte=0,lte=1"`
	Result       domain.Payload `json:"result,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ErrorContext domain.Payload `json:"error_context,omitempty"`
}

// RetryRequest is the request body for a single manual retry.
type RetryRequest struct {
	Reason string `json:"reason,omitempty"`
}

// BulkRetryRequest is the request body for a bulk retry run. Filter fields
// and TaskIDs are mutually exclusive in effect: explicit IDs win.
type BulkRetryRequest struct {
	EpisodeID   *uuid.UUID  `json:"episode_id,omitempty"`
	JobKind     string      `json:"job_kind,omitempty"`
	TraceID     string      `json:"trace_id,omitempty"`
	DeadReason  string      `json:"dead_reason,omitempty" validate:"omitempty,oneof=max_attempts_exceeded non_retryable"`
	ErrorCode   string      `json:"error_code,omitempty"`
	TaskIDs     []uuid.UUID `json:"task_ids,omitempty"`
	Limit       int         `json:"limit,omitempty"       validate:"omitempty,gt=0"`
	DryRun      bool        `json:"dry_run,omitempty"`
	Acknowledge bool        `json:"acknowledge,omitempty"`
	Reason      string      `json:"reason,omitempty"`
}

// PruneRequest is the request body for audit log pruning.
type PruneRequest struct {
	OlderThanDays int        `json:"older_than_days"        validate:"gte=0"`
	EpisodeID     *uuid.UUID `json:"episode_id,omitempty"`
	JobKind       string     `json:"job_kind,omitempty"`
	TraceID       string     `json:"trace_id,omitempty"`
	Action        string     `json:"action,omitempty"`
	Actor         string     `json:"actor,omitempty"`
	Limit         int        `json:"limit,omitempty"        validate:"omitempty,gt=0"`
	DryRun        bool       `json:"dry_run,omitempty"`
	Reason        string     `json:"reason,omitempty"`
}

// RecentActionResponse answers the recent-action check.
type RecentActionResponse struct {
	Recent bool `json:"recent"`
}
