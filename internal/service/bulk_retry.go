package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/domain"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/platform/logger"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/store"
)

// Bulk retry run modes.
const (
	BulkRetryModeDryRun   = "dry_run"
	BulkRetryModeExecuted = "executed"
)

// BulkRetryInput selects dead tasks for a batch retry. When TaskIDs is
// non-empty the filter is ignored and exactly those tasks are targeted.
// Filter-driven execution without explicit IDs requires Acknowledge, so a
// fat-fingered filter defaults to a harmless dry run.
type BulkRetryInput struct {
	Filter      store.DeadLetterFilter
	TaskIDs     []uuid.UUID
	Limit       int
	DryRun      bool
	Acknowledge bool
	Actor       string
	Reason      string
}

// BulkRetryResult reports what a bulk retry run did (or, for a dry run,
// would have done). Selected always equals Retried + Skipped on executed
// runs. TaskIDs is the selection on a dry run; on an executed run it lists
// only the tasks actually re-queued, so skips never masquerade as retries.
type BulkRetryResult struct {
	Mode     string      `json:"mode"`
	BatchID  uuid.UUID   `json:"batch_id"`
	Selected int         `json:"selected"`
	Retried  int         `json:"retried"`
	Skipped  int         `json:"skipped"`
	TaskIDs  []uuid.UUID `json:"task_ids"`
}

// BulkRetry re-queues a batch of dead tasks.
//
// Selection size is capped by the configured batch limit; an explicit TaskIDs
// list over the cap is rejected outright rather than silently truncated.
// Each task is re-validated against the dead-letter predicate at write time
// and skipped (not failed) when it no longer qualifies, so concurrent
// retries and racing workers resolve by counting instead of erroring.
//
// Executed runs write one ITEM audit entry per re-queued task and exactly one
// SUMMARY entry, all sharing the run's BatchID. A summary append failure is
// returned to the caller alongside the result; the task state changes stand.
func (s *TaskService) BulkRetry(ctx context.Context, input BulkRetryInput) (*BulkRetryResult, error) {
	log := logger.FromContext(ctx)

	if input.Actor == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}

	batchCap := s.cfg.BulkRetryMaxBatch
	if len(input.TaskIDs) > batchCap {
		return nil, fmt.Errorf("%w: %d tasks selected, cap is %d", ErrBatchTooLarge, len(input.TaskIDs), batchCap)
	}

	limit := input.Limit
	if limit <= 0 || limit > batchCap {
		limit = batchCap
	}

	execute := !input.DryRun && (len(input.TaskIDs) > 0 || input.Acknowledge)

	batchID := uuid.New()

	var targets []uuid.UUID
	if len(input.TaskIDs) > 0 {
		targets = input.TaskIDs
	} else {
		dead, err := s.tasks.ListDeadLetters(ctx, input.Filter, limit, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to select dead letters: %w", err)
		}
		targets = make([]uuid.UUID, 0, len(dead))
		for _, task := range dead {
			targets = append(targets, task.ID)
		}
	}

	result := &BulkRetryResult{
		Mode:     BulkRetryModeDryRun,
		BatchID:  batchID,
		Selected: len(targets),
		TaskIDs:  targets,
	}

	if !execute {
		log.Info("bulk retry dry run",
			"batch_id", batchID,
			"actor", input.Actor,
			"selected", result.Selected)
		return result, nil
	}

	result.Mode = BulkRetryModeExecuted
	now := s.clock.Now()

	retried := make([]uuid.UUID, 0, len(targets))
	for _, id := range targets {
		task, err := s.tasks.RequeueDead(ctx, id, now)
		if err != nil {
			if errors.Is(err, store.ErrUpdateFailed) {
				result.Skipped++
				continue
			}
			return nil, fmt.Errorf("bulk retry failed on task %s: %w", id, err)
		}

		result.Retried++
		retried = append(retried, task.ID)
		s.appendRetryAudit(ctx, task, &batchID, input.Actor, input.Reason, domain.AuditActionTaskRetryBatchItem)
	}
	result.TaskIDs = retried

	log.Info("bulk retry executed",
		"batch_id", batchID,
		"actor", input.Actor,
		"selected", result.Selected,
		"retried", result.Retried,
		"skipped", result.Skipped)

	if err := s.appendBulkRetrySummary(ctx, batchID, input, result); err != nil {
		// The batch itself stands; surface the bookkeeping failure without
		// discarding the counts.
		return result, err
	}

	return result, nil
}

// appendBulkRetrySummary writes the single SUMMARY entry for a batch run.
func (s *TaskService) appendBulkRetrySummary(
	ctx context.Context,
	batchID uuid.UUID,
	input BulkRetryInput,
	result *BulkRetryResult,
) error {
	entry, err := domain.NewAuditLogEntry(
		domain.AuditActionTaskRetryBatchSummary,
		input.Actor,
		fmt.Sprintf("bulk retry: %d selected, %d retried, %d skipped",
			result.Selected, result.Retried, result.Skipped),
		s.clock.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to build bulk retry summary: %w", err)
	}

	entry.BatchID = &batchID
	entry.EpisodeID = input.Filter.EpisodeID
	entry.TraceID = input.Filter.TraceID
	entry.JobKind = input.Filter.JobKind
	entry.Metadata = domain.Payload{
		"selected": result.Selected,
		"retried":  result.Retried,
		"skipped":  result.Skipped,
		"explicit": len(input.TaskIDs) > 0,
	}
	if input.Reason != "" {
		entry.Metadata["reason"] = input.Reason
	}
	if input.Filter.ErrorCode != "" {
		entry.Metadata["filter_error_code"] = input.Filter.ErrorCode
	}
	if input.Filter.DeadReason != nil {
		entry.Metadata["filter_dead_reason"] = string(*input.Filter.DeadReason)
	}

	if err := s.audit.Append(ctx, entry); err != nil {
		return fmt.Errorf("bulk retry committed but summary audit append failed: %w", err)
	}
	return nil
}
