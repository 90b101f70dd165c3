package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/domain"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/store"
)

// Dead-letter pagination bounds. Preview is meant for operator UIs, so the
// page size is clamped rather than rejected.
const (
	deadLetterDefaultPageSize = 50
	deadLetterMaxPageSize     = 500
)

// DeadLetterEntry is a dead task annotated with its computed classification.
type DeadLetterEntry struct {
	Task       *domain.Task      `json:"task"`
	DeadReason domain.DeadReason `json:"dead_reason"`
}

// DeadLetterPreview summarizes one page of a dead-letter selection without
// touching any task. HasMore is derived from the total, so a stable snapshot
// paginates without drift.
type DeadLetterPreview struct {
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	HasMore  bool        `json:"has_more"`
	TaskIDs  []uuid.UUID `json:"task_ids"`
}

// ListDeadLetters returns dead tasks matching the filter, newest first, each
// annotated with its dead reason. A non-positive limit selects the default
// page size.
func (s *TaskService) ListDeadLetters(
	ctx context.Context,
	filter store.DeadLetterFilter,
	limit int,
) ([]*DeadLetterEntry, error) {
	if limit <= 0 || limit > deadLetterMaxPageSize {
		limit = deadLetterDefaultPageSize
	}

	tasks, err := s.tasks.ListDeadLetters(ctx, filter, limit, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	return annotateDeadLetters(tasks), nil
}

// PreviewDeadLetters returns the IDs on one page of the dead-letter selection
// together with the total match count. Page numbering starts at 1; ordering
// is fixed (created_at DESC, id DESC) so repeated calls over an unchanged
// store never overlap across pages.
func (s *TaskService) PreviewDeadLetters(
	ctx context.Context,
	filter store.DeadLetterFilter,
	page, pageSize int,
) (*DeadLetterPreview, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = deadLetterDefaultPageSize
	}
	if pageSize > deadLetterMaxPageSize {
		pageSize = deadLetterMaxPageSize
	}

	total, err := s.tasks.CountDeadLetters(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count dead letters: %w", err)
	}

	tasks, err := s.tasks.ListDeadLetters(ctx, filter, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to preview dead letters: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}

	return &DeadLetterPreview{
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		HasMore:  total > page*pageSize,
		TaskIDs:  ids,
	}, nil
}

// annotateDeadLetters attaches the computed dead reason to each task. Tasks
// come straight from the dead-letter predicate, so every one classifies.
func annotateDeadLetters(tasks []*domain.Task) []*DeadLetterEntry {
	entries := make([]*DeadLetterEntry, 0, len(tasks))
	for _, task := range tasks {
		reason, _ := task.DeadReason()
		entries = append(entries, &DeadLetterEntry{
			Task:       task,
			DeadReason: reason,
		})
	}
	return entries
}
