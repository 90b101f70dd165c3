package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/config"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/domain"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/platform/logger"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/store"
)

// Audit listing and export bounds.
const (
	auditDefaultPageSize = 50
	auditMaxPageSize     = 500
	auditExportMaxRows   = 10000
	auditPruneSampleSize = 10
)

// Export formats accepted by ExportAuditLogs.
const (
	ExportFormatJSON = "json"
	ExportFormatCSV  = "csv"
)

// auditCSVHeader is the fixed column order for CSV exports. Changing it
// breaks downstream spreadsheets, so treat it as a wire format.
var auditCSVHeader = []string{
	"id", "batch_id", "task_id", "episode_id", "trace_id", "job_kind",
	"action", "actor", "message", "metadata_json", "created_at",
}

// AuditService exposes read, export and retention operations over the
// append-only audit log. Nothing here mutates existing entries; the only
// destructive operation is the age-bounded prune, which records itself.
type AuditService struct {
	audit  store.AuditLogStore
	clock  Clock
	cfg    config.QueueConfig
	logger *slog.Logger
}

// NewAuditService creates a new AuditService.
// Returns an error if any dependency is nil.
func NewAuditService(
	audit store.AuditLogStore,
	clock Clock,
	cfg config.QueueConfig,
	log *slog.Logger,
) (*AuditService, error) {
	if audit == nil {
		return nil, errors.New("audit log store cannot be nil")
	}
	if clock == nil {
		return nil, errors.New("clock cannot be nil")
	}
	if log == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &AuditService{
		audit:  audit,
		clock:  clock,
		cfg:    cfg,
		logger: log.With("component", "audit_service"),
	}, nil
}

// AuditPage is one page of audit entries plus the total match count.
type AuditPage struct {
	Total    int                     `json:"total"`
	Page     int                     `json:"page"`
	PageSize int                     `json:"page_size"`
	HasMore  bool                    `json:"has_more"`
	Entries  []*domain.AuditLogEntry `json:"entries"`
}

// ListAuditLogs returns one page of audit entries matching the filter,
// newest first. Page numbering starts at 1.
func (s *AuditService) ListAuditLogs(
	ctx context.Context,
	filter store.AuditFilter,
	page, pageSize int,
) (*AuditPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = auditDefaultPageSize
	}
	if pageSize > auditMaxPageSize {
		pageSize = auditMaxPageSize
	}

	total, err := s.audit.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit entries: %w", err)
	}

	entries, err := s.audit.List(ctx, filter, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}

	return &AuditPage{
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		HasMore:  total > page*pageSize,
		Entries:  entries,
	}, nil
}

// ExportAuditLogs renders entries matching the filter as a downloadable
// document. Supported formats are "json" and "csv"; exports are capped at
// auditExportMaxRows entries, newest first. The second return value is the
// content type for the chosen format.
func (s *AuditService) ExportAuditLogs(
	ctx context.Context,
	filter store.AuditFilter,
	format string,
) ([]byte, string, error) {
	switch format {
	case ExportFormatJSON, ExportFormatCSV:
	default:
		return nil, "", fmt.Errorf("%w: unsupported export format %q", ErrInvalidInput, format)
	}

	entries, err := s.audit.List(ctx, filter, auditExportMaxRows, 0)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load audit entries for export: %w", err)
	}

	if format == ExportFormatJSON {
		if entries == nil {
			entries = []*domain.AuditLogEntry{}
		}
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode audit export: %w", err)
		}
		return data, "application/json", nil
	}

	data, err := renderAuditCSV(entries)
	if err != nil {
		return nil, "", err
	}
	return data, "text/csv", nil
}

// HasRecentTaskAuditAction reports whether the actor performed the given
// action within the window ending now. Backs the sliding-window rate limit
// on bulk retries: one summary entry per run makes the audit log itself the
// rate-limit state.
func (s *AuditService) HasRecentTaskAuditAction(
	ctx context.Context,
	actor string,
	action domain.AuditAction,
	within time.Duration,
) (bool, error) {
	if actor == "" {
		return false, fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}
	if within <= 0 {
		return false, nil
	}

	count, err := s.audit.CountByActorActionSince(ctx, actor, action, s.clock.Now().Add(-within))
	if err != nil {
		return false, fmt.Errorf("failed to check recent audit actions: %w", err)
	}

	return count > 0, nil
}

// PruneInput selects audit entries for deletion. OlderThanDays of zero means
// "everything before now"; the filter narrows which entries qualify.
type PruneInput struct {
	OlderThanDays int
	Filter        store.AuditFilter
	Limit         int
	DryRun        bool
	Actor         string
	Reason        string
}

// PruneResult reports what a prune run deleted (or would delete).
type PruneResult struct {
	Mode      string      `json:"mode"`
	BatchID   uuid.UUID   `json:"batch_id"`
	CutoffAt  time.Time   `json:"cutoff_at"`
	Matched   int         `json:"matched"`
	Deleted   int         `json:"deleted"`
	SampleIDs []uuid.UUID `json:"sample_ids,omitempty"`
}

// PruneAuditLogs deletes audit entries older than the cutoff, oldest first,
// bounded by the configured per-run limit. After the deletion commits it
// appends its own SUMMARY entry, so the prune is visible in the very log it
// trimmed; that entry is newer than the cutoff by construction and can never
// delete itself. A summary append failure is surfaced alongside the result.
func (s *AuditService) PruneAuditLogs(ctx context.Context, input PruneInput) (*PruneResult, error) {
	log := logger.FromContext(ctx)

	if input.Actor == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}
	if input.OlderThanDays < 0 {
		return nil, fmt.Errorf("%w: olderThanDays cannot be negative", ErrInvalidInput)
	}

	now := s.clock.Now()
	cutoff := now.AddDate(0, 0, -input.OlderThanDays)

	limit := input.Limit
	if limit <= 0 || limit > s.cfg.PruneMaxLimit {
		limit = s.cfg.PruneMaxLimit
	}

	matched, err := s.audit.CountOlderThan(ctx, cutoff, input.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count prunable entries: %w", err)
	}

	result := &PruneResult{
		Mode:     BulkRetryModeDryRun,
		BatchID:  uuid.New(),
		CutoffAt: cutoff,
		Matched:  matched,
	}

	if input.DryRun {
		log.Info("audit prune dry run",
			"actor", input.Actor,
			"cutoff_at", cutoff,
			"matched", matched)
		return result, nil
	}

	ids, err := s.audit.DeleteOlderThan(ctx, cutoff, input.Filter, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to prune audit entries: %w", err)
	}

	result.Mode = BulkRetryModeExecuted
	result.Deleted = len(ids)
	if len(ids) > auditPruneSampleSize {
		result.SampleIDs = ids[:auditPruneSampleSize]
	} else {
		result.SampleIDs = ids
	}

	log.Info("audit log pruned",
		"actor", input.Actor,
		"cutoff_at", cutoff,
		"matched", matched,
		"deleted", result.Deleted)

	if err := s.appendPruneSummary(ctx, input, result); err != nil {
		return result, err
	}

	return result, nil
}

// appendPruneSummary writes the SUMMARY entry for an executed prune run.
func (s *AuditService) appendPruneSummary(ctx context.Context, input PruneInput, result *PruneResult) error {
	entry, err := domain.NewAuditLogEntry(
		domain.AuditActionTaskAuditPruneSummary,
		input.Actor,
		fmt.Sprintf("pruned %d of %d audit entries older than %s",
			result.Deleted, result.Matched, result.CutoffAt.Format(time.RFC3339)),
		s.clock.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to build prune summary: %w", err)
	}

	batchID := result.BatchID
	entry.BatchID = &batchID
	entry.EpisodeID = input.Filter.EpisodeID
	entry.TraceID = input.Filter.TraceID
	entry.JobKind = input.Filter.JobKind
	entry.Metadata = domain.Payload{
		"older_than_days": input.OlderThanDays,
		"cutoff_at":       result.CutoffAt.Format(time.RFC3339),
		"matched":         result.Matched,
		"deleted":         result.Deleted,
	}
	if input.Reason != "" {
		entry.Metadata["reason"] = input.Reason
	}

	if err := s.audit.Append(ctx, entry); err != nil {
		return fmt.Errorf("prune committed but summary audit append failed: %w", err)
	}
	return nil
}

// renderAuditCSV writes entries in the fixed auditCSVHeader column order.
func renderAuditCSV(entries []*domain.AuditLogEntry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(auditCSVHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, entry := range entries {
		metadata := ""
		if entry.Metadata != nil {
			data, err := json.Marshal(entry.Metadata)
			if err != nil {
				return nil, fmt.Errorf("failed to encode metadata for entry %s: %w", entry.ID, err)
			}
			metadata = string(data)
		}

		record := []string{
			entry.ID.String(),
			uuidOrEmpty(entry.BatchID),
			uuidOrEmpty(entry.TaskID),
			uuidOrEmpty(entry.EpisodeID),
			entry.TraceID,
			entry.JobKind,
			string(entry.Action),
			entry.Actor,
			entry.Message,
			metadata,
			entry.CreatedAt.Format(time.RFC3339Nano),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return buf.Bytes(), nil
}

// uuidOrEmpty renders an optional UUID for CSV output.
func uuidOrEmpty(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
