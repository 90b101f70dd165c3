package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/api/middleware"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/api/shared"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/config"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/domain"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/platform/logger"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/redact"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/service"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/store"
)

// OpsHandler handles the operator remediation surface: dead-letter queries,
// bulk retry, and the guardrails in front of it.
type OpsHandler struct {
	tasks    *service.TaskService
	audit    *service.AuditService
	queueCfg config.QueueConfig
}

// NewOpsHandler creates a new OpsHandler with the given dependencies.
func NewOpsHandler(tasks *service.TaskService, audit *service.AuditService, queueCfg config.QueueConfig) *OpsHandler {
	return &OpsHandler{
		tasks:    tasks,
		audit:    audit,
		queueCfg: queueCfg,
	}
}

// deadLetterFilterFromQuery builds a DeadLetterFilter from query parameters.
func deadLetterFilterFromQuery(r *http.Request) (store.DeadLetterFilter, error) {
	var filter store.DeadLetterFilter

	if raw := r.URL.Query().Get("episode_id"); raw != "" {
		episodeID, err := uuid.Parse(raw)
		if err != nil {
			return filter, err
		}
		filter.EpisodeID = &episodeID
	}
	filter.JobKind = r.URL.Query().Get("job_kind")
	filter.TraceID = r.URL.Query().Get("trace_id")
	filter.ErrorCode = r.URL.Query().Get("error_code")
	if raw := r.URL.Query().Get("dead_reason"); raw != "" {
		reason := domain.DeadReason(raw)
		filter.DeadReason = &reason
	}

	return filter, nil
}

// ListDeadLetters handles GET /api/dead-letters.
func (h *OpsHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	filter, err := deadLetterFilterFromQuery(r)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid episode_id")
		return
	}

	entries, err := h.tasks.ListDeadLetters(r.Context(), filter, queryInt(r, "limit"))
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	if entries == nil {
		entries = []*service.DeadLetterEntry{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, entries)
}

// PreviewDeadLetters handles GET /api/dead-letters/preview.
func (h *OpsHandler) PreviewDeadLetters(w http.ResponseWriter, r *http.Request) {
	filter, err := deadLetterFilterFromQuery(r)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid episode_id")
		return
	}

	preview, err := h.tasks.PreviewDeadLetters(r.Context(), filter,
		queryInt(r, "page"), queryInt(r, "page_size"))
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	if preview.TaskIDs == nil {
		preview.TaskIDs = []uuid.UUID{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, preview)
}

// BulkRetry handles POST /api/dead-letters/retry. The boundary enforces the
// per-actor rate limit before any task is touched; the batch cap is enforced
// again inside the engine.
func (h *OpsHandler) BulkRetry(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActor(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req BulkRetryRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	input := service.BulkRetryInput{
		TaskIDs:     req.TaskIDs,
		Limit:       req.Limit,
		DryRun:      req.DryRun,
		Acknowledge: req.Acknowledge,
		Actor:       actor,
		Reason:      req.Reason,
	}
	input.Filter.EpisodeID = req.EpisodeID
	input.Filter.JobKind = req.JobKind
	input.Filter.TraceID = req.TraceID
	input.Filter.ErrorCode = req.ErrorCode
	if req.DeadReason != "" {
		reason := domain.DeadReason(req.DeadReason)
		input.Filter.DeadReason = &reason
	}

	// Rate-limit only executed runs: dry runs are harmless and operators
	// iterate on them rapidly while narrowing a filter.
	executes := !req.DryRun && (len(req.TaskIDs) > 0 || req.Acknowledge)
	if executes {
		recent, err := h.audit.HasRecentTaskAuditAction(r.Context(), actor,
			domain.AuditActionTaskRetryBatchSummary, h.queueCfg.BulkRetryMinInterval())
		if err != nil {
			shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
			return
		}
		if recent {
			err := service.ErrRateLimited
			shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
			return
		}
	}

	result, err := h.tasks.BulkRetry(r.Context(), input)
	if err != nil {
		// A non-nil result means the batch committed but its summary audit
		// write failed; the counts are still the truth of what happened, so
		// report them and log the bookkeeping failure.
		if result == nil {
			shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
			return
		}
		logger.FromContext(r.Context()).Error("bulk retry summary audit write failed",
			"batch_id", result.BatchID,
			"error", redact.Error(err))
	}

	if result.TaskIDs == nil {
		result.TaskIDs = []uuid.UUID{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, result)
}
