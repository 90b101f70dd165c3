package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/api/middleware"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/api/shared"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/domain"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/platform/logger"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/redact"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/service"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/store"
)

// AuditHandler handles the audit log API: listing, export, retention, and
// the recent-action check.
type AuditHandler struct {
	audit *service.AuditService
}

// NewAuditHandler creates a new AuditHandler with the given dependencies.
func NewAuditHandler(audit *service.AuditService) *AuditHandler {
	return &AuditHandler{
		audit: audit,
	}
}

// auditFilterFromQuery builds an AuditFilter from query parameters.
func auditFilterFromQuery(r *http.Request) (store.AuditFilter, error) {
	var filter store.AuditFilter

	if raw := r.URL.Query().Get("episode_id"); raw != "" {
		episodeID, err := uuid.Parse(raw)
		if err != nil {
			return filter, fmt.Errorf("invalid episode_id")
		}
		filter.EpisodeID = &episodeID
	}
	if raw := r.URL.Query().Get("batch_id"); raw != "" {
		batchID, err := uuid.Parse(raw)
		if err != nil {
			return filter, fmt.Errorf("invalid batch_id")
		}
		filter.BatchID = &batchID
	}
	filter.JobKind = r.URL.Query().Get("job_kind")
	filter.TraceID = r.URL.Query().Get("trace_id")
	filter.Actor = r.URL.Query().Get("actor")
	if raw := r.URL.Query().Get("action"); raw != "" {
		action := domain.AuditAction(raw)
		filter.Action = &action
	}

	return filter, nil
}

// List handles GET /api/audit-logs.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilterFromQuery(r)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.audit.ListAuditLogs(r.Context(), filter,
		queryInt(r, "page"), queryInt(r, "page_size"))
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	if page.Entries == nil {
		page.Entries = []*domain.AuditLogEntry{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, page)
}

// Export handles GET /api/audit-logs/export?format=json|csv, streaming the
// serialized document as a download.
func (h *AuditHandler) Export(w http.ResponseWriter, r *http.Request) {
	filter, err := auditFilterFromQuery(r)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = service.ExportFormatJSON
	}

	data, contentType, err := h.audit.ExportAuditLogs(r.Context(), filter, format)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	filename := fmt.Sprintf("audit-logs-%s.%s", time.Now().UTC().Format("20060102-150405"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		// Response is already committed; nothing to send the client.
		return
	}
}

// Prune handles POST /api/audit-logs/prune.
func (h *AuditHandler) Prune(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActor(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req PruneRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	input := service.PruneInput{
		OlderThanDays: req.OlderThanDays,
		Limit:         req.Limit,
		DryRun:        req.DryRun,
		Actor:         actor,
		Reason:        req.Reason,
	}
	input.Filter.EpisodeID = req.EpisodeID
	input.Filter.JobKind = req.JobKind
	input.Filter.TraceID = req.TraceID
	input.Filter.Actor = req.Actor
	if req.Action != "" {
		action := domain.AuditAction(req.Action)
		input.Filter.Action = &action
	}

	result, err := h.audit.PruneAuditLogs(r.Context(), input)
	if err != nil {
		if result == nil {
			shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
			return
		}
		// Deletion committed, only the summary write failed; report the
		// counts and log the bookkeeping failure.
		logger.FromContext(r.Context()).Error("audit prune summary write failed",
			"batch_id", result.BatchID,
			"deleted", result.Deleted,
			"error", redact.Error(err))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, result)
}

// Recent handles GET /api/audit-logs/recent?actor=&action=&within_ms=. It
// exposes the same sliding-window check the bulk retry guardrail uses, so
// UIs can disable the button before the user hits the 429.
func (h *AuditHandler) Recent(w http.ResponseWriter, r *http.Request) {
	actor := r.URL.Query().Get("actor")
	action := r.URL.Query().Get("action")
	if actor == "" || action == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "actor and action are required")
		return
	}

	withinMs := queryInt(r, "within_ms")
	if withinMs <= 0 {
		shared.RespondWithError(w, r, http.StatusBadRequest, "within_ms must be positive")
		return
	}

	recent, err := h.audit.HasRecentTaskAuditAction(r.Context(), actor,
		domain.AuditAction(action), time.Duration(withinMs)*time.Millisecond)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, RecentActionResponse{Recent: recent})
}
