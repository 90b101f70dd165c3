package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/api/middleware"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/api/shared"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/domain"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/service"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/store"
)

// TaskHandler handles the task lifecycle API requests.
type TaskHandler struct {
	tasks *service.TaskService
}

// NewTaskHandler creates a new TaskHandler with the given dependencies.
func NewTaskHandler(tasks *service.TaskService) *TaskHandler {
	return &TaskHandler{
		tasks: tasks,
	}
}

// urlParamUUID parses a UUID path parameter.
func urlParamUUID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}

// Create handles POST /api/tasks.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest

	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	task, err := h.tasks.CreateTask(r.Context(), service.CreateTaskInput{
		EpisodeID:      req.EpisodeID,
		ShotID:         req.ShotID,
		Type:           domain.TaskType(req.Type),
		JobKind:        req.JobKind,
		Payload:        req.Payload,
		MaxAttempts:    req.MaxAttempts,
		TraceID:        req.TraceID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, task)
}

// Get handles GET /api/tasks/{id}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamUUID(r, "id")
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	task, err := h.tasks.GetTask(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, task)
}

// List handles GET /api/tasks with optional episode_id and status filters.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	var filter store.TaskFilter

	if raw := r.URL.Query().Get("episode_id"); raw != "" {
		episodeID, err := uuid.Parse(raw)
		if err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid episode_id")
			return
		}
		filter.EpisodeID = &episodeID
	}

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := domain.TaskStatus(raw)
		filter.Status = &status
	}

	tasks, err := h.tasks.ListTasks(r.Context(), filter, queryInt(r, "limit"))
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	if tasks == nil {
		tasks = []*domain.Task{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, tasks)
}

// Report handles POST /api/tasks/{id}/report.
func (h *TaskHandler) Report(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamUUID(r, "id")
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	var req ReportRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	task, err := h.tasks.ReportOutcome(r.Context(), id, service.ReportInput{
		Status:       domain.TaskStatus(req.Status),
		Progress:     req.Progress,
		Result:       req.Result,
		ErrorCode:    req.ErrorCode,
		ErrorMessage: req.ErrorMessage,
		ErrorContext: req.ErrorContext,
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, task)
}

// Cancel handles POST /api/tasks/{id}/cancel. A task that exists but is not
// cancellable yields 409; an unknown task yields 404.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamUUID(r, "id")
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	task, err := h.tasks.CancelTask(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	if task == nil {
		h.respondNotActionable(w, r, id, "Task is not cancellable")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, task)
}

// Retry handles POST /api/tasks/{id}/retry: a single manual retry of a dead
// task. Same null contract as Cancel: 404 unknown, 409 not retriable.
func (h *TaskHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamUUID(r, "id")
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}

	actor, ok := middleware.GetActor(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}

	// Body is optional; an empty body means no reason given.
	var req RetryRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := shared.DecodeJSON(r, &req); err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
			return
		}
	}

	task, err := h.tasks.RetryTask(r.Context(), id, actor, req.Reason)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	if task == nil {
		h.respondNotActionable(w, r, id, "Task is not in a dead-letter state")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, task)
}

// Claim handles POST /api/tasks/claim for worker processes. Responds 204
// when no task is eligible so pollers can distinguish "empty" from errors.
func (h *TaskHandler) Claim(w http.ResponseWriter, r *http.Request) {
	task, err := h.tasks.ClaimNextTask(r.Context())
	if err != nil {
		if errors.Is(err, service.ErrNoEligibleTasks) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, task)
}

// respondNotActionable resolves the null contract for cancel/retry: 404 when
// the task does not exist at all, 409 when it exists in the wrong state.
func (h *TaskHandler) respondNotActionable(w http.ResponseWriter, r *http.Request, id uuid.UUID, conflictMessage string) {
	if _, err := h.tasks.GetTask(r.Context(), id); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithError(w, r, http.StatusConflict, conflictMessage)
}
