package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/api/shared"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/config"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/domain"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/mocks"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/service"
)

const testActor = "ops@example.com"

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		DefaultMaxAttempts:     3,
		LeaseDurationSeconds:   300,
		BackoffBaseSeconds:     30,
		BackoffCapSeconds:      3600,
		BulkRetryMaxBatch:      100,
		BulkRetryMinIntervalMs: 10000,
		PruneMaxLimit:          1000,
	}
}

// apiFixture wires real services over in-memory stores behind the routes a
// deployed server exposes, with authentication replaced by a middleware that
// stamps a fixed actor onto the request context.
type apiFixture struct {
	taskStore  *mocks.TaskStore
	auditStore *mocks.AuditLogStore
	episodeID  uuid.UUID
	tasks      *service.TaskService
	audit      *service.AuditService
	router     http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	f := &apiFixture{
		taskStore:  mocks.NewTaskStore(),
		auditStore: mocks.NewAuditLogStore(),
		episodeID:  uuid.New(),
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testQueueConfig()

	tasks, err := service.NewTaskService(
		f.taskStore, mocks.NewEpisodeStore(f.episodeID), f.auditStore,
		service.NewClock(), cfg, log)
	require.NoError(t, err)
	f.tasks = tasks

	audit, err := service.NewAuditService(f.auditStore, service.NewClock(), cfg, log)
	require.NoError(t, err)
	f.audit = audit

	taskHandler := NewTaskHandler(tasks)
	opsHandler := NewOpsHandler(tasks, audit, cfg)
	auditHandler := NewAuditHandler(audit)

	r := chi.NewRouter()
	r.Use(withActor(testActor))
	r.Post("/api/tasks", taskHandler.Create)
	r.Get("/api/tasks", taskHandler.List)
	r.Get("/api/tasks/{id}", taskHandler.Get)
	r.Post("/api/tasks/{id}/report", taskHandler.Report)
	r.Post("/api/tasks/{id}/cancel", taskHandler.Cancel)
	r.Post("/api/tasks/{id}/retry", taskHandler.Retry)
	r.Post("/api/tasks/claim", taskHandler.Claim)
	r.Get("/api/dead-letters", opsHandler.ListDeadLetters)
	r.Get("/api/dead-letters/preview", opsHandler.PreviewDeadLetters)
	r.Post("/api/dead-letters/retry", opsHandler.BulkRetry)
	r.Get("/api/audit-logs", auditHandler.List)
	r.Get("/api/audit-logs/export", auditHandler.Export)
	r.Post("/api/audit-logs/prune", auditHandler.Prune)
	r.Get("/api/audit-logs/recent", auditHandler.Recent)
	f.router = r

	return f
}

func withActor(actor string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), shared.ActorContextKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (f *apiFixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// seedDeadTask stores a failed task that has burned its full attempt budget.
func (f *apiFixture) seedDeadTask(t *testing.T, errorCode string) *domain.Task {
	t.Helper()

	now := time.Now().UTC()
	task := &domain.Task{
		ID:           uuid.New(),
		EpisodeID:    f.episodeID,
		Type:         domain.TaskTypeImage,
		JobKind:      "image.storyboard",
		Status:       domain.TaskStatusFailed,
		AttemptCount: 3,
		MaxAttempts:  3,
		ErrorCode:    errorCode,
		ErrorMessage: "render failed",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	f.taskStore.Put(task)
	return task
}

// seedExpiredLeaseTask stores a running task whose worker stopped reporting
// and whose lease has already lapsed.
func (f *apiFixture) seedExpiredLeaseTask(t *testing.T) *domain.Task {
	t.Helper()

	now := time.Now().UTC()
	token := uuid.New()
	expired := now.Add(-time.Minute)
	task := &domain.Task{
		ID:             uuid.New(),
		EpisodeID:      f.episodeID,
		Type:           domain.TaskTypeVideo,
		JobKind:        "video.animatic",
		Status:         domain.TaskStatusRunning,
		AttemptCount:   1,
		MaxAttempts:    3,
		NextAttemptAt:  now.Add(-time.Hour),
		LeaseToken:     &token,
		LeaseExpiresAt: &expired,
		CreatedAt:      now.Add(-time.Hour),
		UpdatedAt:      now.Add(-time.Hour),
	}
	f.taskStore.Put(task)
	return task
}

// seedQueuedTask stores a task eligible for an immediate claim.
func (f *apiFixture) seedQueuedTask(t *testing.T) *domain.Task {
	t.Helper()

	now := time.Now().UTC().Add(-time.Minute)
	task, err := domain.NewTask(f.episodeID, nil, domain.TaskTypeLLM,
		"llm.script_breakdown", domain.Payload{"scene": 1}, 3, "", "", now)
	require.NoError(t, err)
	f.taskStore.Put(task)
	return task
}
