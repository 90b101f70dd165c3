package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/domain"
)

func TestTaskAPI_Create(t *testing.T) {
	f := newAPIFixture(t)

	t.Run("creates a queued task", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/tasks", CreateTaskRequest{
			EpisodeID: f.episodeID,
			Type:      "IMAGE",
			JobKind:   "image.storyboard",
			Payload:   domain.Payload{"shot": "010"},
		})

		require.Equal(t, http.StatusCreated, rec.Code)
		task := decodeBody[domain.Task](t, rec)
		assert.Equal(t, domain.TaskStatusQueued, task.Status)
		assert.Equal(t, f.episodeID, task.EpisodeID)
		assert.Equal(t, 3, task.MaxAttempts)
	})

	t.Run("idempotency key returns the original task", func(t *testing.T) {
		req := CreateTaskRequest{
			EpisodeID:      f.episodeID,
			Type:           "VIDEO",
			JobKind:        "video.animatic",
			IdempotencyKey: "animatic-ep1-v2",
		}

		first := decodeBody[domain.Task](t, f.do(t, http.MethodPost, "/api/tasks", req))
		rec := f.do(t, http.MethodPost, "/api/tasks", req)

		require.Equal(t, http.StatusCreated, rec.Code)
		second := decodeBody[domain.Task](t, rec)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("unknown episode yields 404", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/tasks", CreateTaskRequest{
			EpisodeID: uuid.New(),
			Type:      "IMAGE",
			JobKind:   "image.storyboard",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing job kind yields 400", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/tasks", CreateTaskRequest{
			EpisodeID: f.episodeID,
			Type:      "IMAGE",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestTaskAPI_GetAndList(t *testing.T) {
	f := newAPIFixture(t)
	task := f.seedQueuedTask(t)
	f.seedDeadTask(t, "")

	t.Run("get returns the task", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/tasks/"+task.ID.String(), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		got := decodeBody[domain.Task](t, rec)
		assert.Equal(t, task.ID, got.ID)
	})

	t.Run("unknown id yields 404", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/tasks/"+uuid.NewString(), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed id yields 400", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/tasks/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("list filters by status", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/tasks?status=queued", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		tasks := decodeBody[[]domain.Task](t, rec)
		require.Len(t, tasks, 1)
		assert.Equal(t, task.ID, tasks[0].ID)
	})
}

func TestTaskAPI_ClaimAndReport(t *testing.T) {
	f := newAPIFixture(t)

	t.Run("claim on an empty queue yields 204", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/tasks/claim", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	task := f.seedQueuedTask(t)

	t.Run("claim leases the task", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/tasks/claim", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		claimed := decodeBody[domain.Task](t, rec)
		assert.Equal(t, task.ID, claimed.ID)
		assert.Equal(t, domain.TaskStatusRunning, claimed.Status)
		assert.Equal(t, 1, claimed.AttemptCount)
		require.NotNil(t, claimed.LeaseToken)
	})

	t.Run("completion report finishes the task", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%s/report", task.ID), ReportRequest{
			Status: "completed",
			Result: domain.Payload{"frames": 24},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		done := decodeBody[domain.Task](t, rec)
		assert.Equal(t, domain.TaskStatusCompleted, done.Status)
		assert.Equal(t, 1.0, done.Progress)
		assert.Nil(t, done.LeaseToken)
	})

	t.Run("report against a non-running task yields 409", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%s/report", task.ID), ReportRequest{
			Status: "completed",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("invalid status yields 400", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%s/report", task.ID), ReportRequest{
			Status: "done",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestTaskAPI_ClaimReclaimsExpiredLease(t *testing.T) {
	f := newAPIFixture(t)
	stuck := f.seedExpiredLeaseTask(t)

	rec := f.do(t, http.MethodPost, "/api/tasks/claim", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	claimed := decodeBody[domain.Task](t, rec)
	assert.Equal(t, stuck.ID, claimed.ID)
	assert.Equal(t, domain.TaskStatusRunning, claimed.Status)
	assert.Equal(t, 2, claimed.AttemptCount)
	require.NotNil(t, claimed.LeaseToken)
	assert.NotEqual(t, *stuck.LeaseToken, *claimed.LeaseToken)
	require.NotNil(t, claimed.LeaseExpiresAt)
	assert.True(t, claimed.LeaseExpiresAt.After(*stuck.LeaseExpiresAt))
}

func TestTaskAPI_Cancel(t *testing.T) {
	f := newAPIFixture(t)

	t.Run("cancels a queued task", func(t *testing.T) {
		task := f.seedQueuedTask(t)
		rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%s/cancel", task.ID), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		cancelled := decodeBody[domain.Task](t, rec)
		assert.Equal(t, domain.TaskStatusCancelled, cancelled.Status)
	})

	t.Run("unknown task yields 404", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%s/cancel", uuid.New()), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("terminal task yields 409", func(t *testing.T) {
		dead := f.seedDeadTask(t, "")
		rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%s/cancel", dead.ID), nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestTaskAPI_Retry(t *testing.T) {
	f := newAPIFixture(t)

	t.Run("requeues a dead task and audits it", func(t *testing.T) {
		dead := f.seedDeadTask(t, "")
		rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%s/retry", dead.ID), RetryRequest{
			Reason: "render farm back online",
		})

		require.Equal(t, http.StatusOK, rec.Code)
		requeued := decodeBody[domain.Task](t, rec)
		assert.Equal(t, domain.TaskStatusQueued, requeued.Status)
		assert.Equal(t, 3, requeued.AttemptCount)
		assert.Equal(t, 4, requeued.MaxAttempts)

		entries := f.auditStore.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, domain.AuditActionTaskRetrySingle, entries[0].Action)
		assert.Equal(t, testActor, entries[0].Actor)
		require.NotNil(t, entries[0].TaskID)
		assert.Equal(t, dead.ID, *entries[0].TaskID)
	})

	t.Run("retry without a body works", func(t *testing.T) {
		dead := f.seedDeadTask(t, "")
		rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%s/retry", dead.ID), nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("live task yields 409", func(t *testing.T) {
		task := f.seedQueuedTask(t)
		rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%s/retry", task.ID), nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown task yields 404", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/tasks/%s/retry", uuid.New()), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
