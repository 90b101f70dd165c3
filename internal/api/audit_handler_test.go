package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/domain"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/service"
)

// seedAuditEntry stores one entry with the given actor and age.
func (f *apiFixture) seedAuditEntry(t *testing.T, actor string, action domain.AuditAction, age time.Duration) *domain.AuditLogEntry {
	t.Helper()

	entry, err := domain.NewAuditLogEntry(action, actor, "seeded", time.Now().UTC().Add(-age))
	require.NoError(t, err)
	f.auditStore.Seed(entry)
	return entry
}

func TestAuditAPI_List(t *testing.T) {
	f := newAPIFixture(t)
	f.seedAuditEntry(t, "alice", domain.AuditActionTaskRetrySingle, time.Hour)
	f.seedAuditEntry(t, "bob", domain.AuditActionTaskRetrySingle, 2*time.Hour)
	f.seedAuditEntry(t, "alice", domain.AuditActionTaskRetryBatchSummary, 3*time.Hour)

	t.Run("lists newest first with totals", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/audit-logs?page=1&page_size=2", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		page := decodeBody[service.AuditPage](t, rec)
		assert.Equal(t, 3, page.Total)
		assert.True(t, page.HasMore)
		require.Len(t, page.Entries, 2)
		assert.True(t, page.Entries[0].CreatedAt.After(page.Entries[1].CreatedAt))
	})

	t.Run("filters by actor substring", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/audit-logs?actor=ALI", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		page := decodeBody[service.AuditPage](t, rec)
		assert.Equal(t, 2, page.Total)
	})

	t.Run("filters by action", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/audit-logs?action=TASK_RETRY_BATCH_SUMMARY", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		page := decodeBody[service.AuditPage](t, rec)
		assert.Equal(t, 1, page.Total)
	})

	t.Run("malformed batch id yields 400", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/audit-logs?batch_id=nope", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAuditAPI_Export(t *testing.T) {
	f := newAPIFixture(t)
	entry := f.seedAuditEntry(t, "alice", domain.AuditActionTaskRetrySingle, time.Hour)

	t.Run("json export is the default", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/audit-logs/export", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

		entries := decodeBody[[]domain.AuditLogEntry](t, rec)
		require.Len(t, entries, 1)
		assert.Equal(t, entry.ID, entries[0].ID)
	})

	t.Run("csv export carries the fixed header", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/audit-logs/export?format=csv", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))

		lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
		require.Len(t, lines, 2)
		assert.Equal(t, "id,batch_id,task_id,episode_id,trace_id,job_kind,action,actor,message,metadata_json,created_at", lines[0])
		assert.Contains(t, lines[1], entry.ID.String())
	})

	t.Run("unsupported format yields 400", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/audit-logs/export?format=xml", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAuditAPI_Prune(t *testing.T) {
	t.Run("dry run reports matches without deleting", func(t *testing.T) {
		f := newAPIFixture(t)
		f.seedAuditEntry(t, "alice", domain.AuditActionTaskRetrySingle, 40*24*time.Hour)
		f.seedAuditEntry(t, "alice", domain.AuditActionTaskRetrySingle, time.Hour)

		rec := f.do(t, http.MethodPost, "/api/audit-logs/prune", PruneRequest{
			OlderThanDays: 30,
			DryRun:        true,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		result := decodeBody[service.PruneResult](t, rec)
		assert.Equal(t, "dry_run", result.Mode)
		assert.Equal(t, 1, result.Matched)
		assert.Equal(t, 0, result.Deleted)
		assert.Len(t, f.auditStore.Entries(), 2)
	})

	t.Run("executed prune deletes and records itself", func(t *testing.T) {
		f := newAPIFixture(t)
		old := f.seedAuditEntry(t, "alice", domain.AuditActionTaskRetrySingle, 40*24*time.Hour)
		f.seedAuditEntry(t, "alice", domain.AuditActionTaskRetrySingle, time.Hour)

		rec := f.do(t, http.MethodPost, "/api/audit-logs/prune", PruneRequest{
			OlderThanDays: 30,
			Reason:        "quarterly cleanup",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		result := decodeBody[service.PruneResult](t, rec)
		assert.Equal(t, "executed", result.Mode)
		assert.Equal(t, 1, result.Deleted)
		require.Len(t, result.SampleIDs, 1)
		assert.Equal(t, old.ID, result.SampleIDs[0])

		entries := f.auditStore.Entries()
		require.Len(t, entries, 2)
		summary := entries[len(entries)-1]
		assert.Equal(t, domain.AuditActionTaskAuditPruneSummary, summary.Action)
		assert.Equal(t, testActor, summary.Actor)
	})

	t.Run("summary write failure still reports counts", func(t *testing.T) {
		f := newAPIFixture(t)
		f.seedAuditEntry(t, "alice", domain.AuditActionTaskRetrySingle, 40*24*time.Hour)
		f.auditStore.AppendErr = assert.AnError

		rec := f.do(t, http.MethodPost, "/api/audit-logs/prune", PruneRequest{
			OlderThanDays: 30,
		})

		require.Equal(t, http.StatusOK, rec.Code)
		result := decodeBody[service.PruneResult](t, rec)
		assert.Equal(t, "executed", result.Mode)
		assert.Equal(t, 1, result.Deleted)

		// The deletion stood even though its summary entry never landed.
		assert.Empty(t, f.auditStore.Entries())
	})

	t.Run("negative retention yields 400", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.do(t, http.MethodPost, "/api/audit-logs/prune", PruneRequest{OlderThanDays: -1})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAuditAPI_Recent(t *testing.T) {
	f := newAPIFixture(t)
	f.seedAuditEntry(t, "alice", domain.AuditActionTaskRetryBatchSummary, time.Minute)

	t.Run("reports a recent action inside the window", func(t *testing.T) {
		rec := f.do(t, http.MethodGet,
			"/api/audit-logs/recent?actor=alice&action=TASK_RETRY_BATCH_SUMMARY&within_ms=300000", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, decodeBody[RecentActionResponse](t, rec).Recent)
	})

	t.Run("window shorter than the action age is quiet", func(t *testing.T) {
		rec := f.do(t, http.MethodGet,
			"/api/audit-logs/recent?actor=alice&action=TASK_RETRY_BATCH_SUMMARY&within_ms=1000", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, decodeBody[RecentActionResponse](t, rec).Recent)
	})

	t.Run("missing parameters yield 400", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/audit-logs/recent?actor=alice", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = f.do(t, http.MethodGet,
			"/api/audit-logs/recent?actor=alice&action=TASK_RETRY_BATCH_SUMMARY", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
