package postgres

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/domain"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/store"
)

func TestBuildDeadLetterWhere(t *testing.T) {
	t.Run("bare filter is just the dead-letter predicate", func(t *testing.T) {
		where, args := buildDeadLetterWhere(store.DeadLetterFilter{})

		assert.Contains(t, where, "status = 'failed'")
		assert.Contains(t, where, "attempt_count >= max_attempts OR error_code = ANY($1)")
		require.Len(t, args, 1)
		assert.Equal(t, domain.NonRetryableErrorCodes(), args[0])
	})

	t.Run("filter fields bind in order", func(t *testing.T) {
		episodeID := uuid.New()
		where, args := buildDeadLetterWhere(store.DeadLetterFilter{
			EpisodeID: &episodeID,
			JobKind:   "image.storyboard",
			TraceID:   "trace-7",
			ErrorCode: "TIMEOUT",
		})

		assert.Contains(t, where, "episode_id = $2")
		assert.Contains(t, where, "job_kind = $3")
		assert.Contains(t, where, "trace_id = $4")
		assert.Contains(t, where, "error_code = $5")
		require.Len(t, args, 5)
		assert.Equal(t, episodeID, args[1])
		assert.Equal(t, "TIMEOUT", args[4])
	})

	t.Run("non_retryable reason narrows to the code list", func(t *testing.T) {
		reason := domain.DeadReasonNonRetryable
		where, args := buildDeadLetterWhere(store.DeadLetterFilter{DeadReason: &reason})

		assert.Contains(t, where, "error_code = ANY($1)")
		assert.Len(t, args, 1)
	})

	t.Run("max_attempts_exceeded excludes non-retryable codes", func(t *testing.T) {
		reason := domain.DeadReasonMaxAttemptsExceeded
		where, _ := buildDeadLetterWhere(store.DeadLetterFilter{DeadReason: &reason})

		assert.Contains(t, where, "attempt_count >= max_attempts AND NOT (error_code = ANY($1))")
	})
}

func TestBuildAuditWhere(t *testing.T) {
	t.Run("empty filter matches everything", func(t *testing.T) {
		where, args := buildAuditWhere(store.AuditFilter{})
		assert.Equal(t, "TRUE", where)
		assert.Empty(t, args)
	})

	t.Run("actor becomes a substring ILIKE", func(t *testing.T) {
		where, args := buildAuditWhere(store.AuditFilter{Actor: "alice"})

		assert.Contains(t, where, "actor ILIKE $1")
		require.Len(t, args, 1)
		assert.Equal(t, "%alice%", args[0])
	})

	t.Run("actor pattern metacharacters are escaped", func(t *testing.T) {
		_, args := buildAuditWhere(store.AuditFilter{Actor: `50%_ops\`})

		require.Len(t, args, 1)
		assert.Equal(t, `%50\%\_ops\\%`, args[0])
	})

	t.Run("exact filters bind in order", func(t *testing.T) {
		batchID := uuid.New()
		action := domain.AuditActionTaskRetryBatchSummary
		where, args := buildAuditWhere(store.AuditFilter{
			JobKind: "video.animatic",
			Action:  &action,
			BatchID: &batchID,
		})

		assert.Contains(t, where, "job_kind = $1")
		assert.Contains(t, where, "action = $2")
		assert.Contains(t, where, "batch_id = $3")
		require.Len(t, args, 3)
		assert.Equal(t, batchID, args[2])
	})
}

func TestPayloadCodec(t *testing.T) {
	t.Run("nil payload maps to SQL NULL", func(t *testing.T) {
		data, err := marshalPayload(nil)
		require.NoError(t, err)
		assert.Nil(t, data)

		var decoded domain.Payload
		require.NoError(t, unmarshalPayload(nil, &decoded))
		assert.Nil(t, decoded)
	})

	t.Run("values round-trip", func(t *testing.T) {
		payload := domain.Payload{"scene": "int_lab", "frames": float64(24)}

		data, err := marshalPayload(payload)
		require.NoError(t, err)

		var decoded domain.Payload
		require.NoError(t, unmarshalPayload(data, &decoded))
		assert.Equal(t, payload, decoded)
	})
}

func TestNullString(t *testing.T) {
	assert.False(t, nullString("").Valid)

	ns := nullString("animatic-ep1")
	assert.True(t, ns.Valid)
	assert.Equal(t, "animatic-ep1", ns.String)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(errors.New(`ERROR: duplicate key value violates unique constraint (SQLSTATE 23505)`)))
	assert.False(t, isUniqueViolation(errors.New("connection refused")))
	assert.False(t, isUniqueViolation(nil))
}
