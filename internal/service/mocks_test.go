package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/domain"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/store"
)

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// fakeTaskStore is an in-memory TaskStore mirroring the SQL semantics the
// service relies on: conditional updates, the dead-letter predicate, and
// deterministic ordering.
type fakeTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task

	createErr  error
	updateErr  error
	requeueErr error
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: make(map[uuid.UUID]*domain.Task)}
}

func cloneTask(t *domain.Task) *domain.Task {
	c := *t
	return &c
}

func (s *fakeTaskStore) Create(ctx context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != nil {
		return s.createErr
	}

	if task.IdempotencyKey != "" {
		for _, existing := range s.tasks {
			if existing.EpisodeID == task.EpisodeID && existing.IdempotencyKey == task.IdempotencyKey {
				return store.ErrDuplicate
			}
		}
	}

	s.tasks[task.ID] = cloneTask(task)
	return nil
}

func (s *fakeTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return cloneTask(task), nil
}

func (s *fakeTaskStore) GetByIdempotencyKey(ctx context.Context, episodeID uuid.UUID, key string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, task := range s.tasks {
		if task.EpisodeID == episodeID && task.IdempotencyKey == key {
			return cloneTask(task), nil
		}
	}
	return nil, store.ErrTaskNotFound
}

func (s *fakeTaskStore) List(ctx context.Context, filter store.TaskFilter, limit int) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Task
	for _, task := range s.tasks {
		if filter.EpisodeID != nil && task.EpisodeID != *filter.EpisodeID {
			continue
		}
		if filter.Status != nil && task.Status != *filter.Status {
			continue
		}
		out = append(out, cloneTask(task))
	}

	sortTasksNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeTaskStore) ClaimNext(ctx context.Context, now time.Time, leaseToken uuid.UUID, leaseExpiresAt time.Time) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var eligible []*domain.Task
	for _, task := range s.tasks {
		if task.AttemptCount >= task.MaxAttempts {
			continue
		}
		due := task.Status == domain.TaskStatusQueued && !task.NextAttemptAt.After(now)
		leaseExpired := task.Status == domain.TaskStatusRunning &&
			task.LeaseExpiresAt != nil && !task.LeaseExpiresAt.After(now)
		if due || leaseExpired {
			eligible = append(eligible, task)
		}
	}
	if len(eligible) == 0 {
		return nil, store.ErrTaskNotFound
	}

	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].NextAttemptAt.Equal(eligible[j].NextAttemptAt) {
			return eligible[i].NextAttemptAt.Before(eligible[j].NextAttemptAt)
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	task := eligible[0]
	task.Status = domain.TaskStatusRunning
	task.AttemptCount++
	token := leaseToken
	expiry := leaseExpiresAt
	task.LeaseToken = &token
	task.LeaseExpiresAt = &expiry
	task.UpdatedAt = now

	return cloneTask(task), nil
}

func (s *fakeTaskStore) UpdateFromStatus(ctx context.Context, task *domain.Task, from domain.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.updateErr != nil {
		return s.updateErr
	}

	current, ok := s.tasks[task.ID]
	if !ok || current.Status != from {
		return store.ErrUpdateFailed
	}

	s.tasks[task.ID] = cloneTask(task)
	return nil
}

func (s *fakeTaskStore) RequeueDead(ctx context.Context, id uuid.UUID, now time.Time) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.requeueErr != nil {
		return nil, s.requeueErr
	}

	task, ok := s.tasks[id]
	if !ok || !task.IsDead() {
		return nil, store.ErrUpdateFailed
	}

	task.Status = domain.TaskStatusQueued
	task.NextAttemptAt = now
	if task.MaxAttempts < task.AttemptCount+1 {
		task.MaxAttempts = task.AttemptCount + 1
	}
	task.LeaseToken = nil
	task.LeaseExpiresAt = nil
	task.UpdatedAt = now

	return cloneTask(task), nil
}

func (s *fakeTaskStore) ListDeadLetters(ctx context.Context, filter store.DeadLetterFilter, limit, offset int) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.deadLettersLocked(filter)
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeTaskStore) CountDeadLetters(ctx context.Context, filter store.DeadLetterFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.deadLettersLocked(filter)), nil
}

func (s *fakeTaskStore) deadLettersLocked(filter store.DeadLetterFilter) []*domain.Task {
	var out []*domain.Task
	for _, task := range s.tasks {
		reason, dead := task.DeadReason()
		if !dead {
			continue
		}
		if filter.EpisodeID != nil && task.EpisodeID != *filter.EpisodeID {
			continue
		}
		if filter.JobKind != "" && task.JobKind != filter.JobKind {
			continue
		}
		if filter.TraceID != "" && task.TraceID != filter.TraceID {
			continue
		}
		if filter.DeadReason != nil && reason != *filter.DeadReason {
			continue
		}
		if filter.ErrorCode != "" && task.ErrorCode != filter.ErrorCode {
			continue
		}
		out = append(out, cloneTask(task))
	}

	sortTasksNewestFirst(out)
	return out
}

func sortTasksNewestFirst(tasks []*domain.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return tasks[i].ID.String() > tasks[j].ID.String()
	})
}

// fakeAuditStore is an in-memory AuditLogStore.
type fakeAuditStore struct {
	mu      sync.Mutex
	entries []*domain.AuditLogEntry

	appendErr error
}

func newFakeAuditStore() *fakeAuditStore {
	return &fakeAuditStore{}
}

func cloneEntry(e *domain.AuditLogEntry) *domain.AuditLogEntry {
	c := *e
	return &c
}

func (s *fakeAuditStore) Append(ctx context.Context, entry *domain.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.appendErr != nil {
		return s.appendErr
	}
	s.entries = append(s.entries, cloneEntry(entry))
	return nil
}

func (s *fakeAuditStore) matchLocked(filter store.AuditFilter) []*domain.AuditLogEntry {
	var out []*domain.AuditLogEntry
	for _, e := range s.entries {
		if filter.EpisodeID != nil && (e.EpisodeID == nil || *e.EpisodeID != *filter.EpisodeID) {
			continue
		}
		if filter.JobKind != "" && e.JobKind != filter.JobKind {
			continue
		}
		if filter.TraceID != "" && e.TraceID != filter.TraceID {
			continue
		}
		if filter.Action != nil && e.Action != *filter.Action {
			continue
		}
		if filter.Actor != "" && !containsFold(e.Actor, filter.Actor) {
			continue
		}
		if filter.BatchID != nil && (e.BatchID == nil || *e.BatchID != *filter.BatchID) {
			continue
		}
		out = append(out, cloneEntry(e))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	return out
}

func (s *fakeAuditStore) List(ctx context.Context, filter store.AuditFilter, limit, offset int) ([]*domain.AuditLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.matchLocked(filter)
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeAuditStore) Count(ctx context.Context, filter store.AuditFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.matchLocked(filter)), nil
}

func (s *fakeAuditStore) CountByActorActionSince(ctx context.Context, actor string, action domain.AuditAction, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, e := range s.entries {
		if e.Actor == actor && e.Action == action && !e.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *fakeAuditStore) CountOlderThan(ctx context.Context, cutoff time.Time, filter store.AuditFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, e := range s.matchLocked(filter) {
		if e.CreatedAt.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

func (s *fakeAuditStore) DeleteOlderThan(ctx context.Context, cutoff time.Time, filter store.AuditFilter, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := s.matchLocked(filter)
	// Oldest first, mirroring the SQL ordering.
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	var ids []uuid.UUID
	doomed := make(map[uuid.UUID]bool)
	for _, e := range matched {
		if len(ids) >= limit {
			break
		}
		if e.CreatedAt.Before(cutoff) {
			ids = append(ids, e.ID)
			doomed[e.ID] = true
		}
	}

	var kept []*domain.AuditLogEntry
	for _, e := range s.entries {
		if !doomed[e.ID] {
			kept = append(kept, e)
		}
	}
	s.entries = kept

	return ids, nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// fakeEpisodeStore knows a fixed set of episode IDs.
type fakeEpisodeStore struct {
	episodes map[uuid.UUID]bool
}

func newFakeEpisodeStore(ids ...uuid.UUID) *fakeEpisodeStore {
	s := &fakeEpisodeStore{episodes: make(map[uuid.UUID]bool)}
	for _, id := range ids {
		s.episodes[id] = true
	}
	return s
}

func (s *fakeEpisodeStore) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.episodes[id], nil
}
