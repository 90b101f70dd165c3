package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/domain"
	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/store"
)

// TaskStore is an in-memory store.TaskStore. Error fields inject faults on
// the corresponding operation.
type TaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.Task

	CreateErr  error
	UpdateErr  error
	RequeueErr error
}

var _ store.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates an empty in-memory TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[uuid.UUID]*domain.Task)}
}

func cloneTask(t *domain.Task) *domain.Task {
	c := *t
	return &c
}

// Snapshot returns a copy of the stored task, or nil if absent.
func (s *TaskStore) Snapshot(id uuid.UUID) *domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil
	}
	return cloneTask(task)
}

// Put stores a task directly, bypassing validation. For test seeding.
func (s *TaskStore) Put(task *domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = cloneTask(task)
}

func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CreateErr != nil {
		return s.CreateErr
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

func (s *TaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return cloneTask(task), nil
}

func (s *TaskStore) GetByIdempotencyKey(ctx context.Context, episodeID uuid.UUID, key string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, task := range s.tasks {
		if task.EpisodeID == episodeID && task.IdempotencyKey == key {
			return cloneTask(task), nil
		}
	}
	return nil, store.ErrTaskNotFound
}

func (s *TaskStore) List(ctx context.Context, filter store.TaskFilter, limit int) ([]*domain.Task, error) {
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

	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *TaskStore) ClaimNext(ctx context.Context, now time.Time, leaseToken uuid.UUID, leaseExpiresAt time.Time) (*domain.Task, error) {
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

func (s *TaskStore) UpdateFromStatus(ctx context.Context, task *domain.Task, from domain.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.UpdateErr != nil {
		return s.UpdateErr
	}

	current, ok := s.tasks[task.ID]
	if !ok || current.Status != from {
		return store.ErrUpdateFailed
	}

	s.tasks[task.ID] = cloneTask(task)
	return nil
}

func (s *TaskStore) RequeueDead(ctx context.Context, id uuid.UUID, now time.Time) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.RequeueErr != nil {
		return nil, s.RequeueErr
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

func (s *TaskStore) ListDeadLetters(ctx context.Context, filter store.DeadLetterFilter, limit, offset int) ([]*domain.Task, error) {
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

func (s *TaskStore) CountDeadLetters(ctx context.Context, filter store.DeadLetterFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.deadLettersLocked(filter)), nil
}

func (s *TaskStore) deadLettersLocked(filter store.DeadLetterFilter) []*domain.Task {
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

	sortNewestFirst(out)
	return out
}

func sortNewestFirst(tasks []*domain.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return tasks[i].ID.String() > tasks[j].ID.String()
	})
}
