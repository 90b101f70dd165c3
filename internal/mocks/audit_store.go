package mocks

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

// AuditLogStore is an in-memory store.AuditLogStore. AppendErr injects a
// fault on the next Append call.
type AuditLogStore struct {
	mu      sync.Mutex
	entries []*domain.AuditLogEntry

	AppendErr error
}

var _ store.AuditLogStore = (*AuditLogStore)(nil)

// NewAuditLogStore creates an empty in-memory AuditLogStore.
func NewAuditLogStore() *AuditLogStore {
	return &AuditLogStore{}
}

func cloneEntry(e *domain.AuditLogEntry) *domain.AuditLogEntry {
	c := *e
	return &c
}

// Entries returns a copy of every stored entry in insertion order.
func (s *AuditLogStore) Entries() []*domain.AuditLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.AuditLogEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, cloneEntry(e))
	}
	return out
}

// Seed stores an entry directly, bypassing validation. For test seeding.
func (s *AuditLogStore) Seed(entry *domain.AuditLogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, cloneEntry(entry))
}

func (s *AuditLogStore) Append(ctx context.Context, entry *domain.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.AppendErr != nil {
		return s.AppendErr
	}
	s.entries = append(s.entries, cloneEntry(entry))
	return nil
}

func (s *AuditLogStore) List(ctx context.Context, filter store.AuditFilter, limit, offset int) ([]*domain.AuditLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.matchLocked(filter)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *AuditLogStore) Count(ctx context.Context, filter store.AuditFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.matchLocked(filter)), nil
}

func (s *AuditLogStore) CountByActorActionSince(ctx context.Context, actor string, action domain.AuditAction, since time.Time) (int, error) {
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

func (s *AuditLogStore) CountOlderThan(ctx context.Context, cutoff time.Time, filter store.AuditFilter) (int, error) {
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

func (s *AuditLogStore) DeleteOlderThan(ctx context.Context, cutoff time.Time, filter store.AuditFilter, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]*domain.AuditLogEntry, 0)
	for _, e := range s.matchLocked(filter) {
		if e.CreatedAt.Before(cutoff) {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	deleted := make(map[uuid.UUID]bool, len(candidates))
	ids := make([]uuid.UUID, 0, len(candidates))
	for _, e := range candidates {
		deleted[e.ID] = true
		ids = append(ids, e.ID)
	}

	kept := s.entries[:0]
	for _, e := range s.entries {
		if !deleted[e.ID] {
			kept = append(kept, e)
		}
	}
	s.entries = kept

	return ids, nil
}

func (s *AuditLogStore) matchLocked(filter store.AuditFilter) []*domain.AuditLogEntry {
	var out []*domain.AuditLogEntry
	for _, e := range s.entries {
		if filter.EpisodeID != nil && (e.EpisodeID == nil || *e.EpisodeID != *filter.EpisodeID) {
			continue
		}
		if filter.BatchID != nil && (e.BatchID == nil || *e.BatchID != *filter.BatchID) {
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
		if filter.Actor != "" && !strings.Contains(strings.ToLower(e.Actor), strings.ToLower(filter.Actor)) {
			continue
		}
		out = append(out, cloneEntry(e))
	}
	return out
}
