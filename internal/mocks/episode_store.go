package mocks

import (
	"context"

	"github.com/google/uuid"

	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/store"
)

// EpisodeStore is a fixed-set store.EpisodeStore.
type EpisodeStore struct {
	ids map[uuid.UUID]bool

	ExistsErr error
}

var _ store.EpisodeStore = (*EpisodeStore)(nil)

// NewEpisodeStore creates an EpisodeStore that recognizes the given IDs.
func NewEpisodeStore(ids ...uuid.UUID) *EpisodeStore {
	set := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return &EpisodeStore{ids: set}
}

func (s *EpisodeStore) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	if s.ExistsErr != nil {
		return false, s.ExistsErr
	}
	return s.ids[id], nil
}
