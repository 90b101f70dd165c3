package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/XucroYuri/omni-director-pre-viz-sub001/internal/store"
)

// PostgresEpisodeStore implements the narrow store.EpisodeStore view the
// queue needs. Episode records themselves are owned by the surrounding
// application; the queue only checks referential existence.
type PostgresEpisodeStore struct {
	db store.DBTX
}

var _ store.EpisodeStore = (*PostgresEpisodeStore)(nil)

// NewPostgresEpisodeStore creates a new PostgresEpisodeStore.
func NewPostgresEpisodeStore(db store.DBTX) *PostgresEpisodeStore {
	return &PostgresEpisodeStore{
		db: db,
	}
}

// Exists reports whether an episode with the given ID exists.
func (s *PostgresEpisodeStore) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM episodes WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check episode existence: %w", err)
	}

	return exists, nil
}
