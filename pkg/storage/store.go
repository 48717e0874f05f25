package storage

import (
	"errors"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for episode and runbook persistence.
// Implemented by BoltDB-backed storage.
type Store interface {
	// Episodes
	CreateEpisode(ep *types.Episode) error
	GetEpisode(id string) (*types.Episode, error)
	ListEpisodes() ([]*types.Episode, error)
	ListEpisodesByState(state types.EpisodeState) ([]*types.Episode, error)
	UpdateEpisode(ep *types.Episode) error

	// Runbooks
	PutRunbook(rb *types.Runbook) error
	GetRunbook(patternID string) (*types.Runbook, error)
	ListRunbooks() ([]*types.Runbook, error)

	// IncrementRunbookSuccess bumps success_count and last_used_at for a
	// pattern without touching its plan template. The bolt write
	// transaction serializes concurrent writers per pattern.
	IncrementRunbookSuccess(patternID string) error

	// Utility
	Close() error
}
