package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

var (
	// Bucket names
	bucketEpisodes = []byte("episodes")
	bucketRunbooks = []byte("runbooks")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "guardian.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketEpisodes, bucketRunbooks} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Episode operations

func (s *BoltStore) CreateEpisode(ep *types.Episode) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEpisodes)
		data, err := json.Marshal(ep)
		if err != nil {
			return err
		}
		return b.Put([]byte(ep.ID), data)
	})
}

func (s *BoltStore) GetEpisode(id string) (*types.Episode, error) {
	var ep types.Episode
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEpisodes)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("episode %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &ep)
	})
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

func (s *BoltStore) ListEpisodes() ([]*types.Episode, error) {
	var episodes []*types.Episode
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEpisodes)
		return b.ForEach(func(k, v []byte) error {
			var ep types.Episode
			if err := json.Unmarshal(v, &ep); err != nil {
				return err
			}
			episodes = append(episodes, &ep)
			return nil
		})
	})
	return episodes, err
}

func (s *BoltStore) ListEpisodesByState(state types.EpisodeState) ([]*types.Episode, error) {
	all, err := s.ListEpisodes()
	if err != nil {
		return nil, err
	}
	var filtered []*types.Episode
	for _, ep := range all {
		if ep.State == state {
			filtered = append(filtered, ep)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateEpisode(ep *types.Episode) error {
	return s.CreateEpisode(ep) // Same as create (upsert)
}

// Runbook operations

func (s *BoltStore) PutRunbook(rb *types.Runbook) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRunbooks)
		data, err := json.Marshal(rb)
		if err != nil {
			return err
		}
		return b.Put([]byte(rb.PatternID), data)
	})
}

func (s *BoltStore) GetRunbook(patternID string) (*types.Runbook, error) {
	var rb types.Runbook
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRunbooks)
		data := b.Get([]byte(patternID))
		if data == nil {
			return fmt.Errorf("runbook %s: %w", patternID, ErrNotFound)
		}
		return json.Unmarshal(data, &rb)
	})
	if err != nil {
		return nil, err
	}
	return &rb, nil
}

func (s *BoltStore) ListRunbooks() ([]*types.Runbook, error) {
	var runbooks []*types.Runbook
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRunbooks)
		return b.ForEach(func(k, v []byte) error {
			var rb types.Runbook
			if err := json.Unmarshal(v, &rb); err != nil {
				return err
			}
			runbooks = append(runbooks, &rb)
			return nil
		})
	})
	return runbooks, err
}

// IncrementRunbookSuccess reads, bumps and writes back inside one write
// transaction so counter updates never race and never touch the template.
func (s *BoltStore) IncrementRunbookSuccess(patternID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRunbooks)
		data := b.Get([]byte(patternID))
		if data == nil {
			return fmt.Errorf("runbook %s: %w", patternID, ErrNotFound)
		}
		var rb types.Runbook
		if err := json.Unmarshal(data, &rb); err != nil {
			return err
		}
		rb.SuccessCount++
		rb.LastUsedAt = time.Now().UTC()
		updated, err := json.Marshal(&rb)
		if err != nil {
			return err
		}
		return b.Put([]byte(patternID), updated)
	})
}
