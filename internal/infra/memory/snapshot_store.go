package memory

import (
	"context"
	"sync"

	"mentara-client/internal/domain"
)

// SnapshotStore keeps resume snapshots in process memory. They do not survive a restart.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[domain.ID]domain.Snapshot
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		snapshots: make(map[domain.ID]domain.Snapshot),
	}
}

func (s *SnapshotStore) Load(_ context.Context, attemptID domain.ID) (domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[attemptID]
	if !ok {
		return domain.Snapshot{}, domain.ErrSnapshotNotFound
	}
	return snap, nil
}

func (s *SnapshotStore) Save(_ context.Context, snapshot domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.AttemptID] = snapshot
	return nil
}

func (s *SnapshotStore) Delete(_ context.Context, attemptID domain.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, attemptID)
	return nil
}
