package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"mentara-client/internal/domain"
)

// SnapshotStore keeps resume snapshots in Redis so a kiosk can resume on another machine.
// Each snapshot is one JSON string that expires after ttl.
type SnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSnapshotStore(client *redis.Client, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{client: client, ttl: ttl}
}

func (s *SnapshotStore) Load(ctx context.Context, attemptID domain.ID) (domain.Snapshot, error) {
	raw, err := s.client.Get(ctx, s.key(attemptID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Snapshot{}, domain.ErrSnapshotNotFound
	}
	if err != nil {
		return domain.Snapshot{}, err
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", attemptID, err)
	}
	return snap, nil
}

func (s *SnapshotStore) Save(ctx context.Context, snapshot domain.Snapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(snapshot.AttemptID), raw, s.ttl).Err()
}

func (s *SnapshotStore) Delete(ctx context.Context, attemptID domain.ID) error {
	return s.client.Del(ctx, s.key(attemptID)).Err()
}

func (s *SnapshotStore) key(attemptID domain.ID) string {
	return "mentara:attempt:" + attemptID.String() + ":snapshot"
}
