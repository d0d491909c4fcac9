// Package file stores resume snapshots as JSON files, one per attempt.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"mentara-client/internal/domain"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SnapshotStore writes snapshots under dir. Writes go through a temp file and
// rename so a crash never leaves a half-written snapshot.
type SnapshotStore struct {
	dir string
}

func NewSnapshotStore(dir string) *SnapshotStore {
	return &SnapshotStore{dir: dir}
}

func (s *SnapshotStore) path(attemptID domain.ID) string {
	return filepath.Join(s.dir, "attempt-"+unsafeChars.ReplaceAllString(attemptID.String(), "_")+".json")
}

func (s *SnapshotStore) Load(_ context.Context, attemptID domain.ID) (domain.Snapshot, error) {
	raw, err := os.ReadFile(s.path(attemptID))
	if errors.Is(err, os.ErrNotExist) {
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

func (s *SnapshotStore) Save(_ context.Context, snapshot domain.Snapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".snapshot-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path(snapshot.AttemptID))
}

func (s *SnapshotStore) Delete(_ context.Context, attemptID domain.ID) error {
	if err := os.Remove(s.path(attemptID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
