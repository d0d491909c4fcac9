package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"mentara-client/internal/domain"
)

// SnapshotStore keeps resume snapshots as JSONB rows in attempt_snapshots.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

func (s *SnapshotStore) Load(ctx context.Context, attemptID domain.ID) (domain.Snapshot, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM attempt_snapshots WHERE attempt_id=$1`, attemptID.String()).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Snapshot{}, domain.ErrSnapshotNotFound
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// Save upserts the row; saved_at follows the snapshot's own timestamp.
func (s *SnapshotStore) Save(ctx context.Context, snapshot domain.Snapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO attempt_snapshots (attempt_id, exam_id, data, saved_at)
		VALUES ($1, $2, $3::jsonb, $4)
		ON CONFLICT (attempt_id) DO UPDATE
		SET exam_id = EXCLUDED.exam_id, data = EXCLUDED.data, saved_at = EXCLUDED.saved_at`,
		snapshot.AttemptID.String(), snapshot.ExamID.String(), string(raw), snapshot.SavedAt)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStore) Delete(ctx context.Context, attemptID domain.ID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM attempt_snapshots WHERE attempt_id=$1`, attemptID.String()); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}
