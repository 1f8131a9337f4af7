package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rogers-f/taskraid/internal/domain"
)

// SnapshotRepo handles persistence for DuelSnapshot records.
type SnapshotRepo struct{}

// Save inserts a duel snapshot.
func (r *SnapshotRepo) Save(ctx context.Context, db DBTX, snap domain.DuelSnapshot) error {
	const q = `INSERT INTO duel_snapshots (duel_id, status, challenger_hp, challenged_hp, snapshot_json, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q,
		snap.DuelID,
		string(snap.Status),
		snap.ChallengerHP,
		snap.ChallengedHP,
		snap.SnapshotJSON,
		snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// GetLatest returns the most recent snapshot for a duel in the given status.
// Returns nil if no snapshot exists.
func (r *SnapshotRepo) GetLatest(ctx context.Context, db DBTX, duelID string, status domain.DuelStatus) (*domain.DuelSnapshot, error) {
	const q = `SELECT id, duel_id, status, challenger_hp, challenged_hp, snapshot_json, created_at
FROM duel_snapshots
WHERE duel_id = ? AND status = ?
ORDER BY id DESC
LIMIT 1`

	row := db.QueryRowContext(ctx, q, duelID, string(status))

	var s domain.DuelSnapshot
	var st string
	err := row.Scan(&s.ID, &s.DuelID, &st, &s.ChallengerHP, &s.ChallengedHP, &s.SnapshotJSON, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest snapshot: %w", err)
	}
	s.Status = domain.DuelStatus(st)
	return &s, nil
}
