package store

import (
	"context"
	"fmt"

	"github.com/rogers-f/taskraid/internal/domain"
)

// LedgerRepo handles persistence for RewardDelta records.
type LedgerRepo struct{}

// Create inserts a reward delta for a player.
func (r *LedgerRepo) Create(ctx context.Context, db DBTX, delta domain.RewardDelta) error {
	const q = `INSERT INTO reward_ledger (player_id, source, xp, gold, mana, hp, trophies, levels_gained, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q,
		delta.PlayerID,
		delta.Source,
		delta.XP,
		delta.Gold,
		delta.Mana,
		delta.HP,
		delta.Trophies,
		delta.LevelsGained,
		delta.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create reward delta: %w", err)
	}
	return nil
}

// ListByPlayer returns all reward deltas for a player in insertion order.
func (r *LedgerRepo) ListByPlayer(ctx context.Context, db DBTX, playerID string) ([]domain.RewardDelta, error) {
	const q = `SELECT id, player_id, source, xp, gold, mana, hp, trophies, levels_gained, created_at
FROM reward_ledger
WHERE player_id = ?
ORDER BY id ASC`

	rows, err := db.QueryContext(ctx, q, playerID)
	if err != nil {
		return nil, fmt.Errorf("list reward deltas: %w", err)
	}
	defer rows.Close()

	var deltas []domain.RewardDelta
	for rows.Next() {
		var d domain.RewardDelta
		if err := rows.Scan(&d.ID, &d.PlayerID, &d.Source, &d.XP, &d.Gold, &d.Mana,
			&d.HP, &d.Trophies, &d.LevelsGained, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reward delta: %w", err)
		}
		deltas = append(deltas, d)
	}
	return deltas, rows.Err()
}
