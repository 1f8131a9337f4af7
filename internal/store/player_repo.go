package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rogers-f/taskraid/internal/domain"
)

const playerColumns = `id, name, level, current_xp, gold, diamonds, current_hp, max_hp,
current_mana, max_mana, strength, intelligence, constitution, perception,
points_to_assign, class, trophies, state_version, created_at, updated_at`

// PlayerRepo handles persistence for Player records.
type PlayerRepo struct{}

// Create inserts a new player.
func (r *PlayerRepo) Create(ctx context.Context, db DBTX, p domain.Player) error {
	q := `INSERT INTO players (` + playerColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if p.StateVersion == 0 {
		p.StateVersion = 1
	}
	_, err := db.ExecContext(ctx, q,
		p.ID, p.Name, p.Level, p.CurrentXP, p.Gold, p.Diamonds,
		p.CurrentHP, p.MaxHP, p.CurrentMana, p.MaxMana,
		p.Strength, p.Intelligence, p.Constitution, p.Perception,
		p.PointsToAssign, string(p.Class), p.Trophies, p.StateVersion,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create player: %w", err)
	}
	return nil
}

// GetByID retrieves a player by ID.
func (r *PlayerRepo) GetByID(ctx context.Context, db DBTX, id string) (*domain.Player, error) {
	q := `SELECT ` + playerColumns + ` FROM players WHERE id = ?`
	p, err := scanPlayer(db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("get player: %w", err)
	}
	return p, nil
}

// List returns all players ordered by creation time.
func (r *PlayerRepo) List(ctx context.Context, db DBTX) ([]domain.Player, error) {
	q := `SELECT ` + playerColumns + ` FROM players ORDER BY created_at ASC, id ASC`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()

	var players []domain.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		players = append(players, *p)
	}
	return players, rows.Err()
}

// Update writes every mutable field of a player using optimistic locking.
// The update only succeeds if the stored state_version matches p.StateVersion;
// on success p.StateVersion is advanced to the new value.
func (r *PlayerRepo) Update(ctx context.Context, db DBTX, p *domain.Player) error {
	const q = `UPDATE players SET
		name = ?,
		level = ?,
		current_xp = ?,
		gold = ?,
		diamonds = ?,
		current_hp = ?,
		max_hp = ?,
		current_mana = ?,
		max_mana = ?,
		strength = ?,
		intelligence = ?,
		constitution = ?,
		perception = ?,
		points_to_assign = ?,
		class = ?,
		trophies = ?,
		state_version = state_version + 1,
		updated_at = ?
	WHERE id = ? AND state_version = ?`

	res, err := db.ExecContext(ctx, q,
		p.Name, p.Level, p.CurrentXP, p.Gold, p.Diamonds,
		p.CurrentHP, p.MaxHP, p.CurrentMana, p.MaxMana,
		p.Strength, p.Intelligence, p.Constitution, p.Perception,
		p.PointsToAssign, string(p.Class), p.Trophies, p.UpdatedAt,
		p.ID, p.StateVersion,
	)
	if err != nil {
		return fmt.Errorf("update player: %w", err)
	}
	if err := expectOne(res, domain.ErrOptimisticLock); err != nil {
		return err
	}
	p.StateVersion++
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlayer(row rowScanner) (*domain.Player, error) {
	var p domain.Player
	var class string
	err := row.Scan(&p.ID, &p.Name, &p.Level, &p.CurrentXP, &p.Gold, &p.Diamonds,
		&p.CurrentHP, &p.MaxHP, &p.CurrentMana, &p.MaxMana,
		&p.Strength, &p.Intelligence, &p.Constitution, &p.Perception,
		&p.PointsToAssign, &class, &p.Trophies, &p.StateVersion,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Class = domain.Class(class)
	return &p, nil
}
