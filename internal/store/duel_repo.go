package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rogers-f/taskraid/internal/domain"
)

const duelColumns = `id, challenger_id, challenged_id, challenger_hp, challenged_hp, status, winner_id, state_version, created_at, updated_at`

// DuelRepo handles persistence for Duel records.
type DuelRepo struct{}

// Create inserts a new duel.
func (r *DuelRepo) Create(ctx context.Context, db DBTX, d domain.Duel) error {
	q := `INSERT INTO duels (` + duelColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if d.StateVersion == 0 {
		d.StateVersion = 1
	}
	_, err := db.ExecContext(ctx, q,
		d.ID, d.ChallengerID, d.ChallengedID, d.ChallengerHP, d.ChallengedHP,
		string(d.Status), d.WinnerID, d.StateVersion, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create duel: %w", err)
	}
	return nil
}

// GetByID retrieves a duel by its ID.
func (r *DuelRepo) GetByID(ctx context.Context, db DBTX, id string) (*domain.Duel, error) {
	q := `SELECT ` + duelColumns + ` FROM duels WHERE id = ?`
	d, err := scanDuel(db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrDuelNotFound
		}
		return nil, fmt.Errorf("get duel: %w", err)
	}
	return d, nil
}

// ListByPlayer returns every duel the player took part in, newest first.
func (r *DuelRepo) ListByPlayer(ctx context.Context, db DBTX, playerID string) ([]domain.Duel, error) {
	q := `SELECT ` + duelColumns + ` FROM duels
WHERE challenger_id = ? OR challenged_id = ?
ORDER BY created_at DESC, id ASC`
	rows, err := db.QueryContext(ctx, q, playerID, playerID)
	if err != nil {
		return nil, fmt.Errorf("list duels: %w", err)
	}
	defer rows.Close()

	var duels []domain.Duel
	for rows.Next() {
		d, err := scanDuel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan duel: %w", err)
		}
		duels = append(duels, *d)
	}
	return duels, rows.Err()
}

// HasOpen reports whether the player is in a duel that has not finished.
func (r *DuelRepo) HasOpen(ctx context.Context, db DBTX, playerID string) (bool, error) {
	const q = `SELECT COUNT(*) FROM duels
WHERE (challenger_id = ? OR challenged_id = ?) AND status IN ('pending', 'selecting', 'active')`
	var n int
	if err := db.QueryRowContext(ctx, q, playerID, playerID).Scan(&n); err != nil {
		return false, fmt.Errorf("count open duels: %w", err)
	}
	return n > 0, nil
}

// Transition moves a duel from one status to another. It reports false when
// the duel was no longer in the from status, which lets redundant callers
// attempt the same transition safely.
func (r *DuelRepo) Transition(ctx context.Context, db DBTX, id string, from, to domain.DuelStatus, at int64) (bool, error) {
	const q = `UPDATE duels SET status = ?, state_version = state_version + 1, updated_at = ?
	WHERE id = ? AND status = ?`
	res, err := db.ExecContext(ctx, q, string(to), at, id, string(from))
	if err != nil {
		return false, fmt.Errorf("transition duel: %w", err)
	}
	return affected(res)
}

// ApplyDamage subtracts amount from one participant's HP pool in a single
// statement, flooring at zero, and returns the HP left. It fails with
// ErrDuelClosed if the duel is not active.
func (r *DuelRepo) ApplyDamage(ctx context.Context, db DBTX, d *domain.Duel, targetID string, amount int, at int64) (int, error) {
	column := "challenged_hp"
	if targetID == d.ChallengerID {
		column = "challenger_hp"
	}
	q := `UPDATE duels SET ` + column + ` = MAX(0, ` + column + ` - ?),
		state_version = state_version + 1,
		updated_at = ?
	WHERE id = ? AND status = 'active'`

	res, err := db.ExecContext(ctx, q, amount, at, d.ID)
	if err != nil {
		return 0, fmt.Errorf("apply duel damage: %w", err)
	}
	if err := expectOne(res, domain.ErrDuelClosed); err != nil {
		return 0, err
	}

	var hp int
	if err := db.QueryRowContext(ctx, `SELECT `+column+` FROM duels WHERE id = ?`, d.ID).Scan(&hp); err != nil {
		return 0, fmt.Errorf("read duel hp: %w", err)
	}
	return hp, nil
}

// Complete ends an active duel in which one side is at zero HP. Only the
// caller whose update lands reports true and pays the victory bonus.
func (r *DuelRepo) Complete(ctx context.Context, db DBTX, id, winnerID string, at int64) (bool, error) {
	const q = `UPDATE duels SET status = 'completed', winner_id = ?, state_version = state_version + 1, updated_at = ?
	WHERE id = ? AND status = 'active' AND (challenger_hp = 0 OR challenged_hp = 0)`
	res, err := db.ExecContext(ctx, q, winnerID, at, id)
	if err != nil {
		return false, fmt.Errorf("complete duel: %w", err)
	}
	return affected(res)
}

func scanDuel(row rowScanner) (*domain.Duel, error) {
	var d domain.Duel
	var status string
	err := row.Scan(&d.ID, &d.ChallengerID, &d.ChallengedID, &d.ChallengerHP, &d.ChallengedHP,
		&status, &d.WinnerID, &d.StateVersion, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Status = domain.DuelStatus(status)
	return &d, nil
}
