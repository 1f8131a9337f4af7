package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rogers-f/taskraid/internal/domain"
)

const selectionColumns = `id, duel_id, player_id, task_id, difficulty, locked, completed, evidence_url,
damage_dealt, contested, contest_reason, created_at`

// SelectionRepo handles persistence for DuelSelection records.
type SelectionRepo struct{}

// Create inserts a new selection.
func (r *SelectionRepo) Create(ctx context.Context, db DBTX, s domain.DuelSelection) error {
	q := `INSERT INTO duel_selections (` + selectionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q,
		s.ID, s.DuelID, s.PlayerID, s.TaskID, string(s.Difficulty),
		boolToInt(s.Locked), boolToInt(s.Completed), s.EvidenceURL,
		s.DamageDealt, boolToInt(s.Contested), s.ContestReason, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create selection: %w", err)
	}
	return nil
}

// GetByID retrieves a selection by its ID.
func (r *SelectionRepo) GetByID(ctx context.Context, db DBTX, id string) (*domain.DuelSelection, error) {
	q := `SELECT ` + selectionColumns + ` FROM duel_selections WHERE id = ?`
	s, err := scanSelection(db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSelectionNotFound
		}
		return nil, fmt.Errorf("get selection: %w", err)
	}
	return s, nil
}

// ListByDuel returns a duel's selections. When playerID is non-empty only that
// player's selections are returned.
func (r *SelectionRepo) ListByDuel(ctx context.Context, db DBTX, duelID, playerID string) ([]domain.DuelSelection, error) {
	q := `SELECT ` + selectionColumns + ` FROM duel_selections WHERE duel_id = ?`
	args := []any{duelID}
	if playerID != "" {
		q += ` AND player_id = ?`
		args = append(args, playerID)
	}
	q += ` ORDER BY created_at ASC, id ASC`

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list selections: %w", err)
	}
	defer rows.Close()

	var out []domain.DuelSelection
	for rows.Next() {
		s, err := scanSelection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan selection: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// Counts returns how many selections a player has in a duel and how many of
// them are locked.
func (r *SelectionRepo) Counts(ctx context.Context, db DBTX, duelID, playerID string) (total, locked int, err error) {
	const q = `SELECT COUNT(*), COALESCE(SUM(locked), 0) FROM duel_selections WHERE duel_id = ? AND player_id = ?`
	if err := db.QueryRowContext(ctx, q, duelID, playerID).Scan(&total, &locked); err != nil {
		return 0, 0, fmt.Errorf("count selections: %w", err)
	}
	return total, locked, nil
}

// ExistsForTask reports whether the task is already selected in the duel.
func (r *SelectionRepo) ExistsForTask(ctx context.Context, db DBTX, duelID, taskID string) (bool, error) {
	const q = `SELECT COUNT(*) FROM duel_selections WHERE duel_id = ? AND task_id = ?`
	var n int
	if err := db.QueryRowContext(ctx, q, duelID, taskID).Scan(&n); err != nil {
		return false, fmt.Errorf("check selection: %w", err)
	}
	return n > 0, nil
}

// OpenDuelForTask returns the ID of the unfinished duel the task is selected
// in, or "" if it is free.
func (r *SelectionRepo) OpenDuelForTask(ctx context.Context, db DBTX, taskID string) (string, error) {
	const q = `SELECT d.id FROM duel_selections s JOIN duels d ON d.id = s.duel_id
WHERE s.task_id = ? AND d.status IN ('selecting', 'active')
LIMIT 1`
	var id string
	err := db.QueryRowContext(ctx, q, taskID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("find duel for task: %w", err)
	}
	return id, nil
}

// Delete removes an unlocked selection owned by the player.
func (r *SelectionRepo) Delete(ctx context.Context, db DBTX, id, playerID string) error {
	const q = `DELETE FROM duel_selections WHERE id = ? AND player_id = ? AND locked = 0`
	res, err := db.ExecContext(ctx, q, id, playerID)
	if err != nil {
		return fmt.Errorf("delete selection: %w", err)
	}
	return expectOne(res, domain.ErrSelectionLocked)
}

// LockAll locks every selection the player has in the duel.
func (r *SelectionRepo) LockAll(ctx context.Context, db DBTX, duelID, playerID string) error {
	const q = `UPDATE duel_selections SET locked = 1 WHERE duel_id = ? AND player_id = ?`
	if _, err := db.ExecContext(ctx, q, duelID, playerID); err != nil {
		return fmt.Errorf("lock selections: %w", err)
	}
	return nil
}

// MarkCompleted records accepted evidence and the damage it dealt. It fails
// with ErrTaskFinished if the selection was already completed.
func (r *SelectionRepo) MarkCompleted(ctx context.Context, db DBTX, id, evidenceURL string, damage int) error {
	const q = `UPDATE duel_selections SET completed = 1, evidence_url = ?, damage_dealt = ?
WHERE id = ? AND locked = 1 AND completed = 0`
	res, err := db.ExecContext(ctx, q, evidenceURL, damage, id)
	if err != nil {
		return fmt.Errorf("complete selection: %w", err)
	}
	return expectOne(res, domain.ErrTaskFinished)
}

// MarkContested flags a completed selection for review.
func (r *SelectionRepo) MarkContested(ctx context.Context, db DBTX, id, reason string) error {
	const q = `UPDATE duel_selections SET contested = 1, contest_reason = ?
WHERE id = ? AND completed = 1 AND contested = 0`
	res, err := db.ExecContext(ctx, q, reason, id)
	if err != nil {
		return fmt.Errorf("contest selection: %w", err)
	}
	return expectOne(res, domain.ErrAlreadyContested)
}

func scanSelection(row rowScanner) (*domain.DuelSelection, error) {
	var s domain.DuelSelection
	var difficulty string
	var locked, completed, contested int
	err := row.Scan(&s.ID, &s.DuelID, &s.PlayerID, &s.TaskID, &difficulty,
		&locked, &completed, &s.EvidenceURL, &s.DamageDealt, &contested,
		&s.ContestReason, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.Difficulty = domain.Difficulty(difficulty)
	s.Locked = locked != 0
	s.Completed = completed != 0
	s.Contested = contested != 0
	return &s, nil
}
