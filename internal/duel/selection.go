package duel

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/rogers-f/taskraid/internal/domain"
	"github.com/rogers-f/taskraid/internal/store"
)

// SelectTask commits one of the player's pending medium or hard tasks to the
// duel. A player holds at most the required number of selections and cannot
// change them after locking.
func (e *Engine) SelectTask(ctx context.Context, duelID, playerID, taskID string) (*domain.DuelSelection, error) {
	required := e.Calc.Balance().Duel.RequiredTasks
	var sel *domain.DuelSelection
	var d *domain.Duel
	err := store.WithTx(ctx, e.DB, func(tx *sql.Tx) error {
		var err error
		d, err = e.participant(ctx, tx, duelID, playerID)
		if err != nil {
			return err
		}
		if err := requireStatus(d, domain.DuelSelecting); err != nil {
			return err
		}

		task, err := e.Tasks.GetByID(ctx, tx, taskID)
		if err != nil {
			return err
		}
		switch {
		case task.OwnerID != playerID:
			return domain.Detail(domain.ErrTaskNotEligible, "task %s belongs to another player", taskID)
		case task.Status != domain.TaskPending:
			return domain.Detail(domain.ErrTaskNotEligible, "task %s is %s", taskID, task.Status)
		case task.Difficulty != domain.DifficultyMedium && task.Difficulty != domain.DifficultyHard:
			return domain.Detail(domain.ErrTaskNotEligible, "task %s is %s, duels take medium or hard tasks", taskID, task.Difficulty)
		}

		total, locked, err := e.Selections.Counts(ctx, tx, duelID, playerID)
		if err != nil {
			return err
		}
		if locked > 0 {
			return domain.Detail(domain.ErrSelectionLocked, "player %s already locked", playerID)
		}
		if total >= required {
			return domain.Detail(domain.ErrSelectionFull, "%d of %d selected", total, required)
		}
		exists, err := e.Selections.ExistsForTask(ctx, tx, duelID, taskID)
		if err != nil {
			return err
		}
		if exists {
			return domain.Detail(domain.ErrDuplicate, "task %s is already selected", taskID)
		}

		sel = &domain.DuelSelection{
			ID:         uuid.NewString(),
			DuelID:     duelID,
			PlayerID:   playerID,
			TaskID:     taskID,
			Difficulty: task.Difficulty,
			CreatedAt:  e.Clock.Now().Unix(),
		}
		if err := e.Selections.Create(ctx, tx, *sel); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, duelID, "task_selected", playerID, map[string]any{
			"selection_id": sel.ID,
			"task_id":      taskID,
			"difficulty":   task.Difficulty,
		})
	})
	if err != nil {
		return nil, err
	}
	e.publishDuel(ctx, d)
	return sel, nil
}

// UnselectTask removes one of the player's selections before they lock.
func (e *Engine) UnselectTask(ctx context.Context, duelID, playerID, selectionID string) error {
	var d *domain.Duel
	err := store.WithTx(ctx, e.DB, func(tx *sql.Tx) error {
		var err error
		d, err = e.participant(ctx, tx, duelID, playerID)
		if err != nil {
			return err
		}
		if err := requireStatus(d, domain.DuelSelecting); err != nil {
			return err
		}
		sel, err := e.Selections.GetByID(ctx, tx, selectionID)
		if err != nil {
			return err
		}
		if sel.DuelID != duelID || sel.PlayerID != playerID {
			return domain.ErrSelectionNotFound
		}
		if err := e.Selections.Delete(ctx, tx, selectionID, playerID); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, duelID, "task_unselected", playerID, map[string]any{
			"selection_id": selectionID,
			"task_id":      sel.TaskID,
		})
	})
	if err != nil {
		return err
	}
	e.publishDuel(ctx, d)
	return nil
}

// Lock freezes the player's selections. It needs exactly the required
// number of selections and can happen once. Every lock re-checks both sides,
// and the lock that completes the pair activates the duel; the activation is
// a conditional update, so either arrival order works.
func (e *Engine) Lock(ctx context.Context, duelID, playerID string) (*domain.Duel, error) {
	required := e.Calc.Balance().Duel.RequiredTasks
	var d *domain.Duel
	err := store.WithTx(ctx, e.DB, func(tx *sql.Tx) error {
		var err error
		d, err = e.participant(ctx, tx, duelID, playerID)
		if err != nil {
			return err
		}
		if err := requireStatus(d, domain.DuelSelecting); err != nil {
			return err
		}

		total, locked, err := e.Selections.Counts(ctx, tx, duelID, playerID)
		if err != nil {
			return err
		}
		if locked > 0 {
			return domain.Detail(domain.ErrSelectionLocked, "player %s already locked", playerID)
		}
		if total != required {
			return domain.Detail(domain.ErrSelectionIncomplete, "%d of %d selected", total, required)
		}
		if err := e.Selections.LockAll(ctx, tx, duelID, playerID); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, duelID, "selection_locked", playerID, nil); err != nil {
			return err
		}

		ready, err := e.bothLocked(ctx, tx, d, required)
		if err != nil || !ready {
			return err
		}
		_, err = e.transition(ctx, tx, d, domain.DuelActive, playerID, "duel_started")
		return err
	})
	if err != nil {
		return nil, err
	}
	e.publishDuel(ctx, d)
	return d, nil
}

func (e *Engine) bothLocked(ctx context.Context, db store.DBTX, d *domain.Duel, required int) (bool, error) {
	for _, id := range []string{d.ChallengerID, d.ChallengedID} {
		_, locked, err := e.Selections.Counts(ctx, db, d.ID, id)
		if err != nil {
			return false, err
		}
		if locked < required {
			return false, nil
		}
	}
	return true, nil
}
