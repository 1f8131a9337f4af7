package duel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rogers-f/taskraid/internal/domain"
	"github.com/rogers-f/taskraid/internal/store"
)

// validTransitions defines the legal status transitions.
// Each key is a source status, and the value is the set of valid target statuses.
var validTransitions = map[domain.DuelStatus]map[domain.DuelStatus]bool{
	domain.DuelPending:   {domain.DuelSelecting: true, domain.DuelCancelled: true},
	domain.DuelSelecting: {domain.DuelActive: true, domain.DuelCancelled: true},
	domain.DuelActive:    {domain.DuelCompleted: true},
}

// IsValidTransition checks if a status transition is legal.
func IsValidTransition(from, to domain.DuelStatus) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// requireStatus rejects actions on a duel outside the given status.
func requireStatus(d *domain.Duel, want domain.DuelStatus) error {
	if d.Status == want {
		return nil
	}
	if d.Status.Terminal() {
		return domain.Detail(domain.ErrDuelClosed, "duel %s is %s", d.ID, d.Status)
	}
	return domain.Detail(domain.ErrWrongPhase, "duel %s is %s, want %s", d.ID, d.Status, want)
}

// transition moves d to a new status inside tx, appending the event and a
// snapshot. It reports false when a concurrent caller already made the move.
func (e *Engine) transition(ctx context.Context, db store.DBTX, d *domain.Duel, to domain.DuelStatus, actor, eventType string) (bool, error) {
	if !IsValidTransition(d.Status, to) {
		return false, domain.Detail(domain.ErrInvalidTransition, "%s -> %s", d.Status, to)
	}
	now := e.Clock.Now().Unix()
	moved, err := e.Duels.Transition(ctx, db, d.ID, d.Status, to, now)
	if err != nil || !moved {
		return false, err
	}
	d.Status = to
	d.StateVersion++
	d.UpdatedAt = now

	if err := e.appendEvent(ctx, db, d.ID, eventType, actor, nil); err != nil {
		return false, err
	}
	return true, e.snapshot(ctx, db, d)
}

// snapshot records the duel as of a status boundary.
func (e *Engine) snapshot(ctx context.Context, db store.DBTX, d *domain.Duel) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal duel snapshot: %w", err)
	}
	return e.Snapshots.Save(ctx, db, domain.DuelSnapshot{
		DuelID:       d.ID,
		Status:       d.Status,
		ChallengerHP: d.ChallengerHP,
		ChallengedHP: d.ChallengedHP,
		SnapshotJSON: string(body),
		CreatedAt:    e.Clock.Now().Unix(),
	})
}
