package duel

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rogers-f/taskraid/internal/domain"
	"github.com/rogers-f/taskraid/internal/judge"
	"github.com/rogers-f/taskraid/internal/raid"
	"github.com/rogers-f/taskraid/internal/reward"
	"github.com/rogers-f/taskraid/internal/store"
)

// Submission is a player's evidence for one locked selection.
type Submission struct {
	DuelID      string
	PlayerID    string
	SelectionID string
	Image       []byte
	ContentType string
}

// Result is what an accepted submission changed.
type Result struct {
	Selection  *domain.DuelSelection `json:"selection"`
	Damage     int                   `json:"damage"`
	OpponentHP int                   `json:"opponent_hp"`
	Reward     reward.Applied        `json:"reward"`
	RaidHit    *raid.Hit             `json:"raid_hit,omitempty"`
	Completed  bool                  `json:"completed"`
	WinnerID   string                `json:"winner_id,omitempty"`
}

// SubmitEvidence completes a duel-bound task. The judge runs first and a
// rejection persists nothing but an audit record. An accepted submission
// completes the selection and task, pays the task rewards, damages the
// opponent, forwards raid damage and settles victory in one transaction.
func (e *Engine) SubmitEvidence(ctx context.Context, sub Submission) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "duel.SubmitEvidence", trace.WithAttributes(
		attribute.String("duel.id", sub.DuelID),
		attribute.String("player.id", sub.PlayerID),
	))
	defer span.End()

	if err := e.Guard.CheckRateLimit("evidence:" + sub.PlayerID); err != nil {
		return nil, err
	}

	d, sel, task, err := e.loadSubmission(ctx, e.DB, sub)
	if err != nil {
		return nil, err
	}

	verdict, err := e.Judge.Judge(ctx, judge.Evidence{
		Image:           sub.Image,
		ContentType:     sub.ContentType,
		TaskTitle:       task.Title,
		TaskDescription: task.Description,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !verdict.Approved {
		if err := e.audit(ctx, e.DB, sel.ID, "evidence", sub.PlayerID, "rejected", sub, verdict, "info"); err != nil {
			e.Logger.Printf("duel %s: audit rejection: %v", d.ID, err)
		}
		return nil, domain.Detail(domain.ErrEvidenceRejected, "%s", verdict.Reason)
	}

	key, err := e.Evidence.Save(ctx, d.ID, sub.Image, sub.ContentType)
	if err != nil {
		return nil, err
	}

	var res *Result
	err = e.Rewards.Run(ctx, func(tx *sql.Tx) error {
		var err error
		res, err = e.applyAccepted(ctx, tx, sub, key, verdict)
		return err
	})
	if err != nil {
		if derr := e.Evidence.Delete(ctx, key); derr != nil {
			e.Logger.Printf("duel %s: remove orphaned evidence %s: %v", d.ID, key, derr)
		}
		span.RecordError(err)
		return nil, err
	}

	var extra []string
	if res.RaidHit != nil {
		extra = append(extra, domain.RaidStream(res.RaidHit.RaidID))
	}
	e.publishDuel(ctx, d, extra...)
	return res, nil
}

// loadSubmission checks that the selection can take evidence right now.
func (e *Engine) loadSubmission(ctx context.Context, db store.DBTX, sub Submission) (*domain.Duel, *domain.DuelSelection, *domain.Task, error) {
	d, err := e.participant(ctx, db, sub.DuelID, sub.PlayerID)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := requireStatus(d, domain.DuelActive); err != nil {
		return nil, nil, nil, err
	}
	sel, err := e.Selections.GetByID(ctx, db, sub.SelectionID)
	if err != nil {
		return nil, nil, nil, err
	}
	if sel.DuelID != d.ID || sel.PlayerID != sub.PlayerID {
		return nil, nil, nil, domain.ErrSelectionNotFound
	}
	if !sel.Locked {
		return nil, nil, nil, domain.Detail(domain.ErrWrongPhase, "selection %s is not locked", sel.ID)
	}
	if sel.Completed {
		return nil, nil, nil, domain.Detail(domain.ErrTaskFinished, "selection %s", sel.ID)
	}
	task, err := e.Tasks.GetByID(ctx, db, sel.TaskID)
	if err != nil {
		return nil, nil, nil, err
	}
	return d, sel, task, nil
}

func (e *Engine) applyAccepted(ctx context.Context, tx *sql.Tx, sub Submission, key string, verdict judge.Verdict) (*Result, error) {
	d, sel, task, err := e.loadSubmission(ctx, tx, sub)
	if err != nil {
		return nil, err
	}
	now := e.Clock.Now().Unix()
	bal := e.Calc.Balance().Duel
	res := &Result{Damage: int(bal.Damage.Of(sel.Difficulty))}

	if err := e.Selections.MarkCompleted(ctx, tx, sel.ID, key, res.Damage); err != nil {
		return nil, err
	}
	if err := e.Tasks.MarkFinished(ctx, tx, task.ID, domain.TaskCompleted, now); err != nil {
		return nil, err
	}
	res.Reward, err = e.Rewards.ApplyCompletionTx(ctx, tx, sub.PlayerID, sel.Difficulty, "duel_task:"+sel.ID)
	if err != nil {
		return nil, err
	}

	opponent := d.Opponent(sub.PlayerID)
	res.OpponentHP, err = e.Duels.ApplyDamage(ctx, tx, d, opponent, res.Damage, now)
	if err != nil {
		return nil, err
	}
	if err := e.appendEvent(ctx, tx, d.ID, "evidence_accepted", sub.PlayerID, map[string]any{
		"selection_id": sel.ID,
		"damage":       res.Damage,
		"target":       opponent,
		"target_hp":    res.OpponentHP,
	}); err != nil {
		return nil, err
	}

	res.RaidHit, err = e.Raids.CompletionHitTx(ctx, tx, sub.PlayerID, float64(res.Damage)*bal.RaidFanoutFraction)
	if err != nil {
		return nil, err
	}

	if res.OpponentHP == 0 {
		won, err := e.Duels.Complete(ctx, tx, d.ID, sub.PlayerID, now)
		if err != nil {
			return nil, err
		}
		if won {
			if err := e.finish(ctx, tx, d.ID, sub.PlayerID); err != nil {
				return nil, err
			}
			res.Completed = true
			res.WinnerID = sub.PlayerID
		}
	}

	if err := e.audit(ctx, tx, sel.ID, "evidence", sub.PlayerID, "approved", sub, verdict, "info"); err != nil {
		return nil, err
	}

	res.Selection, err = e.Selections.GetByID(ctx, tx, sel.ID)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// finish pays the winner and records the completed duel.
func (e *Engine) finish(ctx context.Context, tx *sql.Tx, duelID, winnerID string) error {
	bal := e.Calc.Balance().Duel
	bonus := reward.Bonus{XP: bal.VictoryXP, Gold: bal.VictoryGold, Trophies: bal.VictoryTrophies}
	if _, err := e.Rewards.ApplyBonusTx(ctx, tx, winnerID, bonus, "duel_victory:"+duelID); err != nil {
		return err
	}
	d, err := e.Duels.GetByID(ctx, tx, duelID)
	if err != nil {
		return err
	}
	if err := e.appendEvent(ctx, tx, duelID, "duel_completed", winnerID, map[string]any{
		"winner_id": winnerID,
	}); err != nil {
		return err
	}
	e.Logger.Printf("duel %s: %s won", duelID, winnerID)
	return e.snapshot(ctx, tx, d)
}

// Contest flags an opponent's completed selection for manual review. Damage
// and completion stay as they are.
func (e *Engine) Contest(ctx context.Context, duelID, playerID, selectionID, reason string) (*domain.DuelSelection, error) {
	if reason == "" {
		return nil, domain.Detail(domain.ErrInvalidInput, "a contest needs a reason")
	}
	var d *domain.Duel
	var sel *domain.DuelSelection
	err := store.WithTx(ctx, e.DB, func(tx *sql.Tx) error {
		var err error
		d, err = e.participant(ctx, tx, duelID, playerID)
		if err != nil {
			return err
		}
		if d.Status != domain.DuelActive && d.Status != domain.DuelCompleted {
			return domain.Detail(domain.ErrWrongPhase, "duel %s is %s", duelID, d.Status)
		}
		sel, err = e.Selections.GetByID(ctx, tx, selectionID)
		if err != nil {
			return err
		}
		if sel.DuelID != duelID {
			return domain.ErrSelectionNotFound
		}
		if sel.PlayerID != d.Opponent(playerID) {
			return domain.Detail(domain.ErrInvalidInput, "only the opponent's selections can be contested")
		}
		if !sel.Completed {
			return domain.Detail(domain.ErrInvalidInput, "selection %s has no accepted evidence", selectionID)
		}
		if err := e.Selections.MarkContested(ctx, tx, selectionID, reason); err != nil {
			return err
		}
		sel.Contested = true
		sel.ContestReason = reason

		if err := e.audit(ctx, tx, selectionID, "contest", playerID, "contested",
			map[string]string{"reason": reason}, map[string]string{"status": "pending_review"}, "review"); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, duelID, "selection_contested", playerID, map[string]any{
			"selection_id": selectionID,
			"reason":       reason,
		})
	})
	if err != nil {
		return nil, err
	}
	e.publishDuel(ctx, d)
	return sel, nil
}

// AuditTrail returns the audit records for a selection.
func (e *Engine) AuditTrail(ctx context.Context, selectionID string) ([]domain.AuditRecord, error) {
	return e.Audits.ListBySubject(ctx, e.DB, selectionID)
}

func (e *Engine) audit(ctx context.Context, db store.DBTX, subjectID, category, actor, action string, request, decision any, severity string) error {
	if sub, ok := request.(Submission); ok {
		request = map[string]any{
			"duel_id":      sub.DuelID,
			"selection_id": sub.SelectionID,
			"content_type": sub.ContentType,
			"image_bytes":  len(sub.Image),
		}
	}
	req, err := json.Marshal(request)
	if err != nil {
		return err
	}
	dec, err := json.Marshal(decision)
	if err != nil {
		return err
	}
	return e.Audits.Record(ctx, db, domain.AuditRecord{
		ID:           uuid.NewString(),
		SubjectID:    subjectID,
		Category:     category,
		Actor:        actor,
		Action:       action,
		RequestJSON:  string(req),
		DecisionJSON: string(dec),
		Severity:     severity,
		CreatedAt:    e.Clock.Now().Unix(),
	})
}
