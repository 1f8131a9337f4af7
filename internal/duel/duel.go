// Package duel runs two-player duels: challenge, task selection, lock-step
// activation, evidence-gated damage and contests.
package duel

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/rogers-f/taskraid/internal/clock"
	"github.com/rogers-f/taskraid/internal/domain"
	"github.com/rogers-f/taskraid/internal/evidence"
	"github.com/rogers-f/taskraid/internal/guard"
	"github.com/rogers-f/taskraid/internal/judge"
	"github.com/rogers-f/taskraid/internal/notify"
	"github.com/rogers-f/taskraid/internal/progression"
	"github.com/rogers-f/taskraid/internal/raid"
	"github.com/rogers-f/taskraid/internal/reward"
	"github.com/rogers-f/taskraid/internal/store"
	"github.com/rogers-f/taskraid/internal/telemetry"
)

// Engine is the duel state machine.
type Engine struct {
	DB         *sql.DB
	Duels      *store.DuelRepo
	Selections *store.SelectionRepo
	Tasks      *store.TaskRepo
	Players    *store.PlayerRepo
	Events     *store.EventRepo
	Snapshots  *store.SnapshotRepo
	Audits     *store.AuditRepo
	Rewards    *reward.Engine
	Raids      *raid.Engine
	Judge      judge.Judge
	Evidence   *evidence.Store
	Guard      *guard.Guard
	Broker     notify.Broker
	Clock      clock.Clock
	Calc       *progression.Calculator
	Logger     *log.Logger

	tracer trace.Tracer
}

// NewEngine creates a duel engine that shares the reward and raid engines'
// database and clock.
func NewEngine(rewards *reward.Engine, raids *raid.Engine, j judge.Judge, ev *evidence.Store, g *guard.Guard, broker notify.Broker, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Engine{
		DB:         rewards.DB,
		Duels:      &store.DuelRepo{},
		Selections: &store.SelectionRepo{},
		Tasks:      &store.TaskRepo{},
		Players:    &store.PlayerRepo{},
		Events:     &store.EventRepo{},
		Snapshots:  &store.SnapshotRepo{},
		Audits:     &store.AuditRepo{},
		Rewards:    rewards,
		Raids:      raids,
		Judge:      j,
		Evidence:   ev,
		Guard:      g,
		Broker:     broker,
		Clock:      rewards.Clock,
		Calc:       rewards.Calc,
		Logger:     logger,
		tracer:     telemetry.Tracer("duel"),
	}
}

// Challenge opens a pending duel between two players with full HP pools.
func (e *Engine) Challenge(ctx context.Context, challengerID, challengedID string) (*domain.Duel, error) {
	if challengerID == "" || challengedID == "" {
		return nil, domain.Detail(domain.ErrInvalidInput, "challenger_id and challenged_id are required")
	}
	if challengerID == challengedID {
		return nil, domain.ErrSelfChallenge
	}

	now := e.Clock.Now().Unix()
	maxHP := e.Calc.Balance().Duel.MaxHP
	d := &domain.Duel{
		ID:           uuid.NewString(),
		ChallengerID: challengerID,
		ChallengedID: challengedID,
		ChallengerHP: maxHP,
		ChallengedHP: maxHP,
		Status:       domain.DuelPending,
		StateVersion: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := store.WithTx(ctx, e.DB, func(tx *sql.Tx) error {
		for _, id := range []string{challengerID, challengedID} {
			if _, err := e.Players.GetByID(ctx, tx, id); err != nil {
				return err
			}
			open, err := e.Duels.HasOpen(ctx, tx, id)
			if err != nil {
				return err
			}
			if open {
				return domain.Detail(domain.ErrAlreadyInDuel, "player %s", id)
			}
		}
		if err := e.Duels.Create(ctx, tx, *d); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, d.ID, "duel_challenged", challengerID, map[string]any{
			"challenged_id": challengedID,
		}); err != nil {
			return err
		}
		return e.snapshot(ctx, tx, d)
	})
	if err != nil {
		return nil, err
	}
	e.publishDuel(ctx, d)
	return d, nil
}

// Accept moves a pending duel into task selection. Only the challenged
// player may accept.
func (e *Engine) Accept(ctx context.Context, duelID, playerID string) (*domain.Duel, error) {
	return e.move(ctx, duelID, playerID, roleChallenged, domain.DuelPending, domain.DuelSelecting, "duel_accepted")
}

// Decline cancels a pending duel on behalf of the challenged player.
func (e *Engine) Decline(ctx context.Context, duelID, playerID string) (*domain.Duel, error) {
	return e.move(ctx, duelID, playerID, roleChallenged, domain.DuelPending, domain.DuelCancelled, "duel_declined")
}

// Cancel withdraws a pending challenge on behalf of the challenger.
func (e *Engine) Cancel(ctx context.Context, duelID, playerID string) (*domain.Duel, error) {
	return e.move(ctx, duelID, playerID, roleChallenger, domain.DuelPending, domain.DuelCancelled, "duel_cancelled")
}

// Withdraw abandons a duel during task selection. Either side may withdraw;
// no HP or rewards change.
func (e *Engine) Withdraw(ctx context.Context, duelID, playerID string) (*domain.Duel, error) {
	return e.move(ctx, duelID, playerID, roleEither, domain.DuelSelecting, domain.DuelCancelled, "duel_withdrawn")
}

type role int

const (
	roleEither role = iota
	roleChallenger
	roleChallenged
)

func (e *Engine) move(ctx context.Context, duelID, playerID string, who role, from, to domain.DuelStatus, eventType string) (*domain.Duel, error) {
	var d *domain.Duel
	err := store.WithTx(ctx, e.DB, func(tx *sql.Tx) error {
		var err error
		d, err = e.participant(ctx, tx, duelID, playerID)
		if err != nil {
			return err
		}
		switch {
		case who == roleChallenger && playerID != d.ChallengerID:
			return domain.Detail(domain.ErrNotParticipant, "only the challenger may %s", eventType)
		case who == roleChallenged && playerID != d.ChallengedID:
			return domain.Detail(domain.ErrNotParticipant, "only the challenged player may %s", eventType)
		}
		if err := requireStatus(d, from); err != nil {
			return err
		}
		moved, err := e.transition(ctx, tx, d, to, playerID, eventType)
		if err != nil {
			return err
		}
		if !moved {
			return domain.Detail(domain.ErrWrongPhase, "duel %s changed concurrently", duelID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.publishDuel(ctx, d)
	return d, nil
}

// Get returns a duel.
func (e *Engine) Get(ctx context.Context, duelID string) (*domain.Duel, error) {
	return e.Duels.GetByID(ctx, e.DB, duelID)
}

// ListForPlayer returns the player's duels, newest first.
func (e *Engine) ListForPlayer(ctx context.Context, playerID string) ([]domain.Duel, error) {
	return e.Duels.ListByPlayer(ctx, e.DB, playerID)
}

// ListSelections returns the duel's selections, optionally for one player.
func (e *Engine) ListSelections(ctx context.Context, duelID, playerID string) ([]domain.DuelSelection, error) {
	if _, err := e.Duels.GetByID(ctx, e.DB, duelID); err != nil {
		return nil, err
	}
	return e.Selections.ListByDuel(ctx, e.DB, duelID, playerID)
}

// History returns the duel's event log after sinceSeq.
func (e *Engine) History(ctx context.Context, duelID string, sinceSeq int64) ([]domain.GameEvent, error) {
	return e.Events.ListByStream(ctx, e.DB, domain.DuelStream(duelID), sinceSeq)
}

// Snapshot returns the duel as it was when it entered status, or nil.
func (e *Engine) Snapshot(ctx context.Context, duelID string, status domain.DuelStatus) (*domain.DuelSnapshot, error) {
	return e.Snapshots.GetLatest(ctx, e.DB, duelID, status)
}

// participant loads a duel and checks that playerID is one of its sides.
func (e *Engine) participant(ctx context.Context, db store.DBTX, duelID, playerID string) (*domain.Duel, error) {
	d, err := e.Duels.GetByID(ctx, db, duelID)
	if err != nil {
		return nil, err
	}
	if d.Opponent(playerID) == "" {
		return nil, domain.Detail(domain.ErrNotParticipant, "player %s in duel %s", playerID, duelID)
	}
	return d, nil
}

func (e *Engine) appendEvent(ctx context.Context, db store.DBTX, duelID, eventType, actor string, payload map[string]any) error {
	body := "{}"
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = string(b)
	}
	_, err := e.Events.Append(ctx, db, domain.GameEvent{
		StreamID:    domain.DuelStream(duelID),
		EventType:   eventType,
		Actor:       actor,
		PayloadJSON: body,
		CreatedAt:   e.Clock.Now().Unix(),
	})
	return err
}

func (e *Engine) publishDuel(ctx context.Context, d *domain.Duel, extra ...string) {
	topics := append([]string{
		domain.DuelStream(d.ID),
		domain.PlayerStream(d.ChallengerID),
		domain.PlayerStream(d.ChallengedID),
	}, extra...)
	if err := notify.PublishAll(ctx, e.Broker, topics...); err != nil {
		e.Logger.Printf("duel: notify %v: %v", topics, err)
	}
}
