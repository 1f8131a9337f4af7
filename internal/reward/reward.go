// Package reward applies progression output to player records.
package reward

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rogers-f/taskraid/internal/clock"
	"github.com/rogers-f/taskraid/internal/domain"
	"github.com/rogers-f/taskraid/internal/progression"
	"github.com/rogers-f/taskraid/internal/store"
	"github.com/rogers-f/taskraid/internal/telemetry"
)

// DefaultRetries bounds how often a unit is replayed after an optimistic lock conflict.
const DefaultRetries = 3

// Applied is what a single operation actually changed on a player, along with
// the resulting level, experience and HP.
type Applied struct {
	PlayerID     string `json:"player_id"`
	XP           int    `json:"xp"`
	Gold         int    `json:"gold"`
	Mana         int    `json:"mana"`
	HP           int    `json:"hp"`
	Trophies     int    `json:"trophies"`
	LevelsGained int    `json:"levels_gained"`
	Level        int    `json:"level"`
	CurrentXP    int    `json:"current_xp"`
	CurrentHP    int    `json:"current_hp"`
}

// Bonus is a fixed grant such as a raid or duel victory payout.
type Bonus struct {
	XP       int
	Gold     int
	Trophies int
}

// Engine reads and writes player records on behalf of the game engines.
type Engine struct {
	DB      *sql.DB
	Players *store.PlayerRepo
	Ledger  *store.LedgerRepo
	Calc    *progression.Calculator
	Clock   clock.Clock
	Retries int

	tracer trace.Tracer
}

// NewEngine creates a reward engine with all dependencies.
func NewEngine(db *sql.DB, calc *progression.Calculator, clk clock.Clock) *Engine {
	return &Engine{
		DB:      db,
		Players: &store.PlayerRepo{},
		Ledger:  &store.LedgerRepo{},
		Calc:    calc,
		Clock:   clk,
		Retries: DefaultRetries,
		tracer:  telemetry.Tracer("reward"),
	}
}

// Run executes fn as one transaction, replaying the whole unit when a
// concurrent writer bumped a state_version underneath it.
func (e *Engine) Run(ctx context.Context, fn func(tx *sql.Tx) error) error {
	attempts := e.Retries
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = store.WithTx(ctx, e.DB, fn)
		if !errors.Is(err, domain.ErrOptimisticLock) {
			return err
		}
	}
	return domain.WrapEngineError(domain.ErrOptimisticLock.Code, "retries exhausted", err)
}

// ApplyCompletion grants the rewards for a completed task.
func (e *Engine) ApplyCompletion(ctx context.Context, playerID string, d domain.Difficulty, source string) (Applied, error) {
	ctx, span := e.tracer.Start(ctx, "reward.ApplyCompletion", trace.WithAttributes(
		attribute.String("player.id", playerID),
		attribute.String("task.difficulty", string(d)),
	))
	defer span.End()

	var out Applied
	err := e.Run(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = e.ApplyCompletionTx(ctx, tx, playerID, d, source)
		return err
	})
	return out, err
}

// ApplyCompletionTx is ApplyCompletion inside the caller's transaction.
func (e *Engine) ApplyCompletionTx(ctx context.Context, db store.DBTX, playerID string, d domain.Difficulty, source string) (Applied, error) {
	if !d.IsValid() {
		return Applied{}, domain.Detail(domain.ErrInvalidDifficulty, "%q", d)
	}
	p, err := e.Players.GetByID(ctx, db, playerID)
	if err != nil {
		return Applied{}, err
	}

	gain := e.Calc.Completion(d, p.Attributes())
	p.Gold += gain.Gold
	mana := max(0, min(p.CurrentMana+gain.Mana, p.MaxMana)-p.CurrentMana)
	p.CurrentMana += mana

	levels := e.grantXP(p, gain.XP)
	return e.commit(ctx, db, p, source, Applied{XP: gain.XP, Gold: gain.Gold, Mana: mana, LevelsGained: levels})
}

// ApplyFailure charges the HP damage for a failed task.
func (e *Engine) ApplyFailure(ctx context.Context, playerID string, d domain.Difficulty, source string) (Applied, error) {
	var out Applied
	err := e.Run(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = e.ApplyFailureTx(ctx, tx, playerID, d, source)
		return err
	})
	return out, err
}

// ApplyFailureTx is ApplyFailure inside the caller's transaction.
func (e *Engine) ApplyFailureTx(ctx context.Context, db store.DBTX, playerID string, d domain.Difficulty, source string) (Applied, error) {
	if !d.IsValid() {
		return Applied{}, domain.Detail(domain.ErrInvalidDifficulty, "%q", d)
	}
	p, err := e.Players.GetByID(ctx, db, playerID)
	if err != nil {
		return Applied{}, err
	}
	dmg := e.Calc.Damage(d, p.Attributes())
	lost := min(dmg, p.CurrentHP)
	p.CurrentHP -= lost
	return e.commit(ctx, db, p, source, Applied{HP: -lost})
}

// ApplyDamage removes hp from a player, flooring at zero.
func (e *Engine) ApplyDamage(ctx context.Context, playerID string, hp int, source string) (Applied, error) {
	var out Applied
	err := e.Run(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = e.ApplyDamageTx(ctx, tx, playerID, hp, source)
		return err
	})
	return out, err
}

// ApplyDamageTx is ApplyDamage inside the caller's transaction.
func (e *Engine) ApplyDamageTx(ctx context.Context, db store.DBTX, playerID string, hp int, source string) (Applied, error) {
	if hp < 0 {
		return Applied{}, domain.Detail(domain.ErrInvalidInput, "damage must be >= 0, got %d", hp)
	}
	p, err := e.Players.GetByID(ctx, db, playerID)
	if err != nil {
		return Applied{}, err
	}
	lost := min(hp, p.CurrentHP)
	p.CurrentHP -= lost
	return e.commit(ctx, db, p, source, Applied{HP: -lost})
}

// ApplyDamageFractionTx removes ceil(maxHP*fraction) from a player.
func (e *Engine) ApplyDamageFractionTx(ctx context.Context, db store.DBTX, playerID string, fraction float64, source string) (Applied, error) {
	p, err := e.Players.GetByID(ctx, db, playerID)
	if err != nil {
		return Applied{}, err
	}
	lost := min(progression.Fraction(p.MaxHP, fraction), p.CurrentHP)
	p.CurrentHP -= lost
	return e.commit(ctx, db, p, source, Applied{HP: -lost})
}

// Heal restores ceil(maxHP*fraction), capped at max HP.
func (e *Engine) Heal(ctx context.Context, playerID string, fraction float64, source string) (Applied, error) {
	var out Applied
	err := e.Run(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = e.HealTx(ctx, tx, playerID, fraction, source)
		return err
	})
	return out, err
}

// HealTx is Heal inside the caller's transaction.
func (e *Engine) HealTx(ctx context.Context, db store.DBTX, playerID string, fraction float64, source string) (Applied, error) {
	p, err := e.Players.GetByID(ctx, db, playerID)
	if err != nil {
		return Applied{}, err
	}
	healed := min(progression.Fraction(p.MaxHP, fraction), p.MaxHP-p.CurrentHP)
	p.CurrentHP += healed
	return e.commit(ctx, db, p, source, Applied{HP: healed})
}

// ApplyBonus grants a fixed payout, resolving any level-ups it causes.
func (e *Engine) ApplyBonus(ctx context.Context, playerID string, b Bonus, source string) (Applied, error) {
	var out Applied
	err := e.Run(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = e.ApplyBonusTx(ctx, tx, playerID, b, source)
		return err
	})
	return out, err
}

// ApplyBonusTx is ApplyBonus inside the caller's transaction.
func (e *Engine) ApplyBonusTx(ctx context.Context, db store.DBTX, playerID string, b Bonus, source string) (Applied, error) {
	if b.XP < 0 || b.Gold < 0 || b.Trophies < 0 {
		return Applied{}, domain.Detail(domain.ErrInvalidInput, "bonus values must be >= 0")
	}
	p, err := e.Players.GetByID(ctx, db, playerID)
	if err != nil {
		return Applied{}, err
	}
	p.Gold += b.Gold
	p.Trophies += b.Trophies
	levels := e.grantXP(p, b.XP)
	return e.commit(ctx, db, p, source, Applied{XP: b.XP, Gold: b.Gold, Trophies: b.Trophies, LevelsGained: levels})
}

// ApplyPenalty takes gold and HP from a player, flooring both at zero.
func (e *Engine) ApplyPenalty(ctx context.Context, playerID string, gold, hp int, source string) (Applied, error) {
	var out Applied
	err := e.Run(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = e.ApplyPenaltyTx(ctx, tx, playerID, gold, hp, source)
		return err
	})
	return out, err
}

// ApplyPenaltyTx is ApplyPenalty inside the caller's transaction.
func (e *Engine) ApplyPenaltyTx(ctx context.Context, db store.DBTX, playerID string, gold, hp int, source string) (Applied, error) {
	if gold < 0 || hp < 0 {
		return Applied{}, domain.Detail(domain.ErrInvalidInput, "penalty values must be >= 0")
	}
	p, err := e.Players.GetByID(ctx, db, playerID)
	if err != nil {
		return Applied{}, err
	}
	goldLost := min(gold, p.Gold)
	hpLost := min(hp, p.CurrentHP)
	p.Gold -= goldLost
	p.CurrentHP -= hpLost
	return e.commit(ctx, db, p, source, Applied{Gold: -goldLost, HP: -hpLost})
}

// grantXP banks xp on p and replays level-up side effects: attribute points
// and a full HP and mana restore per level gained.
func (e *Engine) grantXP(p *domain.Player, xp int) int {
	level, rest, gained := progression.ProcessLevelUp(p.Level, p.CurrentXP+xp)
	p.Level = level
	p.CurrentXP = rest
	if gained > 0 {
		b := e.Calc.Balance()
		p.PointsToAssign += gained * b.PointsPerLevel
		p.MaxMana = e.Calc.MaxMana(p.Intelligence)
		p.CurrentHP = p.MaxHP
		p.CurrentMana = p.MaxMana
	}
	return gained
}

func (e *Engine) commit(ctx context.Context, db store.DBTX, p *domain.Player, source string, out Applied) (Applied, error) {
	now := e.Clock.Now().Unix()
	p.UpdatedAt = now
	if err := e.Players.Update(ctx, db, p); err != nil {
		return Applied{}, err
	}

	delta := domain.RewardDelta{
		PlayerID:     p.ID,
		Source:       source,
		XP:           out.XP,
		Gold:         out.Gold,
		Mana:         out.Mana,
		HP:           out.HP,
		Trophies:     out.Trophies,
		LevelsGained: out.LevelsGained,
		CreatedAt:    now,
	}
	if err := e.Ledger.Create(ctx, db, delta); err != nil {
		return Applied{}, fmt.Errorf("record reward: %w", err)
	}

	out.PlayerID = p.ID
	out.Level = p.Level
	out.CurrentXP = p.CurrentXP
	out.CurrentHP = p.CurrentHP
	return out, nil
}
