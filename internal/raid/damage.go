package raid

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rogers-f/taskraid/internal/domain"
	"github.com/rogers-f/taskraid/internal/progression"
	"github.com/rogers-f/taskraid/internal/reward"
	"github.com/rogers-f/taskraid/internal/store"
)

// Hit is the outcome of one damage instance against a boss.
type Hit struct {
	RaidID   string       `json:"raid_id"`
	PlayerID string       `json:"player_id"`
	Base     float64      `json:"base"`
	Damage   int          `json:"damage"`
	BossHP   int          `json:"boss_hp"`
	Stunned  bool         `json:"stunned"`
	Bonus    bool         `json:"bonus"`
	Victory  bool         `json:"victory"`
	Closed   bool         `json:"closed,omitempty"`
	Skill    *SkillEffect `json:"skill,omitempty"`
}

// SkillEffect describes a class skill fired by a hit.
type SkillEffect struct {
	Kind   progression.SkillKind `json:"kind"`
	Hit    *Hit                  `json:"hit,omitempty"`
	Healed map[string]int        `json:"healed,omitempty"`
}

// DealDamage applies one contribution from a member against the boss. Failed
// writes are returned to the caller and never retried here. A hit that lands
// after another member's killing blow comes back as a zero-damage Hit marked
// Closed.
func (e *Engine) DealDamage(ctx context.Context, raidID, playerID string, base float64) (*Hit, error) {
	ctx, span := e.tracer.Start(ctx, "raid.DealDamage", trace.WithAttributes(
		attribute.String("raid.id", raidID),
		attribute.String("player.id", playerID),
	))
	defer span.End()

	var hit *Hit
	err := store.WithTx(ctx, e.DB, func(tx *sql.Tx) error {
		var err error
		hit, err = e.DealDamageTx(ctx, tx, raidID, playerID, base, false)
		return err
	})
	if errors.Is(err, domain.ErrRaidClosed) {
		if late, lerr := e.lateHit(ctx, raidID, playerID, base); lerr != nil || late != nil {
			return late, lerr
		}
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	e.publish(ctx, domain.RaidStream(raidID), domain.PlayerStream(playerID))
	return hit, nil
}

// lateHit returns a Closed hit when raidID was already won. It returns nil for
// a raid that failed, leaving the caller's ErrRaidClosed in place.
func (e *Engine) lateHit(ctx context.Context, raidID, playerID string, base float64) (*Hit, error) {
	raid, err := e.Raids.GetByID(ctx, e.DB, raidID)
	if err != nil {
		return nil, err
	}
	if raid.Status != domain.RaidVictory {
		return nil, nil
	}
	e.Logger.Printf("raid %s: hit from %s landed after victory", raidID, playerID)
	return &Hit{RaidID: raidID, PlayerID: playerID, Base: base, BossHP: raid.BossCurrentHP, Closed: true}, nil
}

// DealDamageTx is DealDamage inside the caller's transaction. Bonus hits skip
// the class-skill counter so a skill can never trigger another skill.
func (e *Engine) DealDamageTx(ctx context.Context, db store.DBTX, raidID, playerID string, base float64, bonus bool) (*Hit, error) {
	if base < 0 || math.IsNaN(base) || math.IsInf(base, 0) {
		return nil, domain.Detail(domain.ErrInvalidInput, "base damage must be a finite value >= 0")
	}
	now := e.Clock.Now()
	raid, err := e.activeRaid(ctx, db, raidID, now)
	if err != nil {
		return nil, err
	}
	member, err := e.Members.Get(ctx, db, raidID, playerID)
	if err != nil {
		return nil, err
	}
	if member.LeftAt != 0 {
		return nil, domain.Detail(domain.ErrMemberNotFound, "player %s left raid %s", playerID, raidID)
	}
	player, err := e.Players.GetByID(ctx, db, playerID)
	if err != nil {
		return nil, err
	}

	rb := e.Calc.Balance().Raid
	hit := &Hit{RaidID: raidID, PlayerID: playerID, Base: base, Bonus: bonus}
	hit.Damage = e.Calc.RaidHit(base, player.Level)
	if raid.Stunned(now.Unix()) {
		hit.Stunned = true
		hit.Damage = int(math.Ceil(float64(hit.Damage)*rb.StunMultiplier - 1e-9))
	}

	hit.BossHP, err = e.Raids.ApplyBossDamage(ctx, db, raidID, hit.Damage, now.Unix())
	if err != nil {
		return nil, err
	}
	if err := e.Members.AddDamage(ctx, db, raidID, playerID, hit.Damage); err != nil {
		return nil, err
	}
	if err := e.appendEvent(ctx, db, raidID, "boss_damaged", playerID, map[string]any{
		"base":    base,
		"damage":  hit.Damage,
		"boss_hp": hit.BossHP,
		"stunned": hit.Stunned,
		"bonus":   bonus,
	}); err != nil {
		return nil, err
	}

	// Every non-bonus contribution counts, the killing blow included.
	fire := false
	if !bonus {
		counter := member.TaskCounter + 1
		if counter >= rb.SkillEvery {
			counter, fire = 0, true
		}
		if err := e.Members.SetTaskCounter(ctx, db, raidID, playerID, counter); err != nil {
			return nil, err
		}
	}

	if hit.BossHP == 0 {
		hit.Victory, err = e.finishVictory(ctx, db, raid)
		return hit, err
	}
	if !fire {
		return hit, nil
	}
	hit.Skill, err = e.fireSkill(ctx, db, raid, player, base)
	if err != nil {
		return nil, err
	}
	if hit.Skill.Hit != nil {
		hit.BossHP = hit.Skill.Hit.BossHP
		hit.Victory = hit.Skill.Hit.Victory
	}
	return hit, nil
}

// fireSkill runs the player's class skill once.
func (e *Engine) fireSkill(ctx context.Context, db store.DBTX, raid *domain.Raid, player *domain.Player, base float64) (*SkillEffect, error) {
	skill := e.Calc.Balance().Class(player.Class).RaidSkill
	effect := &SkillEffect{Kind: skill.Kind}

	switch skill.Kind {
	case progression.SkillHeal:
		members, err := e.Members.ListActive(ctx, db, raid.ID)
		if err != nil {
			return nil, err
		}
		effect.Healed = make(map[string]int, len(members))
		for _, m := range members {
			out, err := e.Rewards.HealTx(ctx, db, m.PlayerID, skill.Fraction, "raid_skill:"+raid.ID)
			if err != nil {
				return nil, err
			}
			effect.Healed[m.PlayerID] = out.HP
		}
		if err := e.appendEvent(ctx, db, raid.ID, "class_skill", player.ID, map[string]any{
			"class":  player.Class,
			"kind":   skill.Kind,
			"healed": effect.Healed,
		}); err != nil {
			return nil, err
		}
	case progression.SkillDamage:
		if err := e.appendEvent(ctx, db, raid.ID, "class_skill", player.ID, map[string]any{
			"class":    player.Class,
			"kind":     skill.Kind,
			"fraction": skill.Fraction,
		}); err != nil {
			return nil, err
		}
		hit, err := e.DealDamageTx(ctx, db, raid.ID, player.ID, base*skill.Fraction, true)
		if err != nil {
			return nil, err
		}
		effect.Hit = hit
	default:
		return nil, fmt.Errorf("class %s: unknown raid skill %q", player.Class, skill.Kind)
	}
	return effect, nil
}

// finishVictory closes the raid and pays every current member. Only the
// caller whose transition lands pays out.
func (e *Engine) finishVictory(ctx context.Context, db store.DBTX, raid *domain.Raid) (bool, error) {
	won, err := e.Raids.MarkVictory(ctx, db, raid.ID, e.Clock.Now().Unix())
	if err != nil || !won {
		return false, err
	}

	rb := e.Calc.Balance().Raid
	members, err := e.Members.ListActive(ctx, db, raid.ID)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if _, err := e.Rewards.ApplyBonusTx(ctx, db, m.PlayerID, reward.Bonus{XP: rb.VictoryXP, Gold: rb.VictoryGold}, "raid_victory:"+raid.ID); err != nil {
			return false, err
		}
	}
	if err := e.appendEvent(ctx, db, raid.ID, "raid_victory", "", map[string]any{
		"members": len(members),
		"gold":    rb.VictoryGold,
		"xp":      rb.VictoryXP,
	}); err != nil {
		return false, err
	}
	e.Logger.Printf("raid %s: %s defeated, %d members paid", raid.ID, raid.BossName, len(members))
	return true, nil
}

// OnTaskCompletedTx forwards a completed task to the player's active raid, if
// any, with the difficulty's base damage. It returns nil when the player is
// not in a raid.
func (e *Engine) OnTaskCompletedTx(ctx context.Context, db store.DBTX, playerID string, d domain.Difficulty) (*Hit, error) {
	base := e.Calc.Balance().Raid.BaseDamage.Of(d)
	if base <= 0 {
		return nil, domain.Detail(domain.ErrInvalidDifficulty, "%q", d)
	}
	return e.CompletionHitTx(ctx, db, playerID, base)
}

// CompletionHitTx deals base damage for one completed task to the player's
// active raid and drains the boss charge. Ordinary completions and duel
// completions both land here. It returns nil when the player is not in a
// raid or the raid closed underneath the completion.
func (e *Engine) CompletionHitTx(ctx context.Context, db store.DBTX, playerID string, base float64) (*Hit, error) {
	raidID, err := e.Members.ActiveRaidID(ctx, db, playerID)
	if err != nil || raidID == "" {
		return nil, err
	}

	hit, err := e.DealDamageTx(ctx, db, raidID, playerID, base, false)
	if err != nil {
		if errors.Is(err, domain.ErrRaidClosed) {
			return nil, nil
		}
		return nil, err
	}
	if hit.Victory {
		return hit, nil
	}
	if err := e.drainCharge(ctx, db, raidID, playerID); err != nil {
		return nil, err
	}
	return hit, nil
}

// drainCharge lowers the boss charge for one completed task and stuns the boss
// when the drop empties the bar.
func (e *Engine) drainCharge(ctx context.Context, db store.DBTX, raidID, playerID string) error {
	now := e.Clock.Now()
	raid, err := e.Raids.GetByID(ctx, db, raidID)
	if err != nil {
		return err
	}
	if _, err := e.accrueCharge(ctx, db, raid, now); err != nil {
		return err
	}

	rb := e.Calc.Balance().Raid
	before := raid.ChargeBar
	raid.ChargeBar = math.Max(0, raid.ChargeBar-rb.ChargePerTask)
	if before > 0 && raid.ChargeBar == 0 {
		raid.StunnedUntil = now.Add(hours(rb.StunHours)).Unix()
		if err := e.appendEvent(ctx, db, raidID, "boss_stunned", playerID, map[string]any{
			"until": raid.StunnedUntil,
		}); err != nil {
			return err
		}
		e.Logger.Printf("raid %s: boss stunned until %d", raidID, raid.StunnedUntil)
	}
	raid.UpdatedAt = now.Unix()
	return e.Raids.UpdateState(ctx, db, raid)
}
