package raid

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rogers-f/taskraid/internal/clock"
	"github.com/rogers-f/taskraid/internal/domain"
	"github.com/rogers-f/taskraid/internal/store"
)

// TickResult reports the timed effects evaluated by Tick.
type TickResult struct {
	Raid      *domain.Raid `json:"raid"`
	Failed    bool         `json:"failed"`
	Supernova bool         `json:"supernova"`
	Crit      *CritResult  `json:"crit,omitempty"`
}

// CritResult is the outcome of one boss crit roll.
type CritResult struct {
	Fired  bool           `json:"fired"`
	Skill  string         `json:"skill,omitempty"`
	Damage map[string]int `json:"damage,omitempty"`
}

// SweepResult is the outcome of a member's daily overdue sweep.
type SweepResult struct {
	Ran         bool     `json:"ran"`
	FailedTasks []string `json:"failed_tasks,omitempty"`
	HPLost      int      `json:"hp_lost"`
}

// Tick evaluates the raid's time-based effects against the clock: deadline
// expiry, charge accrual with its supernova, then a crit roll.
func (e *Engine) Tick(ctx context.Context, raidID string) (*TickResult, error) {
	ctx, span := e.tracer.Start(ctx, "raid.Tick")
	defer span.End()

	now := e.Clock.Now()
	res := &TickResult{}
	active := false
	err := store.WithTx(ctx, e.DB, func(tx *sql.Tx) error {
		raid, err := e.Raids.GetByID(ctx, tx, raidID)
		if err != nil {
			return err
		}
		if raid.Status != domain.RaidActive {
			return nil
		}
		if now.Unix() >= raid.Deadline {
			failed, err := e.Raids.MarkFailed(ctx, tx, raidID, now.Unix())
			if err != nil || !failed {
				return err
			}
			res.Failed = true
			e.Logger.Printf("raid %s: deadline passed with boss at %d/%d", raidID, raid.BossCurrentHP, raid.BossMaxHP)
			return e.appendEvent(ctx, tx, raidID, "raid_failed", "", map[string]any{
				"boss_hp": raid.BossCurrentHP,
			})
		}
		active = true
		res.Supernova, err = e.accrueCharge(ctx, tx, raid, now)
		if err != nil {
			return err
		}
		raid.UpdatedAt = now.Unix()
		return e.Raids.UpdateState(ctx, tx, raid)
	})
	if err != nil {
		return nil, err
	}
	if res.Failed || res.Supernova {
		e.publish(ctx, domain.RaidStream(raidID))
	}

	if active {
		crit, err := e.TriggerBossRandomCrit(ctx, raidID)
		switch {
		case errors.Is(err, domain.ErrCheckInProgress):
		case err != nil:
			return nil, err
		default:
			res.Crit = crit
		}
	}

	res.Raid, err = e.Raids.GetByID(ctx, e.DB, raidID)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// TriggerBossRandomCrit rolls the boss's crit once. A fired crit hits every
// member for a fraction of their max HP. Crits are capped per UTC day and a
// concurrent roll for the same raid fails with ErrCheckInProgress.
func (e *Engine) TriggerBossRandomCrit(ctx context.Context, raidID string) (*CritResult, error) {
	release, ok := e.Guard.TryAcquire("crit:" + raidID)
	if !ok {
		return nil, domain.Detail(domain.ErrCheckInProgress, "crit roll for raid %s", raidID)
	}
	defer release()

	now := e.Clock.Now()
	rb := e.Calc.Balance().Raid
	res := &CritResult{}
	err := store.WithTx(ctx, e.DB, func(tx *sql.Tx) error {
		res.Fired, res.Damage = false, nil
		raid, err := e.activeRaid(ctx, tx, raidID, now)
		if err != nil {
			return err
		}
		res.Skill = raid.BossSkill

		dirty := false
		if !clock.SameDay(raid.LastCritResetDate, now) {
			raid.DailyCritCount = 0
			raid.LastCritResetDate = clock.DayKey(now)
			dirty = true
		}
		if raid.DailyCritCount < rb.CritDailyCap && e.Roll() < rb.CritChance {
			raid.DailyCritCount++
			dirty = true
			res.Fired = true
			res.Damage, err = e.hitMembers(ctx, tx, raidID, rb.CritFraction, "raid_crit:"+raidID)
			if err != nil {
				return err
			}
			if err := e.appendEvent(ctx, tx, raidID, "boss_crit", "", map[string]any{
				"skill":  raid.BossSkill,
				"damage": res.Damage,
				"count":  raid.DailyCritCount,
			}); err != nil {
				return err
			}
		}
		if !dirty {
			return nil
		}
		raid.UpdatedAt = now.Unix()
		return e.Raids.UpdateState(ctx, tx, raid)
	})
	if err != nil {
		return nil, err
	}
	if res.Fired {
		e.Logger.Printf("raid %s: boss used %q on %d members", raidID, res.Skill, len(res.Damage))
		e.publish(ctx, domain.RaidStream(raidID))
	}
	return res, nil
}

// CheckDailyOverdueSweep fails the member's pending tasks created before today
// and charges the boss's damage for each. It runs at most once per member per
// UTC day.
func (e *Engine) CheckDailyOverdueSweep(ctx context.Context, raidID, playerID string) (*SweepResult, error) {
	now := e.Clock.Now()
	res := &SweepResult{}
	err := store.WithTx(ctx, e.DB, func(tx *sql.Tx) error {
		*res = SweepResult{}
		raid, err := e.activeRaid(ctx, tx, raidID, now)
		if err != nil {
			return err
		}
		if _, err := e.Members.Get(ctx, tx, raidID, playerID); err != nil {
			return err
		}
		claimed, err := e.Members.ClaimDailyCheck(ctx, tx, raidID, playerID, clock.DayKey(now))
		if err != nil || !claimed {
			return err
		}
		res.Ran = true

		stale, err := e.Tasks.ListStale(ctx, tx, playerID, clock.StartOfDay(now).Unix())
		if err != nil {
			return err
		}
		for _, t := range stale {
			if err := e.Tasks.MarkFinished(ctx, tx, t.ID, domain.TaskFailed, now.Unix()); err != nil {
				return err
			}
			out, err := e.Rewards.ApplyDamageTx(ctx, tx, playerID, raid.BossDamage, "raid_overdue:"+t.ID)
			if err != nil {
				return err
			}
			res.FailedTasks = append(res.FailedTasks, t.ID)
			res.HPLost -= out.HP
		}
		if len(stale) == 0 {
			return nil
		}
		return e.appendEvent(ctx, tx, raidID, "overdue_sweep", playerID, map[string]any{
			"tasks":   res.FailedTasks,
			"hp_lost": res.HPLost,
		})
	})
	if err != nil {
		return nil, err
	}
	if len(res.FailedTasks) > 0 {
		e.Logger.Printf("raid %s: overdue sweep failed %d tasks for %s", raidID, len(res.FailedTasks), playerID)
		e.publish(ctx, domain.RaidStream(raidID), domain.PlayerStream(playerID))
	}
	return res, nil
}

// accrueCharge advances the boss charge for the time elapsed since its last
// update and unleashes the supernova when the bar fills. The caller persists
// raid.
func (e *Engine) accrueCharge(ctx context.Context, db store.DBTX, raid *domain.Raid, now time.Time) (bool, error) {
	rb := e.Calc.Balance().Raid
	window := hours(rb.ChargeWindowHours)
	elapsed := now.Unix() - raid.ChargeUpdatedAt
	if window <= 0 || elapsed <= 0 {
		return false, nil
	}
	raid.ChargeBar += 100 * float64(elapsed) / window.Seconds()
	raid.ChargeUpdatedAt = now.Unix()
	if raid.ChargeBar < 100 {
		return false, nil
	}

	raid.ChargeBar = 0
	damage, err := e.hitMembers(ctx, db, raid.ID, rb.SupernovaFraction, "raid_supernova:"+raid.ID)
	if err != nil {
		return false, err
	}
	if err := e.appendEvent(ctx, db, raid.ID, "supernova", "", map[string]any{
		"damage": damage,
	}); err != nil {
		return false, err
	}
	e.Logger.Printf("raid %s: supernova hit %d members", raid.ID, len(damage))
	return true, nil
}

// hitMembers deals a fraction of max HP to every current member and returns
// the HP each one lost.
func (e *Engine) hitMembers(ctx context.Context, db store.DBTX, raidID string, fraction float64, source string) (map[string]int, error) {
	members, err := e.Members.ListActive(ctx, db, raidID)
	if err != nil {
		return nil, err
	}
	lost := make(map[string]int, len(members))
	for _, m := range members {
		out, err := e.Rewards.ApplyDamageFractionTx(ctx, db, m.PlayerID, fraction, source)
		if err != nil {
			return nil, err
		}
		lost[m.PlayerID] = -out.HP
	}
	return lost, nil
}

func hours(n int) time.Duration {
	return time.Duration(n) * time.Hour
}
