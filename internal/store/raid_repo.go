package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rogers-f/taskraid/internal/domain"
)

const raidColumns = `id, leader_id, boss_name, boss_skill, boss_max_hp, boss_current_hp, boss_damage,
charge_bar, charge_updated_at, stunned_until, daily_crit_count, last_crit_reset_date,
deadline, status, state_version, created_at, updated_at`

// RaidRepo handles persistence for Raid records.
type RaidRepo struct{}

// Create inserts a new raid.
func (r *RaidRepo) Create(ctx context.Context, db DBTX, raid domain.Raid) error {
	q := `INSERT INTO raids (` + raidColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if raid.StateVersion == 0 {
		raid.StateVersion = 1
	}
	if raid.Status == "" {
		raid.Status = domain.RaidActive
	}
	_, err := db.ExecContext(ctx, q,
		raid.ID, raid.LeaderID, raid.BossName, raid.BossSkill,
		raid.BossMaxHP, raid.BossCurrentHP, raid.BossDamage,
		raid.ChargeBar, raid.ChargeUpdatedAt, raid.StunnedUntil,
		raid.DailyCritCount, raid.LastCritResetDate,
		raid.Deadline, string(raid.Status), raid.StateVersion,
		raid.CreatedAt, raid.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create raid: %w", err)
	}
	return nil
}

// GetByID retrieves a raid by its ID.
func (r *RaidRepo) GetByID(ctx context.Context, db DBTX, id string) (*domain.Raid, error) {
	q := `SELECT ` + raidColumns + ` FROM raids WHERE id = ?`
	raid, err := scanRaid(db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRaidNotFound
		}
		return nil, fmt.Errorf("get raid: %w", err)
	}
	return raid, nil
}

// ListByStatus returns raids in the given status ordered by creation time.
func (r *RaidRepo) ListByStatus(ctx context.Context, db DBTX, status domain.RaidStatus) ([]domain.Raid, error) {
	q := `SELECT ` + raidColumns + ` FROM raids WHERE status = ? ORDER BY created_at ASC, id ASC`
	rows, err := db.QueryContext(ctx, q, string(status))
	if err != nil {
		return nil, fmt.Errorf("list raids: %w", err)
	}
	defer rows.Close()

	var raids []domain.Raid
	for rows.Next() {
		raid, err := scanRaid(rows)
		if err != nil {
			return nil, fmt.Errorf("scan raid: %w", err)
		}
		raids = append(raids, *raid)
	}
	return raids, rows.Err()
}

// UpdateState writes the boss's charge, stun and crit bookkeeping using
// optimistic locking. On success raid.StateVersion is advanced.
func (r *RaidRepo) UpdateState(ctx context.Context, db DBTX, raid *domain.Raid) error {
	const q = `UPDATE raids SET
		charge_bar = ?,
		charge_updated_at = ?,
		stunned_until = ?,
		daily_crit_count = ?,
		last_crit_reset_date = ?,
		state_version = state_version + 1,
		updated_at = ?
	WHERE id = ? AND state_version = ? AND status = 'active'`

	res, err := db.ExecContext(ctx, q,
		raid.ChargeBar,
		raid.ChargeUpdatedAt,
		raid.StunnedUntil,
		raid.DailyCritCount,
		raid.LastCritResetDate,
		raid.UpdatedAt,
		raid.ID,
		raid.StateVersion,
	)
	if err != nil {
		return fmt.Errorf("update raid state: %w", err)
	}
	if err := expectOne(res, domain.ErrOptimisticLock); err != nil {
		return err
	}
	raid.StateVersion++
	return nil
}

// ApplyBossDamage subtracts amount from the boss's HP in a single statement,
// flooring at zero, and returns the HP left. It fails with ErrRaidClosed when
// the raid is no longer active.
func (r *RaidRepo) ApplyBossDamage(ctx context.Context, db DBTX, id string, amount int, at int64) (int, error) {
	const q = `UPDATE raids SET
		boss_current_hp = MAX(0, boss_current_hp - ?),
		state_version = state_version + 1,
		updated_at = ?
	WHERE id = ? AND status = 'active'`

	res, err := db.ExecContext(ctx, q, amount, at, id)
	if err != nil {
		return 0, fmt.Errorf("apply boss damage: %w", err)
	}
	if err := expectOne(res, domain.ErrRaidClosed); err != nil {
		return 0, err
	}

	var hp int
	if err := db.QueryRowContext(ctx, `SELECT boss_current_hp FROM raids WHERE id = ?`, id).Scan(&hp); err != nil {
		return 0, fmt.Errorf("read boss hp: %w", err)
	}
	return hp, nil
}

// MarkVictory flips an active raid whose boss is at zero HP to victory.
// It reports false when another caller already closed the raid, so exactly
// one caller observes the transition.
func (r *RaidRepo) MarkVictory(ctx context.Context, db DBTX, id string, at int64) (bool, error) {
	const q = `UPDATE raids SET status = 'victory', state_version = state_version + 1, updated_at = ?
	WHERE id = ? AND status = 'active' AND boss_current_hp = 0`
	res, err := db.ExecContext(ctx, q, at, id)
	if err != nil {
		return false, fmt.Errorf("mark raid victory: %w", err)
	}
	return affected(res)
}

// MarkFailed flips an active raid to failed. It reports false if the raid was
// already closed.
func (r *RaidRepo) MarkFailed(ctx context.Context, db DBTX, id string, at int64) (bool, error) {
	const q = `UPDATE raids SET status = 'failed', state_version = state_version + 1, updated_at = ?
	WHERE id = ? AND status = 'active'`
	res, err := db.ExecContext(ctx, q, at, id)
	if err != nil {
		return false, fmt.Errorf("mark raid failed: %w", err)
	}
	return affected(res)
}

func scanRaid(row rowScanner) (*domain.Raid, error) {
	var raid domain.Raid
	var status string
	err := row.Scan(&raid.ID, &raid.LeaderID, &raid.BossName, &raid.BossSkill,
		&raid.BossMaxHP, &raid.BossCurrentHP, &raid.BossDamage,
		&raid.ChargeBar, &raid.ChargeUpdatedAt, &raid.StunnedUntil,
		&raid.DailyCritCount, &raid.LastCritResetDate,
		&raid.Deadline, &status, &raid.StateVersion,
		&raid.CreatedAt, &raid.UpdatedAt)
	if err != nil {
		return nil, err
	}
	raid.Status = domain.RaidStatus(status)
	return &raid, nil
}
