package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rogers-f/taskraid/internal/domain"
)

const memberColumns = `raid_id, player_id, damage_dealt, task_counter, last_damage_check_date, joined_at, left_at`

// MemberRepo handles persistence for RaidMember records.
type MemberRepo struct{}

// Add inserts a membership. A player who previously left the same raid is
// re-admitted with their earlier damage tally intact.
func (r *MemberRepo) Add(ctx context.Context, db DBTX, m domain.RaidMember) error {
	q := `INSERT INTO raid_members (` + memberColumns + `) VALUES (?, ?, ?, ?, ?, ?, 0)
ON CONFLICT(raid_id, player_id) DO UPDATE SET left_at = 0, joined_at = excluded.joined_at`
	_, err := db.ExecContext(ctx, q,
		m.RaidID, m.PlayerID, m.DamageDealt, m.TaskCounter, m.LastDamageCheckDate, m.JoinedAt)
	if err != nil {
		return fmt.Errorf("add raid member: %w", err)
	}
	return nil
}

// Get retrieves a single membership, including one that has been left.
func (r *MemberRepo) Get(ctx context.Context, db DBTX, raidID, playerID string) (*domain.RaidMember, error) {
	q := `SELECT ` + memberColumns + ` FROM raid_members WHERE raid_id = ? AND player_id = ?`
	m, err := scanMember(db.QueryRowContext(ctx, q, raidID, playerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMemberNotFound
		}
		return nil, fmt.Errorf("get raid member: %w", err)
	}
	return m, nil
}

// ListActive returns the members that have not left the raid, in join order.
func (r *MemberRepo) ListActive(ctx context.Context, db DBTX, raidID string) ([]domain.RaidMember, error) {
	q := `SELECT ` + memberColumns + ` FROM raid_members
WHERE raid_id = ? AND left_at = 0
ORDER BY joined_at ASC, player_id ASC`
	rows, err := db.QueryContext(ctx, q, raidID)
	if err != nil {
		return nil, fmt.Errorf("list raid members: %w", err)
	}
	defer rows.Close()

	var members []domain.RaidMember
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan raid member: %w", err)
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

// ActiveRaidID returns the ID of the active raid the player belongs to, or ""
// if they are in none.
func (r *MemberRepo) ActiveRaidID(ctx context.Context, db DBTX, playerID string) (string, error) {
	const q = `SELECT m.raid_id FROM raid_members m
JOIN raids r ON r.id = m.raid_id
WHERE m.player_id = ? AND m.left_at = 0 AND r.status = 'active'
ORDER BY m.joined_at DESC
LIMIT 1`
	var id string
	err := db.QueryRowContext(ctx, q, playerID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("find active raid: %w", err)
	}
	return id, nil
}

// AddDamage adds dealt damage to a member's running tally.
func (r *MemberRepo) AddDamage(ctx context.Context, db DBTX, raidID, playerID string, damage int) error {
	const q = `UPDATE raid_members SET damage_dealt = damage_dealt + ?
WHERE raid_id = ? AND player_id = ? AND left_at = 0`
	res, err := db.ExecContext(ctx, q, damage, raidID, playerID)
	if err != nil {
		return fmt.Errorf("add member damage: %w", err)
	}
	return expectOne(res, domain.ErrMemberNotFound)
}

// SetTaskCounter stores the member's class-skill progress.
func (r *MemberRepo) SetTaskCounter(ctx context.Context, db DBTX, raidID, playerID string, n int) error {
	const q = `UPDATE raid_members SET task_counter = ? WHERE raid_id = ? AND player_id = ? AND left_at = 0`
	res, err := db.ExecContext(ctx, q, n, raidID, playerID)
	if err != nil {
		return fmt.Errorf("set task counter: %w", err)
	}
	return expectOne(res, domain.ErrMemberNotFound)
}

// ClaimDailyCheck stamps the member's last overdue check with day. It reports
// false if the member was already checked for that day.
func (r *MemberRepo) ClaimDailyCheck(ctx context.Context, db DBTX, raidID, playerID, day string) (bool, error) {
	const q = `UPDATE raid_members SET last_damage_check_date = ?
WHERE raid_id = ? AND player_id = ? AND left_at = 0 AND last_damage_check_date <> ?`
	res, err := db.ExecContext(ctx, q, day, raidID, playerID, day)
	if err != nil {
		return false, fmt.Errorf("claim daily check: %w", err)
	}
	return affected(res)
}

// MarkLeft records that a member left the raid.
func (r *MemberRepo) MarkLeft(ctx context.Context, db DBTX, raidID, playerID string, at int64) error {
	const q = `UPDATE raid_members SET left_at = ? WHERE raid_id = ? AND player_id = ? AND left_at = 0`
	res, err := db.ExecContext(ctx, q, at, raidID, playerID)
	if err != nil {
		return fmt.Errorf("leave raid: %w", err)
	}
	return expectOne(res, domain.ErrMemberNotFound)
}

func scanMember(row rowScanner) (*domain.RaidMember, error) {
	var m domain.RaidMember
	err := row.Scan(&m.RaidID, &m.PlayerID, &m.DamageDealt, &m.TaskCounter,
		&m.LastDamageCheckDate, &m.JoinedAt, &m.LeftAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
