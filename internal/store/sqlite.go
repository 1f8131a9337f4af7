// Package store provides SQLite-backed persistence for players, tasks, raids and duels.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/rogers-f/taskraid/internal/domain"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS players (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL DEFAULT '',
	level            INTEGER NOT NULL DEFAULT 1,
	current_xp       INTEGER NOT NULL DEFAULT 0,
	gold             INTEGER NOT NULL DEFAULT 0,
	diamonds         INTEGER NOT NULL DEFAULT 0,
	current_hp       INTEGER NOT NULL DEFAULT 50,
	max_hp           INTEGER NOT NULL DEFAULT 50,
	current_mana     INTEGER NOT NULL DEFAULT 10,
	max_mana         INTEGER NOT NULL DEFAULT 10,
	strength         INTEGER NOT NULL DEFAULT 0,
	intelligence     INTEGER NOT NULL DEFAULT 0,
	constitution     INTEGER NOT NULL DEFAULT 0,
	perception       INTEGER NOT NULL DEFAULT 0,
	points_to_assign INTEGER NOT NULL DEFAULT 0 CHECK (points_to_assign >= 0),
	class            TEXT NOT NULL DEFAULT 'warrior',
	trophies         INTEGER NOT NULL DEFAULT 0,
	state_version    INTEGER NOT NULL DEFAULT 1,
	created_at       INTEGER NOT NULL DEFAULT 0,
	updated_at       INTEGER NOT NULL DEFAULT 0,
	CHECK (current_hp >= 0 AND current_hp <= max_hp)
);

CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	owner_id     TEXT NOT NULL,
	title        TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	difficulty   TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	is_habit     INTEGER NOT NULL DEFAULT 0,
	due_date     INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL,
	completed_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tasks_owner_status ON tasks(owner_id, status);

CREATE TABLE IF NOT EXISTS raids (
	id                   TEXT PRIMARY KEY,
	leader_id            TEXT NOT NULL,
	boss_name            TEXT NOT NULL,
	boss_skill           TEXT NOT NULL DEFAULT '',
	boss_max_hp          INTEGER NOT NULL,
	boss_current_hp      INTEGER NOT NULL,
	boss_damage          INTEGER NOT NULL,
	charge_bar           REAL NOT NULL DEFAULT 0,
	charge_updated_at    INTEGER NOT NULL DEFAULT 0,
	stunned_until        INTEGER NOT NULL DEFAULT 0,
	daily_crit_count     INTEGER NOT NULL DEFAULT 0,
	last_crit_reset_date TEXT NOT NULL DEFAULT '',
	deadline             INTEGER NOT NULL,
	status               TEXT NOT NULL DEFAULT 'active',
	state_version        INTEGER NOT NULL DEFAULT 1,
	created_at           INTEGER NOT NULL DEFAULT 0,
	updated_at           INTEGER NOT NULL DEFAULT 0,
	CHECK (boss_current_hp >= 0 AND boss_current_hp <= boss_max_hp)
);

CREATE TABLE IF NOT EXISTS raid_members (
	raid_id                TEXT NOT NULL,
	player_id              TEXT NOT NULL,
	damage_dealt           INTEGER NOT NULL DEFAULT 0,
	task_counter           INTEGER NOT NULL DEFAULT 0,
	last_damage_check_date TEXT NOT NULL DEFAULT '',
	joined_at              INTEGER NOT NULL DEFAULT 0,
	left_at                INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (raid_id, player_id)
);
CREATE INDEX IF NOT EXISTS idx_raid_members_player ON raid_members(player_id, left_at);

CREATE TABLE IF NOT EXISTS duels (
	id            TEXT PRIMARY KEY,
	challenger_id TEXT NOT NULL,
	challenged_id TEXT NOT NULL,
	challenger_hp INTEGER NOT NULL,
	challenged_hp INTEGER NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	winner_id     TEXT NOT NULL DEFAULT '',
	state_version INTEGER NOT NULL DEFAULT 1,
	created_at    INTEGER NOT NULL DEFAULT 0,
	updated_at    INTEGER NOT NULL DEFAULT 0,
	CHECK (challenger_hp >= 0 AND challenged_hp >= 0)
);
CREATE INDEX IF NOT EXISTS idx_duels_challenger ON duels(challenger_id, status);
CREATE INDEX IF NOT EXISTS idx_duels_challenged ON duels(challenged_id, status);

CREATE TABLE IF NOT EXISTS duel_selections (
	id             TEXT PRIMARY KEY,
	duel_id        TEXT NOT NULL,
	player_id      TEXT NOT NULL,
	task_id        TEXT NOT NULL,
	difficulty     TEXT NOT NULL,
	locked         INTEGER NOT NULL DEFAULT 0,
	completed      INTEGER NOT NULL DEFAULT 0,
	evidence_url   TEXT NOT NULL DEFAULT '',
	damage_dealt   INTEGER NOT NULL DEFAULT 0,
	contested      INTEGER NOT NULL DEFAULT 0,
	contest_reason TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL DEFAULT 0,
	UNIQUE(duel_id, task_id)
);
CREATE INDEX IF NOT EXISTS idx_selections_duel_player ON duel_selections(duel_id, player_id);

CREATE TABLE IF NOT EXISTS game_events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	stream_id    TEXT NOT NULL,
	seq_no       INTEGER NOT NULL,
	event_type   TEXT NOT NULL,
	actor        TEXT NOT NULL DEFAULT '',
	payload_json TEXT NOT NULL DEFAULT '{}',
	created_at   INTEGER NOT NULL,
	UNIQUE(stream_id, seq_no)
);
CREATE INDEX IF NOT EXISTS idx_events_stream_seq ON game_events(stream_id, seq_no);

CREATE TABLE IF NOT EXISTS reward_ledger (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	player_id     TEXT NOT NULL,
	source        TEXT NOT NULL,
	xp            INTEGER NOT NULL DEFAULT 0,
	gold          INTEGER NOT NULL DEFAULT 0,
	mana          INTEGER NOT NULL DEFAULT 0,
	hp            INTEGER NOT NULL DEFAULT 0,
	trophies      INTEGER NOT NULL DEFAULT 0,
	levels_gained INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_reward_ledger_player ON reward_ledger(player_id);

CREATE TABLE IF NOT EXISTS audit_records (
	id            TEXT PRIMARY KEY,
	subject_id    TEXT NOT NULL,
	category      TEXT NOT NULL,
	actor         TEXT NOT NULL DEFAULT '',
	action        TEXT NOT NULL,
	request_json  TEXT NOT NULL DEFAULT '{}',
	decision_json TEXT NOT NULL DEFAULT '{}',
	severity      TEXT NOT NULL DEFAULT 'info',
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_subject ON audit_records(subject_id);

CREATE TABLE IF NOT EXISTS duel_snapshots (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	duel_id       TEXT NOT NULL,
	status        TEXT NOT NULL,
	challenger_hp INTEGER NOT NULL,
	challenged_hp INTEGER NOT NULL,
	snapshot_json TEXT NOT NULL DEFAULT '{}',
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_duel ON duel_snapshots(duel_id);
`

// DBTX is the query surface shared by *sql.DB and *sql.Tx. Every repository
// method takes one so the engines can fold several writes into one transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreInit.Code, "open database", err)
	}

	// One connection serializes every read-modify-write unit.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, domain.WrapEngineError(domain.ErrSchemaMigration.Code, "migrate schema", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}

// WithTx runs fn inside a transaction, committing on success and rolling back
// on any error.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// expectOne converts a zero-row update into the given error.
func expectOne(res sql.Result, zero error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return zero
	}
	return nil
}

// affected reports whether an update touched at least one row.
func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return n > 0, nil
}
