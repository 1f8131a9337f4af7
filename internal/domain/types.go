// Package domain defines the core types shared by the progression, raid and duel engines.
package domain

import "strings"

// Class is a player's character class.
type Class string

const (
	ClassWarrior Class = "warrior"
	ClassMage    Class = "mage"
	ClassHealer  Class = "healer"
	ClassRogue   Class = "rogue"
)

// IsValid reports whether c is one of the fixed classes.
func (c Class) IsValid() bool {
	switch c {
	case ClassWarrior, ClassMage, ClassHealer, ClassRogue:
		return true
	default:
		return false
	}
}

// Classes lists every class in a stable order.
func Classes() []Class {
	return []Class{ClassWarrior, ClassMage, ClassHealer, ClassRogue}
}

// Difficulty is the difficulty rating of a task or habit.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// IsValid reports whether d is a known difficulty.
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	default:
		return false
	}
}

// ParseDifficulty normalizes user input into a Difficulty.
func ParseDifficulty(s string) (Difficulty, error) {
	d := Difficulty(strings.ToLower(strings.TrimSpace(s)))
	if !d.IsValid() {
		return "", Detail(ErrInvalidDifficulty, "%q", s)
	}
	return d, nil
}

// PlayerAttributes is the typed attribute view every progression formula reads.
type PlayerAttributes struct {
	Level        int
	Strength     int
	Intelligence int
	Constitution int
	Perception   int
	Class        Class
}

// Player is the persistent player record.
type Player struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Level          int    `json:"level"`
	CurrentXP      int    `json:"current_xp"`
	Gold           int    `json:"gold"`
	Diamonds       int    `json:"diamonds"`
	CurrentHP      int    `json:"current_hp"`
	MaxHP          int    `json:"max_hp"`
	CurrentMana    int    `json:"current_mana"`
	MaxMana        int    `json:"max_mana"`
	Strength       int    `json:"strength"`
	Intelligence   int    `json:"intelligence"`
	Constitution   int    `json:"constitution"`
	Perception     int    `json:"perception"`
	PointsToAssign int    `json:"points_to_assign"`
	Class          Class  `json:"class"`
	Trophies       int    `json:"trophies"`
	StateVersion   int64  `json:"state_version"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
}

// Attributes returns the attribute view of the player.
func (p Player) Attributes() PlayerAttributes {
	return PlayerAttributes{
		Level:        p.Level,
		Strength:     p.Strength,
		Intelligence: p.Intelligence,
		Constitution: p.Constitution,
		Perception:   p.Perception,
		Class:        p.Class,
	}
}

// TaskStatus is the lifecycle state of a task record.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Task is the minimal task/habit record the core reads and finishes.
type Task struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Difficulty  Difficulty `json:"difficulty"`
	Status      TaskStatus `json:"status"`
	IsHabit     bool       `json:"is_habit"`
	DueDate     int64      `json:"due_date,omitempty"`
	CreatedAt   int64      `json:"created_at"`
	CompletedAt int64      `json:"completed_at,omitempty"`
}

// TaskCompletionEvent is produced when a task is completed or failed.
type TaskCompletionEvent struct {
	TaskID     string
	OwnerID    string
	Difficulty Difficulty
	DueDate    int64
}

// RaidStatus is the lifecycle state of a raid.
type RaidStatus string

const (
	RaidActive  RaidStatus = "active"
	RaidVictory RaidStatus = "victory"
	RaidFailed  RaidStatus = "failed"
)

// Raid is a shared boss encounter.
type Raid struct {
	ID                string     `json:"id"`
	LeaderID          string     `json:"leader_id"`
	BossName          string     `json:"boss_name"`
	BossSkill         string     `json:"boss_skill"`
	BossMaxHP         int        `json:"boss_max_hp"`
	BossCurrentHP     int        `json:"boss_current_hp"`
	BossDamage        int        `json:"boss_damage"`
	ChargeBar         float64    `json:"charge_bar"`
	ChargeUpdatedAt   int64      `json:"charge_updated_at"`
	StunnedUntil      int64      `json:"stunned_until,omitempty"`
	DailyCritCount    int        `json:"daily_crit_count"`
	LastCritResetDate string     `json:"last_crit_reset_date"`
	Deadline          int64      `json:"deadline"`
	Status            RaidStatus `json:"status"`
	StateVersion      int64      `json:"state_version"`
	CreatedAt         int64      `json:"created_at"`
	UpdatedAt         int64      `json:"updated_at"`
}

// Stunned reports whether the boss is stunned at the given unix time.
func (r Raid) Stunned(nowUnix int64) bool {
	return r.StunnedUntil > nowUnix
}

// RaidMember is a player's membership in a raid.
type RaidMember struct {
	RaidID              string `json:"raid_id"`
	PlayerID            string `json:"player_id"`
	DamageDealt         int    `json:"damage_dealt"`
	TaskCounter         int    `json:"task_counter"`
	LastDamageCheckDate string `json:"last_damage_check_date"`
	JoinedAt            int64  `json:"joined_at"`
	LeftAt              int64  `json:"left_at,omitempty"`
}

// DuelStatus is the lifecycle state of a duel.
type DuelStatus string

const (
	DuelPending   DuelStatus = "pending"
	DuelSelecting DuelStatus = "selecting"
	DuelActive    DuelStatus = "active"
	DuelCompleted DuelStatus = "completed"
	DuelCancelled DuelStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s DuelStatus) Terminal() bool {
	return s == DuelCompleted || s == DuelCancelled
}

// Duel is a two-party combat session.
type Duel struct {
	ID           string     `json:"id"`
	ChallengerID string     `json:"challenger_id"`
	ChallengedID string     `json:"challenged_id"`
	ChallengerHP int        `json:"challenger_hp"`
	ChallengedHP int        `json:"challenged_hp"`
	Status       DuelStatus `json:"status"`
	WinnerID     string     `json:"winner_id,omitempty"`
	StateVersion int64      `json:"state_version"`
	CreatedAt    int64      `json:"created_at"`
	UpdatedAt    int64      `json:"updated_at"`
}

// Opponent returns the other participant, or "" if playerID is not in the duel.
func (d Duel) Opponent(playerID string) string {
	switch playerID {
	case d.ChallengerID:
		return d.ChallengedID
	case d.ChallengedID:
		return d.ChallengerID
	default:
		return ""
	}
}

// HPOf returns the HP pool of the given participant.
func (d Duel) HPOf(playerID string) int {
	if playerID == d.ChallengerID {
		return d.ChallengerHP
	}
	return d.ChallengedHP
}

// DuelSelection is one task a player committed to a duel.
type DuelSelection struct {
	ID            string     `json:"id"`
	DuelID        string     `json:"duel_id"`
	PlayerID      string     `json:"player_id"`
	TaskID        string     `json:"task_id"`
	Difficulty    Difficulty `json:"difficulty"`
	Locked        bool       `json:"locked"`
	Completed     bool       `json:"completed"`
	EvidenceURL   string     `json:"evidence_url,omitempty"`
	DamageDealt   int        `json:"damage_dealt"`
	Contested     bool       `json:"contested"`
	ContestReason string     `json:"contest_reason,omitempty"`
	CreatedAt     int64      `json:"created_at"`
}

// GameEvent is an immutable entry in a raid or duel log.
type GameEvent struct {
	ID          int64  `json:"id"`
	StreamID    string `json:"stream_id"`
	SeqNo       int64  `json:"seq_no"`
	EventType   string `json:"event_type"`
	Actor       string `json:"actor"`
	PayloadJSON string `json:"payload_json"`
	CreatedAt   int64  `json:"created_at"`
}

// RewardDelta records one applied change to a player's pools.
type RewardDelta struct {
	ID           int64  `json:"id"`
	PlayerID     string `json:"player_id"`
	Source       string `json:"source"`
	XP           int    `json:"xp"`
	Gold         int    `json:"gold"`
	Mana         int    `json:"mana"`
	HP           int    `json:"hp"`
	Trophies     int    `json:"trophies"`
	LevelsGained int    `json:"levels_gained"`
	CreatedAt    int64  `json:"created_at"`
}

// AuditRecord logs judge verdicts and contest filings.
type AuditRecord struct {
	ID           string `json:"id"`
	SubjectID    string `json:"subject_id"`
	Category     string `json:"category"`
	Actor        string `json:"actor"`
	Action       string `json:"action"`
	RequestJSON  string `json:"request_json"`
	DecisionJSON string `json:"decision_json"`
	Severity     string `json:"severity"`
	CreatedAt    int64  `json:"created_at"`
}

// DuelSnapshot captures a duel at a status boundary.
type DuelSnapshot struct {
	ID           int64      `json:"id"`
	DuelID       string     `json:"duel_id"`
	Status       DuelStatus `json:"status"`
	ChallengerHP int        `json:"challenger_hp"`
	ChallengedHP int        `json:"challenged_hp"`
	SnapshotJSON string     `json:"snapshot_json"`
	CreatedAt    int64      `json:"created_at"`
}

// Stream IDs used for event logs and change notifications.
func RaidStream(id string) string   { return "raid:" + id }
func DuelStream(id string) string   { return "duel:" + id }
func PlayerStream(id string) string { return "player:" + id }
