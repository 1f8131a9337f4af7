// Package raid runs cooperative boss fights: a shared boss HP pool, level-scaled
// hits, class skills, and the lazily evaluated timed effects (deadline, charge,
// crits, overdue sweep).
package raid

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/rogers-f/taskraid/internal/clock"
	"github.com/rogers-f/taskraid/internal/domain"
	"github.com/rogers-f/taskraid/internal/guard"
	"github.com/rogers-f/taskraid/internal/notify"
	"github.com/rogers-f/taskraid/internal/progression"
	"github.com/rogers-f/taskraid/internal/reward"
	"github.com/rogers-f/taskraid/internal/store"
	"github.com/rogers-f/taskraid/internal/telemetry"
)

// Engine owns raid state transitions.
type Engine struct {
	DB      *sql.DB
	Raids   *store.RaidRepo
	Members *store.MemberRepo
	Players *store.PlayerRepo
	Tasks   *store.TaskRepo
	Events  *store.EventRepo
	Rewards *reward.Engine
	Calc    *progression.Calculator
	Guard   *guard.Guard
	Broker  notify.Broker
	Clock   clock.Clock
	Logger  *log.Logger

	// Roll returns a uniform value in [0, 1) for the crit check.
	Roll func() float64

	tracer trace.Tracer
}

// NewEngine creates a raid engine sharing the reward engine's database,
// calculator and clock.
func NewEngine(rewards *reward.Engine, g *guard.Guard, broker notify.Broker, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Engine{
		DB:      rewards.DB,
		Raids:   &store.RaidRepo{},
		Members: &store.MemberRepo{},
		Players: &store.PlayerRepo{},
		Tasks:   &store.TaskRepo{},
		Events:  &store.EventRepo{},
		Rewards: rewards,
		Calc:    rewards.Calc,
		Guard:   g,
		Broker:  broker,
		Clock:   rewards.Clock,
		Logger:  logger,
		Roll:    rand.Float64,
		tracer:  telemetry.Tracer("raid"),
	}
}

// StartInput describes a new raid.
type StartInput struct {
	LeaderID   string `json:"leader_id"`
	BossName   string `json:"boss_name"`
	BossSkill  string `json:"boss_skill"`
	BossMaxHP  int    `json:"boss_max_hp"`
	BossDamage int    `json:"boss_damage"`
	// Deadline defaults to the configured raid duration from now.
	Deadline time.Time `json:"deadline"`
}

// Start creates an active raid with the leader as its first member.
func (e *Engine) Start(ctx context.Context, in StartInput) (*domain.Raid, error) {
	if in.LeaderID == "" || in.BossName == "" {
		return nil, domain.Detail(domain.ErrInvalidInput, "leader_id and boss_name are required")
	}
	if in.BossMaxHP <= 0 || in.BossDamage < 0 {
		return nil, domain.Detail(domain.ErrInvalidInput, "boss_max_hp must be > 0 and boss_damage >= 0")
	}

	now := e.Clock.Now()
	deadline := in.Deadline
	if deadline.IsZero() {
		deadline = now.AddDate(0, 0, e.Calc.Balance().Raid.DurationDays)
	}
	if !deadline.After(now) {
		return nil, domain.Detail(domain.ErrInvalidInput, "deadline must be in the future")
	}

	raid := domain.Raid{
		ID:                uuid.NewString(),
		LeaderID:          in.LeaderID,
		BossName:          in.BossName,
		BossSkill:         in.BossSkill,
		BossMaxHP:         in.BossMaxHP,
		BossCurrentHP:     in.BossMaxHP,
		BossDamage:        in.BossDamage,
		ChargeUpdatedAt:   now.Unix(),
		LastCritResetDate: clock.DayKey(now),
		Deadline:          deadline.Unix(),
		Status:            domain.RaidActive,
		StateVersion:      1,
		CreatedAt:         now.Unix(),
		UpdatedAt:         now.Unix(),
	}

	err := store.WithTx(ctx, e.DB, func(tx *sql.Tx) error {
		if err := e.admit(ctx, tx, in.LeaderID); err != nil {
			return err
		}
		if err := e.Raids.Create(ctx, tx, raid); err != nil {
			return err
		}
		if err := e.Members.Add(ctx, tx, newMember(raid.ID, in.LeaderID, now)); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, raid.ID, "raid_started", in.LeaderID, map[string]any{
			"boss_name":   raid.BossName,
			"boss_max_hp": raid.BossMaxHP,
			"deadline":    raid.Deadline,
		})
	})
	if err != nil {
		return nil, err
	}

	e.publish(ctx, domain.RaidStream(raid.ID), domain.PlayerStream(in.LeaderID))
	return &raid, nil
}

// Join adds a player to an active raid.
func (e *Engine) Join(ctx context.Context, raidID, playerID string) error {
	now := e.Clock.Now()
	err := store.WithTx(ctx, e.DB, func(tx *sql.Tx) error {
		if _, err := e.activeRaid(ctx, tx, raidID, now); err != nil {
			return err
		}
		if err := e.admit(ctx, tx, playerID); err != nil {
			return err
		}
		if err := e.Members.Add(ctx, tx, newMember(raidID, playerID, now)); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, raidID, "member_joined", playerID, nil)
	})
	if err != nil {
		return err
	}
	e.publish(ctx, domain.RaidStream(raidID), domain.PlayerStream(playerID))
	return nil
}

// Leave removes a player from an active raid and charges the desertion penalty.
func (e *Engine) Leave(ctx context.Context, raidID, playerID string) (reward.Applied, error) {
	now := e.Clock.Now()
	rb := e.Calc.Balance().Raid

	var applied reward.Applied
	err := store.WithTx(ctx, e.DB, func(tx *sql.Tx) error {
		if _, err := e.activeRaid(ctx, tx, raidID, now); err != nil {
			return err
		}
		if err := e.Members.MarkLeft(ctx, tx, raidID, playerID, now.Unix()); err != nil {
			return err
		}
		var err error
		applied, err = e.Rewards.ApplyPenaltyTx(ctx, tx, playerID, rb.DesertionGold, rb.DesertionHP, "raid_desertion:"+raidID)
		if err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, raidID, "member_left", playerID, map[string]any{
			"gold_lost": -applied.Gold,
			"hp_lost":   -applied.HP,
		})
	})
	if err != nil {
		return reward.Applied{}, err
	}
	e.publish(ctx, domain.RaidStream(raidID), domain.PlayerStream(playerID))
	return applied, nil
}

// Get returns a raid.
func (e *Engine) Get(ctx context.Context, raidID string) (*domain.Raid, error) {
	return e.Raids.GetByID(ctx, e.DB, raidID)
}

// ListMembers returns the raid's current members.
func (e *Engine) ListMembers(ctx context.Context, raidID string) ([]domain.RaidMember, error) {
	if _, err := e.Raids.GetByID(ctx, e.DB, raidID); err != nil {
		return nil, err
	}
	return e.Members.ListActive(ctx, e.DB, raidID)
}

// Log returns the raid's event log after sinceSeq.
func (e *Engine) Log(ctx context.Context, raidID string, sinceSeq int64) ([]domain.GameEvent, error) {
	return e.Events.ListByStream(ctx, e.DB, domain.RaidStream(raidID), sinceSeq)
}

// ActiveRaidID returns the player's active raid, or "".
func (e *Engine) ActiveRaidID(ctx context.Context, db store.DBTX, playerID string) (string, error) {
	return e.Members.ActiveRaidID(ctx, db, playerID)
}

// admit checks that the player exists and is free to join a raid.
func (e *Engine) admit(ctx context.Context, db store.DBTX, playerID string) error {
	if _, err := e.Players.GetByID(ctx, db, playerID); err != nil {
		return err
	}
	current, err := e.Members.ActiveRaidID(ctx, db, playerID)
	if err != nil {
		return err
	}
	if current != "" {
		return domain.Detail(domain.ErrAlreadyMember, "raid %s", current)
	}
	return nil
}

// activeRaid loads a raid that still accepts actions.
func (e *Engine) activeRaid(ctx context.Context, db store.DBTX, raidID string, now time.Time) (*domain.Raid, error) {
	raid, err := e.Raids.GetByID(ctx, db, raidID)
	if err != nil {
		return nil, err
	}
	if raid.Status != domain.RaidActive || now.Unix() >= raid.Deadline {
		return nil, domain.Detail(domain.ErrRaidClosed, "raid %s is %s", raidID, raid.Status)
	}
	return raid, nil
}

func newMember(raidID, playerID string, now time.Time) domain.RaidMember {
	return domain.RaidMember{
		RaidID:   raidID,
		PlayerID: playerID,
		// The first overdue sweep runs on the day after joining.
		LastDamageCheckDate: clock.DayKey(now),
		JoinedAt:            now.Unix(),
	}
}

func (e *Engine) appendEvent(ctx context.Context, db store.DBTX, raidID, eventType, actor string, payload map[string]any) error {
	body := "{}"
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = string(b)
	}
	_, err := e.Events.Append(ctx, db, domain.GameEvent{
		StreamID:    domain.RaidStream(raidID),
		EventType:   eventType,
		Actor:       actor,
		PayloadJSON: body,
		CreatedAt:   e.Clock.Now().Unix(),
	})
	return err
}

func (e *Engine) publish(ctx context.Context, topics ...string) {
	if err := notify.PublishAll(ctx, e.Broker, topics...); err != nil {
		e.Logger.Printf("raid: notify %v: %v", topics, err)
	}
}
