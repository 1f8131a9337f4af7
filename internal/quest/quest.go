// Package quest is the entry point for players and their tasks. It routes a
// task completion through the raid catch-up, the reward engine and the raid
// damage hook.
package quest

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rogers-f/taskraid/internal/clock"
	"github.com/rogers-f/taskraid/internal/domain"
	"github.com/rogers-f/taskraid/internal/notify"
	"github.com/rogers-f/taskraid/internal/progression"
	"github.com/rogers-f/taskraid/internal/raid"
	"github.com/rogers-f/taskraid/internal/reward"
	"github.com/rogers-f/taskraid/internal/store"
	"github.com/rogers-f/taskraid/internal/telemetry"
)

// MaxTitleLen bounds task titles in runes.
const MaxTitleLen = 200

// Service creates players and tasks and finishes tasks.
type Service struct {
	DB         *sql.DB
	Players    *store.PlayerRepo
	Tasks      *store.TaskRepo
	Selections *store.SelectionRepo
	Ledger     *store.LedgerRepo
	Rewards    *reward.Engine
	Raids      *raid.Engine
	Broker     notify.Broker
	Clock      clock.Clock
	Calc       *progression.Calculator
	Logger     *log.Logger

	tracer trace.Tracer
}

// NewService wires a quest service onto the reward and raid engines.
func NewService(rewards *reward.Engine, raids *raid.Engine, broker notify.Broker, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{
		DB:         rewards.DB,
		Players:    &store.PlayerRepo{},
		Tasks:      &store.TaskRepo{},
		Selections: &store.SelectionRepo{},
		Ledger:     &store.LedgerRepo{},
		Rewards:    rewards,
		Raids:      raids,
		Broker:     broker,
		Clock:      rewards.Clock,
		Calc:       rewards.Calc,
		Logger:     logger,
		tracer:     telemetry.Tracer("quest"),
	}
}

// NewPlayer is the input for CreatePlayer.
type NewPlayer struct {
	Name  string       `json:"name"`
	Class domain.Class `json:"class"`
}

// CreatePlayer registers a level 1 player at full HP and mana.
func (s *Service) CreatePlayer(ctx context.Context, in NewPlayer) (*domain.Player, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, domain.Detail(domain.ErrInvalidInput, "name is required")
	}
	if in.Class == "" {
		in.Class = domain.ClassWarrior
	}
	if !in.Class.IsValid() {
		return nil, domain.Detail(domain.ErrInvalidClass, "%q", in.Class)
	}

	bal := s.Calc.Balance()
	now := s.Clock.Now().Unix()
	maxMana := s.Calc.MaxMana(0)
	p := &domain.Player{
		ID:           uuid.NewString(),
		Name:         name,
		Level:        1,
		CurrentHP:    bal.BaseMaxHP,
		MaxHP:        bal.BaseMaxHP,
		CurrentMana:  maxMana,
		MaxMana:      maxMana,
		Class:        in.Class,
		StateVersion: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Players.Create(ctx, s.DB, *p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetPlayer returns a player.
func (s *Service) GetPlayer(ctx context.Context, id string) (*domain.Player, error) {
	return s.Players.GetByID(ctx, s.DB, id)
}

// ListPlayers returns every player.
func (s *Service) ListPlayers(ctx context.Context) ([]domain.Player, error) {
	return s.Players.List(ctx, s.DB)
}

// History returns the reward deltas applied to a player.
func (s *Service) History(ctx context.Context, playerID string) ([]domain.RewardDelta, error) {
	if _, err := s.Players.GetByID(ctx, s.DB, playerID); err != nil {
		return nil, err
	}
	return s.Ledger.ListByPlayer(ctx, s.DB, playerID)
}

// Attribute names accepted by AssignPoint.
const (
	AttrStrength     = "strength"
	AttrIntelligence = "intelligence"
	AttrConstitution = "constitution"
	AttrPerception   = "perception"
)

// AssignPoint spends one unassigned attribute point. Intelligence also raises
// the mana cap.
func (s *Service) AssignPoint(ctx context.Context, playerID, attr string) (*domain.Player, error) {
	var p *domain.Player
	err := s.Rewards.Run(ctx, func(tx *sql.Tx) error {
		var err error
		p, err = s.Players.GetByID(ctx, tx, playerID)
		if err != nil {
			return err
		}
		if p.PointsToAssign <= 0 {
			return domain.Detail(domain.ErrInvalidInput, "no attribute points to assign")
		}
		switch attr {
		case AttrStrength:
			p.Strength++
		case AttrIntelligence:
			p.Intelligence++
			p.MaxMana = s.Calc.MaxMana(p.Intelligence)
		case AttrConstitution:
			p.Constitution++
		case AttrPerception:
			p.Perception++
		default:
			return domain.Detail(domain.ErrInvalidInput, "unknown attribute %q", attr)
		}
		p.PointsToAssign--
		p.UpdatedAt = s.Clock.Now().Unix()
		return s.Players.Update(ctx, tx, p)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, domain.PlayerStream(playerID))
	return p, nil
}

// NewTask is the input for CreateTask.
type NewTask struct {
	OwnerID     string `json:"owner_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Difficulty  string `json:"difficulty"`
	IsHabit     bool   `json:"is_habit"`
	DueDate     int64  `json:"due_date,omitempty"`
}

// CreateTask adds a pending task for a player.
func (s *Service) CreateTask(ctx context.Context, in NewTask) (*domain.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, domain.Detail(domain.ErrInvalidInput, "title is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return nil, domain.Detail(domain.ErrInvalidInput, "title is longer than %d characters", MaxTitleLen)
	}
	d, err := domain.ParseDifficulty(in.Difficulty)
	if err != nil {
		return nil, err
	}
	if in.DueDate < 0 {
		return nil, domain.Detail(domain.ErrInvalidInput, "due_date must be a unix timestamp")
	}
	if _, err := s.Players.GetByID(ctx, s.DB, in.OwnerID); err != nil {
		return nil, err
	}

	t := &domain.Task{
		ID:          uuid.NewString(),
		OwnerID:     in.OwnerID,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Difficulty:  d,
		Status:      domain.TaskPending,
		IsHabit:     in.IsHabit,
		DueDate:     in.DueDate,
		CreatedAt:   s.Clock.Now().Unix(),
	}
	if err := s.Tasks.Create(ctx, s.DB, *t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTask returns a task.
func (s *Service) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	return s.Tasks.GetByID(ctx, s.DB, id)
}

// ListTasks returns a player's tasks, optionally filtered by status.
func (s *Service) ListTasks(ctx context.Context, ownerID string, status domain.TaskStatus) ([]domain.Task, error) {
	if _, err := s.Players.GetByID(ctx, s.DB, ownerID); err != nil {
		return nil, err
	}
	return s.Tasks.ListByOwner(ctx, s.DB, ownerID, status)
}

// Completion is the outcome of CompleteTask.
type Completion struct {
	Task    *domain.Task      `json:"task"`
	Reward  reward.Applied    `json:"reward"`
	RaidHit *raid.Hit         `json:"raid_hit,omitempty"`
	Tick    *raid.TickResult  `json:"tick,omitempty"`
	Sweep   *raid.SweepResult `json:"sweep,omitempty"`
}

// CompleteTask finishes a pending task. Tasks committed to an unfinished
// duel are rejected; they complete through evidence. When the owner is in an
// active raid its timed effects and the owner's overdue sweep are caught up
// first, then the task, its rewards and the raid hit commit together.
func (s *Service) CompleteTask(ctx context.Context, taskID string) (*Completion, error) {
	ctx, span := s.tracer.Start(ctx, "quest.CompleteTask", trace.WithAttributes(
		attribute.String("task.id", taskID),
	))
	defer span.End()

	task, err := s.Tasks.GetByID(ctx, s.DB, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != domain.TaskPending {
		return nil, domain.Detail(domain.ErrTaskFinished, "task %s is %s", taskID, task.Status)
	}
	if err := s.checkFree(ctx, s.DB, taskID); err != nil {
		return nil, err
	}

	out := &Completion{}
	out.Tick, out.Sweep, err = s.catchUp(ctx, task.OwnerID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	err = s.Rewards.Run(ctx, func(tx *sql.Tx) error {
		if err := s.checkFree(ctx, tx, taskID); err != nil {
			return err
		}
		now := s.Clock.Now().Unix()
		if err := s.Tasks.MarkFinished(ctx, tx, taskID, domain.TaskCompleted, now); err != nil {
			return err
		}
		var err error
		out.Reward, err = s.Rewards.ApplyCompletionTx(ctx, tx, task.OwnerID, task.Difficulty, "task:"+taskID)
		if err != nil {
			return err
		}
		out.RaidHit, err = s.Raids.OnTaskCompletedTx(ctx, tx, task.OwnerID, task.Difficulty)
		if err != nil {
			return err
		}
		out.Task, err = s.Tasks.GetByID(ctx, tx, taskID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	topics := []string{domain.PlayerStream(task.OwnerID)}
	if out.RaidHit != nil {
		topics = append(topics, domain.RaidStream(out.RaidHit.RaidID))
	}
	s.publish(ctx, topics...)
	return out, nil
}

// FailTask finishes a pending task as failed and charges the owner its
// failure damage.
func (s *Service) FailTask(ctx context.Context, taskID string) (*domain.Task, reward.Applied, error) {
	var task *domain.Task
	var applied reward.Applied
	err := s.Rewards.Run(ctx, func(tx *sql.Tx) error {
		var err error
		task, err = s.Tasks.GetByID(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if err := s.checkFree(ctx, tx, taskID); err != nil {
			return err
		}
		if err := s.Tasks.MarkFinished(ctx, tx, taskID, domain.TaskFailed, s.Clock.Now().Unix()); err != nil {
			return err
		}
		applied, err = s.Rewards.ApplyFailureTx(ctx, tx, task.OwnerID, task.Difficulty, "task_failed:"+taskID)
		if err != nil {
			return err
		}
		task, err = s.Tasks.GetByID(ctx, tx, taskID)
		return err
	})
	if err != nil {
		return nil, reward.Applied{}, err
	}
	s.publish(ctx, domain.PlayerStream(task.OwnerID))
	return task, applied, nil
}

func (s *Service) checkFree(ctx context.Context, db store.DBTX, taskID string) error {
	duelID, err := s.Selections.OpenDuelForTask(ctx, db, taskID)
	if err != nil {
		return err
	}
	if duelID != "" {
		return domain.Detail(domain.ErrTaskDuelBound, "task %s is in duel %s", taskID, duelID)
	}
	return nil
}

// catchUp runs the owner's raid timers before a completion lands.
func (s *Service) catchUp(ctx context.Context, playerID string) (*raid.TickResult, *raid.SweepResult, error) {
	raidID, err := s.Raids.ActiveRaidID(ctx, s.DB, playerID)
	if err != nil || raidID == "" {
		return nil, nil, err
	}
	tick, err := s.Raids.Tick(ctx, raidID)
	if err != nil {
		return nil, nil, err
	}
	if tick.Raid.Status != domain.RaidActive {
		return tick, nil, nil
	}
	sweep, err := s.Raids.CheckDailyOverdueSweep(ctx, raidID, playerID)
	if errors.Is(err, domain.ErrRaidClosed) {
		return tick, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return tick, sweep, nil
}

func (s *Service) publish(ctx context.Context, topics ...string) {
	if err := notify.PublishAll(ctx, s.Broker, topics...); err != nil {
		s.Logger.Printf("quest: notify %v: %v", topics, err)
	}
}
