package quest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rogers-f/taskraid/internal/clock"
	"github.com/rogers-f/taskraid/internal/domain"
	"github.com/rogers-f/taskraid/internal/guard"
	"github.com/rogers-f/taskraid/internal/notify"
	"github.com/rogers-f/taskraid/internal/progression"
	"github.com/rogers-f/taskraid/internal/raid"
	"github.com/rogers-f/taskraid/internal/reward"
	"github.com/rogers-f/taskraid/internal/store"
)

func newTestService(t *testing.T) (*Service, *clock.Fake) {
	t.Helper()
	db, err := store.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	rewards := reward.NewEngine(db, progression.NewCalculator(progression.DefaultBalance()), clk)
	broker := notify.NewLocal()
	raids := raid.NewEngine(rewards, guard.NewGuard(clk, guard.GuardConfig{}), broker, nil)
	raids.Roll = func() float64 { return 0.99 }
	return NewService(rewards, raids, broker, nil), clk
}

func mustPlayer(t *testing.T, s *Service, name string) *domain.Player {
	t.Helper()
	p, err := s.CreatePlayer(context.Background(), NewPlayer{Name: name})
	require.NoError(t, err)
	return p
}

func mustTask(t *testing.T, s *Service, owner, difficulty string) *domain.Task {
	t.Helper()
	task, err := s.CreateTask(context.Background(), NewTask{OwnerID: owner, Title: "Write report", Difficulty: difficulty})
	require.NoError(t, err)
	return task
}

func TestCreatePlayer(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	p, err := s.CreatePlayer(ctx, NewPlayer{Name: "  Ada ", Class: domain.ClassMage})
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.Name)
	assert.Equal(t, 1, p.Level)
	assert.Equal(t, 50, p.CurrentHP)
	assert.Equal(t, 50, p.MaxHP)
	assert.Equal(t, 10, p.MaxMana)
	assert.Equal(t, domain.ClassMage, p.Class)

	got, err := s.GetPlayer(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)

	def := mustPlayer(t, s, "Bo")
	assert.Equal(t, domain.ClassWarrior, def.Class)

	_, err = s.CreatePlayer(ctx, NewPlayer{Name: "X", Class: "bard"})
	assert.ErrorIs(t, err, domain.ErrInvalidClass)
	_, err = s.CreatePlayer(ctx, NewPlayer{Name: " "})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	all, err := s.ListPlayers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCreateTask_Validation(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	p := mustPlayer(t, s, "Ada")

	tests := []struct {
		name string
		in   NewTask
		want error
	}{
		{"empty title", NewTask{OwnerID: p.ID, Title: "  ", Difficulty: "easy"}, domain.ErrInvalidInput},
		{"bad difficulty", NewTask{OwnerID: p.ID, Title: "t", Difficulty: "epic"}, domain.ErrInvalidDifficulty},
		{"unknown owner", NewTask{OwnerID: "ghost", Title: "t", Difficulty: "easy"}, domain.ErrPlayerNotFound},
		{"negative due date", NewTask{OwnerID: p.ID, Title: "t", Difficulty: "easy", DueDate: -1}, domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateTask(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	task, err := s.CreateTask(ctx, NewTask{OwnerID: p.ID, Title: "Run", Difficulty: " Hard "})
	require.NoError(t, err)
	assert.Equal(t, domain.DifficultyHard, task.Difficulty)
	assert.Equal(t, domain.TaskPending, task.Status)
}

func TestCompleteTask_AppliesRewardsOnce(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	p := mustPlayer(t, s, "Ada")
	task := mustTask(t, s, p.ID, "hard")

	res, err := s.CompleteTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCompleted, res.Task.Status)
	assert.Equal(t, 25, res.Reward.XP)
	assert.Equal(t, 15, res.Reward.Gold)
	assert.Nil(t, res.RaidHit)
	assert.Nil(t, res.Tick)

	_, err = s.CompleteTask(ctx, task.ID)
	assert.ErrorIs(t, err, domain.ErrTaskFinished)

	got, err := s.GetPlayer(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, got.CurrentXP)
	assert.Equal(t, 15, got.Gold)

	ledger, err := s.History(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, ledger, 1)

	done, err := s.ListTasks(ctx, p.ID, domain.TaskCompleted)
	require.NoError(t, err)
	assert.Len(t, done, 1)
	pending, err := s.ListTasks(ctx, p.ID, domain.TaskPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCompleteTask_DamagesRaidBoss(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	p := mustPlayer(t, s, "Ada")
	r, err := s.Raids.Start(ctx, raid.StartInput{LeaderID: p.ID, BossName: "Sloth", BossMaxHP: 500, BossDamage: 7})
	require.NoError(t, err)
	task := mustTask(t, s, p.ID, "hard")

	res, err := s.CompleteTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, res.RaidHit)
	assert.Equal(t, 51, res.RaidHit.Damage)
	assert.Equal(t, 449, res.RaidHit.BossHP)
	require.NotNil(t, res.Tick)
	require.NotNil(t, res.Sweep)
	assert.False(t, res.Sweep.Ran, "members are not swept on the day they join")

	got, err := s.Raids.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 449, got.BossCurrentHP)
}

func TestCompleteTask_SweepsOverdueTasksFirst(t *testing.T) {
	s, clk := newTestService(t)
	ctx := context.Background()
	p := mustPlayer(t, s, "Ada")
	_, err := s.Raids.Start(ctx, raid.StartInput{LeaderID: p.ID, BossName: "Sloth", BossMaxHP: 500, BossDamage: 7})
	require.NoError(t, err)
	stale := mustTask(t, s, p.ID, "easy")

	clk.Advance(24 * time.Hour)
	fresh := mustTask(t, s, p.ID, "medium")

	res, err := s.CompleteTask(ctx, fresh.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Sweep)
	assert.True(t, res.Sweep.Ran)
	assert.Equal(t, []string{stale.ID}, res.Sweep.FailedTasks)
	assert.Equal(t, 7, res.Sweep.HPLost)

	got, err := s.GetTask(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFailed, got.Status)

	player, err := s.GetPlayer(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 43, player.CurrentHP)

	_, err = s.CompleteTask(ctx, stale.ID)
	assert.ErrorIs(t, err, domain.ErrTaskFinished)
}

func TestCompleteTask_RejectsDuelBoundTask(t *testing.T) {
	s, clk := newTestService(t)
	ctx := context.Background()
	a := mustPlayer(t, s, "Ada")
	b := mustPlayer(t, s, "Bo")
	task := mustTask(t, s, a.ID, "medium")

	now := clk.Now().Unix()
	duels := &store.DuelRepo{}
	require.NoError(t, duels.Create(ctx, s.DB, domain.Duel{
		ID: "duel-1", ChallengerID: a.ID, ChallengedID: b.ID, ChallengerHP: 100, ChallengedHP: 100,
		Status: domain.DuelSelecting, StateVersion: 1, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, s.Selections.Create(ctx, s.DB, domain.DuelSelection{
		ID: "sel-1", DuelID: "duel-1", PlayerID: a.ID, TaskID: task.ID, Difficulty: domain.DifficultyMedium, CreatedAt: now,
	}))

	_, err := s.CompleteTask(ctx, task.ID)
	assert.ErrorIs(t, err, domain.ErrTaskDuelBound)
	_, _, err = s.FailTask(ctx, task.ID)
	assert.ErrorIs(t, err, domain.ErrTaskDuelBound)

	moved, err := duels.Transition(ctx, s.DB, "duel-1", domain.DuelSelecting, domain.DuelCancelled, now)
	require.NoError(t, err)
	require.True(t, moved)

	_, err = s.CompleteTask(ctx, task.ID)
	assert.NoError(t, err, "a cancelled duel releases its tasks")
}

func TestFailTask(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	p := mustPlayer(t, s, "Ada")
	task := mustTask(t, s, p.ID, "medium")

	got, applied, err := s.FailTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFailed, got.Status)
	assert.Equal(t, -3, applied.HP)

	player, err := s.GetPlayer(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 47, player.CurrentHP)

	_, _, err = s.FailTask(ctx, task.ID)
	assert.ErrorIs(t, err, domain.ErrTaskFinished)
	_, _, err = s.FailTask(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestAssignPoint(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	p := mustPlayer(t, s, "Ada")

	_, err := s.AssignPoint(ctx, p.ID, AttrIntelligence)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = s.DB.ExecContext(ctx, `UPDATE players SET points_to_assign = 2 WHERE id = ?`, p.ID)
	require.NoError(t, err)

	_, err = s.AssignPoint(ctx, p.ID, "charisma")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	got, err := s.AssignPoint(ctx, p.ID, AttrIntelligence)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Intelligence)
	assert.Equal(t, 12, got.MaxMana)
	assert.Equal(t, 1, got.PointsToAssign)

	got, err = s.AssignPoint(ctx, p.ID, AttrConstitution)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Constitution)
	assert.Equal(t, 0, got.PointsToAssign)
}
