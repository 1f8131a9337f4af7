package raid

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rogers-f/taskraid/internal/domain"
)

func TestSupervisor_CheckAll(t *testing.T) {
	e, clk := newTestEngine(t)
	ctx := context.Background()
	seedPlayer(t, e, domain.Player{ID: "p-1"})
	seedPlayer(t, e, domain.Player{ID: "p-2"})

	short, err := e.Start(ctx, StartInput{
		LeaderID: "p-1", BossName: "Boss", BossMaxHP: 100, Deadline: clk.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	long := startRaid(t, e, "p-2", 10000)
	require.NoError(t, e.Tasks.Create(ctx, e.DB, domain.Task{
		ID: "t-old", OwnerID: "p-2", Title: "old", Difficulty: domain.DifficultyEasy, CreatedAt: clk.Now().Unix(),
	}))

	clk.Advance(24 * time.Hour)
	s := NewSupervisor(e, SupervisorConfig{})
	report, err := s.CheckAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Ticked)
	assert.Equal(t, []string{short.ID}, report.Failed)
	assert.Empty(t, report.Supernovas)
	assert.Equal(t, 1, report.Swept)
	assert.Equal(t, 7, report.HPLost)
	assert.Equal(t, 43, getPlayer(t, e, "p-2").CurrentHP)
	assert.Equal(t, 50, getPlayer(t, e, "p-1").CurrentHP)

	got, err := e.Get(ctx, long.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RaidActive, got.Status)

	report, err = s.CheckAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Ticked)
	assert.Zero(t, report.Swept)
}

func TestSupervisor_StopIsIdempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	s := NewSupervisor(e, SupervisorConfig{CheckIntervalSec: 3600})
	assert.Equal(t, 3600, s.Config.CheckIntervalSec)

	s.StartMonitoring(context.Background())
	s.StopMonitoring()
	s.StopMonitoring()
}
