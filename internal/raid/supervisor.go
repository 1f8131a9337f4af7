package raid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rogers-f/taskraid/internal/domain"
)

// SupervisorConfig holds tunable parameters for the supervisor loop.
type SupervisorConfig struct {
	CheckIntervalSec int
}

// CheckReport summarizes one supervisor pass.
type CheckReport struct {
	Ticked     int
	Failed     []string
	Supernovas []string
	Swept      int
	HPLost     int
}

// Supervisor periodically drives the timed effects of every active raid.
type Supervisor struct {
	Engine *Engine
	Config SupervisorConfig

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSupervisor creates a Supervisor with sensible defaults for zero-value config fields.
func NewSupervisor(e *Engine, cfg SupervisorConfig) *Supervisor {
	if cfg.CheckIntervalSec == 0 {
		cfg.CheckIntervalSec = 60
	}
	return &Supervisor{
		Engine: e,
		Config: cfg,
		stopCh: make(chan struct{}),
	}
}

// CheckAll ticks every active raid, then runs the daily overdue sweep for
// each member of the raids that are still active.
func (s *Supervisor) CheckAll(ctx context.Context) (*CheckReport, error) {
	e := s.Engine
	raids, err := e.Raids.ListByStatus(ctx, e.DB, domain.RaidActive)
	if err != nil {
		return nil, fmt.Errorf("list active raids: %w", err)
	}

	report := &CheckReport{}
	for _, raid := range raids {
		res, err := e.Tick(ctx, raid.ID)
		if err != nil {
			e.Logger.Printf("supervisor: tick raid %s: %v", raid.ID, err)
			continue
		}
		report.Ticked++
		if res.Supernova {
			report.Supernovas = append(report.Supernovas, raid.ID)
		}
		if res.Failed {
			report.Failed = append(report.Failed, raid.ID)
		}
		if res.Raid == nil || res.Raid.Status != domain.RaidActive {
			continue
		}

		members, err := e.Members.ListActive(ctx, e.DB, raid.ID)
		if err != nil {
			e.Logger.Printf("supervisor: members of raid %s: %v", raid.ID, err)
			continue
		}
		for _, m := range members {
			sweep, err := e.CheckDailyOverdueSweep(ctx, raid.ID, m.PlayerID)
			if errors.Is(err, domain.ErrRaidClosed) {
				break
			}
			if err != nil {
				e.Logger.Printf("supervisor: sweep %s in raid %s: %v", m.PlayerID, raid.ID, err)
				continue
			}
			if sweep.Ran {
				report.Swept++
				report.HPLost += sweep.HPLost
			}
		}
	}
	return report, nil
}

// StartMonitoring spawns a goroutine that periodically runs CheckAll.
func (s *Supervisor) StartMonitoring(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.Config.CheckIntervalSec) * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.CheckAll(ctx); err != nil {
					s.Engine.Logger.Printf("supervisor: %v", err)
				}
			}
		}
	}()
}

// StopMonitoring signals the monitoring goroutine to stop. Safe to call multiple times.
func (s *Supervisor) StopMonitoring() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
