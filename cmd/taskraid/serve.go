package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/rogers-f/taskraid/internal/clock"
	"github.com/rogers-f/taskraid/internal/config"
	"github.com/rogers-f/taskraid/internal/duel"
	"github.com/rogers-f/taskraid/internal/evidence"
	"github.com/rogers-f/taskraid/internal/guard"
	"github.com/rogers-f/taskraid/internal/ipc"
	"github.com/rogers-f/taskraid/internal/judge"
	"github.com/rogers-f/taskraid/internal/notify"
	"github.com/rogers-f/taskraid/internal/progression"
	"github.com/rogers-f/taskraid/internal/quest"
	"github.com/rogers-f/taskraid/internal/raid"
	"github.com/rogers-f/taskraid/internal/reward"
	"github.com/rogers-f/taskraid/internal/store"
	"github.com/rogers-f/taskraid/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		open       bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// --config flag > TASKRAID_CONFIG env > config.json next to the exe.
			path := configPath
			if path == "" {
				path = os.Getenv(config.EnvPrefix + "CONFIG")
			}
			if path == "" {
				path = discoverConfig()
			}
			return serve(cmd.Context(), path, open)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to configuration JSON file")
	cmd.Flags().BoolVar(&open, "open", false, "open the API URL in a browser once listening")
	return cmd
}

func serve(ctx context.Context, configPath string, open bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := log.New(os.Stderr, "taskraid: ", log.LstdFlags)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	balance, err := config.LoadBalance(cfg.BalancePath)
	if err != nil {
		return fmt.Errorf("load balance: %w", err)
	}

	shutdownTracing, err := telemetry.Setup(ctx, "taskraid", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Printf("telemetry shutdown: %v", err)
		}
	}()

	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Wire the shared reward pipeline.
	clk := clock.Real{}
	rewards := reward.NewEngine(db, progression.NewCalculator(balance), clk)
	rewards.Retries = cfg.RetryAttempts

	g := guard.NewGuard(clk, guard.GuardConfig{RateLimitPerMinute: cfg.RateLimitPerMinute})

	var broker notify.Broker = notify.NewLocal()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		broker = notify.NewRedis(client)
	}

	var j judge.Judge = judge.Approve()
	if cfg.Judge.Command != "" {
		cj, err := judge.NewCommandJudge(judge.CommandSpec{
			Command: cfg.Judge.Command,
			Args:    cfg.Judge.Args,
			Env:     cfg.Judge.Env,
			Timeout: time.Duration(cfg.Judge.TimeoutSec) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("judge: %w", err)
		}
		j = cj
	} else {
		logger.Println("no judge command configured, approving all evidence")
	}

	ev, err := evidence.NewStore(cfg.EvidenceDir)
	if err != nil {
		return fmt.Errorf("evidence store: %w", err)
	}

	raids := raid.NewEngine(rewards, g, broker, logger)
	duels := duel.NewEngine(rewards, raids, j, ev, g, broker, logger)
	quests := quest.NewService(rewards, raids, broker, logger)

	handler := &ipc.Handler{
		Quest:    quests,
		Raids:    raids,
		Duels:    duels,
		Evidence: ev,
		Broker:   broker,
		Logger:   logger,
	}
	srv := ipc.NewServer(handler, cfg.ListenAddr)

	// Background raid timers; -1 leaves them to request-time catch-up.
	var supervisor *raid.Supervisor
	if cfg.TickIntervalSec > 0 {
		supervisor = raid.NewSupervisor(raids, raid.SupervisorConfig{CheckIntervalSec: cfg.TickIntervalSec})
		supervisor.StartMonitoring(ctx)
	}

	// Graceful shutdown on interrupt.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		logger.Println("shutting down...")

		if supervisor != nil {
			supervisor.StopMonitoring()
		}

		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Printf("server shutdown: %v", err)
		}
	}()

	url := ipc.FormatListenURL(cfg.ListenAddr)
	logger.Printf("listening on %s", url)
	if open {
		openBrowser(url + "/api/v1/health")
	}

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// discoverConfig looks for config.json next to the executable, then in the cwd.
// An empty result means defaults plus environment overrides.
func discoverConfig() string {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "config.json")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if _, err := os.Stat("config.json"); err == nil {
		return "config.json"
	}
	return ""
}

// openBrowser opens the URL in the default browser.
func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		cmd = exec.Command("open", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	_ = cmd.Start()
}
