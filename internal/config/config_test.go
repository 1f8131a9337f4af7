package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rogers-f/taskraid/internal/domain"
)

// validJSON returns a minimal valid configuration JSON string.
func validJSON() string {
	return `{
		"db_path": "/tmp/test.db",
		"evidence_dir": "/tmp/evidence",
		"judge": {
			"command": "judge-bin",
			"args": ["--model", "small"],
			"env": {"JUDGE_TOKEN": "x"}
		}
	}`
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func requireConfigInvalid(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var engineErr *domain.EngineError
	if !errors.As(err, &engineErr) {
		t.Fatalf("expected EngineError, got %T", err)
	}
	if engineErr.Code != domain.ErrConfigInvalid.Code {
		t.Errorf("Code = %d, want %d", engineErr.Code, domain.ErrConfigInvalid.Code)
	}
}

func TestLoad_Valid(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", validJSON())

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("DBPath = %q, want /tmp/test.db", cfg.DBPath)
	}
	if cfg.EvidenceDir != "/tmp/evidence" {
		t.Errorf("EvidenceDir = %q, want /tmp/evidence", cfg.EvidenceDir)
	}
	if cfg.Judge.Command != "judge-bin" {
		t.Errorf("Judge.Command = %q, want judge-bin", cfg.Judge.Command)
	}
	if len(cfg.Judge.Args) != 2 {
		t.Errorf("Judge.Args = %v, want 2 args", cfg.Judge.Args)
	}
	if cfg.Judge.Env["JUDGE_TOKEN"] != "x" {
		t.Errorf("Judge.Env = %v", cfg.Judge.Env)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{not valid json}`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.DBPath != "taskraid.db" {
		t.Errorf("DBPath = %q, want taskraid.db", cfg.DBPath)
	}
	if cfg.ListenAddr != ":9800" {
		t.Errorf("ListenAddr = %q, want :9800", cfg.ListenAddr)
	}
	if cfg.RateLimitPerMinute != 60 {
		t.Errorf("RateLimitPerMinute = %d, want 60", cfg.RateLimitPerMinute)
	}
	if cfg.Judge.TimeoutSec != 30 {
		t.Errorf("Judge.TimeoutSec = %d, want 30", cfg.Judge.TimeoutSec)
	}
	if cfg.RetryAttempts != 3 {
		t.Errorf("RetryAttempts = %d, want 3", cfg.RetryAttempts)
	}
	if cfg.TickIntervalSec != 60 {
		t.Errorf("TickIntervalSec = %d, want 60", cfg.TickIntervalSec)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", validJSON())
	t.Setenv("TASKRAID_DB_PATH", "/data/raid.db")
	t.Setenv("TASKRAID_RATE_LIMIT_PER_MINUTE", "5")
	t.Setenv("TASKRAID_REDIS_ADDR", "localhost:6379")
	t.Setenv("TASKRAID_JUDGE_TIMEOUT_SEC", "12")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != "/data/raid.db" {
		t.Errorf("DBPath = %q, want /data/raid.db", cfg.DBPath)
	}
	if cfg.RateLimitPerMinute != 5 {
		t.Errorf("RateLimitPerMinute = %d, want 5", cfg.RateLimitPerMinute)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr = %q", cfg.RedisAddr)
	}
	if cfg.Judge.TimeoutSec != 12 {
		t.Errorf("Judge.TimeoutSec = %d, want 12", cfg.Judge.TimeoutSec)
	}
	if cfg.Judge.Command != "judge-bin" {
		t.Errorf("Judge.Command = %q, want the file value kept", cfg.Judge.Command)
	}
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("TASKRAID_RETRY_ATTEMPTS", "many")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for non-numeric env value, got nil")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"negative rate limit", `{"rate_limit_per_minute": -5}`},
		{"negative judge timeout", `{"judge": {"timeout_sec": -1}}`},
		{"args without command", `{"judge": {"args": ["x"]}}`},
		{"retry attempts too high", `{"retry_attempts": 50}`},
		{"negative tick interval", `{"tick_interval_sec": -3}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.json", tt.json)
			_, err := Load(path)
			requireConfigInvalid(t, err)
		})
	}
}

func TestLoad_RateLimitOff(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.json", `{"rate_limit_per_minute": -1}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RateLimitPerMinute != -1 {
		t.Errorf("RateLimitPerMinute = %d, want -1", cfg.RateLimitPerMinute)
	}
}

func TestLoadBalance_Defaults(t *testing.T) {
	b, err := LoadBalance("")
	if err != nil {
		t.Fatalf("LoadBalance: %v", err)
	}
	if b.Raid.SkillEvery != 3 {
		t.Errorf("Raid.SkillEvery = %d, want 3", b.Raid.SkillEvery)
	}
}

func TestLoadBalance_PartialOverride(t *testing.T) {
	path := writeFile(t, t.TempDir(), "balance.yaml", `
raid:
  crit_chance: 0.3
  charge_window_hours: 48
duel:
  required_tasks: 3
`)
	b, err := LoadBalance(path)
	if err != nil {
		t.Fatalf("LoadBalance: %v", err)
	}
	if b.Raid.CritChance != 0.3 {
		t.Errorf("Raid.CritChance = %v, want 0.3", b.Raid.CritChance)
	}
	if b.Raid.ChargeWindowHours != 48 {
		t.Errorf("Raid.ChargeWindowHours = %d, want 48", b.Raid.ChargeWindowHours)
	}
	if b.Duel.RequiredTasks != 3 {
		t.Errorf("Duel.RequiredTasks = %d, want 3", b.Duel.RequiredTasks)
	}
	if b.Raid.SkillEvery != 3 {
		t.Errorf("Raid.SkillEvery = %d, want default 3", b.Raid.SkillEvery)
	}
	if b.BaseXP.Hard != 25 {
		t.Errorf("BaseXP.Hard = %v, want default 25", b.BaseXP.Hard)
	}
}

func TestLoadBalance_Invalid(t *testing.T) {
	path := writeFile(t, t.TempDir(), "balance.yaml", `
raid:
  crit_chance: 1.5
`)
	_, err := LoadBalance(path)
	requireConfigInvalid(t, err)
}

func TestLoadBalance_BadYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "balance.yaml", "raid: [unterminated")
	if _, err := LoadBalance(path); err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}
