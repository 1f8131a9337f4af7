package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/rogers-f/taskraid/internal/domain"
	"github.com/rogers-f/taskraid/internal/progression"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TASKRAID_"

// JudgeConfig defines how to launch the evidence judge process. An empty
// command approves all evidence.
type JudgeConfig struct {
	Command    string            `json:"command" env:"COMMAND"`
	Args       []string          `json:"args" env:"ARGS" envSeparator:" "`
	Env        map[string]string `json:"env"`
	TimeoutSec int               `json:"timeout_sec" env:"TIMEOUT_SEC"`
}

// Config holds the server's runtime configuration.
type Config struct {
	DBPath             string      `json:"db_path" env:"DB_PATH"`
	EvidenceDir        string      `json:"evidence_dir" env:"EVIDENCE_DIR"`
	ListenAddr         string      `json:"listen_addr" env:"LISTEN_ADDR"`
	RateLimitPerMinute int         `json:"rate_limit_per_minute" env:"RATE_LIMIT_PER_MINUTE"`
	RedisAddr          string      `json:"redis_addr" env:"REDIS_ADDR"`
	Judge              JudgeConfig `json:"judge" envPrefix:"JUDGE_"`
	BalancePath        string      `json:"balance_path" env:"BALANCE_PATH"`
	OTelEndpoint       string      `json:"otel_endpoint" env:"OTEL_ENDPOINT"`
	RetryAttempts      int         `json:"retry_attempts" env:"RETRY_ATTEMPTS"`
	TickIntervalSec    int         `json:"tick_interval_sec" env:"TICK_INTERVAL_SEC"`
}

// Load reads a JSON config file, applies TASKRAID_ environment overrides,
// applies defaults, and validates. An empty path configures from the
// environment alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config JSON: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "taskraid.db"
	}
	if c.EvidenceDir == "" {
		c.EvidenceDir = "evidence"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":9800"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if c.Judge.TimeoutSec == 0 {
		c.Judge.TimeoutSec = 30
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.TickIntervalSec == 0 {
		c.TickIntervalSec = 60
	}
}

func (c *Config) validate() error {
	var problems []string

	if c.RateLimitPerMinute < -1 {
		problems = append(problems, "rate_limit_per_minute must be -1 (off) or positive")
	}
	if c.Judge.TimeoutSec < 0 {
		problems = append(problems, "judge.timeout_sec must be positive")
	}
	if c.Judge.Command == "" && len(c.Judge.Args) > 0 {
		problems = append(problems, "judge.args given without judge.command")
	}
	if c.RetryAttempts < 1 || c.RetryAttempts > 10 {
		problems = append(problems, "retry_attempts must be between 1 and 10")
	}
	if c.TickIntervalSec < -1 {
		problems = append(problems, "tick_interval_sec must be -1 (off) or positive")
	}

	return invalid(problems)
}

// LoadBalance reads a YAML balance file over the shipped defaults. Keys the
// file omits keep their default values. An empty path returns the defaults.
func LoadBalance(path string) (progression.Balance, error) {
	b := progression.DefaultBalance()
	if path == "" {
		return b, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return b, fmt.Errorf("read balance file: %w", err)
	}
	if err := yaml.Unmarshal(data, &b); err != nil {
		return b, fmt.Errorf("parse balance YAML: %w", err)
	}
	if err := invalid(b.Validate()); err != nil {
		return b, err
	}
	return b, nil
}

func invalid(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return &domain.EngineError{
		Code:    domain.ErrConfigInvalid.Code,
		Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
	}
}
