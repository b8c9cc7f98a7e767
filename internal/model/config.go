package model

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Graph        GraphConfig        `yaml:"graph"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Await        AwaitConfig        `yaml:"await"`
	Executor     ExecutorConfig     `yaml:"executor"`
	Review       ReviewConfig       `yaml:"review"`
	Retry        RetryConfig        `yaml:"retry"`
	Validation   ValidationConfig   `yaml:"validation"`
	Report       ReportConfig       `yaml:"report"`
	Notify       NotifyConfig       `yaml:"notify"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type GraphConfig struct {
	Path      string `yaml:"path"`
	RemoteURL string `yaml:"remote_url"`
	TokenEnv  string `yaml:"token_env"` // bearer token for remote_url
	LockPath  string `yaml:"lock_path"` // default <path>.lock
}

type OrchestratorConfig struct {
	MaxParallel      int    `yaml:"max_parallel"` // 0 = no cap
	Mode             string `yaml:"mode"`         // "continuous" or "single"
	DryRun           bool   `yaml:"dry_run"`
	BatchIntervalSec int    `yaml:"batch_interval_sec"`
	MaxIterations    int    `yaml:"max_iterations"` // 0 = unlimited
	MaxStallRetries  int    `yaml:"max_stall_retries"` // 0 = halt on the first stall
	SearchBudget     int    `yaml:"search_budget"` // branch-and-bound node budget for batch selection
}

type AwaitConfig struct {
	PollIntervalSec int `yaml:"poll_interval_sec"`
	TimeoutMin      int `yaml:"timeout_min"`
}

type ExecutorConfig struct {
	BaseURL          string `yaml:"base_url"`
	APIKeyEnv        string `yaml:"api_key_env"`
	SubmitTimeoutSec int    `yaml:"submit_timeout_sec"`
	PollIntervalSec  int    `yaml:"poll_interval_sec"`
	TargetRepo       string `yaml:"target_repo"`
	PromptTemplate   string `yaml:"prompt_template"`

	CompatibilityCheck CheckConfig `yaml:"compatibility_check"`
	Verification       CheckConfig `yaml:"verification"`
}

// CheckConfig enables a batch-level check session. An empty PromptTemplate
// uses the embedded default.
type CheckConfig struct {
	Enabled        bool   `yaml:"enabled"`
	PromptTemplate string `yaml:"prompt_template"`
}

type ReviewConfig struct {
	Provider      string `yaml:"provider"` // "gh"
	GHBinary      string `yaml:"gh_binary"`
	CacheMaxBytes int64  `yaml:"cache_max_bytes"`
}

type RetryConfig struct {
	MaxDispatchAttempts int `yaml:"max_dispatch_attempts"` // 0 = unlimited
}

type ValidationConfig struct {
	Categories          []string `yaml:"categories"`
	ValidatorCategories []string `yaml:"validator_categories"`
	MaxTitleWords       int      `yaml:"max_title_words"`
	MaxContentChars     int      `yaml:"max_content_chars"`
}

func (c ExecutorConfig) SubmitTimeout() time.Duration {
	return time.Duration(c.SubmitTimeoutSec) * time.Second
}

func (c ExecutorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

type ReportConfig struct {
	Path          string `yaml:"path"`
	AuditLog      string `yaml:"audit_log"` // "" disables the audit log
	AuditMaxBytes int64  `yaml:"audit_max_bytes"`
	AuditChecksum bool   `yaml:"audit_checksum"`
}

type NotifyConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

const (
	ModeContinuous = "continuous"
	ModeSingle     = "single"
)

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	cfg := Config{
		Orchestrator: OrchestratorConfig{MaxStallRetries: 10},
		Report:       ReportConfig{AuditChecksum: true},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued settings with their defaults. Settings
// where zero is meaningful (max_stall_retries, audit_checksum) are only
// defaulted by DefaultConfig and LoadConfig.
func (c *Config) ApplyDefaults() {
	if c.Graph.Path == "" {
		c.Graph.Path = "migration_plan.yaml"
	}
	if c.Graph.TokenEnv == "" {
		c.Graph.TokenEnv = "GITHUB_TOKEN"
	}
	if c.Orchestrator.Mode == "" {
		c.Orchestrator.Mode = ModeContinuous
	}
	if c.Orchestrator.BatchIntervalSec <= 0 {
		c.Orchestrator.BatchIntervalSec = 30
	}
	if c.Orchestrator.SearchBudget <= 0 {
		c.Orchestrator.SearchBudget = 200000
	}
	if c.Await.PollIntervalSec <= 0 {
		c.Await.PollIntervalSec = 30
	}
	if c.Await.TimeoutMin <= 0 {
		c.Await.TimeoutMin = 60
	}
	if c.Executor.BaseURL == "" {
		c.Executor.BaseURL = "https://api.devin.ai/v1"
	}
	if c.Executor.APIKeyEnv == "" {
		c.Executor.APIKeyEnv = "SESSION_API_KEY"
	}
	if c.Executor.SubmitTimeoutSec <= 0 {
		c.Executor.SubmitTimeoutSec = 600
	}
	if c.Executor.PollIntervalSec <= 0 {
		c.Executor.PollIntervalSec = 10
	}
	if c.Review.Provider == "" {
		c.Review.Provider = "gh"
	}
	if c.Review.GHBinary == "" {
		c.Review.GHBinary = "gh"
	}
	if c.Review.CacheMaxBytes <= 0 {
		c.Review.CacheMaxBytes = 1 << 20
	}
	if len(c.Validation.Categories) == 0 {
		c.Validation.Categories = append([]string(nil), DefaultCategories...)
	}
	if len(c.Validation.ValidatorCategories) == 0 {
		c.Validation.ValidatorCategories = []string{CategoryValidator}
	}
	if c.Validation.MaxTitleWords <= 0 {
		c.Validation.MaxTitleWords = 20
	}
	if c.Validation.MaxContentChars <= 0 {
		c.Validation.MaxContentChars = 4000
	}
	if c.Report.Path == "" {
		c.Report.Path = ".migrun/report.yaml"
	}
	if c.Report.AuditMaxBytes <= 0 {
		c.Report.AuditMaxBytes = 10 << 20
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate rejects settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Orchestrator.Mode {
	case ModeContinuous, ModeSingle:
	default:
		return fmt.Errorf("orchestrator.mode: must be %q or %q, got %q", ModeContinuous, ModeSingle, c.Orchestrator.Mode)
	}
	if c.Orchestrator.MaxParallel < 0 {
		return fmt.Errorf("orchestrator.max_parallel: must be >= 0, got %d", c.Orchestrator.MaxParallel)
	}
	if c.Orchestrator.MaxStallRetries < 0 {
		return fmt.Errorf("orchestrator.max_stall_retries: must be >= 0, got %d", c.Orchestrator.MaxStallRetries)
	}
	if c.Retry.MaxDispatchAttempts < 0 {
		return fmt.Errorf("retry.max_dispatch_attempts: must be >= 0, got %d", c.Retry.MaxDispatchAttempts)
	}
	if c.Review.Provider != "gh" {
		return fmt.Errorf("review.provider: unsupported provider %q", c.Review.Provider)
	}
	return nil
}

// Lock returns the lock file path guarding the plan.
func (c GraphConfig) Lock() string {
	if c.LockPath != "" {
		return c.LockPath
	}
	return c.Path + ".lock"
}

func (c AwaitConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

func (c AwaitConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMin) * time.Minute
}

func (c OrchestratorConfig) BatchInterval() time.Duration {
	return time.Duration(c.BatchIntervalSec) * time.Second
}

func (c OrchestratorConfig) Continuous() bool {
	return c.Mode == ModeContinuous
}

// LoadConfig reads a YAML config file over the defaults. Keys absent from the
// file keep their default; a missing file yields the default config.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
	}
	cfg.ApplyDefaults()
	return cfg, nil
}
