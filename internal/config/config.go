// Package config handles configuration loading and management for banyan.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for banyan.
type Config struct {
	Anthropic    AnthropicConfig    `mapstructure:"anthropic"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Broker       BrokerConfig       `mapstructure:"broker"`
	Agents       AgentsConfig       `mapstructure:"agents"`
	Gate         GateConfig         `mapstructure:"gate"`
	Memory       MemoryConfig       `mapstructure:"memory"`
	Audit        AuditConfig        `mapstructure:"audit"`
	State        StateConfig        `mapstructure:"state"`
	TUI          TUIConfig          `mapstructure:"tui"`
}

// AnthropicConfig holds LLM provider settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	// UseAWSBedrock routes agent calls through AWS Bedrock instead of the direct API.
	UseAWSBedrock bool   `mapstructure:"use_aws_bedrock"`
	AWSRegion     string `mapstructure:"aws_region"`
	AWSProfile    string `mapstructure:"aws_profile"`
}

// Escalation is the sampling-temperature schedule applied on retries.
// The temperature for attempt n is min(Base + n*Step, Cap).
type Escalation struct {
	Base float64 `mapstructure:"base"`
	Step float64 `mapstructure:"step"`
	Cap  float64 `mapstructure:"cap"`
}

// TemperatureFor returns the sampling temperature for the given attempt count.
func (e Escalation) TemperatureFor(attempt int) float64 {
	if attempt < 0 {
		attempt = 0
	}
	t := e.Base + float64(attempt)*e.Step
	if t > e.Cap {
		return e.Cap
	}
	return t
}

// OrchestratorConfig holds run-loop settings.
type OrchestratorConfig struct {
	// MaxAttempts is how many rejections a node absorbs before decomposition.
	MaxAttempts int `mapstructure:"max_attempts"`
	// MaxDepth bounds recursive decomposition.
	MaxDepth   int        `mapstructure:"max_depth"`
	Escalation Escalation `mapstructure:"escalation"`
	// PlanTimeout bounds one Planner call.
	PlanTimeout time.Duration `mapstructure:"plan_timeout"`
	// ExecuteTimeout bounds one node's execute phase.
	ExecuteTimeout time.Duration `mapstructure:"execute_timeout"`
	// VerifyTimeout bounds one Verifier call.
	VerifyTimeout time.Duration `mapstructure:"verify_timeout"`
	// WorkerPool is the concurrency bound for independent plan steps.
	WorkerPool int `mapstructure:"worker_pool"`
}

// BrokerConfig holds tool-broker settings.
type BrokerConfig struct {
	// ServersFile is the path to the tool-server registry.
	ServersFile string `mapstructure:"servers_file"`
	// DescriptorTTL is how long cached tool descriptors stay fresh.
	DescriptorTTL time.Duration `mapstructure:"descriptor_ttl"`
	// CallTimeout is the default per-call deadline.
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	// Lifecycle selects the connection model, "pooled" or "spawn".
	Lifecycle string `mapstructure:"lifecycle"`
	// HealthInterval is how often pooled connections are probed. Zero disables.
	HealthInterval time.Duration `mapstructure:"health_interval"`
	// MaxPayloadBytes caps stored tool output.
	MaxPayloadBytes int `mapstructure:"max_payload_bytes"`
}

// AgentConfig holds settings for one agent role.
type AgentConfig struct {
	Model     string `mapstructure:"model"`
	MaxTokens int64  `mapstructure:"max_tokens"`
}

// AgentsConfig holds per-role agent settings.
type AgentsConfig struct {
	Planner  AgentConfig `mapstructure:"planner"`
	Executor AgentConfig `mapstructure:"executor"`
	Verifier AgentConfig `mapstructure:"verifier"`
}

// GateConfig holds danger-gate settings.
type GateConfig struct {
	// PolicyFile overrides the project .banyan.yaml danger_gate section.
	PolicyFile string `mapstructure:"policy_file"`
	// AutoApprove approves every held call without asking. For unattended runs.
	AutoApprove bool `mapstructure:"auto_approve"`
	// ApprovalTimeout is how long to wait for a decision before denying.
	ApprovalTimeout time.Duration `mapstructure:"approval_timeout"`
}

// MemoryConfig holds strategy-memory settings.
type MemoryConfig struct {
	Path string `mapstructure:"path"`
	// RecallLimit is the top-k bound for fingerprint recall.
	RecallLimit int `mapstructure:"recall_limit"`
}

// AuditConfig holds audit-ledger settings.
type AuditConfig struct {
	Path string `mapstructure:"path"`
}

// StateConfig holds run-state store settings.
type StateConfig struct {
	Path string `mapstructure:"path"`
}

// TUIConfig holds watch-view settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, BANYAN_AUTO_APPROVE)
// 2. Project config (.banyan.yaml in current directory or parent)
// 3. User config (~/.config/banyan/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("")

	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("gate.auto_approve", "BANYAN_AUTO_APPROVE")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("orchestrator.max_attempts", cfg.Orchestrator.MaxAttempts)
	v.Set("orchestrator.max_depth", cfg.Orchestrator.MaxDepth)
	v.Set("orchestrator.escalation.base", cfg.Orchestrator.Escalation.Base)
	v.Set("orchestrator.escalation.step", cfg.Orchestrator.Escalation.Step)
	v.Set("orchestrator.escalation.cap", cfg.Orchestrator.Escalation.Cap)
	v.Set("orchestrator.plan_timeout", cfg.Orchestrator.PlanTimeout.String())
	v.Set("orchestrator.execute_timeout", cfg.Orchestrator.ExecuteTimeout.String())
	v.Set("orchestrator.verify_timeout", cfg.Orchestrator.VerifyTimeout.String())
	v.Set("orchestrator.worker_pool", cfg.Orchestrator.WorkerPool)
	v.Set("broker.servers_file", cfg.Broker.ServersFile)
	v.Set("broker.descriptor_ttl", cfg.Broker.DescriptorTTL.String())
	v.Set("broker.call_timeout", cfg.Broker.CallTimeout.String())
	v.Set("broker.lifecycle", cfg.Broker.Lifecycle)
	v.Set("broker.health_interval", cfg.Broker.HealthInterval.String())
	v.Set("broker.max_payload_bytes", cfg.Broker.MaxPayloadBytes)
	v.Set("agents.planner.model", cfg.Agents.Planner.Model)
	v.Set("agents.planner.max_tokens", cfg.Agents.Planner.MaxTokens)
	v.Set("agents.executor.model", cfg.Agents.Executor.Model)
	v.Set("agents.executor.max_tokens", cfg.Agents.Executor.MaxTokens)
	v.Set("agents.verifier.model", cfg.Agents.Verifier.Model)
	v.Set("agents.verifier.max_tokens", cfg.Agents.Verifier.MaxTokens)
	v.Set("gate.policy_file", cfg.Gate.PolicyFile)
	v.Set("gate.auto_approve", cfg.Gate.AutoApprove)
	v.Set("gate.approval_timeout", cfg.Gate.ApprovalTimeout.String())
	v.Set("memory.path", cfg.Memory.Path)
	v.Set("memory.recall_limit", cfg.Memory.RecallLimit)
	v.Set("audit.path", cfg.Audit.Path)
	v.Set("state.path", cfg.State.Path)
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetServersFilePath returns the default path to the tool-server registry.
func GetServersFilePath() string {
	return filepath.Join(getUserConfigDir(), "servers.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// GetDataDir returns the XDG data directory for banyan.
func GetDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "banyan")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".local", "share", "banyan")
	}
	return filepath.Join(home, ".local", "share", "banyan")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	dataDir := GetDataDir()

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.use_aws_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("orchestrator.max_attempts", 3)
	v.SetDefault("orchestrator.max_depth", 5)
	v.SetDefault("orchestrator.escalation.base", 0.1)
	v.SetDefault("orchestrator.escalation.step", 0.2)
	v.SetDefault("orchestrator.escalation.cap", 1.0)
	v.SetDefault("orchestrator.plan_timeout", "2m")
	v.SetDefault("orchestrator.execute_timeout", "5m")
	v.SetDefault("orchestrator.verify_timeout", "2m")
	v.SetDefault("orchestrator.worker_pool", 4)

	v.SetDefault("broker.servers_file", GetServersFilePath())
	v.SetDefault("broker.descriptor_ttl", "5m")
	v.SetDefault("broker.call_timeout", "60s")
	v.SetDefault("broker.lifecycle", "pooled")
	v.SetDefault("broker.health_interval", "60s")
	v.SetDefault("broker.max_payload_bytes", 30000)

	v.SetDefault("agents.planner.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("agents.planner.max_tokens", 4096)
	v.SetDefault("agents.executor.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("agents.executor.max_tokens", 8192)
	v.SetDefault("agents.verifier.model", "claude-haiku-4-5-20251001")
	v.SetDefault("agents.verifier.max_tokens", 2048)

	v.SetDefault("gate.policy_file", "")
	v.SetDefault("gate.auto_approve", false)
	v.SetDefault("gate.approval_timeout", "5m")

	v.SetDefault("memory.path", filepath.Join(dataDir, "memory.db"))
	v.SetDefault("memory.recall_limit", 3)

	v.SetDefault("audit.path", filepath.Join(dataDir, "audit.db"))
	v.SetDefault("state.path", filepath.Join(dataDir, "state.db"))

	v.SetDefault("tui.refresh_rate", "100ms")
}

// getUserConfigDir returns the XDG config directory for banyan.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "banyan")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "banyan")
	}
	return filepath.Join(home, ".config", "banyan")
}

// findProjectConfig searches for .banyan.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".banyan.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	dataDir := GetDataDir()

	return &Config{
		Orchestrator: OrchestratorConfig{
			MaxAttempts:    3,
			MaxDepth:       5,
			Escalation:     Escalation{Base: 0.1, Step: 0.2, Cap: 1.0},
			PlanTimeout:    2 * time.Minute,
			ExecuteTimeout: 5 * time.Minute,
			VerifyTimeout:  2 * time.Minute,
			WorkerPool:     4,
		},
		Broker: BrokerConfig{
			ServersFile:     GetServersFilePath(),
			DescriptorTTL:   5 * time.Minute,
			CallTimeout:     60 * time.Second,
			Lifecycle:       "pooled",
			HealthInterval:  60 * time.Second,
			MaxPayloadBytes: 30000,
		},
		Agents: AgentsConfig{
			Planner:  AgentConfig{Model: "claude-sonnet-4-5-20250929", MaxTokens: 4096},
			Executor: AgentConfig{Model: "claude-sonnet-4-5-20250929", MaxTokens: 8192},
			Verifier: AgentConfig{Model: "claude-haiku-4-5-20251001", MaxTokens: 2048},
		},
		Gate: GateConfig{
			ApprovalTimeout: 5 * time.Minute,
		},
		Memory: MemoryConfig{
			Path:        filepath.Join(dataDir, "memory.db"),
			RecallLimit: 3,
		},
		Audit: AuditConfig{
			Path: filepath.Join(dataDir, "audit.db"),
		},
		State: StateConfig{
			Path: filepath.Join(dataDir, "state.db"),
		},
		TUI: TUIConfig{
			RefreshRate: 100 * time.Millisecond,
		},
	}
}
