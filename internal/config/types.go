package config

import "time"

// ProviderConfig defines an LLM transport (CLI command, args, backend type).
// Providers are separate from agents; several agents can share one provider.
type ProviderConfig struct {
	Command string   `mapstructure:"command" yaml:"command"`     // CLI binary name (e.g., "claude", "goose")
	Args    []string `mapstructure:"args" yaml:"args,omitempty"` // Default args appended to every invocation
	Type    string   `mapstructure:"type" yaml:"type"`           // Backend type: "claude" or "goose"
}

// AgentConfig defines an agent persona backed by a provider.
type AgentConfig struct {
	Name         string   `mapstructure:"name" yaml:"name"`
	Role         string   `mapstructure:"role" yaml:"role,omitempty"`
	Description  string   `mapstructure:"description" yaml:"description,omitempty"`
	Goals        []string `mapstructure:"goals" yaml:"goals,omitempty"`
	Capabilities []string `mapstructure:"capabilities" yaml:"capabilities,omitempty"`
	Provider     string   `mapstructure:"provider" yaml:"provider"`     // Key into Providers
	Model        string   `mapstructure:"model" yaml:"model,omitempty"` // Overrides orchestration.model
	SystemPrompt string   `mapstructure:"system_prompt" yaml:"system_prompt,omitempty"`
	Tools        []string `mapstructure:"tools" yaml:"tools,omitempty"` // Allowed tool ids, empty means all
}

// OrchestrationConfig bounds each agent run.
type OrchestrationConfig struct {
	MaxIterations int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	Deadline      time.Duration `mapstructure:"deadline" yaml:"deadline"`       // Wall-clock budget per run
	LLMTimeout    time.Duration `mapstructure:"llm_timeout" yaml:"llm_timeout"` // Per completion call
	StopPolicy    string        `mapstructure:"stop_policy" yaml:"stop_policy"` // leave, block or fail
	Concurrency   int           `mapstructure:"concurrency" yaml:"concurrency"` // Runs in flight per process
	ContextWindow int           `mapstructure:"context_window" yaml:"context_window"`
	LeaseGrace    time.Duration `mapstructure:"lease_grace" yaml:"lease_grace"` // Added to Deadline for the lease TTL
	Model         string        `mapstructure:"model" yaml:"model,omitempty"`
}

// RetryConfig controls retries of transient LLM errors.
type RetryConfig struct {
	Enabled             bool          `mapstructure:"enabled" yaml:"enabled"`
	InitialInterval     time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval         time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	MaxElapsedTime      time.Duration `mapstructure:"max_elapsed_time" yaml:"max_elapsed_time"`
	Multiplier          float64       `mapstructure:"multiplier" yaml:"multiplier"`
	RandomizationFactor float64       `mapstructure:"randomization_factor" yaml:"randomization_factor"`
}

// StorageConfig selects the task repository.
type StorageConfig struct {
	Driver     string `mapstructure:"driver" yaml:"driver"` // sqlite or memory
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

// QueueConfig selects where task triggers come from.
type QueueConfig struct {
	Driver   string `mapstructure:"driver" yaml:"driver"` // memory or redis
	Buffer   int    `mapstructure:"buffer" yaml:"buffer"`
	RedisKey string `mapstructure:"redis_key" yaml:"redis_key"`
}

// LeaseConfig selects the per-task lease implementation.
type LeaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // memory or redis
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// RedisConfig is shared by the redis queue and lease drivers.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// AgentStoreConfig selects where agent definitions are looked up.
type AgentStoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // config or mysql
	DSN    string `mapstructure:"dsn" yaml:"dsn,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"` // json or text
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// Config is the top-level configuration.
type Config struct {
	Providers     map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
	Agents        map[string]AgentConfig    `mapstructure:"agents" yaml:"agents"`
	Orchestration OrchestrationConfig       `mapstructure:"orchestration" yaml:"orchestration"`
	Retry         RetryConfig               `mapstructure:"retry" yaml:"retry"`
	Storage       StorageConfig             `mapstructure:"storage" yaml:"storage"`
	Queue         QueueConfig               `mapstructure:"queue" yaml:"queue"`
	Lease         LeaseConfig               `mapstructure:"lease" yaml:"lease"`
	Redis         RedisConfig               `mapstructure:"redis" yaml:"redis"`
	AgentStore    AgentStoreConfig          `mapstructure:"agent_store" yaml:"agent_store"`
	Log           LogConfig                 `mapstructure:"log" yaml:"log"`
}
