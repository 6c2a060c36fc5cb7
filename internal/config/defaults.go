package config

import "time"

// DefaultConfig returns the built-in providers, agents and runtime settings.
func DefaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderConfig{
			"claude": {
				Command: "claude",
				Type:    "claude",
			},
			"goose": {
				Command: "goose",
				Type:    "goose",
			},
		},
		Agents: map[string]AgentConfig{
			"researcher": {
				Name:         "Researcher",
				Role:         "research",
				Description:  "Gathers information and summarises findings.",
				Goals:        []string{"Collect accurate sources", "Summarise clearly"},
				Provider:     "claude",
				SystemPrompt: "You research topics thoroughly and report concise findings.",
			},
			"writer": {
				Name:         "Writer",
				Role:         "writing",
				Description:  "Turns notes into finished documents.",
				Goals:        []string{"Produce clear, well-structured text"},
				Provider:     "claude",
				SystemPrompt: "You write clear, well-structured documents.",
			},
		},
		Orchestration: OrchestrationConfig{
			MaxIterations: 10,
			Deadline:      10 * time.Minute,
			LLMTimeout:    30 * time.Second,
			StopPolicy:    "leave",
			Concurrency:   4,
			ContextWindow: 8,
			LeaseGrace:    30 * time.Second,
		},
		Retry: RetryConfig{
			Enabled:             true,
			InitialInterval:     1 * time.Second,
			MaxInterval:         30 * time.Second,
			MaxElapsedTime:      2 * time.Minute,
			Multiplier:          2.0,
			RandomizationFactor: 0.1,
		},
		Storage: StorageConfig{
			Driver:     "sqlite",
			SQLitePath: ".taskflow/taskflow.db",
		},
		Queue: QueueConfig{
			Driver:   "memory",
			Buffer:   128,
			RedisKey: "taskflow:triggers",
		},
		Lease: LeaseConfig{
			Driver: "memory",
			Prefix: "taskflow:lease:",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		AgentStore: AgentStoreConfig{
			Driver: "config",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}
