package config

import (
	"fmt"
	"slices"
	"strings"
)

var (
	validStopPolicies  = []string{"leave", "block", "fail"}
	validStorage       = []string{"sqlite", "memory"}
	validQueue         = []string{"memory", "redis"}
	validLease         = []string{"memory", "redis"}
	validAgentStore    = []string{"config", "mysql"}
	validProviderTypes = []string{"claude", "goose"}
	validLogFormats    = []string{"json", "text"}
)

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	o := c.Orchestration
	if o.MaxIterations <= 0 {
		return fmt.Errorf("orchestration.max_iterations must be positive, got %d", o.MaxIterations)
	}
	if o.Deadline <= 0 {
		return fmt.Errorf("orchestration.deadline must be positive, got %s", o.Deadline)
	}
	if o.LLMTimeout <= 0 {
		return fmt.Errorf("orchestration.llm_timeout must be positive, got %s", o.LLMTimeout)
	}
	if o.Concurrency <= 0 {
		return fmt.Errorf("orchestration.concurrency must be positive, got %d", o.Concurrency)
	}
	if o.ContextWindow < 0 {
		return fmt.Errorf("orchestration.context_window must not be negative, got %d", o.ContextWindow)
	}
	if err := oneOf("orchestration.stop_policy", o.StopPolicy, validStopPolicies); err != nil {
		return err
	}
	if err := oneOf("storage.driver", c.Storage.Driver, validStorage); err != nil {
		return err
	}
	if c.Storage.Driver == "sqlite" && c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
	}
	if err := oneOf("queue.driver", c.Queue.Driver, validQueue); err != nil {
		return err
	}
	if err := oneOf("lease.driver", c.Lease.Driver, validLease); err != nil {
		return err
	}
	if (c.Queue.Driver == "redis" || c.Lease.Driver == "redis") && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when a redis driver is selected")
	}
	if err := oneOf("agent_store.driver", c.AgentStore.Driver, validAgentStore); err != nil {
		return err
	}
	if c.AgentStore.Driver == "mysql" && c.AgentStore.DSN == "" {
		return fmt.Errorf("agent_store.dsn is required for the mysql driver")
	}
	if err := oneOf("log.format", c.Log.Format, validLogFormats); err != nil {
		return err
	}

	for name, p := range c.Providers {
		if err := oneOf("providers."+name+".type", p.Type, validProviderTypes); err != nil {
			return err
		}
	}
	for id, a := range c.Agents {
		if _, ok := c.Providers[strings.ToLower(a.Provider)]; !ok {
			return fmt.Errorf("agent %q references unknown provider %q", id, a.Provider)
		}
	}
	return nil
}

func oneOf(key, value string, allowed []string) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, ", "), value)
}
