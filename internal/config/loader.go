package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TASKFLOW_LOG_LEVEL.
const EnvPrefix = "TASKFLOW"

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): environment, project config,
// global config, defaults. Missing files are not errors; malformed YAML is.
// Map keys (provider and agent ids) come back lowercased.
func Load(globalPath, projectPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	layers := []struct {
		name string
		path string
	}{
		{"global", globalPath},
		{"project", projectPath},
	}
	for _, layer := range layers {
		if layer.path == "" {
			continue
		}
		if _, err := os.Stat(layer.path); errors.Is(err, fs.ErrNotExist) {
			continue // Missing file is not an error
		}
		v.SetConfigFile(layer.path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("loading %s config %s: %w", layer.name, layer.path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvironmentVariables(v)

	// Unmarshal over the defaults so absent keys keep their default values
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// DefaultPaths returns the conventional global and project config paths.
// Global: ~/.taskflow/config.yaml
// Project: .taskflow/config.yaml (relative to cwd)
func DefaultPaths() (globalPath, projectPath string, err error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".taskflow", "config.yaml"), filepath.Join(".taskflow", "config.yaml"), nil
}

// LoadDefault loads configuration from the conventional paths.
func LoadDefault() (*Config, error) {
	globalPath, projectPath, err := DefaultPaths()
	if err != nil {
		return nil, err
	}
	return Load(globalPath, projectPath)
}

// AutomaticEnv only resolves keys viper already knows about, so scalar
// settings that may be absent from every file are bound explicitly.
func bindEnvironmentVariables(v *viper.Viper) {
	keys := []string{
		"orchestration.max_iterations",
		"orchestration.deadline",
		"orchestration.llm_timeout",
		"orchestration.stop_policy",
		"orchestration.concurrency",
		"orchestration.context_window",
		"orchestration.lease_grace",
		"orchestration.model",
		"retry.enabled",
		"storage.driver",
		"storage.sqlite_path",
		"queue.driver",
		"queue.redis_key",
		"lease.driver",
		"redis.addr",
		"redis.password",
		"redis.db",
		"agent_store.driver",
		"agent_store.dsn",
		"log.level",
		"log.format",
		"log.file",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}
