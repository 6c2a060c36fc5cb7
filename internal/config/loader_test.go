package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		global  string
		project string
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "no config files returns defaults",
			check: func(t *testing.T, cfg *Config) {
				assert.Len(t, cfg.Providers, 2)
				assert.Len(t, cfg.Agents, 2)
				assert.Equal(t, 10, cfg.Orchestration.MaxIterations)
				assert.Equal(t, 30*time.Second, cfg.Orchestration.LLMTimeout)
				assert.Equal(t, "leave", cfg.Orchestration.StopPolicy)
			},
		},
		{
			name: "global adds an agent",
			global: `
agents:
  editor:
    name: Editor
    provider: goose
    goals: [tighten prose]
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Len(t, cfg.Agents, 3)
				assert.Equal(t, "goose", cfg.Agents["editor"].Provider)
				assert.Equal(t, []string{"tighten prose"}, cfg.Agents["editor"].Goals)
			},
		},
		{
			name: "project overrides global",
			global: `
orchestration:
  max_iterations: 20
  deadline: 5m
`,
			project: `
orchestration:
  max_iterations: 3
agents:
  writer:
    name: Writer
    provider: goose
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 3, cfg.Orchestration.MaxIterations)
				assert.Equal(t, 5*time.Minute, cfg.Orchestration.Deadline, "global value survives where project is silent")
				assert.Equal(t, 30*time.Second, cfg.Orchestration.LLMTimeout, "default survives where both are silent")
				assert.Equal(t, "goose", cfg.Agents["writer"].Provider)
				assert.Len(t, cfg.Agents, 2)
			},
		},
		{
			name: "mixed-case keys are lowercased",
			project: `
providers:
  LocalClaude:
    command: claude
    type: claude
agents:
  Planner:
    name: Planner
    provider: LocalClaude
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Contains(t, cfg.Providers, "localclaude")
				assert.Contains(t, cfg.Agents, "planner")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			globalPath := filepath.Join(dir, "global", "config.yaml")
			projectPath := filepath.Join(dir, "project", "config.yaml")
			if tt.global != "" {
				writeFile(t, globalPath, tt.global)
			}
			if tt.project != "" {
				writeFile(t, projectPath, tt.project)
			}

			cfg, err := Load(globalPath, projectPath)
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	projectPath := filepath.Join(dir, "config.yaml")
	writeFile(t, projectPath, "orchestration:\n  max_iterations: 7\n")

	t.Setenv("TASKFLOW_ORCHESTRATION_MAX_ITERATIONS", "4")
	t.Setenv("TASKFLOW_ORCHESTRATION_DEADLINE", "90s")
	t.Setenv("TASKFLOW_LOG_LEVEL", "debug")

	cfg, err := Load("", projectPath)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Orchestration.MaxIterations)
	assert.Equal(t, 90*time.Second, cfg.Orchestration.Deadline)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	projectPath := filepath.Join(dir, "config.yaml")
	writeFile(t, projectPath, "agents: [unclosed\n")

	_, err := Load("", projectPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project config")
	assert.Contains(t, err.Error(), projectPath)
}

func TestLoad_MissingFilesNotError(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "nope.yaml"), filepath.Join(dir, "also-nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Orchestration, cfg.Orchestration)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		project string
		wantErr string
	}{
		{name: "zero iterations", project: "orchestration:\n  max_iterations: 0\n", wantErr: "max_iterations"},
		{name: "unknown stop policy", project: "orchestration:\n  stop_policy: explode\n", wantErr: "stop_policy"},
		{name: "unknown queue driver", project: "queue:\n  driver: kafka\n", wantErr: "queue.driver"},
		{name: "mysql without dsn", project: "agent_store:\n  driver: mysql\n", wantErr: "agent_store.dsn"},
		{name: "agent with unknown provider", project: "agents:\n  x:\n    name: X\n    provider: openai\n", wantErr: "unknown provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			projectPath := filepath.Join(t.TempDir(), "config.yaml")
			writeFile(t, projectPath, tt.project)

			_, err := Load("", projectPath)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "error %q should mention %q", err, tt.wantErr)
		})
	}
}
