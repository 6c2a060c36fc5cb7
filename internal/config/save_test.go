package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "config.yaml")

	require.NoError(t, Save(DefaultConfig(), path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.False(t, info.IsDir())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Providers["goose"] = ProviderConfig{Command: "goose", Type: "goose", Args: []string{"--verbose"}}
	cfg.Agents["reviewer"] = AgentConfig{
		Name:         "Reviewer",
		Role:         "review",
		Goals:        []string{"find mistakes"},
		Capabilities: []string{"reading"},
		Provider:     "goose",
		Model:        "sonnet",
		Tools:        []string{"echo"},
	}
	cfg.Orchestration.MaxIterations = 6
	cfg.Orchestration.Deadline = 3 * time.Minute
	cfg.Orchestration.StopPolicy = "block"
	cfg.Queue.Driver = "redis"
	cfg.Log.Format = "json"

	require.NoError(t, Save(cfg, path))

	loaded, err := Load("", path)
	require.NoError(t, err)

	if diff := cmp.Diff(cfg, loaded, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("round trip mismatch (-saved +loaded):\n%s", diff)
	}
}

func TestSaveOverwritesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	first := DefaultConfig()
	first.Orchestration.MaxIterations = 2
	require.NoError(t, Save(first, path))

	second := DefaultConfig()
	second.Orchestration.MaxIterations = 9
	require.NoError(t, Save(second, path))

	loaded, err := Load("", path)
	require.NoError(t, err)
	assert.Equal(t, 9, loaded.Orchestration.MaxIterations)
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, Save(DefaultConfig(), path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "config.yaml", entries[0].Name())
}

func TestEncodeUsesYAMLKeys(t *testing.T) {
	data, err := Encode(DefaultConfig())
	require.NoError(t, err)
	assert.Contains(t, string(data), "max_iterations: 10")
	assert.Contains(t, string(data), "stop_policy: leave")
	assert.Contains(t, string(data), "deadline: 10m0s")
}
