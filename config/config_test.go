package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Run("creates config with default values", func(t *testing.T) {
		config := DefaultConfig()

		assert.Equal(t, []string{"claude", "-p"}, config.WorkCommand)
		assert.Equal(t, SourceBeads, config.ReadinessSource)
		assert.Equal(t, "convoy/", config.BranchPrefix)
		assert.Equal(t, 2, config.InitialConcurrency)
		assert.Equal(t, 4, config.ConcurrencyCeiling)
		assert.Equal(t, 0.8, config.ScaleUpThreshold)
		assert.Equal(t, 0.5, config.ScaleDownThreshold)
		assert.Equal(t, 10, config.ScalingWindow)
		assert.Equal(t, 600*time.Second, config.WorkerTimeout())
		assert.Equal(t, time.Duration(0), config.BatchTimeout())
		assert.True(t, config.KeepConflictBranches)
		assert.NoError(t, config.Validate())
	})
}

func TestGetConfigDir(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configDir, err := GetConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tempHome, ".convoy"), configDir)
}

func TestLoadConfig(t *testing.T) {
	t.Run("returns default config when file doesn't exist", func(t *testing.T) {
		tempHome := t.TempDir()
		t.Setenv("HOME", tempHome)

		config := LoadConfig()

		assert.Equal(t, DefaultConfig(), config)
		assert.FileExists(t, filepath.Join(tempHome, ".convoy", ConfigFileName))
	})

	t.Run("loads valid config file", func(t *testing.T) {
		tempHome := t.TempDir()
		t.Setenv("HOME", tempHome)

		configDir := filepath.Join(tempHome, ".convoy")
		require.NoError(t, os.MkdirAll(configDir, 0755))

		configContent := `{
			"work_command": ["./agent.sh"],
			"concurrency_ceiling": 8,
			"max_batch_size": 6
		}`
		require.NoError(t, os.WriteFile(filepath.Join(configDir, ConfigFileName), []byte(configContent), 0644))

		config := LoadConfig()

		assert.Equal(t, []string{"./agent.sh"}, config.WorkCommand)
		assert.Equal(t, 8, config.ConcurrencyCeiling)
		assert.Equal(t, 6, config.MaxBatchSize)
		// Missing fields keep their defaults
		assert.Equal(t, 10, config.ScalingWindow)
		assert.Equal(t, SourceBeads, config.ReadinessSource)
	})

	t.Run("returns default config on invalid JSON", func(t *testing.T) {
		tempHome := t.TempDir()
		t.Setenv("HOME", tempHome)

		configDir := filepath.Join(tempHome, ".convoy")
		require.NoError(t, os.MkdirAll(configDir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(configDir, ConfigFileName), []byte(`{"max_batch_size": `), 0644))

		config := LoadConfig()

		assert.Equal(t, DefaultConfig(), config)
	})
}

func TestLoadForRepo(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	userConfig := DefaultConfig()
	userConfig.ConcurrencyCeiling = 6
	userConfig.MaxAttempts = 5
	require.NoError(t, SaveConfig(userConfig))

	t.Run("without repository override", func(t *testing.T) {
		config := LoadForRepo(t.TempDir())
		assert.Equal(t, 6, config.ConcurrencyCeiling)
		assert.Equal(t, 5, config.MaxAttempts)
	})

	t.Run("repository fields win", func(t *testing.T) {
		repo := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(repo, RepoDirName), 0755))
		override := `{"readiness_source": "queue", "max_attempts": 1}`
		require.NoError(t, os.WriteFile(filepath.Join(repo, RepoDirName, ConfigFileName), []byte(override), 0644))

		config := LoadForRepo(repo)
		assert.Equal(t, SourceQueue, config.ReadinessSource)
		assert.Equal(t, 1, config.MaxAttempts)
		assert.Equal(t, 6, config.ConcurrencyCeiling)
	})

	t.Run("broken repository file is ignored", func(t *testing.T) {
		repo := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(repo, RepoDirName), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(repo, RepoDirName, ConfigFileName), []byte("{"), 0644))

		config := LoadForRepo(repo)
		assert.Equal(t, 5, config.MaxAttempts)
	})
}

func TestSaveConfig(t *testing.T) {
	t.Run("saves config to file", func(t *testing.T) {
		tempHome := t.TempDir()
		t.Setenv("HOME", tempHome)

		testConfig := DefaultConfig()
		testConfig.WorkCommand = []string{"make", "agent"}
		testConfig.AbortBatchOnConflict = true

		err := SaveConfig(testConfig)
		assert.NoError(t, err)

		configPath := filepath.Join(tempHome, ".convoy", ConfigFileName)
		assert.FileExists(t, configPath)

		data, err := os.ReadFile(configPath)
		require.NoError(t, err)
		var saved Config
		require.NoError(t, json.Unmarshal(data, &saved))
		assert.Equal(t, *testConfig, saved)

		// No temp files left behind
		entries, err := os.ReadDir(filepath.Dir(configPath))
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "empty work command", mutate: func(c *Config) { c.WorkCommand = nil }, wantErr: "work_command"},
		{name: "unknown source", mutate: func(c *Config) { c.ReadinessSource = "jira" }, wantErr: "readiness_source"},
		{name: "ceiling below one", mutate: func(c *Config) { c.ConcurrencyCeiling = 0 }, wantErr: "concurrency_ceiling"},
		{name: "initial above ceiling", mutate: func(c *Config) { c.InitialConcurrency = 5 }, wantErr: "initial_concurrency"},
		{name: "threshold out of range", mutate: func(c *Config) { c.ScaleUpThreshold = 1.5 }, wantErr: "scale_up_threshold"},
		{name: "down above up", mutate: func(c *Config) { c.ScaleDownThreshold = 0.9 }, wantErr: "scale_down_threshold"},
		{name: "zero window", mutate: func(c *Config) { c.ScalingWindow = 0 }, wantErr: "scaling_window"},
		{name: "alpha out of range", mutate: func(c *Config) { c.EMAAlpha = 2 }, wantErr: "ema_alpha"},
		{name: "zero attempts", mutate: func(c *Config) { c.MaxAttempts = 0 }, wantErr: "max_attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "/repo/.convoy/metrics.jsonl", ResolvePath("/repo", ".convoy/metrics.jsonl"))
	assert.Equal(t, "/var/convoy/metrics.jsonl", ResolvePath("/repo", "/var/convoy//metrics.jsonl"))
}

func TestEnsureRepoDir(t *testing.T) {
	repo := t.TempDir()

	dir, err := EnsureRepoDir(repo)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(repo, RepoDirName), dir)

	data, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	require.NoError(t, err)
	assert.Equal(t, "*\n", string(data))

	// A user-edited ignore file is left alone.
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("worktrees/\n"), 0644))
	_, err = EnsureRepoDir(repo)
	require.NoError(t, err)
	data, err = os.ReadFile(filepath.Join(dir, ".gitignore"))
	require.NoError(t, err)
	assert.Equal(t, "worktrees/\n", string(data))
}
