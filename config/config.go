package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ByteMirror/convoy/log"
)

const (
	ConfigFileName = "config.json"
	// RepoDirName is the per-repository directory holding overrides, metrics, queue and worktrees.
	RepoDirName = ".convoy"
)

// Readiness source kinds.
const (
	SourceBeads = "beads"
	SourceQueue = "queue"
)

// GetConfigDir returns the path to the application's configuration directory
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config home directory: %w", err)
	}
	return filepath.Join(homeDir, RepoDirName), nil
}

// Config represents the application configuration
type Config struct {
	// WorkCommand is the argv of the work procedure. The work item id is appended.
	WorkCommand []string `json:"work_command"`
	// UsePTY runs the work procedure attached to a pseudo-terminal.
	UsePTY bool `json:"use_pty"`
	// ReadinessSource selects where work items come from: "beads" or "queue".
	ReadinessSource string `json:"readiness_source"`
	// BdExecutable is the bd CLI used by the beads readiness source.
	BdExecutable string `json:"bd_executable"`
	// QueueFile is the YAML queue used by the queue readiness source, relative to the repo root.
	QueueFile string `json:"queue_file"`
	// MetricsFile is the append-only batch history, relative to the repo root.
	MetricsFile string `json:"metrics_file"`
	// WorktreeDir holds per-session worktrees, relative to the repo root.
	WorktreeDir string `json:"worktree_dir"`
	// BranchPrefix is prepended to every session branch.
	BranchPrefix string `json:"branch_prefix"`

	MaxBatchSize       int     `json:"max_batch_size"`
	InitialConcurrency int     `json:"initial_concurrency"`
	ConcurrencyCeiling int     `json:"concurrency_ceiling"`
	ScaleUpThreshold   float64 `json:"scale_up_threshold"`
	ScaleDownThreshold float64 `json:"scale_down_threshold"`
	ScalingWindow      int     `json:"scaling_window"`
	// EMAAlpha is the smoothing factor of the success-rate average. Zero means 2/(ScalingWindow+1).
	EMAAlpha float64 `json:"ema_alpha"`

	WorkerTimeoutSeconds int `json:"worker_timeout_seconds"`
	// BatchTimeoutSeconds cancels still-running sessions of a batch. Zero disables it.
	BatchTimeoutSeconds int `json:"batch_timeout_seconds"`
	// AbortBatchOnConflict restores the baseline and rolls back the whole batch on the first conflict.
	AbortBatchOnConflict bool `json:"abort_batch_on_conflict"`
	// MaxAttempts bounds how often one item is tried within a single run.
	MaxAttempts int `json:"max_attempts"`
	// KeepConflictBranches keeps the branches of rolled-back candidates for inspection.
	KeepConflictBranches bool `json:"keep_conflict_branches"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		WorkCommand:          []string{"claude", "-p"},
		UsePTY:               false,
		ReadinessSource:      SourceBeads,
		BdExecutable:         "bd",
		QueueFile:            filepath.Join(RepoDirName, "queue.yaml"),
		MetricsFile:          filepath.Join(RepoDirName, "metrics.jsonl"),
		WorktreeDir:          filepath.Join(RepoDirName, "worktrees"),
		BranchPrefix:         "convoy/",
		MaxBatchSize:         4,
		InitialConcurrency:   2,
		ConcurrencyCeiling:   4,
		ScaleUpThreshold:     0.8,
		ScaleDownThreshold:   0.5,
		ScalingWindow:        10,
		WorkerTimeoutSeconds: 600,
		MaxAttempts:          3,
		KeepConflictBranches: true,
	}
}

// LoadConfig loads the configuration from disk. If it cannot be done, we return the default configuration.
func LoadConfig() *Config {
	configDir, err := GetConfigDir()
	if err != nil {
		log.ErrorLog.Printf("failed to get config directory: %v", err)
		return DefaultConfig()
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Create and save default config if file doesn't exist
			defaultCfg := DefaultConfig()
			if saveErr := saveConfig(defaultCfg); saveErr != nil {
				log.WarningLog.Printf("failed to save default config: %v", saveErr)
			}
			return defaultCfg
		}

		log.WarningLog.Printf("failed to get config file: %v", err)
		return DefaultConfig()
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		log.ErrorLog.Printf("failed to parse config file: %v", err)
		return DefaultConfig()
	}

	return config
}

// LoadForRepo loads the user configuration and applies <repoRoot>/.convoy/config.json on top of it.
// Only the fields present in the repository file override the user values.
func LoadForRepo(repoRoot string) *Config {
	config := LoadConfig()

	repoPath := filepath.Join(repoRoot, RepoDirName, ConfigFileName)
	data, err := os.ReadFile(repoPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.WarningLog.Printf("failed to read repository config %s: %v", repoPath, err)
		}
		return config
	}

	overridden := *config
	if err := json.Unmarshal(data, &overridden); err != nil {
		log.ErrorLog.Printf("failed to parse repository config %s: %v", repoPath, err)
		return config
	}
	return &overridden
}

// Validate reports the first setting that would make the coordinator misbehave.
func (c *Config) Validate() error {
	switch {
	case len(c.WorkCommand) == 0 || c.WorkCommand[0] == "":
		return errors.New("work_command must not be empty")
	case c.ReadinessSource != SourceBeads && c.ReadinessSource != SourceQueue:
		return fmt.Errorf("unknown readiness_source %q", c.ReadinessSource)
	case c.ConcurrencyCeiling < 1:
		return fmt.Errorf("concurrency_ceiling must be at least 1, got %d", c.ConcurrencyCeiling)
	case c.InitialConcurrency < 1 || c.InitialConcurrency > c.ConcurrencyCeiling:
		return fmt.Errorf("initial_concurrency must be within [1, %d], got %d", c.ConcurrencyCeiling, c.InitialConcurrency)
	case c.ScaleUpThreshold < 0 || c.ScaleUpThreshold > 1:
		return fmt.Errorf("scale_up_threshold must be within [0, 1], got %v", c.ScaleUpThreshold)
	case c.ScaleDownThreshold < 0 || c.ScaleDownThreshold > 1:
		return fmt.Errorf("scale_down_threshold must be within [0, 1], got %v", c.ScaleDownThreshold)
	case c.ScaleDownThreshold > c.ScaleUpThreshold:
		return fmt.Errorf("scale_down_threshold %v is above scale_up_threshold %v", c.ScaleDownThreshold, c.ScaleUpThreshold)
	case c.ScalingWindow < 1:
		return fmt.Errorf("scaling_window must be at least 1, got %d", c.ScalingWindow)
	case c.EMAAlpha < 0 || c.EMAAlpha > 1:
		return fmt.Errorf("ema_alpha must be within [0, 1], got %v", c.EMAAlpha)
	case c.MaxBatchSize < 1:
		return fmt.Errorf("max_batch_size must be at least 1, got %d", c.MaxBatchSize)
	case c.MaxAttempts < 1:
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	return nil
}

// WorkerTimeout returns the per-procedure timeout. Zero means none.
func (c *Config) WorkerTimeout() time.Duration {
	return time.Duration(c.WorkerTimeoutSeconds) * time.Second
}

// BatchTimeout returns the batch-level timeout. Zero means none.
func (c *Config) BatchTimeout() time.Duration {
	return time.Duration(c.BatchTimeoutSeconds) * time.Second
}

// ResolvePath anchors a configured path at the repository root unless it is already absolute.
func ResolvePath(repoRoot, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(repoRoot, path)
}

// saveConfig saves the configuration to disk
func saveConfig(config *Config) error {
	configDir, err := GetConfigDir()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %w", err)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return AtomicWriteFile(configPath, data, 0644)
}

// SaveConfig exports the saveConfig function for use by other packages
func SaveConfig(config *Config) error {
	return saveConfig(config)
}

// EnsureRepoDir creates <repoRoot>/.convoy and a .gitignore inside it, so worktrees, metrics
// and logs never show up as uncommitted changes of the workspace.
func EnsureRepoDir(repoRoot string) (string, error) {
	dir := filepath.Join(repoRoot, RepoDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	ignorePath := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(ignorePath); err == nil {
		return dir, nil
	}
	if err := AtomicWriteFile(ignorePath, []byte("*\n"), 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", ignorePath, err)
	}
	return dir, nil
}
