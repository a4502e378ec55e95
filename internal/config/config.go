// Package config holds runner and engine configuration, with optional
// overrides from a .pipevent.yml file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// RunnerConfig holds configuration shared by the step invocation backends.
type RunnerConfig struct {
	DryRun      bool              // show what would be executed without running
	Verbose     bool              // enable verbose output
	Quiet       bool              // suppress runner output
	PullImages  bool              // pull Docker images before running
	Environment map[string]string // additional environment variables
	GracePeriod time.Duration     // SIGTERM-to-SIGKILL delay on cancellation
}

// DefaultRunnerConfig returns a RunnerConfig with sensible defaults.
func DefaultRunnerConfig() *RunnerConfig {
	return &RunnerConfig{
		PullImages:  true,
		Environment: make(map[string]string),
		GracePeriod: 5 * time.Second,
	}
}

// Engine holds pipeline execution policy.
type Engine struct {
	Runner          string `yaml:"runner,omitempty"`            // shell or docker
	MaxParallel     int    `yaml:"max_parallel,omitempty"`      // concurrent jobs per run
	CancelOnFailure bool   `yaml:"cancel_on_failure,omitempty"` // stop sibling jobs when one fails
	TimeoutMin      int    `yaml:"timeout,omitempty"`           // per-run deadline in minutes (0 = none)
}

// File is the on-disk .pipevent.yml configuration.
type File struct {
	Defaults    Engine            `yaml:"defaults"`
	Environment map[string]string `yaml:"environment,omitempty"`
}

// Load reads a configuration file. A missing path is not an error; it
// returns empty defaults.
func Load(path string) (*File, error) {
	if path == "" {
		path = FindConfigFile()
	}
	if path == "" {
		return &File{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg File
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// FindConfigFile looks for a .pipevent.yml in the working directory, then
// in the user config directory.
func FindConfigFile() string {
	for _, candidate := range []string{".pipevent.yml", ".pipevent.yaml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	global := filepath.Join(ConfigDir(), "config.yml")
	if _, err := os.Stat(global); err == nil {
		return global
	}
	return ""
}

// CacheDir returns the cache directory for pipevent.
func CacheDir() string {
	if dir := os.Getenv("PIPEVENT_CACHE_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".pipevent-cache")
	}
	return filepath.Join(home, ".cache", "pipevent")
}

// ConfigDir returns the config directory for pipevent.
func ConfigDir() string {
	if dir := os.Getenv("PIPEVENT_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".pipevent")
	}
	return filepath.Join(home, ".config", "pipevent")
}
