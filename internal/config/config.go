package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration. Every path is expanded to an
// absolute location during Load.
type Paths struct {
	BaseDir   string `toml:"base_dir"`
	ModelsDir string `toml:"models_dir"`
	TmpDir    string `toml:"tmp_dir"`
	LogDir    string `toml:"log_dir"`
}

// Prediction contains settings for the external single-model predictor.
type Prediction struct {
	Command           string  `toml:"command"`
	DefaultDevice     string  `toml:"default_device"`
	CPUThreadCap      int     `toml:"cpu_thread_cap"`
	MaxThreads        int     `toml:"max_threads"`
	StepSize          float64 `toml:"step_size"`
	CheckpointName    string  `toml:"checkpoint_name"`
	PreprocessWorkers int     `toml:"preprocess_workers"`
	ExportWorkers     int     `toml:"export_workers"`
	DisableTTA        bool    `toml:"disable_tta"`
}

// Merge contains defaults for combining ensemble member outputs.
type Merge struct {
	DefaultStrategy string `toml:"default_strategy"`
	Overwrite       bool   `toml:"overwrite"`
}

// Supervisor contains settings for supervising prediction subprocesses.
type Supervisor struct {
	StopGraceMillis int `toml:"stop_grace_ms"`
}

// Workspace contains scratch-space housekeeping settings.
type Workspace struct {
	StaleAfterHours int `toml:"stale_after_hours"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for lyroi.
//
// Configuration sections by subsystem:
//   - Paths: base, model, scratch, and log directories
//   - Prediction: external predictor command and device/thread policy
//   - Merge: default merge strategy and overwrite behaviour
//   - Supervisor: subprocess stop timing
//   - Workspace: stale scratch directory cleanup
//   - Logging: log format, level, and retention
type Config struct {
	Paths      Paths      `toml:"paths"`
	Prediction Prediction `toml:"prediction"`
	Merge      Merge      `toml:"merge"`
	Supervisor Supervisor `toml:"supervisor"`
	Workspace  Workspace  `toml:"workspace"`
	Logging    Logging    `toml:"logging"`
}

// ProjectConfigName is consulted in the working directory when no user
// config exists.
const ProjectConfigName = "lyroi.toml"

// DefaultConfigPath returns the user-level configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/lyroi/config.toml")
}

// Load reads the configuration at path, or searches the default locations
// when path is empty. A missing file is not an error: defaults apply and
// exists reports false. The returned config is normalized and validated.
func Load(path string) (cfg *Config, resolved string, exists bool, err error) {
	resolved, exists, err = locateConfig(path)
	if err != nil {
		return nil, "", false, err
	}

	loaded := Default()
	if exists {
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, "", false, fmt.Errorf("read config %s: %w", resolved, err)
		}
		if err := toml.Unmarshal(data, &loaded); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	}
	if err := loaded.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := loaded.Validate(); err != nil {
		return nil, "", false, err
	}
	return &loaded, resolved, exists, nil
}

func locateConfig(path string) (string, bool, error) {
	if strings.TrimSpace(path) != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		found, err := isRegularFile(expanded)
		return expanded, found, err
	}

	userPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs(ProjectConfigName)
	if err != nil {
		return "", false, err
	}
	for _, candidate := range []string{userPath, projectPath} {
		if found, _ := isRegularFile(candidate); found {
			return candidate, true, nil
		}
	}
	return userPath, false, nil
}

func isRegularFile(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("stat config: %w", err)
	case info.IsDir():
		return false, fmt.Errorf("config path %s is a directory", path)
	}
	return true, nil
}

// EnsureDirectories creates the base, model, and log directories. The scratch
// directory is owned by the workspace manager, which creates and removes it on
// demand.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.BaseDir, c.Paths.ModelsDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StopGrace returns the supervisor stop wait as a duration.
func (c *Config) StopGrace() time.Duration {
	return time.Duration(c.Supervisor.StopGraceMillis) * time.Millisecond
}

// StaleAfter returns the age after which abandoned run roots are removed.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Workspace.StaleAfterHours) * time.Hour
}

func expandPath(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if value == "~" || strings.HasPrefix(value, "~/") || strings.HasPrefix(value, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		value = filepath.Join(home, value[1:])
	}
	absolute, err := filepath.Abs(value)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", value, err)
	}
	return absolute, nil
}

// ExpandPath applies the same home-directory and absolute-path rules used
// for configured directories.
func ExpandPath(value string) (string, error) {
	return expandPath(value)
}

// CreateSample writes the commented sample configuration to path, creating
// parent directories as needed.
func CreateSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
