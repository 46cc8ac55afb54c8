package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizePrediction(); err != nil {
		return err
	}
	c.normalizeMerge()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if strings.TrimSpace(c.Paths.BaseDir) == "" {
		if value, ok := os.LookupEnv(BaseDirEnv); ok && strings.TrimSpace(value) != "" {
			c.Paths.BaseDir = value
		} else {
			c.Paths.BaseDir = defaultBaseDir
		}
	}
	var err error
	if c.Paths.BaseDir, err = expandPath(strings.TrimSpace(c.Paths.BaseDir)); err != nil {
		return fmt.Errorf("paths.base_dir: %w", err)
	}

	derived := []struct {
		field  *string
		subdir string
		key    string
	}{
		{&c.Paths.ModelsDir, defaultModelsSubdir, "paths.models_dir"},
		{&c.Paths.TmpDir, defaultTmpSubdir, "paths.tmp_dir"},
		{&c.Paths.LogDir, defaultLogSubdir, "paths.log_dir"},
	}
	for _, d := range derived {
		value := strings.TrimSpace(*d.field)
		if value == "" {
			value = filepath.Join(c.Paths.BaseDir, d.subdir)
		}
		if *d.field, err = expandPath(value); err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
	}
	return nil
}

func (c *Config) normalizePrediction() error {
	c.Prediction.Command = strings.TrimSpace(c.Prediction.Command)
	if c.Prediction.Command == "" {
		c.Prediction.Command = defaultPredictCommand
	}
	c.Prediction.DefaultDevice = strings.ToLower(strings.TrimSpace(c.Prediction.DefaultDevice))
	if c.Prediction.DefaultDevice == "" {
		c.Prediction.DefaultDevice = defaultDevice
	}
	c.Prediction.CheckpointName = strings.TrimSpace(c.Prediction.CheckpointName)
	if c.Prediction.CheckpointName == "" {
		c.Prediction.CheckpointName = defaultCheckpointName
	}
	if c.Prediction.CPUThreadCap <= 0 {
		c.Prediction.CPUThreadCap = defaultCPUThreadCap
	}
	if c.Prediction.StepSize <= 0 {
		c.Prediction.StepSize = defaultStepSize
	}
	if c.Prediction.PreprocessWorkers <= 0 {
		c.Prediction.PreprocessWorkers = defaultPreprocessWorkers
	}
	if c.Prediction.ExportWorkers <= 0 {
		c.Prediction.ExportWorkers = defaultExportWorkers
	}
	if c.Prediction.MaxThreads == 0 {
		if value, ok := os.LookupEnv(MaxThreadsEnv); ok && strings.TrimSpace(value) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return fmt.Errorf("%s: %w", MaxThreadsEnv, err)
			}
			c.Prediction.MaxThreads = n
		}
	}
	return nil
}

func (c *Config) normalizeMerge() {
	c.Merge.DefaultStrategy = strings.ToLower(strings.TrimSpace(c.Merge.DefaultStrategy))
	if c.Merge.DefaultStrategy == "" {
		c.Merge.DefaultStrategy = defaultMergeStrategy
	}
	if c.Supervisor.StopGraceMillis <= 0 {
		c.Supervisor.StopGraceMillis = defaultStopGraceMillis
	}
	if c.Workspace.StaleAfterHours <= 0 {
		c.Workspace.StaleAfterHours = defaultStaleAfterHours
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
