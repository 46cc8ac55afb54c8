package config

import (
	"errors"
	"fmt"
	"path/filepath"
)

var (
	validDevices    = map[string]struct{}{"gpu": {}, "cpu": {}, "cpu-max": {}, "mps": {}}
	validStrategies = map[string]struct{}{"union": {}, "intersection": {}, "majority": {}, "u": {}, "i": {}, "m": {}}
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validatePrediction(); err != nil {
		return err
	}
	if err := c.validateMerge(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.TmpDir == "" {
		return errors.New("paths.tmp_dir must be set")
	}
	if filepath.Clean(c.Paths.TmpDir) == filepath.Clean(c.Paths.ModelsDir) {
		return errors.New("paths.tmp_dir must differ from paths.models_dir; scratch space is deleted after every run")
	}
	return nil
}

func (c *Config) validatePrediction() error {
	if _, ok := validDevices[c.Prediction.DefaultDevice]; !ok {
		return fmt.Errorf("prediction.default_device %q must be one of gpu, cpu, cpu-max, mps", c.Prediction.DefaultDevice)
	}
	if c.Prediction.MaxThreads < 0 {
		return errors.New("prediction.max_threads must be zero (all cores) or positive")
	}
	if c.Prediction.StepSize > 1 {
		return errors.New("prediction.step_size must be in (0, 1]")
	}
	return nil
}

func (c *Config) validateMerge() error {
	if _, ok := validStrategies[c.Merge.DefaultStrategy]; !ok {
		return fmt.Errorf("merge.default_strategy %q must be one of union, intersection, majority", c.Merge.DefaultStrategy)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
		return nil
	default:
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
}
