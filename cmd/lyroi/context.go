package main

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"lyroi/internal/config"
	"lyroi/internal/history"
	"lyroi/internal/logging"
	"lyroi/internal/modes"
)

type commandContext struct {
	configFlag   *string
	registryFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configSeen bool
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger

	registryOnce sync.Once
	registry     *modes.Registry
	registryErr  error

	history *history.Store
}

func newCommandContext(configFlag, registryFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		registryFlag: registryFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configSeen = exists
	})
	return c.config, c.configErr
}

// ensureLogger builds the application logger on first use and prunes old
// log files. Falls back to a stderr console logger if the log directory is
// unusable.
func (c *commandContext) ensureLogger() *slog.Logger {
	c.loggerOnce.Do(func() {
		cfg, _ := c.ensureConfig()
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			logger, _ = logging.New(logging.Options{Level: "info", Format: "console", OutputPaths: []string{"stderr"}})
			logging.WarnWithContext(logger, "log file unavailable; logging to stderr only", "logger_fallback",
				logging.Error(err),
				logging.String(logging.FieldImpact, "no persistent log for this run"),
			)
		}
		c.logger = logger
		if cfg != nil {
			logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, cfg.Paths.LogDir, "lyroi*.log",
				filepath.Join(cfg.Paths.LogDir, logging.LogFileName))
		}
	})
	return c.logger
}

func (c *commandContext) ensureRegistry() (*modes.Registry, error) {
	c.registryOnce.Do(func() {
		path := ""
		if c.registryFlag != nil {
			path = strings.TrimSpace(*c.registryFlag)
		}
		if path == "" {
			c.registry = modes.Builtin()
			return
		}
		c.registry, c.registryErr = modes.LoadFile(path)
	})
	return c.registry, c.registryErr
}

// openHistory returns the run history store, or nil if it cannot be opened.
// History is best effort: a broken database never blocks a prediction.
func (c *commandContext) openHistory() *history.Store {
	if c.history != nil {
		return c.history
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil
	}
	store, err := history.Open(filepath.Join(cfg.Paths.LogDir, history.FileName))
	if err != nil {
		logging.WarnWithContext(c.ensureLogger(), "run history unavailable", "history_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "this run will not appear in `lyroi runs`"),
			logging.String(logging.FieldErrorHint, "check permissions on log_dir"),
		)
		return nil
	}
	c.history = store
	return store
}

func (c *commandContext) close() {
	if c.history != nil {
		_ = c.history.Close()
		c.history = nil
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
