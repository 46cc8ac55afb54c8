package nnunet

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"lyroi/internal/logging"
	"lyroi/internal/services"
)

// Request is one single-model prediction: every case in InputDir is
// segmented with the model in ModelFolder, evaluated on Folds, and written to
// OutputDir as <case>.nii.gz.
type Request struct {
	InputDir    string
	OutputDir   string
	ModelFolder string
	Folds       []string
	Device      Device
}

// CommandRunner executes the predictor. Tests substitute it.
type CommandRunner func(ctx context.Context, env []string, name string, args ...string) error

// Client runs predictions through the nnU-Net command line.
type Client struct {
	cfg    Config
	logger *slog.Logger
	output io.Writer
	runner CommandRunner
}

// Option configures a Client.
type Option func(*Client)

// WithCommandRunner sets a custom command runner (for testing).
func WithCommandRunner(runner CommandRunner) Option {
	return func(c *Client) { c.runner = runner }
}

// WithOutput redirects the predictor's merged output. The default is
// stdout, so a supervising process sees the progress bars.
func WithOutput(w io.Writer) Option {
	return func(c *Client) {
		if w != nil {
			c.output = w
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logging.NewComponentLogger(logger, "nnunet") }
}

// NewClient constructs a Client.
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg.withDefaults(),
		logger: logging.NewNop(),
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Predict runs the predictor for req and waits for it to exit.
func (c *Client) Predict(ctx context.Context, req Request) error {
	if req.InputDir == "" || req.OutputDir == "" || req.ModelFolder == "" {
		return services.Wrap(services.ErrValidation, "nnunet", "predict", "input, output and model folder are required", nil)
	}
	if len(req.Folds) == 0 {
		return services.Wrap(services.ErrValidation, "nnunet", "predict", "at least one fold is required", nil)
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "nnunet", "predict", "ensure output dir", err)
	}

	settings := c.cfg.Resolve(req.Device)
	args := c.buildArgs(req, settings)
	env := c.buildEnv(os.Environ(), settings)

	logger := logging.WithContext(ctx, c.logger)
	logger.Debug("starting predictor",
		logging.String("command", c.cfg.Command),
		logging.Strings("args", args),
		logging.String("torch_device", settings.Torch),
		logging.Int("threads", settings.Threads),
	)
	start := time.Now()
	if err := c.run(ctx, env, c.cfg.Command, args...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return services.Wrap(services.ErrExternalTool, "nnunet", "predict", req.ModelFolder, err)
	}
	logger.Debug("predictor finished", logging.Duration("elapsed", time.Since(start)))
	return nil
}

func (c *Client) run(ctx context.Context, env []string, name string, args ...string) error {
	if c.runner != nil {
		return c.runner(ctx, env, name, args...)
	}
	tail := &tailBuffer{limit: 2048}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	cmd.Env = env
	cmd.Stdout = io.MultiWriter(c.output, tail)
	cmd.Stderr = cmd.Stdout
	cmd.WaitDelay = 5 * time.Second
	if err := cmd.Run(); err != nil {
		if detail := strings.TrimSpace(tail.String()); detail != "" {
			return fmt.Errorf("%s: %w: %s", name, err, lastLine(detail))
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// buildArgs constructs the predictor command-line arguments.
func (c *Client) buildArgs(req Request, settings DeviceSettings) []string {
	args := make([]string, 0, 24+len(req.Folds))
	args = append(args,
		"-i", req.InputDir,
		"-o", req.OutputDir,
		"-m", req.ModelFolder,
		"-f",
	)
	args = append(args, req.Folds...)
	args = append(args,
		"-step_size", strconv.FormatFloat(c.cfg.StepSize, 'f', -1, 64),
		"-chk", c.cfg.CheckpointName,
		"-device", settings.Torch,
		"-npp", strconv.Itoa(c.cfg.PreprocessWorkers),
		"-nps", strconv.Itoa(c.cfg.ExportWorkers),
	)
	if c.cfg.DisableTTA {
		args = append(args, "--disable_tta")
	}
	return args
}

// buildEnv overlays the predictor's search paths and thread limits on base.
func (c *Client) buildEnv(base []string, settings DeviceSettings) []string {
	overrides := map[string]string{
		EnvResults:      c.cfg.ResultsDir,
		EnvRaw:          c.cfg.RawDir,
		EnvPreprocessed: c.cfg.PreprocessedDir,
	}
	if settings.Threads > 0 {
		n := strconv.Itoa(settings.Threads)
		overrides[EnvOMPThreads] = n
		overrides[EnvDefaultProcs] = n
	}
	for k, v := range c.cfg.ExtraEnv {
		overrides[k] = v
	}

	env := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, replaced := overrides[key]; replaced {
			continue
		}
		env = append(env, kv)
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return string(t.buf) }

func lastLine(s string) string {
	s = strings.ReplaceAll(s, "\r", "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
