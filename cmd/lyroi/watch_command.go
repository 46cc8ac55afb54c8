package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"lyroi/internal/logging"
	"lyroi/internal/modes"
	"lyroi/internal/supervisor"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var passes int
	var mode string
	var plain bool

	cmd := &cobra.Command{
		Use:   "watch [--passes N | --mode M] -- COMMAND [ARGS...]",
		Short: "Run a predictor command and report its overall progress",
		Long: `Run COMMAND in its own process group, relay its output, and turn its per-fold
progress bars into one overall percentage. Interrupting watch stops the whole
process group. The exit status is the command's own.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			total := passes
			if total <= 0 {
				registry, err := ctx.ensureRegistry()
				if err != nil {
					return err
				}
				spec, err := registry.Lookup(mode)
				if err != nil {
					return err
				}
				total = spec.Passes()
			}

			logger := ctx.ensureLogger()
			out := cmd.OutOrStdout()
			errOut := cmd.ErrOrStderr()
			view := newProgressView(out, errOut, plain || !isTerminal(errOut), logger)

			sup := supervisor.New(supervisor.Options{
				Passes:      total,
				OnLine:      view.line,
				OnProgress:  view.progress,
				OnFinished:  view.finish,
				GracePeriod: cfg.StopGrace(),
				Logger:      logger,
			})

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := sup.Start(runCtx, args); err != nil {
				return err
			}
			sup.Wait()

			if err := runCtx.Err(); err != nil {
				return err
			}
			switch code := sup.ExitCode(); {
			case code == 0:
				return nil
			case code < 0:
				return exitCodeError{code: 1}
			default:
				return exitCodeError{code: code}
			}
		},
	}

	cmd.Flags().IntVar(&passes, "passes", 0, "Number of progress passes the command runs (models x folds)")
	cmd.Flags().StringVarP(&mode, "mode", "m", modes.DefaultMode, "Derive the pass count from this mode")
	cmd.Flags().BoolVar(&plain, "plain", false, "Log progress lines instead of drawing a bar")
	cmd.MarkFlagsMutuallyExclusive("passes", "mode")
	return cmd
}

// progressView renders supervisor callbacks. Callbacks arrive from the
// supervisor's reader goroutine one at a time.
type progressView struct {
	out     io.Writer
	bar     *progressbar.ProgressBar
	sampler *logging.ProgressSampler
	logger  *slog.Logger
}

func newProgressView(out, barOut io.Writer, plain bool, logger *slog.Logger) *progressView {
	v := &progressView{out: out, logger: logger}
	if plain {
		v.sampler = logging.NewProgressSampler(10)
		return v
	}
	v.bar = progressbar.NewOptions(100,
		progressbar.OptionSetWriter(barOut),
		progressbar.OptionSetDescription("Predicting"),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionClearOnFinish(),
	)
	return v
}

func (v *progressView) line(text string) {
	if v.bar != nil {
		_ = v.bar.Clear()
	}
	fmt.Fprintln(v.out, text)
}

func (v *progressView) progress(percent int) {
	if v.bar != nil {
		_ = v.bar.Set(percent)
		return
	}
	if v.sampler.ShouldLog(float64(percent), -1) {
		v.logger.Info("prediction progress",
			logging.Int("percent", percent),
			logging.String(logging.FieldEventType, "progress"),
		)
	}
}

func (v *progressView) finish() {
	if v.bar != nil {
		_ = v.bar.Finish()
	}
}
