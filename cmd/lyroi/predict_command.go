package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"lyroi/internal/config"
	"lyroi/internal/ensemble"
	"lyroi/internal/history"
	"lyroi/internal/logging"
	"lyroi/internal/merge"
	"lyroi/internal/modelstore"
	"lyroi/internal/modes"
	"lyroi/internal/preflight"
	"lyroi/internal/services"
	"lyroi/internal/services/nnunet"
	"lyroi/internal/workspace"
)

type predictOptions struct {
	inputs   []string
	output   string
	mode     string
	device   string
	strategy string
	force    bool
}

func newPredictCommand(ctx *commandContext) *cobra.Command {
	var opts predictOptions

	cmd := &cobra.Command{
		Use:   "predict -i INPUT... -o OUTPUT",
		Short: "Run ensemble prediction for an input folder or a file set",
		Long: `Run lymphoma ROI prediction with every model of the selected mode and merge the results.

Directory mode takes one input folder whose files use the channel suffixes of the mode
(_0000 for CT and _0001 for PET in petct mode) and writes one mask per case into the
output folder. File mode takes one file per channel, in channel order, and writes a
single mask file.`,
		Example: `  lyroi predict -i input_dir -o output_dir
  lyroi predict -i ct_img.nii.gz pet_img.nii.gz -o mask.nii.gz -d cpu-max`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			registry, err := ctx.ensureRegistry()
			if err != nil {
				return err
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPredict(runCtx, ctx, cfg, registry, opts, cmd)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.inputs, "input", "i", nil, "Input folder, or one file per channel (CT then PET)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output folder or file, matching the input type")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", modes.DefaultMode, "Mode of operation")
	cmd.Flags().StringVarP(&opts.device, "device", "d", "", "Device: gpu, cpu, cpu-max or mps (default from config)")
	cmd.Flags().StringVarP(&opts.strategy, "strategy", "s", "", "Merge strategy: union, intersection or majority (default from config)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Replace existing masks in the output folder")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

// inputKind classifies the invocation as directory or file mode. Inputs and
// output must agree: a folder in needs a folder (extensionless) out, files in
// need a file out.
func inputKind(inputs []string, output string) (dirMode bool, err error) {
	fail := func(msg string) (bool, error) {
		return false, services.Wrap(services.ErrValidation, "predict", "classify inputs", msg, nil)
	}
	if len(inputs) == 0 {
		return fail("no inputs given")
	}
	allDirs, allFiles := true, true
	for _, in := range inputs {
		info, err := os.Stat(in)
		if err != nil {
			allDirs, allFiles = false, false
			break
		}
		allDirs = allDirs && info.IsDir()
		allFiles = allFiles && info.Mode().IsRegular()
	}
	outIsDir := filepath.Ext(output) == ""

	switch {
	case allDirs && len(inputs) > 1:
		return fail("more than one input directory is not supported")
	case allDirs && !outIsDir:
		return fail("output appears to be a file while input is a directory; input and output types should match")
	case allFiles && outIsDir:
		return fail("output appears to be a directory while input is a file list; input and output types should match")
	case allDirs:
		return true, nil
	case allFiles:
		return false, nil
	default:
		return fail("inputs do not exist or mix files and directories")
	}
}

func runPredict(runCtx context.Context, cc *commandContext, cfg *config.Config, registry *modes.Registry, opts predictOptions, cmd *cobra.Command) error {
	dirMode, err := inputKind(opts.inputs, opts.output)
	if err != nil {
		return err
	}
	spec, err := registry.Lookup(opts.mode)
	if err != nil {
		return err
	}
	device, err := nnunet.ParseDevice(firstNonEmpty(opts.device, cfg.Prediction.DefaultDevice))
	if err != nil {
		return err
	}
	strategy, err := merge.ParseStrategy(firstNonEmpty(opts.strategy, cfg.Merge.DefaultStrategy))
	if err != nil {
		return err
	}
	if check := preflight.CheckBinary("Predictor", cfg.Prediction.Command); !check.Passed {
		return services.Wrap(services.ErrConfiguration, "predict", "check predictor", check.Detail+"; install nnU-Net v2 or set prediction.command", nil)
	}
	inst := modelstore.Inspect(spec, cfg.Paths.ModelsDir, cfg.Prediction.CheckpointName)
	if inst.State != modelstore.Installed {
		return services.Wrap(services.ErrNotFound, "predict", "check models",
			fmt.Sprintf("the models for mode %s are %s; run `lyroi models` for details", spec.Name, inst.State), nil)
	}

	logger := cc.ensureLogger()
	out := cmd.OutOrStdout()
	orchestrator := ensemble.New(ensemble.Dependencies{
		Registry:  registry,
		ModelsDir: cfg.Paths.ModelsDir,
		Workspace: workspace.New(cfg.Paths.TmpDir, logger),
		Predictor: nnunet.NewClient(nnunet.ConfigFrom(cfg), nnunet.WithLogger(logger), nnunet.WithOutput(out)),
		Merger:    merge.New(logger),
		Observer:  ensemble.TextObserver{W: out},
		Logger:    logger,
	})

	runID := uuid.NewString()
	runCtx = services.WithRunID(runCtx, runID)
	record := history.Run{
		ID:       runID,
		Mode:     spec.Name,
		Input:    strings.Join(opts.inputs, ", "),
		Output:   opts.output,
		Device:   string(device),
		Strategy: string(strategy),
	}
	store := cc.openHistory()
	defer cc.close()
	if store != nil {
		if _, err := store.Begin(runCtx, record); err != nil {
			logging.WarnWithContext(logger, "run history write failed", "history_write_failed", logging.Error(err))
			store = nil
		}
	}

	if dirMode {
		err = orchestrator.Run(runCtx, ensemble.Request{
			Input:     opts.inputs[0],
			Output:    opts.output,
			Mode:      spec.Name,
			Device:    device,
			Strategy:  strategy,
			Overwrite: opts.force || cfg.Merge.Overwrite,
		})
	} else {
		err = orchestrator.RunFiles(runCtx, ensemble.FilesRequest{
			Files:      opts.inputs,
			OutputFile: opts.output,
			Mode:       spec.Name,
			Device:     device,
			Strategy:   strategy,
		})
	}

	if store != nil {
		// The run context may already be cancelled.
		if ferr := store.Finish(context.WithoutCancel(runCtx), runID, err); ferr != nil {
			logging.WarnWithContext(logger, "run history write failed", "history_write_failed", logging.Error(ferr))
		}
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Done. Results saved to %s\n", opts.output)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
