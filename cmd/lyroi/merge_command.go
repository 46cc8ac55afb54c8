package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"lyroi/internal/merge"
	"lyroi/internal/services"
)

func newMergeCommand(ctx *commandContext) *cobra.Command {
	var strategyFlag string
	var force bool

	cmd := &cobra.Command{
		Use:   "merge OUTPUT_DIR INPUT_DIR INPUT_DIR...",
		Short: "Merge binary delineations from several folders into one",
		Long: `Merge binary delineations from two or more input folders into OUTPUT_DIR.

Every input folder must hold the same .nii.gz file names. Strategies: union (u, default),
intersection (i) and strict majority voting (m).`,
		Args: func(cmd *cobra.Command, args []string) error {
			switch len(args) {
			case 0:
				return services.Wrap(services.ErrValidation, "merge", "parse args", "no input/output directories specified", nil)
			case 1:
				return services.Wrap(services.ErrValidation, "merge", "parse args", "no input directories are specified", nil)
			case 2:
				return services.Wrap(services.ErrValidation, "merge", "parse args", "only one input directory is specified", nil)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			strategy, err := merge.ParseStrategy(firstNonEmpty(strategyFlag, cfg.Merge.DefaultStrategy))
			if err != nil {
				return err
			}
			output, inputs := args[0], args[1:]
			for _, dir := range inputs {
				if info, err := os.Stat(dir); err != nil || !info.IsDir() {
					return services.Wrap(services.ErrValidation, "merge", "check inputs", fmt.Sprintf("%s is not a directory", dir), err)
				}
			}
			if parent := filepath.Dir(output); parent != "." {
				if info, err := os.Stat(parent); err != nil || !info.IsDir() {
					return services.Wrap(services.ErrValidation, "merge", "check output", fmt.Sprintf("parent of %s does not exist", output), err)
				}
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			merger := merge.New(ctx.ensureLogger())
			if err := merger.Merge(runCtx, inputs, output, strategy, force || cfg.Merge.Overwrite); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Merged %d folders into %s (%s)\n", len(inputs), output, strategy)
			return nil
		},
	}

	cmd.Flags().StringVarP(&strategyFlag, "strategy", "s", "", "Merge strategy: union, intersection or majority (u, i, m)")
	cmd.Flags().BoolVar(&force, "force", false, "Replace existing files in OUTPUT_DIR")
	return cmd
}
