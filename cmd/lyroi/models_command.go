package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"lyroi/internal/modelstore"
	"lyroi/internal/modes"
)

func newModelsCommand(ctx *commandContext) *cobra.Command {
	var check bool
	var versionFile string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "Show the installation state of each mode's models",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			registry, err := ctx.ensureRegistry()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var installs []modelstore.Installation
			var rows [][]string
			for _, name := range registry.Names() {
				spec, err := registry.Lookup(name)
				if err != nil {
					return err
				}
				inst := modelstore.Inspect(spec, cfg.Paths.ModelsDir, cfg.Prediction.CheckpointName)
				installs = append(installs, inst)
				rows = append(rows, []string{
					spec.Name,
					spec.PrettyName,
					strconv.Itoa(len(spec.Models)),
					strings.Join(modes.FoldStrings(spec.Folds), ","),
					stateLabel(out, inst.State),
					dashIfEmpty(inst.Version),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Mode", "Description", "Models", "Folds", "State", "Version"},
				rows,
				2,
			))
			fmt.Fprintf(out, "Models directory: %s\n", cfg.Paths.ModelsDir)

			for _, inst := range installs {
				if len(inst.Problems) == 0 || inst.State == modelstore.NotInstalled {
					continue
				}
				fmt.Fprintf(out, "\n%s problems:\n", inst.Mode)
				for _, p := range inst.Problems {
					fmt.Fprintf(out, "  - %s\n", p)
				}
			}

			if !check {
				return nil
			}
			var src modelstore.VersionSource
			if strings.TrimSpace(versionFile) != "" {
				src = modelstore.FileVersionSource{Path: versionFile}
			}
			fmt.Fprintln(out)
			for _, inst := range installs {
				status := modelstore.CheckUpdate(cmd.Context(), inst, src)
				line := fmt.Sprintf("%s: %s", inst.Mode, status)
				if status.Kind == modelstore.UpToDate && status.Current != "" {
					line += " (version " + status.Current + ")"
				}
				if status.Err != nil {
					line += " (" + status.Err.Error() + ")"
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Compare installed versions with the published versions")
	cmd.Flags().StringVar(&versionFile, "version-file", "", "JSON file mapping mode names to published versions")
	return cmd
}

func stateLabel(w io.Writer, state modelstore.State) string {
	switch state {
	case modelstore.Installed:
		return colorize(w, text.FgGreen, state.String())
	case modelstore.Corrupted:
		return colorize(w, text.FgRed, state.String())
	default:
		return colorize(w, text.FgYellow, state.String())
	}
}

func dashIfEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
