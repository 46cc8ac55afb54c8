package main

import (
	"errors"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"lyroi/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check directories, the predictor binary, and installed models",
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
			results := preflight.RunAll(cfg, registry)

			rows := make([][]string, 0, len(results))
			for _, r := range results {
				var label string
				switch {
				case r.Passed:
					label = colorize(out, text.FgGreen, "ok")
				case r.Optional:
					label = colorize(out, text.FgYellow, "skip")
				default:
					label = colorize(out, text.FgRed, "fail")
				}
				rows = append(rows, []string{r.Name, label, r.Detail})
			}
			fmt.Fprintln(out, renderTable([]string{"Check", "Status", "Detail"}, rows))

			if preflight.Failed(results) {
				return errors.New("one or more checks failed")
			}
			return nil
		},
	}
}
