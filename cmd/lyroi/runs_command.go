package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"lyroi/internal/history"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent prediction runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := ctx.ensureConfig(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			store := ctx.openHistory()
			defer ctx.close()
			if store == nil {
				return errors.New("run history is unavailable; see the log for details")
			}
			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					shortID(run.ID),
					humanize.Time(run.StartedAt),
					run.Mode,
					runStatusLabel(out, run.Status),
					run.Duration().Round(time.Second).String(),
					run.Output,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Started", "Mode", "Status", "Duration", "Output"},
				rows,
				4,
			))
			for _, run := range runs {
				if run.Status == history.StatusFailed && run.Error != "" {
					fmt.Fprintf(out, "%s: %s\n", shortID(run.ID), run.Error)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show (0 for all)")
	return cmd
}

func runStatusLabel(w io.Writer, status history.Status) string {
	switch status {
	case history.StatusSucceeded:
		return colorize(w, text.FgGreen, string(status))
	case history.StatusFailed:
		return colorize(w, text.FgRed, string(status))
	case history.StatusCancelled:
		return colorize(w, text.FgYellow, string(status))
	default:
		return string(status)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
