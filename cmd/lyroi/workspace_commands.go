package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"lyroi/internal/workspace"
)

func newWorkspaceCommand(ctx *commandContext) *cobra.Command {
	workspaceCmd := &cobra.Command{
		Use:   "workspace",
		Short: "Inspect and clean scratch space",
	}
	workspaceCmd.AddCommand(newWorkspaceListCommand(ctx))
	workspaceCmd.AddCommand(newWorkspaceCleanCommand(ctx))
	return workspaceCmd
}

func newWorkspaceListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List run directories left in the scratch directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			dirs, err := workspace.ListDirectories(cfg.Paths.TmpDir)
			if err != nil {
				return err
			}
			if len(dirs) == 0 {
				fmt.Fprintf(out, "No run directories in %s\n", cfg.Paths.TmpDir)
				return nil
			}
			rows := make([][]string, 0, len(dirs))
			var total int64
			for _, d := range dirs {
				total += d.Size
				rows = append(rows, []string{d.Name, humanize.Bytes(uint64(d.Size)), humanize.Time(d.ModTime)})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Directory", "Size", "Modified"},
				rows,
				1,
			))
			fmt.Fprintf(out, "%d directories, %s in %s\n", len(dirs), humanize.Bytes(uint64(total)), cfg.Paths.TmpDir)
			return nil
		},
	}
}

func newWorkspaceCleanCommand(ctx *commandContext) *cobra.Command {
	var olderThan string

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove run directories abandoned by interrupted processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			maxAge := cfg.StaleAfter()
			if olderThan != "" {
				parsed, err := parseAge(olderThan)
				if err != nil {
					return err
				}
				maxAge = parsed
			}

			out := cmd.OutOrStdout()
			result := workspace.CleanStale(cmd.Context(), cfg.Paths.TmpDir, maxAge, ctx.ensureLogger())
			for _, path := range result.Removed {
				fmt.Fprintf(out, "Removed %s\n", path)
			}
			for _, e := range result.Errors {
				fmt.Fprintf(out, "Failed to remove %s: %v\n", e.Path, e.Error)
			}
			if len(result.Removed) == 0 && len(result.Errors) == 0 {
				fmt.Fprintf(out, "Nothing older than %s\n", maxAge)
			}
			if len(result.Errors) > 0 {
				return fmt.Errorf("%d run directories could not be removed", len(result.Errors))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&olderThan, "older-than", "", "Only remove directories older than this age, e.g. 2h or 3d (default from config)")
	return cmd
}

// parseAge accepts Go durations plus a whole-day suffix ("3d").
func parseAge(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid age %q", value)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid age %q", value)
	}
	return d, nil
}
