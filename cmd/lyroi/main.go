package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"lyroi/internal/services"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(reportError(err))
	}
}

// exitCodeError carries a child process exit status through cobra.
type exitCodeError struct {
	code int
}

func (e exitCodeError) Error() string { return fmt.Sprintf("command exited with status %d", e.code) }

func reportError(err error) int {
	var exit exitCodeError
	switch {
	case errors.As(err, &exit):
		return exit.code
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "Interrupted")
		return 130
	default:
		fmt.Fprintln(os.Stderr, err)
		return services.ExitCode(err)
	}
}
