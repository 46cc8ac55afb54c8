package ensemble

import (
	"context"
	"testing"

	"lyroi/internal/modes"
	"lyroi/internal/services"
)

func TestRunContextAssignsRunIDOnce(t *testing.T) {
	o := &Orchestrator{}

	ctx := o.runContext(context.Background(), "")
	id, ok := services.RunIDFromContext(ctx)
	if !ok || id == "" {
		t.Fatal("expected a generated run id")
	}
	if mode, _ := services.ModeFromContext(ctx); mode != modes.DefaultMode {
		t.Fatalf("mode = %q, want %q", mode, modes.DefaultMode)
	}

	given := services.WithRunID(context.Background(), "run-from-caller")
	ctx = o.runContext(given, "petct")
	if id, _ := services.RunIDFromContext(ctx); id != "run-from-caller" {
		t.Fatalf("caller's run id replaced with %q", id)
	}
}
