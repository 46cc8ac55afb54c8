package ensemble

import (
	"fmt"
	"io"

	"lyroi/internal/modes"
)

// Observer receives coarse progress from an ensemble run.
type Observer interface {
	RunStarted(models int)
	ModelStarted(index, total int, ref modes.ModelReference)
	MergeStarted()
}

// NopObserver ignores all notifications.
type NopObserver struct{}

func (NopObserver) RunStarted(int)                             {}
func (NopObserver) ModelStarted(int, int, modes.ModelReference) {}
func (NopObserver) MergeStarted()                              {}

// TextObserver prints one human-readable line per notification.
type TextObserver struct {
	W io.Writer
}

func (o TextObserver) RunStarted(int) {
	fmt.Fprintln(o.W, "Starting predictions. Wait until all models finish prediction to see the results")
}

func (o TextObserver) ModelStarted(index, total int, _ modes.ModelReference) {
	fmt.Fprintf(o.W, "Predicting with model %d/%d\n", index, total)
}

func (o TextObserver) MergeStarted() {
	fmt.Fprintln(o.W, "Merging delineations...")
}
