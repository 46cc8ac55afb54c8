package modes

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// allFolds is the predictor's token for the model trained on every fold combined.
const allFolds = "all"

// Fold identifies one cross-validation partition, or all of them combined.
type Fold struct {
	index int
	all   bool
}

// FoldIndex returns the fold with the given partition index.
func FoldIndex(i int) Fold { return Fold{index: i} }

// AllFolds returns the sentinel fold meaning "all folds combined".
func AllFolds() Fold { return Fold{all: true} }

// ParseFold accepts a non-negative integer or the literal "all".
func ParseFold(value string) (Fold, error) {
	value = strings.TrimSpace(value)
	if strings.EqualFold(value, allFolds) {
		return AllFolds(), nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return Fold{}, fmt.Errorf("fold %q must be a non-negative integer or %q", value, allFolds)
	}
	return FoldIndex(n), nil
}

// IsAll reports whether f is the combined-folds sentinel.
func (f Fold) IsAll() bool { return f.all }

// String renders the fold as the predictor expects it on the command line and
// in checkpoint directory names (fold_0, fold_all).
func (f Fold) String() string {
	if f.all {
		return allFolds
	}
	return strconv.Itoa(f.index)
}

// UnmarshalYAML accepts both integer and string scalars.
func (f *Fold) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: fold must be a scalar", node.Line)
	}
	parsed, err := ParseFold(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*f = parsed
	return nil
}

// FoldStrings renders folds for command-line use.
func FoldStrings(folds []Fold) []string {
	out := make([]string, len(folds))
	for i, f := range folds {
		out[i] = f.String()
	}
	return out
}
