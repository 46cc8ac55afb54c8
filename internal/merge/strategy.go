package merge

import (
	"fmt"
	"strings"

	"lyroi/internal/services"
)

// Strategy selects how corresponding voxels of ensemble outputs are combined.
type Strategy string

const (
	Union        Strategy = "union"
	Intersection Strategy = "intersection"
	Majority     Strategy = "majority"
)

// Default is the strategy the ensemble uses when none is configured.
const Default = Union

var strategyAliases = map[string]Strategy{
	"u":            Union,
	"union":        Union,
	"i":            Intersection,
	"intersection": Intersection,
	"m":            Majority,
	"majority":     Majority,
}

// ParseStrategy accepts full strategy names and their single-letter forms.
func ParseStrategy(value string) (Strategy, error) {
	s, ok := strategyAliases[strings.ToLower(strings.TrimSpace(value))]
	if !ok {
		return "", services.Wrap(services.ErrConfiguration, "merge", "parse strategy",
			fmt.Sprintf("invalid merging strategy %q (use union, intersection or majority)", value), nil)
	}
	return s, nil
}

func (s Strategy) valid() bool {
	switch s {
	case Union, Intersection, Majority:
		return true
	}
	return false
}

// combine reduces sources voxel by voxel into a binary mask.
func (s Strategy) combine(sources [][]float64) []uint8 {
	n := len(sources[0])
	out := make([]uint8, n)
	threshold := 0.5 * float64(len(sources))
	for i := range n {
		switch s {
		case Union:
			for _, src := range sources {
				if src[i] != 0 {
					out[i] = 1
					break
				}
			}
		case Intersection:
			out[i] = 1
			for _, src := range sources {
				if src[i] == 0 {
					out[i] = 0
					break
				}
			}
		case Majority:
			var sum float64
			for _, src := range sources {
				sum += src[i]
			}
			if sum > threshold {
				out[i] = 1
			}
		}
	}
	return out
}
