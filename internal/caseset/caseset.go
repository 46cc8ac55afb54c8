package caseset

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"lyroi/internal/services"
)

// VolumeExt is the only volumetric image extension the pipeline accepts.
const VolumeExt = ".nii.gz"

var folder = cases.Fold()

// HasVolumeExt reports whether name ends in VolumeExt, ignoring case.
func HasVolumeExt(name string) bool {
	if len(name) < len(VolumeExt) {
		return false
	}
	return folder.String(name[len(name)-len(VolumeExt):]) == VolumeExt
}

// TrimVolumeExt strips VolumeExt from name. Names without it are returned unchanged.
func TrimVolumeExt(name string) string {
	if !HasVolumeExt(name) {
		return name
	}
	return name[:len(name)-len(VolumeExt)]
}

// Set is the collection of case identifiers visible in one channel.
type Set map[string]struct{}

// Sorted returns the identifiers in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Diff returns the identifiers present in exactly one of s and other.
func (s Set) Diff(other Set) []string {
	diff := make(Set)
	for id := range s {
		if _, ok := other[id]; !ok {
			diff[id] = struct{}{}
		}
	}
	for id := range other {
		if _, ok := s[id]; !ok {
			diff[id] = struct{}{}
		}
	}
	return diff.Sorted()
}

// Scan derives one Set per channel suffix from the volume files in dir.
// A file belongs to a channel when its name, without VolumeExt, ends with the
// channel suffix; the remainder is the case identifier. Files matching no
// channel are ignored.
func Scan(dir string, suffixes []string) (map[string]Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "caseset", "scan", "cannot read input directory", err)
	}
	out := make(map[string]Set, len(suffixes))
	for _, suffix := range suffixes {
		out[suffix] = make(Set)
	}
	for _, entry := range entries {
		if entry.IsDir() || !HasVolumeExt(entry.Name()) {
			continue
		}
		stem := TrimVolumeExt(entry.Name())
		for _, suffix := range suffixes {
			if id, ok := strings.CutSuffix(stem, suffix); ok && id != "" {
				out[suffix][id] = struct{}{}
				break
			}
		}
	}
	return out, nil
}

// MismatchError lists every case that is missing from at least one channel.
type MismatchError struct {
	Cases []string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%v: channel files do not match for cases: %s", services.ErrValidation, strings.Join(e.Cases, ", "))
}

func (e *MismatchError) Unwrap() error { return services.ErrValidation }

// Validate checks that every case present in one channel is present in all
// of them and returns the union of case identifiers.
func Validate(dir string, suffixes []string) (Set, error) {
	channels, err := Scan(dir, suffixes)
	if err != nil {
		return nil, err
	}
	all := make(Set)
	for _, set := range channels {
		for id := range set {
			all[id] = struct{}{}
		}
	}
	var missing Set
	for _, set := range channels {
		for _, id := range all.Diff(set) {
			if missing == nil {
				missing = make(Set)
			}
			missing[id] = struct{}{}
		}
	}
	if len(missing) > 0 {
		return nil, &MismatchError{Cases: missing.Sorted()}
	}
	return all, nil
}

// OutputName is the file name a prediction writes for case id.
func OutputName(id string) string {
	return id + VolumeExt
}
