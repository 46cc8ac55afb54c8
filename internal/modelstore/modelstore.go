package modelstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"lyroi/internal/modes"
	"lyroi/internal/services"
)

// VersionFile records the installed model version inside each model folder.
const VersionFile = "VERSION"

// State is the installation state of a mode's models.
type State int

const (
	NotInstalled State = iota
	Installed
	Corrupted
)

func (s State) String() string {
	switch s {
	case Installed:
		return "installed"
	case Corrupted:
		return "corrupted"
	default:
		return "not installed"
	}
}

// Installation describes what is on disk for one mode.
type Installation struct {
	Mode     string
	State    State
	Version  string
	Problems []string
}

// Inspect checks that every model of spec is present below modelsDir with
// its dataset and plans descriptors and a checkpoint per fold, and that all
// models carry the same VERSION.
func Inspect(spec modes.Spec, modelsDir, checkpoint string) Installation {
	inst := Installation{Mode: spec.Name}
	refs, err := spec.Resolve(modelsDir)
	if err != nil {
		inst.Problems = append(inst.Problems, err.Error())
		if !errors.Is(err, services.ErrNotFound) {
			inst.State = Corrupted
		}
		return inst
	}

	for _, ref := range refs {
		required := []string{
			filepath.Join(ref.Folder, "dataset.json"),
			filepath.Join(ref.Folder, "plans.json"),
		}
		for _, fold := range ref.Folds {
			required = append(required, filepath.Join(ref.Folder, "fold_"+fold.String(), checkpoint))
		}
		for _, path := range required {
			if _, err := os.Stat(path); err != nil {
				inst.Problems = append(inst.Problems, "missing "+path)
			}
		}
	}
	if len(inst.Problems) > 0 {
		return inst
	}

	versions := make(map[string][]string)
	for _, ref := range refs {
		data, err := os.ReadFile(filepath.Join(ref.Folder, VersionFile))
		if err != nil {
			inst.Problems = append(inst.Problems, fmt.Sprintf("%s has no version information", ref.Name))
			continue
		}
		v := strings.TrimSpace(string(data))
		versions[v] = append(versions[v], ref.Name)
	}
	switch {
	case len(inst.Problems) > 0:
		inst.State = Corrupted
	case len(versions) > 1:
		inst.State = Corrupted
		for v, names := range versions {
			inst.Problems = append(inst.Problems, fmt.Sprintf("version %s: %s", v, strings.Join(names, ", ")))
		}
		inst.Problems = append([]string{"version mismatch between models"}, inst.Problems...)
	default:
		inst.State = Installed
		for v := range versions {
			inst.Version = v
		}
	}
	return inst
}
