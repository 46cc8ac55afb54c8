package modes

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"lyroi/internal/services"
)

//go:embed modes.yaml
var builtinModes []byte

// DefaultMode is used when the caller does not name one.
const DefaultMode = "petct"

// Channel maps a modality name onto the filename suffix that marks it.
type Channel struct {
	Name   string `yaml:"name"`
	Suffix string `yaml:"suffix"`
}

// Model is one ensemble member as declared by a mode.
type Model struct {
	Plans   string `yaml:"plans"`
	Archive string `yaml:"archive"`
}

// Spec is the static descriptor of one operating mode.
type Spec struct {
	Name          string    `yaml:"name"`
	PrettyName    string    `yaml:"pretty_name"`
	DatasetID     int       `yaml:"dataset_id"`
	Trainer       string    `yaml:"trainer"`
	Configuration string    `yaml:"configuration"`
	Folds         []Fold    `yaml:"folds"`
	Channels      []Channel `yaml:"channels"`
	Models        []Model   `yaml:"models"`
}

// Suffixes returns the channel suffixes in declared order.
func (s Spec) Suffixes() []string {
	out := make([]string, len(s.Channels))
	for i, ch := range s.Channels {
		out[i] = ch.Suffix
	}
	return out
}

// Archives returns the model archive names in declared order.
func (s Spec) Archives() []string {
	out := make([]string, len(s.Models))
	for i, m := range s.Models {
		out[i] = m.Archive
	}
	return out
}

// Passes is the number of progress-reporting passes a full run of this mode
// produces: one per ensemble member and fold.
func (s Spec) Passes() int {
	n := len(s.Models) * len(s.Folds)
	if n < 1 {
		return 1
	}
	return n
}

// ModelReference is one resolved ensemble member.
type ModelReference struct {
	Name   string
	Folder string
	Folds  []Fold
}

// Resolve maps every model onto its trained-model folder below modelsDir,
// following the predictor's layout:
// <models>/DatasetNNN_<name>/<trainer>__<plans>__<configuration>.
// Models are returned in declared order.
func (s Spec) Resolve(modelsDir string) ([]ModelReference, error) {
	pattern := filepath.Join(modelsDir, fmt.Sprintf("Dataset%03d_*", s.DatasetID))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "modes", "resolve", "invalid models directory", err)
	}
	datasets := matches[:0]
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.IsDir() {
			datasets = append(datasets, m)
		}
	}
	switch len(datasets) {
	case 0:
		return nil, services.Wrap(services.ErrNotFound, "modes", "resolve",
			fmt.Sprintf("no Dataset%03d folder in %s; the %s models are not installed", s.DatasetID, modelsDir, s.Name), nil)
	case 1:
	default:
		sort.Strings(datasets)
		return nil, services.Wrap(services.ErrConfiguration, "modes", "resolve",
			fmt.Sprintf("ambiguous dataset id %d: %s", s.DatasetID, strings.Join(datasets, ", ")), nil)
	}

	refs := make([]ModelReference, 0, len(s.Models))
	for _, m := range s.Models {
		folds := make([]Fold, len(s.Folds))
		copy(folds, s.Folds)
		refs = append(refs, ModelReference{
			Name:   m.Plans,
			Folder: filepath.Join(datasets[0], fmt.Sprintf("%s__%s__%s", s.Trainer, m.Plans, s.Configuration)),
			Folds:  folds,
		})
	}
	return refs, nil
}

func (s Spec) validate() error {
	switch {
	case strings.TrimSpace(s.Name) == "":
		return errors.New("mode name is required")
	case len(s.Models) == 0:
		return fmt.Errorf("mode %s: at least one model is required", s.Name)
	case len(s.Folds) == 0:
		return fmt.Errorf("mode %s: at least one fold is required", s.Name)
	case len(s.Channels) == 0:
		return fmt.Errorf("mode %s: at least one channel is required", s.Name)
	case s.Trainer == "" || s.Configuration == "":
		return fmt.Errorf("mode %s: trainer and configuration are required", s.Name)
	}
	seen := make(map[string]struct{}, len(s.Channels))
	for _, ch := range s.Channels {
		if ch.Suffix == "" {
			return fmt.Errorf("mode %s: channel %s has no suffix", s.Name, ch.Name)
		}
		if _, dup := seen[ch.Suffix]; dup {
			return fmt.Errorf("mode %s: duplicate channel suffix %s", s.Name, ch.Suffix)
		}
		seen[ch.Suffix] = struct{}{}
	}
	for _, m := range s.Models {
		if m.Plans == "" {
			return fmt.Errorf("mode %s: model without plans", s.Name)
		}
	}
	return nil
}

// Registry is a read-only collection of mode specs.
type Registry struct {
	specs map[string]Spec
	order []string
}

type registryFile struct {
	Modes []Spec `yaml:"modes"`
}

// Parse decodes a registry document.
func Parse(data []byte) (*Registry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("modes: registry document is empty")
	}
	var doc registryFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("modes: decode registry: %w", err)
	}
	reg := &Registry{specs: make(map[string]Spec, len(doc.Modes))}
	for _, spec := range doc.Modes {
		if err := spec.validate(); err != nil {
			return nil, fmt.Errorf("modes: %w", err)
		}
		if _, dup := reg.specs[spec.Name]; dup {
			return nil, fmt.Errorf("modes: duplicate mode %s", spec.Name)
		}
		if spec.PrettyName == "" {
			spec.PrettyName = spec.Name
		}
		reg.specs[spec.Name] = spec
		reg.order = append(reg.order, spec.Name)
	}
	return reg, nil
}

// LoadFile reads a registry document from disk.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("modes: read %s: %w", path, err)
	}
	reg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// Builtin returns the registry shipped with the binary.
func Builtin() *Registry {
	reg, err := Parse(builtinModes)
	if err != nil {
		panic(fmt.Sprintf("embedded mode registry is invalid: %v", err))
	}
	return reg
}

// Names lists mode names in declared order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Lookup returns the mode registered under name.
func (r *Registry) Lookup(name string) (Spec, error) {
	spec, ok := r.specs[strings.TrimSpace(name)]
	if !ok {
		return Spec{}, services.Wrap(services.ErrConfiguration, "modes", "lookup",
			fmt.Sprintf("unknown mode %q (available: %s)", name, strings.Join(r.order, ", ")), nil)
	}
	return spec, nil
}
