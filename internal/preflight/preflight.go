package preflight

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"lyroi/internal/config"
	"lyroi/internal/modelstore"
	"lyroi/internal/modes"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// RunAll executes every preflight check for cfg: directory access for the
// base, log and model directories, the predictor binary, and the model
// installation of each registered mode.
func RunAll(cfg *config.Config, registry *modes.Registry) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Base directory", cfg.Paths.BaseDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckReadableDirectory("Models directory", cfg.Paths.ModelsDir),
		CheckBinary("Predictor", cfg.Prediction.Command),
	}
	if registry == nil {
		return results
	}
	for _, name := range registry.Names() {
		spec, err := registry.Lookup(name)
		if err != nil {
			results = append(results, Result{Name: "Models " + name, Detail: err.Error()})
			continue
		}
		results = append(results, CheckModels(spec, cfg.Paths.ModelsDir, cfg.Prediction.CheckpointName))
	}
	return results
}

// Failed reports whether any required check did not pass.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed && !r.Optional {
			return true
		}
	}
	return false
}

// CheckBinary verifies that command resolves to an executable.
func CheckBinary(name, command string) Result {
	command = strings.TrimSpace(command)
	if command == "" {
		return Result{Name: name, Detail: "command not configured"}
	}
	resolved, err := exec.LookPath(command)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("binary %q not found", command)}
	}
	return Result{Name: name, Passed: true, Detail: resolved}
}

// CheckReadableDirectory verifies that path is an existing, listable directory.
func CheckReadableDirectory(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if _, err := os.ReadDir(path); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read ok)", path)}
}

// CheckModels reports the installation state of one mode. A mode whose
// models are absent is optional: only installed modes can be predicted, but
// not every mode must be installed.
func CheckModels(spec modes.Spec, modelsDir, checkpoint string) Result {
	inst := modelstore.Inspect(spec, modelsDir, checkpoint)
	name := "Models " + spec.Name
	switch inst.State {
	case modelstore.Installed:
		detail := "installed"
		if inst.Version != "" {
			detail += " (version " + inst.Version + ")"
		}
		return Result{Name: name, Passed: true, Detail: detail}
	case modelstore.Corrupted:
		return Result{Name: name, Detail: "corrupted: " + strings.Join(inst.Problems, "; ")}
	default:
		return Result{Name: name, Optional: true, Detail: "not installed"}
	}
}
