package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"lyroi/internal/modes"
	"lyroi/internal/nifti"
)

// Identity is a unit-spacing affine at the origin.
var Identity = [4][4]float64{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}

// versionFile mirrors modelstore.VersionFile; importing modelstore here
// would cycle with its own tests.
const versionFile = "VERSION"

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0x42
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteMask writes a one-dimensional binary mask volume with the identity
// affine.
func WriteMask(t testing.TB, path string, mask []uint8) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	h, err := nifti.NewHeader([]int{len(mask)}, Identity)
	if err != nil {
		t.Fatalf("header for %s: %v", path, err)
	}
	if err := nifti.WriteMask(path, h, mask); err != nil {
		t.Fatalf("write mask %s: %v", path, err)
	}
}

// InstallModels lays out a complete model tree for spec below modelsDir:
// descriptors, one checkpoint per fold, and a VERSION file per model when
// version returns a non-empty string for that model's index.
func InstallModels(t testing.TB, modelsDir string, spec modes.Spec, checkpoint string, version func(i int) string) []modes.ModelReference {
	t.Helper()
	dataset := filepath.Join(modelsDir, fmt.Sprintf("Dataset%03d_%s", spec.DatasetID, spec.Name))
	if err := os.MkdirAll(dataset, 0o755); err != nil {
		t.Fatal(err)
	}
	refs, err := spec.Resolve(modelsDir)
	if err != nil {
		t.Fatal(err)
	}
	for i, ref := range refs {
		for _, fold := range ref.Folds {
			dir := filepath.Join(ref.Folder, "fold_"+fold.String())
			if err := os.MkdirAll(dir, 0o755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(filepath.Join(dir, checkpoint), nil, 0o644); err != nil {
				t.Fatal(err)
			}
		}
		for _, name := range []string{"dataset.json", "plans.json"} {
			if err := os.WriteFile(filepath.Join(ref.Folder, name), []byte("{}"), 0o644); err != nil {
				t.Fatal(err)
			}
		}
		if version == nil {
			continue
		}
		if v := version(i); v != "" {
			if err := os.WriteFile(filepath.Join(ref.Folder, versionFile), []byte(v+"\n"), 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}
	return refs
}

