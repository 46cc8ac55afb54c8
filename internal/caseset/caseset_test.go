package caseset

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"lyroi/internal/services"
)

var petct = []string{"_0000", "_0001"}

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestHasVolumeExt(t *testing.T) {
	tests := map[string]bool{
		"a.nii.gz":  true,
		"A.NII.GZ":  true,
		"a.Nii.Gz":  true,
		"a.nii":     false,
		"a.gz":      false,
		".nii.gz":   true,
		"nii.gz":    false,
		"a.nii.gz~": false,
	}
	for name, want := range tests {
		if got := HasVolumeExt(name); got != want {
			t.Fatalf("HasVolumeExt(%q) = %v, want %v", name, got, want)
		}
	}
	if got := TrimVolumeExt("P1_0000.NII.GZ"); got != "P1_0000" {
		t.Fatalf("TrimVolumeExt = %q", got)
	}
}

func TestValidateMatchingChannels(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "P1_0000.nii.gz", "P1_0001.nii.gz", "P2_0000.NII.GZ", "P2_0001.nii.gz", "notes.txt", "P3.nii.gz")
	set, err := Validate(dir, petct)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := set.Sorted(); !reflect.DeepEqual(got, []string{"P1", "P2"}) {
		t.Fatalf("cases = %v", got)
	}
}

func TestValidateReportsEveryMismatchedCase(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "P1_0000.nii.gz", "P1_0001.nii.gz", "P7_0000.nii.gz", "P9_0001.nii.gz")
	_, err := Validate(dir, petct)
	var mismatch *MismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected MismatchError, got %v", err)
	}
	if !reflect.DeepEqual(mismatch.Cases, []string{"P7", "P9"}) {
		t.Fatalf("cases = %v", mismatch.Cases)
	}
	if !errors.Is(err, services.ErrValidation) || !services.Precondition(err) {
		t.Fatalf("mismatch should be a precondition failure: %v", err)
	}
}

func TestValidateMissingDirectory(t *testing.T) {
	_, err := Validate(filepath.Join(t.TempDir(), "missing"), petct)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSetDiff(t *testing.T) {
	a := Set{"x": {}, "y": {}}
	b := Set{"y": {}, "z": {}}
	if got := a.Diff(b); !reflect.DeepEqual(got, []string{"x", "z"}) {
		t.Fatalf("diff = %v", got)
	}
	if got := a.Diff(a); len(got) != 0 {
		t.Fatalf("self diff = %v", got)
	}
}
