package ensemble

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"lyroi/internal/caseset"
	"lyroi/internal/logging"
	"lyroi/internal/merge"
	"lyroi/internal/modes"
	"lyroi/internal/nifti"
	"lyroi/internal/services"
	"lyroi/internal/services/nnunet"
	"lyroi/internal/workspace"
)

var identity = [4][4]float64{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}

// fakePredictor writes one mask per case, with voxel i set when bit i of the
// model's pattern is set.
type fakePredictor struct {
	mu       sync.Mutex
	requests []nnunet.Request
	patterns map[string][]uint8
	failOn   string
	onCall   func(nnunet.Request)
}

func (f *fakePredictor) Predict(ctx context.Context, req nnunet.Request) error {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall(req)
	}
	model := filepath.Base(req.ModelFolder)
	if f.failOn != "" && strings.Contains(model, f.failOn) {
		return errors.New("CUDA out of memory")
	}
	cases, err := caseset.Validate(req.InputDir, []string{"_0000", "_0001"})
	if err != nil {
		return err
	}
	pattern := []uint8{1, 0, 0, 0}
	for key, p := range f.patterns {
		if strings.Contains(model, key) {
			pattern = p
		}
	}
	for id := range cases {
		h, err := nifti.NewHeader([]int{len(pattern)}, identity)
		if err != nil {
			return err
		}
		if err := nifti.WriteMask(filepath.Join(req.OutputDir, caseset.OutputName(id)), h, pattern); err != nil {
			return err
		}
	}
	return nil
}

type recordingObserver struct {
	events []string
}

func (r *recordingObserver) RunStarted(n int) { r.events = append(r.events, "start") }
func (r *recordingObserver) ModelStarted(i, n int, ref modes.ModelReference) {
	r.events = append(r.events, ref.Name)
}
func (r *recordingObserver) MergeStarted() { r.events = append(r.events, "merge") }

type fixture struct {
	orch      *Orchestrator
	predictor *fakePredictor
	observer  *recordingObserver
	tmpBase   string
	input     string
	output    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	models := filepath.Join(root, "models")
	if err := os.MkdirAll(filepath.Join(models, "Dataset001_LyROI"), 0o755); err != nil {
		t.Fatal(err)
	}
	input := filepath.Join(root, "input")
	if err := os.MkdirAll(input, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"P1_0000.nii.gz", "P1_0001.nii.gz", "P2_0000.nii.gz", "P2_0001.nii.gz"} {
		if err := os.WriteFile(filepath.Join(input, name), []byte("img"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	tmpBase := filepath.Join(root, "tmp")
	fp := &fakePredictor{patterns: map[string][]uint8{
		"__nnUNetPlans__":            {1, 1, 0, 0},
		"__nnUNetResEncUNetMPlans__": {1, 0, 1, 0},
		"__nnUNetResEncUNetLPlans__": {1, 1, 0, 0},
	}}
	obs := &recordingObserver{}
	orch := New(Dependencies{
		ModelsDir: models,
		Workspace: workspace.New(tmpBase, logging.NewNop()),
		Predictor: fp,
		Observer:  obs,
		Logger:    logging.NewNop(),
	})
	return &fixture{orch: orch, predictor: fp, observer: obs, tmpBase: tmpBase, input: input, output: filepath.Join(root, "out")}
}

func TestRunEnsemblePETCT(t *testing.T) {
	fx := newFixture(t)
	err := fx.orch.Run(context.Background(), Request{Input: fx.input, Output: fx.output, Device: nnunet.DeviceCPU})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(fx.predictor.requests) != 3 {
		t.Fatalf("predictor called %d times", len(fx.predictor.requests))
	}
	wantOrder := []string{"nnUNetPlans", "nnUNetResEncUNetMPlans", "nnUNetResEncUNetLPlans"}
	for i, req := range fx.predictor.requests {
		if !strings.HasSuffix(req.ModelFolder, "nnUNetTrainer__"+wantOrder[i]+"__3d_fullres") {
			t.Fatalf("request %d model = %s", i, req.ModelFolder)
		}
		if req.InputDir != fx.input || req.Device != nnunet.DeviceCPU {
			t.Fatalf("request %d = %+v", i, req)
		}
		if !slices.Equal(req.Folds, []string{"0", "1", "2", "3", "4"}) {
			t.Fatalf("folds = %v", req.Folds)
		}
	}
	if !slices.Equal(fx.observer.events, []string{"start", wantOrder[0], wantOrder[1], wantOrder[2], "merge"}) {
		t.Fatalf("observer events = %v", fx.observer.events)
	}

	for _, name := range []string{"P1.nii.gz", "P2.nii.gz"} {
		vol, err := nifti.Read(filepath.Join(fx.output, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		// Union of the three patterns.
		if !slices.Equal(vol.Data, []float64{1, 1, 1, 0}) {
			t.Fatalf("%s = %v", name, vol.Data)
		}
	}
	if _, err := os.Stat(fx.tmpBase); !os.IsNotExist(err) {
		t.Fatalf("temporary base should be removed: %v", err)
	}
}

func TestRunMajorityStrategy(t *testing.T) {
	fx := newFixture(t)
	err := fx.orch.Run(context.Background(), Request{Input: fx.input, Output: fx.output, Strategy: merge.Majority})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	vol, err := nifti.Read(filepath.Join(fx.output, "P1.nii.gz"))
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(vol.Data, []float64{1, 1, 0, 0}) {
		t.Fatalf("majority = %v", vol.Data)
	}
}

func TestRunCaseMismatchFailsBeforePrediction(t *testing.T) {
	fx := newFixture(t)
	if err := os.WriteFile(filepath.Join(fx.input, "P7_0000.nii.gz"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	err := fx.orch.Run(context.Background(), Request{Input: fx.input, Output: fx.output})
	var mismatch *caseset.MismatchError
	if !errors.As(err, &mismatch) || !slices.Equal(mismatch.Cases, []string{"P7"}) {
		t.Fatalf("expected mismatch for P7, got %v", err)
	}
	if len(fx.predictor.requests) != 0 {
		t.Fatal("no model may run after a precondition failure")
	}
}

func TestRunInvalidStrategyAndMode(t *testing.T) {
	fx := newFixture(t)
	err := fx.orch.Run(context.Background(), Request{Input: fx.input, Output: fx.output, Strategy: "vote"})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	err = fx.orch.Run(context.Background(), Request{Input: fx.input, Output: fx.output, Mode: "mri"})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if len(fx.predictor.requests) != 0 {
		t.Fatal("no model may run")
	}
}

func TestRunEmptyInput(t *testing.T) {
	fx := newFixture(t)
	empty := filepath.Join(t.TempDir(), "empty")
	_ = os.MkdirAll(empty, 0o755)
	err := fx.orch.Run(context.Background(), Request{Input: empty, Output: fx.output})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRunAbortsOnFirstModelFailure(t *testing.T) {
	fx := newFixture(t)
	fx.predictor.failOn = "ResEncUNetM"
	err := fx.orch.Run(context.Background(), Request{Input: fx.input, Output: fx.output})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if len(fx.predictor.requests) != 2 {
		t.Fatalf("third model must not run, got %d calls", len(fx.predictor.requests))
	}
	entries, _ := os.ReadDir(fx.output)
	if len(entries) != 0 {
		t.Fatalf("no partial merge expected, found %d files", len(entries))
	}
	if _, err := os.Stat(fx.tmpBase); !os.IsNotExist(err) {
		t.Fatalf("cleanup must run after failure: %v", err)
	}
}

func TestRunCancellationStillCleansUp(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	fx.predictor.onCall = func(nnunet.Request) { cancel() }
	err := fx.orch.Run(ctx, Request{Input: fx.input, Output: fx.output})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(fx.predictor.requests) != 1 {
		t.Fatalf("no model should start after cancellation, got %d", len(fx.predictor.requests))
	}
	if _, err := os.Stat(fx.tmpBase); !os.IsNotExist(err) {
		t.Fatalf("cleanup must run after cancellation: %v", err)
	}
}

func TestRunExistingOutputWithoutOverwrite(t *testing.T) {
	fx := newFixture(t)
	if err := os.MkdirAll(fx.output, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(fx.output, "P1.nii.gz"), []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := fx.orch.Run(context.Background(), Request{Input: fx.input, Output: fx.output})
	if !errors.Is(err, services.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	if got, _ := os.ReadFile(filepath.Join(fx.output, "P1.nii.gz")); string(got) != "keep" {
		t.Fatal("existing output modified")
	}
}

func TestRunFiles(t *testing.T) {
	fx := newFixture(t)
	dir := t.TempDir()
	ct := filepath.Join(dir, "ct_img.nii.gz")
	pet := filepath.Join(dir, "pet_img.NII.GZ")
	_ = os.WriteFile(ct, []byte("ct"), 0o644)
	_ = os.WriteFile(pet, []byte("pet"), 0o644)
	out := filepath.Join(dir, "mask.nii.gz")
	if err := os.WriteFile(out, []byte("old result"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := fx.orch.RunFiles(context.Background(), FilesRequest{Files: []string{ct, pet}, OutputFile: out})
	if err != nil {
		t.Fatalf("run files: %v", err)
	}
	vol, err := nifti.Read(out)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if !slices.Equal(vol.Data, []float64{1, 1, 1, 0}) {
		t.Fatalf("result = %v", vol.Data)
	}
	for _, f := range []string{ct, pet} {
		if _, err := os.Stat(f); err != nil {
			t.Fatalf("input %s must survive: %v", f, err)
		}
	}
	if got, _ := os.ReadFile(ct); !bytes.Equal(got, []byte("ct")) {
		t.Fatal("input content changed")
	}
	if _, err := os.Stat(fx.tmpBase); !os.IsNotExist(err) {
		t.Fatalf("synthetic input and nested run must be cleaned: %v", err)
	}
	if len(fx.predictor.requests) != 3 {
		t.Fatalf("predictor calls = %d", len(fx.predictor.requests))
	}
}

func TestRunFilesValidation(t *testing.T) {
	fx := newFixture(t)
	dir := t.TempDir()
	ct := filepath.Join(dir, "ct.nii.gz")
	nii := filepath.Join(dir, "pet.nii")
	_ = os.WriteFile(ct, nil, 0o644)
	_ = os.WriteFile(nii, nil, 0o644)

	tests := []FilesRequest{
		{Files: []string{ct}, OutputFile: filepath.Join(dir, "m.nii.gz")},
		{Files: []string{ct, nii}, OutputFile: filepath.Join(dir, "m.nii.gz")},
		{Files: []string{ct, ct}, OutputFile: filepath.Join(dir, "m.nii")},
		{Files: []string{ct, filepath.Join(dir, "missing.nii.gz")}, OutputFile: filepath.Join(dir, "m.nii.gz")},
		{Files: []string{ct, ct}, OutputFile: filepath.Join(dir, "nope", "m.nii.gz")},
	}
	for i, req := range tests {
		if err := fx.orch.RunFiles(context.Background(), req); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
	if len(fx.predictor.requests) != 0 {
		t.Fatal("no model may run on invalid file input")
	}
}

func TestTextObserver(t *testing.T) {
	var buf bytes.Buffer
	obs := TextObserver{W: &buf}
	obs.RunStarted(3)
	obs.ModelStarted(2, 3, modes.ModelReference{})
	obs.MergeStarted()
	if !strings.Contains(buf.String(), "Predicting with model 2/3\n") || !strings.HasSuffix(buf.String(), "Merging delineations...\n") {
		t.Fatalf("output = %q", buf.String())
	}
}
