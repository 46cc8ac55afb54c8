package nnunet

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"runtime"
	"slices"
	"strings"
	"testing"

	"lyroi/internal/config"
	"lyroi/internal/services"
)

func TestParseDevice(t *testing.T) {
	for _, in := range []string{"gpu", "CPU", " cpu-max ", "mps"} {
		if _, err := ParseDevice(in); err != nil {
			t.Fatalf("ParseDevice(%q): %v", in, err)
		}
	}
	if _, err := ParseDevice("tpu"); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	cfg := Config{CPUThreadCap: 1, MaxThreads: 3}
	if got := cfg.Resolve(DeviceGPU); got != (DeviceSettings{Torch: "cuda", Threads: 1}) {
		t.Fatalf("gpu = %+v", got)
	}
	if got := cfg.Resolve(DeviceCPU); got != (DeviceSettings{Torch: "cpu", Threads: 1}) {
		t.Fatalf("cpu = %+v", got)
	}
	if got := cfg.Resolve(DeviceCPUMax); got != (DeviceSettings{Torch: "cpu", Threads: 3}) {
		t.Fatalf("cpu-max = %+v", got)
	}
	if got := (Config{}).Resolve(DeviceCPUMax); got.Threads != runtime.NumCPU() {
		t.Fatalf("cpu-max without limit = %+v", got)
	}
	if got := cfg.Resolve(DeviceMPS); got != (DeviceSettings{Torch: "mps"}) {
		t.Fatalf("mps = %+v", got)
	}
}

func TestResolveUsesConfiguredCores(t *testing.T) {
	single := Config{CPUThreadCap: 8, Cores: 1}
	if got := single.Resolve(DeviceCPU); got.Threads != 1 {
		t.Fatalf("cpu on one core = %+v", got)
	}
	many := Config{CPUThreadCap: 8, Cores: 32}
	if got := many.Resolve(DeviceCPU); got.Threads != 8 {
		t.Fatalf("cpu capped = %+v", got)
	}
	if got := (Config{Cores: 32}).Resolve(DeviceCPUMax); got.Threads != 32 {
		t.Fatalf("cpu-max = %+v", got)
	}
}

type call struct {
	env  []string
	name string
	args []string
}

func recorder(calls *[]call, err error) CommandRunner {
	return func(_ context.Context, env []string, name string, args ...string) error {
		*calls = append(*calls, call{env: env, name: name, args: args})
		return err
	}
}

func envValue(env []string, key string) (string, bool) {
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			return v, true
		}
	}
	return "", false
}

func TestPredictBuildsCommand(t *testing.T) {
	t.Setenv(EnvResults, "/from/process/env")
	var calls []call
	cfg := Config{ResultsDir: "/models", CPUThreadCap: 2, Cores: 8, DisableTTA: true, ExtraEnv: map[string]string{"CUDA_VISIBLE_DEVICES": "1"}}
	client := NewClient(cfg, WithCommandRunner(recorder(&calls, nil)))
	out := filepath.Join(t.TempDir(), "out")

	err := client.Predict(context.Background(), Request{
		InputDir:    "/in",
		OutputDir:   out,
		ModelFolder: "/models/Dataset001_X/nnUNetTrainer__nnUNetPlans__3d_fullres",
		Folds:       []string{"0", "1"},
		Device:      DeviceCPU,
	})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(calls) != 1 || calls[0].name != Command {
		t.Fatalf("calls = %+v", calls)
	}
	want := []string{
		"-i", "/in", "-o", out, "-m", "/models/Dataset001_X/nnUNetTrainer__nnUNetPlans__3d_fullres",
		"-f", "0", "1",
		"-step_size", "0.5", "-chk", "checkpoint_final.pth", "-device", "cpu",
		"-npp", "3", "-nps", "3", "--disable_tta",
	}
	if !reflect.DeepEqual(calls[0].args, want) {
		t.Fatalf("args = %v\nwant  %v", calls[0].args, want)
	}

	env := calls[0].env
	if v, _ := envValue(env, EnvResults); v != "/models" {
		t.Fatalf("%s = %q, configured value must win over the process env", EnvResults, v)
	}
	if v, _ := envValue(env, EnvOMPThreads); v != "2" {
		t.Fatalf("%s = %q", EnvOMPThreads, v)
	}
	if v, _ := envValue(env, "CUDA_VISIBLE_DEVICES"); v != "1" {
		t.Fatalf("extra env missing: %q", v)
	}
	count := 0
	for _, kv := range env {
		if strings.HasPrefix(kv, EnvResults+"=") {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("%s appears %d times", EnvResults, count)
	}
}

func TestPredictMPSLeavesThreadsUnset(t *testing.T) {
	t.Setenv(EnvDefaultProcs, "")
	var calls []call
	client := NewClient(Config{}, WithCommandRunner(recorder(&calls, nil)))
	err := client.Predict(context.Background(), Request{
		InputDir: "/in", OutputDir: t.TempDir(), ModelFolder: "/m", Folds: []string{"all"}, Device: DeviceMPS,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Contains(calls[0].args, "mps") {
		t.Fatalf("args = %v", calls[0].args)
	}
	if v, _ := envValue(calls[0].env, EnvDefaultProcs); v != "" {
		t.Fatalf("thread env should not be set for mps, got %q", v)
	}
}

func TestPredictWrapsFailures(t *testing.T) {
	var calls []call
	client := NewClient(Config{}, WithCommandRunner(recorder(&calls, errors.New("exit status 1"))))
	err := client.Predict(context.Background(), Request{
		InputDir: "/in", OutputDir: t.TempDir(), ModelFolder: "/m", Folds: []string{"0"}, Device: DeviceGPU,
	})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}

	if err := client.Predict(context.Background(), Request{OutputDir: t.TempDir()}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.ModelsDir = "/m"
	cfg.Prediction.MaxThreads = 6
	got := ConfigFrom(&cfg)
	if got.ResultsDir != "/m" || got.MaxThreads != 6 || got.Command != Command {
		t.Fatalf("ConfigFrom = %+v", got)
	}
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{limit: 8}
	_, _ = tb.Write([]byte("first line\nsecond"))
	if tb.String() != "e\nsecond" {
		t.Fatalf("tail = %q", tb.String())
	}
	if got := lastLine("a\rb\r\nfatal: boom"); got != "fatal: boom" {
		t.Fatalf("lastLine = %q", got)
	}
}
