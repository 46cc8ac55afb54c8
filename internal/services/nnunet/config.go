package nnunet

import (
	"fmt"
	"runtime"
	"strings"

	"lyroi/internal/config"
	"lyroi/internal/services"
)

// Command is the predictor entry point installed with nnU-Net v2.
const Command = "nnUNetv2_predict_from_modelfolder"

// Environment variables the predictor reads.
const (
	EnvResults      = "nnUNet_results"
	EnvRaw          = "nnUNet_raw"
	EnvPreprocessed = "nnUNet_preprocessed"
	EnvOMPThreads   = "OMP_NUM_THREADS"
	EnvDefaultProcs = "nnUNet_def_n_proc"
)

// Device selects the compute device and thread policy.
type Device string

const (
	DeviceGPU    Device = "gpu"
	DeviceCPU    Device = "cpu"
	DeviceCPUMax Device = "cpu-max"
	DeviceMPS    Device = "mps"
)

// Devices lists the accepted device selectors.
var Devices = []Device{DeviceGPU, DeviceCPU, DeviceCPUMax, DeviceMPS}

// ParseDevice validates a device selector.
func ParseDevice(value string) (Device, error) {
	d := Device(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range Devices {
		if d == known {
			return d, nil
		}
	}
	return "", services.Wrap(services.ErrConfiguration, "nnunet", "parse device",
		fmt.Sprintf("unknown device %q (use gpu, cpu, cpu-max or mps)", value), nil)
}

// DeviceSettings is what a Device resolves to for one invocation.
type DeviceSettings struct {
	// Torch is the device name passed to the predictor (cuda, cpu, mps).
	Torch string
	// Threads caps CPU threads; zero leaves the predictor's default.
	Threads int
}

// Config carries everything the predictor needs. Nothing is read from the
// process environment at prediction time.
type Config struct {
	Command           string
	ResultsDir        string
	RawDir            string
	PreprocessedDir   string
	CheckpointName    string
	StepSize          float64
	PreprocessWorkers int
	ExportWorkers     int
	CPUThreadCap      int
	MaxThreads        int
	DisableTTA        bool
	ExtraEnv          map[string]string
	// Cores is the host core count used for CPU thread budgets. Zero means
	// runtime.NumCPU.
	Cores int
}

// ConfigFrom builds a predictor Config from the application configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Command:           cfg.Prediction.Command,
		ResultsDir:        cfg.Paths.ModelsDir,
		CheckpointName:    cfg.Prediction.CheckpointName,
		StepSize:          cfg.Prediction.StepSize,
		PreprocessWorkers: cfg.Prediction.PreprocessWorkers,
		ExportWorkers:     cfg.Prediction.ExportWorkers,
		CPUThreadCap:      cfg.Prediction.CPUThreadCap,
		MaxThreads:        cfg.Prediction.MaxThreads,
		DisableTTA:        cfg.Prediction.DisableTTA,
	}
}

// Resolve maps a device onto its torch device and thread budget.
func (c Config) Resolve(d Device) DeviceSettings {
	cores := c.Cores
	if cores <= 0 {
		cores = runtime.NumCPU()
	}
	switch d {
	case DeviceGPU:
		// More threads do not speed up GPU inference.
		return DeviceSettings{Torch: "cuda", Threads: 1}
	case DeviceCPU:
		threads := cores
		if c.CPUThreadCap > 0 && threads > c.CPUThreadCap {
			threads = c.CPUThreadCap
		}
		return DeviceSettings{Torch: "cpu", Threads: threads}
	case DeviceCPUMax:
		if c.MaxThreads > 0 {
			return DeviceSettings{Torch: "cpu", Threads: c.MaxThreads}
		}
		return DeviceSettings{Torch: "cpu", Threads: cores}
	case DeviceMPS:
		return DeviceSettings{Torch: "mps"}
	}
	return DeviceSettings{Torch: string(d)}
}

func (c Config) withDefaults() Config {
	if c.Command == "" {
		c.Command = Command
	}
	if c.CheckpointName == "" {
		c.CheckpointName = "checkpoint_final.pth"
	}
	if c.StepSize <= 0 {
		c.StepSize = 0.5
	}
	if c.PreprocessWorkers <= 0 {
		c.PreprocessWorkers = 3
	}
	if c.ExportWorkers <= 0 {
		c.ExportWorkers = 3
	}
	return c
}
