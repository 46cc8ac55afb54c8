package config

const (
	defaultBaseDir           = "~/.lyroi"
	defaultModelsSubdir      = "nnUNet_results"
	defaultTmpSubdir         = "tmp"
	defaultLogSubdir         = "logs"
	defaultPredictCommand    = "nnUNetv2_predict_from_modelfolder"
	defaultDevice            = "gpu"
	defaultCPUThreadCap      = 8
	defaultStepSize          = 0.5
	defaultCheckpointName    = "checkpoint_final.pth"
	defaultPreprocessWorkers = 3
	defaultExportWorkers     = 3
	defaultMergeStrategy     = "union"
	defaultStopGraceMillis   = 1000
	defaultStaleAfterHours   = 24
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultLogRetentionDays  = 30

	// BaseDirEnv overrides the base directory when the config file leaves it unset.
	BaseDirEnv = "LYROI_DIR"
	// MaxThreadsEnv limits cpu-max runs, matching the predictor's own variable.
	MaxThreadsEnv = "nnUNet_def_n_proc"
)

// Default returns a Config populated with repository defaults. Derived
// directories (models, tmp, logs) are filled in by normalize once the base
// directory is known.
func Default() Config {
	return Config{
		Prediction: Prediction{
			Command:           defaultPredictCommand,
			DefaultDevice:     defaultDevice,
			CPUThreadCap:      defaultCPUThreadCap,
			StepSize:          defaultStepSize,
			CheckpointName:    defaultCheckpointName,
			PreprocessWorkers: defaultPreprocessWorkers,
			ExportWorkers:     defaultExportWorkers,
		},
		Merge: Merge{
			DefaultStrategy: defaultMergeStrategy,
		},
		Supervisor: Supervisor{
			StopGraceMillis: defaultStopGraceMillis,
		},
		Workspace: Workspace{
			StaleAfterHours: defaultStaleAfterHours,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
