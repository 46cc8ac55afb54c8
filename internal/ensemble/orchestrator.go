package ensemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"lyroi/internal/caseset"
	"lyroi/internal/logging"
	"lyroi/internal/merge"
	"lyroi/internal/modes"
	"lyroi/internal/services"
	"lyroi/internal/services/nnunet"
	"lyroi/internal/workspace"
)

// Predictor is the single-model prediction capability.
type Predictor interface {
	Predict(ctx context.Context, req nnunet.Request) error
}

// Merger combines per-model outputs.
type Merger interface {
	Merge(ctx context.Context, dirs []string, outputDir string, strategy merge.Strategy, overwrite bool) error
}

// Dependencies wires an Orchestrator.
type Dependencies struct {
	Registry  *modes.Registry
	ModelsDir string
	Workspace *workspace.Manager
	Predictor Predictor
	Merger    Merger
	Observer  Observer
	Logger    *slog.Logger
}

// Orchestrator runs every model of a mode over one input directory and
// merges their outputs.
type Orchestrator struct {
	registry  *modes.Registry
	modelsDir string
	workspace *workspace.Manager
	predictor Predictor
	merger    Merger
	observer  Observer
	logger    *slog.Logger
}

// New constructs an Orchestrator.
func New(deps Dependencies) *Orchestrator {
	o := &Orchestrator{
		registry:  deps.Registry,
		modelsDir: deps.ModelsDir,
		workspace: deps.Workspace,
		predictor: deps.Predictor,
		merger:    deps.Merger,
		observer:  deps.Observer,
		logger:    logging.NewComponentLogger(deps.Logger, "ensemble"),
	}
	if o.registry == nil {
		o.registry = modes.Builtin()
	}
	if o.merger == nil {
		o.merger = merge.New(deps.Logger)
	}
	if o.observer == nil {
		o.observer = NopObserver{}
	}
	return o
}

// Request describes a directory-mode run.
type Request struct {
	Input     string
	Output    string
	Mode      string
	Device    nnunet.Device
	Strategy  merge.Strategy
	Overwrite bool
}

type plan struct {
	spec     modes.Spec
	refs     []modes.ModelReference
	strategy merge.Strategy
}

// prepare performs every check that must pass before any model runs.
func (o *Orchestrator) prepare(mode string, strategy merge.Strategy) (plan, error) {
	if mode == "" {
		mode = modes.DefaultMode
	}
	if strategy == "" {
		strategy = merge.Default
	}
	parsed, err := merge.ParseStrategy(string(strategy))
	if err != nil {
		return plan{}, err
	}
	spec, err := o.registry.Lookup(mode)
	if err != nil {
		return plan{}, err
	}
	return plan{spec: spec, strategy: parsed}, nil
}

// Run validates the input, runs each model of the mode in declared order
// into its own scratch directory, and merges the results into req.Output.
// The first model failure aborts the run without merging. Scratch space is
// removed on every path.
func (o *Orchestrator) Run(ctx context.Context, req Request) error {
	ctx = o.runContext(ctx, req.Mode)
	logger := logging.WithContext(ctx, o.logger)

	p, err := o.prepare(req.Mode, req.Strategy)
	if err != nil {
		return err
	}
	if info, err := os.Stat(req.Input); err != nil || !info.IsDir() {
		return services.Wrap(services.ErrValidation, "ensemble", "validate input", fmt.Sprintf("%s is not a directory", req.Input), err)
	}
	cases, err := caseset.Validate(req.Input, p.spec.Suffixes())
	if err != nil {
		return err
	}
	if len(cases) == 0 {
		return services.Wrap(services.ErrValidation, "ensemble", "validate input",
			fmt.Sprintf("no %s cases in %s (expected files ending in %v + %s)", p.spec.PrettyName, req.Input, p.spec.Suffixes(), caseset.VolumeExt), nil)
	}
	if p.refs, err = p.spec.Resolve(o.modelsDir); err != nil {
		return err
	}
	if err := os.MkdirAll(req.Output, 0o755); err != nil {
		return services.Wrap(services.ErrValidation, "ensemble", "prepare output", "cannot create output directory", err)
	}

	logger.Info("ensemble run started",
		logging.String("input", req.Input),
		logging.String("output", req.Output),
		logging.Int("cases", len(cases)),
		logging.Int("models", len(p.refs)),
		logging.String("device", string(req.Device)),
		logging.String("strategy", string(p.strategy)),
	)
	start := time.Now()
	err = o.workspace.WithRun(ctx, func(root string) error {
		return o.execute(ctx, root, req, p)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("ensemble run cancelled", logging.Duration("elapsed", time.Since(start)))
		}
		return err
	}
	logger.Info("ensemble run finished", logging.Duration("elapsed", time.Since(start)))
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, root string, req Request, p plan) error {
	o.observer.RunStarted(len(p.refs))
	outputs := make([]string, 0, len(p.refs))
	for i, ref := range p.refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		mctx := services.WithModel(ctx, ref.Name)
		logger := logging.WithContext(mctx, o.logger)

		dir, err := o.workspace.Allocate(root, ref.Name)
		if err != nil {
			return err
		}
		o.observer.ModelStarted(i+1, len(p.refs), ref)
		logger.Info("model started",
			logging.Int("index", i+1),
			logging.Int("total", len(p.refs)),
			logging.Strings("folds", modes.FoldStrings(ref.Folds)),
		)
		began := time.Now()
		err = o.predictor.Predict(mctx, nnunet.Request{
			InputDir:    req.Input,
			OutputDir:   dir,
			ModelFolder: ref.Folder,
			Folds:       modes.FoldStrings(ref.Folds),
			Device:      req.Device,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return services.Wrap(services.ErrExternalTool, "ensemble", "predict",
				fmt.Sprintf("model %d/%d (%s)", i+1, len(p.refs), ref.Name), err)
		}
		logger.Info("model finished", logging.Duration("elapsed", time.Since(began)))
		outputs = append(outputs, dir)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	o.observer.MergeStarted()
	return o.merger.Merge(ctx, outputs, req.Output, p.strategy, req.Overwrite)
}

func (o *Orchestrator) runContext(ctx context.Context, mode string) context.Context {
	if _, ok := services.RunIDFromContext(ctx); !ok {
		ctx = services.WithRunID(ctx, uuid.NewString())
	}
	if mode == "" {
		mode = modes.DefaultMode
	}
	return services.WithMode(ctx, mode)
}
