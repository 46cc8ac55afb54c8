package ensemble

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"lyroi/internal/caseset"
	"lyroi/internal/fileutil"
	"lyroi/internal/logging"
	"lyroi/internal/merge"
	"lyroi/internal/services"
	"lyroi/internal/services/nnunet"
)

// FilesRequest describes a run over one explicit case: one file per channel,
// in the mode's channel order, producing a single output file.
type FilesRequest struct {
	Files      []string
	OutputFile string
	Mode       string
	Device     nnunet.Device
	Strategy   merge.Strategy
}

// RunFiles links the given channel files into a synthetic one-case input
// directory, runs the ensemble over it, and moves the result to
// req.OutputFile, replacing any file already there.
func (o *Orchestrator) RunFiles(ctx context.Context, req FilesRequest) error {
	ctx = o.runContext(ctx, req.Mode)
	logger := logging.WithContext(ctx, o.logger)

	p, err := o.prepare(req.Mode, req.Strategy)
	if err != nil {
		return err
	}
	suffixes := p.spec.Suffixes()
	if len(req.Files) != len(suffixes) {
		return services.Wrap(services.ErrValidation, "ensemble", "validate files",
			fmt.Sprintf("%s needs %d input files (%s), got %d", p.spec.PrettyName, len(suffixes), channelNames(p), len(req.Files)), nil)
	}
	for _, f := range req.Files {
		info, err := os.Stat(f)
		if err != nil || !info.Mode().IsRegular() {
			return services.Wrap(services.ErrValidation, "ensemble", "validate files", fmt.Sprintf("%s is not a file", f), err)
		}
		if !caseset.HasVolumeExt(f) {
			return services.Wrap(services.ErrValidation, "ensemble", "validate files",
				fmt.Sprintf("%s: only %s files are supported", f, caseset.VolumeExt), nil)
		}
	}
	if !caseset.HasVolumeExt(req.OutputFile) {
		return services.Wrap(services.ErrValidation, "ensemble", "validate files",
			fmt.Sprintf("output %s must end in %s", req.OutputFile, caseset.VolumeExt), nil)
	}
	if info, err := os.Stat(filepath.Dir(req.OutputFile)); err != nil || !info.IsDir() {
		return services.Wrap(services.ErrValidation, "ensemble", "validate files",
			fmt.Sprintf("output directory %s does not exist", filepath.Dir(req.OutputFile)), err)
	}

	caseID := caseIDFor(req.OutputFile)
	return o.workspace.WithRun(ctx, func(root string) error {
		input, err := o.workspace.Allocate(root, "input")
		if err != nil {
			return err
		}
		for i, f := range req.Files {
			dst := filepath.Join(input, caseID+suffixes[i]+caseset.VolumeExt)
			if err := fileutil.LinkFile(f, dst); err != nil {
				return services.Wrap(services.ErrValidation, "ensemble", "link input", f, err)
			}
		}
		output, err := o.workspace.Allocate(root, "output")
		if err != nil {
			return err
		}
		logger.Debug("running ensemble for single case",
			logging.String(logging.FieldCase, caseID),
			logging.String("output_file", req.OutputFile),
		)
		if err := o.Run(ctx, Request{
			Input:     input,
			Output:    output,
			Mode:      p.spec.Name,
			Device:    req.Device,
			Strategy:  p.strategy,
			Overwrite: true,
		}); err != nil {
			return err
		}
		return relocate(filepath.Join(output, caseset.OutputName(caseID)), req.OutputFile)
	})
}

func relocate(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return services.Wrap(services.ErrExternalTool, "ensemble", "relocate", "ensemble produced no output", err)
	}
	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return services.Wrap(services.ErrTransient, "ensemble", "relocate", "cannot replace existing output", err)
	}
	if err := fileutil.MoveFile(src, dst); err != nil {
		return services.Wrap(services.ErrTransient, "ensemble", "relocate", dst, err)
	}
	return nil
}

// caseIDFor derives the synthetic case identifier from the output name so
// that the predictor's own log lines name the case sensibly.
func caseIDFor(outputFile string) string {
	id := caseset.TrimVolumeExt(filepath.Base(outputFile))
	id = strings.TrimSpace(id)
	if id == "" {
		return "case"
	}
	return id
}

func channelNames(p plan) string {
	names := make([]string, len(p.spec.Channels))
	for i, ch := range p.spec.Channels {
		names[i] = ch.Name
	}
	return strings.Join(names, ", ")
}
