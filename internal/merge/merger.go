package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sort"

	"golang.org/x/sync/errgroup"

	"lyroi/internal/caseset"
	"lyroi/internal/fileutil"
	"lyroi/internal/logging"
	"lyroi/internal/nifti"
	"lyroi/internal/services"
)

// Merger combines same-named delineations from several directories.
type Merger struct {
	logger  *slog.Logger
	workers int
}

// Option configures a Merger.
type Option func(*Merger)

// WithDecodeWorkers bounds how many volumes are decoded at once.
func WithDecodeWorkers(n int) Option {
	return func(m *Merger) {
		if n > 0 {
			m.workers = n
		}
	}
}

// New constructs a Merger.
func New(logger *slog.Logger, opts ...Option) *Merger {
	m := &Merger{
		logger:  logging.NewComponentLogger(logger, "merge"),
		workers: min(runtime.NumCPU(), 4),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Merge combines the volumes in dirs case by case and writes the results to
// outputDir, which is created when missing.
//
// Every directory must hold the same set of volume file names; otherwise
// nothing is written. With a single directory the files are relocated
// unchanged. With overwrite unset, any existing destination file fails the
// merge with ErrAlreadyExists before anything is written.
func (m *Merger) Merge(ctx context.Context, dirs []string, outputDir string, strategy Strategy, overwrite bool) error {
	if !strategy.valid() {
		return services.Wrap(services.ErrConfiguration, "merge", "validate", fmt.Sprintf("invalid merging strategy %q", strategy), nil)
	}
	if len(dirs) == 0 {
		return services.Wrap(services.ErrValidation, "merge", "validate", "no input directories", nil)
	}
	logger := logging.WithContext(ctx, m.logger)

	names, err := sharedVolumes(dirs)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		logger.Info("no volumes to merge", logging.Int("directories", len(dirs)))
		return nil
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return services.Wrap(services.ErrValidation, "merge", "prepare output", "cannot create output directory", err)
	}
	if err := checkDestinations(outputDir, names, overwrite); err != nil {
		return err
	}

	logger.Info("merging delineations",
		logging.String("strategy", string(strategy)),
		logging.Int("directories", len(dirs)),
		logging.Int("cases", len(names)),
	)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		dst := filepath.Join(outputDir, name)
		if len(dirs) == 1 {
			if err := clearDestination(dst, overwrite); err != nil {
				return err
			}
			if err := fileutil.MoveFile(filepath.Join(dirs[0], name), dst); err != nil {
				return services.Wrap(services.ErrTransient, "merge", "relocate", name, err)
			}
			continue
		}
		if err := m.mergeCase(ctx, dirs, name, dst, strategy, overwrite); err != nil {
			return err
		}
		logger.Debug("case merged", logging.String(logging.FieldCase, name))
	}
	return nil
}

func (m *Merger) mergeCase(ctx context.Context, dirs []string, name, dst string, strategy Strategy, overwrite bool) error {
	vols := make([]*nifti.Volume, len(dirs))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for i, dir := range dirs {
		g.Go(func() error {
			vol, err := nifti.Read(filepath.Join(dir, name))
			if err != nil {
				return services.Wrap(services.ErrValidation, "merge", "decode", name, err)
			}
			vols[i] = vol
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	first := vols[0]
	sources := make([][]float64, len(vols))
	for i, vol := range vols {
		if !slices.Equal(vol.Header.Dims(), first.Header.Dims()) {
			return services.Wrap(services.ErrValidation, "merge", "shape check",
				fmt.Sprintf("%s: %s has shape %v, %s has %v", name, dirs[i], vol.Header.Dims(), dirs[0], first.Header.Dims()), nil)
		}
		sources[i] = vol.Data
	}
	merged := strategy.combine(sources)
	if err := clearDestination(dst, overwrite); err != nil {
		return err
	}
	if err := nifti.WriteMask(dst, first.Header, merged); err != nil {
		return services.Wrap(services.ErrTransient, "merge", "write", name, err)
	}
	return nil
}

// sharedVolumes lists the volume names common to every directory, failing
// when the directories disagree on count or names.
func sharedVolumes(dirs []string) ([]string, error) {
	var first []string
	for i, dir := range dirs {
		names, err := listVolumes(dir)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "merge", "list", dir, err)
		}
		if i == 0 {
			first = names
			continue
		}
		if len(names) != len(first) {
			return nil, services.Wrap(services.ErrValidation, "merge", "compare",
				fmt.Sprintf("number of images differs: %s has %d, %s has %d", dirs[0], len(first), dir, len(names)), nil)
		}
		if !slices.Equal(names, first) {
			return nil, services.Wrap(services.ErrValidation, "merge", "compare",
				fmt.Sprintf("file names in %s do not match %s", dir, dirs[0]), nil)
		}
	}
	return first, nil
}

func listVolumes(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !caseset.HasVolumeExt(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// checkDestinations fails with ErrAlreadyExists when any destination exists
// and overwrite is off, so nothing is written in that case. Existing files
// are only removed one at a time, right before their replacement is written.
func checkDestinations(outputDir string, names []string, overwrite bool) error {
	if overwrite {
		return nil
	}
	for _, name := range names {
		dst := filepath.Join(outputDir, name)
		_, err := os.Lstat(dst)
		if err == nil {
			return services.Wrap(services.ErrAlreadyExists, "merge", "prepare output",
				fmt.Sprintf("output file %s already exists", dst), nil)
		}
		if !errors.Is(err, os.ErrNotExist) {
			return services.Wrap(services.ErrValidation, "merge", "stat destination", dst, err)
		}
	}
	return nil
}

func clearDestination(dst string, overwrite bool) error {
	if !overwrite {
		return nil
	}
	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return services.Wrap(services.ErrTransient, "merge", "remove existing", dst, err)
	}
	return nil
}
