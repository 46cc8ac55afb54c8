package workspace

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"lyroi/internal/fileutil"
	"lyroi/internal/logging"
)

// CleanStaleResult contains the outcome of a stale run root cleanup.
type CleanStaleResult struct {
	Removed []string
	Errors  []CleanupError
}

// DirInfo describes one run root.
type DirInfo struct {
	Name    string
	Path    string
	ModTime time.Time
	Size    int64
}

// CleanStale removes run roots under baseDir whose modification time is
// older than maxAge. Such roots survive only when a process was killed
// before its own cleanup ran. Directories without the run prefix are never
// touched.
func CleanStale(ctx context.Context, baseDir string, maxAge time.Duration, logger *slog.Logger) CleanStaleResult {
	var result CleanStaleResult
	roots, err := runRoots(baseDir)
	if err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: baseDir, Error: err})
		return result
	}
	cutoff := time.Now().Add(-maxAge)
	for _, root := range roots {
		if ctx.Err() != nil {
			break
		}
		if !root.ModTime.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(root.Path); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: root.Path, Error: err})
			logging.WarnWithContext(logger, "failed to remove stale run root", "workspace_cleanup_failed",
				logging.String("path", root.Path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check tmp_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, root.Path)
		if logger != nil {
			logger.Info("removed stale run root",
				logging.String("path", root.Path),
				logging.Duration("age", time.Since(root.ModTime).Round(time.Second)),
				logging.String(logging.FieldEventType, "workspace_cleanup"),
			)
		}
	}
	return result
}

// ListDirectories returns the run roots under baseDir with their on-disk
// size, oldest first. A missing baseDir yields nil.
func ListDirectories(baseDir string) ([]DirInfo, error) {
	roots, err := runRoots(baseDir)
	if err != nil || len(roots) == 0 {
		return nil, err
	}
	for i := range roots {
		roots[i].Size, _ = fileutil.DirSize(roots[i].Path)
	}
	slices.SortFunc(roots, func(a, b DirInfo) int { return a.ModTime.Compare(b.ModTime) })
	return roots, nil
}

func runRoots(baseDir string) ([]DirInfo, error) {
	baseDir = strings.TrimSpace(baseDir)
	if baseDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(baseDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var roots []DirInfo
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), RunPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		roots = append(roots, DirInfo{
			Name:    entry.Name(),
			Path:    filepath.Join(baseDir, entry.Name()),
			ModTime: info.ModTime(),
		})
	}
	return roots, nil
}
