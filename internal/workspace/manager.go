package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"lyroi/internal/logging"
	"lyroi/internal/services"
)

// RunPrefix starts the name of every run root.
const RunPrefix = "run-"

const (
	lockRetryDelay = 50 * time.Millisecond
	maxNameBumps   = 1000
)

// Manager hands out uniquely named run roots below a shared base directory
// and removes them again when the run ends.
//
// Several processes may share one base directory. Each active run holds a
// shared lock on a sibling lock file; the base directory itself is only
// removed by a holder of the exclusive lock, which excludes active runs.
type Manager struct {
	baseDir  string
	lockPath string
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	baseReady bool
	lastStamp int64
	runs      map[string]*flock.Flock
}

// New constructs a Manager rooted at baseDir.
func New(baseDir string, logger *slog.Logger) *Manager {
	baseDir = filepath.Clean(baseDir)
	return &Manager{
		baseDir:  baseDir,
		lockPath: filepath.Join(filepath.Dir(baseDir), "."+filepath.Base(baseDir)+".lock"),
		logger:   logging.NewComponentLogger(logger, "workspace"),
		now:      time.Now,
		runs:     make(map[string]*flock.Flock),
	}
}

// BaseDir returns the directory run roots are created in.
func (m *Manager) BaseDir() string { return m.baseDir }

// BeginRun creates a fresh run root. The returned directory did not exist
// before the call. Roots issued by one Manager carry strictly increasing
// timestamps.
func (m *Manager) BeginRun(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.lockPath), 0o755); err != nil {
		return "", services.Wrap(services.ErrConfiguration, "workspace", "begin run", "cannot create base parent", err)
	}
	lock := flock.New(m.lockPath)
	locked, err := lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "workspace", "begin run", "acquire workspace lock", err)
	}
	if !locked {
		return "", services.Wrap(services.ErrTransient, "workspace", "begin run", "workspace lock unavailable", nil)
	}

	root, err := m.createRoot()
	if err != nil {
		_ = lock.Unlock()
		return "", err
	}
	m.runs[root] = lock
	logging.WithContext(ctx, m.logger).Debug("run root created", logging.String("root", root))
	return root, nil
}

func (m *Manager) createRoot() (string, error) {
	if !m.baseReady || !isDir(m.baseDir) {
		if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
			return "", services.Wrap(services.ErrConfiguration, "workspace", "begin run", "cannot create base directory", err)
		}
		m.baseReady = true
	}

	stamp := m.now().UnixNano()
	if stamp <= m.lastStamp {
		stamp = m.lastStamp + 1
	}
	for range maxNameBumps {
		root := filepath.Join(m.baseDir, fmt.Sprintf("%s%d", RunPrefix, stamp))
		err := os.Mkdir(root, 0o755)
		if err == nil {
			m.lastStamp = stamp
			return root, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", services.Wrap(services.ErrTransient, "workspace", "begin run", "cannot create run root", err)
		}
		stamp++
	}
	return "", services.Wrap(services.ErrTransient, "workspace", "begin run", "no free run root name", nil)
}

// Allocate returns root/name, creating it if needed. Repeated calls with the
// same arguments return the same path.
func (m *Manager) Allocate(root, name string) (string, error) {
	m.mu.Lock()
	_, active := m.runs[root]
	m.mu.Unlock()
	if !active {
		return "", services.Wrap(services.ErrValidation, "workspace", "allocate", fmt.Sprintf("%s is not an active run root", root), nil)
	}
	if strings.TrimSpace(name) == "" || !filepath.IsLocal(name) {
		return "", services.Wrap(services.ErrValidation, "workspace", "allocate", fmt.Sprintf("invalid subdirectory name %q", name), nil)
	}
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", services.Wrap(services.ErrTransient, "workspace", "allocate", name, err)
	}
	return dir, nil
}

// CleanupResult reports what EndRun removed and what it could not.
type CleanupResult struct {
	Root        string
	Removed     []string
	Errors      []CleanupError
	BaseRemoved bool
}

// CleanupError pairs a path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// OK reports whether every removal succeeded.
func (r CleanupResult) OK() bool { return len(r.Errors) == 0 }

// EndRun removes everything below root and root itself, continuing past
// individual failures. When no other run is active and the base directory is
// empty, the base directory is removed as well. Failures are logged and
// reported in the result; EndRun never fails.
func (m *Manager) EndRun(root string) CleanupResult {
	result := CleanupResult{Root: root}

	entries, err := os.ReadDir(root)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		result.Errors = append(result.Errors, CleanupError{Path: root, Error: err})
	}
	for _, entry := range entries {
		path := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
			continue
		}
		result.Removed = append(result.Removed, path)
	}
	if err := os.Remove(root); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			result.Errors = append(result.Errors, CleanupError{Path: root, Error: err})
		}
	} else {
		result.Removed = append(result.Removed, root)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if lock, ok := m.runs[root]; ok {
		delete(m.runs, root)
		if err := lock.Unlock(); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: m.lockPath, Error: err})
		}
	}
	if len(m.runs) == 0 {
		result.BaseRemoved = m.removeBaseIfIdle()
	}

	for _, cerr := range result.Errors {
		logging.WarnWithContext(m.logger, "workspace cleanup incomplete", "workspace_cleanup_failed",
			logging.String("path", cerr.Path),
			logging.Error(cerr.Error),
			logging.String(logging.FieldErrorHint, "remove the directory manually or run 'lyroi workspace clean'"),
			logging.String(logging.FieldImpact, "disk space not reclaimed"),
		)
	}
	m.logger.Debug("run root removed",
		logging.String("root", root),
		logging.Int("removed", len(result.Removed)),
		logging.Bool("base_removed", result.BaseRemoved),
	)
	return result
}

func (m *Manager) removeBaseIfIdle() bool {
	lock := flock.New(m.lockPath)
	ok, err := lock.TryLock()
	if err != nil || !ok {
		return false
	}
	defer func() { _ = lock.Unlock() }()

	entries, err := os.ReadDir(m.baseDir)
	if err != nil || len(entries) > 0 {
		return false
	}
	if err := os.Remove(m.baseDir); err != nil {
		return false
	}
	m.baseReady = false
	return true
}

// WithRun runs fn inside a fresh run root and removes the root afterwards,
// whatever fn returns. Cleanup failures never replace fn's error.
func (m *Manager) WithRun(ctx context.Context, fn func(root string) error) error {
	root, err := m.BeginRun(ctx)
	if err != nil {
		return err
	}
	defer m.EndRun(root)
	return fn(root)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
