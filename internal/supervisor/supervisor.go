package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"lyroi/internal/logging"
)

// DefaultGracePeriod is how long Stop waits after each termination request.
const DefaultGracePeriod = time.Second

// drainTimeout bounds how long output is read after the child exits, in case
// a detached grandchild still holds the pipe open.
const drainTimeout = 2 * time.Second

// Options configures a Supervisor. Callbacks are never invoked concurrently
// and may be nil.
type Options struct {
	// Passes is the number of sequential progress passes the command runs.
	Passes     int
	OnLine     func(text string)
	OnProgress func(percent int)
	OnFinished func()

	Controller  ProcessGroupController
	GracePeriod time.Duration
	Logger      *slog.Logger

	Dir string
	Env []string
}

// Supervisor runs one command, relays its output and progress, and can stop
// the command's whole process group.
type Supervisor struct {
	opts   Options
	parser *ProgressParser
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	cmd     *exec.Cmd
	waitErr error
	// stopPending records a Stop that arrived after Start began but before
	// the child was published.
	stopPending bool
	beforeSpawn func()

	exited   chan struct{}
	done     chan struct{}
	finished sync.Once
}

// New constructs a Supervisor.
func New(opts Options) *Supervisor {
	if opts.Controller == nil {
		opts.Controller = DefaultController()
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	return &Supervisor{
		opts:   opts,
		parser: NewProgressParser(opts.Passes),
		logger: logging.NewComponentLogger(opts.Logger, "supervisor"),
		exited: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

var errAlreadyStarted = errors.New("supervisor: already started")

// Start spawns command and returns once it is running. Output is processed
// in the background. If the command cannot be spawned, the error is
// reported through OnLine and OnFinished and also returned. Cancelling ctx
// stops the command.
func (s *Supervisor) Start(ctx context.Context, command []string) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	s.progress(0)

	if len(command) == 0 {
		return s.spawnFailed(errors.New("empty command"))
	}

	cmd := exec.Command(command[0], command[1:]...) //nolint:gosec
	cmd.Dir = s.opts.Dir
	if s.opts.Env != nil {
		cmd.Env = s.opts.Env
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		return s.spawnFailed(err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw
	s.opts.Controller.Prepare(cmd)
	if s.beforeSpawn != nil {
		s.beforeSpawn()
	}

	s.mu.Lock()
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		_ = pr.Close()
		_ = pw.Close()
		return s.spawnFailed(err)
	}
	s.cmd = cmd
	stopNow := s.stopPending
	s.mu.Unlock()
	// The child holds its own copy of the write end.
	_ = pw.Close()
	s.logger.Debug("command started",
		logging.String("command", command[0]),
		logging.Int("pid", cmd.Process.Pid),
		logging.Int("passes", s.parser.Total()),
	)

	readerDone := make(chan struct{})
	go s.wait(cmd)
	go s.read(pr, readerDone)
	go func() {
		<-s.exited
		select {
		case <-readerDone:
		case <-time.After(drainTimeout):
			_ = pr.Close()
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.exited:
		}
	}()
	if stopNow {
		go s.Stop()
	}
	return nil
}

func (s *Supervisor) spawnFailed(err error) error {
	s.line("Error: " + err.Error())
	s.finish()
	return fmt.Errorf("supervisor: start: %w", err)
}

func (s *Supervisor) wait(cmd *exec.Cmd) {
	err := cmd.Wait()
	s.mu.Lock()
	s.waitErr = err
	s.mu.Unlock()
	close(s.exited)
	s.logger.Debug("command exited", logging.Int("exit_code", cmd.ProcessState.ExitCode()))
}

func (s *Supervisor) read(r *os.File, readerDone chan<- struct{}) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	scanner.Split(splitLines)
	for scanner.Scan() {
		s.handle(scanner.Text())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		s.logger.Debug("output stream ended with error", logging.Error(err))
	}
	_ = r.Close()
	close(readerDone)

	<-s.exited
	s.finish()
}

func (s *Supervisor) handle(line string) {
	ev := s.parser.Feed(line)
	switch ev.Kind {
	case EventProgress:
		s.progress(ev.Percent)
		if ev.Started {
			s.line(StartedLine)
		}
	case EventLine:
		s.line(ev.Text)
	}
}

func (s *Supervisor) progress(percent int) {
	if s.opts.OnProgress != nil {
		s.opts.OnProgress(percent)
	}
}

func (s *Supervisor) line(text string) {
	if s.opts.OnLine != nil {
		s.opts.OnLine(text)
	}
}

func (s *Supervisor) finish() {
	s.finished.Do(func() {
		if s.opts.OnFinished != nil {
			s.opts.OnFinished()
		}
		close(s.done)
	})
}

// Stop asks the command's process group to exit, repeats the request once
// after the grace period, and kills the child if it is still running after
// a second grace period. Stop is a no-op before Start and after exit. A Stop
// that lands while Start is still spawning is carried out once the child is
// running.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cmd := s.cmd
	if cmd == nil && s.started {
		s.stopPending = true
	}
	s.mu.Unlock()
	if cmd == nil || s.hasExited() {
		return
	}

	ctrl := s.opts.Controller
	for attempt := 1; attempt <= 2; attempt++ {
		if err := ctrl.Terminate(cmd); err != nil {
			s.logger.Debug("terminate request failed", logging.Int("attempt", attempt), logging.Error(err))
		}
		if s.waitExit(s.opts.GracePeriod) {
			return
		}
	}
	logging.WarnWithContext(s.logger, "command ignored termination, killing it", "supervisor_kill",
		logging.Int("pid", cmd.Process.Pid),
		logging.String(logging.FieldErrorHint, "the predictor did not handle SIGTERM"),
		logging.String(logging.FieldImpact, "worker processes may be left running"),
	)
	if err := ctrl.Kill(cmd); err != nil {
		s.logger.Debug("kill failed", logging.Error(err))
	}
}

func (s *Supervisor) hasExited() bool {
	select {
	case <-s.exited:
		return true
	default:
		return false
	}
}

func (s *Supervisor) waitExit(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.exited:
		return true
	case <-timer.C:
		return false
	}
}

// Wait blocks until OnFinished has run. It returns immediately if Start was
// never called.
func (s *Supervisor) Wait() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	<-s.done
}

// ExitCode returns the child's exit status once finished, -1 if it was
// killed by a signal or never ran.
func (s *Supervisor) ExitCode() int {
	if !s.hasExited() {
		return -1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.ProcessState == nil {
		return -1
	}
	return s.cmd.ProcessState.ExitCode()
}

// StringArgs renders each argument as text, for commands assembled from
// mixed values.
func StringArgs(args ...any) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = fmt.Sprint(a)
	}
	return out
}
