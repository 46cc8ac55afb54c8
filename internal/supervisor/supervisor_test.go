package supervisor

import (
	"context"
	"os/exec"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lyroi/internal/logging"
)

type recorder struct {
	mu       sync.Mutex
	lines    []string
	progress []int
	finished atomic.Int32
}

func (r *recorder) options(passes int) Options {
	return Options{
		Passes: passes,
		OnLine: func(text string) {
			r.mu.Lock()
			r.lines = append(r.lines, text)
			r.mu.Unlock()
		},
		OnProgress: func(p int) {
			r.mu.Lock()
			r.progress = append(r.progress, p)
			r.mu.Unlock()
		},
		OnFinished: func() { r.finished.Add(1) },
		Logger:     logging.NewNop(),
	}
}

func (r *recorder) snapshot() ([]string, []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.lines), slices.Clone(r.progress)
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process tests use /bin/sh")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestSupervisorRelaysOutputAndProgress(t *testing.T) {
	requireShell(t)
	rec := &recorder{}
	s := New(rec.options(2))
	script := `echo starting; printf '\r  0%%|a\r 50%%|b\r100%%|c\n'; printf '\r 50%%|d\n'; echo "warning" 1>&2; echo done`
	if err := s.Start(context.Background(), []string{"sh", "-c", script}); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Wait()

	lines, progress := rec.snapshot()
	wantLines := []string{"starting", "", StartedLine, "warning", "done"}
	if !slices.Equal(lines, wantLines) {
		t.Fatalf("lines = %q, want %q", lines, wantLines)
	}
	wantProgress := []int{0, 0, 25, 50, 75}
	if !slices.Equal(progress, wantProgress) {
		t.Fatalf("progress = %v, want %v", progress, wantProgress)
	}
	if rec.finished.Load() != 1 {
		t.Fatalf("finished fired %d times", rec.finished.Load())
	}
	if s.ExitCode() != 0 {
		t.Fatalf("exit code = %d", s.ExitCode())
	}
}

func TestSupervisorReportsExitCodeWithoutInterpreting(t *testing.T) {
	requireShell(t)
	rec := &recorder{}
	s := New(rec.options(1))
	if err := s.Start(context.Background(), []string{"sh", "-c", "echo failing; exit 3"}); err != nil {
		t.Fatal(err)
	}
	s.Wait()
	if s.ExitCode() != 3 || rec.finished.Load() != 1 {
		t.Fatalf("exit=%d finished=%d", s.ExitCode(), rec.finished.Load())
	}
}

func TestSupervisorSpawnFailure(t *testing.T) {
	rec := &recorder{}
	s := New(rec.options(1))
	err := s.Start(context.Background(), []string{"/nonexistent/lyroi-test-binary"})
	if err == nil {
		t.Fatal("expected spawn error")
	}
	s.Wait()
	lines, progress := rec.snapshot()
	if len(lines) != 1 || lines[0][:7] != "Error: " {
		t.Fatalf("lines = %q", lines)
	}
	if !slices.Equal(progress, []int{0}) || rec.finished.Load() != 1 {
		t.Fatalf("progress=%v finished=%d", progress, rec.finished.Load())
	}
	s.Stop()
	if err := s.Start(context.Background(), []string{"true"}); err == nil {
		t.Fatal("second start should fail")
	}
}

func TestSupervisorStopBeforeStartIsNoop(t *testing.T) {
	s := New(Options{})
	s.Stop()
	s.Wait()
}

func TestSupervisorStopTerminatesProcessGroup(t *testing.T) {
	requireShell(t)
	rec := &recorder{}
	opts := rec.options(1)
	opts.GracePeriod = 200 * time.Millisecond
	s := New(opts)
	// The background sleep shares the group and keeps the pipe open.
	if err := s.Start(context.Background(), []string{"sh", "-c", "sleep 30 & echo ready; wait"}); err != nil {
		t.Fatal(err)
	}
	waitForLine(t, rec, "ready")

	start := time.Now()
	s.Stop()
	s.Wait()
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("stop took %v", elapsed)
	}
	if rec.finished.Load() != 1 {
		t.Fatalf("finished fired %d times", rec.finished.Load())
	}
	s.Stop()
}

func TestSupervisorStopDuringSpawnStillStops(t *testing.T) {
	requireShell(t)
	rec := &recorder{}
	opts := rec.options(1)
	opts.GracePeriod = 200 * time.Millisecond
	s := New(opts)
	s.beforeSpawn = s.Stop

	if err := s.Start(context.Background(), []string{"sh", "-c", "echo ready; sleep 30"}); err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		s.Stop()
		t.Fatal("a stop issued while spawning was lost")
	}
	if rec.finished.Load() != 1 {
		t.Fatalf("finished fired %d times", rec.finished.Load())
	}
}

func TestSupervisorKillsAfterIgnoredTerminate(t *testing.T) {
	requireShell(t)
	rec := &recorder{}
	opts := rec.options(1)
	opts.GracePeriod = 100 * time.Millisecond
	s := New(opts)
	script := `trap '' TERM; echo ready; while :; do sleep 0.05; done`
	if err := s.Start(context.Background(), []string{"sh", "-c", script}); err != nil {
		t.Fatal(err)
	}
	waitForLine(t, rec, "ready")
	s.Stop()
	s.Wait()
	if s.ExitCode() != -1 {
		t.Fatalf("killed process should report -1, got %d", s.ExitCode())
	}
}

func TestSupervisorContextCancelStops(t *testing.T) {
	requireShell(t)
	rec := &recorder{}
	opts := rec.options(1)
	opts.GracePeriod = 200 * time.Millisecond
	s := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx, []string{"sh", "-c", "echo ready; sleep 30"}); err != nil {
		t.Fatal(err)
	}
	waitForLine(t, rec, "ready")
	cancel()

	done := make(chan struct{})
	go func() { s.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancellation did not stop the command")
	}
}

func waitForLine(t *testing.T, rec *recorder, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		lines, _ := rec.snapshot()
		if slices.Contains(lines, want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q", want)
}
