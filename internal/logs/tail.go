package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"
)

const pollInterval = 250 * time.Millisecond

// Options controls a Tail call.
type Options struct {
	// Offset is the byte position to resume from. A negative offset starts
	// with the last Limit lines of the file.
	Offset int64
	Limit  int
	// Follow waits up to Wait for new lines when none are available.
	Follow bool
	Wait   time.Duration
	// Match keeps only lines containing this text (a run id, a case name).
	Match string
}

// Result holds the lines read and the offset to resume from.
type Result struct {
	Lines  []string
	Offset int64
}

// Tail reads complete lines from the log file at path. A missing file
// yields no lines and offset zero so callers can poll before the first run
// logs. An offset past the end of the file means it was truncated or
// replaced, and reading restarts from the beginning.
func Tail(ctx context.Context, path string, opts Options) (Result, error) {
	return tail(ctx, path, opts, nil)
}

// tail is Tail with an optional wake channel that cuts the poll interval
// short when the file changes.
func tail(ctx context.Context, path string, opts Options, wake <-chan struct{}) (Result, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Result{}, nil
	case err != nil:
		return Result{Offset: opts.Offset}, fmt.Errorf("stat log file: %w", err)
	case info.IsDir():
		return Result{Offset: opts.Offset}, fmt.Errorf("log path %q is a directory", path)
	}

	start, keep := opts.Offset, -1
	if start < 0 {
		start, keep = 0, max(opts.Limit, 0)
	} else if start > info.Size() {
		start = 0
	}
	lines, next, err := readLines(path, start, opts.Match, keep)
	if err != nil {
		return Result{Offset: opts.Offset}, err
	}
	if len(lines) == 0 && opts.Follow && opts.Wait > 0 {
		return waitForLines(ctx, path, next, opts, wake)
	}
	return Result{Lines: lines, Offset: next}, nil
}

// Follow emits the last opts.Limit lines and then every new line until ctx
// is cancelled.
func Follow(ctx context.Context, path string, opts Options, emit func(string)) error {
	opts.Offset = -1
	opts.Follow = true
	if opts.Wait <= 0 {
		opts.Wait = time.Second
	}
	wake := watchFile(ctx, path)
	for ctx.Err() == nil {
		result, err := tail(ctx, path, opts, wake)
		for _, line := range result.Lines {
			emit(line)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		opts.Offset = result.Offset
		if len(result.Lines) > 0 {
			continue
		}
		// Tail returns immediately while the file does not exist yet.
		select {
		case <-ctx.Done():
		case <-wake:
		case <-time.After(pollInterval):
		}
	}
	return nil
}

// readLines scans complete lines from offset. keep < 0 returns every
// matching line, otherwise only the last keep of them. The returned offset
// sits after the last newline so a partial trailing line is read next time.
func readLines(path string, offset int64, match string, keep int) ([]string, int64, error) {
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek log file: %w", err)
	}

	var lines []string
	reader := bufio.NewReaderSize(file, 64*1024)
	pos := offset
	for {
		raw, err := reader.ReadString('\n')
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, offset, fmt.Errorf("read log file: %w", err)
		}
		pos += int64(len(raw))
		line := strings.TrimRight(raw, "\r\n")
		if match != "" && !strings.Contains(line, match) {
			continue
		}
		if keep == 0 {
			continue
		}
		lines = append(lines, line)
		if keep > 0 && len(lines) > keep {
			lines = lines[1:]
		}
	}
	return lines, pos, nil
}

func waitForLines(ctx context.Context, path string, offset int64, opts Options, wake <-chan struct{}) (Result, error) {
	deadline := time.NewTimer(opts.Wait)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Result{Offset: offset}, ctx.Err()
		case <-deadline.C:
			return Result{Offset: offset}, nil
		case <-wake:
		case <-ticker.C:
		}
		lines, next, err := readLines(path, offset, opts.Match, -1)
		if err != nil {
			return Result{Offset: offset}, err
		}
		offset = next
		if len(lines) > 0 {
			return Result{Lines: lines, Offset: offset}, nil
		}
	}
}
