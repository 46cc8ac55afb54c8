package logs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchFileSignalsOnCreateAndWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lyroi.log")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	wake := watchFile(ctx, path)
	if wake == nil {
		t.Skip("file watching unavailable")
	}

	if err := os.WriteFile(filepath.Join(dir, "other.log"), []byte("x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("line\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-wake:
	case <-time.After(5 * time.Second):
		t.Fatal("expected a wake-up after writing the watched file")
	}
}

func TestWatchFileMissingDirectory(t *testing.T) {
	if wake := watchFile(context.Background(), filepath.Join(t.TempDir(), "missing", "lyroi.log")); wake != nil {
		t.Fatal("expected nil channel when the directory cannot be watched")
	}
}
