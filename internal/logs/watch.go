package logs

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// watchFile returns a channel that receives a value whenever the file at
// path is written or created. It watches the parent directory so a log file
// that does not exist yet is picked up on creation. The channel is nil when
// no watcher can be started; a nil channel never fires, leaving polling as
// the only wake-up.
func watchFile(ctx context.Context, path string) <-chan struct{} {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil
	}

	target := filepath.Clean(path)
	wake := make(chan struct{}, 1)
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return wake
}
