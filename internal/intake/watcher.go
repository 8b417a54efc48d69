package intake

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/steveyegge/greenlight/internal/debug"
)

// debounceDelay coalesces the write bursts analyzers produce while a
// drop file is still being flushed.
const debounceDelay = 500 * time.Millisecond

// Watcher feeds triage continuously from a drop directory. Each settled
// .json/.jsonl write triggers the handler once.
type Watcher struct {
	dir     string
	handler func(path string)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewWatcher creates a watcher over dir. handler is called with the
// settled file path; it runs on the debounce timer goroutine and should
// hand off long work itself.
func NewWatcher(dir string, handler func(path string)) *Watcher {
	return &Watcher{
		dir:     dir,
		handler: handler,
		timers:  make(map[string]*time.Timer),
	}
}

// Run watches until ctx is done. Watcher errors are logged, not fatal:
// a drop directory that hiccups should not take the daemon down.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fsw.Close() }()

	if err := fsw.Add(w.dir); err != nil {
		return err
	}
	debug.Logf("intake: watching %s", w.dir)

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !IsFindingsFile(filepath.Base(event.Name)) {
				continue
			}
			w.schedule(event.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Printf("Warning: intake watcher: %v", err)
		}
	}
}

// schedule (re)arms the debounce timer for one file.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(debounceDelay, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.handler(path)
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}
