// Package watch monitors the drop zone and triggers a pipeline pass
// when new CSV files land.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes one drop directory. Events for a given settle
// window are coalesced into a single trigger so a bulk copy of many
// files starts one run, not one per file. A periodic fallback ticker
// fires even without fs events, so drops missed by fsnotify (network
// mounts, editors that bypass the watched inode) are still picked up.
type Watcher struct {
	dropDir  string
	settle   time.Duration
	interval time.Duration
	OnChange func(ctx context.Context) error
	OnError  func(err error)

	mu      sync.Mutex
	running bool
	queued  bool
}

// New creates a watcher for the given drop directory.
func New(dropDir string) *Watcher {
	return &Watcher{
		dropDir:  dropDir,
		settle:   2 * time.Second,
		interval: 5 * time.Minute,
	}
}

// SetSettle overrides the event coalescing window.
func (w *Watcher) SetSettle(d time.Duration) {
	w.settle = d
}

// SetInterval overrides the fallback ticker period.
func (w *Watcher) SetInterval(d time.Duration) {
	w.interval = d
}

// fire runs OnChange. A trigger arriving while a run is in flight is
// queued instead of dropped: the running invocation loops around and
// executes one follow-up pass, so a CSV landing mid-run is processed
// as soon as the current run finishes.
func (w *Watcher) fire(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.queued = true
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	for {
		if w.OnChange != nil {
			if err := w.OnChange(ctx); err != nil && w.OnError != nil {
				w.OnError(err)
			}
		}

		w.mu.Lock()
		if !w.queued || ctx.Err() != nil {
			w.running = false
			w.mu.Unlock()
			return
		}
		w.queued = false
		w.mu.Unlock()
	}
}

// Run blocks watching the drop directory until the context is
// cancelled. Content-hash dedup downstream makes spurious triggers
// harmless, so the watcher errs on the side of firing.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	abs, err := filepath.Abs(w.dropDir)
	if err != nil {
		return fmt.Errorf("resolve drop dir: %w", err)
	}
	if err := fw.Add(abs); err != nil {
		return fmt.Errorf("watch %s: %w", abs, err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var timer *time.Timer
	var timerMu sync.Mutex

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !strings.EqualFold(filepath.Ext(event.Name), ".csv") {
				continue
			}

			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.settle, func() { w.fire(ctx) })
			timerMu.Unlock()

		case <-ticker.C:
			go w.fire(ctx)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			if w.OnError != nil {
				w.OnError(err)
			}
		}
	}
}
