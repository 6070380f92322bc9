// Package initwatch reloads the plugin set when the init file changes.
package initwatch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/codefionn/cylonn/internal/consts"
	"github.com/codefionn/cylonn/internal/initfile"
	"github.com/codefionn/cylonn/internal/logger"
)

// Reconciler applies a freshly parsed plugin list.
type Reconciler interface {
	Reconcile(entries []initfile.Entry) error
}

// Watcher re-reads an init file after it changes and hands the result to a
// Reconciler. Bursts of events are collapsed into one reload.
type Watcher struct {
	path     string
	mode     initfile.Mode
	target   Reconciler
	debounce time.Duration
}

// New creates a watcher for path.
func New(path string, mode initfile.Mode, target Reconciler) *Watcher {
	return &Watcher{
		path:     path,
		mode:     mode,
		target:   target,
		debounce: consts.InitReloadDebounce,
	}
}

// SetDebounce changes the quiet period before a reload.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run watches until ctx is cancelled. The parent directory is watched so
// that editors replacing the file through a rename are noticed.
func (w *Watcher) Run(ctx context.Context) error {
	abs, err := filepath.Abs(w.path)
	if err != nil {
		return fmt.Errorf("failed to resolve init path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	logger.Info("initwatch: watching %s", abs)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || !relevant(event.Op) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("initwatch: watcher error: %v", err)
		case <-timer.C:
			w.reload()
		}
	}
}

func relevant(op fsnotify.Op) bool {
	return op.Has(fsnotify.Write) || op.Has(fsnotify.Create) || op.Has(fsnotify.Rename)
}

// reload parses the file and applies it. A file that fails to parse leaves
// the running plugins untouched.
func (w *Watcher) reload() {
	file, err := initfile.Read(w.path, w.mode)
	if err != nil {
		logger.Warn("initwatch: keeping current plugins: %v", err)
		return
	}
	if skipped := file.SkippedErr(); skipped != nil {
		logger.Warn("initwatch: skipped lines: %v", skipped)
	}
	if err := w.target.Reconcile(file.Entries); err != nil {
		logger.Error("initwatch: reconcile: %v", err)
		return
	}
	logger.Info("initwatch: applied %d plugins from %s", len(file.Entries), w.path)
}
