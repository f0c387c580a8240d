// Package watch re-runs a scan whenever source files under a root change.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the tree must stay quiet before a run starts
const DefaultDebounce = 300 * time.Millisecond

// Trigger is called once per burst of changes
type Trigger func(ctx context.Context) error

// Watcher watches a directory tree recursively
type Watcher struct {
	root     string
	exclude  map[string]bool
	ignore   []string
	debounce time.Duration
	trigger  Trigger
	logger   *zap.Logger
}

// NewWatcher creates a watcher. Directories whose base name is in exclude are
// never watched; ignore lists files (such as report outputs) whose changes
// must not retrigger a run.
func NewWatcher(root string, exclude, ignore []string, trigger Trigger, logger *zap.Logger) *Watcher {
	ex := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		ex[e] = true
	}
	ig := make([]string, 0, len(ignore))
	for _, p := range ignore {
		if abs, err := filepath.Abs(p); err == nil {
			ig = append(ig, abs)
		}
	}
	return &Watcher{
		root:     root,
		exclude:  ex,
		ignore:   ig,
		debounce: DefaultDebounce,
		trigger:  trigger,
		logger:   logger,
	}
}

// SetDebounce overrides the quiet period
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// Run blocks until ctx is cancelled. A failing trigger is logged and the
// watch continues.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch init failed: %w", err)
	}
	defer fw.Close()

	if err := w.addRecursive(fw, w.root); err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}
	w.logger.Info("Watching for changes", zap.String("root", w.root), zap.Duration("debounce", w.debounce))

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(fw, ev.Name); err != nil {
						w.logger.Warn("Cannot watch new directory", zap.String("dir", ev.Name), zap.Error(err))
					}
				}
			}
			w.logger.Debug("Change detected", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watch error", zap.Error(err))
		case <-timer.C:
			if err := w.trigger(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Error("Watch run failed", zap.Error(err))
			}
		}
	}
}

// relevant drops chmod-only events and changes inside excluded or ignored paths
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		abs = ev.Name
	}
	for _, p := range w.ignore {
		if abs == p {
			return false
		}
	}
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if w.exclude[part] {
			return false
		}
	}
	return true
}

func (w *Watcher) addRecursive(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, the root itself must be watchable
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.exclude[d.Name()] {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}
