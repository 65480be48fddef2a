// Package checklistwatch publishes a new checklist version whenever the
// checklist file on disk changes.
package checklistwatch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Macnelson9/Soroban-Registry/internal/domain/checklist"
)

const defaultDebounce = 300 * time.Millisecond

// Publisher is satisfied by *checklist.Registry.
type Publisher interface {
	Publish(ctx context.Context, rules []checklist.Rule) (int, error)
}

type Watcher struct {
	path     string
	pub      Publisher
	log      *slog.Logger
	debounce time.Duration
}

func New(path string, pub Publisher, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{path: filepath.Clean(path), pub: pub, log: log, debounce: defaultDebounce}
}

// WithDebounce sets how long the file must be quiet before it is reloaded.
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Sync loads the file and publishes it. An unchanged rule set publishes
// nothing and returns the current version.
func (w *Watcher) Sync(ctx context.Context) (int, error) {
	rules, err := checklist.LoadFile(w.path)
	if err != nil {
		return 0, err
	}
	v, err := w.pub.Publish(ctx, rules)
	if err != nil {
		return 0, fmt.Errorf("publish %s: %w", w.path, err)
	}
	return v, nil
}

// Run watches the file until ctx is done. The parent directory is watched
// so editors that replace the file by rename are still seen. A file that
// fails to parse or validate is logged and the current version stays.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch init: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	trigger := func() {
		v, err := w.Sync(ctx)
		if err != nil {
			w.log.Error("checklist reload failed", "path", w.path, "error", err)
			return
		}
		w.log.Info("checklist reloaded", "path", w.path, "version", v)
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, trigger)
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("checklist watch error", "error", err)
		}
	}
}
