// Package watch notices edits to the task file made outside this process
// and re-validates the dependency graph when one lands.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/HendryAvila/taskloom/internal/dependency"
	"github.com/HendryAvila/taskloom/internal/journal"
	"github.com/HendryAvila/taskloom/internal/tasks"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the file must stay quiet before a check.
const DefaultDebounce = 250 * time.Millisecond

// Source is the task file being watched.
type Source interface {
	Path() string
	ReadRaw() ([]byte, error)
	WroteLast(data []byte) bool
	Load(ctx context.Context) (*tasks.Collection, error)
}

// Check is the outcome of one settled change.
type Check struct {
	// External is false when the file holds exactly what this process
	// last wrote; such changes are not validated again.
	External bool
	Report   dependency.Report
	Err      error
}

// Watcher watches the directory holding the task file.
type Watcher struct {
	src      Source
	dir      string
	name     string
	debounce time.Duration
	journal  *journal.Store
	logger   *zap.Logger
	onCheck  func(Check)

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithJournal records external edits. A nil journal is ignored.
func WithJournal(j *journal.Store) Option {
	return func(w *Watcher) { w.journal = j }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithOnCheck registers fn to receive every check result.
func WithOnCheck(fn func(Check)) Option {
	return func(w *Watcher) { w.onCheck = fn }
}

// New creates a watcher for src. Call Start to begin watching.
func New(src Source, opts ...Option) *Watcher {
	w := &Watcher{
		src:      src,
		dir:      filepath.Dir(src.Path()),
		name:     filepath.Base(src.Path()),
		debounce: DefaultDebounce,
		logger:   zap.NewNop(),
		onCheck:  func(Check) {},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching in a background goroutine. Starting a running
// watcher is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", w.dir, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	w.fsw = fsw
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.run(ctx, fsw, w.stopCh, w.doneCh)

	w.logger.Info("watching task file", zap.String("path", w.src.Path()))
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	fsw, stopCh, doneCh := w.fsw, w.stopCh, w.doneCh
	w.fsw = nil
	w.mu.Unlock()

	close(stopCh)
	<-doneCh
	if err := fsw.Close(); err != nil {
		w.logger.Warn("closing watcher", zap.Error(err))
	}
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if w.relevant(event) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		case <-timer.C:
			w.onCheck(w.check(ctx))
		}
	}
}

// relevant filters out temp files, lock files and backups, which all live
// next to the task file.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Base(event.Name) != w.name {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write)
}

func (w *Watcher) check(ctx context.Context) Check {
	data, err := w.src.ReadRaw()
	if errors.Is(err, os.ErrNotExist) {
		w.logger.Debug("task file removed", zap.String("path", w.src.Path()))
		return Check{External: true, Err: err}
	}
	if err != nil {
		w.logger.Warn("reading task file", zap.Error(err))
		return Check{External: true, Err: err}
	}
	if w.src.WroteLast(data) {
		return Check{External: false}
	}

	result := Check{External: true}
	c, err := w.src.Load(ctx)
	if err != nil {
		result.Err = err
		w.logger.Warn("task file edited externally and does not load", zap.Error(err))
	} else {
		result.Report = dependency.ValidateAll(c)
		if result.Report.Valid {
			w.logger.Info("task file edited externally", zap.Int("tasks", len(c.Tasks)))
		} else {
			w.logger.Warn("task file edited externally with dependency problems",
				zap.Int("cycles", len(result.Report.Cycles)),
				zap.Int("dangling", len(result.Report.Dangling)))
		}
	}
	w.record(ctx, result)
	return result
}

func (w *Watcher) record(ctx context.Context, c Check) {
	data := map[string]any{"valid": c.Err == nil && c.Report.Valid}
	summary := "task file edited outside taskloom"
	if c.Err != nil {
		data["error"] = c.Err.Error()
		summary += "; it no longer loads"
	} else {
		cycles := make([]string, 0, len(c.Report.Cycles))
		for _, cy := range c.Report.Cycles {
			cycles = append(cycles, cy.String())
		}
		dangling := make([]string, 0, len(c.Report.Dangling))
		for _, e := range c.Report.Dangling {
			dangling = append(dangling, e.String())
		}
		data["cycles"] = cycles
		data["dangling"] = dangling
	}
	if _, err := w.journal.Record(ctx, journal.Event{
		Kind:    journal.KindExternalEdit,
		Subject: w.name,
		Summary: summary,
		Data:    data,
	}); err != nil {
		w.logger.Warn("journal external edit", zap.Error(err))
	}
}
