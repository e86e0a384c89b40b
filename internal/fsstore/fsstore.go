// Package fsstore persists structured data to disk crash-safely.
//
// Writes go to "<path>.tmp" and are renamed over the target while the
// target's lock is held, so readers see either the previous complete file
// or the new complete file. Before each overwrite the previous version is
// copied into "<name>.backups/" (see backup.go).
package fsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/HendryAvila/taskloom/internal/errs"
	"github.com/HendryAvila/taskloom/internal/lockfile"
	"go.uber.org/zap"
)

// TempSuffix is appended to a target path for in-flight writes.
const TempSuffix = ".tmp"

// renameFile is a package-level var so tests can simulate a crash
// between the temp write and the rename.
var renameFile = os.Rename

// Validator is implemented by values that check their own shape.
// Save validates before writing, Load validates after decoding.
type Validator interface {
	Validate() error
}

// Store writes files atomically under the lock manager.
type Store struct {
	locks       *lockfile.Manager
	logger      *zap.Logger
	now         func() time.Time
	lockTimeout time.Duration
	restoreKeep int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock sets the clock used to stamp backups.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLockTimeout bounds how long a write waits for the target's lock.
// Zero uses the lock manager's default.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// WithRestoreKeep prunes a target's backups to keep after each restore.
// Zero leaves them all in place.
func WithRestoreKeep(keep int) Option {
	return func(s *Store) { s.restoreKeep = keep }
}

// New creates a Store guarded by locks.
func New(locks *lockfile.Manager, opts ...Option) *Store {
	s := &Store{
		locks:  locks,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Locks returns the lock manager guarding this store.
func (s *Store) Locks() *lockfile.Manager { return s.locks }

// LockTimeout returns the configured lock wait bound.
func (s *Store) LockTimeout() time.Duration { return s.lockTimeout }

// Save validates value, then writes it as indented JSON to path.
// When path already exists and keepBackups > 0, the current version is
// backed up first and older backups are pruned to keepBackups.
func Save[T any](ctx context.Context, s *Store, path string, value T, keepBackups int) error {
	data, err := Encode(value)
	if err != nil {
		if e, ok := err.(*errs.Error); ok {
			return e.WithPath(path)
		}
		return err
	}
	return s.WriteFile(ctx, path, data, keepBackups)
}

// Encode validates value and renders it the way Save writes it.
func Encode[T any](value T) ([]byte, error) {
	if err := validate(&value); err != nil {
		e := errs.New(errs.ValidationError, "save", "refusing to write invalid data")
		e.Err = err
		return nil, e
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return nil, errs.Wrap(errs.FileWriteError, "save", fmt.Errorf("encoding: %w", err))
	}
	return append(data, '\n'), nil
}

// Load reads path and decodes it into T. A missing file is NotFound; a
// file that cannot be decoded or fails validation is ValidationError;
// anything else is FileReadError.
func Load[T any](path string) (T, error) {
	var value T
	data, err := ReadFile(path)
	if err != nil {
		return value, err
	}
	if err := json.Unmarshal(data, &value); err != nil {
		e := errs.New(errs.ValidationError, "load", "corrupt JSON").WithPath(path)
		e.Err = err
		return value, e
	}
	if err := validate(&value); err != nil {
		e := errs.New(errs.ValidationError, "load", "stored data failed validation").WithPath(path)
		e.Err = err
		return value, e
	}
	return value, nil
}

// ReadFile reads path, classifying failures.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errs.New(errs.NotFound, "load", "file not found").WithPath(path)
		}
		return nil, errs.WrapPath(errs.FileReadError, "load", path, err)
	}
	return data, nil
}

// WriteFile atomically replaces path with data while holding its lock.
func (s *Store) WriteFile(ctx context.Context, path string, data []byte, keepBackups int) error {
	return s.locks.WithLock(ctx, path, s.lockTimeout, func(ctx context.Context) error {
		if keepBackups > 0 && Exists(path) {
			if _, err := s.CreateBackup(path); err != nil {
				return err
			}
			if err := s.CleanupBackups(path, keepBackups); err != nil {
				return err
			}
		}
		return s.writeAtomic(path, data)
	})
}

// writeAtomic writes data to path.tmp, fsyncs it and renames it over path.
// The caller must hold path's lock.
func (s *Store) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.WrapPath(errs.FileWriteError, "write", path, fmt.Errorf("creating directory: %w", err))
	}

	tmp := path + TempSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.WrapPath(errs.FileWriteError, "write", path, fmt.Errorf("creating temp file: %w", err))
	}

	fail := func(step string, err error) error {
		_ = f.Close()
		_ = os.Remove(tmp)
		return errs.WrapPath(errs.FileWriteError, "write", path, fmt.Errorf("%s: %w", step, err))
	}

	if _, err := f.Write(data); err != nil {
		return fail("writing temp file", err)
	}
	if err := f.Sync(); err != nil {
		return fail("syncing temp file", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return errs.WrapPath(errs.FileWriteError, "write", path, fmt.Errorf("closing temp file: %w", err))
	}

	if err := renameFile(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errs.WrapPath(errs.FileWriteError, "write", path, fmt.Errorf("renaming temp file: %w", err))
	}

	if err := syncDir(dir); err != nil {
		// The rename already happened; only durability of the directory
		// entry across power loss is in question.
		s.logger.Debug("directory sync failed", zap.String("dir", dir), zap.Error(err))
	}
	return nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func validate[T any](v *T) error {
	if val, ok := any(v).(Validator); ok {
		return val.Validate()
	}
	if val, ok := any(*v).(Validator); ok {
		return val.Validate()
	}
	return nil
}
