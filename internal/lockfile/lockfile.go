// Package lockfile implements cross-process mutual exclusion on files.
//
// A lock on path P is the sentinel file "P.lock", created exclusively and
// holding the decimal pid of its owner. A lock whose owner process no longer
// exists is stale and is reclaimed by the next acquirer.
//
// Two levels of reentrancy exist:
//   - Acquire is process-scoped: a path already held by this Manager is a no-op.
//   - WithLock is call-chain scoped: the context passed to fn marks the path as
//     held, so nested WithLock calls run inline while unrelated goroutines wait.
package lockfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/HendryAvila/taskloom/internal/errs"
	"go.uber.org/zap"
)

const (
	// Suffix is appended to a target path to form its lock file.
	Suffix = ".lock"

	DefaultTimeout       = 10 * time.Second
	DefaultRetryInterval = 100 * time.Millisecond
)

// LivenessCheck reports whether the process with the given pid exists.
type LivenessCheck func(pid int) bool

// LockPath returns the sentinel file path for target.
func LockPath(target string) string {
	return target + Suffix
}

// --- Registry ---

type heldLock struct {
	file       *os.File
	lockPath   string
	acquiredAt time.Time
}

// Registry records the locks held by one Manager. It is only mutated by
// the Manager that owns it.
type Registry struct {
	mu   sync.Mutex
	held map[string]*heldLock
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{held: make(map[string]*heldLock)}
}

func (r *Registry) has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.held[key]
	return ok
}

func (r *Registry) put(key string, h *heldLock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.held[key] = h
}

func (r *Registry) take(key string) *heldLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.held[key]
	if !ok {
		return nil
	}
	delete(r.held, key)
	return h
}

func (r *Registry) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.held))
	for k := range r.held {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// --- Manager ---

// Manager acquires and releases file locks on behalf of one process.
type Manager struct {
	reg     *Registry
	pid     int
	alive   LivenessCheck
	logger  *zap.Logger
	timeout time.Duration
	retry   time.Duration

	gateMu sync.Mutex
	gates  map[string]chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithRegistry injects the registry of held locks.
func WithRegistry(r *Registry) Option {
	return func(m *Manager) { m.reg = r }
}

// WithPID overrides the owner identity written into lock files.
func WithPID(pid int) Option {
	return func(m *Manager) { m.pid = pid }
}

// WithLivenessCheck overrides how lock owners are checked for liveness.
func WithLivenessCheck(p LivenessCheck) Option {
	return func(m *Manager) { m.alive = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithDefaults sets the timeout and retry interval used when callers pass zero.
func WithDefaults(timeout, retry time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.timeout = timeout
		}
		if retry > 0 {
			m.retry = retry
		}
	}
}

// New creates a Manager for the current process.
func New(opts ...Option) *Manager {
	m := &Manager{
		pid:     os.Getpid(),
		alive:   ProcessAlive,
		logger:  zap.NewNop(),
		timeout: DefaultTimeout,
		retry:   DefaultRetryInterval,
		gates:   make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.reg == nil {
		m.reg = NewRegistry()
	}
	return m
}

// PID returns the owner identity this Manager writes into lock files.
func (m *Manager) PID() int { return m.pid }

// Held returns the target paths currently locked by this Manager.
func (m *Manager) Held() []string { return m.reg.keys() }

// Acquire blocks until the lock on path is held or timeout elapses.
// Zero timeout or retryInterval fall back to the Manager defaults.
// Re-acquiring a path this Manager already holds is a no-op.
func (m *Manager) Acquire(ctx context.Context, path string, timeout, retryInterval time.Duration) error {
	if timeout <= 0 {
		timeout = m.timeout
	}
	_, err := m.acquire(ctx, normalize(path), time.Now().Add(timeout), retryInterval)
	return err
}

// acquire reports whether a new lock file was created (false for a
// reentrant no-op).
func (m *Manager) acquire(ctx context.Context, key string, deadline time.Time, retry time.Duration) (bool, error) {
	if retry <= 0 {
		retry = m.retry
	}
	lockPath := LockPath(key)

	for {
		if m.reg.has(key) {
			return false, nil
		}

		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			if err := writeOwner(f, m.pid); err != nil {
				_ = f.Close()
				_ = os.Remove(lockPath)
				return false, errs.WrapPath(errs.LockError, "acquire", key, err)
			}
			m.reg.put(key, &heldLock{file: f, lockPath: lockPath, acquiredAt: time.Now()})
			return true, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return false, errs.WrapPath(errs.LockError, "acquire", key, err)
		}

		owner, rerr := readOwner(lockPath)
		switch {
		case errors.Is(rerr, fs.ErrNotExist):
			// Released between our create and read.
			if err := checkDeadline(ctx, key, deadline); err != nil {
				return false, err
			}
			continue
		case rerr == nil && !m.alive(owner):
			if m.reclaim(lockPath, owner) {
				if err := checkDeadline(ctx, key, deadline); err != nil {
					return false, err
				}
				continue
			}
		}

		if err := m.sleep(ctx, key, deadline, retry); err != nil {
			return false, err
		}
	}
}

// reclaim removes a lock file owned by a dead process. The owner is read
// again right before removal so a lock freshly re-created by another
// reclaimer is left alone.
func (m *Manager) reclaim(lockPath string, deadPID int) bool {
	owner, err := readOwner(lockPath)
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	if err != nil || owner != deadPID {
		return false
	}
	if err := os.Remove(lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.logger.Warn("removing stale lock failed",
			zap.String("lock", lockPath), zap.Int("owner_pid", deadPID), zap.Error(err))
		return false
	}
	m.logger.Warn("reclaimed stale lock",
		zap.String("lock", lockPath), zap.Int("owner_pid", deadPID))
	return true
}

func (m *Manager) sleep(ctx context.Context, key string, deadline time.Time, retry time.Duration) error {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		m.logger.Debug("lock acquisition timed out", zap.String("path", key))
		return timeoutError(key, nil)
	}
	wait := retry
	if remaining < wait {
		wait = remaining
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return timeoutError(key, ctx.Err())
	case <-timer.C:
		return nil
	}
}

func checkDeadline(ctx context.Context, key string, deadline time.Time) error {
	if err := ctx.Err(); err != nil {
		return timeoutError(key, err)
	}
	if time.Now().After(deadline) {
		return timeoutError(key, nil)
	}
	return nil
}

func timeoutError(key string, cause error) error {
	e := errs.New(errs.LockTimeout, "acquire", "timed out waiting for lock").WithPath(key)
	e.Err = cause
	return e
}

// Release drops the lock on path. Releasing a path this Manager does not
// hold is a no-op. The registry entry is dropped even when closing or
// removing the lock file fails.
func (m *Manager) Release(path string) error {
	key := normalize(path)
	h := m.reg.take(key)
	if h == nil {
		return nil
	}

	var failures []error
	if err := h.file.Close(); err != nil {
		failures = append(failures, fmt.Errorf("closing lock file: %w", err))
	}

	owner, err := readOwner(h.lockPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Already gone.
	case err == nil && owner != m.pid:
		failures = append(failures, fmt.Errorf("lock now owned by pid %d", owner))
	default:
		if err := os.Remove(h.lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			failures = append(failures, fmt.Errorf("removing lock file: %w", err))
		}
	}

	if len(failures) > 0 {
		e := errs.New(errs.LockError, "release", "releasing lock").WithPath(key)
		e.Err = errors.Join(failures...)
		return e
	}
	return nil
}

// ReleaseAll releases every lock this Manager holds and ignores failures.
// Hosts register it as their shutdown hook.
func (m *Manager) ReleaseAll() {
	for _, key := range m.reg.keys() {
		_ = m.Release(key)
	}
}

// --- Call-chain scoped locking ---

type heldKey struct{ m *Manager }

func (m *Manager) holds(ctx context.Context, key string) bool {
	set, _ := ctx.Value(heldKey{m}).(map[string]struct{})
	_, ok := set[key]
	return ok
}

func (m *Manager) markHeld(ctx context.Context, key string) context.Context {
	prev, _ := ctx.Value(heldKey{m}).(map[string]struct{})
	next := make(map[string]struct{}, len(prev)+1)
	for k := range prev {
		next[k] = struct{}{}
	}
	next[key] = struct{}{}
	return context.WithValue(ctx, heldKey{m}, next)
}

// enterGate serializes goroutines of this process on key.
func (m *Manager) enterGate(ctx context.Context, key string, deadline time.Time) (func(), error) {
	m.gateMu.Lock()
	g, ok := m.gates[key]
	if !ok {
		g = make(chan struct{}, 1)
		m.gates[key] = g
	}
	m.gateMu.Unlock()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case g <- struct{}{}:
		return func() { <-g }, nil
	case <-ctx.Done():
		return nil, timeoutError(key, ctx.Err())
	case <-timer.C:
		return nil, timeoutError(key, nil)
	}
}

// WithLock runs fn while holding the lock on path and always releases it
// afterwards. fn receives a context under which nested WithLock calls on
// the same path run without re-acquiring.
func (m *Manager) WithLock(ctx context.Context, path string, timeout time.Duration, fn func(ctx context.Context) error) error {
	_, err := WithLockResult(ctx, m, path, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// WithLockResult is WithLock for functions that produce a value.
func WithLockResult[T any](ctx context.Context, m *Manager, path string, timeout time.Duration, fn func(ctx context.Context) (T, error)) (result T, err error) {
	key := normalize(path)
	if m.holds(ctx, key) {
		return fn(ctx)
	}
	if timeout <= 0 {
		timeout = m.timeout
	}
	deadline := time.Now().Add(timeout)

	leave, err := m.enterGate(ctx, key, deadline)
	if err != nil {
		return result, err
	}
	defer leave()

	fresh, err := m.acquire(ctx, key, deadline, m.retry)
	if err != nil {
		return result, err
	}
	if fresh {
		defer func() {
			if rerr := m.Release(key); rerr != nil && err == nil {
				err = rerr
			}
		}()
	}

	return fn(m.markHeld(ctx, key))
}

// --- Lock file contents ---

func writeOwner(f *os.File, pid int) error {
	if _, err := f.WriteString(strconv.Itoa(pid)); err != nil {
		return fmt.Errorf("writing owner pid: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing lock file: %w", err)
	}
	return nil
}

var errNoOwner = errors.New("lock file has no owner pid")

// readOwner returns the pid recorded in lockPath. A file that exists but
// does not (yet) contain a pid yields errNoOwner and is treated as live.
func readOwner(lockPath string) (int, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, errNoOwner
	}
	return pid, nil
}

func normalize(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
