// Package operations tracks long-running background work so a caller can
// start it in one request and poll for progress and results in later ones.
//
// An operation moves pending -> running -> {completed, failed, cancelled}.
// Terminal states are final: later updates are rejected with
// errs.InvalidState and change nothing. Operations live in memory only and
// are forgotten when the process exits.
package operations

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/HendryAvila/taskloom/internal/errs"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status is an operation's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var validStatuses = map[Status]bool{
	StatusPending:   true,
	StatusRunning:   true,
	StatusCompleted: true,
	StatusFailed:    true,
	StatusCancelled: true,
}

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Result is the outcome of a finished operation.
type Result struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Operation is a snapshot of one tracked unit of work.
type Operation struct {
	ID            string         `json:"id"`
	Type          string         `json:"operationType"`
	Status        Status         `json:"status"`
	Progress      int            `json:"progress"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
	StatusMessage string         `json:"statusMessage,omitempty"`
	Params        map[string]any `json:"params,omitempty"`
	Result        *Result        `json:"result,omitempty"`
}

func (o Operation) clone() Operation {
	if o.CompletedAt != nil {
		at := *o.CompletedAt
		o.CompletedAt = &at
	}
	if o.Result != nil {
		r := *o.Result
		o.Result = &r
	}
	if o.Params != nil {
		params := make(map[string]any, len(o.Params))
		for k, v := range o.Params {
			params[k] = v
		}
		o.Params = params
	}
	return o
}

// ProgressFunc reports progress (0-100) and an optional status message.
type ProgressFunc func(progress int, message string)

// Work is the body of an operation. Its return value becomes Result.Data;
// a non-nil error fails the operation.
type Work func(ctx context.Context, report ProgressFunc) (any, error)

// Executor runs submitted functions, possibly concurrently.
type Executor interface {
	Submit(fn func()) error
}

type entry struct {
	op   Operation
	done chan struct{}
}

// Tracker owns the registry of operations.
type Tracker struct {
	exec   Executor
	ctx    context.Context
	newID  func() string
	now    func() time.Time
	logger *zap.Logger

	mu    sync.RWMutex
	ops   map[string]*entry
	order []string
	hooks []func(Operation)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithContext sets the context handed to every Work function. Cancelling
// it is how a host asks in-flight work to stop at shutdown.
func WithContext(ctx context.Context) Option {
	return func(t *Tracker) { t.ctx = ctx }
}

// WithIDGenerator overrides uuid.NewString.
func WithIDGenerator(gen func() string) Option {
	return func(t *Tracker) { t.newID = gen }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker creates a Tracker that runs work on exec.
func NewTracker(exec Executor, opts ...Option) *Tracker {
	t := &Tracker{
		exec:   exec,
		ctx:    context.Background(),
		newID:  uuid.NewString,
		now:    time.Now,
		logger: zap.NewNop(),
		ops:    make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnTerminal registers fn to run, outside the tracker's lock, each time an
// operation reaches a terminal state.
func (t *Tracker) OnTerminal(fn func(Operation)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = append(t.hooks, fn)
}

// Create registers a pending operation and hands work to the executor.
// The first progress report flips it to running; work's return value
// completes or fails it.
func (t *Tracker) Create(ctx context.Context, opType string, work Work, params map[string]any) (string, error) {
	if opType == "" {
		return "", errs.New(errs.InvalidArgument, "create operation", "operation type is required")
	}
	if work == nil {
		return "", errs.New(errs.InvalidArgument, "create operation", "work is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := t.now().UTC()
	id := t.newID()
	e := &entry{
		op: Operation{
			ID:        id,
			Type:      opType,
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
			Params:    params,
		},
		done: make(chan struct{}),
	}
	e.op = e.op.clone()

	t.mu.Lock()
	if _, dup := t.ops[id]; dup {
		t.mu.Unlock()
		return "", errs.New(errs.InvalidState, "create operation", "duplicate operation id").WithID(id)
	}
	t.ops[id] = e
	t.order = append(t.order, id)
	t.mu.Unlock()

	t.logger.Info("operation created", zap.String("id", id), zap.String("type", opType))

	if err := t.exec.Submit(func() { t.run(id, work) }); err != nil {
		t.finish(id, StatusFailed, fmt.Sprintf("could not start: %v", err), &Result{Error: err.Error()})
		return "", fmt.Errorf("submitting operation %s: %w", id, err)
	}
	return id, nil
}

func (t *Tracker) run(id string, work Work) {
	report := func(progress int, message string) {
		t.progress(id, progress, message)
	}

	data, err := func() (data any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("operation panicked: %v", r)
			}
		}()
		return work(t.ctx, report)
	}()

	if err != nil {
		t.finish(id, StatusFailed, err.Error(), &Result{Error: err.Error()})
		return
	}
	t.finish(id, StatusCompleted, "", &Result{Data: data})
}

// progress applies a progress report. Reports after a terminal state are
// dropped; progress is clamped to 0-100 and never moves backwards.
func (t *Tracker) progress(id string, progress int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.ops[id]
	if !ok || e.op.Status.Terminal() {
		return
	}
	progress = min(max(progress, 0), 100)
	if progress > e.op.Progress {
		e.op.Progress = progress
	}
	if message != "" {
		e.op.StatusMessage = message
	}
	e.op.Status = StatusRunning
	e.op.UpdatedAt = t.now().UTC()
}

// finish moves id to a terminal state unless it already is in one.
func (t *Tracker) finish(id string, status Status, message string, result *Result) {
	t.mu.Lock()
	e, ok := t.ops[id]
	if !ok || e.op.Status.Terminal() {
		t.mu.Unlock()
		if ok {
			t.logger.Debug("dropping result of finished operation", zap.String("id", id), zap.String("status", string(status)))
		}
		return
	}
	snapshot := t.terminate(e, status, message, result)
	hooks := t.hooks
	t.mu.Unlock()

	t.fire(hooks, snapshot)
}

// terminate must be called with mu held.
func (t *Tracker) terminate(e *entry, status Status, message string, result *Result) Operation {
	now := t.now().UTC()
	e.op.Status = status
	e.op.UpdatedAt = now
	e.op.CompletedAt = &now
	if message != "" {
		e.op.StatusMessage = message
	}
	if status == StatusCompleted {
		e.op.Progress = 100
	}
	if result != nil {
		e.op.Result = result
	}
	close(e.done)
	return e.op.clone()
}

func (t *Tracker) fire(hooks []func(Operation), op Operation) {
	level := t.logger.Info
	if op.Status == StatusFailed {
		level = t.logger.Warn
	}
	level("operation finished",
		zap.String("id", op.ID), zap.String("type", op.Type), zap.String("status", string(op.Status)))
	for _, fn := range hooks {
		fn(op.clone())
	}
}

// UpdateStatus sets an operation's status and, if non-empty, its message.
// Operations in a terminal state cannot be changed, and a running
// operation cannot go back to pending.
func (t *Tracker) UpdateStatus(id string, status Status, message string) error {
	if !validStatuses[status] {
		return errs.New(errs.InvalidArgument, "update operation", fmt.Sprintf("invalid status %q", status)).WithID(id)
	}

	t.mu.Lock()
	e, ok := t.ops[id]
	if !ok {
		t.mu.Unlock()
		return errs.New(errs.NotFound, "update operation", "operation not found").WithID(id)
	}
	if e.op.Status.Terminal() {
		cur := e.op.Status
		t.mu.Unlock()
		return errs.New(errs.InvalidState, "update operation",
			fmt.Sprintf("operation is %s and cannot change", cur)).WithID(id)
	}
	if status == StatusPending && e.op.Status == StatusRunning {
		t.mu.Unlock()
		return errs.New(errs.InvalidState, "update operation", "a running operation cannot return to pending").WithID(id)
	}

	if !status.Terminal() {
		e.op.Status = status
		if message != "" {
			e.op.StatusMessage = message
		}
		e.op.UpdatedAt = t.now().UTC()
		t.mu.Unlock()
		return nil
	}

	snapshot := t.terminate(e, status, message, nil)
	hooks := t.hooks
	t.mu.Unlock()
	t.fire(hooks, snapshot)
	return nil
}

// Get returns a snapshot of the operation. Unknown ids report false
// rather than an error so pollers can branch on it.
func (t *Tracker) Get(id string) (Operation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.ops[id]
	if !ok {
		return Operation{}, false
	}
	return e.op.clone(), true
}

// Result returns the operation's result. It is nil until the operation
// is terminal; ok is false for unknown ids.
func (t *Tracker) Result(id string) (result *Result, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.ops[id]
	if !ok {
		return nil, false
	}
	if e.op.Result == nil {
		return nil, true
	}
	r := *e.op.Result
	return &r, true
}

// List returns every tracked operation in creation order.
func (t *Tracker) List() []Operation {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Operation, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.ops[id].op.clone())
	}
	return out
}

// Cancel is not supported: work is not interruptible once submitted, so
// Cancel always returns false and leaves the operation untouched.
func (t *Tracker) Cancel(id string) bool {
	t.logger.Debug("operation cancel requested but not supported", zap.String("id", id))
	return false
}

// Wait blocks until the operation is terminal or ctx is done.
func (t *Tracker) Wait(ctx context.Context, id string) (Operation, error) {
	t.mu.RLock()
	e, ok := t.ops[id]
	t.mu.RUnlock()
	if !ok {
		return Operation{}, errs.New(errs.NotFound, "wait operation", "operation not found").WithID(id)
	}
	select {
	case <-e.done:
		op, _ := t.Get(id)
		return op, nil
	case <-ctx.Done():
		return Operation{}, ctx.Err()
	}
}
