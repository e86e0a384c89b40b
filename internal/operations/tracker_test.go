package operations

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HendryAvila/taskloom/internal/errs"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- Helpers ---

func newTestTracker(t *testing.T, opts ...Option) *Tracker {
	t.Helper()
	pool := NewPool(4)
	t.Cleanup(pool.Close)
	return NewTracker(pool, opts...)
}

func waitDone(t *testing.T, tr *Tracker, id string) Operation {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	op, err := tr.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait(%s): %v", id, err)
	}
	return op
}

// --- Lifecycle ---

func TestCreate_CompletesAndStaysCompleted(t *testing.T) {
	tr := newTestTracker(t)
	release := make(chan struct{})

	id, err := tr.Create(context.Background(), "x", func(ctx context.Context, report ProgressFunc) (any, error) {
		<-release
		return "answer", nil
	}, map[string]any{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	op, ok := tr.Get(id)
	if !ok {
		t.Fatal("Get: unknown id")
	}
	if op.Status != StatusPending && op.Status != StatusRunning {
		t.Errorf("status before completion = %s", op.Status)
	}
	if res, ok := tr.Result(id); !ok || res != nil {
		t.Errorf("Result before completion = %v, %v; want nil, true", res, ok)
	}

	close(release)
	op = waitDone(t, tr, id)
	if op.Status != StatusCompleted || op.Progress != 100 || op.CompletedAt == nil {
		t.Fatalf("after completion op = %+v", op)
	}

	err = tr.UpdateStatus(id, StatusFailed, "too late")
	if !errors.Is(err, errs.InvalidState) {
		t.Fatalf("UpdateStatus on completed op error = %v, want InvalidState", err)
	}
	op, _ = tr.Get(id)
	if op.Status != StatusCompleted || op.StatusMessage == "too late" {
		t.Errorf("terminal operation changed: %+v", op)
	}
	res, ok := tr.Result(id)
	if !ok || res == nil || res.Data != "answer" || res.Error != "" {
		t.Errorf("Result = %+v, %v", res, ok)
	}
}

func TestCreate_WorkErrorFails(t *testing.T) {
	tr := newTestTracker(t)
	id, err := tr.Create(context.Background(), "x", func(context.Context, ProgressFunc) (any, error) {
		return nil, errors.New("model unavailable")
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	op := waitDone(t, tr, id)
	if op.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", op.Status)
	}
	if op.Result == nil || op.Result.Error != "model unavailable" {
		t.Errorf("result = %+v", op.Result)
	}
}

func TestCreate_PanicFails(t *testing.T) {
	tr := newTestTracker(t)
	id, err := tr.Create(context.Background(), "x", func(context.Context, ProgressFunc) (any, error) {
		panic("boom")
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	op := waitDone(t, tr, id)
	if op.Status != StatusFailed || op.Result == nil || op.Result.Error == "" {
		t.Errorf("op = %+v, want failed with error", op)
	}
}

func TestCreate_Validation(t *testing.T) {
	tr := newTestTracker(t)
	noop := func(context.Context, ProgressFunc) (any, error) { return nil, nil }
	if _, err := tr.Create(context.Background(), "", noop, nil); !errors.Is(err, errs.InvalidArgument) {
		t.Errorf("empty type error = %v", err)
	}
	if _, err := tr.Create(context.Background(), "x", nil, nil); !errors.Is(err, errs.InvalidArgument) {
		t.Errorf("nil work error = %v", err)
	}
}

func TestCreate_ParamsAreCopied(t *testing.T) {
	tr := newTestTracker(t)
	params := map[string]any{"task": "3"}
	id, err := tr.Create(context.Background(), "x", func(context.Context, ProgressFunc) (any, error) { return nil, nil }, params)
	if err != nil {
		t.Fatal(err)
	}
	params["task"] = "changed"
	op := waitDone(t, tr, id)
	if op.Params["task"] != "3" {
		t.Errorf("params aliased caller map: %v", op.Params)
	}
}

// --- Progress ---

func TestProgress_ClampedAndMonotonic(t *testing.T) {
	tr := newTestTracker(t)
	step := make(chan struct{})
	ack := make(chan struct{})

	reports := []int{40, 20, 150, -5}
	id, err := tr.Create(context.Background(), "x", func(ctx context.Context, report ProgressFunc) (any, error) {
		for i, p := range reports {
			<-step
			report(p, fmt.Sprintf("step %d", i))
			ack <- struct{}{}
		}
		<-step
		return nil, nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	want := []int{40, 40, 100, 100}
	for i := range reports {
		step <- struct{}{}
		<-ack
		op, _ := tr.Get(id)
		if op.Status != StatusRunning {
			t.Errorf("after report %d status = %s, want running", i, op.Status)
		}
		if op.Progress != want[i] {
			t.Errorf("after report %d progress = %d, want %d", i, op.Progress, want[i])
		}
		if op.StatusMessage != fmt.Sprintf("step %d", i) {
			t.Errorf("after report %d message = %q", i, op.StatusMessage)
		}
	}
	step <- struct{}{}
	waitDone(t, tr, id)
}

func TestProgress_AfterTerminalIsIgnored(t *testing.T) {
	tr := newTestTracker(t)
	finished := make(chan struct{})
	resume := make(chan struct{})

	id, err := tr.Create(context.Background(), "x", func(ctx context.Context, report ProgressFunc) (any, error) {
		report(10, "started")
		close(finished)
		<-resume
		report(90, "still going")
		return "late", nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	<-finished
	if err := tr.UpdateStatus(id, StatusFailed, "aborted by host"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	close(resume)

	// Wait returns as soon as the status is terminal; give the work body
	// time to report and return.
	time.Sleep(50 * time.Millisecond)
	op, _ := tr.Get(id)
	if op.Status != StatusFailed || op.Progress != 10 || op.StatusMessage != "aborted by host" {
		t.Errorf("op = %+v, want failed at 10%% with host message", op)
	}
	if op.Result != nil {
		t.Errorf("late result recorded: %+v", op.Result)
	}
}

// --- UpdateStatus ---

func TestUpdateStatus_Errors(t *testing.T) {
	tr := newTestTracker(t)
	release := make(chan struct{})
	started := make(chan struct{})
	id, err := tr.Create(context.Background(), "x", func(ctx context.Context, report ProgressFunc) (any, error) {
		report(1, "")
		close(started)
		<-release
		return nil, nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	<-started
	defer func() {
		close(release)
		waitDone(t, tr, id)
	}()

	if err := tr.UpdateStatus("nope", StatusRunning, ""); !errors.Is(err, errs.NotFound) {
		t.Errorf("unknown id error = %v, want NotFound", err)
	}
	if err := tr.UpdateStatus(id, "paused", ""); !errors.Is(err, errs.InvalidArgument) {
		t.Errorf("bad status error = %v, want InvalidArgument", err)
	}
	if err := tr.UpdateStatus(id, StatusPending, ""); !errors.Is(err, errs.InvalidState) {
		t.Errorf("running -> pending error = %v, want InvalidState", err)
	}
	if err := tr.UpdateStatus(id, StatusRunning, "halfway"); err != nil {
		t.Errorf("running -> running: %v", err)
	}
	if op, _ := tr.Get(id); op.StatusMessage != "halfway" {
		t.Errorf("message = %q", op.StatusMessage)
	}
}

// --- Queries ---

func TestGet_Unknown(t *testing.T) {
	tr := newTestTracker(t)
	if _, ok := tr.Get("missing"); ok {
		t.Error("Get(missing) ok = true")
	}
	if res, ok := tr.Result("missing"); ok || res != nil {
		t.Errorf("Result(missing) = %v, %v", res, ok)
	}
}

func TestList_CreationOrder(t *testing.T) {
	n := 0
	tr := newTestTracker(t, WithIDGenerator(func() string { n++; return fmt.Sprintf("op-%d", n) }))
	var ids []string
	for i := 0; i < 3; i++ {
		id, err := tr.Create(context.Background(), "x", func(context.Context, ProgressFunc) (any, error) { return i, nil }, nil)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		waitDone(t, tr, id)
	}
	ops := tr.List()
	if len(ops) != 3 {
		t.Fatalf("List len = %d", len(ops))
	}
	for i, op := range ops {
		if op.ID != ids[i] {
			t.Errorf("List[%d] = %s, want %s", i, op.ID, ids[i])
		}
	}
}

func TestCancel_AlwaysFalse(t *testing.T) {
	tr := newTestTracker(t)
	id, err := tr.Create(context.Background(), "x", func(context.Context, ProgressFunc) (any, error) { return nil, nil }, nil)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Cancel(id) {
		t.Error("Cancel(known) = true")
	}
	if tr.Cancel("unknown") {
		t.Error("Cancel(unknown) = true")
	}
	if op := waitDone(t, tr, id); op.Status != StatusCompleted {
		t.Errorf("cancel affected the operation: %s", op.Status)
	}
}

func TestWait_ContextDone(t *testing.T) {
	tr := newTestTracker(t)
	release := make(chan struct{})
	id, err := tr.Create(context.Background(), "x", func(context.Context, ProgressFunc) (any, error) {
		<-release
		return nil, nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := tr.Wait(ctx, id); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait error = %v, want DeadlineExceeded", err)
	}
	close(release)
	waitDone(t, tr, id)

	if _, err := tr.Wait(context.Background(), "missing"); !errors.Is(err, errs.NotFound) {
		t.Errorf("Wait(missing) error = %v, want NotFound", err)
	}
}

// --- Hooks ---

func TestOnTerminal_FiresOncePerOperation(t *testing.T) {
	tr := newTestTracker(t)
	var mu sync.Mutex
	seen := map[string][]Status{}
	tr.OnTerminal(func(op Operation) {
		mu.Lock()
		defer mu.Unlock()
		seen[op.ID] = append(seen[op.ID], op.Status)
	})

	ok, err := tr.Create(context.Background(), "x", func(context.Context, ProgressFunc) (any, error) { return 1, nil }, nil)
	if err != nil {
		t.Fatal(err)
	}
	bad, err := tr.Create(context.Background(), "x", func(context.Context, ProgressFunc) (any, error) { return nil, errors.New("no") }, nil)
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, tr, ok)
	waitDone(t, tr, bad)

	mu.Lock()
	defer mu.Unlock()
	if len(seen[ok]) != 1 || seen[ok][0] != StatusCompleted {
		t.Errorf("hook calls for ok = %v", seen[ok])
	}
	if len(seen[bad]) != 1 || seen[bad][0] != StatusFailed {
		t.Errorf("hook calls for bad = %v", seen[bad])
	}
}

// --- Pool ---

func TestPool_BoundsConcurrency(t *testing.T) {
	pool := NewPool(2)
	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		}); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()
	pool.Close()
	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
}

func TestPool_CloseWaitsAndRejects(t *testing.T) {
	pool := NewPool(1)
	var done atomic.Bool
	if err := pool.Submit(func() {
		time.Sleep(20 * time.Millisecond)
		done.Store(true)
	}); err != nil {
		t.Fatal(err)
	}
	pool.Close()
	if !done.Load() {
		t.Error("Close returned before in-flight work finished")
	}
	if err := pool.Submit(func() {}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Submit after Close error = %v, want ErrPoolClosed", err)
	}
}

func TestCreate_OnClosedPoolFails(t *testing.T) {
	pool := NewPool(1)
	pool.Close()
	tr := NewTracker(pool, WithIDGenerator(func() string { return "op-1" }))

	_, err := tr.Create(context.Background(), "x", func(context.Context, ProgressFunc) (any, error) { return nil, nil }, nil)
	if !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("Create error = %v, want ErrPoolClosed", err)
	}
	op, ok := tr.Get("op-1")
	if !ok || op.Status != StatusFailed {
		t.Errorf("op = %+v, %v; want failed", op, ok)
	}
}
