package operations

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("operations: pool is closed")

// Pool is an Executor that runs at most a fixed number of functions at
// once. Submit never blocks; excess work queues on the semaphore.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool creates a Pool running up to maxConcurrent functions at a time.
// Values below 1 are treated as 1.
func NewPool(maxConcurrent int) *Pool {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(maxConcurrent))}
}

// Submit schedules fn.
func (p *Pool) Submit(fn func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		// Background never cancels, so Acquire only returns once a slot frees.
		_ = p.sem.Acquire(context.Background(), 1)
		defer p.sem.Release(1)
		fn()
	}()
	return nil
}

// Close stops accepting work and waits for everything already submitted.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
