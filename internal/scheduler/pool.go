package scheduler

import (
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrPoolClosed is returned when work is submitted to a closed pool. It is
// fatal to a run.
var ErrPoolClosed = errors.New("worker pool is closed")

// Pool runs tasks on a bounded number of goroutines. It is created at the
// start of a run and closed at its end.
type Pool struct {
	mu      sync.Mutex
	g       errgroup.Group
	workers int
	closed  bool
}

// NewPool creates a pool with the given number of workers (at least one).
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{workers: workers}
	p.g.SetLimit(workers)
	return p
}

// Workers returns the concurrency limit.
func (p *Pool) Workers() int { return p.workers }

// Submit schedules fn. It blocks while all workers are busy.
func (p *Pool) Submit(fn func()) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPoolClosed
	}
	p.g.Go(func() error {
		fn()
		return nil
	})
	return nil
}

// Wait blocks until every submitted task has returned.
func (p *Pool) Wait() {
	_ = p.g.Wait()
}

// Close waits for outstanding tasks and rejects further submissions.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.Wait()
}
