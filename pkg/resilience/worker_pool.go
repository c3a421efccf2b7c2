package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var ErrWorkerPoolClosed = errors.New("worker pool is closed")

// WorkerPool runs submitted jobs on a fixed number of goroutines.
// The queue bounds how many jobs may wait for a free worker.
type WorkerPool struct {
	jobs   chan func()
	closed bool
	mu     sync.RWMutex
	once   sync.Once
	wg     sync.WaitGroup
	busy   atomic.Int64
}

func NewWorkerPool(workers, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}

	p := &WorkerPool{
		jobs: make(chan func(), queueSize),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				if job == nil {
					continue
				}
				p.busy.Add(1)
				job()
				p.busy.Add(-1)
			}
		}()
	}

	return p
}

// Submit enqueues job without waiting for it to run.
func (p *WorkerPool) Submit(ctx context.Context, job func()) error {
	if job == nil {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrWorkerPoolClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.jobs <- job:
		return nil
	}
}

// Do runs fn on a worker and waits for its result.
// If ctx ends before fn is scheduled, fn never runs. Once scheduled, fn runs to completion.
func (p *WorkerPool) Do(ctx context.Context, fn func(context.Context) error) error {
	done := make(chan error, 1)
	if err := p.Submit(ctx, func() { done <- fn(ctx) }); err != nil {
		return err
	}
	return <-done
}

// Busy reports how many jobs are currently executing.
func (p *WorkerPool) Busy() int {
	return int(p.busy.Load())
}

func (p *WorkerPool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
	})
}

func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
