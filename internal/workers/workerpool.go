package workers

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("worker pool stopped")

// WorkerPool manages a pool of workers that execute jobs concurrently.
type WorkerPool struct {
	jobCh chan func()
	wg    sync.WaitGroup // outstanding jobs
	done  sync.WaitGroup // running workers

	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once
}

// NewWorkerPool initializes a worker pool with a fixed number of workers.
func NewWorkerPool(workerCount, jobBufferSize int) *WorkerPool {
	if workerCount < 1 {
		workerCount = 1
	}
	wp := &WorkerPool{
		jobCh: make(chan func(), jobBufferSize),
	}
	wp.done.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go wp.worker()
	}
	return wp
}

func (wp *WorkerPool) worker() {
	defer wp.done.Done()
	for job := range wp.jobCh {
		job()
	}
}

// AddJob enqueues a job without blocking. It reports false when the queue
// is full or the pool is stopped.
func (wp *WorkerPool) AddJob(job func()) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return false
	}

	wp.wg.Add(1)
	select {
	case wp.jobCh <- wp.track(job):
		return true
	default:
		wp.wg.Done()
		return false
	}
}

// Submit enqueues a job, waiting for queue space until ctx is done.
func (wp *WorkerPool) Submit(ctx context.Context, job func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return ErrStopped
	}

	wp.wg.Add(1)
	select {
	case wp.jobCh <- wp.track(job):
		return nil
	case <-ctx.Done():
		wp.wg.Done()
		return ctx.Err()
	}
}

func (wp *WorkerPool) track(job func()) func() {
	return func() {
		defer wp.wg.Done()
		job()
	}
}

// Wait blocks until all queued jobs are completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// Stop lets queued jobs finish, then stops the workers. Safe to call more
// than once.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		wp.mu.Lock()
		wp.stopped = true
		close(wp.jobCh)
		wp.mu.Unlock()
		wp.done.Wait()
	})
}
