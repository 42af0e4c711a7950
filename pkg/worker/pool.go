package worker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// WorkerPool owns a set of workers and the WaitGroup tracking their
// goroutines. Workers are pushed before Start; once started the pool
// membership is fixed. The mutex serializes wakeups against close so a
// producer racing shutdown can never send on a closed wakeup channel.
type WorkerPool struct {
	mu      sync.Mutex
	workers []Worker
	Wg      sync.WaitGroup
	started bool
	closed  bool
}

// NewWorkerPool creates a new WorkerPool struct
// and initialises the 'workers' slice.
func NewWorkerPool() *WorkerPool {
	return &WorkerPool{workers: make([]Worker, 0)}
}

// Start spawns a goroutine per worker. Start does NOT block; consumers
// should Close (or CloseWithTimeout) the pool to wait for worker exit.
func (pool *WorkerPool) Start(ctx context.Context) error {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	if pool.started {
		return errors.New("cannot start an already started worker pool")
	}

	pool.started = true
	for _, worker := range pool.workers {
		pool.Wg.Add(1)
		go func(wg *sync.WaitGroup, w Worker) {
			defer wg.Done()
			w.Start(ctx)
		}(&pool.Wg, worker)
	}

	return nil
}

// PushWorker inserts the workers provided in to the worker pool.
func (pool *WorkerPool) PushWorker(workers ...Worker) error {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	if pool.started {
		return errors.New("cannot push worker to already started worker pool")
	}

	pool.workers = append(pool.workers, workers...)
	return nil
}

// WakeupWorkers will search for sleeping workers in the pool
// and will send on their WakeupChannel to wake them. A pool that is
// closed, or closing, absorbs the wakeup silently.
func (pool *WorkerPool) WakeupWorkers() error {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	if !pool.started {
		return errors.New("cannot wakeup workers on worker pool that is not started")
	}
	if pool.closed {
		return nil
	}

	for _, w := range pool.workers {
		if w.Status() == Sleeping {
			select {
			case w.WakeupChan() <- 1:
			default:
			}
		}
	}

	return nil
}

// Close will cycle through all the workers inside this
// worker pool, close their wakeup channels and wait for them to exit.
func (pool *WorkerPool) Close() {
	if !pool.closeWorkers() {
		return
	}

	pool.Wg.Wait()
}

// CloseWithTimeout closes the pool but gives up waiting for worker exit
// after the grace period provided has elapsed. Returns false if the grace
// period expired with workers still running.
func (pool *WorkerPool) CloseWithTimeout(grace time.Duration) bool {
	if !pool.closeWorkers() {
		return true
	}

	done := make(chan struct{})
	go func() {
		pool.Wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(grace):
		return false
	}
}

// closeWorkers closes every wakeup channel exactly once. Reports
// whether this call performed the close.
func (pool *WorkerPool) closeWorkers() bool {
	pool.mu.Lock()
	defer pool.mu.Unlock()

	if !pool.started || pool.closed {
		return false
	}

	pool.closed = true
	for _, w := range pool.workers {
		w.Close()
	}

	return true
}
