package worker

import (
	"context"
	"sync/atomic"

	"github.com/shzored/mediabot/pkg/logger"
)

var workerLogger = logger.Get("Worker")

type WorkerWakeupChan chan int
type WorkerStatus int

const (
	Sleeping WorkerStatus = iota
	Working
	Finished
)

// TaskFn is the unit of work executed by a worker. It should claim and
// process at most one item, returning true if an item was processed (the
// worker will immediately poll again) or false if there was nothing to do
// (the worker goes back to sleep until woken).
type TaskFn func(ctx context.Context, w Worker) (bool, error)

type Worker interface {
	Start(ctx context.Context)
	Status() WorkerStatus
	WakeupChan() WorkerWakeupChan
	Label() string
	Close()
}

// currentStatus is read by WakeupWorkers from other goroutines, so it
// is stored atomically.
type taskWorker struct {
	label         string
	task          TaskFn
	wakeupChan    WorkerWakeupChan
	currentStatus atomic.Int32
}

func NewWorker(label string, task TaskFn) *taskWorker {
	return &taskWorker{
		label:      label,
		task:       task,
		wakeupChan: make(WorkerWakeupChan),
	}
}

func (worker *taskWorker) setStatus(status WorkerStatus) {
	worker.currentStatus.Store(int32(status))
}

// Start runs the workers task in a loop until the worker is closed or the
// provided context is cancelled. Errors from the task are logged and do not
// terminate the loop; one bad item must not take the worker down with it.
func (worker *taskWorker) Start(ctx context.Context) {
	workerLogger.Emit(logger.NEW, "Starting worker %s\n", worker.label)
	worker.setStatus(Working)

	for {
		if ctx.Err() != nil {
			break
		}

		didWork, err := worker.task(ctx, worker)
		if err != nil {
			workerLogger.Emit(logger.ERROR, "Worker %s has reported an error(%T): %v\n", worker.label, err, err)
		}

		if didWork {
			continue
		}

		if !worker.sleep(ctx) {
			break
		}
	}

	worker.setStatus(Finished)
	workerLogger.Emit(logger.STOP, "Worker %s has stopped\n", worker.label)
}

// Status returns the current status of this worker
func (worker *taskWorker) Status() WorkerStatus {
	return WorkerStatus(worker.currentStatus.Load())
}

func (worker *taskWorker) WakeupChan() WorkerWakeupChan {
	return worker.wakeupChan
}

// Close closes the Worker by closing the WakeupChan.
// Note that this does not interrupt a currently running task.
func (worker *taskWorker) Close() {
	close(worker.wakeupChan)
}

// Label returns the label for this worker
func (worker *taskWorker) Label() string {
	return worker.label
}

// sleep blocks until the worker is woken via its wakeup channel, the channel
// is closed, or the context is cancelled. Returns false when the worker
// should exit.
func (worker *taskWorker) sleep(ctx context.Context) (isAlive bool) {
	worker.setStatus(Sleeping)

	select {
	case _, isAlive = <-worker.wakeupChan:
		if isAlive {
			worker.setStatus(Working)
		}
	case <-ctx.Done():
		isAlive = false
	}

	return isAlive
}
