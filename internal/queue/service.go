package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shzored/mediabot/internal/pipeline"
	"github.com/shzored/mediabot/pkg/logger"
	"github.com/shzored/mediabot/pkg/worker"
)

var log = logger.Get("Queue")

// Processor consumes dequeued requests. ReportFailure is only invoked
// when processing aborts abnormally and the processor never got the
// chance to report for itself.
type Processor interface {
	Process(ctx context.Context, req *pipeline.Request)
	ReportFailure(ctx context.Context, req *pipeline.Request, reason string)
}

// Config tunes the request queue service.
type Config struct {
	Workers       int
	ShutdownGrace time.Duration
}

// Service is the bounded-concurrency request queue. Accepted requests
// are appended to the pending list and claimed by a fixed pool of
// workers; enqueueing never blocks the caller. A panicking request
// takes down neither its worker nor any other request.
type Service struct {
	mu        sync.Mutex
	pending   []*pipeline.Request
	pool      *worker.WorkerPool
	processor Processor
	config    Config
}

// New constructs the queue service with its worker pool. Workers are
// created here but only begin consuming once Run is called.
func New(config Config, processor Processor) *Service {
	if config.Workers <= 0 {
		config.Workers = 3
	}
	if config.ShutdownGrace <= 0 {
		config.ShutdownGrace = 10 * time.Second
	}

	service := &Service{
		pool:      worker.NewWorkerPool(),
		processor: processor,
		config:    config,
	}

	for i := 0; i < config.Workers; i++ {
		label := fmt.Sprintf("queue:%d", i)
		service.pool.PushWorker(worker.NewWorker(label, service.processNext))
	}

	return service
}

// Enqueue accepts a request and wakes the worker pool. Never blocks.
func (service *Service) Enqueue(req *pipeline.Request) {
	req.EnqueuedAt = time.Now()

	service.mu.Lock()
	service.pending = append(service.pending, req)
	depth := len(service.pending)
	service.mu.Unlock()

	log.Emit(logger.NEW, "Queued request for %s from chat %d (depth %d)\n", req.URL, req.ChatID, depth)
	service.pool.WakeupWorkers()
}

// Len reports the number of requests waiting to be claimed.
func (service *Service) Len() int {
	service.mu.Lock()
	defer service.mu.Unlock()

	return len(service.pending)
}

// Run starts the worker pool and blocks until the context is cancelled,
// then drains the pending list and waits for in-flight requests up to
// the shutdown grace period.
func (service *Service) Run(ctx context.Context) error {
	log.Emit(logger.NEW, "Request queue running with %d worker(s)\n", service.config.Workers)
	if err := service.pool.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	service.discardPending()
	if !service.pool.CloseWithTimeout(service.config.ShutdownGrace) {
		log.Warnf("Workers still busy after %s grace period, abandoning them\n", service.config.ShutdownGrace)
	}

	log.Emit(logger.STOP, "Request queue stopped\n")
	return nil
}

// processNext claims and processes one pending request. Returning false
// with no error sends the worker back to sleep until the next wakeup.
func (service *Service) processNext(ctx context.Context, w worker.Worker) (bool, error) {
	req := service.claim()
	if req == nil {
		return false, nil
	}

	service.processSafely(ctx, w, req)
	return true, nil
}

// processSafely isolates the worker from a panicking request.
func (service *Service) processSafely(ctx context.Context, w worker.Worker, req *pipeline.Request) {
	defer func() {
		if cause := recover(); cause != nil {
			log.Errorf("Worker %s recovered from panic while processing %s: %v\n", w.Label(), req.URL, cause)
			service.processor.ReportFailure(ctx, req, fmt.Sprint(cause))
		}
	}()

	log.Debugf("Worker %s claimed request for %s (waited %s)\n", w.Label(), req.URL, time.Since(req.EnqueuedAt))
	service.processor.Process(ctx, req)
}

func (service *Service) claim() *pipeline.Request {
	service.mu.Lock()
	defer service.mu.Unlock()

	if len(service.pending) == 0 {
		return nil
	}

	req := service.pending[0]
	service.pending = service.pending[1:]
	return req
}

func (service *Service) discardPending() {
	service.mu.Lock()
	defer service.mu.Unlock()

	if len(service.pending) > 0 {
		log.Warnf("Discarding %d pending request(s) on shutdown\n", len(service.pending))
		service.pending = nil
	}
}
