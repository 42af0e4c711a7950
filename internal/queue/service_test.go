package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shzored/mediabot/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProcessor struct {
	mu        sync.Mutex
	processed []string
	failures  []string
	panicOn   string
	done      chan string
}

func newStubProcessor() *stubProcessor {
	return &stubProcessor{done: make(chan string, 16)}
}

func (p *stubProcessor) Process(ctx context.Context, req *pipeline.Request) {
	if req.URL == p.panicOn {
		p.done <- req.URL
		panic("processor exploded")
	}

	p.mu.Lock()
	p.processed = append(p.processed, req.URL)
	p.mu.Unlock()
	p.done <- req.URL
}

func (p *stubProcessor) ReportFailure(ctx context.Context, req *pipeline.Request, reason string) {
	p.mu.Lock()
	p.failures = append(p.failures, req.URL)
	p.mu.Unlock()
}

func (p *stubProcessor) wait(t *testing.T, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		select {
		case <-p.done:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for request %d of %d to be processed", i+1, count)
		}
	}
}

func TestEnqueueIsProcessedByWorkers(t *testing.T) {
	processor := newStubProcessor()
	service := New(Config{Workers: 2, ShutdownGrace: time.Second}, processor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go service.Run(ctx)

	service.Enqueue(&pipeline.Request{ChatID: 1, URL: "https://a"})
	service.Enqueue(&pipeline.Request{ChatID: 1, URL: "https://b"})
	service.Enqueue(&pipeline.Request{ChatID: 1, URL: "https://c"})
	processor.wait(t, 3)

	processor.mu.Lock()
	defer processor.mu.Unlock()
	assert.ElementsMatch(t, []string{"https://a", "https://b", "https://c"}, processor.processed)
	assert.Zero(t, service.Len())
}

func TestPanickingRequestDoesNotKillItsWorker(t *testing.T) {
	processor := newStubProcessor()
	processor.panicOn = "https://poison"

	// A single worker proves isolation: the worker that panicked must
	// survive to process the next request.
	service := New(Config{Workers: 1, ShutdownGrace: time.Second}, processor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go service.Run(ctx)

	service.Enqueue(&pipeline.Request{ChatID: 1, URL: "https://poison"})
	service.Enqueue(&pipeline.Request{ChatID: 1, URL: "https://healthy"})
	processor.wait(t, 2)

	processor.mu.Lock()
	defer processor.mu.Unlock()
	assert.Equal(t, []string{"https://healthy"}, processor.processed)
	assert.Equal(t, []string{"https://poison"}, processor.failures)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	processor := newStubProcessor()
	service := New(Config{Workers: 2, ShutdownGrace: time.Second}, processor)

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan error, 1)
	go func() { finished <- service.Run(ctx) }()

	service.Enqueue(&pipeline.Request{ChatID: 1, URL: "https://a"})
	processor.wait(t, 1)

	cancel()
	select {
	case err := <-finished:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("queue did not stop after context cancellation")
	}
}

func TestDefaultsApplied(t *testing.T) {
	service := New(Config{}, newStubProcessor())

	assert.Equal(t, 3, service.config.Workers)
	assert.Equal(t, 10*time.Second, service.config.ShutdownGrace)
}
