package estimator

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueFull reports that the run queue cannot accept another job right
// now. The request is rejected, never queued behind the limit.
var ErrQueueFull = errors.New("estimator: run queue is full")

// runner executes queued job ids on a fixed pool of workers.
type runner struct {
	queue   chan string
	workers int
	run     func(ctx context.Context, id string)
	stop    chan struct{}
	wg      sync.WaitGroup
}

func newRunner(workers, queueSize int, run func(ctx context.Context, id string)) *runner {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 32
	}
	return &runner{
		queue:   make(chan string, queueSize),
		workers: workers,
		run:     run,
		stop:    make(chan struct{}),
	}
}

// Start launches the worker goroutines
func (r *runner) Start(ctx context.Context) {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}
}

// Stop signals workers to stop and waits for them
func (r *runner) Stop() {
	close(r.stop)
	r.wg.Wait()
}

// Enqueue hands a job id to the pool without blocking.
func (r *runner) Enqueue(id string) error {
	select {
	case r.queue <- id:
		return nil
	default:
		return ErrQueueFull
	}
}

func (r *runner) worker(ctx context.Context, id int) {
	defer r.wg.Done()
	for {
		select {
		case <-r.stop:
			logger.Info("worker stopping", "id", id)
			return
		case <-ctx.Done():
			logger.Info("context canceled, worker exiting", "id", id)
			return
		case jobID := <-r.queue:
			r.run(ctx, jobID)
		}
	}
}
