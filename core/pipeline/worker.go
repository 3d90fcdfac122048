package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/etm-sa/landylocal/core/infra/logging"
)

// TaskSource delivers queued stage tasks to a handler.
type TaskSource interface {
	SubscribeTasks(handler func(Task) error) error
}

// WorkerPool consumes stage tasks with bounded concurrency. It opens one
// queue-group subscription per slot; each runs a single task at a time, so
// the pool never exceeds its configured width. Each task gets its own
// timeout so a hung capability call fails the job instead of wedging a
// worker slot forever.
type WorkerPool struct {
	driver      *Driver
	source      TaskSource
	concurrency int
	taskTimeout time.Duration
}

// NewWorkerPool wires a pool of task consumers.
func NewWorkerPool(driver *Driver, source TaskSource, concurrency int, taskTimeout time.Duration) (*WorkerPool, error) {
	if driver == nil || source == nil {
		return nil, errors.New("worker pool requires driver and task source")
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	if taskTimeout <= 0 {
		taskTimeout = 5 * time.Minute
	}
	return &WorkerPool{
		driver:      driver,
		source:      source,
		concurrency: concurrency,
		taskTimeout: taskTimeout,
	}, nil
}

// Run subscribes for tasks and blocks until the context is cancelled.
// Queue-group delivery is serial per subscription, so concurrency comes
// from the number of subscriptions, not from goroutines per message.
func (p *WorkerPool) Run(ctx context.Context) error {
	handle := func(task Task) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		taskCtx, cancel := context.WithTimeout(ctx, p.taskTimeout)
		defer cancel()
		return p.driver.Run(taskCtx, task)
	}

	for i := 0; i < p.concurrency; i++ {
		if err := p.source.SubscribeTasks(handle); err != nil {
			return err
		}
	}

	logging.Info("worker", "task consumer started",
		"concurrency", p.concurrency, "task_timeout", p.taskTimeout.String())
	<-ctx.Done()
	logging.Info("worker", "shutting down")
	return nil
}
