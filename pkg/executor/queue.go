package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/petrijr/strata/internal/taskqueue"
	"github.com/petrijr/strata/pkg/api"
	"github.com/petrijr/strata/pkg/worker"
)

// Queue runs splits by enqueueing one task per split and processing the
// queue with an in-process worker pool. Task ids tie completions back to
// the submission waiting for them. The pool binds to the flow of the first
// submitted layer, so a Queue serves a single flow.
type Queue struct {
	queue    taskqueue.Queue
	workers  int
	observer api.Observer
	logger   *slog.Logger

	startOnce sync.Once
	pool      *worker.Pool
	startErr  error

	mu      sync.Mutex
	waiting map[string]chan error
}

var _ api.Executor = (*Queue)(nil)

// QueueConfig configures a Queue executor.
type QueueConfig struct {
	Queue    taskqueue.Queue
	Workers  int
	Observer api.Observer
	Logger   *slog.Logger
}

// NewQueue returns a Queue executor. The worker pool starts on the first
// Submit and runs until Close.
func NewQueue(cfg QueueConfig) *Queue {
	q := cfg.Queue
	if q == nil {
		q = taskqueue.NewInMemoryQueue(0)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		queue:    q,
		workers:  workers,
		observer: cfg.Observer,
		logger:   logger,
		waiting:  make(map[string]chan error),
	}
}

// RequiresDurableStore reports whether tasks outlive this process, which
// is the case for every queue except the in-memory one.
func (e *Queue) RequiresDurableStore() bool {
	_, mem := e.queue.(*taskqueue.InMemoryQueue)
	return !mem
}

func (e *Queue) start(rt api.Runtime) error {
	e.startOnce.Do(func() {
		w := worker.NewWithConfig(rt, e.queue, worker.Config{
			Observer: e.observer,
			OnResult: e.complete,
		})
		e.pool = worker.NewPool(w, e.logger)
		// The pool outlives individual submissions; Close stops it.
		e.startErr = e.pool.Start(context.Background(), e.workers)
	})
	return e.startErr
}

func (e *Queue) complete(r worker.Result) {
	e.mu.Lock()
	ch, ok := e.waiting[r.Task.ID]
	delete(e.waiting, r.Task.ID)
	e.mu.Unlock()
	if !ok {
		e.logger.Warn("completion for unknown task", slog.String("task", r.Task.ID))
		return
	}
	ch <- r.Err
}

// Submit enqueues every split of l, waits for all of them and records the
// realized split count.
func (e *Queue) Submit(ctx context.Context, l *api.Layer) (*api.Layer, error) {
	rt := l.Runtime()
	if rt == nil {
		return l, fmt.Errorf("submit %s: layer is not bound to a flow", l.Name)
	}
	if err := e.start(rt); err != nil {
		return l, err
	}

	n, err := rt.Splits(ctx, l)
	if err != nil {
		return l, err
	}
	l.Splits = n

	enq := worker.New(rt, e.queue)
	results := make([]chan error, 0, n)
	for i := 0; i < n; i++ {
		c := l.Coordinates()
		c.Index = i

		// Registered before enqueueing so a fast worker never completes an
		// unknown task.
		id := uuid.NewString()
		ch := make(chan error, 1)
		e.mu.Lock()
		e.waiting[id] = ch
		e.mu.Unlock()

		if _, err := enq.EnqueueSplit(ctx, id, c, l.Config); err != nil {
			e.mu.Lock()
			delete(e.waiting, id)
			e.mu.Unlock()
			return l, fmt.Errorf("enqueue %s split %d: %w", l.Name, i, err)
		}
		results = append(results, ch)
	}

	var errs []error
	for _, ch := range results {
		select {
		case err := <-ch:
			if err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			return l, ctx.Err()
		}
	}
	if len(errs) > 0 {
		return l, errs[0]
	}

	if err := rt.WriteRecord(ctx, l); err != nil {
		return l, fmt.Errorf("record %s: %w", l.Name, err)
	}
	return l, nil
}

// Close stops the worker pool.
func (e *Queue) Close() error {
	if e.pool == nil {
		return nil
	}
	e.pool.Stop()
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.waiting) > 0 {
		return errors.New("strata: queue executor closed with splits in flight")
	}
	return nil
}
