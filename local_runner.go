package strata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/petrijr/strata/pkg/api"
	"github.com/petrijr/strata/pkg/executor"
)

// LocalRunner bundles an in-memory Flow and a queue executor backed by an
// in-memory task queue, and runs executions in the background. It is meant
// for development, tests and single-process deployments.
//
// Typical usage:
//
//	runner, _ := strata.NewLocalRunner("dev", 4)
//	strata.New().Layer("dev.A", runA).MustRegister(runner.Flow)
//
//	// Synchronous run:
//	exec, err := runner.Flow.Run(ctx, strata.RunOptions{})
//
//	// Asynchronous run:
//	_ = runner.Start(ctx)
//	exec, _ = runner.RunAsync(strata.RunOptions{})
//	err = runner.Wait(ctx, exec.ID)
//	runner.Stop()
type LocalRunner struct {
	// Flow is the in-memory flow used by this runner.
	Flow *Flow

	// Executor runs splits through an in-memory queue and worker pool.
	Executor *executor.Queue

	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	stopped bool
	done    map[string]chan error
}

// NewLocalRunner constructs a LocalRunner whose executor runs up to workers
// splits at once. opts configure observers and logging.
func NewLocalRunner(name string, workers int, opts ...Option) (*LocalRunner, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	q := executor.NewQueue(executor.QueueConfig{
		Workers:  workers,
		Observer: o.observer(),
		Logger:   logger,
	})
	f, err := NewInMemoryFlow(name, append(opts[:len(opts):len(opts)], WithExecutor(q))...)
	if err != nil {
		_ = q.Close()
		return nil, err
	}
	return &LocalRunner{
		Flow:     f,
		Executor: q,
		logger:   logger.With(slog.String("component", "local_runner")),
		done:     make(map[string]chan error),
	}, nil
}

// Start enables RunAsync. Executions started afterwards are cancelled when
// ctx is or when Stop is called.
//
// If Start is called more than once without Stop, it returns an error.
func (r *LocalRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("strata: LocalRunner already started")
	}
	if r.stopped {
		return errors.New("strata: LocalRunner stopped")
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.running = true
	return nil
}

// RunAsync starts an execution in the background and returns its id
// immediately. The result is collected with Wait.
func (r *LocalRunner) RunAsync(opts RunOptions) (Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return Execution{}, errors.New("strata: LocalRunner not started")
	}
	if opts.ExecutionID == "" {
		opts.ExecutionID = api.NewExecution(r.Flow.Name()).ID
	}
	exec := Execution{ID: opts.ExecutionID, Flow: r.Flow.Name()}
	if _, ok := r.done[exec.ID]; ok {
		return exec, fmt.Errorf("strata: execution %s already running", exec.ID)
	}

	ch := make(chan error, 1)
	r.done[exec.ID] = ch
	ctx := r.ctx
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_, err := r.Flow.Run(ctx, opts)
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("execution failed",
				slog.String("execution", exec.ID),
				slog.String("error", err.Error()),
			)
		}
		ch <- err
	}()
	return exec, nil
}

// Wait blocks until the execution started by RunAsync finishes and returns
// its error. Each execution can be waited for once.
func (r *LocalRunner) Wait(ctx context.Context, executionID string) error {
	r.mu.Lock()
	ch, ok := r.done[executionID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("strata: execution %s was not started by this runner", executionID)
	}

	select {
	case err := <-ch:
		r.mu.Lock()
		delete(r.done, executionID)
		r.mu.Unlock()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels every background execution, waits for them to exit and
// stops the worker pool. The runner cannot be restarted afterwards.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.running = false
	r.stopped = true
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	if err := r.Executor.Close(); err != nil {
		r.logger.Warn("closing executor", slog.String("error", err.Error()))
	}
}
