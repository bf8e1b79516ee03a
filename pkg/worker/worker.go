package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/petrijr/strata/internal/taskqueue"
	"github.com/petrijr/strata/pkg/api"
)

// Result reports the outcome of one processed split task.
type Result struct {
	Task taskqueue.Task
	Err  error
}

// Config controls optional Worker behavior.
type Config struct {
	// Observer receives split start/completion callbacks.
	Observer api.Observer

	// OnResult, if set, is called after every processed task.
	OnResult func(Result)
}

// Worker pulls split tasks from a Queue and executes them against a flow
// runtime, retrying failed attempts with the task's retry policy.
type Worker struct {
	runtime  api.Runtime
	queue    taskqueue.Queue
	observer api.Observer
	onResult func(Result)
}

// New creates a new Worker with default config.
func New(rt api.Runtime, queue taskqueue.Queue) *Worker {
	return NewWithConfig(rt, queue, Config{})
}

// NewWithConfig creates a new Worker.
func NewWithConfig(rt api.Runtime, queue taskqueue.Queue, cfg Config) *Worker {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	return &Worker{
		runtime:  rt,
		queue:    queue,
		observer: obs,
		onResult: cfg.OnResult,
	}
}

// EnqueueSplit enqueues one split of a layer and returns the task id, which
// is id or a fresh UUID when id is empty. It does NOT run the split itself;
// that is done by ProcessOne.
func (w *Worker) EnqueueSplit(ctx context.Context, id string, c api.Coordinates, cfg api.Configuration) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	t := taskqueue.Task{
		ID:          id,
		Type:        taskqueue.TaskTypeSplit,
		Coordinates: c,
		Container:   cfg.Container,
		Retry:       cfg.Retry,
		EnqueuedAt:  time.Now(),
	}
	if err := w.queue.Enqueue(ctx, t); err != nil {
		return "", err
	}
	return t.ID, nil
}

// ProcessOne pulls a single task from the queue and runs one attempt of it.
// Returns (processed, error):
//   - processed == false: no task was obtained (ctx cancelled or dequeue failed)
//   - processed == true: a task was processed; err reports whether the attempt succeeded.
//
// A failed attempt with attempts left is enqueued again as the next attempt,
// with NotBefore set to the retry policy's backoff. Only the final outcome
// of a task reaches OnResult.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	var runErr error
	switch {
	case task.Type != taskqueue.TaskTypeSplit:
		// Mark as processed but return an error so this isn't silently ignored.
		runErr = errors.New("unknown task type: " + string(task.Type))
	case task.Coordinates.Flow != w.runtime.Name():
		runErr = fmt.Errorf("task %s belongs to flow %s, worker serves %s", task.ID, task.Coordinates.Flow, w.runtime.Name())
	default:
		c := task.Coordinates
		c.Attempt = max(c.Attempt, 1)
		err := attempt(ctx, w.runtime, c, w.observer)
		if err == nil {
			break
		}
		if c.Attempt < task.Retry.Attempts() && retryable(err) {
			next := *task
			next.Coordinates.Attempt = c.Attempt + 1
			next.NotBefore = time.Now().Add(task.Retry.Delay(next.Coordinates.Attempt))
			qerr := w.queue.Enqueue(ctx, next)
			if qerr == nil {
				return true, err
			}
			err = errors.Join(err, fmt.Errorf("requeue attempt %d: %w", next.Coordinates.Attempt, qerr))
		}
		runErr = api.SplitError(c, err)
	}

	if w.onResult != nil {
		w.onResult(Result{Task: *task, Err: runErr})
	}
	return true, runErr
}

// RunSplit executes one split through rt, making up to policy.Attempts()
// attempts with the policy's backoff between them. c.Attempt is set per
// attempt, starting at 1. The final failure is returned as an
// api.ErrExecution error.
func RunSplit(ctx context.Context, rt api.Runtime, c api.Coordinates, policy *api.RetryPolicy, obs api.Observer) error {
	if obs == nil {
		obs = api.NoopObserver{}
	}

	maxAttempts := policy.Attempts()
	var lastErr error

	for n := 1; n <= maxAttempts; n++ {
		if delay := policy.Delay(n); delay > 0 {
			select {
			case <-ctx.Done():
				return api.SplitError(c, ctx.Err())
			case <-time.After(delay):
				// continue to next attempt
			}
		} else if err := ctx.Err(); err != nil {
			return api.SplitError(c, err)
		}

		c.Attempt = n
		err := attempt(ctx, rt, c, obs)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return api.SplitError(c, lastErr)
}

func attempt(ctx context.Context, rt api.Runtime, c api.Coordinates, obs api.Observer) error {
	start := time.Now()
	obs.OnSplitStart(ctx, c)
	err := rt.Execute(ctx, c)
	obs.OnSplitCompleted(ctx, c, err, time.Since(start))
	return err
}

// retryable reports whether a failed attempt may succeed when run again.
// Structural problems do not heal on retry.
func retryable(err error) bool {
	return !errors.Is(err, api.ErrStructural)
}
