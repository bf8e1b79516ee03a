package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Pool runs Worker.ProcessOne in a fixed number of goroutines until stopped.
type Pool struct {
	worker *Worker
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewPool returns a stopped Pool over w. A nil logger uses slog.Default().
func NewPool(w *Worker, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{worker: w, logger: logger}
}

// Start starts 'concurrency' goroutines that continuously call
// ProcessOne until the context is cancelled or Stop is called.
//
// If Start is called more than once without Stop, it returns an error.
func (p *Pool) Start(ctx context.Context, concurrency int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return errors.New("strata: worker pool already started")
	}

	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer p.wg.Done()

			for {
				processed, err := p.worker.ProcessOne(ctx)
				if err == nil {
					continue
				}
				// Cancellation is a clean shutdown signal.
				if ctx.Err() != nil {
					return
				}
				if processed {
					// The split failure is reported to the submitter; keep going.
					p.logger.DebugContext(ctx, "split task failed", slog.Any("error", err))
					continue
				}
				p.logger.ErrorContext(ctx, "worker dequeue failed", slog.Any("error", err))
			}
		}()
	}

	return nil
}

// Stop cancels all goroutines started by Start and waits for them to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

// Running reports whether the pool has been started and not stopped.
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
