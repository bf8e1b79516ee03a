// Package executor provides strategies that run every split of a layer.
package executor

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/petrijr/strata/pkg/api"
	"github.com/petrijr/strata/pkg/worker"
)

// Local runs splits as goroutines in this process.
type Local struct {
	// Concurrency bounds the number of splits of one layer running at once.
	// Zero means unbounded.
	Concurrency int
	Observer    api.Observer
}

var _ api.Executor = (*Local)(nil)

// NewLocal returns a Local executor.
func NewLocal(concurrency int, obs api.Observer) *Local {
	return &Local{Concurrency: concurrency, Observer: obs}
}

// Submit runs every split of l and records the realized split count. A
// failing split does not cancel its siblings; the first failure is returned
// once all of them have finished.
func (e *Local) Submit(ctx context.Context, l *api.Layer) (*api.Layer, error) {
	rt := l.Runtime()
	if rt == nil {
		return l, fmt.Errorf("submit %s: layer is not bound to a flow", l.Name)
	}

	n, err := rt.Splits(ctx, l)
	if err != nil {
		return l, err
	}
	l.Splits = n

	var g errgroup.Group
	if e.Concurrency > 0 {
		g.SetLimit(e.Concurrency)
	}
	for i := 0; i < n; i++ {
		c := l.Coordinates()
		c.Index = i
		g.Go(func() error {
			return worker.RunSplit(ctx, rt, c, l.Config.Retry, e.Observer)
		})
	}
	if err := g.Wait(); err != nil {
		return l, err
	}

	if err := rt.WriteRecord(ctx, l); err != nil {
		return l, fmt.Errorf("record %s: %w", l.Name, err)
	}
	return l, nil
}
