package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/strata/internal/persistence"
	"github.com/petrijr/strata/pkg/api"
	"github.com/petrijr/strata/pkg/executor"
)

// countingExecutor counts submissions per layer before delegating.
type countingExecutor struct {
	api.Executor

	mu    sync.Mutex
	calls map[string]int
}

func newCountingExecutor(obs api.Observer) *countingExecutor {
	return &countingExecutor{Executor: executor.NewLocal(0, obs), calls: make(map[string]int)}
}

func (e *countingExecutor) Submit(ctx context.Context, l *api.Layer) (*api.Layer, error) {
	e.mu.Lock()
	e.calls[l.Name]++
	e.mu.Unlock()
	return e.Executor.Submit(ctx, l)
}

func (e *countingExecutor) count(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[name]
}

// counter counts layer invocations across splits.
type counter struct {
	mu sync.Mutex
	n  map[string]int
}

func (c *counter) hit(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == nil {
		c.n = make(map[string]int)
	}
	c.n[name]++
}

func (c *counter) get(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n[name]
}

func newTestFlow(t *testing.T, store persistence.ArtifactStore, exec api.Executor, obs api.Observer) *Flow {
	t.Helper()
	if exec == nil {
		exec = executor.NewLocal(0, obs)
	}
	f, err := NewFlow(Config{Name: "demo", Store: store, Executor: exec, Observer: obs})
	require.NoError(t, err)
	return f
}

func mustRegister(t *testing.T, f *Flow, templates ...api.Template) {
	t.Helper()
	for _, tmpl := range templates {
		require.NoError(t, f.Register(tmpl), "register %s", tmpl.Name)
	}
}

func in(name, layer string) api.Input { return api.Input{Name: name, Layer: layer} }

// relay copies attribute attr of input src onto the layer.
func relay(src, attr string) api.LayerFunc {
	return func(ctx context.Context, l *api.Layer) error {
		v, err := l.Input(src).Get(ctx, attr)
		if err != nil {
			return err
		}
		return l.Set(attr, v)
	}
}

// sharder publishes values as a multi-element attribute.
func sharder(attr string, values ...any) api.LayerFunc {
	return func(ctx context.Context, l *api.Layer) error {
		return l.Shard(ctx, attr, values)
	}
}

func splitInstance(t *testing.T, f *Flow, exec, name string, index int) *api.Layer {
	t.Helper()
	l, err := f.Layer(context.Background(), name, api.Overrides{Execution: exec, Index: index})
	require.NoError(t, err)
	return l
}
