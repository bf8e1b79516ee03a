package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/petrijr/strata/internal/persistence"
	"github.com/petrijr/strata/pkg/api"
)

// DurableExecutor is implemented by executors whose tasks may outlive this
// process and therefore cannot pair with an in-memory store.
type DurableExecutor interface {
	RequiresDurableStore() bool
}

// Config describes how to construct a Flow.
type Config struct {
	Name     string
	Store    persistence.ArtifactStore
	Executor api.Executor
	Observer api.Observer
}

// Flow is the template registry and composition root. It implements
// api.Flow and api.Runtime.
type Flow struct {
	name     string
	store    *persistence.Store
	executor api.Executor
	observer api.Observer

	mu        sync.RWMutex
	templates map[string]api.Template
	order     []string
}

var (
	_ api.Flow    = (*Flow)(nil)
	_ api.Runtime = (*Flow)(nil)
)

// NewFlow creates a Flow from cfg. The store defaults to a MemoryStore.
func NewFlow(cfg Config) (*Flow, error) {
	if err := api.ValidateFlowName(cfg.Name); err != nil {
		return nil, err
	}
	if cfg.Executor == nil {
		return nil, api.NewError(api.ErrStructural, "", "flow %s has no executor", cfg.Name)
	}
	store := cfg.Store
	if store == nil {
		store = persistence.NewMemoryStore()
	}
	if d, ok := cfg.Executor.(DurableExecutor); ok && d.RequiresDurableStore() {
		if _, mem := store.(*persistence.MemoryStore); mem {
			return nil, api.NewError(api.ErrStructural, "", "executor %T needs a durable store, got %T", cfg.Executor, store)
		}
	}
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	return &Flow{
		name:      cfg.Name,
		store:     persistence.NewStore(store),
		executor:  cfg.Executor,
		observer:  obs,
		templates: make(map[string]api.Template),
	}, nil
}

func (f *Flow) Name() string { return f.name }

// Store returns the attribute store of the flow.
func (f *Flow) Store() *persistence.Store { return f.store }

// Register validates t and adds it to the registry.
func (f *Flow) Register(t api.Template) error {
	if err := api.ValidateLayerName(t.Name); err != nil {
		return err
	}

	inputs := make(map[string]struct{}, len(t.Inputs))
	sources := make(map[string]struct{}, len(t.Inputs))
	for _, in := range t.Inputs {
		if in.Name == "" || api.IsReserved(in.Name) {
			return api.NewError(api.ErrStructural, t.Name, "invalid input name %q", in.Name)
		}
		if _, dup := inputs[in.Name]; dup {
			return api.NewError(api.ErrStructural, t.Name, "duplicate input %q", in.Name)
		}
		if err := api.ValidateLayerName(in.Layer); err != nil {
			return api.NewError(api.ErrStructural, t.Name, "input %q: invalid layer %q", in.Name, in.Layer)
		}
		inputs[in.Name] = struct{}{}
		sources[in.Layer] = struct{}{}
	}

	params := make(map[[2]string]struct{}, len(t.Config.ForEach))
	for _, p := range t.Config.ForEach {
		if _, ok := sources[p.Layer]; !ok {
			return api.NewError(api.ErrStructural, t.Name, "foreach layer %s is not an input", p.Layer)
		}
		if err := api.ValidateAttributeName(t.Name, p.Attribute); err != nil {
			return err
		}
		if p.Index != nil && *p.Index < 0 {
			return api.NewError(api.ErrStructural, t.Name, "foreach index %d is negative", *p.Index)
		}
		k := [2]string{p.Layer, p.Attribute}
		if _, dup := params[k]; dup {
			return api.NewError(api.ErrStructural, t.Name, "duplicate foreach parameter %s.%s", p.Layer, p.Attribute)
		}
		params[k] = struct{}{}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.templates[t.Name]; exists {
		return api.NewError(api.ErrStructural, t.Name, "layer already registered")
	}
	t.Inputs = slices.Clone(t.Inputs)
	t.Config.ForEach = slices.Clone(t.Config.ForEach)
	f.templates[t.Name] = t
	f.order = append(f.order, t.Name)
	return nil
}

// Template returns the registered template for name.
func (f *Flow) Template(name string) (api.Template, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.templates[name]
	if !ok {
		return api.Template{}, api.NewError(api.ErrUnknownLayer, name, "not registered in flow %s", f.name)
	}
	return t, nil
}

// Names returns the registered layer names in registration order.
func (f *Flow) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.order)
}

// Layer materializes an independent instance of name. When o.Splits is zero
// the realized split count is taken from the layer's record, if any.
func (f *Flow) Layer(ctx context.Context, name string, o api.Overrides) (*api.Layer, error) {
	t, err := f.Template(name)
	if err != nil {
		return nil, err
	}
	if o.Splits == 0 && o.Execution != "" {
		rec, ok, err := f.store.Record(ctx, f.name, o.Execution, name)
		if err != nil {
			return nil, err
		}
		if ok {
			o.Splits = rec.Execution.Splits
		}
	}
	return api.NewLayer(t, api.Coordinates{
		Execution: o.Execution,
		Flow:      f.name,
		Layer:     name,
		Index:     o.Index,
		Splits:    o.Splits,
		Attempt:   o.Attempt,
	}, f), nil
}

// Dependencies maps every registered layer to its distinct upstream layers
// in input order.
func (f *Flow) Dependencies() map[string][]string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string][]string, len(f.templates))
	for _, name := range f.order {
		deps := []string{}
		for _, in := range f.templates[name].Inputs {
			if !slices.Contains(deps, in.Layer) {
				deps = append(deps, in.Layer)
			}
		}
		out[name] = deps
	}
	return out
}

// Dependents maps every registered layer to the layers reading from it, in
// registration order.
func (f *Flow) Dependents() map[string][]string {
	deps := f.Dependencies()
	out := make(map[string][]string, len(deps))
	for _, name := range f.Names() {
		if _, ok := out[name]; !ok {
			out[name] = []string{}
		}
		for _, d := range deps[name] {
			out[d] = append(out[d], name)
		}
	}
	return out
}

// Run drives one execution to completion. Layers listed in opts.Finished are
// treated as already done.
func (f *Flow) Run(ctx context.Context, opts api.RunOptions) (api.Execution, error) {
	exec := api.Execution{ID: opts.ExecutionID, Flow: f.name}
	if exec.ID == "" {
		exec = api.NewExecution(f.name)
	}

	finished := make(map[string]bool, len(opts.Finished))
	for _, name := range opts.Finished {
		if _, err := f.Template(name); err != nil {
			return exec, err
		}
		finished[name] = true
	}

	f.observer.OnExecutionStart(ctx, exec)
	s := &scheduler{flow: f, executor: f.executor, observer: f.observer, exec: exec}
	if err := s.run(ctx, finished); err != nil {
		f.observer.OnExecutionFailed(ctx, exec, err)
		return exec, err
	}
	f.observer.OnExecutionCompleted(ctx, exec)
	return exec, nil
}

// Finished lists the registered layers that have a record in executionID.
func (f *Flow) Finished(ctx context.Context, executionID string) ([]string, error) {
	var out []string
	for _, name := range f.Names() {
		ok, err := f.store.HasRecord(ctx, f.name, executionID, name)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, name)
		}
	}
	return out, nil
}

// Resume re-runs executionID with the finished set derived from its records.
func (f *Flow) Resume(ctx context.Context, executionID string) (api.Execution, error) {
	if executionID == "" {
		return api.Execution{}, errors.New("resume: execution id is required")
	}
	done, err := f.Finished(ctx, executionID)
	if err != nil {
		return api.Execution{ID: executionID, Flow: f.name}, fmt.Errorf("resume %s: %w", executionID, err)
	}
	return f.Run(ctx, api.RunOptions{ExecutionID: executionID, Finished: done})
}

// WriteRecord stores the realized split count of l.
func (f *Flow) WriteRecord(ctx context.Context, l *api.Layer) error {
	return f.store.PutRecord(ctx, l.Execution, persistence.NewRecord(f.name, l.Name, l.Splits))
}

// Shard writes values as a multi-element attribute of l's split.
func (f *Flow) Shard(ctx context.Context, l *api.Layer, name string, values []any) error {
	_, err := f.store.Write(ctx, keyOf(l), name, values)
	return err
}

// Load reads attribute name of l. Split instances read their own split;
// whole-layer instances (Index == api.AllSplits) read split 0 of a
// single-split layer and the joined archive otherwise.
func (f *Flow) Load(ctx context.Context, l *api.Layer, name string) (any, error) {
	v, err := f.load(ctx, l, name)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("%s.%s: %w: %w", l.Name, name, api.ErrNoAttribute, err)
	}
	return v, err
}

func (f *Flow) load(ctx context.Context, l *api.Layer, name string) (any, error) {
	if l.Index >= 0 {
		return f.store.Read(ctx, keyOf(l), name)
	}
	splits := l.Splits
	if splits == 0 {
		n, err := f.layerSplits(ctx, l.Execution, l.Name)
		if err != nil {
			return nil, err
		}
		splits = n
	}
	if splits <= 1 {
		key := keyOf(l)
		key.Index = 0
		return f.store.Read(ctx, key, name)
	}
	archive, err := f.join(ctx, l.Execution, l.Name, name, splits)
	if err != nil {
		return nil, err
	}
	return f.store.Resolve(ctx, f.name, archive)
}

func keyOf(l *api.Layer) persistence.Key {
	return persistence.Key{Flow: l.Flow, Execution: l.Execution, Layer: l.Name, Index: l.Index}
}
