package api

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/petrijr/strata/internal/codec"
)

// ErrNoAttribute is returned when an attribute is neither set on a layer
// nor present in the store.
var ErrNoAttribute = errors.New("attribute not found")

// Reserved attribute names resolve to runtime coordinates and are never
// persisted.
var reserved = map[string]struct{}{
	"index":     {},
	"splits":    {},
	"attempt":   {},
	"execution": {},
	"flow":      {},
	"name":      {},
}

// AllSplits is the Index of a whole-layer instance. Such instances read
// attributes across every split of the layer, as dependency inputs do.
const AllSplits = -1

// IsReserved reports whether name is a reserved attribute.
func IsReserved(name string) bool {
	_, ok := reserved[name]
	return ok
}

// Layer is a template bound to runtime coordinates. Each instance owns its
// attributes; instances are never shared between splits.
type Layer struct {
	Name      string
	Flow      string
	Execution string
	Index     int
	Splits    int
	Attempt   int
	Config    Configuration

	inputs  []Input
	run     LayerFunc
	runtime Runtime

	mu      sync.Mutex
	attrs   map[string]any
	loaded  map[string]any
	sharded map[string]struct{}
	deps    map[string]*Layer
}

// NewLayer materializes an instance of t at the given coordinates. rt may be
// nil for detached instances, which then only see attributes set on them.
func NewLayer(t Template, c Coordinates, rt Runtime) *Layer {
	return &Layer{
		Name:      t.Name,
		Flow:      c.Flow,
		Execution: c.Execution,
		Index:     c.Index,
		Splits:    c.Splits,
		Attempt:   c.Attempt,
		Config:    t.Config,
		inputs:    append([]Input(nil), t.Inputs...),
		run:       t.Run,
		runtime:   rt,
		attrs:     make(map[string]any),
		loaded:    make(map[string]any),
		sharded:   make(map[string]struct{}),
		deps:      make(map[string]*Layer),
	}
}

// Coordinates returns the runtime coordinates of l.
func (l *Layer) Coordinates() Coordinates {
	return Coordinates{
		Execution: l.Execution,
		Flow:      l.Flow,
		Layer:     l.Name,
		Index:     l.Index,
		Splits:    l.Splits,
		Attempt:   l.Attempt,
	}
}

// Runtime returns the runtime l is bound to.
func (l *Layer) Runtime() Runtime { return l.runtime }

// Inputs returns the declared inputs in positional order.
func (l *Layer) Inputs() []Input {
	return append([]Input(nil), l.inputs...)
}

// Call invokes the layer behavior. A template without one is a no-op.
func (l *Layer) Call(ctx context.Context) error {
	if l.run == nil {
		return nil
	}
	return l.run(ctx, l)
}

// Bind attaches the dependency instance for input name.
func (l *Layer) Bind(name string, dep *Layer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deps[name] = dep
}

// Input returns the dependency instance bound to input name, or nil.
func (l *Layer) Input(name string) *Layer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deps[name]
}

// Dependencies returns the bound dependency instances of every input that
// reads from the named upstream layer, in input order.
func (l *Layer) Dependencies(layer string) []*Layer {
	var out []*Layer
	for _, in := range l.inputs {
		if in.Layer != layer {
			continue
		}
		if dep := l.Input(in.Name); dep != nil {
			out = append(out, dep)
		}
	}
	return out
}

// Get returns attribute name. Reserved names resolve to coordinates;
// attributes set on l win; anything else is read from the store on first
// access. Multi-element attributes come back as an Accessor.
func (l *Layer) Get(ctx context.Context, name string) (any, error) {
	switch name {
	case "index":
		return l.Index, nil
	case "splits":
		return l.Splits, nil
	case "attempt":
		return l.Attempt, nil
	case "execution":
		return l.Execution, nil
	case "flow":
		return l.Flow, nil
	case "name":
		return l.Name, nil
	}

	if err := ValidateAttributeName(l.Name, name); err != nil {
		return nil, err
	}

	l.mu.Lock()
	if v, ok := l.attrs[name]; ok {
		l.mu.Unlock()
		return v, nil
	}
	if v, ok := l.loaded[name]; ok {
		l.mu.Unlock()
		return v, nil
	}
	l.mu.Unlock()

	if l.runtime == nil {
		return nil, fmt.Errorf("%s.%s: %w", l.Name, name, ErrNoAttribute)
	}
	v, err := l.runtime.Load(ctx, l, name)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.loaded[name] = v
	l.mu.Unlock()
	return v, nil
}

// Set assigns attribute name. It is persisted when the split finishes.
func (l *Layer) Set(name string, v any) error {
	if err := ValidateAttributeName(l.Name, name); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attrs[name] = v
	delete(l.sharded, name)
	return nil
}

// Shard writes values as a multi-element attribute right away, so fan-out
// readers can see the elements before the split finishes. A sharded
// attribute is not persisted again at the end of the split.
func (l *Layer) Shard(ctx context.Context, name string, values []any) error {
	if err := ValidateAttributeName(l.Name, name); err != nil {
		return err
	}
	if l.runtime == nil {
		return fmt.Errorf("%s: shard %q: layer is not bound to a flow", l.Name, name)
	}
	if err := l.runtime.Shard(ctx, l, name, values); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attrs, name)
	delete(l.loaded, name)
	l.sharded[name] = struct{}{}
	return nil
}

// Attributes returns the attributes set on l that still need persisting.
func (l *Layer) Attributes() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return maps.Clone(l.attrs)
}

// Get reads attribute name of l as a T, converting generic decoded values
// (maps, slices, int64) where needed.
func Get[T any](ctx context.Context, l *Layer, name string) (T, error) {
	var zero T
	v, err := l.Get(ctx, name)
	if err != nil {
		return zero, err
	}
	if t, ok := v.(T); ok {
		return t, nil
	}
	if acc, ok := v.(Accessor); ok {
		return zero, fmt.Errorf("%s.%s holds %d elements, use Values", l.Name, name, acc.Len())
	}
	out, err := codec.Convert[T](v)
	if err != nil {
		return zero, fmt.Errorf("%s.%s: %w", l.Name, name, err)
	}
	return out, nil
}

// Values reads attribute name of l as a slice of T. A single value comes
// back as a one-element slice.
func Values[T any](ctx context.Context, l *Layer, name string) ([]T, error) {
	v, err := l.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	acc, ok := v.(Accessor)
	if !ok {
		t, err := codec.Convert[T](v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", l.Name, name, err)
		}
		return []T{t}, nil
	}
	out := make([]T, 0, acc.Len())
	for e, err := range acc.All(ctx) {
		if err != nil {
			return nil, err
		}
		t, err := codec.Convert[T](e)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", l.Name, name, err)
		}
		out = append(out, t)
	}
	return out, nil
}
