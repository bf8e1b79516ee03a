package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/petrijr/strata/pkg/api"
)

// Execute runs one split attempt: it binds whole-layer instances of every
// upstream layer, resolves the fan-out parameters of the split, invokes the
// layer and persists each attribute it set as a single-element archive.
// Attributes written with Shard are already persisted and are skipped.
func (f *Flow) Execute(ctx context.Context, c api.Coordinates) error {
	if c.Flow != "" && c.Flow != f.name {
		return api.NewError(api.ErrStructural, c.Layer, "coordinates for flow %s sent to flow %s", c.Flow, f.name)
	}
	t, err := f.Template(c.Layer)
	if err != nil {
		return err
	}
	c.Flow = f.name
	l := api.NewLayer(t, c, f)

	for _, in := range t.Inputs {
		dep, err := f.Layer(ctx, in.Layer, api.Overrides{Execution: c.Execution, Index: api.AllSplits})
		if err != nil {
			return err
		}
		l.Bind(in.Name, dep)
	}

	if err := f.set(ctx, l); err != nil {
		return err
	}

	if err := l.Call(ctx); err != nil {
		return err
	}

	attrs := l.Attributes()
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if _, err := f.store.Write(ctx, keyOf(l), name, []any{attrs[name]}); err != nil {
			return fmt.Errorf("persist %s.%s: %w", l.Name, name, err)
		}
	}
	return nil
}
