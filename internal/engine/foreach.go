package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/petrijr/strata/internal/persistence"
	"github.com/petrijr/strata/pkg/api"
)

// Cell is one grid entry: for every source layer, the element index chosen
// for each fanned-out attribute.
type Cell map[string]map[string]int

// plan is the resolved fan-out of a layer: the archive of each parameter
// and the grid over them.
type plan struct {
	params   []api.Parameter
	archives []persistence.Archive
	grid     []Cell
}

// grid returns the cartesian product over the ForEach parameters of l. The
// last parameter varies fastest, so with sizes m and n cell i*n+j selects
// element i of the first and j of the second. A layer without parameters
// has a single empty cell.
func (f *Flow) grid(ctx context.Context, l *api.Layer) ([]Cell, error) {
	p, err := f.plan(ctx, l)
	if err != nil {
		return nil, err
	}
	return p.grid, nil
}

func (f *Flow) plan(ctx context.Context, l *api.Layer) (*plan, error) {
	params := l.Config.ForEach
	p := &plan{params: params, archives: make([]persistence.Archive, len(params))}

	sizes := make([]int, len(params))
	for k, param := range params {
		var (
			archive persistence.Archive
			err     error
		)
		if param.Index == nil {
			var n int
			n, err = f.layerSplits(ctx, l.Execution, param.Layer)
			if err == nil {
				archive, err = f.join(ctx, l.Execution, param.Layer, param.Attribute, n)
			}
		} else {
			key := persistence.Key{Flow: f.name, Execution: l.Execution, Layer: param.Layer, Index: *param.Index}
			archive, err = f.store.ReadArchiveAt(ctx, key, param.Attribute)
		}
		if err != nil {
			return nil, fmt.Errorf("foreach %s over %s.%s: %w", l.Name, param.Layer, param.Attribute, err)
		}
		p.archives[k] = archive
		sizes[k] = archive.Len()
	}

	total := 1
	for _, n := range sizes {
		total *= n
	}
	p.grid = make([]Cell, 0, total)
	for c := 0; c < total; c++ {
		cell := make(Cell)
		rem := c
		for k := len(params) - 1; k >= 0; k-- {
			param := params[k]
			if cell[param.Layer] == nil {
				cell[param.Layer] = make(map[string]int)
			}
			cell[param.Layer][param.Attribute] = rem % sizes[k]
			rem /= sizes[k]
		}
		p.grid = append(p.grid, cell)
	}
	return p, nil
}

// Splits returns the number of splits l runs as: the count recorded for a
// previous run of the layer in this execution, else the grid size.
func (f *Flow) Splits(ctx context.Context, l *api.Layer) (int, error) {
	rec, ok, err := f.store.Record(ctx, f.name, l.Execution, l.Name)
	if err != nil {
		return 0, err
	}
	if ok {
		return rec.Execution.Splits, nil
	}
	if len(l.Config.ForEach) == 0 {
		return 1, nil
	}
	grid, err := f.grid(ctx, l)
	if err != nil {
		return 0, err
	}
	return len(grid), nil
}

// layerSplits is Splits for a whole-layer instance of layer. A layer that
// is not registered here counts as a single split.
func (f *Flow) layerSplits(ctx context.Context, execution, layer string) (int, error) {
	l, err := f.Layer(ctx, layer, api.Overrides{Execution: execution, Index: api.AllSplits})
	if errors.Is(err, api.ErrUnknownLayer) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return f.Splits(ctx, l)
}

// set binds the element chosen by grid cell l.Index into every input of l
// that reads a fanned-out layer, replacing the attribute with that single
// element. Each input gets its own decoded copy.
func (f *Flow) set(ctx context.Context, l *api.Layer) error {
	if len(l.Config.ForEach) == 0 {
		return nil
	}
	p, err := f.plan(ctx, l)
	if err != nil {
		return err
	}
	if l.Index < 0 || l.Index >= len(p.grid) {
		return api.NewError(api.ErrExecution, l.Name, "split %d outside grid of %d cells", l.Index, len(p.grid))
	}
	cell := p.grid[l.Index]
	for k, param := range p.params {
		deps := l.Dependencies(param.Layer)
		if len(deps) == 0 {
			return api.NewError(api.ErrStructural, l.Name, "foreach layer %s is not bound", param.Layer)
		}
		artifact := p.archives[k].Artifacts[cell[param.Layer][param.Attribute]]
		for _, dep := range deps {
			v, err := f.store.ReadArtifact(ctx, f.name, artifact)
			if err != nil {
				return err
			}
			if err := dep.Set(param.Attribute, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// join returns the combined archive of one attribute across every split of
// layer, in split order. The split count comes from the layer's record,
// falling back to splits, the layer's own grid size, when there is none. Once the layer has a record
// the result is cached and the cache is reused from then on, even if the
// layer later gains splits. Concurrent callers may both write the cache;
// they write the same content.
func (f *Flow) join(ctx context.Context, execution, layer, name string, splits int) (persistence.Archive, error) {
	rec, recorded, err := f.store.Record(ctx, f.name, execution, layer)
	if err != nil {
		return persistence.Archive{}, err
	}
	if recorded {
		cached, ok, err := f.store.ReadCache(ctx, f.name, execution, layer, name)
		if err != nil {
			return persistence.Archive{}, err
		}
		if ok {
			return cached, nil
		}
		splits = rec.Execution.Splits
	}

	var combined persistence.Archive
	for i := 0; i < splits; i++ {
		key := persistence.Key{Flow: f.name, Execution: execution, Layer: layer, Index: i}
		archive, err := f.store.ReadArchiveAt(ctx, key, name)
		if err != nil {
			return persistence.Archive{}, err
		}
		combined.Artifacts = append(combined.Artifacts, archive.Artifacts...)
	}
	if combined.Artifacts == nil {
		combined.Artifacts = []persistence.Artifact{}
	}

	if recorded {
		if err := f.store.WriteCache(ctx, f.name, execution, layer, name, combined); err != nil {
			return persistence.Archive{}, err
		}
	}
	return combined, nil
}
