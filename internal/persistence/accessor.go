package persistence

import (
	"context"
	"fmt"
	"iter"

	"github.com/petrijr/strata/pkg/api"
)

var _ api.Accessor = (*Accessor)(nil)

// Accessor is a lazy view over a multi-artifact archive. Every read goes to
// the store; nothing is cached between calls.
type Accessor struct {
	store   ArtifactStore
	flow    string
	archive Archive
}

// NewAccessor returns an Accessor over archive, resolving artifacts in flow.
func NewAccessor(store ArtifactStore, flow string, archive Archive) *Accessor {
	return &Accessor{store: store, flow: flow, archive: archive}
}

// Len returns the number of elements.
func (a *Accessor) Len() int {
	return a.archive.Len()
}

// Archive returns a copy of the underlying archive.
func (a *Accessor) Archive() Archive {
	return Archive{Artifacts: append([]Artifact(nil), a.archive.Artifacts...)}
}

// At reads element i.
func (a *Accessor) At(ctx context.Context, i int) (any, error) {
	if i < 0 || i >= a.Len() {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfRange, i, a.Len())
	}
	return a.store.ReadArtifact(ctx, a.flow, a.archive.Artifacts[i])
}

// Slice reads elements [i, j) in archive order.
func (a *Accessor) Slice(ctx context.Context, i, j int) ([]any, error) {
	if i < 0 || j > a.Len() || i > j {
		return nil, fmt.Errorf("%w: [%d, %d) not within [0, %d)", ErrOutOfRange, i, j, a.Len())
	}
	out := make([]any, 0, j-i)
	for k := i; k < j; k++ {
		v, err := a.store.ReadArtifact(ctx, a.flow, a.archive.Artifacts[k])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// All iterates the elements lazily, reading one artifact per step. Each call
// starts a fresh pass over the store. Iteration stops after the first error.
func (a *Accessor) All(ctx context.Context) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for _, artifact := range a.archive.Artifacts {
			v, err := a.store.ReadArtifact(ctx, a.flow, artifact)
			if !yield(v, err) || err != nil {
				return
			}
		}
	}
}
