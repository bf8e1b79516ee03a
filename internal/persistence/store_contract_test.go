package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testArtifactStore exercises the behavior every ArtifactStore must share.
// flow isolates the run from other data in a shared backend.
func testArtifactStore(t *testing.T, s ArtifactStore, flow string) {
	ctx := context.Background()

	t.Run("artifacts are content addressed", func(t *testing.T) {
		value := map[string]any{"a": int64(1), "b": "x"}
		a1, err := s.WriteArtifact(ctx, flow, value)
		require.NoError(t, err)
		a2, err := s.WriteArtifact(ctx, flow, map[string]any{"b": "x", "a": int64(1)})
		require.NoError(t, err)
		assert.Equal(t, a1, a2, "equal values must hash equally")
		assert.Len(t, a1.Hexdigest, 64)

		other, err := s.WriteArtifact(ctx, flow, "something else")
		require.NoError(t, err)
		assert.NotEqual(t, a1.Hexdigest, other.Hexdigest)

		got, err := s.ReadArtifact(ctx, flow, a1)
		require.NoError(t, err)
		assert.Equal(t, value, got)

		ok, err := s.Exists(ctx, ArtifactPath(flow, a1.Hexdigest))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("missing artifact", func(t *testing.T) {
		_, err := s.ReadArtifact(ctx, flow, Artifact{Hexdigest: "00"})
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("archives", func(t *testing.T) {
		p := ArchivePath(flow, "e1", "ns.A", 0, "items")
		_, err := s.ReadArchive(ctx, p)
		require.ErrorIs(t, err, ErrNotFound)

		want := Archive{Artifacts: []Artifact{{Hexdigest: "aa"}, {Hexdigest: "bb"}}}
		require.NoError(t, s.WriteArchive(ctx, p, want))
		got, err := s.ReadArchive(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		// Overwrites replace the archive.
		require.NoError(t, s.WriteArchive(ctx, p, Archive{Artifacts: []Artifact{{Hexdigest: "cc"}}}))
		got, err = s.ReadArchive(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Len())
	})

	t.Run("empty archive", func(t *testing.T) {
		p := ArchivePath(flow, "e1", "ns.A", 0, "empty")
		require.NoError(t, s.WriteArchive(ctx, p, Archive{}))
		got, err := s.ReadArchive(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, 0, got.Len())
	})

	t.Run("records", func(t *testing.T) {
		p := RecordPath(flow, "e1", "ns.A")
		ok, err := s.Exists(ctx, p)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.WriteRecord(ctx, p, NewRecord(flow, "ns.A", 3)))
		rec, err := s.ReadRecord(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, flow, rec.Flow.Name)
		assert.Equal(t, "ns.A", rec.Layer.Name)
		assert.Equal(t, 3, rec.Execution.Splits)

		ok, err = s.Exists(ctx, p)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
