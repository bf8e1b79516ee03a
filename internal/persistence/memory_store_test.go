package persistence

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/strata/internal/codec"
)

func TestMemoryStore_Contract(t *testing.T) {
	testArtifactStore(t, NewMemoryStore(), "demo")
}

func TestMemoryStore_HashMatchesDurableEncoding(t *testing.T) {
	ctx := context.Background()
	value := []any{"x", int64(2)}

	a, err := NewMemoryStore().WriteArtifact(ctx, "demo", value)
	require.NoError(t, err)

	digest, _, err := codec.Digest(value)
	require.NoError(t, err)
	require.Equal(t, digest, a.Hexdigest)

	b, err := NewBlobStore(newTestFileBackend(t)).WriteArtifact(ctx, "demo", value)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestMemoryStore_ConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := s.WriteArtifact(ctx, "demo", i%4)
			if err != nil {
				t.Errorf("WriteArtifact: %v", err)
				return
			}
			p := ArchivePath("demo", "e1", "ns.A", i, "v")
			if err := s.WriteArchive(ctx, p, Archive{Artifacts: []Artifact{a}}); err != nil {
				t.Errorf("WriteArchive: %v", err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 32; i++ {
		ar, err := s.ReadArchive(ctx, ArchivePath("demo", "e1", "ns.A", i, "v"))
		require.NoError(t, err)
		v, err := s.ReadArtifact(ctx, "demo", ar.Artifacts[0])
		require.NoError(t, err)
		require.Equal(t, int64(i%4), v)
	}
}

func TestMemoryStore_ReadsDecodedCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first := map[string]any{"n": 1, "tags": []any{"a"}}
	a, err := s.WriteArtifact(ctx, "demo", first)
	require.NoError(t, err)
	// Same encoding, different Go types.
	b, err := s.WriteArtifact(ctx, "demo", map[string]any{"n": int64(1), "tags": []string{"a"}})
	require.NoError(t, err)
	require.Equal(t, a, b)

	want := map[string]any{"n": int64(1), "tags": []any{"a"}}
	got, err := s.ReadArtifact(ctx, "demo", a)
	require.NoError(t, err)
	require.Equal(t, want, got)

	got.(map[string]any)["n"] = int64(99)
	first["n"] = 42
	again, err := s.ReadArtifact(ctx, "demo", a)
	require.NoError(t, err)
	require.Equal(t, want, again)
}
