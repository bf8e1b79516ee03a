package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/petrijr/strata/internal/codec"
)

func newTestFileBackend(t *testing.T) *FileBackend {
	t.Helper()
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	return b
}

func newTestSQLiteBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// Every connection to :memory: is its own database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	b, err := NewSQLiteBackend(db)
	require.NoError(t, err)
	return b
}

func TestBlobStore_FileContract(t *testing.T) {
	testArtifactStore(t, NewBlobStore(newTestFileBackend(t)), "demo")
}

func TestBlobStore_SQLiteContract(t *testing.T) {
	testArtifactStore(t, NewBlobStore(newTestSQLiteBackend(t)), "demo")
}

func TestBlobStore_FileLayout(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	backend, err := NewFileBackend(root)
	require.NoError(t, err)
	s := NewStore(NewBlobStore(backend))

	key := Key{Flow: "demo", Execution: "e1", Layer: "ns.A", Index: 0}
	archive, err := s.Write(ctx, key, "foo", []any{"bar"})
	require.NoError(t, err)
	require.Equal(t, 1, archive.Len())

	// Archives are plain JSON.
	raw, err := os.ReadFile(filepath.Join(root, "demo", "archives", "e1", "ns.A", "0", "foo.json"))
	require.NoError(t, err)
	var onDisk Archive
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.Equal(t, archive, onDisk)

	// Artifacts are gzip framed deterministic CBOR named by their hash.
	blob, err := os.ReadFile(filepath.Join(root, "demo", "artifacts", archive.Artifacts[0].Hexdigest+".gz"))
	require.NoError(t, err)
	data, err := codec.Decompress(blob)
	require.NoError(t, err)
	v, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "bar", v)

	require.NoError(t, s.PutRecord(ctx, "e1", NewRecord("demo", "ns.A", 1)))
	_, err = os.Stat(filepath.Join(root, "demo", ".cache", "e1", "ns.A", ".record.json"))
	require.NoError(t, err)
}

func TestBlobStore_DecodesGenericShapes(t *testing.T) {
	ctx := context.Background()
	s := NewBlobStore(newTestSQLiteBackend(t))

	type pair struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	a, err := s.WriteArtifact(ctx, "demo", pair{Name: "x", Count: 3})
	require.NoError(t, err)

	v, err := s.ReadArtifact(ctx, "demo", a)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "x", "count": int64(3)}, v)

	p, err := codec.Convert[pair](v)
	require.NoError(t, err)
	assert.Equal(t, pair{Name: "x", Count: 3}, p)
}

func TestFileBackend_RequiresRoot(t *testing.T) {
	_, err := NewFileBackend("")
	require.Error(t, err)
}

func TestFileBackend_RejectsPathsOutsideRoot(t *testing.T) {
	ctx := context.Background()
	parent := t.TempDir()
	b, err := NewFileBackend(filepath.Join(parent, "store"))
	require.NoError(t, err)

	escaping := ArchivePath("demo", "e1", "ns.A", 0, "../../../../../../escaped")
	require.Error(t, b.Put(ctx, escaping, []byte("{}")))
	_, err = b.Get(ctx, escaping)
	require.Error(t, err)
	_, err = b.Exists(ctx, escaping)
	require.Error(t, err)

	_, err = os.Stat(filepath.Join(parent, "escaped.json"))
	require.True(t, os.IsNotExist(err), "nothing may be written outside the root")
}
