package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/petrijr/strata/internal/codec"
)

// Backend is a byte-oriented key/value store addressed by slash separated
// paths. Get returns an error wrapping ErrNotFound for missing paths.
type Backend interface {
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// BlobStore is the durable ArtifactStore. Artifacts are stored as
// gzip-framed deterministic CBOR, archives and records as JSON, all through
// a Backend.
type BlobStore struct {
	backend Backend
}

// Ensure BlobStore implements ArtifactStore.
var _ ArtifactStore = (*BlobStore)(nil)

// NewBlobStore returns an ArtifactStore on top of backend.
func NewBlobStore(backend Backend) *BlobStore {
	return &BlobStore{backend: backend}
}

func (s *BlobStore) WriteArtifact(ctx context.Context, flow string, value any) (Artifact, error) {
	digest, data, err := codec.Digest(value)
	if err != nil {
		return Artifact{}, err
	}
	artifact := Artifact{Hexdigest: digest}
	p := ArtifactPath(flow, digest)

	exists, err := s.backend.Exists(ctx, p)
	if err != nil {
		return Artifact{}, err
	}
	if exists {
		return artifact, nil
	}

	blob, err := codec.Compress(data)
	if err != nil {
		return Artifact{}, err
	}
	if err := s.backend.Put(ctx, p, blob); err != nil {
		return Artifact{}, fmt.Errorf("writing artifact %s: %w", p, err)
	}
	return artifact, nil
}

func (s *BlobStore) ReadArtifact(ctx context.Context, flow string, artifact Artifact) (any, error) {
	p := ArtifactPath(flow, artifact.Hexdigest)
	blob, err := s.backend.Get(ctx, p)
	if err != nil {
		return nil, err
	}
	data, err := codec.Decompress(blob)
	if err != nil {
		return nil, fmt.Errorf("reading artifact %s: %w", p, err)
	}
	return codec.Decode(data)
}

func (s *BlobStore) WriteArchive(ctx context.Context, path string, archive Archive) error {
	if archive.Artifacts == nil {
		archive.Artifacts = []Artifact{}
	}
	return s.putJSON(ctx, path, archive)
}

func (s *BlobStore) ReadArchive(ctx context.Context, path string) (Archive, error) {
	var ar Archive
	err := s.getJSON(ctx, path, &ar)
	return ar, err
}

func (s *BlobStore) WriteRecord(ctx context.Context, path string, record Record) error {
	return s.putJSON(ctx, path, record)
}

func (s *BlobStore) ReadRecord(ctx context.Context, path string) (Record, error) {
	var rec Record
	err := s.getJSON(ctx, path, &rec)
	return rec, err
}

func (s *BlobStore) Exists(ctx context.Context, path string) (bool, error) {
	return s.backend.Exists(ctx, path)
}

func (s *BlobStore) putJSON(ctx context.Context, path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return s.backend.Put(ctx, path, data)
}

func (s *BlobStore) getJSON(ctx context.Context, path string, v any) error {
	data, err := s.backend.Get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
