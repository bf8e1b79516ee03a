package persistence

import (
	"context"
	"fmt"
	"sync"

	"github.com/petrijr/strata/internal/codec"
)

// MemoryStore is a goroutine-safe ArtifactStore backed by maps.
//
// Artifacts are kept as their deterministic encoding and decoded on every
// read, so readers get the same generic shapes as from the durable variants
// and never share a value with the writer or with each other.
type MemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string][]byte
	archives  map[string]Archive
	records   map[string]Record
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		artifacts: make(map[string][]byte),
		archives:  make(map[string]Archive),
		records:   make(map[string]Record),
	}
}

// Ensure MemoryStore implements ArtifactStore.
var _ ArtifactStore = (*MemoryStore)(nil)

func (s *MemoryStore) WriteArtifact(ctx context.Context, flow string, value any) (Artifact, error) {
	digest, data, err := codec.Digest(value)
	if err != nil {
		return Artifact{}, err
	}
	p := ArtifactPath(flow, digest)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.artifacts[p]; !ok {
		s.artifacts[p] = data
	}
	return Artifact{Hexdigest: digest}, nil
}

func (s *MemoryStore) ReadArtifact(ctx context.Context, flow string, artifact Artifact) (any, error) {
	p := ArtifactPath(flow, artifact.Hexdigest)

	s.mu.RLock()
	data, ok := s.artifacts[p]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return codec.Decode(data)
}

func (s *MemoryStore) WriteArchive(ctx context.Context, path string, archive Archive) error {
	cp := Archive{Artifacts: append([]Artifact(nil), archive.Artifacts...)}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.archives[path] = cp
	return nil
}

func (s *MemoryStore) ReadArchive(ctx context.Context, path string) (Archive, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ar, ok := s.archives[path]
	if !ok {
		return Archive{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return Archive{Artifacts: append([]Artifact(nil), ar.Artifacts...)}, nil
}

func (s *MemoryStore) WriteRecord(ctx context.Context, path string, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[path] = record
	return nil
}

func (s *MemoryStore) ReadRecord(ctx context.Context, path string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[path]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return rec, nil
}

func (s *MemoryStore) Exists(ctx context.Context, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.artifacts[path]; ok {
		return true, nil
	}
	if _, ok := s.archives[path]; ok {
		return true, nil
	}
	_, ok := s.records[path]
	return ok, nil
}
