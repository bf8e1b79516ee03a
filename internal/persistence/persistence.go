package persistence

import (
	"context"
	"errors"
)

// Store layers attribute-level reads and writes, fan-out cache entries and
// split-count records on top of an ArtifactStore. It holds no state of its
// own, so one Store is safely shared by every concurrent split: all writes
// are keyed by (flow, execution, layer, split, attribute).
type Store struct {
	ArtifactStore
}

// NewStore wraps s.
func NewStore(s ArtifactStore) *Store {
	return &Store{ArtifactStore: s}
}

// Write stores each value as an artifact and then the ordered archive for
// the attribute. Artifacts go first so a crash in between leaves unreferenced
// blobs, never an archive pointing at missing ones.
func (s *Store) Write(ctx context.Context, key Key, name string, values []any) (Archive, error) {
	archive := Archive{Artifacts: make([]Artifact, 0, len(values))}
	for _, v := range values {
		a, err := s.WriteArtifact(ctx, key.Flow, v)
		if err != nil {
			return Archive{}, err
		}
		archive.Artifacts = append(archive.Artifacts, a)
	}
	if err := s.WriteArchive(ctx, key.archivePath(name), archive); err != nil {
		return Archive{}, err
	}
	return archive, nil
}

// Read returns the attribute stored for key: the value itself when the
// archive holds one artifact, an *Accessor otherwise.
func (s *Store) Read(ctx context.Context, key Key, name string) (any, error) {
	archive, err := s.ReadArchive(ctx, key.archivePath(name))
	if err != nil {
		return nil, err
	}
	return s.Resolve(ctx, key.Flow, archive)
}

// ReadArchiveAt reads the archive stored for key and attribute.
func (s *Store) ReadArchiveAt(ctx context.Context, key Key, name string) (Archive, error) {
	return s.ReadArchive(ctx, key.archivePath(name))
}

// Resolve turns an archive into a value (one artifact) or an Accessor.
func (s *Store) Resolve(ctx context.Context, flow string, archive Archive) (any, error) {
	if archive.Len() == 1 {
		return s.ReadArtifact(ctx, flow, archive.Artifacts[0])
	}
	return NewAccessor(s.ArtifactStore, flow, archive), nil
}

// ReadCache reads a fan-out cache entry. ok is false when none exists.
func (s *Store) ReadCache(ctx context.Context, flow, execution, layer, name string) (archive Archive, ok bool, err error) {
	archive, err = s.ReadArchive(ctx, CachePath(flow, execution, layer, name))
	if errors.Is(err, ErrNotFound) {
		return Archive{}, false, nil
	}
	if err != nil {
		return Archive{}, false, err
	}
	return archive, true, nil
}

// WriteCache stores a fan-out cache entry. Concurrent writers computing the
// same entry overwrite each other with identical content.
func (s *Store) WriteCache(ctx context.Context, flow, execution, layer, name string, archive Archive) error {
	return s.WriteArchive(ctx, CachePath(flow, execution, layer, name), archive)
}

// Record returns the split-count record of a layer. ok is false when the
// layer has not finished in this execution.
func (s *Store) Record(ctx context.Context, flow, execution, layer string) (rec Record, ok bool, err error) {
	rec, err = s.ReadRecord(ctx, RecordPath(flow, execution, layer))
	if errors.Is(err, ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// PutRecord stores the split-count record of a layer.
func (s *Store) PutRecord(ctx context.Context, execution string, rec Record) error {
	return s.WriteRecord(ctx, RecordPath(rec.Flow.Name, execution, rec.Layer.Name), rec)
}

// HasRecord reports whether the layer has a split-count record.
func (s *Store) HasRecord(ctx context.Context, flow, execution, layer string) (bool, error) {
	return s.Exists(ctx, RecordPath(flow, execution, layer))
}
