package persistence

import (
	"context"
	"errors"
	"path"
	"strconv"
)

var (
	// ErrNotFound is returned when an archive, artifact or record does not
	// exist at the requested path.
	ErrNotFound = errors.New("not found")

	// ErrOutOfRange is returned by Accessor reads beyond the archive length.
	ErrOutOfRange = errors.New("index out of range")
)

// Artifact references one content-addressed blob.
type Artifact struct {
	Hexdigest string `json:"hexdigest"`
}

// Archive is the ordered list of artifacts stored for one
// (flow, execution, layer, split, attribute).
type Archive struct {
	Artifacts []Artifact `json:"artifacts"`
}

// Len returns the number of artifacts in the archive.
func (a Archive) Len() int { return len(a.Artifacts) }

// Record caches the realized split count of a layer within an execution.
type Record struct {
	Flow      RecordFlow      `json:"flow"`
	Layer     RecordLayer     `json:"layer"`
	Execution RecordExecution `json:"execution"`
}

type RecordFlow struct {
	Name string `json:"name"`
}

type RecordLayer struct {
	Name string `json:"name"`
}

type RecordExecution struct {
	Splits int `json:"splits"`
}

// NewRecord builds a Record for the given flow and layer.
func NewRecord(flow, layer string, splits int) Record {
	return Record{
		Flow:      RecordFlow{Name: flow},
		Layer:     RecordLayer{Name: layer},
		Execution: RecordExecution{Splits: splits},
	}
}

// ArtifactStore is the primitive surface every store variant implements.
//
// Paths are slash separated and built with the helpers below; artifacts are
// addressed by flow and content hash only.
type ArtifactStore interface {
	// WriteArtifact serializes value, hashes the bytes and stores the blob
	// unless a blob with that hash already exists.
	WriteArtifact(ctx context.Context, flow string, value any) (Artifact, error)
	ReadArtifact(ctx context.Context, flow string, artifact Artifact) (any, error)

	WriteArchive(ctx context.Context, path string, archive Archive) error
	ReadArchive(ctx context.Context, path string) (Archive, error)

	WriteRecord(ctx context.Context, path string, record Record) error
	ReadRecord(ctx context.Context, path string) (Record, error)

	Exists(ctx context.Context, path string) (bool, error)
}

// Key identifies one split of one layer within an execution.
type Key struct {
	Flow      string
	Execution string
	Layer     string
	Index     int
}

// ArchivePath returns <flow>/archives/<execution>/<layer>/<split>/<attribute>.json.
func ArchivePath(flow, execution, layer string, index int, attribute string) string {
	return path.Join(flow, "archives", execution, layer, strconv.Itoa(index), attribute+".json")
}

// ArtifactPath returns <flow>/artifacts/<hash>.gz.
func ArtifactPath(flow, hexdigest string) string {
	return path.Join(flow, "artifacts", hexdigest+".gz")
}

// CachePath returns <flow>/.cache/<execution>/<layer>/<attribute>.json.
func CachePath(flow, execution, layer, attribute string) string {
	return path.Join(flow, ".cache", execution, layer, attribute+".json")
}

// RecordPath returns <flow>/.cache/<execution>/<layer>/.record.json.
func RecordPath(flow, execution, layer string) string {
	return path.Join(flow, ".cache", execution, layer, ".record.json")
}

func (k Key) archivePath(attribute string) string {
	return ArchivePath(k.Flow, k.Execution, k.Layer, k.Index, attribute)
}
