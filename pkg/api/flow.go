package api

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/oklog/ulid/v2"
)

// LayerFunc is the behavior of a layer. It reads its inputs through
// l.Input(name).Get and publishes results with l.Set or l.Shard.
type LayerFunc func(ctx context.Context, l *Layer) error

// Input binds a positional input name to the upstream layer it reads from.
type Input struct {
	Name  string
	Layer string
}

// Parameter fans a layer out over one attribute of an upstream layer.
// With Index unset every element of every split of the source takes part;
// with Index set only that source split is used.
type Parameter struct {
	Layer     string `json:"layer" yaml:"layer"`
	Attribute string `json:"attribute" yaml:"attribute"`
	Index     *int   `json:"index,omitempty" yaml:"index,omitempty"`
}

// ContainerSpec carries resource limits for isolated-process strategies.
// It travels with every split task; in-process executors ignore it.
type ContainerSpec struct {
	Image   string  `json:"image,omitempty" yaml:"image"`
	CPU     float64 `json:"cpu,omitempty" yaml:"cpu"`
	Memory  string  `json:"memory,omitempty" yaml:"memory"`
	WorkDir string  `json:"workdir,omitempty" yaml:"workdir"`
}

// Configuration is the per-layer execution policy. The zero value runs the
// layer once, without fan-out or retries.
type Configuration struct {
	Container *ContainerSpec
	ForEach   []Parameter
	Retry     *RetryPolicy
}

// Template is a registered layer definition. Templates are never mutated
// after registration; runtime instances are materialized from them.
type Template struct {
	// Name has the form "namespace.Class".
	Name string
	// Inputs are the upstream layers in positional order.
	Inputs []Input
	Run    LayerFunc
	Config Configuration
}

// Coordinates bind a template to one split of one execution. They are the
// only state that crosses the worker boundary.
type Coordinates struct {
	Execution string `json:"execution"`
	Flow      string `json:"flow"`
	Layer     string `json:"layer"`
	Index     int    `json:"index"`
	Splits    int    `json:"splits"`
	Attempt   int    `json:"attempt"`
}

func (c Coordinates) String() string {
	return fmt.Sprintf("%s/%s/%s[%d/%d]#%d", c.Flow, c.Execution, c.Layer, c.Index, c.Splits, c.Attempt)
}

// Execution is one run of a flow.
type Execution struct {
	ID   string
	Flow string
}

// NewExecution returns an Execution with a fresh, lexically sortable id.
func NewExecution(flow string) Execution {
	return Execution{ID: ulid.Make().String(), Flow: flow}
}

// Overrides are the runtime coordinates applied to a materialized layer.
type Overrides struct {
	Execution string
	Index     int
	Splits    int
	Attempt   int
}

// RunOptions control Flow.Run. An empty ExecutionID starts a new execution;
// Finished lists layers that already succeeded in that execution.
type RunOptions struct {
	ExecutionID string
	Finished    []string
}

// Runtime is the flow-side machinery a layer instance and an Executor call
// into. It is implemented by the engine's Flow.
type Runtime interface {
	// Name returns the flow name.
	Name() string
	// Splits returns the number of splits the layer runs as.
	Splits(ctx context.Context, l *Layer) (int, error)
	// Execute runs one split attempt and persists its attributes.
	Execute(ctx context.Context, c Coordinates) error
	// WriteRecord stores the realized split count of l.
	WriteRecord(ctx context.Context, l *Layer) error
	// Load reads an attribute of l from the store.
	Load(ctx context.Context, l *Layer, name string) (any, error)
	// Shard writes a sequence attribute of l immediately.
	Shard(ctx context.Context, l *Layer, name string, values []any) error
}

// Executor runs every split of a layer and returns once all have finished.
type Executor interface {
	Submit(ctx context.Context, l *Layer) (*Layer, error)
}

// Flow is a named registry of layer templates and the composition root for
// running them.
type Flow interface {
	Name() string
	Register(t Template) error
	Layer(ctx context.Context, name string, o Overrides) (*Layer, error)
	// Dependencies maps each layer to the layers it reads from.
	Dependencies() map[string][]string
	// Dependents maps each layer to the layers reading from it.
	Dependents() map[string][]string
	Run(ctx context.Context, opts RunOptions) (Execution, error)
	// Finished lists the layers of an execution that have a record.
	Finished(ctx context.Context, executionID string) ([]string, error)
	// Resume re-runs an execution, skipping every finished layer.
	Resume(ctx context.Context, executionID string) (Execution, error)
}

// Accessor is a lazy view over a multi-element attribute. Reads go to the
// store on every call.
type Accessor interface {
	Len() int
	At(ctx context.Context, i int) (any, error)
	Slice(ctx context.Context, i, j int) ([]any, error)
	All(ctx context.Context) iter.Seq2[any, error]
}

// ValidateLayerName checks the "namespace.Class" form of a layer name.
func ValidateLayerName(name string) error {
	ns, class, ok := strings.Cut(name, ".")
	if !ok || ns == "" {
		return NewError(ErrLayerDefinition, name, "name must have the form namespace.Class")
	}
	if !alphanumeric(ns) {
		return NewError(ErrLayerDefinition, name, "namespace %q is not alphanumeric", ns)
	}
	if class == "" || !identifier(class) {
		return NewError(ErrStructural, name, "invalid layer name")
	}
	return nil
}

// ValidateFlowName checks that a flow name is usable as a path segment.
func ValidateFlowName(name string) error {
	if name == "" || !identifier(name) {
		return NewError(ErrStructural, "", "invalid flow name %q", name)
	}
	return nil
}

// ValidateAttributeName checks that an attribute name of layer is usable
// as a path segment and is not reserved.
func ValidateAttributeName(layer, name string) error {
	if name == "" || !identifier(name) {
		return NewError(ErrLayerDefinition, layer, "invalid attribute name %q", name)
	}
	if IsReserved(name) {
		return NewError(ErrLayerDefinition, layer, "attribute %q is reserved", name)
	}
	return nil
}

func alphanumeric(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

func identifier(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-') {
			return false
		}
	}
	return true
}
