package api

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Match with errors.Is; every *Error unwraps to its kind and,
// for cycles and unknown layers, to ErrStructural as well.
var (
	// ErrStructural reports an invalid flow graph: bad or duplicate names,
	// cycles and references to unregistered layers.
	ErrStructural = errors.New("structural error")
	// ErrCycle reports a dependency cycle detected before any dispatch.
	ErrCycle = errors.New("dependency cycle")
	// ErrUnknownLayer reports a lookup of a layer that is not registered.
	ErrUnknownLayer = errors.New("unknown layer")
	// ErrStuck reports pending layers with nothing runnable and nothing in flight.
	ErrStuck = errors.New("scheduler stuck")
	// ErrExecution reports a split that failed after exhausting its retries.
	ErrExecution = errors.New("execution failed")
	// ErrLayerDefinition reports invalid namespace metadata on a template.
	ErrLayerDefinition = errors.New("invalid layer definition")
)

// Error carries the kind of a failure together with the layer and split it
// happened in.
type Error struct {
	Kind  error
	Layer string
	// Split is the split index, or -1 when the error concerns the whole layer.
	Split   int
	Attempt int
	Msg     string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Layer != "" {
		fmt.Fprintf(&b, ": layer %s", e.Layer)
		if e.Split >= 0 {
			fmt.Fprintf(&b, " split %d", e.Split)
			if e.Attempt > 0 {
				fmt.Fprintf(&b, " attempt %d", e.Attempt)
			}
		}
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	out := []error{e.Kind}
	if e.Kind == ErrCycle || e.Kind == ErrUnknownLayer {
		out = append(out, ErrStructural)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// NewError returns an *Error of the given kind for a whole layer.
func NewError(kind error, layer, format string, args ...any) *Error {
	return &Error{Kind: kind, Layer: layer, Split: -1, Msg: fmt.Sprintf(format, args...)}
}

// SplitError wraps err as an ErrExecution for one split attempt.
func SplitError(c Coordinates, err error) *Error {
	return &Error{Kind: ErrExecution, Layer: c.Layer, Split: c.Index, Attempt: c.Attempt, Err: err}
}
