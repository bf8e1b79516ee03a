package api

import (
	"context"
	"slices"
	"sync"
	"time"
)

// EventType identifies an execution history event.
type EventType string

const (
	EventExecutionStarted   EventType = "execution.started"
	EventExecutionCompleted EventType = "execution.completed"
	EventExecutionFailed    EventType = "execution.failed"

	EventLayerStarted   EventType = "layer.started"
	EventLayerCompleted EventType = "layer.completed"
	EventLayerFailed    EventType = "layer.failed"

	EventSplitStarted   EventType = "split.started"
	EventSplitCompleted EventType = "split.completed"
	EventSplitFailed    EventType = "split.failed"
)

// Event is a minimal append-only history record for audit/debugging.
type Event struct {
	ExecutionID string
	At          time.Time
	Type        EventType

	// Optional context. Split is -1 for execution and layer events.
	Layer   string
	Split   int
	Attempt int

	// Small, human-oriented details (e.g. an error string).
	Detail string
}

// HistoryObserver keeps an in-memory, append-only event history per
// execution.
type HistoryObserver struct {
	mu     sync.Mutex
	events map[string][]Event
	now    func() time.Time
}

var _ Observer = (*HistoryObserver)(nil)

// NewHistoryObserver returns an empty HistoryObserver.
func NewHistoryObserver() *HistoryObserver {
	return &HistoryObserver{events: make(map[string][]Event), now: time.Now}
}

func (h *HistoryObserver) append(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ev.At = h.now()
	h.events[ev.ExecutionID] = append(h.events[ev.ExecutionID], ev)
}

// ListEvents returns all events of an execution in the order they happened.
func (h *HistoryObserver) ListEvents(ctx context.Context, executionID string) ([]Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.events[executionID]), nil
}

// Executed returns the layers with a successful completion event in an
// execution, in completion order.
func (h *HistoryObserver) Executed(executionID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, ev := range h.events[executionID] {
		if ev.Type == EventLayerCompleted {
			out = append(out, ev.Layer)
		}
	}
	return out
}

func (h *HistoryObserver) OnExecutionStart(ctx context.Context, exec Execution) {
	h.append(Event{ExecutionID: exec.ID, Type: EventExecutionStarted, Split: -1})
}

func (h *HistoryObserver) OnExecutionCompleted(ctx context.Context, exec Execution) {
	h.append(Event{ExecutionID: exec.ID, Type: EventExecutionCompleted, Split: -1})
}

func (h *HistoryObserver) OnExecutionFailed(ctx context.Context, exec Execution, err error) {
	h.append(Event{ExecutionID: exec.ID, Type: EventExecutionFailed, Split: -1, Detail: err.Error()})
}

func (h *HistoryObserver) OnLayerStart(ctx context.Context, exec Execution, layer string) {
	h.append(Event{ExecutionID: exec.ID, Type: EventLayerStarted, Layer: layer, Split: -1})
}

func (h *HistoryObserver) OnLayerCompleted(ctx context.Context, exec Execution, layer string, splits int, err error, d time.Duration) {
	ev := Event{ExecutionID: exec.ID, Type: EventLayerCompleted, Layer: layer, Split: -1}
	if err != nil {
		ev.Type = EventLayerFailed
		ev.Detail = err.Error()
	}
	h.append(ev)
}

func (h *HistoryObserver) OnSplitStart(ctx context.Context, c Coordinates) {
	h.append(Event{ExecutionID: c.Execution, Type: EventSplitStarted, Layer: c.Layer, Split: c.Index, Attempt: c.Attempt})
}

func (h *HistoryObserver) OnSplitCompleted(ctx context.Context, c Coordinates, err error, d time.Duration) {
	ev := Event{ExecutionID: c.Execution, Type: EventSplitCompleted, Layer: c.Layer, Split: c.Index, Attempt: c.Attempt}
	if err != nil {
		ev.Type = EventSplitFailed
		ev.Detail = err.Error()
	}
	h.append(ev)
}
