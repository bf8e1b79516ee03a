package taskqueue

import (
	"context"
	"time"

	"github.com/petrijr/strata/pkg/api"
)

// TaskType identifies what the worker should do.
type TaskType string

const (
	// TaskTypeSplit runs one attempt of one split of a layer; the attempt
	// number travels in Coordinates.Attempt.
	TaskTypeSplit TaskType = "split"
)

// Task represents a unit of work for the worker. It carries everything a
// worker needs to bind the split on its side of the boundary.
type Task struct {
	ID   string   `json:"id"`
	Type TaskType `json:"type"`

	Coordinates api.Coordinates    `json:"coordinates"`
	Container   *api.ContainerSpec `json:"container,omitempty"`
	Retry       *api.RetryPolicy   `json:"retry,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`

	// NotBefore is the earliest time this task should be eligible
	// for processing. Retried attempts carry their backoff here. Zero value
	// means "immediately" (i.e., at enqueue time).
	NotBefore time.Time `json:"not_before"`
}

// Queue is a simple async task queue interface.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next task, blocking until one is available
	// or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}
