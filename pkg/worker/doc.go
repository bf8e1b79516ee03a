// Package worker executes split tasks taken from a task queue.
//
// A task carries the runtime coordinates of one split (execution, flow,
// layer, split index and count) plus the layer's container spec and retry
// policy. The worker binds the split against its flow runtime, runs it and
// retries failed attempts with exponential backoff. Pool runs a worker in a
// fixed number of goroutines.
//
// Workers are decoupled from any particular backend: in-memory, SQLite and
// Redis queues all satisfy taskqueue.Queue, and the flow runtime reads and
// writes through whatever artifact store it was built with.
package worker
