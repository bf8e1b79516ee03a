// Package api contains the core building blocks of the strata layered
// workflow engine: layer templates and instances, flow and executor
// interfaces, error kinds, retry policies and observers.
//
// Most users interact with the higher-level strata package, which re-exports
// selected types and provides constructors for flows over the various
// stores. The api package is intended for custom executors, custom runtimes
// and contributors extending the engine itself.
//
// # Layers
//
// A Template is the static description of a layer: its "namespace.Class"
// name, its named inputs on upstream layers, a LayerFunc and a
// Configuration. Binding a template to Coordinates (execution, split index,
// split count, attempt) yields a Layer instance. Instances are never shared
// between splits.
//
// Inside a LayerFunc, attributes are read with Layer.Get (or the typed Get
// and Values helpers) and written with Layer.Set and Layer.Shard. Reserved
// names (index, splits, attempt, execution, flow, name) resolve to the
// instance coordinates and cannot be written.
//
// # Fan-out
//
// Configuration.ForEach lists attributes of upstream layers to fan out
// over. The layer runs once per cell of the cartesian product of their
// elements, and each split sees one element in place of the whole
// attribute.
//
// # Observability
//
// The Observer interface receives execution, layer and split lifecycle
// callbacks. LoggingObserver, BasicMetrics and HistoryObserver are
// ready-made implementations that can be combined with
// NewCompositeObserver.
package api
