// Package strata provides an embeddable engine for layered workflows in Go.
//
// A workflow is a directed graph of layers. Each layer reads the outputs of
// the layers it names as inputs and publishes its own outputs as attributes.
// Every attribute value is persisted as a content-addressed artifact, so
// later layers, resumed executions and fan-out reads load them lazily.
//
// # Core Concepts
//
//  1. Flow
//  2. Template and Layer
//  3. Executor
//  4. Artifact store
//  5. FlowBuilder
//  6. LocalRunner
//
// # Flow
//
// A Flow is a named registry of templates and the composition root that runs
// them. Run starts a new execution (or continues one), Finished reports the
// layers of an execution that completed, and Resume re-runs an execution
// while skipping every completed layer.
//
// Flows differ only in where artifacts live:
//
//   - In-memory (non-durable, best for tests)
//   - Files below a root directory
//   - SQLite
//   - Postgres
//   - Redis
//   - MongoDB
//
// # Template and Layer
//
// A Template names a layer ("namespace.Class"), its ordered inputs, the
// function it runs and its Configuration. At run time the flow materializes
// one Layer instance per split:
//
//	func parse(ctx context.Context, l *strata.Layer) error {
//	    raw, err := strata.Get[string](ctx, l.Input("raw"), "body")
//	    if err != nil {
//	        return err
//	    }
//	    return l.Set("rows", strings.Split(raw, "\n"))
//	}
//
// Attributes written with Set are persisted when the split returns.
// Layer.Shard writes a sequence attribute immediately, one artifact per
// element, which downstream layers can fan out over.
//
// # Fan-out
//
// A layer configured with ForEach parameters runs once per cell of the
// cartesian product of the named upstream attributes, the last parameter
// varying fastest. Inside a split the dependency attribute resolves to the
// element selected for that cell. Reading an attribute of a layer with many
// splits joins them; results with more than one element come back as an
// Accessor that reads elements on demand.
//
// # Executor
//
// The default Local executor runs splits as goroutines. A queue executor
// enqueues one task per split and processes them with a worker pool; with a
// durable queue it requires a durable store. Both retry failing splits
// according to the template's RetryPolicy.
//
// # LocalRunner
//
// LocalRunner bundles an in-memory flow with a queue executor and runs
// executions in the background. It is not crash-durable.
//
// # Configuration
//
// Open builds a Flow from a Config, usually loaded from YAML with
// LoadConfig, and owns the database clients it opens.
//
// For examples, see the /examples directory.
package strata
