package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the scheduler and executors for logging
// and metrics.
//
// Implementations should be fast and non-blocking. Split callbacks arrive
// concurrently from executor goroutines.
type Observer interface {
	// OnExecutionStart is called once before the first layer is dispatched.
	OnExecutionStart(ctx context.Context, exec Execution)

	// OnExecutionCompleted is called when every layer has finished.
	OnExecutionCompleted(ctx context.Context, exec Execution)

	// OnExecutionFailed is called when scheduling aborts.
	OnExecutionFailed(ctx context.Context, exec Execution, err error)

	// OnLayerStart is called when a layer is submitted to the executor.
	OnLayerStart(ctx context.Context, exec Execution, layer string)

	// OnLayerCompleted is called when a submission returns, for both
	// successes and failures (err != nil).
	OnLayerCompleted(ctx context.Context, exec Execution, layer string, splits int, err error, duration time.Duration)

	// OnSplitStart is called before each split attempt runs.
	OnSplitStart(ctx context.Context, c Coordinates)

	// OnSplitCompleted is called after each split attempt.
	OnSplitCompleted(ctx context.Context, c Coordinates, err error, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnExecutionStart(ctx context.Context, exec Execution)                {}
func (NoopObserver) OnExecutionCompleted(ctx context.Context, exec Execution)            {}
func (NoopObserver) OnExecutionFailed(ctx context.Context, exec Execution, err error)    {}
func (NoopObserver) OnLayerStart(ctx context.Context, exec Execution, layer string)      {}
func (NoopObserver) OnSplitStart(ctx context.Context, c Coordinates)                     {}
func (NoopObserver) OnSplitCompleted(ctx context.Context, c Coordinates, err error, d time.Duration) {
}
func (NoopObserver) OnLayerCompleted(ctx context.Context, exec Execution, layer string, splits int, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnExecutionStart(ctx context.Context, exec Execution) {
	for _, o := range c.observers {
		o.OnExecutionStart(ctx, exec)
	}
}

func (c *CompositeObserver) OnExecutionCompleted(ctx context.Context, exec Execution) {
	for _, o := range c.observers {
		o.OnExecutionCompleted(ctx, exec)
	}
}

func (c *CompositeObserver) OnExecutionFailed(ctx context.Context, exec Execution, err error) {
	for _, o := range c.observers {
		o.OnExecutionFailed(ctx, exec, err)
	}
}

func (c *CompositeObserver) OnLayerStart(ctx context.Context, exec Execution, layer string) {
	for _, o := range c.observers {
		o.OnLayerStart(ctx, exec, layer)
	}
}

func (c *CompositeObserver) OnLayerCompleted(ctx context.Context, exec Execution, layer string, splits int, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnLayerCompleted(ctx, exec, layer, splits, err, d)
	}
}

func (c *CompositeObserver) OnSplitStart(ctx context.Context, coords Coordinates) {
	for _, o := range c.observers {
		o.OnSplitStart(ctx, coords)
	}
}

func (c *CompositeObserver) OnSplitCompleted(ctx context.Context, coords Coordinates, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnSplitCompleted(ctx, coords, err, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs execution, layer and
// split lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnExecutionStart(ctx context.Context, exec Execution) {
	o.Logger.InfoContext(ctx, "execution_start",
		slog.String("flow", exec.Flow),
		slog.String("execution", exec.ID),
	)
}

func (o *LoggingObserver) OnExecutionCompleted(ctx context.Context, exec Execution) {
	o.Logger.InfoContext(ctx, "execution_completed",
		slog.String("flow", exec.Flow),
		slog.String("execution", exec.ID),
	)
}

func (o *LoggingObserver) OnExecutionFailed(ctx context.Context, exec Execution, err error) {
	o.Logger.ErrorContext(ctx, "execution_failed",
		slog.String("flow", exec.Flow),
		slog.String("execution", exec.ID),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnLayerStart(ctx context.Context, exec Execution, layer string) {
	o.Logger.InfoContext(ctx, "layer_start",
		slog.String("flow", exec.Flow),
		slog.String("execution", exec.ID),
		slog.String("layer", layer),
	)
}

func (o *LoggingObserver) OnLayerCompleted(ctx context.Context, exec Execution, layer string, splits int, err error, d time.Duration) {
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "layer_completed",
		slog.String("flow", exec.Flow),
		slog.String("execution", exec.ID),
		slog.String("layer", layer),
		slog.Int("splits", splits),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnSplitStart(ctx context.Context, c Coordinates) {
	o.Logger.DebugContext(ctx, "split_start",
		slog.String("execution", c.Execution),
		slog.String("layer", c.Layer),
		slog.Int("index", c.Index),
		slog.Int("splits", c.Splits),
		slog.Int("attempt", c.Attempt),
	)
}

func (o *LoggingObserver) OnSplitCompleted(ctx context.Context, c Coordinates, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelWarn
	}
	o.Logger.Log(ctx, level, "split_completed",
		slog.String("execution", c.Execution),
		slog.String("layer", c.Layer),
		slog.Int("index", c.Index),
		slog.Int("attempt", c.Attempt),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate split durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	executionsStarted   atomic.Int64
	executionsCompleted atomic.Int64
	executionsFailed    atomic.Int64
	layersCompleted     atomic.Int64
	splitsCompleted     atomic.Int64
	splitsFailed        atomic.Int64
	totalSplitDuration  atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	ExecutionsStarted   int64
	ExecutionsCompleted int64
	ExecutionsFailed    int64
	PendingExecutions   int64

	LayersCompleted  int64
	SplitsCompleted  int64
	SplitsFailed     int64
	AvgSplitDuration time.Duration
}

func (m *BasicMetrics) OnExecutionStart(ctx context.Context, exec Execution) {
	m.executionsStarted.Add(1)
}

func (m *BasicMetrics) OnExecutionCompleted(ctx context.Context, exec Execution) {
	m.executionsCompleted.Add(1)
}

func (m *BasicMetrics) OnExecutionFailed(ctx context.Context, exec Execution, err error) {
	m.executionsFailed.Add(1)
}

func (m *BasicMetrics) OnLayerCompleted(ctx context.Context, exec Execution, layer string, splits int, err error, d time.Duration) {
	if err == nil {
		m.layersCompleted.Add(1)
	}
}

func (m *BasicMetrics) OnSplitCompleted(ctx context.Context, c Coordinates, err error, d time.Duration) {
	// Only successful attempts count towards the average.
	if err != nil {
		m.splitsFailed.Add(1)
		return
	}
	m.splitsCompleted.Add(1)
	m.totalSplitDuration.Add(d.Nanoseconds())
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.executionsStarted.Load()
	completed := m.executionsCompleted.Load()
	failed := m.executionsFailed.Load()
	splits := m.splitsCompleted.Load()
	totalNs := m.totalSplitDuration.Load()

	var avg time.Duration
	if splits > 0 {
		avg = time.Duration(totalNs / splits)
	}

	return BasicMetricsSnapshot{
		ExecutionsStarted:   started,
		ExecutionsCompleted: completed,
		ExecutionsFailed:    failed,
		PendingExecutions:   started - completed - failed,
		LayersCompleted:     m.layersCompleted.Load(),
		SplitsCompleted:     splits,
		SplitsFailed:        m.splitsFailed.Load(),
		AvgSplitDuration:    avg,
	}
}
