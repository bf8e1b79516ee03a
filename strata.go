package strata

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/strata/internal/config"
	"github.com/petrijr/strata/internal/engine"
	"github.com/petrijr/strata/internal/persistence"
	"github.com/petrijr/strata/pkg/api"
	"github.com/petrijr/strata/pkg/executor"
)

// Re-export core types from pkg/api so users can just import "strata".
type (
	Flow          = engine.Flow
	Template      = api.Template
	Input         = api.Input
	Parameter     = api.Parameter
	Configuration = api.Configuration
	ContainerSpec = api.ContainerSpec
	RetryPolicy   = api.RetryPolicy
	LayerFunc     = api.LayerFunc
	Layer         = api.Layer
	Coordinates   = api.Coordinates
	Execution     = api.Execution
	Overrides     = api.Overrides
	RunOptions    = api.RunOptions
	Executor      = api.Executor
	Accessor      = api.Accessor

	Observer             = api.Observer
	NoopObserver         = api.NoopObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	HistoryObserver      = api.HistoryObserver
	Event                = api.Event
	EventType            = api.EventType

	Error  = api.Error
	Config = config.Config
)

// AllSplits selects every split of a layer in Overrides.Index.
const AllSplits = api.AllSplits

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	NewHistoryObserver   = api.NewHistoryObserver

	DefaultConfig = config.Default
	LoadConfig    = config.LoadFile
)

// Error kinds, matched with errors.Is.
var (
	ErrStructural      = api.ErrStructural
	ErrCycle           = api.ErrCycle
	ErrStuck           = api.ErrStuck
	ErrExecution       = api.ErrExecution
	ErrLayerDefinition = api.ErrLayerDefinition
	ErrUnknownLayer    = api.ErrUnknownLayer
	ErrNoAttribute     = api.ErrNoAttribute
	ErrNotFound        = persistence.ErrNotFound
	ErrOutOfRange      = persistence.ErrOutOfRange
)

// Get reads attribute name of l and converts it to T.
func Get[T any](ctx context.Context, l *Layer, name string) (T, error) {
	return api.Get[T](ctx, l, name)
}

// Values reads every element of attribute name of l, converted to T.
func Values[T any](ctx context.Context, l *Layer, name string) ([]T, error) {
	return api.Values[T](ctx, l, name)
}

// Option configures a flow constructor.
type Option func(*options)

type options struct {
	executor    Executor
	observers   []Observer
	concurrency int
	logger      *slog.Logger
}

// WithExecutor runs splits with exec instead of a Local executor.
func WithExecutor(exec Executor) Option {
	return func(o *options) { o.executor = exec }
}

// WithObserver adds obs to the observers of the flow. It may be repeated.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// WithLogger logs lifecycle events to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithConcurrency bounds the splits of one layer running at once under the
// default Local executor. It is ignored together with WithExecutor.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

func (o *options) observer() Observer {
	obs := o.observers
	if o.logger != nil {
		obs = append(obs, api.NewLoggingObserver(o.logger))
	}
	switch len(obs) {
	case 0:
		return nil
	case 1:
		return obs[0]
	default:
		return api.NewCompositeObserver(obs...)
	}
}

func newFlow(name string, store persistence.ArtifactStore, opts []Option) (*Flow, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	obs := o.observer()
	exec := o.executor
	if exec == nil {
		exec = executor.NewLocal(o.concurrency, obs)
	}
	return engine.NewFlow(engine.Config{
		Name:     name,
		Store:    store,
		Executor: exec,
		Observer: obs,
	})
}

// NewInMemoryFlow returns a Flow whose artifacts live in process memory.
// Nothing survives a restart, so durable executors are rejected.
func NewInMemoryFlow(name string, opts ...Option) (*Flow, error) {
	return newFlow(name, persistence.NewMemoryStore(), opts)
}

// NewFileFlow returns a Flow storing artifacts as files below root.
func NewFileFlow(name, root string, opts ...Option) (*Flow, error) {
	backend, err := persistence.NewFileBackend(root)
	if err != nil {
		return nil, err
	}
	return newFlow(name, persistence.NewBlobStore(backend), opts)
}

// NewSQLiteFlow returns a Flow storing artifacts in a SQLite database.
func NewSQLiteFlow(name string, db *sql.DB, opts ...Option) (*Flow, error) {
	backend, err := persistence.NewSQLiteBackend(db)
	if err != nil {
		return nil, err
	}
	return newFlow(name, persistence.NewBlobStore(backend), opts)
}

// NewPostgresFlow returns a Flow storing artifacts in PostgreSQL. db is
// expected to use the pgx stdlib driver.
func NewPostgresFlow(name string, db *sql.DB, opts ...Option) (*Flow, error) {
	backend, err := persistence.NewPostgresBackend(db)
	if err != nil {
		return nil, err
	}
	return newFlow(name, persistence.NewBlobStore(backend), opts)
}

// NewRedisFlow returns a Flow storing artifacts in Redis under prefix.
func NewRedisFlow(name string, client *redis.Client, prefix string, opts ...Option) (*Flow, error) {
	return newFlow(name, persistence.NewBlobStore(persistence.NewRedisBackend(client, prefix)), opts)
}

// NewMongoFlow returns a Flow storing artifacts in the "blobs" collection
// of database.
func NewMongoFlow(name string, client *mongo.Client, database string, opts ...Option) (*Flow, error) {
	return newFlow(name, persistence.NewBlobStore(persistence.NewMongoBackend(client, database, "blobs")), opts)
}
