package strata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite"

	"github.com/petrijr/strata/internal/config"
	"github.com/petrijr/strata/internal/engine"
	"github.com/petrijr/strata/internal/persistence"
	"github.com/petrijr/strata/internal/taskqueue"
	"github.com/petrijr/strata/pkg/api"
	"github.com/petrijr/strata/pkg/executor"
)

// Bundle is a Flow opened from a Config together with the clients it owns.
//
// Typical usage:
//
//	cfg, _ := strata.LoadConfig("strata.yaml")
//	b, err := strata.Open(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Close()
//	// register templates on b.Flow, then b.Flow.Run(ctx, strata.RunOptions{})
type Bundle struct {
	Flow   *Flow
	Logger *slog.Logger

	closers []func() error
}

// Open builds the store, executor and logger described by cfg. A nil cfg
// uses DefaultConfig. Logs go to stderr; opts add observers or replace the
// logger.
func Open(ctx context.Context, cfg *Config, opts ...Option) (*Bundle, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{logger: cfg.Logging.Logger(os.Stderr)}
	for _, opt := range opts {
		opt(&o)
	}
	b := &Bundle{Logger: o.logger}

	store, err := b.openStore(ctx, cfg.Store)
	if err != nil {
		_ = b.Close()
		return nil, err
	}

	obs := o.observer()
	exec, err := b.openExecutor(ctx, cfg, obs)
	if err != nil {
		_ = b.Close()
		return nil, err
	}

	f, err := engine.NewFlow(engine.Config{
		Name:     cfg.Flow,
		Store:    store,
		Executor: exec,
		Observer: obs,
	})
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	b.Flow = f
	b.Logger.Debug("flow opened",
		slog.String("flow", cfg.Flow),
		slog.String("store", cfg.Store.Kind),
		slog.String("executor", cfg.Executor.Kind),
	)
	return b, nil
}

// Close releases every client opened by Open, in reverse order.
func (b *Bundle) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

func (b *Bundle) onClose(fn func() error) {
	b.closers = append(b.closers, fn)
}

func (b *Bundle) closer(c io.Closer) {
	b.onClose(c.Close)
}

func (b *Bundle) openStore(ctx context.Context, sc config.StoreConfig) (persistence.ArtifactStore, error) {
	var backend persistence.Backend
	switch sc.Kind {
	case config.StoreMemory:
		return persistence.NewMemoryStore(), nil

	case config.StoreFile:
		fb, err := persistence.NewFileBackend(sc.Path)
		if err != nil {
			return nil, err
		}
		backend = fb

	case config.StoreSQLite:
		db, err := b.openSQLite(sc.Path)
		if err != nil {
			return nil, err
		}
		sb, err := persistence.NewSQLiteBackend(db)
		if err != nil {
			return nil, err
		}
		backend = sb

	case config.StorePostgres:
		db, err := b.openPostgres(ctx, sc.DSN)
		if err != nil {
			return nil, err
		}
		pb, err := persistence.NewPostgresBackend(db)
		if err != nil {
			return nil, err
		}
		backend = pb

	case config.StoreRedis:
		client, err := b.openRedis(ctx, sc.Addr)
		if err != nil {
			return nil, err
		}
		backend = persistence.NewRedisBackend(client, sc.Prefix)

	case config.StoreMongo:
		client, err := b.openMongo(ctx, sc.URI)
		if err != nil {
			return nil, err
		}
		backend = persistence.NewMongoBackend(client, sc.Database, sc.Collection)

	default:
		return nil, fmt.Errorf("unknown store kind %q", sc.Kind)
	}
	return persistence.NewBlobStore(backend), nil
}

func (b *Bundle) openExecutor(ctx context.Context, cfg *Config, obs api.Observer) (api.Executor, error) {
	ec := cfg.Executor
	if ec.Kind == config.ExecutorLocal {
		return executor.NewLocal(ec.Concurrency, obs), nil
	}

	var q taskqueue.Queue
	switch ec.Queue {
	case config.QueueMemory:
		q = taskqueue.NewInMemoryQueue(0)
	case config.QueueSQLite:
		db, err := b.openSQLite(ec.QueuePath)
		if err != nil {
			return nil, err
		}
		sq, err := taskqueue.NewSQLiteQueue(db)
		if err != nil {
			return nil, err
		}
		q = sq
	case config.QueueRedis:
		addr := ec.QueueAddr
		if addr == "" {
			addr = cfg.Store.Addr
		}
		client, err := b.openRedis(ctx, addr)
		if err != nil {
			return nil, err
		}
		q = taskqueue.NewRedisQueue(client, cfg.Store.Prefix+cfg.Flow+":")
	case config.QueuePostgres:
		dsn := ec.QueueDSN
		if dsn == "" {
			dsn = cfg.Store.DSN
		}
		db, err := b.openPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		pq, err := taskqueue.NewPostgresQueue(db)
		if err != nil {
			return nil, err
		}
		q = pq
	case config.QueueMongo:
		uri := ec.QueueURI
		if uri == "" {
			uri = cfg.Store.URI
		}
		client, err := b.openMongo(ctx, uri)
		if err != nil {
			return nil, err
		}
		q = taskqueue.NewMongoQueue(client, cfg.Store.Database, cfg.Flow+"_tasks")
	default:
		return nil, fmt.Errorf("unknown queue kind %q", ec.Queue)
	}

	qe := executor.NewQueue(executor.QueueConfig{
		Queue:    q,
		Workers:  ec.Concurrency,
		Observer: obs,
		Logger:   b.Logger,
	})
	b.closer(qe)
	return qe, nil
}

// openSQLite opens a modernc SQLite database limited to one connection, so
// writers never see SQLITE_BUSY from a sibling connection.
func (b *Bundle) openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	b.closer(db)
	return db, nil
}

func (b *Bundle) openRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	b.closer(client)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func (b *Bundle) openPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	b.closer(db)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func (b *Bundle) openMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	b.onClose(func() error { return client.Disconnect(context.Background()) })
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}
