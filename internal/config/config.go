// Package config loads the YAML configuration file that selects a flow's
// artifact store, executor strategy and logging setup.
//
// Programmatic construction remains the primary API; a file is only needed
// when a deployment wants to switch backends without recompiling.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Store kinds.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreMongo    = "mongo"
)

// Executor kinds.
const (
	ExecutorLocal = "local"
	ExecutorQueue = "queue"
)

// Queue kinds for the queue executor.
const (
	QueueMemory   = "memory"
	QueueSQLite   = "sqlite"
	QueueRedis    = "redis"
	QueuePostgres = "postgres"
	QueueMongo    = "mongo"
)

// Config is the top-level configuration of one flow.
type Config struct {
	// Flow is the flow name; it prefixes every stored path.
	Flow string `yaml:"flow"`

	Store    StoreConfig    `yaml:"store"`
	Executor ExecutorConfig `yaml:"executor"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// StoreConfig selects the artifact store. Only the fields relevant to Kind
// are read.
type StoreConfig struct {
	Kind string `yaml:"kind"`

	// Path is the root directory (file) or database file (sqlite).
	Path string `yaml:"path"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`

	// Addr and Prefix configure Redis.
	Addr   string `yaml:"addr"`
	Prefix string `yaml:"prefix"`

	// URI, Database and Collection configure MongoDB.
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// ExecutorConfig selects how splits run.
type ExecutorConfig struct {
	Kind string `yaml:"kind"`

	// Concurrency bounds concurrent splits (local) or worker goroutines
	// (queue). Zero means unbounded for local and 4 workers for queue.
	Concurrency int `yaml:"concurrency"`

	// Queue is the task queue of the queue executor.
	Queue string `yaml:"queue"`

	// QueuePath is the SQLite database of the sqlite queue. QueueAddr is the
	// Redis server of the redis queue and defaults to Store.Addr.
	QueuePath string `yaml:"queue_path"`
	QueueAddr string `yaml:"queue_addr"`

	// QueueDSN and QueueURI locate the postgres and mongo queues. They
	// default to Store.DSN and Store.URI.
	QueueDSN string `yaml:"queue_dsn"`
	QueueURI string `yaml:"queue_uri"`
}

// LoggingConfig configures the slog logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// Default returns a configuration running in memory with a local executor.
func Default() *Config {
	return &Config{
		Flow: "default",
		Store: StoreConfig{
			Kind:       StoreMemory,
			Prefix:     "strata:",
			Database:   "strata",
			Collection: "blobs",
		},
		Executor: ExecutorConfig{
			Kind:  ExecutorLocal,
			Queue: QueueMemory,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFile reads path over the defaults and validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Flow == "" {
		errs = append(errs, errors.New("flow is required"))
	}

	switch c.Store.Kind {
	case StoreMemory:
	case StoreFile, StoreSQLite:
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required for %s stores", c.Store.Kind))
		}
	case StorePostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for postgres stores"))
		}
	case StoreRedis:
		if c.Store.Addr == "" {
			errs = append(errs, errors.New("store.addr is required for redis stores"))
		}
	case StoreMongo:
		if c.Store.URI == "" {
			errs = append(errs, errors.New("store.uri is required for mongo stores"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.kind %q", c.Store.Kind))
	}

	switch c.Executor.Kind {
	case ExecutorLocal:
	case ExecutorQueue:
		switch c.Executor.Queue {
		case QueueMemory:
		case QueueSQLite:
			if c.Executor.QueuePath == "" {
				errs = append(errs, errors.New("executor.queue_path is required for sqlite queues"))
			}
		case QueueRedis:
			if c.Executor.QueueAddr == "" && c.Store.Addr == "" {
				errs = append(errs, errors.New("executor.queue_addr is required for redis queues"))
			}
		case QueuePostgres:
			if c.Executor.QueueDSN == "" && c.Store.DSN == "" {
				errs = append(errs, errors.New("executor.queue_dsn is required for postgres queues"))
			}
		case QueueMongo:
			if c.Executor.QueueURI == "" && c.Store.URI == "" {
				errs = append(errs, errors.New("executor.queue_uri is required for mongo queues"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown executor.queue %q", c.Executor.Queue))
		}
		if c.Executor.Queue != QueueMemory && c.Store.Kind == StoreMemory {
			errs = append(errs, fmt.Errorf("executor.queue %s needs a durable store", c.Executor.Queue))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown executor.kind %q", c.Executor.Kind))
	}
	if c.Executor.Concurrency < 0 {
		errs = append(errs, errors.New("executor.concurrency must not be negative"))
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level))
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("logging.format %q must be text or json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
