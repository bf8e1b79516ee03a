package strata_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/strata"
	"github.com/petrijr/strata/internal/testutil"
)

// openDurable opens a bundle whose store and queue live in the same server.
func openDurable(t *testing.T, mutate func(cfg *strata.Config)) *strata.Bundle {
	t.Helper()
	cfg := strata.DefaultConfig()
	cfg.Flow = "squares"
	cfg.Executor.Kind = "queue"
	cfg.Executor.Concurrency = 2
	cfg.Logging.Level = "error"
	mutate(cfg)

	b, err := strata.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestOpen_Redis(t *testing.T) {
	addr := testutil.GetRedisAddress(t)
	b := openDurable(t, func(cfg *strata.Config) {
		cfg.Store.Kind = "redis"
		cfg.Store.Addr = addr
		cfg.Store.Prefix = "strata:bundle:"
		cfg.Executor.Queue = "redis"
	})
	registerSquares(t, b.Flow)
	assert.Equal(t, []int{4, 9, 16}, runSquares(t, b.Flow))
}

func TestOpen_Postgres(t *testing.T) {
	dsn := testutil.GetPostgresDSN(t)
	b := openDurable(t, func(cfg *strata.Config) {
		cfg.Store.Kind = "postgres"
		cfg.Store.DSN = dsn
		cfg.Executor.Queue = "postgres"
	})
	registerSquares(t, b.Flow)
	assert.Equal(t, []int{4, 9, 16}, runSquares(t, b.Flow))
}

func TestOpen_Mongo(t *testing.T) {
	uri := testutil.GetMongoURI(t)
	b := openDurable(t, func(cfg *strata.Config) {
		cfg.Store.Kind = "mongo"
		cfg.Store.URI = uri
		cfg.Store.Database = "strata_bundle"
		cfg.Executor.Queue = "mongo"
	})
	registerSquares(t, b.Flow)
	assert.Equal(t, []int{4, 9, 16}, runSquares(t, b.Flow))
}
