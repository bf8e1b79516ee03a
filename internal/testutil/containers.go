// Package testutil starts the containers backing integration tests. Each
// container is started at most once per test binary and reaped by
// testcontainers when the binary exits.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	// pgx registers the "pgx" database/sql driver used by the wait strategy.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type container struct {
	once     sync.Once
	endpoint string
	err      error
}

var (
	redisC    container
	postgresC container
	mongoC    container
)

// start runs fn once and skips the calling test when containers are
// unavailable or -short is set.
func (c *container) start(t *testing.T, name string, fn func(ctx context.Context) (string, error)) string {
	t.Helper()
	if testing.Short() {
		t.Skipf("skipping %s integration test in -short mode", name)
	}
	c.once.Do(func() {
		// Give generous timeout in CI environments
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		c.endpoint, c.err = fn(ctx)
	})
	if c.err != nil {
		t.Skipf("%s container unavailable: %v", name, c.err)
	}
	return c.endpoint
}

// GetRedisAddress returns host:port of a Redis server.
func GetRedisAddress(t *testing.T) string {
	t.Helper()
	return redisC.start(t, "redis", func(ctx context.Context) (string, error) {
		ctr, err := testcontainers.Run(
			ctx, "redis:7",
			testcontainers.WithExposedPorts("6379/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForListeningPort("6379/tcp"),
				wait.ForLog("Ready to accept connections"),
			),
		)
		if err != nil {
			return "", err
		}
		return ctr.Endpoint(ctx, "")
	})
}

// GetPostgresDSN returns a pgx DSN for an empty database.
func GetPostgresDSN(t *testing.T) string {
	t.Helper()
	return postgresC.start(t, "postgres", func(ctx context.Context) (string, error) {
		ctr, err := testcontainers.Run(
			ctx, "postgres:16",
			testcontainers.WithExposedPorts("5432/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForAll(
					wait.ForListeningPort("5432/tcp"),
					wait.ForLog("ready to accept connections"),
					wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
						return fmt.Sprintf("postgres://strata:strata@%s:%s/strata_test?sslmode=disable", host, port.Port())
					}).WithQuery("SELECT 1"),
				).WithDeadline(2*time.Minute),
			),
			testcontainers.WithEnv(map[string]string{
				"POSTGRES_USER":     "strata",
				"POSTGRES_PASSWORD": "strata",
				"POSTGRES_DB":       "strata_test",
			}),
		)
		if err != nil {
			return "", err
		}
		endpoint, err := ctr.Endpoint(ctx, "")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("postgres://strata:strata@%s/strata_test?sslmode=disable", endpoint), nil
	})
}

// GetMongoURI returns a mongodb:// URI.
func GetMongoURI(t *testing.T) string {
	t.Helper()
	return mongoC.start(t, "mongo", func(ctx context.Context) (string, error) {
		ctr, err := testcontainers.Run(
			ctx, "mongo:7",
			testcontainers.WithExposedPorts("27017/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForListeningPort("27017/tcp"),
				wait.ForLog("mongod startup complete"),
			),
		)
		if err != nil {
			return "", err
		}
		endpoint, err := ctr.Endpoint(ctx, "")
		if err != nil {
			return "", err
		}
		return "mongodb://" + endpoint, nil
	})
}
