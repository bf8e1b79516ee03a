package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresBackend is a Backend stored in a PostgreSQL table.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresBackend struct {
	db *sql.DB
}

// Ensure PostgresBackend implements Backend.
var _ Backend = (*PostgresBackend)(nil)

// NewPostgresBackend initializes the required schema in the given
// database and returns a new PostgresBackend.
func NewPostgresBackend(db *sql.DB) (*PostgresBackend, error) {
	b := &PostgresBackend{db: db}
	if err := b.initSchema(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *PostgresBackend) initSchema() error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS blobs (
			path TEXT PRIMARY KEY,
			data BYTEA NOT NULL
		);
	`)
	return err
}

func (b *PostgresBackend) Put(ctx context.Context, path string, data []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO blobs (path, data) VALUES ($1, $2)
		ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data
	`, path, data)
	return err
}

func (b *PostgresBackend) Get(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE path = $1`, path).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	return data, nil
}

func (b *PostgresBackend) Exists(ctx context.Context, path string) (bool, error) {
	var exists bool
	err := b.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM blobs WHERE path = $1)`, path).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}
