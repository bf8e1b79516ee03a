package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQLiteBackend is a Backend stored in a single SQLite table.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteBackend struct {
	db *sql.DB
}

// Ensure SQLiteBackend implements Backend.
var _ Backend = (*SQLiteBackend)(nil)

// NewSQLiteBackend initializes the required schema in the given
// database and returns a new SQLiteBackend.
func NewSQLiteBackend(db *sql.DB) (*SQLiteBackend, error) {
	b := &SQLiteBackend{db: db}
	if err := b.initSchema(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) initSchema() error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS blobs (
			path TEXT PRIMARY KEY,
			data BLOB NOT NULL
		);`,
	)
	return err
}

func (b *SQLiteBackend) Put(ctx context.Context, path string, data []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO blobs (path, data) VALUES (?, ?)
		ON CONFLICT(path) DO UPDATE SET data = excluded.data`,
		path, data,
	)
	return err
}

func (b *SQLiteBackend) Get(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE path = ?`, path).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	return data, nil
}

func (b *SQLiteBackend) Exists(ctx context.Context, path string) (bool, error) {
	var n int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM blobs WHERE path = ?`, path).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
