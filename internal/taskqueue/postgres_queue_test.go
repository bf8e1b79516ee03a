package taskqueue

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/strata/internal/testutil"
)

type PostgresQueueTestSuite struct {
	suite.Suite
	db    *sql.DB
	queue *PostgresQueue
}

func TestPostgresQueueSuite(t *testing.T) {
	dsn := testutil.GetPostgresDSN(t)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	q, err := NewPostgresQueue(db)
	if err != nil {
		t.Fatalf("NewPostgresQueue failed: %v", err)
	}
	suite.Run(t, &PostgresQueueTestSuite{db: db, queue: q})
}

func (p *PostgresQueueTestSuite) SetupTest() {
	_, err := p.db.Exec("TRUNCATE TABLE split_tasks")
	p.Require().NoError(err, "TRUNCATE split_tasks failed")
}

func (p *PostgresQueueTestSuite) TestFIFO() {
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		p.Require().NoError(p.queue.Enqueue(ctx, splitTask(id, i)))
	}
	p.Equal(3, p.queue.Len())

	for i, want := range []string{"a", "b", "c"} {
		got, err := p.queue.Dequeue(ctx)
		p.Require().NoError(err)
		p.Equal(want, got.ID)
		p.Equal(i, got.Coordinates.Index)
		p.Equal("etl.Load", got.Coordinates.Layer)
	}
	p.Equal(0, p.queue.Len())
}

func (p *PostgresQueueTestSuite) TestNotBeforeDelaysTask() {
	ctx := context.Background()
	later := splitTask("later", 0)
	later.NotBefore = time.Now().Add(300 * time.Millisecond)
	p.Require().NoError(p.queue.Enqueue(ctx, later))
	p.Require().NoError(p.queue.Enqueue(ctx, splitTask("now", 1)))

	got, err := p.queue.Dequeue(ctx)
	p.Require().NoError(err)
	p.Equal("now", got.ID)

	got, err = p.queue.Dequeue(ctx)
	p.Require().NoError(err)
	p.Equal("later", got.ID)
}

func (p *PostgresQueueTestSuite) TestDequeueHonoursCancellation() {
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	_, err := p.queue.Dequeue(ctx)
	p.ErrorIs(err, context.DeadlineExceeded)
}
