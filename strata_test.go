package strata_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/petrijr/strata"
	"github.com/petrijr/strata/internal/taskqueue"
	"github.com/petrijr/strata/pkg/executor"
)

// chain registers demo.A -> demo.B, where B fails while failB is set.
func chain(t *testing.T, f *strata.Flow, runsA *atomic.Int32, failB *atomic.Bool) {
	t.Helper()
	err := strata.New().
		Layer("demo.A", func(ctx context.Context, l *strata.Layer) error {
			runsA.Add(1)
			return l.Set("foo", "bar")
		}).
		Layer("demo.B", func(ctx context.Context, l *strata.Layer) error {
			if failB.Load() {
				return errors.New("b is not ready")
			}
			v, err := strata.Get[string](ctx, l.Input("a"), "foo")
			if err != nil {
				return err
			}
			return l.Set("foo", v)
		}).Input("a", "demo.A").
		Register(f)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
}

func TestFileFlow_ResumeAcrossFlows(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	var runsA atomic.Int32
	var failB atomic.Bool
	failB.Store(true)

	first, err := strata.NewFileFlow("demo", root)
	if err != nil {
		t.Fatalf("NewFileFlow failed: %v", err)
	}
	chain(t, first, &runsA, &failB)

	exec, err := first.Run(ctx, strata.RunOptions{})
	if !errors.Is(err, strata.ErrExecution) {
		t.Fatalf("expected ErrExecution, got %v", err)
	}

	// A second process over the same directory picks up where the first
	// one stopped.
	failB.Store(false)
	second, err := strata.NewFileFlow("demo", root)
	if err != nil {
		t.Fatalf("NewFileFlow failed: %v", err)
	}
	chain(t, second, &runsA, &failB)

	if _, err := second.Resume(ctx, exec.ID); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if got := runsA.Load(); got != 1 {
		t.Fatalf("expected demo.A to run once, ran %d times", got)
	}

	l, err := second.Layer(ctx, "demo.B", strata.Overrides{Execution: exec.ID, Index: strata.AllSplits})
	if err != nil {
		t.Fatalf("Layer failed: %v", err)
	}
	v, err := strata.Get[string](ctx, l, "foo")
	if err != nil || v != "bar" {
		t.Fatalf("expected foo=bar, got %q (%v)", v, err)
	}
}

func TestSQLiteFlow_Run(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	f, err := strata.NewSQLiteFlow("demo", db)
	if err != nil {
		t.Fatalf("NewSQLiteFlow failed: %v", err)
	}
	var runsA atomic.Int32
	var failB atomic.Bool
	chain(t, f, &runsA, &failB)

	exec, err := f.Run(ctx, strata.RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	done, err := f.Finished(ctx, exec.ID)
	if err != nil {
		t.Fatalf("Finished failed: %v", err)
	}
	if len(done) != 2 {
		t.Fatalf("expected both layers finished, got %v", done)
	}
}

func TestOptions_ObserversAndLogger(t *testing.T) {
	ctx := context.Background()
	history := strata.NewHistoryObserver()
	metrics := &strata.BasicMetrics{}
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	f, err := strata.NewInMemoryFlow("demo",
		strata.WithObserver(history),
		strata.WithObserver(metrics),
		strata.WithLogger(logger),
		strata.WithConcurrency(1),
	)
	if err != nil {
		t.Fatalf("NewInMemoryFlow failed: %v", err)
	}
	var runsA atomic.Int32
	var failB atomic.Bool
	chain(t, f, &runsA, &failB)

	exec, err := f.Run(ctx, strata.RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if got := history.Executed(exec.ID); len(got) != 2 || got[0] != "demo.A" || got[1] != "demo.B" {
		t.Fatalf("unexpected executed layers: %v", got)
	}
	snap := metrics.Snapshot()
	if snap.ExecutionsCompleted != 1 || snap.SplitsCompleted != 2 {
		t.Fatalf("unexpected metrics: %+v", snap)
	}
	if !strings.Contains(buf.String(), `"msg":"execution_completed"`) {
		t.Fatalf("expected execution_completed log, got %s", buf.String())
	}
}

func TestInMemoryFlow_RejectsDurableExecutor(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		t.Fatalf("NewSQLiteQueue failed: %v", err)
	}
	exec := executor.NewQueue(executor.QueueConfig{Queue: q})
	t.Cleanup(func() { _ = exec.Close() })

	_, err = strata.NewInMemoryFlow("demo", strata.WithExecutor(exec))
	if !errors.Is(err, strata.ErrStructural) {
		t.Fatalf("expected ErrStructural, got %v", err)
	}

	if _, err := strata.NewFileFlow("demo", t.TempDir(), strata.WithExecutor(exec)); err != nil {
		t.Fatalf("file store with durable queue should be accepted: %v", err)
	}
}

func TestNewFlow_InvalidName(t *testing.T) {
	if _, err := strata.NewInMemoryFlow("not valid"); err == nil {
		t.Fatalf("expected error for invalid flow name")
	}
	if _, err := strata.NewFileFlow("demo", ""); err == nil {
		t.Fatalf("expected error for empty root")
	}
}

func TestFileFlow_AttributeNamesStayInsideRoot(t *testing.T) {
	ctx := context.Background()
	parent := t.TempDir()
	root := filepath.Join(parent, "store")

	f, err := strata.NewFileFlow("demo", root)
	if err != nil {
		t.Fatalf("NewFileFlow failed: %v", err)
	}
	err = strata.New().
		Layer("demo.Escape", func(ctx context.Context, l *strata.Layer) error {
			return l.Set("../../../../../../escaped", 1)
		}).
		Register(f)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, err := f.Run(ctx, strata.RunOptions{}); !errors.Is(err, strata.ErrLayerDefinition) {
		t.Fatalf("expected ErrLayerDefinition, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(parent, "escaped.json")); !os.IsNotExist(err) {
		t.Fatalf("attribute escaped the store root: %v", err)
	}
}
