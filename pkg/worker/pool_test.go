package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/petrijr/strata/internal/taskqueue"
	"github.com/petrijr/strata/pkg/api"
)

func TestPool_ProcessesAllTasks(t *testing.T) {
	ctx := context.Background()
	q := taskqueue.NewInMemoryQueue(0)

	var mu sync.Mutex
	seen := make(map[int]bool)
	done := make(chan struct{})
	rt := &fakeRuntime{fail: func(c api.Coordinates) error {
		if c.Index == 3 {
			return errors.New("split 3 always fails")
		}
		return nil
	}}
	w := NewWithConfig(rt, q, Config{OnResult: func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		seen[r.Task.Coordinates.Index] = r.Err == nil
		if len(seen) == 5 {
			close(done)
		}
	}})

	p := NewPool(w, nil)
	if err := p.Start(ctx, 3); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !p.Running() {
		t.Fatalf("expected pool to be running")
	}
	if err := p.Start(ctx, 1); err == nil {
		t.Fatalf("expected second Start to fail")
	}

	for i := 0; i < 5; i++ {
		if _, err := w.EnqueueSplit(ctx, "", coords(i), api.Configuration{}); err != nil {
			t.Fatalf("EnqueueSplit %d failed: %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for tasks")
	}

	p.Stop()
	if p.Running() {
		t.Fatalf("expected pool to be stopped")
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < 5; i++ {
		if ok := seen[i]; ok != (i != 3) {
			t.Fatalf("split %d success=%v", i, ok)
		}
	}
}

func TestPool_StopWithoutStart(t *testing.T) {
	p := NewPool(New(&fakeRuntime{}, taskqueue.NewInMemoryQueue(0)), nil)
	p.Stop()
	if p.Running() {
		t.Fatalf("expected stopped pool")
	}
}
