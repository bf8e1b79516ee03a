package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/petrijr/strata/pkg/api"
)

// scheduler drives one execution of a flow.
type scheduler struct {
	flow     *Flow
	executor api.Executor
	observer api.Observer
	exec     api.Execution
}

type completion struct {
	name   string
	splits int
	err    error
}

// run dispatches every runnable layer concurrently and wakes on the first
// completion, until all layers are finished or an error aborts the loop.
// Submissions still in flight after an abort run to completion on their
// own; their results are discarded.
func (s *scheduler) run(ctx context.Context, finished map[string]bool) error {
	names := s.flow.Names()
	deps := s.flow.Dependencies()

	if cycle := findCycle(names, deps); cycle != nil {
		return api.NewError(api.ErrCycle, cycle[0], "%s", strings.Join(cycle, " -> "))
	}

	// Buffered so abandoned submissions never block on send.
	done := make(chan completion, len(names))
	running := make(map[string]bool)

	for {
		var pending []string
		for _, name := range names {
			if !finished[name] && !running[name] {
				pending = append(pending, name)
			}
		}

		for _, name := range pending {
			if ready(deps[name], finished) {
				running[name] = true
				go s.dispatch(ctx, name, done)
			}
		}

		if len(running) == 0 {
			if len(pending) == 0 {
				return nil
			}
			return s.stuck(pending, deps, finished)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("execution %s cancelled: %w", s.exec.ID, ctx.Err())
		case c := <-done:
			delete(running, c.name)
			if c.err != nil {
				return c.err
			}
			finished[c.name] = true
		}
	}
}

func (s *scheduler) dispatch(ctx context.Context, name string, done chan<- completion) {
	start := time.Now()
	s.observer.OnLayerStart(ctx, s.exec, name)

	c := completion{name: name}
	l, err := s.flow.Layer(ctx, name, api.Overrides{Execution: s.exec.ID})
	if err == nil {
		l, err = s.executor.Submit(ctx, l)
		if l != nil {
			c.splits = l.Splits
		}
	}
	c.err = err

	s.observer.OnLayerCompleted(ctx, s.exec, name, c.splits, err, time.Since(start))
	done <- c
}

func (s *scheduler) stuck(pending []string, deps map[string][]string, finished map[string]bool) error {
	blocked := make([]string, 0, len(pending))
	for _, name := range pending {
		var missing []string
		for _, d := range deps[name] {
			if !finished[d] {
				missing = append(missing, d)
			}
		}
		blocked = append(blocked, fmt.Sprintf("%s waits on %s", name, strings.Join(missing, ", ")))
	}
	return api.NewError(api.ErrStuck, "", "%s", strings.Join(blocked, "; "))
}

func ready(deps []string, finished map[string]bool) bool {
	for _, d := range deps {
		if !finished[d] {
			return false
		}
	}
	return true
}

// findCycle returns one dependency cycle among registered layers as a path
// whose first and last element are equal, or nil. Edges to unregistered
// layers are ignored; those surface as a stuck scheduler instead.
func findCycle(names []string, deps map[string][]string) []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(names))
	var stack []string
	var cycle []string

	var visit func(n string) bool
	visit = func(n string) bool {
		color[n] = grey
		stack = append(stack, n)
		for _, d := range deps[n] {
			if _, registered := deps[d]; !registered {
				continue
			}
			switch color[d] {
			case grey:
				i := slices.Index(stack, d)
				cycle = append(slices.Clone(stack[i:]), d)
				return true
			case white:
				if visit(d) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return false
	}

	for _, n := range names {
		if color[n] == white && visit(n) {
			return cycle
		}
	}
	return nil
}
