package task

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
)

// Clean removes the targets of the named tasks (all tasks when names is
// empty) that allow cleaning, and forgets their state. It returns the
// paths removed.
func Clean(ctx context.Context, g *Graph, store StateStore, names ...string) ([]string, error) {
	sel := make([]bool, len(g.tasks))
	if len(names) == 0 {
		for i := range sel {
			sel[i] = true
		}
	}
	for _, n := range names {
		i, ok := g.lookup(n)
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownTask, n)
		}
		sel[i] = true
	}

	var removed, forgotten []string
	// Reverse order so dependents are cleaned before what they consume.
	for k := len(g.order) - 1; k >= 0; k-- {
		i := g.order[k]
		t := g.tasks[i]
		if !sel[i] || !t.Clean {
			continue
		}
		for _, target := range t.Targets {
			err := os.RemoveAll(target)
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return removed, fmt.Errorf("clean %s: %w", t.Name, err)
			}
			removed = append(removed, target)
			slog.Info("removed", "task", t.Name, "path", target)
		}
		forgotten = append(forgotten, t.Name)
	}
	if store != nil && len(forgotten) > 0 {
		if err := store.Forget(ctx, forgotten...); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// Forget clears recorded state so the named tasks (all when empty) run next time.
func Forget(ctx context.Context, g *Graph, store StateStore, names ...string) error {
	tasks := make([]string, 0, len(names))
	for _, n := range names {
		i, ok := g.lookup(n)
		if !ok {
			return fmt.Errorf("%w %q", ErrUnknownTask, n)
		}
		tasks = append(tasks, g.tasks[i].Name)
	}
	if len(tasks) == 0 {
		tasks = g.Order()
	}
	return store.Forget(ctx, tasks...)
}
