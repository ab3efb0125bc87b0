package task

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// Graph is a validated, acyclic set of tasks.
type Graph struct {
	tasks  []*Task
	index  map[string]int
	deps   [][]int // deps[i] are the tasks i waits for, ascending
	order  []int   // topological, ties broken by declaration order
	owners map[string]string
}

// NewGraph validates tasks and resolves their dependencies. A file_dep that
// is another task's target adds an implicit edge to that task.
func NewGraph(tasks []*Task) (*Graph, error) {
	g := &Graph{
		tasks:  tasks,
		index:  make(map[string]int, len(tasks)),
		deps:   make([][]int, len(tasks)),
		owners: make(map[string]string),
	}
	for i, t := range tasks {
		if t.Name == "" {
			return nil, fmt.Errorf("task #%d has no name", i+1)
		}
		if _, dup := g.index[t.Name]; dup {
			return nil, fmt.Errorf("duplicate task %q", t.Name)
		}
		g.index[t.Name] = i
		for _, target := range t.Targets {
			key := filepath.Clean(target)
			if owner, taken := g.owners[key]; taken {
				return nil, fmt.Errorf("target %q is produced by both %q and %q", target, owner, t.Name)
			}
			g.owners[key] = t.Name
		}
	}

	for i, t := range tasks {
		add := func(j int) {
			if j != i && !slices.Contains(g.deps[i], j) {
				g.deps[i] = append(g.deps[i], j)
			}
		}
		for _, name := range t.TaskDeps {
			j, ok := g.index[name]
			if !ok {
				return nil, fmt.Errorf("task %q depends on unknown task %q", t.Name, name)
			}
			if j == i {
				return nil, fmt.Errorf("task %q depends on itself: %w", t.Name, ErrCycle)
			}
			add(j)
		}
		for _, dep := range t.FileDeps {
			if owner, ok := g.owners[filepath.Clean(dep)]; ok {
				if owner == t.Name {
					return nil, fmt.Errorf("task %q lists its own target %q as a file_dep: %w", t.Name, dep, ErrCycle)
				}
				add(g.index[owner])
			}
		}
		slices.Sort(g.deps[i])
	}

	if err := g.checkCycles(); err != nil {
		return nil, err
	}
	g.order = g.topoSort()
	return g, nil
}

// checkCycles runs a three-colour DFS in declaration order.
func (g *Graph) checkCycles() error {
	const (
		white = iota
		grey
		black
	)
	colour := make([]int, len(g.tasks))
	var stack []int
	var visit func(i int) error
	visit = func(i int) error {
		colour[i] = grey
		stack = append(stack, i)
		for _, j := range g.deps[i] {
			switch colour[j] {
			case grey:
				start := slices.Index(stack, j)
				names := make([]string, 0, len(stack)-start+1)
				for _, k := range stack[start:] {
					names = append(names, g.tasks[k].Name)
				}
				names = append(names, g.tasks[j].Name)
				return fmt.Errorf("%w: %s", ErrCycle, strings.Join(names, " -> "))
			case white:
				if err := visit(j); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		colour[i] = black
		return nil
	}
	for i := range g.tasks {
		if colour[i] == white {
			if err := visit(i); err != nil {
				return err
			}
		}
	}
	return nil
}

// topoSort is Kahn's algorithm always taking the earliest declared ready task.
func (g *Graph) topoSort() []int {
	pending := make([]int, len(g.tasks))
	dependents := g.dependents()
	for i := range g.tasks {
		pending[i] = len(g.deps[i])
	}
	done := make([]bool, len(g.tasks))
	order := make([]int, 0, len(g.tasks))
	for len(order) < len(g.tasks) {
		for i := range g.tasks {
			if !done[i] && pending[i] == 0 {
				done[i] = true
				order = append(order, i)
				for _, d := range dependents[i] {
					pending[d]--
				}
				break
			}
		}
	}
	return order
}

func (g *Graph) dependents() [][]int {
	out := make([][]int, len(g.tasks))
	for i, deps := range g.deps {
		for _, j := range deps {
			out[j] = append(out[j], i)
		}
	}
	return out
}

// Len returns the number of tasks.
func (g *Graph) Len() int { return len(g.tasks) }

// Tasks returns the tasks in declaration order.
func (g *Graph) Tasks() []*Task { return slices.Clone(g.tasks) }

// Task looks up a task by name.
func (g *Graph) Task(name string) (*Task, bool) {
	i, ok := g.index[name]
	if !ok {
		return nil, false
	}
	return g.tasks[i], true
}

// Order returns task names in execution order.
func (g *Graph) Order() []string {
	names := make([]string, len(g.order))
	for k, i := range g.order {
		names[k] = g.tasks[i].Name
	}
	return names
}

// Dependencies returns the names of the tasks name waits for, explicit and implicit.
func (g *Graph) Dependencies(name string) ([]string, error) {
	i, ok := g.index[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownTask, name)
	}
	out := make([]string, len(g.deps[i]))
	for k, j := range g.deps[i] {
		out[k] = g.tasks[j].Name
	}
	return out, nil
}

// Owner returns the task that declares path as a target.
func (g *Graph) Owner(path string) (string, bool) {
	name, ok := g.owners[filepath.Clean(path)]
	return name, ok
}

// lookup resolves a task name, or a target path to the task producing it.
func (g *Graph) lookup(name string) (int, bool) {
	if i, ok := g.index[name]; ok {
		return i, true
	}
	if owner, ok := g.Owner(name); ok {
		return g.index[owner], true
	}
	return 0, false
}

// closure returns the selected tasks plus everything they depend on, as a
// set of indexes. No names selects every task; a target path selects the
// task that produces it.
func (g *Graph) closure(names []string) ([]bool, error) {
	sel := make([]bool, len(g.tasks))
	if len(names) == 0 {
		for i := range sel {
			sel[i] = true
		}
		return sel, nil
	}
	var mark func(i int)
	mark = func(i int) {
		if sel[i] {
			return
		}
		sel[i] = true
		for _, j := range g.deps[i] {
			mark(j)
		}
	}
	for _, n := range names {
		i, ok := g.lookup(n)
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownTask, n)
		}
		mark(i)
	}
	return sel, nil
}
