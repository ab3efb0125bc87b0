package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxz073/finm-dashboard/internal/metrics"
	"github.com/maxz073/finm-dashboard/internal/slogx"
)

// Executor runs a Graph with a fixed pool of workers.
type Executor struct {
	Workers   int
	Store     StateStore
	Always    bool          // run every selected task regardless of state
	Heartbeat time.Duration // 0 disables progress logging
	Logger    *slog.Logger
}

// node is the per-run state of one task.
type node struct {
	idx        int
	task       *Task
	deps       []*node
	dependents []*node
	depCount   atomic.Int32
	state      atomic.Int32
	err        error
	key        string
	duration   time.Duration
	skipOnce   sync.Once
}

func (n *node) executed() bool {
	return State(n.state.Load()) == Succeeded
}

// Run executes the named tasks and their dependencies (all tasks when names
// is empty). A failed task fails its dependents without running them;
// independent tasks still run. The returned error wraps ErrTaskFailed.
func (e *Executor) Run(ctx context.Context, g *Graph, names ...string) (*Report, error) {
	sel, err := g.closure(names)
	if err != nil {
		return nil, err
	}
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := e.Workers
	if workers < 1 {
		workers = 1
	}

	nodes := make([]*node, len(g.tasks))
	var run []*node
	for _, i := range g.order {
		if sel[i] {
			nodes[i] = &node{idx: i, task: g.tasks[i]}
			run = append(run, nodes[i])
		}
	}
	for _, n := range run {
		for _, j := range g.deps[n.idx] {
			dep := nodes[j]
			n.deps = append(n.deps, dep)
			dep.dependents = append(dep.dependents, n)
		}
		n.depCount.Store(int32(len(n.deps)))
	}

	report := &Report{Start: time.Now()}
	var wg sync.WaitGroup
	var done atomic.Int32
	wg.Add(len(run))

	ready := make(chan *node, len(run))
	for _, n := range run {
		if n.depCount.Load() == 0 {
			ready <- n
		}
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	if e.Heartbeat > 0 {
		go runHeartbeat(hbCtx, e.Heartbeat, len(run), &done, logger)
	}

	logger.Debug("starting workers", "workers", workers, "tasks", len(run))
	for w := 0; w < workers; w++ {
		go func() {
			for n := range ready {
				e.execute(ctx, n, logger)
				done.Add(1)
				if State(n.state.Load()) == Failed {
					e.skipDependents(n, logger, &wg, &done)
					wg.Done()
					continue
				}
				for _, d := range n.dependents {
					if d.depCount.Add(-1) == 0 {
						ready <- d
					}
				}
				wg.Done()
			}
		}()
	}
	wg.Wait()
	close(ready)
	stopHeartbeat()

	report.End = time.Now()
	var failed []string
	var causes []error
	for _, n := range run {
		st := State(n.state.Load())
		report.Results = append(report.Results, Result{Task: n.task.Name, State: st, Err: n.err, Duration: n.duration})
		metrics.TaskRuns.WithLabelValues(st.String()).Inc()
		if st == Failed {
			failed = append(failed, n.task.Name)
			if !errors.Is(n.err, ErrUpstreamFailed) {
				causes = append(causes, fmt.Errorf("%s: %w", n.task.Name, n.err))
			}
		}
	}
	logger.Info("run finished", "tasks", len(run), "executed", report.Count(Succeeded),
		"up_to_date", report.Count(UpToDate), "failed", len(failed), "elapsed", report.End.Sub(report.Start).Round(time.Millisecond))
	if len(failed) > 0 {
		return report, fmt.Errorf("%w: %s: %w", ErrTaskFailed, strings.Join(failed, ", "), errors.Join(causes...))
	}
	return report, nil
}

// skipDependents marks all downstream nodes as failed.
func (e *Executor) skipDependents(n *node, logger *slog.Logger, wg *sync.WaitGroup, done *atomic.Int32) {
	for _, d := range n.dependents {
		d.skipOnce.Do(func() {
			logger.Warn("skipping task due to upstream failure", "task", d.task.Name, "dependency", n.task.Name)
			d.err = fmt.Errorf("%w: %s", ErrUpstreamFailed, n.task.Name)
			d.state.Store(int32(Failed))
			done.Add(1)
			wg.Done()
			e.skipDependents(d, logger, wg, done)
		})
	}
}

// execute decides whether n is stale and runs its actions if so.
func (e *Executor) execute(ctx context.Context, n *node, logger *slog.Logger) {
	t := n.task
	log := logger.With("task", t.Name)
	start := time.Now()
	defer func() { n.duration = time.Since(start) }()

	fail := func(err error) {
		n.err = err
		n.state.Store(int32(Failed))
		log.Error("task failed", "error", err)
	}
	if err := ctx.Err(); err != nil {
		fail(err)
		return
	}

	stale, reason, err := e.stale(ctx, n)
	if err != nil {
		fail(err)
		return
	}
	if !stale {
		n.state.Store(int32(UpToDate))
		log.Info("up to date")
		return
	}

	n.state.Store(int32(Running))
	log.Info("running", "reason", reason)
	if err := runActions(ctx, t, log); err != nil {
		fail(err)
		return
	}
	for _, target := range t.Targets {
		if _, err := os.Stat(target); err != nil {
			fail(fmt.Errorf("target %s not produced: %w", target, err))
			return
		}
	}

	sigs, err := fileSignatures(t.FileDeps)
	if err != nil {
		fail(err)
		return
	}
	if e.Store != nil {
		if err := e.Store.Save(ctx, t.Name, Record{FileDeps: sigs, Key: n.key, RunAt: time.Now().UTC()}); err != nil {
			fail(fmt.Errorf("save state: %w", err))
			return
		}
	}
	n.state.Store(int32(Succeeded))
	metrics.TaskDuration.WithLabelValues(t.Name).Observe(time.Since(start).Seconds())
	log.Info("done", "elapsed", time.Since(start).Round(time.Millisecond))
}

// stale reports whether n must run and why. A missing file_dep is an error.
func (e *Executor) stale(ctx context.Context, n *node) (bool, string, error) {
	t := n.task
	sigs, err := fileSignatures(t.FileDeps)
	if err != nil {
		return false, "", err
	}
	if n.key, err = actionKey(t); err != nil {
		return false, "", err
	}
	switch {
	case e.Always:
		return true, "forced", nil
	case len(t.FileDeps) == 0:
		return true, "no file dependencies", nil
	}
	for _, d := range n.deps {
		if d.executed() {
			return true, "upstream " + d.task.Name + " ran", nil
		}
	}
	if e.Store == nil {
		return true, "no state store", nil
	}
	rec, ok, err := e.Store.Load(ctx, t.Name)
	if err != nil {
		return false, "", fmt.Errorf("load state: %w", err)
	}
	if !ok {
		return true, "never run", nil
	}
	for _, target := range t.Targets {
		if _, err := os.Stat(target); err != nil {
			return true, "target missing: " + target, nil
		}
	}
	if len(rec.FileDeps) != len(sigs) {
		return true, "file dependencies changed", nil
	}
	for path, sig := range sigs {
		if prev, ok := rec.FileDeps[path]; !ok || prev != sig {
			return true, "changed: " + path, nil
		}
	}
	if rec.Key != n.key {
		return true, "action key changed", nil
	}
	return false, "", nil
}

// actionKey joins the keys of t's Keyed actions.
func actionKey(t *Task) (string, error) {
	var parts []string
	for _, a := range t.Actions {
		k, ok := a.(Keyed)
		if !ok {
			continue
		}
		s, err := k.Key()
		if err != nil {
			return "", fmt.Errorf("action %s: %w", a, err)
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n"), nil
}

func fileSignatures(paths []string) (map[string]Signature, error) {
	sigs := make(map[string]Signature, len(paths))
	for _, p := range paths {
		sig, err := Stat(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingDep, p)
		}
		sigs[p] = sig
	}
	return sigs, nil
}

// runActions runs t's actions in order, fanning their output into log.
func runActions(ctx context.Context, t *Task, log *slog.Logger) error {
	lines := make(chan string, 256)
	w := &slogx.ChanWriter{Ch: lines}
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		slogx.Drain(lines, log, "output")
	}()
	defer func() {
		w.Flush()
		close(lines)
		<-drained
	}()

	actx := WithOutput(ctx, w)
	for i, a := range t.Actions {
		log.Debug("action", "n", i+1, "of", len(t.Actions), "action", a.String())
		if err := a.Run(actx); err != nil {
			return fmt.Errorf("action %d (%s): %w", i+1, a, err)
		}
	}
	return nil
}
