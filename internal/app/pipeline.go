package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maxz073/finm-dashboard/internal/provider"
	"github.com/maxz073/finm-dashboard/internal/task"
	"github.com/maxz073/finm-dashboard/internal/taskfile"
)

// Pipeline ties the task file, the executor and the state store together.
type Pipeline struct {
	Config  *Config
	Store   task.StateStore
	Actions *Actions
	Logger  *slog.Logger
}

// NewPipeline wires the adapter into the action registry.
func NewPipeline(cfg *Config, store task.StateStore, adapter *provider.Adapter, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		Config:  cfg,
		Store:   store,
		Actions: &Actions{Config: cfg, Fetcher: adapter, Now: time.Now},
		Logger:  logger,
	}
}

// Load reads the task file and validates the graph.
func (p *Pipeline) Load() (*task.Graph, *taskfile.File, error) {
	f, err := taskfile.Load(p.Config.TaskFile, p.Config.TaskVars(), p.Actions.Registry())
	if err != nil {
		return nil, nil, err
	}
	g, err := task.NewGraph(f.Tasks)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", p.Config.TaskFile, err)
	}
	return g, f, nil
}

// RunOptions mirror the run subcommand flags.
type RunOptions struct {
	Workers int
	Always  bool
	Tasks   []string
}

// Run executes the selected tasks (the file's defaults when none) and
// writes the run report to the data directory.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*task.Report, error) {
	g, f, err := p.Load()
	if err != nil {
		return nil, err
	}
	names := opts.Tasks
	if len(names) == 0 {
		names = f.Default
	}
	workers := opts.Workers
	if workers < 1 {
		workers = p.Config.Workers
	}
	ex := &task.Executor{
		Workers:   workers,
		Store:     p.Store,
		Always:    opts.Always,
		Heartbeat: 30 * time.Second,
		Logger:    p.Logger,
	}
	rep, runErr := ex.Run(ctx, g, names...)
	if rep != nil {
		if err := task.WriteRunReport(p.Config.DataDir, rep); err != nil {
			p.Logger.Warn("could not write run report", "error", err)
		}
	}
	return rep, runErr
}
