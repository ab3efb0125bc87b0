package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"

	"github.com/maxz073/finm-dashboard/internal/app"
	"github.com/maxz073/finm-dashboard/internal/excerpt"
	"github.com/maxz073/finm-dashboard/internal/model"
	"github.com/maxz073/finm-dashboard/internal/provider"
	"github.com/maxz073/finm-dashboard/internal/serve"
	"github.com/maxz073/finm-dashboard/internal/task"
)

// exitStatus maps an error to the CLI exit code: 2 for usage errors, 1 otherwise.
func exitStatus(err error) subcommands.ExitStatus {
	switch {
	case errors.Is(err, task.ErrUnknownTask):
		slog.Error("usage", "error", err)
		return subcommands.ExitUsageError
	case errors.Is(err, context.Canceled):
		slog.Warn("interrupted")
	default:
		slog.Error("command failed", "error", err)
	}
	return subcommands.ExitFailure
}

func stringArgs(f *flag.FlagSet) []string {
	return append([]string(nil), f.Args()...)
}

type runCmd struct {
	workers  int
	always   bool
	schedule bool
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run tasks whose inputs or outputs changed" }
func (*runCmd) Usage() string {
	return `run [-n N] [-always] [-schedule] [task...]:
  Run the named tasks and their dependencies (the task file's default when none).
`
}

func (c *runCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.workers, "n", 0, "number of parallel workers (default WORKERS)")
	f.BoolVar(&c.always, "always", false, "run tasks even when up to date")
	f.BoolVar(&c.schedule, "schedule", false, "keep running once a day at RUN_HOUR:RUN_MINUTE UTC")
}

func (c *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.workers < 0 {
		fmt.Fprintln(os.Stderr, "-n must be >= 0")
		return subcommands.ExitUsageError
	}
	opts := app.RunOptions{Workers: c.workers, Always: c.always, Tasks: stringArgs(f)}
	return withApp(ctx, func(a *App) error {
		slog.Info("using data tiers", "tiers", a.Adapter.Tiers(), "task_file", a.Config.TaskFile)
		if c.schedule {
			return app.RunScheduled(ctx, a.Config.RunHour, a.Config.RunMinute, func(ctx context.Context) error {
				_, err := a.Pipeline.Run(ctx, opts)
				return err
			})
		}
		_, err := a.Pipeline.Run(ctx, opts)
		return err
	})
}

type listCmd struct {
	deps bool
}

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "list declared tasks" }
func (*listCmd) Usage() string {
	return `list [-deps]:
  List tasks in execution order with their descriptions.
`
}

func (c *listCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.deps, "deps", false, "show dependencies")
}

func (c *listCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(a *App) error {
		g, file, err := a.Pipeline.Load()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, name := range g.Order() {
			t, _ := g.Task(name)
			line := name + "\t" + t.Doc
			if c.deps {
				deps, _ := g.Dependencies(name)
				line += "\t" + strings.Join(deps, ", ")
			}
			fmt.Fprintln(tw, line)
		}
		if len(file.Default) > 0 {
			fmt.Fprintf(tw, "\ndefault: %s\n", strings.Join(file.Default, ", "))
		}
		return tw.Flush()
	})
}

type forgetCmd struct{}

func (*forgetCmd) Name() string           { return "forget" }
func (*forgetCmd) Synopsis() string       { return "clear recorded task state" }
func (*forgetCmd) SetFlags(*flag.FlagSet) {}
func (*forgetCmd) Usage() string {
	return `forget [task...]:
  Forget the recorded state of the named tasks (all when none) so they run next time.
`
}

func (*forgetCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(a *App) error {
		g, _, err := a.Pipeline.Load()
		if err != nil {
			return err
		}
		names := stringArgs(f)
		if err := task.Forget(ctx, g, a.Store, names...); err != nil {
			return err
		}
		slog.Info("forgot task state", "tasks", names)
		return nil
	})
}

type cleanCmd struct{}

func (*cleanCmd) Name() string           { return "clean" }
func (*cleanCmd) Synopsis() string       { return "remove task targets" }
func (*cleanCmd) SetFlags(*flag.FlagSet) {}
func (*cleanCmd) Usage() string {
	return `clean [task...]:
  Remove the targets of the named tasks (all when none) that declare clean = true.
`
}

func (*cleanCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(a *App) error {
		g, _, err := a.Pipeline.Load()
		if err != nil {
			return err
		}
		removed, err := task.Clean(ctx, g, a.Store, stringArgs(f)...)
		for _, p := range removed {
			fmt.Println(p)
		}
		return err
	})
}

type fetchCmd struct {
	entities string
	start    string
	end      string
}

func (*fetchCmd) Name() string     { return "fetch" }
func (*fetchCmd) Synopsis() string { return "fetch prices through the adapter and print a summary" }
func (*fetchCmd) Usage() string {
	return `fetch [-entities A,B] [-start YYYY-MM-DD] [-end YYYY-MM-DD]:
  Fetch without writing files; shows which tier served each entity.
`
}

func (c *fetchCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.entities, "entities", "", "comma separated tickers (default configured entities)")
	f.StringVar(&c.start, "start", "", "start date (default START_DATE)")
	f.StringVar(&c.end, "end", "", "end date (default END_DATE or yesterday)")
}

func (c *fetchCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(a *App) error {
		cfg := *a.Config
		if c.start != "" {
			cfg.StartDate = c.start
		}
		if c.end != "" {
			cfg.EndDate = c.end
		}
		if c.entities != "" {
			cfg.Entities, cfg.EntitiesFile = strings.Split(c.entities, ","), ""
		}
		r, err := cfg.DateRange(time.Now())
		if err != nil {
			return err
		}
		entities, err := cfg.ResolveEntities()
		if err != nil {
			return err
		}
		ds, err := a.Adapter.Fetch(ctx, entities, r)
		if err != nil {
			return err
		}
		printDataset(ds)
		return nil
	})
}

func printDataset(ds *model.Dataset) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY\tTIER\tROWS\tFIRST\tLAST")
	by := ds.ByEntity()
	for _, e := range ds.Entities() {
		rows := by[e]
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", e, ds.EntityProvenance[e], len(rows),
			rows[0].Date.Format(model.DateLayout), rows[len(rows)-1].Date.Format(model.DateLayout))
	}
	tw.Flush()
	fmt.Printf("\nprovenance: %s  range: %s  rows: %d", ds.Provenance, ds.Range, ds.Len())
	if ds.Substituted {
		fmt.Printf("  (substituted sample entities for %s)", strings.Join(ds.Requested, ","))
	}
	fmt.Println()
}

type serveCmd struct {
	addr string
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "serve the excerpt as a read-only JSON API" }
func (*serveCmd) Usage() string {
	return `serve [-addr :8080]:
  Serve /api/metadata, /api/prices, /api/entities, /healthz and /metrics.
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.addr, "addr", "", "listen address (default SERVE_ADDR)")
}

func (c *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(a *App) error {
		cfg := a.Config
		r, err := cfg.DateRange(time.Now())
		if err != nil {
			return err
		}
		addr := c.addr
		if addr == "" {
			addr = cfg.ServeAddr
		}
		srv := serve.New(serve.Options{
			Paths: excerpt.Paths{
				CSV:      cfg.ExcerptCSVPath(),
				Parquet:  cfg.ExcerptParquetPath(),
				Metadata: cfg.MetadataPath(),
			},
			Fallback: a.Adapter,
			Range:    r,
			Logger:   a.Logger,
		})
		return srv.Run(ctx, addr)
	})
}

type infoCmd struct{}

func (*infoCmd) Name() string           { return "info" }
func (*infoCmd) Synopsis() string       { return "show configuration and the last excerpt" }
func (*infoCmd) SetFlags(*flag.FlagSet) {}
func (*infoCmd) Usage() string {
	return `info:
  Print the effective configuration and the metadata of the last excerpt.
`
}

func (*infoCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(a *App) error {
		cfg := a.Config
		r, err := cfg.DateRange(time.Now())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "tiers\t%s\n", strings.Join(a.Adapter.Tiers(), " -> "))
		fmt.Fprintf(tw, "entities\t%s\n", strings.Join(provider.NormalizeEntities(cfg.Entities), ", "))
		if cfg.EntitiesFile != "" {
			fmt.Fprintf(tw, "entities file\t%s\n", cfg.EntitiesFile)
		}
		fmt.Fprintf(tw, "range\t%s\n", r)
		fmt.Fprintf(tw, "data dir\t%s\n", cfg.DataDir)
		fmt.Fprintf(tw, "task file\t%s\n", cfg.TaskFile)
		fmt.Fprintf(tw, "state\t%s\n", cfg.StateBackend)
		fmt.Fprintf(tw, "workers\t%d\n", cfg.Workers)

		if meta, err := excerpt.ReadMetadata(cfg.MetadataPath()); err == nil {
			fmt.Fprintf(tw, "\nlast excerpt\t%s\n", meta.GeneratedAt.Format(time.RFC3339))
			fmt.Fprintf(tw, "provenance\t%s\n", meta.Provenance)
			fmt.Fprintf(tw, "rows\t%d (%s..%s)\n", meta.Rows, meta.MinDate, meta.MaxDate)
			fmt.Fprintf(tw, "excerpt entities\t%s\n", strings.Join(meta.EntityIDs, ", "))
			fmt.Fprintf(tw, "checksum\t%s\n", meta.Checksum)
		} else {
			fmt.Fprintf(tw, "\nlast excerpt\tnone\n")
		}
		return tw.Flush()
	})
}
