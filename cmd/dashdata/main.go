package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"

	"github.com/maxz073/finm-dashboard/internal/app"
	"github.com/maxz073/finm-dashboard/internal/provider"
	"github.com/maxz073/finm-dashboard/internal/slogx"
	"github.com/maxz073/finm-dashboard/internal/task"
)

// App holds application dependencies built by Wire.
type App struct {
	Config   *app.Config
	Logger   *slog.Logger
	Adapter  *provider.Adapter
	Store    task.StateStore
	Pipeline *app.Pipeline
}

func init() {
	slog.SetDefault(slogx.NewDefault("info"))
}

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&runCmd{}, "pipeline")
	subcommands.Register(&listCmd{}, "pipeline")
	subcommands.Register(&forgetCmd{}, "pipeline")
	subcommands.Register(&cleanCmd{}, "pipeline")
	subcommands.Register(&fetchCmd{}, "data")
	subcommands.Register(&serveCmd{}, "data")
	subcommands.Register(&infoCmd{}, "data")

	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	status := subcommands.Execute(ctx)
	stop()
	os.Exit(int(status))
}

// withApp initializes the dependencies, runs fn and maps its error to an exit status.
func withApp(ctx context.Context, fn func(a *App) error) subcommands.ExitStatus {
	a, cleanup, err := InitializeApp(ctx)
	if err != nil {
		slog.Error("failed to initialize app", "error", err)
		return subcommands.ExitFailure
	}
	defer cleanup()
	if err := fn(a); err != nil {
		return exitStatus(err)
	}
	return subcommands.ExitSuccess
}
