// Package task runs a declared graph of tasks, skipping those whose inputs
// and outputs are unchanged since their last successful run.
package task

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrTaskFailed wraps the error returned by Executor.Run when any task failed.
	ErrTaskFailed = errors.New("task failed")
	// ErrUpstreamFailed is recorded on tasks that were not run because a dependency failed.
	ErrUpstreamFailed = errors.New("upstream task failed")
	// ErrCycle is returned by NewGraph when dependencies form a loop.
	ErrCycle = errors.New("dependency cycle")
	// ErrMissingDep is recorded when a declared file dependency does not exist.
	ErrMissingDep = errors.New("file dependency missing")
	// ErrUnknownTask is returned when a selected task name is not declared.
	ErrUnknownTask = errors.New("unknown task")
)

// Action is one step of a task.
type Action interface {
	Run(ctx context.Context) error
	String() string
}

// Keyed is implemented by actions whose result depends on values other
// than their file dependencies, such as a date range resolved at run time.
// A task reruns when the combined key of its actions changes.
type Keyed interface {
	Key() (string, error)
}

// Func adapts a function to Action.
type Func struct {
	Name string
	Fn   func(ctx context.Context) error
}

func (f Func) Run(ctx context.Context) error { return f.Fn(ctx) }
func (f Func) String() string                { return f.Name }

// Task is a named unit of work with declared inputs and outputs.
type Task struct {
	Name     string
	Doc      string
	FileDeps []string
	Targets  []string
	TaskDeps []string
	Actions  []Action
	Clean    bool // Clean may remove Targets
}

// State is the lifecycle position of a task within one run.
type State int32

const (
	Pending State = iota
	Running
	UpToDate
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Running:
		return "RUNNING"
	case UpToDate:
		return "UP_TO_DATE"
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type outputKey struct{}

// WithOutput attaches the writer actions should send their output to.
func WithOutput(ctx context.Context, w io.Writer) context.Context {
	return context.WithValue(ctx, outputKey{}, w)
}

// Output returns the writer attached by the executor, or io.Discard.
func Output(ctx context.Context) io.Writer {
	if w, ok := ctx.Value(outputKey{}).(io.Writer); ok {
		return w
	}
	return io.Discard
}
