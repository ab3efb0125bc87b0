// Package taskfile loads task declarations from HCL.
//
//	task "create_excerpt" {
//	  doc      = "Dashboard excerpt"
//	  file_dep = ["${var.data_dir}/prices_raw.parquet"]
//	  targets  = ["${var.data_dir}/price_excerpt.csv"]
//	  clean    = true
//	  action "excerpt" {
//	    input = "${var.data_dir}/prices_raw.parquet"
//	    csv   = "${var.data_dir}/price_excerpt.csv"
//	  }
//	}
package taskfile

import (
	"fmt"
	"os"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/maxz073/finm-dashboard/internal/task"
)

// DefaultFile is looked up in the working directory.
const DefaultFile = "dodo.hcl"

// fileRoot is used to decode all top-level blocks from the file. Unknown
// blocks and attributes are decode errors.
type fileRoot struct {
	Default []string     `hcl:"default,optional"`
	Tasks   []*taskBlock `hcl:"task,block"`
}

type taskBlock struct {
	Name     string         `hcl:"name,label"`
	Doc      string         `hcl:"doc,optional"`
	FileDeps []string       `hcl:"file_dep,optional"`
	Targets  []string       `hcl:"targets,optional"`
	TaskDeps []string       `hcl:"task_dep,optional"`
	Clean    bool           `hcl:"clean,optional"`
	Actions  []*actionBlock `hcl:"action,block"`
}

type actionBlock struct {
	Type string   `hcl:"type,label"`
	Body hcl.Body `hcl:",remain"`
}

// File is a loaded task file.
type File struct {
	Tasks   []*task.Task
	Default []string // tasks run when none are named
}

// Builder decodes one action block into an Action.
type Builder func(body hcl.Body, ctx *hcl.EvalContext) (task.Action, hcl.Diagnostics)

// Registry maps action types to builders.
type Registry map[string]Builder

// Register adds an action type whose block decodes into T.
func Register[T any](r Registry, typ string, build func(in *T) (task.Action, error)) {
	r[typ] = func(body hcl.Body, ctx *hcl.EvalContext) (task.Action, hcl.Diagnostics) {
		in := new(T)
		if diags := gohcl.DecodeBody(body, ctx, in); diags.HasErrors() {
			return nil, diags
		}
		a, err := build(in)
		if err != nil {
			return nil, hcl.Diagnostics{{
				Severity: hcl.DiagError,
				Summary:  fmt.Sprintf("Invalid %q action", typ),
				Detail:   err.Error(),
			}}
		}
		return a, nil
	}
}

// Types lists the registered action types.
func (r Registry) Types() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// EvalContext exposes vars as the `var` object plus a few string functions
// and fileset.
func EvalContext(vars map[string]string) *hcl.EvalContext {
	obj := make(map[string]cty.Value, len(vars))
	for k, v := range vars {
		obj[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"var": cty.ObjectVal(obj)},
		Functions: map[string]function.Function{
			"upper":   stdlib.UpperFunc,
			"lower":   stdlib.LowerFunc,
			"join":    stdlib.JoinFunc,
			"format":  stdlib.FormatFunc,
			"concat":  stdlib.ConcatFunc,
			"fileset": FilesetFunc,
		},
	}
}

// Load parses path.
func Load(path string, vars map[string]string, reg Registry) (*File, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	return Parse(src, path, vars, reg)
}

// Parse decodes HCL source. filename is used in diagnostics only.
func Parse(src []byte, filename string, vars map[string]string, reg Registry) (*File, error) {
	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}

	ctx := EvalContext(vars)
	var root fileRoot
	if diags := gohcl.DecodeBody(hclFile.Body, ctx, &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}
	out := &File{Default: root.Default}
	for _, tb := range root.Tasks {
		t := &task.Task{
			Name:     tb.Name,
			Doc:      tb.Doc,
			FileDeps: tb.FileDeps,
			Targets:  tb.Targets,
			TaskDeps: tb.TaskDeps,
			Clean:    tb.Clean,
		}
		for _, ab := range tb.Actions {
			build, ok := reg[ab.Type]
			if !ok {
				return nil, fmt.Errorf("task %q: unknown action type %q (known: %v)", tb.Name, ab.Type, reg.Types())
			}
			a, diags := build(ab.Body, ctx)
			if diags.HasErrors() {
				return nil, fmt.Errorf("task %q: %w", tb.Name, diags)
			}
			t.Actions = append(t.Actions, a)
		}
		out.Tasks = append(out.Tasks, t)
	}
	return out, nil
}
