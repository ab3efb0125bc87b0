package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/maxz073/finm-dashboard/internal/excerpt"
	"github.com/maxz073/finm-dashboard/internal/model"
	"github.com/maxz073/finm-dashboard/internal/saver"
	"github.com/maxz073/finm-dashboard/internal/task"
	"github.com/maxz073/finm-dashboard/internal/taskfile"
)

// Fetcher is the part of the adapter the pull action needs.
type Fetcher interface {
	Fetch(ctx context.Context, entities []string, r model.DateRange) (*model.Dataset, error)
}

// Actions builds the action types a task file may use.
type Actions struct {
	Config  *Config
	Fetcher Fetcher
	Now     func() time.Time
}

// Registry returns the taskfile registry for pull, excerpt, cmd, mkdir and publish_dir.
func (a *Actions) Registry() taskfile.Registry {
	reg := taskfile.Registry{}
	taskfile.Register(reg, "pull", a.pull)
	taskfile.Register(reg, "excerpt", a.excerpt)
	taskfile.Register(reg, "cmd", buildCmd)
	taskfile.Register(reg, "mkdir", buildMkdir)
	taskfile.Register(reg, "publish_dir", buildPublish)
	return reg
}

func (a *Actions) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

type pullInput struct {
	Output   string   `hcl:"output"`
	Entities []string `hcl:"entities,optional"`
}

type pullAction struct {
	a  *Actions
	in pullInput
}

func (a *Actions) pull(in *pullInput) (task.Action, error) {
	if in.Output == "" {
		return nil, errors.New("output is required")
	}
	return &pullAction{a: a, in: *in}, nil
}

func (p *pullAction) String() string { return "pull -> " + p.in.Output }

// request resolves the entity list and date range as of now.
func (p *pullAction) request(now time.Time) ([]string, model.DateRange, error) {
	entities := p.in.Entities
	if len(entities) == 0 {
		var err error
		if entities, err = p.a.Config.ResolveEntities(); err != nil {
			return nil, model.DateRange{}, err
		}
	}
	r, err := p.a.Config.DateRange(now)
	if err != nil {
		return nil, model.DateRange{}, err
	}
	return entities, r, nil
}

// Key changes when the resolved range or entities do, so an open-ended
// range is pulled again once a new day has closed.
func (p *pullAction) Key() (string, error) {
	entities, r, err := p.request(p.a.now())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s", strings.Join(entities, ","), r), nil
}

func (p *pullAction) Run(ctx context.Context) error {
	now := p.a.now()
	entities, r, err := p.request(now)
	if err != nil {
		return err
	}
	ds, err := p.a.Fetcher.Fetch(ctx, entities, r)
	if err != nil {
		return err
	}
	if err := saver.WriteDataset(ds, p.in.Output, now); err != nil {
		return err
	}
	fmt.Fprintf(task.Output(ctx), "pulled %d observations for %d entities (%s) into %s\n",
		ds.Len(), len(ds.Entities()), ds.Provenance, p.in.Output)
	return nil
}

type excerptInput struct {
	Input       string   `hcl:"input"`
	CSV         string   `hcl:"csv"`
	Parquet     string   `hcl:"parquet"`
	Metadata    string   `hcl:"metadata"`
	MaxEntities *int     `hcl:"max_entities,optional"`
	Columns     []string `hcl:"columns,optional"`
}

type excerptAction struct {
	a  *Actions
	in excerptInput
}

func (a *Actions) excerpt(in *excerptInput) (task.Action, error) {
	if in.MaxEntities != nil && *in.MaxEntities < 0 {
		return nil, fmt.Errorf("max_entities must be >= 0")
	}
	if err := saver.ValidateColumns(in.Columns); err != nil {
		return nil, err
	}
	return &excerptAction{a: a, in: *in}, nil
}

func (e *excerptAction) String() string { return "excerpt " + e.in.Input }

func (e *excerptAction) Run(ctx context.Context) error {
	ds, err := saver.ReadDataset(e.in.Input)
	if err != nil {
		return err
	}
	cfg := e.a.Config
	spec := excerpt.Spec{MaxEntities: cfg.Excerpt.MaxEntities, Columns: cfg.Excerpt.Columns}
	if e.in.MaxEntities != nil {
		spec.MaxEntities = *e.in.MaxEntities
	}
	if e.in.Columns != nil {
		spec.Columns = e.in.Columns
	}
	if spec.Window, err = cfg.ExcerptWindow(); err != nil {
		return err
	}

	ex, meta, err := excerpt.Build(ds, spec, e.a.now())
	if err != nil {
		return err
	}
	paths := excerpt.Paths{CSV: e.in.CSV, Parquet: e.in.Parquet, Metadata: e.in.Metadata}
	if err := excerpt.Write(ex, meta, paths); err != nil {
		return err
	}
	fmt.Fprintf(task.Output(ctx), "excerpt: %d rows, %d entities, %s..%s, checksum %s\n",
		meta.Rows, meta.Entities, meta.MinDate, meta.MaxDate, meta.Checksum[:12])
	return nil
}

type cmdInput struct {
	Args []string `hcl:"args"`
	Dir  string   `hcl:"dir,optional"`
}

type cmdAction struct{ cmdInput }

func buildCmd(in *cmdInput) (task.Action, error) {
	if len(in.Args) == 0 || in.Args[0] == "" {
		return nil, errors.New("args must name a program")
	}
	return &cmdAction{*in}, nil
}

func (c *cmdAction) String() string { return strings.Join(c.Args, " ") }

func (c *cmdAction) Run(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
	cmd.Dir = c.Dir
	out := task.Output(ctx)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", c.Args[0], err)
	}
	return nil
}

type mkdirInput struct {
	Path string `hcl:"path"`
}

func buildMkdir(in *mkdirInput) (task.Action, error) {
	path := in.Path
	return task.Func{Name: "mkdir " + path, Fn: func(context.Context) error {
		return os.MkdirAll(path, 0755)
	}}, nil
}

type publishInput struct {
	Src string `hcl:"src"`
	Dst string `hcl:"dst"`
}

func buildPublish(in *publishInput) (task.Action, error) {
	if filepath.Clean(in.Src) == filepath.Clean(in.Dst) {
		return nil, errors.New("src and dst must differ")
	}
	src, dst := in.Src, in.Dst
	return task.Func{Name: "publish " + src + " -> " + dst, Fn: func(ctx context.Context) error {
		n, err := PublishDir(src, dst)
		if err != nil {
			return err
		}
		fmt.Fprintf(task.Output(ctx), "published %d files to %s\n", n, dst)
		return nil
	}}, nil
}

// PublishDir replaces the contents of dst with a copy of src, keeping a
// .gitignore already in dst, and writes an empty .nojekyll marker.
func PublishDir(src, dst string) (int, error) {
	if fi, err := os.Stat(src); err != nil {
		return 0, err
	} else if !fi.IsDir() {
		return 0, fmt.Errorf("%s is not a directory", src)
	}
	if err := os.MkdirAll(dst, 0755); err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(dst)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.Name() == ".gitignore" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dst, e.Name())); err != nil {
			return 0, err
		}
	}

	copied := 0
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if rel == ".gitignore" {
			if _, err := os.Stat(target); err == nil {
				return nil
			}
		}
		copied++
		return copyFile(path, target)
	})
	if err != nil {
		return copied, fmt.Errorf("publish %s: %w", src, err)
	}
	if err := os.WriteFile(filepath.Join(dst, ".nojekyll"), nil, 0644); err != nil {
		return copied, err
	}
	slog.Debug("published", "src", src, "dst", dst, "files", copied)
	return copied, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
