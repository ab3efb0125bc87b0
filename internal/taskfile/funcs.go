package taskfile

import (
	"errors"
	"io/fs"
	"path/filepath"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// FilesetFunc lists the regular files under a directory, recursively and in
// lexical order. A missing directory yields an empty list.
var FilesetFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "dir", Type: cty.String}},
	Type:   function.StaticReturnType(cty.List(cty.String)),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		files, err := fileset(args[0].AsString())
		if err != nil {
			return cty.NilVal, err
		}
		if len(files) == 0 {
			return cty.ListValEmpty(cty.String), nil
		}
		vals := make([]cty.Value, len(files))
		for i, f := range files {
			vals[i] = cty.StringVal(f)
		}
		return cty.ListVal(vals), nil
	},
})

func fileset(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if d.Type().IsRegular() {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}
