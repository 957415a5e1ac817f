package registry

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"supervisory/internal/domain"
	"supervisory/internal/schema"
)

// DefinitionFile is the file name the scan looks for.
const DefinitionFile = "skill.yml"

// Entry is one indexed definition.
type Entry struct {
	Definition *domain.Definition
	// Path is the definition file, Dir its directory.
	Path     string
	Dir      string
	Warnings []schema.Issue
}

// Outcome is the result of loading one candidate file: either Entry is set
// (indexed) or Reason explains the exclusion.
type Outcome struct {
	Path   string
	Entry  *Entry
	Reason string
}

func (o Outcome) Indexed() bool { return o.Entry != nil }

func indexed(e *Entry) Outcome { return Outcome{Path: e.Path, Entry: e} }

func excluded(path, format string, args ...any) Outcome {
	return Outcome{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// Scan finds every skill.yml under root, in sorted path order, and
// validates each one. Files are independent so they are processed in
// parallel; the returned outcomes keep the sorted order. Only a failure to
// walk root or a cancelled context is returned as an error.
func Scan(ctx context.Context, root string, opts Options) ([]Outcome, error) {
	matches, err := doublestar.Glob(os.DirFS(root), "**/"+DefinitionFile)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	sort.Strings(matches)

	limit := opts.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	out := make([]Outcome, len(matches))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, rel := range matches {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = loadOne(root, rel, opts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func loadOne(root, rel string, opts Options) Outcome {
	file := filepath.Join(root, filepath.FromSlash(rel))
	def, res, err := schema.ValidateFile(file, schema.Options{
		Versions:  opts.Versions,
		SharedDir: opts.SharedDir,
	})
	if err != nil {
		return excluded(file, "%v", err)
	}
	if !res.OK(false) {
		return excluded(file, "%d schema error(s), first: %s", len(res.Errors), res.Errors[0])
	}
	if want := path.Dir(rel); def.Metadata.ID != want {
		return excluded(file, "id %q does not match its location %q", def.Metadata.ID, want)
	}
	return indexed(&Entry{
		Definition: def,
		Path:       file,
		Dir:        filepath.Dir(file),
		Warnings:   res.Warnings,
	})
}
