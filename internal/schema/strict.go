package schema

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"supervisory/internal/domain"
	"supervisory/internal/render"
)

const (
	contactsPattern    = "contacts.{md,yml,yaml,txt}"
	regulationsPattern = "regulations.{md,yml,yaml,txt}"
	scriptPattern      = "**/*.{py,sh,bash,js,ts,rb,pl,ps1,go}"
	sharedPrefix       = "shared/"
)

func checkStrict(res *Result, def *domain.Definition, opts Options) {
	if opts.Dir == "" {
		res.errorf(render.FileName, "strict validation needs the definition directory")
		return
	}
	fsys := os.DirFS(opts.Dir)
	checkStaleness(res, def, opts.Dir)
	checkContacts(res, def, fsys)
	checkRegulations(res, def, fsys)
	checkShared(res, def, opts.sharedDir())
	checkScripts(res, def, fsys)
}

func checkStaleness(res *Result, def *domain.Definition, dir string) {
	stored, err := os.ReadFile(filepath.Join(dir, render.FileName))
	if errors.Is(err, fs.ErrNotExist) {
		res.errorf(render.FileName, "%s not found; run `supv render %s` to generate it", render.FileName, def.Metadata.ID)
		return
	}
	if err != nil {
		res.errorf(render.FileName, "read %s: %v", render.FileName, err)
		return
	}
	diff := render.Diff(string(stored), render.Render(def))
	if diff == "" {
		return
	}
	res.Errors = append(res.Errors, Issue{
		Path:    render.FileName,
		Message: fmt.Sprintf("%s is stale; run `supv render %s` to regenerate it", render.FileName, def.Metadata.ID),
		Detail:  diff,
	})
}

// referenceFile returns the contents of the first file matching pattern, or
// ok=false when none exists.
func referenceFile(fsys fs.FS, pattern string) (name, text string, ok bool) {
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil || len(matches) == 0 {
		return "", "", false
	}
	sort.Strings(matches)
	data, err := fs.ReadFile(fsys, matches[0])
	if err != nil {
		return "", "", false
	}
	return matches[0], string(data), true
}

func checkContacts(res *Result, def *domain.Definition, fsys fs.FS) {
	name, text, ok := referenceFile(fsys, contactsPattern)
	if !ok {
		return
	}
	for i, cp := range def.ControlPoints {
		c := strings.TrimSpace(cp.EscalationContact)
		if c == "" || strings.Contains(text, c) {
			continue
		}
		res.warnf(cpPath(i, "escalation_contact"), "escalation contact %q does not appear in %s", c, name)
	}
}

func checkRegulations(res *Result, def *domain.Definition, fsys fs.FS) {
	name, text, ok := referenceFile(fsys, regulationsPattern)
	if !ok {
		return
	}
	lower := strings.ToLower(text)
	for i, reg := range def.Context.ApplicableRegulations {
		r := strings.TrimSpace(reg)
		if r == "" || strings.Contains(lower, strings.ToLower(r)) {
			continue
		}
		res.warnf(fmt.Sprintf("context.applicable_regulations[%d]", i), "regulation %q does not appear in %s", r, name)
	}
}

func checkShared(res *Result, def *domain.Definition, sharedDir string) {
	for i, step := range def.Workflow.Steps {
		if step.Uses == "" {
			continue
		}
		name, ok := strings.CutPrefix(step.Uses, sharedPrefix)
		if !ok || name == "" || strings.Contains(name, "/") || name == ".." {
			res.errorf(stepPath(i, "uses"), "step %d: uses %q must name a shared capability as shared/<name>", i, step.Uses)
			continue
		}
		info, err := os.Stat(filepath.Join(sharedDir, name))
		if err != nil || !info.IsDir() {
			res.errorf(stepPath(i, "uses"), "step %d: shared capability %q does not exist", i, step.Uses)
		}
	}
}

func checkScripts(res *Result, def *domain.Definition, fsys fs.FS) {
	matches, err := doublestar.Glob(fsys, scriptPattern)
	if err != nil {
		res.errorf("scripts", "scan scripts: %v", err)
		return
	}
	referenced := map[string]bool{}
	ref := func(at, script string) {
		if script == "" {
			return
		}
		p := path.Clean(filepath.ToSlash(script))
		referenced[p] = true
		if _, err := fs.Stat(fsys, p); err != nil {
			res.errorf(at, "script %s does not exist in the definition directory", script)
		}
	}
	for i, step := range def.Workflow.Steps {
		ref(stepPath(i, "script"), step.Script)
	}
	for i, cp := range def.ControlPoints {
		ref(cpPath(i, "script"), cp.Script)
	}
	sort.Strings(matches)
	for _, m := range matches {
		if !referenced[m] {
			res.warnf("scripts", "%s is not referenced by any workflow step or control point", m)
		}
	}
}
