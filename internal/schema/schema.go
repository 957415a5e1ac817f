// Package schema validates skill definitions against their declared schema
// version and the cross-field rules a static schema cannot express.
//
// Validation never stops at the first problem. Every issue is collected into
// a Result so an author can fix a definition in one pass; the caller decides
// fatality through Result.Err.
package schema

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"supervisory/internal/domain"
)

// Issue is one locatable validation finding.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	// Detail carries supplementary text such as a staleness diff.
	Detail string `json:"detail,omitempty"`
}

func (i Issue) String() string {
	return fmt.Sprintf("[%s] %s", i.Path, i.Message)
}

// Result separates blocking errors from informational warnings.
type Result struct {
	// File is the definition path when known.
	File     string  `json:"file,omitempty"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// OK reports whether the definition is usable. Under strict treatment
// warnings count as errors.
func (r Result) OK(strict bool) bool {
	if strict {
		return len(r.Errors) == 0 && len(r.Warnings) == 0
	}
	return len(r.Errors) == 0
}

// Err folds the blocking issues into a single error, or returns nil.
func (r Result) Err(strict bool) error {
	if r.OK(strict) {
		return nil
	}
	issues := append([]Issue(nil), r.Errors...)
	if strict {
		issues = append(issues, r.Warnings...)
	}
	return &Error{File: r.File, Issues: issues}
}

func (r *Result) errorf(path, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) warnf(path, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) sort() {
	less := func(s []Issue) func(i, j int) bool {
		return func(i, j int) bool {
			if s[i].Path != s[j].Path {
				return s[i].Path < s[j].Path
			}
			return s[i].Message < s[j].Message
		}
	}
	sort.SliceStable(r.Errors, less(r.Errors))
	sort.SliceStable(r.Warnings, less(r.Warnings))
}

// Error is returned by Result.Err.
type Error struct {
	File   string
	Issues []Issue
}

func (e *Error) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		msgs[i] = is.String()
	}
	if e.File == "" {
		return "invalid definition: " + strings.Join(msgs, "; ")
	}
	return e.File + ": " + strings.Join(msgs, "; ")
}

// Options controls a validation run.
type Options struct {
	// Versions is the schema registry; nil means Default().
	Versions *Versions
	// Strict enables the staleness and artifact consistency checks.
	Strict bool
	// Dir is the definition's directory. Required for strict checks.
	Dir string
	// SharedDir is the shared capability namespace. Defaults to the
	// "shared" directory at the registry root two levels above Dir.
	SharedDir string
}

func (o Options) sharedDir() string {
	if o.SharedDir != "" {
		return o.SharedDir
	}
	if o.Dir == "" {
		return ""
	}
	return filepath.Join(o.Dir, "..", "..", "shared")
}

// Validate checks def and returns every issue found. A nil definition
// yields a single error.
func Validate(def *domain.Definition, opts Options) (res Result) {
	defer res.sort()

	if def == nil {
		res.errorf("root", "definition is empty")
		return res
	}
	versions := opts.Versions
	if versions == nil {
		versions = Default()
	}
	tag := def.Metadata.SchemaVersion
	if tag == "" {
		res.errorf("metadata.schema_version", "schema_version is required (supported: %s)", strings.Join(versions.Tags(), ", "))
		return res
	}
	ver, ok := versions.Lookup(tag)
	if !ok {
		res.errorf("metadata.schema_version", "unsupported schema_version %q (supported: %s)", tag, strings.Join(versions.Tags(), ", "))
		return res
	}

	checkStructure(&res, def, ver)
	checkReferences(&res, def)
	checkPolicy(&res, def)
	if opts.Strict {
		checkStrict(&res, def, opts)
	}
	return res
}

// ValidateFile parses and validates a definition file. When opts.Dir is
// empty it defaults to the file's directory. Parse problems are returned
// in the Result; only I/O failures produce an error.
func ValidateFile(path string, opts Options) (*domain.Definition, Result, error) {
	def, issues, err := ParseFile(path)
	if err != nil {
		return nil, Result{}, err
	}
	if opts.Dir == "" {
		opts.Dir = filepath.Dir(path)
	}
	var res Result
	if def != nil {
		if len(issues) > 0 {
			// Staleness of a half-decoded definition is meaningless.
			opts.Strict = false
		}
		res = Validate(def, opts)
	}
	res.Errors = append(res.Errors, issues...)
	res.sort()
	res.File = path
	return def, res, nil
}
