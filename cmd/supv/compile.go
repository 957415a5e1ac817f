package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"supervisory/internal/app"
	"supervisory/internal/config"
	"supervisory/internal/registry"
	"supervisory/internal/render"
	"supervisory/internal/schema"
)

func (c *cli) validateCmd() *cobra.Command {
	var strict, showDiff bool
	cmd := &cobra.Command{
		Use:   "validate [path...]",
		Short: "Validate skill definitions",
		Long: `Validate checks each skill.yml against its declared schema version: structure,
cross references between steps, activities and control points, and policy
warnings. Paths may be files or directories; directories are searched
recursively. With no path the configured registry root is used.

--strict additionally requires SKILL.md to match what render would produce
now, checks referenced shared capabilities and scripts exist, and treats
warnings as failures.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := c.options()
			cfg, err := app.ResolveConfig(opts)
			if err != nil {
				return err
			}
			files, err := definitionFiles(cfg, opts.Workspace, args)
			if err != nil {
				return err
			}
			vopts := c.schemaOptions(cfg, opts.Workspace)
			vopts.Strict = strict
			var results []schema.Result
			failed := 0
			for _, f := range files {
				_, res, err := schema.ValidateFile(f, vopts)
				if err != nil {
					return err
				}
				if !res.OK(strict) {
					failed++
				}
				results = append(results, res)
			}
			if err := c.printJSONOrText(map[string]any{"ok": failed == 0, "strict": strict, "results": results}, func(w io.Writer) {
				printResults(w, results, strict, showDiff)
				fmt.Fprintf(w, "%d definition(s) checked, %d failed\n", len(results), failed)
			}); err != nil {
				return err
			}
			if failed > 0 {
				return errFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "check SKILL.md freshness and referenced artifacts; warnings fail")
	cmd.Flags().BoolVar(&showDiff, "diff", false, "print the SKILL.md diff for stale documents")
	return cmd
}

func (c *cli) renderCmd() *cobra.Command {
	var check, force bool
	cmd := &cobra.Command{
		Use:   "render [path...]",
		Short: "Compile skill definitions into SKILL.md",
		Long: `Render writes SKILL.md next to each skill.yml. Definitions with schema errors
are refused unless --force is given. With --check nothing is written and the
command fails if any stored SKILL.md differs from a fresh render.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := c.options()
			cfg, err := app.ResolveConfig(opts)
			if err != nil {
				return err
			}
			files, err := definitionFiles(cfg, opts.Workspace, args)
			if err != nil {
				return err
			}
			vopts := c.schemaOptions(cfg, opts.Workspace)
			type outcome struct {
				File   string `json:"file"`
				Status string `json:"status"`
				Diff   string `json:"diff,omitempty"`
				Error  string `json:"error,omitempty"`
			}
			var outcomes []outcome
			failed := 0
			for _, f := range files {
				o := outcome{File: f}
				def, res, err := schema.ValidateFile(f, vopts)
				switch {
				case err != nil:
					return err
				case def == nil || (len(res.Errors) > 0 && !force):
					o.Status = "invalid"
					o.Error = res.Err(false).Error()
				case check:
					dir := filepath.Dir(f)
					fresh := render.Render(def)
					stored, err := os.ReadFile(filepath.Join(dir, render.FileName))
					switch {
					case errors.Is(err, fs.ErrNotExist):
						o.Status = "missing"
					case err != nil:
						return err
					case string(stored) != fresh:
						o.Status = "stale"
						o.Diff = render.Diff(string(stored), fresh)
					default:
						o.Status = "fresh"
					}
				default:
					path, err := render.WriteFile(filepath.Dir(f), def)
					if err != nil {
						return err
					}
					o.File, o.Status = path, "rendered"
				}
				if o.Status != "fresh" && o.Status != "rendered" {
					failed++
				}
				outcomes = append(outcomes, o)
			}
			if err := c.printJSONOrText(outcomes, func(w io.Writer) {
				for _, o := range outcomes {
					fmt.Fprintf(w, "%-8s %s\n", o.Status, o.File)
					if o.Error != "" {
						fmt.Fprintln(w, indent(o.Error, "  "))
					}
					if o.Diff != "" {
						fmt.Fprint(w, indent(o.Diff, "  "))
					}
				}
			}); err != nil {
				return err
			}
			if failed > 0 {
				return errFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "report stale or missing SKILL.md without writing")
	cmd.Flags().BoolVar(&force, "force", false, "render even when the definition has schema errors")
	return cmd
}

func (c *cli) versionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema-versions",
		Short: "List supported schema versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			versions := schema.Default()
			var all []schema.Version
			for _, tag := range versions.Tags() {
				v, _ := versions.Lookup(tag)
				all = append(all, v)
			}
			return c.printJSONOrText(all, func(w io.Writer) {
				tw := table.NewWriter()
				tw.SetOutputMirror(w)
				tw.AppendHeader(table.Row{"Version", "Step uses/script", "Control point scripts"})
				for _, v := range all {
					tw.AppendRow(table.Row{v.Tag, v.StepExtensions, v.ControlPointScripts})
				}
				tw.Render()
			})
		},
	}
}

func (c *cli) schemaOptions(cfg *config.Config, workspace string) schema.Options {
	opts := schema.Options{Versions: schema.Default()}
	// Without an explicit setting each definition finds shared/ relative to
	// its own registry root.
	if cfg.Registry.Shared != "" {
		opts.SharedDir = cfg.SharedDir(workspace)
	}
	return opts
}

// definitionFiles expands paths into skill.yml files. Directories are
// searched recursively; no path means the registry root.
func definitionFiles(cfg *config.Config, workspace string, paths []string) ([]string, error) {
	if len(paths) == 0 {
		paths = []string{cfg.RegistryRoot(workspace)}
	}
	seen := map[string]bool{}
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			if !seen[p] {
				seen[p] = true
				files = append(files, p)
			}
			continue
		}
		matches, err := doublestar.Glob(os.DirFS(p), "**/"+registry.DefinitionFile)
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		for _, m := range matches {
			f := filepath.Join(p, filepath.FromSlash(m))
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no %s found under %s", registry.DefinitionFile, strings.Join(paths, ", "))
	}
	return files, nil
}

func printResults(w io.Writer, results []schema.Result, strict, showDiff bool) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"File", "Level", "Path", "Message"})
	var details []string
	for _, res := range results {
		if len(res.Errors) == 0 && len(res.Warnings) == 0 {
			tw.AppendRow(table.Row{res.File, "ok", "", ""})
			continue
		}
		for _, is := range res.Errors {
			tw.AppendRow(table.Row{res.File, "error", is.Path, is.Message})
			if showDiff && is.Detail != "" {
				details = append(details, is.Detail)
			}
		}
		level := "warning"
		if strict {
			level = "warning!"
		}
		for _, is := range res.Warnings {
			tw.AppendRow(table.Row{res.File, level, is.Path, is.Message})
		}
	}
	tw.Render()
	for _, d := range details {
		fmt.Fprint(w, d)
	}
}

func indent(s, prefix string) string {
	lines := strings.SplitAfter(s, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "")
}
