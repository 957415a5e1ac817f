package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"supervisory/internal/app"
	"supervisory/internal/domain"
	"supervisory/internal/engine"
	"supervisory/internal/export"
	"supervisory/internal/registry"
)

func (c *cli) listCmd() *cobra.Command {
	var area, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List valid skills in the registry",
		Long:  "List shows every definition that passed validation, whatever its status or allowlist. Excluded definitions are logged as warnings.",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := c.options()
			opts.NoAudit = true
			return c.withApp(cmd.Context(), opts, func(ctx context.Context, a *app.Context) error {
				items := a.Engine.List(registry.Filter{Area: area, Status: domain.Status(status)})
				if items == nil {
					items = []domain.Summary{}
				}
				return c.printJSONOrText(items, func(w io.Writer) {
					tw := table.NewWriter()
					tw.SetOutputMirror(w)
					tw.AppendHeader(table.Row{"ID", "Version", "Status", "Risk", "Name"})
					for _, s := range items {
						tw.AppendRow(table.Row{s.ID, s.Version, s.Status, s.RiskClassification, s.Name})
					}
					stats := a.Registry.Stats()
					tw.AppendFooter(table.Row{fmt.Sprintf("%d indexed", stats.Indexed), "", "", "", fmt.Sprintf("%d excluded", stats.Excluded)})
					tw.Render()
				})
			})
		},
	}
	cmd.Flags().StringVar(&area, "area", "", "business area filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter (draft, approved, deprecated)")
	return cmd
}

// retrieval runs fn for an access-controlled read as agent.
func (c *cli) retrieval(cmd *cobra.Command, agent string, fn func(context.Context, engine.Engine) error) error {
	if agent == "" {
		return fmt.Errorf("--agent is required")
	}
	return c.withApp(cmd.Context(), c.options(), func(ctx context.Context, a *app.Context) error {
		return fn(ctx, a.Engine)
	})
}

func (c *cli) showCmd() *cobra.Command {
	var agent string
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a skill definition as an agent would receive it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.retrieval(cmd, agent, func(ctx context.Context, e engine.Engine) error {
				def, err := e.Get(ctx, args[0], agent)
				if err != nil {
					return err
				}
				if c.v.GetBool("json") {
					return c.printJSON(def)
				}
				enc := yaml.NewEncoder(c.out())
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(def)
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent identity to retrieve as")
	return cmd
}

func (c *cli) instructionsCmd() *cobra.Command {
	var agent string
	cmd := &cobra.Command{
		Use:   "instructions <id>",
		Short: "Print the SKILL.md instructions for a skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.retrieval(cmd, agent, func(ctx context.Context, e engine.Engine) error {
				doc, d, err := e.Instructions(ctx, args[0], agent)
				if err != nil {
					return err
				}
				if c.v.GetBool("json") {
					return c.printJSON(map[string]any{"decision_id": d.ID, "skill_id": args[0], "instructions": doc})
				}
				_, err = io.WriteString(c.out(), doc)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent identity to retrieve as")
	return cmd
}

func (c *cli) exportCmd() *cobra.Command {
	var agent, output string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a skill as " + export.Format + " JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.retrieval(cmd, agent, func(ctx context.Context, e engine.Engine) error {
				data, _, err := e.Export(ctx, args[0], agent)
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					_, err = c.out().Write(data)
					return err
				}
				if err := os.WriteFile(output, data, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(c.root.ErrOrStderr(), "exported %s to %s\n", args[0], output)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent identity to retrieve as")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}
