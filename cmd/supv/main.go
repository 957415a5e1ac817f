package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"supervisory/internal/app"
	"supervisory/internal/config"
)

// errFailed signals a non-zero exit after the command already reported why.
var errFailed = errors.New("failed")

type cli struct {
	v    *viper.Viper
	root *cobra.Command
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newCLI().root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func newCLI() *cli {
	c := &cli{v: viper.New()}
	c.root = &cobra.Command{
		Use:   "supv",
		Short: "Supervisory skill governance compiler",
		Long: `supv validates supervisory procedure definitions (skill.yml), compiles them into
the SKILL.md instruction documents agents follow, and serves them to agents
under access control.

- Definition: a skill.yml owned by a business area, with its approved activities,
  control points, and workflow.
- Control point: a human oversight gate (vetoed, needs_approval, needs_review,
  notify, auto) wired to workflow steps or triggered by conditions.
- Registry: the directory tree of definitions; invalid ones are never served.
- Access: only approved skills, only to agents on the skill's allowlist.
- Audit log: every retrieval decision, view with 'supv log tail'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	c.initConfig()
	c.addPersistentFlags()
	c.registerCommands()
	return c
}

func (c *cli) initConfig() {
	c.v.SetEnvPrefix("SUPV")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()
}

func (c *cli) addPersistentFlags() {
	pf := c.root.PersistentFlags()
	pf.StringP("workspace", "w", ".", "workspace directory holding supervisory.yml")
	pf.Bool("json", false, "output JSON")
	pf.String("log-level", "", "log level override (debug, info, warn, error)")
	pf.String("log-format", "", "log format override (text, json)")
	pf.String("jwt-secret", "", "HS256 secret for bearer tokens (overrides config)")
	for _, name := range []string{"workspace", "json", "log-level", "log-format", "jwt-secret"} {
		_ = c.v.BindPFlag(name, pf.Lookup(name))
	}
}

func (c *cli) registerCommands() {
	c.root.AddCommand(c.validateCmd())
	c.root.AddCommand(c.renderCmd())
	c.root.AddCommand(c.listCmd())
	c.root.AddCommand(c.showCmd())
	c.root.AddCommand(c.instructionsCmd())
	c.root.AddCommand(c.exportCmd())
	c.root.AddCommand(c.versionsCmd())
	c.root.AddCommand(c.serveCmd())
	c.root.AddCommand(c.tokenCmd())
	c.root.AddCommand(c.logCmd())
	c.root.AddCommand(c.configCmd())
}

// --- helpers ---

func (c *cli) options() app.Options {
	return app.Options{
		Workspace: c.v.GetString("workspace"),
		LogLevel:  c.v.GetString("log-level"),
		LogFormat: c.v.GetString("log-format"),
		LogOutput: c.root.ErrOrStderr(),
	}
}

func (c *cli) withApp(ctx context.Context, opts app.Options, fn func(context.Context, *app.Context) error) error {
	a, err := app.Open(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func (c *cli) jwtSecret(cfg *config.Config) string {
	if s := c.v.GetString("jwt-secret"); s != "" {
		return s
	}
	return cfg.Server.Auth.JWTSecret
}

func (c *cli) out() io.Writer { return c.root.OutOrStdout() }

func (c *cli) printJSONOrText(v any, text func(io.Writer)) error {
	if c.v.GetBool("json") {
		return c.printJSON(v)
	}
	text(c.out())
	return nil
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
