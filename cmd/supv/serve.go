package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"supervisory/internal/app"
	"supervisory/internal/config"
	"supervisory/internal/repo"
	"supervisory/internal/server"
)

func (c *cli) serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the skill retrieval API",
		Long:  "Serve exposes the registry over HTTP. SIGHUP rescans the registry root without a restart.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), c.options(), func(ctx context.Context, a *app.Context) error {
				cfg := a.Config
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret:        c.jwtSecret(cfg),
					AllowAgentHeader: cfg.Server.Auth.AllowAgentHeader,
					DevLogin:         cfg.Server.Auth.DevLogin,
					TokenTTL:         time.Duration(cfg.Server.Auth.TokenTTLHours) * time.Hour,
					Logger:           a.Logger,
				}
				if authCfg.JWTSecret == "" && !authCfg.AllowAgentHeader {
					return fmt.Errorf("a JWT secret is required (server.auth.jwt_secret or SUPV_JWT_SECRET)")
				}
				handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath, Auth: authCfg, Logger: a.Logger})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(sctx)
				})
				if d := server.NewDispatcher(repo.Repo{DB: a.DB}, cfg.Webhooks, a.Logger); d != nil {
					g.Go(func() error {
						d.Run(gctx)
						return nil
					})
				}
				g.Go(func() error {
					reloadOnHangup(gctx, a)
					return nil
				})

				a.Logger.Info("serving skill API", "addr", addr, "base_path", basePath, "audit", a.Engine.Audited(), "skills", a.Registry.Len())
				fmt.Fprintf(c.root.ErrOrStderr(), "Serving supervisory API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

func reloadOnHangup(ctx context.Context, a *app.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if _, err := a.Engine.Reload(ctx, "sighup"); err != nil {
				a.Logger.Error("registry reload failed", "err", err)
			}
		}
	}
}

func (c *cli) tokenCmd() *cobra.Command {
	var agent string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(c.options())
			if err != nil {
				return err
			}
			if ttl == 0 {
				ttl = time.Duration(cfg.Server.Auth.TokenTTLHours) * time.Hour
			}
			if ttl <= 0 {
				ttl = 24 * time.Hour
			}
			now := time.Now()
			token, err := server.SignToken(c.jwtSecret(cfg), agent, ttl, now)
			if err != nil {
				return err
			}
			return c.printJSONOrText(map[string]any{"agent_id": agent, "token": token, "expires_at": now.Add(ttl).UTC().Format(time.RFC3339)}, func(w io.Writer) {
				fmt.Fprintln(w, token)
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent identity (token subject)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default from config)")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func (c *cli) logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Audit log",
		Long:  "Every retrieval decision: grants, denials with their reason, unknown ids, and registry reloads.",
	}
	log.AddCommand(c.logTailCmd())
	return log
}

func (c *cli) logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := c.options()
			opts.SkipRegistry = true
			return c.withApp(cmd.Context(), opts, func(ctx context.Context, a *app.Context) error {
				if err := a.RequireAudit(); err != nil {
					return err
				}
				events, err := a.Engine.RecentEvents(ctx, n, f)
				if err != nil {
					return err
				}
				return c.printJSONOrText(events, func(w io.Writer) {
					tw := table.NewWriter()
					tw.SetOutputMirror(w)
					tw.AppendHeader(table.Row{"ID", "Time", "Type", "Skill", "Caller", "Outcome", "Decision"})
					for _, e := range events {
						tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.SkillID, e.Caller, e.Outcome, e.DecisionID})
					}
					tw.Render()
				})
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.SkillID, "skill", "", "skill id filter")
	cmd.Flags().StringVar(&f.Caller, "caller", "", "caller filter")
	cmd.Flags().StringVar(&f.Outcome, "outcome", "", "outcome filter")
	return cmd
}

func (c *cli) configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "supervisory.yml sets the registry root, logging, audit, server auth and webhooks. Missing files fall back to defaults.",
	}
	cfg.AddCommand(c.configShowCmd())
	cfg.AddCommand(c.configInitCmd())
	cfg.AddCommand(c.configValidateCmd())
	return cfg
}

func (c *cli) configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the resolved config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(c.options())
			if err != nil {
				return err
			}
			shown := *cfg
			if shown.Server.Auth.JWTSecret != "" {
				shown.Server.Auth.JWTSecret = "********"
			}
			if c.v.GetBool("json") {
				return c.printJSON(shown)
			}
			enc := yaml.NewEncoder(c.out())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(shown)
		},
	}
}

func (c *cli) configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default supervisory.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(c.v.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(c.out(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func (c *cli) configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate supervisory.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(c.v.GetString("workspace"))
			if c.v.GetBool("json") {
				msg := ""
				if err != nil {
					msg = err.Error()
				}
				if perr := c.printJSON(map[string]any{"ok": err == nil, "error": msg}); perr != nil {
					return perr
				}
				if err != nil {
					return errFailed
				}
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out(), "config OK")
			return nil
		},
	}
}
