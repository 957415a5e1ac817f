package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"supervisory/internal/config"
	"supervisory/internal/db"
	"supervisory/internal/engine"
	"supervisory/internal/logging"
	"supervisory/internal/migrate"
	"supervisory/internal/registry"
	"supervisory/internal/schema"
)

// Options override what supervisory.yml says. Zero values keep the config.
type Options struct {
	Workspace string
	LogLevel  string
	LogFormat string
	LogOutput io.Writer
	// NoAudit skips opening the audit database even when enabled in config.
	NoAudit bool
	// SkipRegistry leaves Registry nil, for commands that only need config
	// or the audit log.
	SkipRegistry bool
}

// Context is the wired workspace a command or server runs against.
type Context struct {
	Workspace string
	Config    *config.Config
	Logger    *slog.Logger
	Registry  *registry.Registry
	DB        *sql.DB
	Engine    engine.Engine
}

// ResolveConfig loads supervisory.yml from the workspace, falling back to
// defaults, and applies the logging overrides.
func ResolveConfig(opts Options) (*config.Config, error) {
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.Log.Format = opts.LogFormat
	}
	return cfg, cfg.Validate()
}

// NewLogger builds the process logger from config.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return logging.New(cfg.Log.Level, cfg.Log.Format, w)
}

// Open wires config, logging, the registry, the audit database and the
// engine, in that order. Callers must Close the returned context.
func Open(ctx context.Context, opts Options) (*Context, error) {
	cfg, err := ResolveConfig(opts)
	if err != nil {
		return nil, err
	}
	c := &Context{Workspace: opts.Workspace, Config: cfg, Logger: NewLogger(cfg, opts.LogOutput)}

	if !opts.SkipRegistry {
		root := cfg.RegistryRoot(opts.Workspace)
		if _, err := os.Stat(root); err != nil {
			return nil, fmt.Errorf("registry root %s: %w", root, err)
		}
		c.Registry, err = registry.Load(ctx, root, registry.Options{
			Versions:  schema.Default(),
			SharedDir: cfg.SharedDir(opts.Workspace),
			Logger:    c.Logger,
			Now:       time.Now,
		})
		if err != nil {
			return nil, err
		}
	}

	if cfg.Audit.Enabled && !opts.NoAudit {
		if c.DB, err = OpenAudit(ctx, opts.Workspace); err != nil {
			return nil, err
		}
	}
	c.Engine = engine.New(c.Registry, c.DB, c.Logger)
	return c, nil
}

// OpenAudit opens and migrates the workspace audit database.
func OpenAudit(ctx context.Context, workspace string) (*sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if _, err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return conn, nil
}

// RequireAudit reports a usable error when the audit log is off.
func (c *Context) RequireAudit() error {
	if c.DB == nil {
		return errors.New("audit log is disabled; set audit.enabled in supervisory.yml")
	}
	return nil
}

func (c *Context) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}
