package app_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"supervisory/internal/app"
	"supervisory/internal/config"
	"supervisory/internal/db"
	"supervisory/internal/registry/registrytest"
)

func workspace(t *testing.T, cfgYAML string) string {
	t.Helper()
	ws := t.TempDir()
	root := filepath.Join(ws, "registry")
	registrytest.Write(t, root, registrytest.Skill{Area: "markets", Name: "valuation", Agents: `"*"`})
	if cfgYAML != "" {
		if err := os.WriteFile(config.Path(ws), []byte(cfgYAML), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	return ws
}

func TestOpenWiresWorkspace(t *testing.T) {
	ws := workspace(t, "")
	var logs bytes.Buffer
	c, err := app.Open(context.Background(), app.Options{Workspace: ws, LogFormat: "json", LogLevel: "debug", LogOutput: &logs})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()

	if c.Registry.Len() != 1 {
		t.Fatalf("expected one skill, got %d", c.Registry.Len())
	}
	if !c.Engine.Audited() {
		t.Fatalf("audit is enabled by default")
	}
	if _, err := os.Stat(db.Path(ws)); err != nil {
		t.Fatalf("audit db not created: %v", err)
	}
	if _, err := c.Engine.Get(context.Background(), "markets/valuation", "agent-x"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.Contains(logs.String(), `"msg":"registry loaded"`) {
		t.Fatalf("expected structured registry log, got %s", logs.String())
	}
}

func TestOpenWithoutAudit(t *testing.T) {
	ws := workspace(t, "audit:\n  enabled: false\n")
	c, err := app.Open(context.Background(), app.Options{Workspace: ws, LogOutput: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()
	if c.Engine.Audited() || c.RequireAudit() == nil {
		t.Fatalf("audit should be off")
	}
	if _, err := os.Stat(db.Path(ws)); !os.IsNotExist(err) {
		t.Fatalf("audit db should not exist, stat err %v", err)
	}
}

func TestOpenMissingRoot(t *testing.T) {
	ws := t.TempDir()
	if _, err := app.Open(context.Background(), app.Options{Workspace: ws, NoAudit: true, LogOutput: &bytes.Buffer{}}); err == nil {
		t.Fatalf("expected missing registry root error")
	}
	c, err := app.Open(context.Background(), app.Options{Workspace: ws, NoAudit: true, SkipRegistry: true, LogOutput: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("skip registry: %v", err)
	}
	if c.Registry != nil {
		t.Fatalf("registry should not be loaded")
	}
}

func TestResolveConfigRejectsBadOverride(t *testing.T) {
	if _, err := app.ResolveConfig(app.Options{Workspace: t.TempDir(), LogFormat: "xml"}); err == nil {
		t.Fatalf("expected invalid log format to fail")
	}
}
