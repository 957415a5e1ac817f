package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"supervisory/internal/access"
	"supervisory/internal/db"
	"supervisory/internal/engine"
	"supervisory/internal/events"
	"supervisory/internal/migrate"
	"supervisory/internal/registry"
	"supervisory/internal/registry/registrytest"
	"supervisory/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Root   string
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	root := registrytest.Standard(t)
	reg, err := registry.Load(ctx, root, registry.Options{})
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	eng := engine.New(reg, conn, nil)
	eng.Now = func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }
	n := 0
	eng.NewID = func() string { n++; return fmt.Sprintf("dec-%d", n) }
	return testEnv{Engine: eng, Root: root, Ctx: ctx}
}

func TestAuthorizeOutcomes(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		id, caller string
		outcome    string
		check      func(error) bool
	}{
		{"retail_banking/loan-processing", "loan-agent", events.OutcomeGranted, func(err error) bool { return err == nil }},
		{"retail_banking/loan-processing", "other", events.OutcomeNotAuthorized, func(err error) bool {
			var na access.NotAuthorizedError
			return errors.As(err, &na)
		}},
		{"retail_banking/card-dispute", "loan-agent", events.OutcomeNotApproved, func(err error) bool {
			var nae access.NotApprovedError
			return errors.As(err, &nae) && nae.Status == "draft"
		}},
		{"markets/broken", "loan-agent", events.OutcomeNotFound, func(err error) bool { return errors.Is(err, registry.ErrNotFound) }},
		{"markets/valuation", "", events.OutcomeNotAuthorized, func(err error) bool { return errors.Is(err, access.ErrDenied) }},
	}
	for i, tc := range cases {
		def, d, err := env.Engine.Authorize(env.Ctx, tc.id, tc.caller)
		if !tc.check(err) {
			t.Fatalf("%s as %q: unexpected error %v", tc.id, tc.caller, err)
		}
		if d.Outcome != tc.outcome {
			t.Fatalf("%s as %q: outcome %s, want %s", tc.id, tc.caller, d.Outcome, tc.outcome)
		}
		if want := fmt.Sprintf("dec-%d", i+1); d.ID != want {
			t.Fatalf("decision id %s, want %s", d.ID, want)
		}
		if (err == nil) != (def != nil) {
			t.Fatalf("definition must be returned only on grant")
		}
	}
}

func TestEveryDecisionIsAudited(t *testing.T) {
	env := newTestEnv(t)
	_, _, _ = env.Engine.Authorize(env.Ctx, "markets/valuation", "pricing-agent")
	_, _, _ = env.Engine.Authorize(env.Ctx, "retail_banking/card-dispute", "pricing-agent")
	_, _, _ = env.Engine.Authorize(env.Ctx, "nowhere/none", "pricing-agent")

	evs, err := env.Engine.RecentEvents(env.Ctx, 10, repo.EventFilter{})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("expected 3 events, got %d", len(evs))
	}
	// newest first
	if evs[0].Type != events.TypeNotFound || evs[1].Type != events.TypeDenied || evs[2].Type != events.TypeGranted {
		t.Fatalf("unexpected types: %s %s %s", evs[0].Type, evs[1].Type, evs[2].Type)
	}
	if evs[2].DecisionID != "dec-1" || evs[2].Caller != "pricing-agent" || evs[2].SkillID != "markets/valuation" {
		t.Fatalf("unexpected grant event %+v", evs[2])
	}
	if evs[2].TS != "2025-03-01T09:00:00Z" {
		t.Fatalf("unexpected timestamp %s", evs[2].TS)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(evs[1].Payload), &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["status"] != "draft" {
		t.Fatalf("denial payload should carry status, got %v", payload)
	}

	denied, err := env.Engine.RecentEvents(env.Ctx, 10, repo.EventFilter{Outcome: events.OutcomeNotApproved})
	if err != nil || len(denied) != 1 {
		t.Fatalf("filter by outcome: %d, %v", len(denied), err)
	}
}

func TestInstructionsAndExport(t *testing.T) {
	env := newTestEnv(t)
	doc, d, err := env.Engine.Instructions(env.Ctx, "markets/valuation", "pricing-agent")
	if err != nil {
		t.Fatalf("instructions: %v", err)
	}
	if d.Outcome != events.OutcomeGranted || !strings.HasPrefix(doc, "---\nname: valuation\n") {
		t.Fatalf("unexpected document:\n%s", doc)
	}
	data, _, err := env.Engine.Export(env.Ctx, "markets/valuation", "pricing-agent")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(string(data), `"skill_id": "markets/valuation"`) {
		t.Fatalf("unexpected export:\n%s", data)
	}
	if _, _, err := env.Engine.Export(env.Ctx, "retail_banking/loan-processing", "pricing-agent"); !errors.Is(err, access.ErrDenied) {
		t.Fatalf("export must apply access control, got %v", err)
	}
}

func TestAuditFailureWithholdsDefinition(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.Repo.DB.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	def, _, err := env.Engine.Authorize(env.Ctx, "markets/valuation", "pricing-agent")
	if err == nil || def != nil {
		t.Fatalf("expected audit failure to deny, got def=%v err=%v", def, err)
	}
}

func TestUnauditedEngine(t *testing.T) {
	reg, err := registry.Load(context.Background(), registrytest.Standard(t), registry.Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	eng := engine.New(reg, nil, nil)
	if eng.Audited() {
		t.Fatalf("engine without db must not be audited")
	}
	if _, err := eng.Get(context.Background(), "markets/valuation", "x"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := eng.RecentEvents(context.Background(), 5, repo.EventFilter{}); err == nil {
		t.Fatalf("expected error reading a disabled audit log")
	}
}

func TestListIsUngated(t *testing.T) {
	env := newTestEnv(t)
	all := env.Engine.List(registry.Filter{})
	if len(all) != 3 {
		t.Fatalf("expected 3 listed skills, got %d", len(all))
	}
	drafts := env.Engine.List(registry.Filter{Status: "draft"})
	if len(drafts) != 1 || drafts[0].ID != "retail_banking/card-dispute" {
		t.Fatalf("unexpected drafts %+v", drafts)
	}
	evs, _ := env.Engine.RecentEvents(env.Ctx, 10, repo.EventFilter{})
	if len(evs) != 0 {
		t.Fatalf("listing must not be audited")
	}
}

func TestReloadRecordsCounts(t *testing.T) {
	env := newTestEnv(t)
	registrytest.Write(t, env.Root, registrytest.Skill{Area: "markets", Name: "fx-hedging"})
	stats, err := env.Engine.Reload(env.Ctx, "ops")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stats.Indexed != 4 || stats.Excluded != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if _, err := env.Engine.Get(env.Ctx, "markets/fx-hedging", "agent-a"); err != nil {
		t.Fatalf("new skill should be served after reload: %v", err)
	}
	evs, err := env.Engine.RecentEvents(env.Ctx, 10, repo.EventFilter{Type: events.TypeReloaded})
	if err != nil || len(evs) != 1 {
		t.Fatalf("expected one reload event, got %d (%v)", len(evs), err)
	}
	if !strings.Contains(evs[0].Payload, `"indexed":4`) {
		t.Fatalf("unexpected payload %s", evs[0].Payload)
	}
}
