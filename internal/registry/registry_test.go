package registry_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supervisory/internal/access"
	"supervisory/internal/domain"
	"supervisory/internal/registry"
)

const skillTemplate = `
metadata:
  id: {{area}}/{{name}}
  name: {{name}}
  version: 1.0.0
  schema_version: "2.0"
  business_area: {{area}}
  status: {{status}}
  authorised_agents: [{{agents}}]
  supervisor: {name: Ann Lee, role: Head of Ops}
  approved_at: 2025-02-01
  approved_by: Ann Lee
context:
  description: Test skill.
  rationale: Tests.
  applicable_regulations: []
  risk_classification: {{risk}}
scope:
  approved_activities:
    - {id: fetch, description: Fetch}
constraints:
  procedural_requirements: []
  unacceptable_actions: [Never delete]
control_points:
  - id: stop
    description: Stop.
    classification: vetoed
    activation: conditional
    trigger: Something breaks.
    escalation_contact: ops@example.com
workflow:
  steps:
    - activity: {{activity}}
`

type skill struct {
	area, name, status, agents, risk, activity string
}

func (s skill) yaml() string {
	if s.status == "" {
		s.status = "approved"
	}
	if s.agents == "" {
		s.agents = "agent-a"
	}
	if s.risk == "" {
		s.risk = "low"
	}
	if s.activity == "" {
		s.activity = "fetch"
	}
	return strings.NewReplacer(
		"{{area}}", s.area, "{{name}}", s.name, "{{status}}", s.status,
		"{{agents}}", s.agents, "{{risk}}", s.risk, "{{activity}}", s.activity,
	).Replace(skillTemplate)
}

func writeAt(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel), registry.DefinitionFile)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func write(t *testing.T, root string, s skill) {
	writeAt(t, root, s.area+"/"+s.name, s.yaml())
}

func fixture(t *testing.T) string {
	root := t.TempDir()
	write(t, root, skill{area: "retail_banking", name: "loan-processing", risk: "high", agents: "loan-agent"})
	write(t, root, skill{area: "retail_banking", name: "card-dispute", status: "draft", agents: `"*"`})
	write(t, root, skill{area: "markets", name: "valuation", agents: `"*"`, risk: "medium"})
	write(t, root, skill{area: "markets", name: "broken", activity: "nope"})
	writeAt(t, root, "markets/moved", skill{area: "markets", name: "elsewhere"}.yaml())
	writeAt(t, root, "markets/garbage", "metadata: [")
	return root
}

func load(t *testing.T, root string) *registry.Registry {
	t.Helper()
	reg, err := registry.Load(context.Background(), root, registry.Options{Concurrency: 2})
	require.NoError(t, err)
	return reg
}

func ids(sums []domain.Summary) []string {
	out := make([]string, len(sums))
	for i, s := range sums {
		out[i] = s.ID
	}
	return out
}

func TestLoadExcludesInvalidDefinitions(t *testing.T) {
	reg := load(t, fixture(t))

	assert.Equal(t, 3, reg.Len())
	stats := reg.Stats()
	assert.Equal(t, 3, stats.Indexed)
	assert.Equal(t, 3, stats.Excluded)
	assert.False(t, stats.LoadedAt.IsZero())
	assert.Equal(t, []string{
		"markets/valuation",
		"retail_banking/card-dispute",
		"retail_banking/loan-processing",
	}, ids(reg.List(registry.Filter{})))
}

func TestInvalidIsIndistinguishableFromAbsent(t *testing.T) {
	reg := load(t, fixture(t))

	_, errInvalid := reg.Get("markets/broken", "agent-a")
	_, errMissing := reg.Get("markets/never-existed", "agent-a")
	require.ErrorIs(t, errInvalid, registry.ErrNotFound)
	assert.Equal(t, errMissing, errInvalid)
	assert.False(t, reg.Contains("markets/broken"))
	assert.NotContains(t, ids(reg.List(registry.Filter{})), "markets/broken")
}

func TestGetAppliesAccessGates(t *testing.T) {
	reg := load(t, fixture(t))

	_, err := reg.Get("retail_banking/card-dispute", "anyone")
	var nae access.NotApprovedError
	require.ErrorAs(t, err, &nae)
	assert.Equal(t, domain.StatusDraft, nae.Status)

	_, err = reg.Get("retail_banking/loan-processing", "rogue")
	var na access.NotAuthorizedError
	require.ErrorAs(t, err, &na)
	assert.Equal(t, "rogue", na.Caller)
	assert.False(t, errors.Is(err, registry.ErrNotFound))

	def, err := reg.Get("retail_banking/loan-processing", "loan-agent")
	require.NoError(t, err)
	assert.Equal(t, domain.RiskHigh, def.Context.RiskClassification)

	def, err = reg.Get("markets/valuation", "whoever")
	require.NoError(t, err)
	assert.Equal(t, "markets", def.Metadata.BusinessArea)
}

func TestGetReturnsACopy(t *testing.T) {
	reg := load(t, fixture(t))

	def, err := reg.Get("retail_banking/loan-processing", "loan-agent")
	require.NoError(t, err)
	def.Metadata.AuthorisedAgents[0] = "intruder"
	def.Metadata.Status = domain.StatusDraft

	again, err := reg.Get("retail_banking/loan-processing", "loan-agent")
	require.NoError(t, err)
	assert.Equal(t, []string{"loan-agent"}, again.Metadata.AuthorisedAgents)
}

func TestListFilters(t *testing.T) {
	reg := load(t, fixture(t))

	assert.Equal(t, []string{"markets/valuation"}, ids(reg.List(registry.Filter{Area: "markets"})))
	assert.Equal(t, []string{"retail_banking/card-dispute"}, ids(reg.List(registry.Filter{Status: domain.StatusDraft})))
	assert.Empty(t, reg.List(registry.Filter{Area: "retail_banking", Status: domain.StatusDeprecated}))

	sum := reg.List(registry.Filter{Area: "retail_banking", Status: domain.StatusApproved})
	require.Len(t, sum, 1)
	assert.Equal(t, domain.RiskHigh, sum[0].RiskClassification)
}

func TestScanOutcomes(t *testing.T) {
	root := fixture(t)
	outcomes, err := registry.Scan(context.Background(), root, registry.Options{})
	require.NoError(t, err)
	require.Len(t, outcomes, 6)

	reasons := map[string]string{}
	for _, o := range outcomes {
		rel, err := filepath.Rel(root, filepath.Dir(o.Path))
		require.NoError(t, err)
		rel = filepath.ToSlash(rel)
		if o.Indexed() {
			assert.Empty(t, o.Reason)
			continue
		}
		assert.Nil(t, o.Entry)
		reasons[rel] = o.Reason
	}
	assert.Contains(t, reasons["markets/broken"], "workflow.steps[0].activity")
	assert.Contains(t, reasons["markets/moved"], "does not match its location")
	assert.Contains(t, reasons["markets/garbage"], "invalid YAML")
}

func TestScanHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := registry.Scan(ctx, fixture(t), registry.Options{Concurrency: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReloadSwapsSnapshot(t *testing.T) {
	root := fixture(t)
	reg := load(t, root)
	require.False(t, reg.Contains("markets/pricing"))

	write(t, root, skill{area: "markets", name: "pricing"})
	require.NoError(t, os.RemoveAll(filepath.Join(root, "markets", "valuation")))

	// Not picked up until an explicit reload.
	assert.False(t, reg.Contains("markets/pricing"))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				n := reg.Len()
				assert.Equal(t, 3, n)
				_ = reg.List(registry.Filter{})
			}
		}()
	}
	stats, err := reg.Reload(context.Background())
	wg.Wait()
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Indexed)
	assert.True(t, reg.Contains("markets/pricing"))
	assert.False(t, reg.Contains("markets/valuation"))
}
