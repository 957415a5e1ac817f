// Package registrytest writes small registry trees for tests in other
// packages.
package registrytest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"supervisory/internal/registry"
)

const template = `
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
    - {id: fetch, description: Fetch the record}
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
    - activity: fetch
`

// Skill describes one generated definition. Empty fields take defaults:
// approved, agent-a, low risk.
type Skill struct {
	Area, Name, Status, Agents, Risk string
}

func (s Skill) YAML() string {
	if s.Status == "" {
		s.Status = "approved"
	}
	if s.Agents == "" {
		s.Agents = "agent-a"
	}
	if s.Risk == "" {
		s.Risk = "low"
	}
	return strings.NewReplacer(
		"{{area}}", s.Area, "{{name}}", s.Name, "{{status}}", s.Status,
		"{{agents}}", s.Agents, "{{risk}}", s.Risk,
	).Replace(template)
}

// Write places s at <root>/<area>/<name>/skill.yml.
func Write(t testing.TB, root string, s Skill) {
	t.Helper()
	WriteRaw(t, root, s.Area+"/"+s.Name, s.YAML())
}

// WriteRaw writes content as the definition file under rel.
func WriteRaw(t testing.TB, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel), registry.DefinitionFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// Standard writes the tree shared by engine and server tests:
//
//	retail_banking/loan-processing  approved, loan-agent only
//	retail_banking/card-dispute     draft, any agent
//	markets/valuation               approved, any agent
//	markets/broken                  invalid, excluded
func Standard(t testing.TB) string {
	t.Helper()
	root := t.TempDir()
	Write(t, root, Skill{Area: "retail_banking", Name: "loan-processing", Agents: "loan-agent", Risk: "high"})
	Write(t, root, Skill{Area: "retail_banking", Name: "card-dispute", Status: "draft", Agents: `"*"`})
	Write(t, root, Skill{Area: "markets", Name: "valuation", Agents: `"*"`, Risk: "medium"})
	WriteRaw(t, root, "markets/broken", "metadata: {id: markets/broken}\n")
	return root
}
