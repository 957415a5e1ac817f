// Package render compiles a skill definition into the agent-facing SKILL.md
// instruction document.
//
// Render is a pure function of its input: it reads no clock, no environment
// and never ranges over a map while writing output, so the same definition
// always yields byte-identical text. Strict validation relies on this to
// detect stale documents by exact comparison.
package render

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"

	"supervisory/internal/domain"
)

// FileName is the rendered document stored next to skill.yml.
const FileName = "SKILL.md"

// Enforcement scripts the rendered document instructs the agent to invoke.
const (
	SharedRoot             = "registry/shared"
	AuditLogScript         = SharedRoot + "/audit-logging/scripts/audit_log.py"
	ValidateActivityScript = SharedRoot + "/validate-activity/scripts/validate_activity.py"
	CheckpointGateScript   = SharedRoot + "/checkpoint-gate/scripts/checkpoint_gate.py"
	SessionVar             = "${AGENT_SESSION_ID}"
)

const maxDescription = 1024

// Render returns the canonical instruction document for def. It does not
// validate: unresolved references are written out as given.
func Render(def *domain.Definition) string {
	if def == nil {
		return ""
	}
	r := renderer{def: def}
	sections := []string{
		r.frontmatter(),
		r.header(),
		r.initialisation(),
		r.approvedActivities(),
		r.proceduralRequirements(),
		r.prohibitions(),
		r.vetoed(),
		r.oversight(domain.ActivationStep),
		r.oversight(domain.ActivationConditional),
		r.automatic(),
		r.workflow(),
	}
	var parts []string
	for _, s := range sections {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.TrimRight(strings.Join(parts, "\n\n"), "\n") + "\n"
}

// WriteFile renders def into dir/SKILL.md.
func WriteFile(dir string, def *domain.Definition) (string, error) {
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(Render(def)), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// Diff returns a unified diff from the stored document to a fresh render.
// An empty string means the two are identical.
func Diff(stored, fresh string) string {
	if stored == fresh {
		return ""
	}
	out, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(stored),
		B:        difflib.SplitLines(fresh),
		FromFile: FileName + " (stored)",
		ToFile:   FileName + " (rendered)",
		Context:  3,
	})
	if err != nil || out == "" {
		return fmt.Sprintf("stored %d bytes, rendered %d bytes\n", len(stored), len(fresh))
	}
	return out
}

// SkillFilePath is the repository path of a definition, used by the
// activity validator contract.
func SkillFilePath(id string) string {
	return "registry/" + id + "/skill.yml"
}

type renderer struct {
	def *domain.Definition
}

func (r renderer) id() string {
	if r.def.Metadata.ID == "" {
		return "unknown"
	}
	return r.def.Metadata.ID
}

func (r renderer) frontmatter() string {
	meta := r.def.Metadata
	ctx := r.def.Context
	area := strings.ReplaceAll(meta.BusinessArea, "_", " ")
	suffix := fmt.Sprintf(" Use when %s is needed for %s operations. Risk: %s. Authorised agents: %s.",
		meta.Name, area, ctx.RiskClassification, strings.Join(meta.AuthorisedAgents, ", "))
	desc := inline(ctx.Description)
	if budget := maxDescription - utf8.RuneCountInString(suffix); utf8.RuneCountInString(desc) > budget {
		desc = truncate(desc, budget-3) + "..."
	}
	return strings.Join([]string{
		"---",
		"name: " + r.def.Slug(),
		"description: " + strconv.Quote(desc+suffix),
		"---",
	}, "\n")
}

func (r renderer) header() string {
	meta := r.def.Metadata
	ctx := r.def.Context
	regs := "None specified"
	if len(ctx.ApplicableRegulations) > 0 {
		regs = strings.Join(ctx.ApplicableRegulations, " | ")
	}
	return strings.Join([]string{
		"# " + meta.Name,
		"",
		fmt.Sprintf("> **Governed Skill** | Supervisor: %s (%s)", meta.Supervisor.Name, meta.Supervisor.Role),
		fmt.Sprintf("> Risk: **%s** | Version: %s | Status: %s | Regulations: %s",
			ctx.RiskClassification, meta.Version, meta.Status, regs),
		"",
		"*All steps, controls, and restrictions below are defined by your supervisor. Follow this procedure exactly.*",
		"",
		"---",
	}, "\n")
}

func (r renderer) initialisation() string {
	return strings.Join([]string{
		"## Initialisation",
		"",
		"Before any other action, record that this skill has been invoked:",
		"",
		bash(auditCommand(r.id(), "skill_invoked")),
		"",
		"---",
	}, "\n")
}

func (r renderer) approvedActivities() string {
	lines := []string{
		"## Approved Activities",
		"",
		"You may **only** perform the activities listed below. Anything not listed is forbidden. Validate each step before executing it:",
		"",
		bash(validateCommand(r.id(), "<step-id>")),
		"",
		"If the result is `\"allowed\": false`, halt immediately and log the attempt.",
		"",
		"| Activity ID | Description |",
		"|-------------|-------------|",
	}
	for _, a := range r.def.Scope.ApprovedActivities {
		lines = append(lines, fmt.Sprintf("| `%s` | %s |", cell(a.ID), cell(a.Description)))
	}
	lines = append(lines, "", "---")
	return strings.Join(lines, "\n")
}

func (r renderer) proceduralRequirements() string {
	reqs := r.def.Constraints.ProceduralRequirements
	if len(reqs) == 0 {
		return ""
	}
	lines := []string{"## Procedural Requirements", ""}
	for _, req := range reqs {
		lines = append(lines, "- "+inline(req))
	}
	lines = append(lines, "", "---")
	return strings.Join(lines, "\n")
}

func (r renderer) prohibitions() string {
	actions := r.def.Constraints.UnacceptableActions
	if len(actions) == 0 {
		return ""
	}
	lines := []string{"## What You Must Never Do", ""}
	for _, a := range actions {
		lines = append(lines, "- "+inline(a))
	}
	lines = append(lines, "", "---")
	return strings.Join(lines, "\n")
}

func (r renderer) vetoed() string {
	var cps []domain.ControlPoint
	for _, cp := range r.def.ControlPoints {
		if cp.Classification == domain.ClassVetoed {
			cps = append(cps, cp)
		}
	}
	return r.controlSection(
		"## Vetoed Conditions - Halt Immediately",
		"If any of these conditions arise, invoke the checkpoint immediately and halt. No human override is possible.",
		cps,
	)
}

func (r renderer) oversight(mode domain.Activation) string {
	var cps []domain.ControlPoint
	for _, cp := range r.def.ControlPoints {
		if cp.Activation != mode || cp.Classification == domain.ClassVetoed || cp.Classification == domain.ClassAuto {
			continue
		}
		cps = append(cps, cp)
	}
	if mode == domain.ActivationStep {
		return r.controlSection(
			"## Oversight Checkpoints",
			"These checkpoints are invoked at specific workflow steps (see Workflow).",
			cps,
		)
	}
	return r.controlSection(
		"## Condition-Triggered Controls",
		"These activate whenever their trigger condition is met during any workflow step.",
		cps,
	)
}

func (r renderer) automatic() string {
	var cps []domain.ControlPoint
	for _, cp := range r.def.ControlPoints {
		if cp.Classification == domain.ClassAuto {
			cps = append(cps, cp)
		}
	}
	return r.controlSection(
		"## Automatic Controls",
		"These are recorded without human involvement. Invoke them as described and continue.",
		cps,
	)
}

func (r renderer) controlSection(title, intro string, cps []domain.ControlPoint) string {
	if len(cps) == 0 {
		return ""
	}
	lines := []string{title, "", intro, ""}
	for _, cp := range cps {
		lines = append(lines, r.controlBlock(cp)...)
		lines = append(lines, "")
	}
	lines = append(lines, "---")
	return strings.Join(lines, "\n")
}

func (r renderer) controlBlock(cp domain.ControlPoint) []string {
	lines := []string{
		fmt.Sprintf("### %s - %s", cp.ID, cp.DisplayName()),
		"",
		controlFacts(cp),
	}
	if cp.Trigger != "" {
		lines = append(lines, "", "**Trigger:** "+inline(cp.Trigger))
	}
	if cp.Description != "" {
		lines = append(lines, "", inline(cp.Description))
	}
	if cp.ConditionHint != "" {
		lines = append(lines, "", "Condition hint: "+inline(cp.ConditionHint))
	}
	if cp.Script != "" {
		lines = append(lines, "", fmt.Sprintf("Script: `%s`", cp.Script))
	}
	lines = append(lines, "", bash(gateCommand(r.id(), cp), haltComment(cp.Classification)))
	return lines
}

func (r renderer) workflow() string {
	steps := r.def.Workflow.Steps
	if len(steps) == 0 {
		return ""
	}
	lines := []string{
		"## Workflow",
		"",
		"Execute steps in this exact order. Do not skip, reorder, or add steps.",
		"",
	}
	for i, step := range steps {
		stepID := step.EffectiveID()
		desc := step.Activity
		if a, ok := r.def.ActivityByID(step.Activity); ok {
			desc = inline(a.Description)
		}
		logic := []string{"# STEP LOGIC: " + stepID, "# Perform only: " + desc}
		if step.Uses != "" {
			logic = append(logic, "# Shared capability: "+step.Uses)
		}
		if step.Script != "" {
			logic = append(logic, "# Script: "+step.Script)
		}
		body := []string{validateCommand(r.id(), stepID), ""}
		body = append(body, logic...)
		body = append(body, "", auditCommand(r.id(), stepID))

		lines = append(lines,
			fmt.Sprintf("### Step %d - %s", i+1, stepID),
			"",
			fmt.Sprintf("**Activity:** `%s` - %s", step.Activity, desc),
			"",
			bash(body...),
		)
		if step.ControlPoint != "" {
			cp, ok := r.def.ControlPointByID(step.ControlPoint)
			if !ok {
				cp = domain.ControlPoint{ID: step.ControlPoint}
			}
			lines = append(lines,
				"",
				fmt.Sprintf("Control point **%s** (%s):", step.ControlPoint, stepLabel(cp.Classification)),
				"",
				controlFacts(cp),
				"",
				bash(gateCommand(r.id(), cp), haltComment(cp.Classification)),
			)
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func controlFacts(cp domain.ControlPoint) string {
	parts := []string{fmt.Sprintf("Classification: **%s**", cp.Classification)}
	if cp.Activation != "" {
		parts = append(parts, "Activation: "+string(cp.Activation))
	}
	if cp.WhoReviews != "" {
		parts = append(parts, "Reviewer: "+cp.WhoReviews)
	}
	if cp.SLAHours != nil {
		parts = append(parts, fmt.Sprintf("SLA: %dh", *cp.SLAHours))
	}
	if cp.EscalationContact != "" {
		parts = append(parts, "Escalation: "+cp.EscalationContact)
	}
	return strings.Join(parts, " | ")
}

func stepLabel(c domain.Classification) string {
	switch c {
	case domain.ClassAuto:
		return "auto, proceed automatically"
	case domain.ClassNotify:
		return "notify and continue"
	case domain.ClassReview:
		return "halt and await review"
	case domain.ClassNeedsApproval:
		return "halt and await approval"
	case domain.ClassVetoed:
		return "vetoed, halt unconditionally"
	case "":
		return "unresolved"
	default:
		return string(c)
	}
}

func haltComment(c domain.Classification) string {
	switch c {
	case domain.ClassVetoed:
		return "# Exit status 2: halt all processing immediately. No override is possible."
	case domain.ClassNeedsApproval:
		return "# PENDING: halt here and await explicit approval before continuing."
	case domain.ClassReview:
		return "# PENDING: halt here and await reviewer clearance before continuing."
	case domain.ClassNotify:
		return "# NOTIFY: the reviewer is informed; continue."
	case domain.ClassAuto:
		return "# AUTO: recorded without human involvement; continue."
	}
	return ""
}

func gateCommand(skillID string, cp domain.ControlPoint) string {
	args := []string{
		"--skill " + shellArg(skillID),
		"--session " + SessionVar,
		"--control-point " + shellArg(cp.ID),
		"--classification " + shellArg(string(cp.Classification)),
	}
	if cp.WhoReviews != "" {
		args = append(args, "--reviewer "+shellArg(cp.WhoReviews))
	}
	if cp.SLAHours != nil {
		args = append(args, fmt.Sprintf("--sla-hours %d", *cp.SLAHours))
	}
	if cp.EscalationContact != "" {
		args = append(args, "--contact "+shellArg(cp.EscalationContact))
	}
	return command(CheckpointGateScript, args...)
}

func auditCommand(skillID, action string) string {
	return command(AuditLogScript,
		"--skill "+shellArg(skillID),
		"--session "+SessionVar,
		"--action "+shellArg(action),
	)
}

func validateCommand(skillID, step string) string {
	stepArg := step
	if step != "<step-id>" {
		stepArg = shellArg(step)
	}
	return command(ValidateActivityScript,
		"--skill "+shellArg(SkillFilePath(skillID)),
		"--step "+stepArg,
	)
}

func command(script string, args ...string) string {
	lines := []string{"python " + script}
	for _, a := range args {
		lines = append(lines, "  "+a)
	}
	return strings.Join(lines, " \\\n")
}

func bash(lines ...string) string {
	var body []string
	for _, l := range lines {
		if l == "" && len(body) > 0 && body[len(body)-1] == "" {
			continue
		}
		body = append(body, l)
	}
	for len(body) > 0 && body[len(body)-1] == "" {
		body = body[:len(body)-1]
	}
	return "```bash\n" + strings.Join(body, "\n") + "\n```"
}

var plainArg = regexp.MustCompile(`^[A-Za-z0-9@%+=:,./_-]+$`)

func shellArg(s string) string {
	if s == "" {
		return `""`
	}
	if plainArg.MatchString(s) {
		return s
	}
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", `\$`, "`", "\\`").Replace(s) + `"`
}

// inline collapses multi-line YAML text to a single line.
func inline(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func cell(s string) string {
	return strings.ReplaceAll(inline(s), "|", `\|`)
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
