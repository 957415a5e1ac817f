package schema

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"supervisory/internal/domain"
)

var (
	idPattern     = regexp.MustCompile(`^[a-z0-9_]+/[a-z0-9]+(-[a-z0-9]+)*$`)
	areaPattern   = regexp.MustCompile(`^[a-z0-9_]+$`)
	slugPattern   = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	semverPattern = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)(-[0-9A-Za-z.-]+)?(\+[0-9A-Za-z.-]+)?$`)
)

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func stepPath(i int, field string) string {
	return fmt.Sprintf("workflow.steps[%d].%s", i, field)
}

func cpPath(i int, field string) string {
	return fmt.Sprintf("control_points[%d].%s", i, field)
}

// checkStructure covers required fields, patterns, enums, cardinality and
// uniqueness.
func checkStructure(res *Result, def *domain.Definition, ver Version) {
	meta := def.Metadata
	switch {
	case blank(meta.ID):
		res.errorf("metadata.id", "id is required")
	case !idPattern.MatchString(meta.ID):
		res.errorf("metadata.id", "id %q must be <area>/<name> in lower-case slug form", meta.ID)
	}
	if blank(meta.Name) {
		res.errorf("metadata.name", "name is required")
	}
	switch {
	case blank(meta.Version):
		res.errorf("metadata.version", "version is required")
	case !semverPattern.MatchString(meta.Version):
		res.errorf("metadata.version", "version %q is not a semantic version", meta.Version)
	}
	switch {
	case blank(meta.BusinessArea):
		res.errorf("metadata.business_area", "business_area is required")
	case !areaPattern.MatchString(meta.BusinessArea):
		res.errorf("metadata.business_area", "business_area %q must match %s", meta.BusinessArea, areaPattern)
	case idPattern.MatchString(meta.ID) && !strings.HasPrefix(meta.ID, meta.BusinessArea+"/"):
		res.errorf("metadata.id", "id %q must start with business_area %q", meta.ID, meta.BusinessArea)
	}
	if !meta.Status.Valid() {
		res.errorf("metadata.status", "status %q must be one of draft, approved, deprecated", meta.Status)
	}
	if len(meta.AuthorisedAgents) == 0 {
		res.errorf("metadata.authorised_agents", "at least one authorised agent is required")
	}
	seenAgents := map[string]bool{}
	for i, a := range meta.AuthorisedAgents {
		path := fmt.Sprintf("metadata.authorised_agents[%d]", i)
		if blank(a) {
			res.errorf(path, "agent identity must not be empty")
			continue
		}
		if seenAgents[a] {
			res.errorf(path, "duplicate agent %q", a)
		}
		seenAgents[a] = true
	}
	if blank(meta.Supervisor.Name) {
		res.errorf("metadata.supervisor.name", "supervisor name is required")
	}
	if blank(meta.Supervisor.Role) {
		res.errorf("metadata.supervisor.role", "supervisor role is required")
	}
	checkDate(res, "metadata.created_at", meta.CreatedAt)
	checkDate(res, "metadata.approved_at", meta.ApprovedAt)

	ctx := def.Context
	if blank(ctx.Description) {
		res.errorf("context.description", "description is required")
	}
	if blank(ctx.Rationale) {
		res.errorf("context.rationale", "rationale is required")
	}
	if !ctx.RiskClassification.Valid() {
		res.errorf("context.risk_classification", "risk_classification %q must be one of low, medium, high, critical", ctx.RiskClassification)
	}
	for i, reg := range ctx.ApplicableRegulations {
		if blank(reg) {
			res.errorf(fmt.Sprintf("context.applicable_regulations[%d]", i), "regulation must not be empty")
		}
	}

	activities := def.Scope.ApprovedActivities
	if len(activities) == 0 {
		res.errorf("scope.approved_activities", "at least one approved activity is required")
	}
	seenActivities := map[string]bool{}
	for i, a := range activities {
		path := fmt.Sprintf("scope.approved_activities[%d]", i)
		switch {
		case blank(a.ID):
			res.errorf(path+".id", "activity id is required")
		case !slugPattern.MatchString(a.ID):
			res.errorf(path+".id", "activity id %q must be a lower-case slug", a.ID)
		case seenActivities[a.ID]:
			res.errorf(path+".id", "duplicate activity id %q", a.ID)
		}
		seenActivities[a.ID] = true
		if blank(a.Description) {
			res.errorf(path+".description", "activity description is required")
		}
	}

	if len(def.Constraints.UnacceptableActions) == 0 {
		res.errorf("constraints.unacceptable_actions", "at least one unacceptable action is required")
	}
	for i, s := range def.Constraints.UnacceptableActions {
		if blank(s) {
			res.errorf(fmt.Sprintf("constraints.unacceptable_actions[%d]", i), "unacceptable action must not be empty")
		}
	}
	for i, s := range def.Constraints.ProceduralRequirements {
		if blank(s) {
			res.errorf(fmt.Sprintf("constraints.procedural_requirements[%d]", i), "procedural requirement must not be empty")
		}
	}

	if len(def.ControlPoints) == 0 {
		res.errorf("control_points", "at least one control point is required")
	}
	seenCPs := map[string]bool{}
	for i, cp := range def.ControlPoints {
		switch {
		case blank(cp.ID):
			res.errorf(cpPath(i, "id"), "control point id is required")
		case !slugPattern.MatchString(cp.ID):
			res.errorf(cpPath(i, "id"), "control point id %q must be a lower-case slug", cp.ID)
		case seenCPs[cp.ID]:
			res.errorf(cpPath(i, "id"), "duplicate control point id %q", cp.ID)
		}
		seenCPs[cp.ID] = true
		if blank(cp.Description) {
			res.errorf(cpPath(i, "description"), "control point description is required")
		}
		if !cp.Classification.Valid() {
			res.errorf(cpPath(i, "classification"), "classification %q must be one of auto, notify, review, needs_approval, vetoed", cp.Classification)
		}
		if !cp.Activation.Valid() {
			res.errorf(cpPath(i, "activation"), "activation %q must be one of conditional, step", cp.Activation)
		}
		if cp.SLAHours != nil && *cp.SLAHours < 1 {
			res.errorf(cpPath(i, "sla_hours"), "sla_hours must be at least 1, got %d", *cp.SLAHours)
		}
		if cp.Script != "" && !ver.ControlPointScripts {
			res.errorf(cpPath(i, "script"), "script requires a newer schema_version than %s", ver.Tag)
		}
	}

	if len(def.Workflow.Steps) == 0 {
		res.errorf("workflow.steps", "at least one workflow step is required")
	}
	seenSteps := map[string]int{}
	for i, step := range def.Workflow.Steps {
		if blank(step.Activity) {
			res.errorf(stepPath(i, "activity"), "step %d: activity is required", i)
		}
		if step.ID != "" && !slugPattern.MatchString(step.ID) {
			res.errorf(stepPath(i, "id"), "step %d: id %q must be a lower-case slug", i, step.ID)
		}
		if id := step.EffectiveID(); id != "?" {
			if prev, dup := seenSteps[id]; dup {
				res.errorf(stepPath(i, "id"), "step %d: step id %q already used by step %d; give repeated activities an explicit id", i, id, prev)
			} else {
				seenSteps[id] = i
			}
		}
		if !ver.StepExtensions {
			if step.Uses != "" {
				res.errorf(stepPath(i, "uses"), "uses requires a newer schema_version than %s", ver.Tag)
			}
			if step.Script != "" {
				res.errorf(stepPath(i, "script"), "script requires a newer schema_version than %s", ver.Tag)
			}
		}
	}
}

func checkDate(res *Result, path, v string) {
	if v == "" {
		return
	}
	if _, err := time.Parse("2006-01-02", v); err == nil {
		return
	}
	if _, err := time.Parse(time.RFC3339, v); err == nil {
		return
	}
	res.errorf(path, "%q is not a date (YYYY-MM-DD or RFC 3339)", v)
}

// checkReferences resolves step references and the fields each
// classification and activation mode depends on.
func checkReferences(res *Result, def *domain.Definition) {
	referenced := map[string]bool{}
	for i, step := range def.Workflow.Steps {
		if step.Activity != "" {
			if _, ok := def.ActivityByID(step.Activity); !ok {
				res.errorf(stepPath(i, "activity"), "step %d: activity %q is not in scope.approved_activities", i, step.Activity)
			}
		}
		if step.ControlPoint == "" {
			continue
		}
		referenced[step.ControlPoint] = true
		cp, ok := def.ControlPointByID(step.ControlPoint)
		switch {
		case !ok:
			res.errorf(stepPath(i, "control_point"), "step %d: control point %q is not defined", i, step.ControlPoint)
		case cp.Activation != domain.ActivationStep:
			res.errorf(stepPath(i, "control_point"), "step %d: control point %q has activation %q; steps may only reference step-activated control points", i, cp.ID, cp.Activation)
		}
	}

	for i, cp := range def.ControlPoints {
		if cp.Classification.RequiresReviewer() && blank(cp.WhoReviews) {
			res.errorf(cpPath(i, "who_reviews"), "control point %q is %s and requires who_reviews", cp.ID, cp.Classification)
		}
		if cp.Classification.RequiresContact() && blank(cp.EscalationContact) {
			res.errorf(cpPath(i, "escalation_contact"), "control point %q is vetoed and requires escalation_contact", cp.ID)
		}
		if cp.Activation == domain.ActivationConditional && blank(cp.Trigger) {
			res.errorf(cpPath(i, "trigger"), "control point %q is conditional and requires a trigger", cp.ID)
		}
		if cp.Activation == domain.ActivationStep && cp.ID != "" && !referenced[cp.ID] {
			res.warnf(cpPath(i, "activation"), "control point %q is step-activated but no workflow step references it", cp.ID)
		}
	}
}

// checkPolicy raises the governance warnings.
func checkPolicy(res *Result, def *domain.Definition) {
	meta := def.Metadata
	for i, a := range meta.AuthorisedAgents {
		if a == domain.WildcardAgent {
			res.warnf(fmt.Sprintf("metadata.authorised_agents[%d]", i), "authorised_agents contains '*'; all agents are permitted. Consider restricting to named agent ids")
		}
	}
	if meta.Status == domain.StatusApproved {
		if blank(meta.ApprovedAt) {
			res.warnf("metadata.approved_at", "status is approved but approved_at is not set")
		}
		if blank(meta.ApprovedBy) {
			res.warnf("metadata.approved_by", "status is approved but approved_by is not set")
		}
	}
}
