package domain

import "strings"

// Status is the lifecycle state of a skill definition.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusApproved   Status = "approved"
	StatusDeprecated Status = "deprecated"
)

// Valid reports whether s is one of the enumerated lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusApproved, StatusDeprecated:
		return true
	}
	return false
}

type Risk string

const (
	RiskLow      Risk = "low"
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

func (r Risk) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Classification describes the human involvement a control point requires,
// ordered roughly by increasing strictness.
type Classification string

const (
	ClassAuto          Classification = "auto"
	ClassNotify        Classification = "notify"
	ClassReview        Classification = "review"
	ClassNeedsApproval Classification = "needs_approval"
	ClassVetoed        Classification = "vetoed"
)

func (c Classification) Valid() bool {
	switch c {
	case ClassAuto, ClassNotify, ClassReview, ClassNeedsApproval, ClassVetoed:
		return true
	}
	return false
}

// RequiresReviewer reports whether who_reviews must be set.
func (c Classification) RequiresReviewer() bool {
	return c == ClassNotify || c == ClassReview || c == ClassNeedsApproval
}

// RequiresContact reports whether escalation_contact must be set.
func (c Classification) RequiresContact() bool {
	return c == ClassVetoed
}

type Activation string

const (
	ActivationConditional Activation = "conditional"
	ActivationStep        Activation = "step"
)

func (a Activation) Valid() bool {
	return a == ActivationConditional || a == ActivationStep
}

// Definition is one governed skill as declared in skill.yml.
type Definition struct {
	Metadata      Metadata       `yaml:"metadata" json:"metadata"`
	Context       Context        `yaml:"context" json:"context"`
	Scope         Scope          `yaml:"scope" json:"scope"`
	Constraints   Constraints    `yaml:"constraints" json:"constraints"`
	ControlPoints []ControlPoint `yaml:"control_points" json:"control_points"`
	Workflow      Workflow       `yaml:"workflow" json:"workflow"`
}

// WildcardAgent in authorised_agents admits any named caller.
const WildcardAgent = "*"

type Metadata struct {
	ID               string     `yaml:"id" json:"id"`
	Name             string     `yaml:"name" json:"name"`
	Version          string     `yaml:"version" json:"version"`
	SchemaVersion    string     `yaml:"schema_version" json:"schema_version"`
	BusinessArea     string     `yaml:"business_area" json:"business_area"`
	Status           Status     `yaml:"status" json:"status" enum:"draft,approved,deprecated"`
	AuthorisedAgents []string   `yaml:"authorised_agents" json:"authorised_agents"`
	Supervisor       Supervisor `yaml:"supervisor" json:"supervisor"`
	CreatedAt        string     `yaml:"created_at,omitempty" json:"created_at,omitempty"`
	ApprovedAt       string     `yaml:"approved_at,omitempty" json:"approved_at,omitempty"`
	ApprovedBy       string     `yaml:"approved_by,omitempty" json:"approved_by,omitempty"`
}

type Supervisor struct {
	Name string `yaml:"name" json:"name"`
	Role string `yaml:"role" json:"role"`
}

type Context struct {
	Description           string   `yaml:"description" json:"description"`
	Rationale             string   `yaml:"rationale" json:"rationale"`
	ApplicableRegulations []string `yaml:"applicable_regulations" json:"applicable_regulations"`
	RiskClassification    Risk     `yaml:"risk_classification" json:"risk_classification" enum:"low,medium,high,critical"`
}

// Scope lists every activity the agent may perform. Anything absent is forbidden.
type Scope struct {
	ApprovedActivities []Activity `yaml:"approved_activities" json:"approved_activities"`
}

type Activity struct {
	ID          string `yaml:"id" json:"id"`
	Description string `yaml:"description" json:"description"`
}

type Constraints struct {
	ProceduralRequirements []string `yaml:"procedural_requirements" json:"procedural_requirements"`
	UnacceptableActions    []string `yaml:"unacceptable_actions" json:"unacceptable_actions"`
}

// ControlPoint is a unit of human-oversight policy.
type ControlPoint struct {
	ID                string         `yaml:"id" json:"id"`
	Name              string         `yaml:"name,omitempty" json:"name,omitempty"`
	Description       string         `yaml:"description" json:"description"`
	Classification    Classification `yaml:"classification" json:"classification" enum:"auto,notify,review,needs_approval,vetoed"`
	Activation        Activation     `yaml:"activation" json:"activation" enum:"conditional,step"`
	Trigger           string         `yaml:"trigger,omitempty" json:"trigger,omitempty"`
	ConditionHint     string         `yaml:"condition_hint,omitempty" json:"condition_hint,omitempty"`
	WhoReviews        string         `yaml:"who_reviews,omitempty" json:"who_reviews,omitempty"`
	EscalationContact string         `yaml:"escalation_contact,omitempty" json:"escalation_contact,omitempty"`
	SLAHours          *int           `yaml:"sla_hours,omitempty" json:"sla_hours,omitempty"`
	Script            string         `yaml:"script,omitempty" json:"script,omitempty"`
}

// DisplayName returns the explicit name or the id title-cased word by word.
func (cp ControlPoint) DisplayName() string {
	if strings.TrimSpace(cp.Name) != "" {
		return cp.Name
	}
	words := strings.Split(cp.ID, "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

type Workflow struct {
	Steps []WorkflowStep `yaml:"steps" json:"steps"`
}

type WorkflowStep struct {
	ID           string `yaml:"id,omitempty" json:"id,omitempty"`
	Activity     string `yaml:"activity" json:"activity"`
	ControlPoint string `yaml:"control_point,omitempty" json:"control_point,omitempty"`
	Uses         string `yaml:"uses,omitempty" json:"uses,omitempty"`
	Script       string `yaml:"script,omitempty" json:"script,omitempty"`
}

// EffectiveID is the explicit step id, or the activity id when none is set.
func (s WorkflowStep) EffectiveID() string {
	if s.ID != "" {
		return s.ID
	}
	if s.Activity != "" {
		return s.Activity
	}
	return "?"
}

// ControlPointByID returns the first control point with the given id.
func (d *Definition) ControlPointByID(id string) (ControlPoint, bool) {
	for _, cp := range d.ControlPoints {
		if cp.ID == id {
			return cp, true
		}
	}
	return ControlPoint{}, false
}

// ActivityByID returns the approved activity with the given id.
func (d *Definition) ActivityByID(id string) (Activity, bool) {
	for _, a := range d.Scope.ApprovedActivities {
		if a.ID == id {
			return a, true
		}
	}
	return Activity{}, false
}

// Slug is the name part of the id (after the area).
func (d *Definition) Slug() string {
	id := d.Metadata.ID
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}

// Clone returns a deep copy so index entries cannot be mutated through callers.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	c := *d
	c.Metadata.AuthorisedAgents = append([]string(nil), d.Metadata.AuthorisedAgents...)
	c.Context.ApplicableRegulations = append([]string(nil), d.Context.ApplicableRegulations...)
	c.Scope.ApprovedActivities = append([]Activity(nil), d.Scope.ApprovedActivities...)
	c.Constraints.ProceduralRequirements = append([]string(nil), d.Constraints.ProceduralRequirements...)
	c.Constraints.UnacceptableActions = append([]string(nil), d.Constraints.UnacceptableActions...)
	c.ControlPoints = make([]ControlPoint, len(d.ControlPoints))
	for i, cp := range d.ControlPoints {
		if cp.SLAHours != nil {
			v := *cp.SLAHours
			cp.SLAHours = &v
		}
		c.ControlPoints[i] = cp
	}
	c.Workflow.Steps = append([]WorkflowStep(nil), d.Workflow.Steps...)
	return &c
}

// Summary is the lightweight listing view of an indexed definition.
type Summary struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Version            string `json:"version"`
	Status             Status `json:"status" enum:"draft,approved,deprecated"`
	BusinessArea       string `json:"business_area"`
	RiskClassification Risk   `json:"risk_classification" enum:"low,medium,high,critical"`
}

func (d *Definition) Summary() Summary {
	return Summary{
		ID:                 d.Metadata.ID,
		Name:               d.Metadata.Name,
		Version:            d.Metadata.Version,
		Status:             d.Metadata.Status,
		BusinessArea:       d.Metadata.BusinessArea,
		RiskClassification: d.Context.RiskClassification,
	}
}

// Event is one row of the audit log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	DecisionID string `json:"decision_id"`
	SkillID    string `json:"skill_id,omitempty"`
	Caller     string `json:"caller,omitempty"`
	Outcome    string `json:"outcome"`
	Payload    string `json:"payload_json"`
}
