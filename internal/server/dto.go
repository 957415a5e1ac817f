package server

import (
	"encoding/json"
	"time"

	"supervisory/internal/domain"
	"supervisory/internal/registry"
)

type HealthResponse struct {
	Status   string `json:"status" example:"ok"`
	Indexed  int    `json:"indexed"`
	Excluded int    `json:"excluded"`
	Audited  bool   `json:"audited"`
}

type SkillSummaryResponse struct {
	ID                 string        `json:"id" example:"retail_banking/loan-processing"`
	Name               string        `json:"name"`
	Version            string        `json:"version"`
	Status             domain.Status `json:"status"`
	BusinessArea       string        `json:"business_area"`
	RiskClassification domain.Risk   `json:"risk_classification"`
}

type SkillListResponse struct {
	Items []SkillSummaryResponse `json:"items"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type" example:"skill.denied"`
	DecisionID string         `json:"decision_id"`
	SkillID    string         `json:"skill_id,omitempty"`
	Caller     string         `json:"caller,omitempty"`
	Outcome    string         `json:"outcome" example:"not_authorized"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type ReloadResponse struct {
	Indexed  int    `json:"indexed"`
	Excluded int    `json:"excluded"`
	LoadedAt string `json:"loaded_at" format:"date-time"`
}

type DevLoginRequest struct {
	AgentID string `json:"agent_id" minLength:"1"`
}

type DevLoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

// Conversion helpers

func summaryResponse(s domain.Summary) SkillSummaryResponse {
	return SkillSummaryResponse(s)
}

func mapSummaries(items []domain.Summary) []SkillSummaryResponse {
	out := make([]SkillSummaryResponse, 0, len(items))
	for _, s := range items {
		out = append(out, summaryResponse(s))
	}
	return out
}

func eventResponse(evt domain.Event) EventResponse {
	payload := map[string]any{}
	if evt.Payload != "" {
		_ = json.Unmarshal([]byte(evt.Payload), &payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		DecisionID: evt.DecisionID,
		SkillID:    evt.SkillID,
		Caller:     evt.Caller,
		Outcome:    evt.Outcome,
		Payload:    payload,
	}
}

func reloadResponse(s registry.Stats) ReloadResponse {
	return ReloadResponse{Indexed: s.Indexed, Excluded: s.Excluded, LoadedAt: s.LoadedAt.UTC().Format(time.RFC3339)}
}
