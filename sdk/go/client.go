package supervisorysdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal client for the supervisory skill retrieval API.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// AgentID is sent as X-Agent-Id when no token is set. Servers accept
	// it only when explicitly configured to.
	AgentID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// SkillSummary is the listing view of a skill.
type SkillSummary struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Version            string `json:"version"`
	Status             string `json:"status"`
	BusinessArea       string `json:"business_area"`
	RiskClassification string `json:"risk_classification"`
}

// Skill carries the full definition as returned by the server.
type Skill struct {
	DecisionID string
	Raw        json.RawMessage
}

// Decode unmarshals the definition into v.
func (s Skill) Decode(v any) error { return json.Unmarshal(s.Raw, v) }

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	DecisionID string         `json:"decision_id"`
	SkillID    string         `json:"skill_id"`
	Caller     string         `json:"caller"`
	Outcome    string         `json:"outcome"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// EventQuery narrows Events. Empty fields match everything.
type EventQuery struct {
	Type    string
	SkillID string
	Caller  string
	Outcome string
	Limit   int
	Cursor  string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsDenied reports whether err is an access control refusal.
func IsDenied(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && (apiErr.Code == "not_approved" || apiErr.Code == "not_authorized")
}

// IsNotFound reports whether err is an unknown skill.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// ListSkills lists indexed skills, optionally narrowed by area and status.
func (c *Client) ListSkills(ctx context.Context, area, status string) ([]SkillSummary, error) {
	q := url.Values{}
	if area != "" {
		q.Set("area", area)
	}
	if status != "" {
		q.Set("status", status)
	}
	var resp struct {
		Items []SkillSummary `json:"items"`
	}
	_, err := c.do(ctx, http.MethodGet, withQuery("skills", q), nil, &resp)
	return resp.Items, err
}

// GetSkill retrieves the full definition.
func (c *Client) GetSkill(ctx context.Context, id string) (Skill, error) {
	var raw json.RawMessage
	h, err := c.do(ctx, http.MethodGet, skillPath(id, ""), nil, &raw)
	if err != nil {
		return Skill{}, err
	}
	return Skill{DecisionID: h.Get("X-Decision-Id"), Raw: raw}, nil
}

// Instructions retrieves the rendered SKILL.md document.
func (c *Client) Instructions(ctx context.Context, id string) (string, error) {
	var buf bytes.Buffer
	_, err := c.do(ctx, http.MethodGet, skillPath(id, "instructions"), nil, &buf)
	return buf.String(), err
}

// Export retrieves the platform-neutral JSON envelope.
func (c *Client) Export(ctx context.Context, id string) (json.RawMessage, error) {
	var raw json.RawMessage
	_, err := c.do(ctx, http.MethodGet, skillPath(id, "export"), nil, &raw)
	return raw, err
}

// Events returns one page of the audit log, newest first.
func (c *Client) Events(ctx context.Context, q EventQuery) (PaginatedEvents, error) {
	v := url.Values{}
	for k, s := range map[string]string{"type": q.Type, "skill_id": q.SkillID, "caller": q.Caller, "outcome": q.Outcome, "cursor": q.Cursor} {
		if s != "" {
			v.Set(k, s)
		}
	}
	if q.Limit > 0 {
		v.Set("limit", fmt.Sprint(q.Limit))
	}
	var resp PaginatedEvents
	_, err := c.do(ctx, http.MethodGet, withQuery("events", v), nil, &resp)
	return resp, err
}

// DevLogin mints a token for agentID on servers with dev login enabled
// and uses it for subsequent calls.
func (c *Client) DevLogin(ctx context.Context, agentID string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if _, err := c.do(ctx, http.MethodPost, "auth/dev/login", map[string]any{"agent_id": agentID}, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

func skillPath(id, suffix string) string {
	parts := strings.Split(strings.Trim(id, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	p := "skills/" + strings.Join(parts, "/")
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func withQuery(p string, q url.Values) string {
	if len(q) == 0 {
		return p
	}
	return p + "?" + q.Encode()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) (http.Header, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.AgentID != "":
		req.Header.Set("X-Agent-Id", c.AgentID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message, apiErr.Details = env.Error.Code, env.Error.Message, env.Error.Details
		}
		return resp.Header, apiErr
	}
	switch dst := out.(type) {
	case nil:
	case *bytes.Buffer:
		_, err = io.Copy(dst, resp.Body)
	default:
		err = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.Header, err
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if bp := strings.Trim(c.BasePath, "/"); bp != "" {
		base += "/" + bp
	}
	return base
}
