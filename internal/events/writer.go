package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Audit event types.
const (
	TypeGranted  = "skill.granted"
	TypeDenied   = "skill.denied"
	TypeNotFound = "skill.not_found"
	TypeReloaded = "registry.reloaded"
)

// Outcomes recorded alongside the event type.
const (
	OutcomeGranted       = "granted"
	OutcomeNotApproved   = "not_approved"
	OutcomeNotAuthorized = "not_authorized"
	OutcomeNotFound      = "not_found"
	OutcomeReloaded      = "reloaded"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Writer struct {
	DB  Execer
	Now func() time.Time
}

type Payload map[string]any

// Record is one audit entry to append.
type Record struct {
	Type       string
	DecisionID string
	SkillID    string
	Caller     string
	Outcome    string
	Payload    Payload
}

// Append writes rec and returns its event id. The log is append-only.
func (w Writer) Append(ctx context.Context, rec Record) (int64, error) {
	if w.DB == nil {
		return 0, fmt.Errorf("event writer has no database")
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339Nano)
	if rec.Payload == nil {
		rec.Payload = Payload{}
	}
	data, err := json.Marshal(rec.Payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	res, err := w.DB.ExecContext(ctx, `INSERT INTO events(ts,type,decision_id,skill_id,caller,outcome,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, rec.Type, rec.DecisionID, rec.SkillID, rec.Caller, rec.Outcome, string(data))
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return res.LastInsertId()
}
