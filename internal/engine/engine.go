package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"supervisory/internal/access"
	"supervisory/internal/domain"
	"supervisory/internal/events"
	"supervisory/internal/export"
	"supervisory/internal/logging"
	"supervisory/internal/registry"
	"supervisory/internal/render"
	"supervisory/internal/repo"
)

// ErrAuditDisabled is returned when reading the audit log of an engine
// that has none.
var ErrAuditDisabled = errors.New("audit log is disabled")

// Engine serves definitions from a registry and records every access
// decision in the audit log when one is configured.
type Engine struct {
	Registry *registry.Registry
	Repo     repo.Repo
	Events   events.Writer
	Logger   *slog.Logger
	Now      func() time.Time
	NewID    func() string
}

// New builds an engine. conn may be nil to run without an audit log.
func New(reg *registry.Registry, conn *sql.DB, logger *slog.Logger) Engine {
	e := Engine{
		Registry: reg,
		Logger:   logger,
		Now:      time.Now,
		NewID:    uuid.NewString,
	}
	if conn != nil {
		e.Repo = repo.Repo{DB: conn}
		e.Events = events.Writer{DB: conn}
	}
	return e
}

// Decision describes the outcome of one retrieval.
type Decision struct {
	ID      string `json:"decision_id"`
	Outcome string `json:"outcome"`
}

// Audited reports whether decisions are persisted.
func (e Engine) Audited() bool { return e.Repo.DB != nil }

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logging.Discard()
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

// Authorize looks up id for caller and records the decision. The returned
// error is registry.ErrNotFound or an access denial; a failure to write the
// audit record is also returned, and in that case no definition is handed
// out.
func (e Engine) Authorize(ctx context.Context, id, caller string) (*domain.Definition, Decision, error) {
	if e.Registry == nil {
		return nil, Decision{}, errors.New("registry not loaded")
	}
	d := Decision{ID: e.newID()}
	def, err := e.Registry.Get(id, caller)

	rec := events.Record{DecisionID: d.ID, SkillID: id, Caller: caller}
	var nae access.NotApprovedError
	var na access.NotAuthorizedError
	switch {
	case err == nil:
		rec.Type, d.Outcome = events.TypeGranted, events.OutcomeGranted
		rec.Payload = events.Payload{"version": def.Metadata.Version, "risk": def.Context.RiskClassification}
	case errors.Is(err, registry.ErrNotFound):
		rec.Type, d.Outcome = events.TypeNotFound, events.OutcomeNotFound
	case errors.As(err, &nae):
		rec.Type, d.Outcome = events.TypeDenied, events.OutcomeNotApproved
		rec.Payload = events.Payload{"status": nae.Status}
	case errors.As(err, &na):
		rec.Type, d.Outcome = events.TypeDenied, events.OutcomeNotAuthorized
	default:
		return nil, d, err
	}
	rec.Outcome = d.Outcome

	e.logger().Info("skill access", "decision", d.ID, "skill", id, "caller", caller, "outcome", d.Outcome)
	if e.Audited() {
		e.Events.Now = e.now
		if _, aerr := e.Events.Append(ctx, rec); aerr != nil {
			return nil, d, fmt.Errorf("record decision %s: %w", d.ID, aerr)
		}
	}
	return def, d, err
}

// Get returns the definition if both access gates pass.
func (e Engine) Get(ctx context.Context, id, caller string) (*domain.Definition, error) {
	def, _, err := e.Authorize(ctx, id, caller)
	return def, err
}

// Instructions returns the rendered instruction document for an
// authorised caller.
func (e Engine) Instructions(ctx context.Context, id, caller string) (string, Decision, error) {
	def, d, err := e.Authorize(ctx, id, caller)
	if err != nil {
		return "", d, err
	}
	return render.Render(def), d, nil
}

// Export returns the JSON envelope for an authorised caller.
func (e Engine) Export(ctx context.Context, id, caller string) ([]byte, Decision, error) {
	def, d, err := e.Authorize(ctx, id, caller)
	if err != nil {
		return nil, d, err
	}
	data, err := export.JSON(def)
	return data, d, err
}

// List is not access gated and not audited.
func (e Engine) List(f registry.Filter) []domain.Summary {
	if e.Registry == nil {
		return nil
	}
	return e.Registry.List(f)
}

// Reload rescans the registry root and records the new counts.
func (e Engine) Reload(ctx context.Context, actor string) (registry.Stats, error) {
	if e.Registry == nil {
		return registry.Stats{}, errors.New("registry not loaded")
	}
	stats, err := e.Registry.Reload(ctx)
	if err != nil {
		return stats, err
	}
	if e.Audited() {
		e.Events.Now = e.now
		_, err = e.Events.Append(ctx, events.Record{
			Type:       events.TypeReloaded,
			DecisionID: e.newID(),
			Caller:     actor,
			Outcome:    events.OutcomeReloaded,
			Payload:    events.Payload{"indexed": stats.Indexed, "excluded": stats.Excluded},
		})
		if err != nil {
			return stats, fmt.Errorf("record reload: %w", err)
		}
	}
	return stats, nil
}

// RecentEvents reads the audit log newest first.
func (e Engine) RecentEvents(ctx context.Context, limit int, f repo.EventFilter) ([]domain.Event, error) {
	if !e.Audited() {
		return nil, ErrAuditDisabled
	}
	return e.Repo.LatestEvents(ctx, limit, f)
}
