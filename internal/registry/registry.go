// Package registry indexes the valid skill definitions under a directory
// tree and serves gated lookups.
//
// Definitions that fail validation are excluded from the index and behave
// exactly like ids that never existed. The reason is logged for operators
// but never returned to callers of Get or List.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"supervisory/internal/access"
	"supervisory/internal/domain"
	"supervisory/internal/logging"
	"supervisory/internal/schema"
)

var ErrNotFound = errors.New("skill not found")

type Options struct {
	// Versions is the schema registry; nil means schema.Default().
	Versions *schema.Versions
	// SharedDir overrides the shared capability namespace location.
	SharedDir string
	// Concurrency bounds parallel file validation; 0 means GOMAXPROCS.
	Concurrency int
	Logger      *slog.Logger
	Now         func() time.Time
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Area   string
	Status domain.Status
}

// Stats summarises a load.
type Stats struct {
	Indexed  int       `json:"indexed"`
	Excluded int       `json:"excluded"`
	LoadedAt time.Time `json:"loaded_at"`
}

// index is an immutable snapshot. It is never modified after publication.
type index struct {
	byID  map[string]*Entry
	ids   []string
	stats Stats
}

// Registry holds the current index snapshot. Readers never block; Reload
// builds a fresh snapshot and swaps it in whole.
type Registry struct {
	root   string
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	reloadMu sync.Mutex
	current  atomic.Pointer[index]
}

// Load scans root and returns a registry over the result.
func Load(ctx context.Context, root string, opts Options) (*Registry, error) {
	r := &Registry{root: root, opts: opts, logger: opts.Logger, now: opts.Now}
	if r.logger == nil {
		r.logger = logging.Discard()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if _, err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rescans the root and replaces the whole index. On error the
// previous snapshot stays in place.
func (r *Registry) Reload(ctx context.Context) (Stats, error) {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	outcomes, err := Scan(ctx, r.root, r.opts)
	if err != nil {
		return Stats{}, err
	}
	idx := r.build(outcomes)
	r.current.Store(idx)
	r.logger.Info("registry loaded", "root", r.root, "indexed", idx.stats.Indexed, "excluded", idx.stats.Excluded)
	return idx.stats, nil
}

func (r *Registry) build(outcomes []Outcome) *index {
	idx := &index{byID: make(map[string]*Entry, len(outcomes))}
	for _, o := range outcomes {
		if !o.Indexed() {
			idx.stats.Excluded++
			r.logger.Warn("definition excluded", "path", o.Path, "reason", o.Reason)
			continue
		}
		id := o.Entry.Definition.Metadata.ID
		if prev, dup := idx.byID[id]; dup {
			idx.stats.Excluded++
			r.logger.Warn("definition excluded", "path", o.Path, "reason", "duplicate id, already indexed from "+prev.Path)
			continue
		}
		for _, w := range o.Entry.Warnings {
			r.logger.Debug("definition warning", "id", id, "issue", w.String())
		}
		idx.byID[id] = o.Entry
		idx.ids = append(idx.ids, id)
	}
	sort.Strings(idx.ids)
	idx.stats.Indexed = len(idx.ids)
	idx.stats.LoadedAt = r.now().UTC()
	return idx
}

func (r *Registry) snapshot() *index {
	if idx := r.current.Load(); idx != nil {
		return idx
	}
	return &index{}
}

// Root is the scanned directory.
func (r *Registry) Root() string { return r.root }

func (r *Registry) Stats() Stats { return r.snapshot().stats }

func (r *Registry) Len() int { return len(r.snapshot().ids) }

// Contains reports whether id is indexed, without any access gating.
func (r *Registry) Contains(id string) bool {
	_, ok := r.snapshot().byID[id]
	return ok
}

// Get returns a copy of the definition after both access gates pass.
// Unknown and excluded ids both yield ErrNotFound.
func (r *Registry) Get(id, caller string) (*domain.Definition, error) {
	e, ok := r.snapshot().byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := access.Authorize(e.Definition, caller); err != nil {
		return nil, err
	}
	return e.Definition.Clone(), nil
}

// List returns summaries of indexed definitions sorted by id. Listing is
// not access gated.
func (r *Registry) List(f Filter) []domain.Summary {
	idx := r.snapshot()
	out := make([]domain.Summary, 0, len(idx.ids))
	for _, id := range idx.ids {
		def := idx.byID[id].Definition
		if f.Area != "" && def.Metadata.BusinessArea != f.Area {
			continue
		}
		if f.Status != "" && def.Metadata.Status != f.Status {
			continue
		}
		out = append(out, def.Summary())
	}
	return out
}
