package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"supervisory/internal/config"
	"supervisory/internal/domain"
	"supervisory/internal/logging"
	"supervisory/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// Dispatcher forwards new audit events to configured webhooks. Cursors are
// persisted so a restart neither replays nor skips deliveries.
type Dispatcher struct {
	Repo     repo.Repo
	Webhooks []config.WebhookConfig
	Logger   *slog.Logger
	Interval time.Duration
	Now      func() time.Time

	client *http.Client
	mu     sync.Mutex
	cursor map[string]int64
}

// NewDispatcher returns nil when there is nothing to deliver to.
func NewDispatcher(r repo.Repo, hooks []config.WebhookConfig, logger *slog.Logger) *Dispatcher {
	var active []config.WebhookConfig
	for _, h := range hooks {
		if h.IsEnabled() && strings.TrimSpace(h.URL) != "" {
			active = append(active, h)
		}
	}
	if r.DB == nil || len(active) == 0 {
		return nil
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Dispatcher{
		Repo:     r,
		Webhooks: active,
		Logger:   logger,
		Interval: defaultWebhookInterval,
		Now:      time.Now,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		cursor:   make(map[string]int64),
	}
}

// Run polls until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		d.DispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchAll makes one delivery pass over every webhook.
func (d *Dispatcher) DispatchAll(ctx context.Context) {
	for _, hook := range d.Webhooks {
		if ctx.Err() != nil {
			return
		}
		d.dispatchWebhook(ctx, hook)
	}
}

func hookKey(hook config.WebhookConfig) string {
	if hook.ID != "" {
		return hook.ID
	}
	return hook.URL
}

func (d *Dispatcher) dispatchWebhook(ctx context.Context, hook config.WebhookConfig) {
	key := hookKey(hook)
	log := d.Logger.With("webhook", key)
	cursor, err := d.cursorFor(ctx, key)
	if err != nil {
		log.Error("init webhook cursor failed", "err", err)
		return
	}
	events, err := d.Repo.EventsAfter(ctx, defaultWebhookBatch, cursor)
	if err != nil {
		log.Error("fetch events failed", "err", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		if filter.match(evt.Type) {
			if err := d.postEvent(ctx, hook, evt); err != nil {
				log.Warn("webhook delivery failed", "event", evt.ID, "err", err)
				return
			}
			log.Debug("webhook delivered", "event", evt.ID, "type", evt.Type)
		}
		if err := d.setCursor(ctx, key, evt.ID); err != nil {
			log.Error("persist webhook cursor failed", "err", err)
			return
		}
	}
}

// cursorFor starts a webhook seen for the first time at the current end of
// the log.
func (d *Dispatcher) cursorFor(ctx context.Context, key string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursor[key]; ok {
		return cur, nil
	}
	cur, err := d.Repo.WebhookCursor(ctx, key)
	if errors.Is(err, repo.ErrNotFound) {
		if cur, err = d.Repo.LatestEventID(ctx); err != nil {
			return 0, err
		}
		if err := d.Repo.SetWebhookCursor(ctx, key, cur, d.Now()); err != nil {
			return 0, err
		}
	} else if err != nil {
		return 0, err
	}
	d.cursor[key] = cur
	return cur, nil
}

func (d *Dispatcher) setCursor(ctx context.Context, key string, value int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.Repo.SetWebhookCursor(ctx, key, value, d.Now()); err != nil {
		return err
	}
	d.cursor[key] = value
	return nil
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	DecisionID string          `json:"decision_id"`
	SkillID    string          `json:"skill_id,omitempty"`
	Caller     string          `json:"caller,omitempty"`
	Outcome    string          `json:"outcome"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func (d *Dispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage([]byte("{}"))
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage([]byte(evt.Payload))
		} else {
			raw = evt.Payload
		}
	}
	body := webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		DecisionID: evt.DecisionID,
		SkillID:    evt.SkillID,
		Caller:     evt.Caller,
		Outcome:    evt.Outcome,
		TS:         evt.TS,
		Payload:    payload,
		PayloadRaw: raw,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if client == nil || timeout != client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Supervisory-Event", evt.Type)
	req.Header.Set("X-Supervisory-Delivery", fmt.Sprintf("%d", evt.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Supervisory-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
