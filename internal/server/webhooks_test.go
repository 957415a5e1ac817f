package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"supervisory/internal/config"
	"supervisory/internal/events"
)

type capturedDelivery struct {
	Event    string
	Delivery string
	Secret   string
	Body     webhookEvent
}

func newReceiver(t *testing.T) (*httptest.Server, func() []capturedDelivery) {
	t.Helper()
	var mu sync.Mutex
	var got []capturedDelivery
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var body webhookEvent
		if err := json.Unmarshal(data, &body); err != nil {
			t.Errorf("decode delivery: %v", err)
		}
		mu.Lock()
		got = append(got, capturedDelivery{
			Event:    r.Header.Get("X-Supervisory-Event"),
			Delivery: r.Header.Get("X-Supervisory-Delivery"),
			Secret:   r.Header.Get("X-Supervisory-Secret"),
			Body:     body,
		})
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedDelivery {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedDelivery(nil), got...)
	}
}

func TestDispatcherDeliversFilteredEvents(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	receiver, deliveries := newReceiver(t)
	hooks := []config.WebhookConfig{{ID: "siem", URL: receiver.URL, Secret: "s3cret", Events: []string{events.TypeDenied}}}

	// Events recorded before the first pass are not replayed.
	_, _, _ = e.Authorize(ctx, "retail_banking/loan-processing", "intruder")

	d := NewDispatcher(e.Repo, hooks, nil)
	if d == nil {
		t.Fatalf("expected a dispatcher")
	}
	d.DispatchAll(ctx)
	if n := len(deliveries()); n != 0 {
		t.Fatalf("expected no deliveries on first pass, got %d", n)
	}

	_, _, _ = e.Authorize(ctx, "markets/valuation", "pricing-agent")
	_, _, _ = e.Authorize(ctx, "retail_banking/card-dispute", "pricing-agent")
	d.DispatchAll(ctx)

	got := deliveries()
	if len(got) != 1 {
		t.Fatalf("expected one filtered delivery, got %d", len(got))
	}
	if got[0].Event != events.TypeDenied || got[0].Secret != "s3cret" || got[0].Delivery != "3" {
		t.Fatalf("unexpected headers %+v", got[0])
	}
	if got[0].Body.SkillID != "retail_banking/card-dispute" || got[0].Body.Outcome != events.OutcomeNotApproved {
		t.Fatalf("unexpected body %+v", got[0].Body)
	}

	cursor, err := e.Repo.WebhookCursor(ctx, "siem")
	if err != nil || cursor != 3 {
		t.Fatalf("cursor = %d, %v; want 3", cursor, err)
	}

	// A restarted dispatcher resumes from the persisted cursor.
	NewDispatcher(e.Repo, hooks, nil).DispatchAll(ctx)
	if n := len(deliveries()); n != 1 {
		t.Fatalf("restart must not redeliver, got %d deliveries", n)
	}
}

func TestDispatcherStopsAtFailedDelivery(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer failing.Close()

	d := NewDispatcher(e.Repo, []config.WebhookConfig{{ID: "down", URL: failing.URL}}, nil)
	d.DispatchAll(ctx)
	_, _, _ = e.Authorize(ctx, "markets/valuation", "pricing-agent")
	d.DispatchAll(ctx)

	cursor, err := e.Repo.WebhookCursor(ctx, "down")
	if err != nil || cursor != 0 {
		t.Fatalf("cursor must not advance past a failed delivery: %d, %v", cursor, err)
	}
}

func TestNewDispatcherSkipsDisabledHooks(t *testing.T) {
	e := newTestEngine(t)
	off := false
	hooks := []config.WebhookConfig{{ID: "a", URL: "http://127.0.0.1:1", Enabled: &off}, {ID: "b"}}
	if d := NewDispatcher(e.Repo, hooks, nil); d != nil {
		t.Fatalf("expected nil dispatcher, got %d hooks", len(d.Webhooks))
	}
}
