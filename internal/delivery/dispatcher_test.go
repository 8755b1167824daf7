package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/plantops/webhookd/internal/models"
	"github.com/rs/zerolog"
)

func TestDispatchFansOutToMatchingSubscriptions(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newTestStore(t)
	ctx := context.Background()

	matching := seedSubscription(t, store, srv.URL, "emergency.created")
	wildcard := &models.Subscription{
		ID:        models.NewID("sub"),
		OrgID:     matching.OrgID,
		URL:       srv.URL,
		Events:    []string{"*"},
		Secret:    models.NewSecret(),
		Status:    models.StatusActive,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := store.CreateSubscription(ctx, wildcard); err != nil {
		t.Fatalf("create wildcard sub: %v", err)
	}
	other := &models.Subscription{
		ID:        models.NewID("sub"),
		OrgID:     matching.OrgID,
		URL:       srv.URL,
		Events:    []string{"document.uploaded"},
		Secret:    models.NewSecret(),
		Status:    models.StatusActive,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := store.CreateSubscription(ctx, other); err != nil {
		t.Fatalf("create other sub: %v", err)
	}

	engine := newEngine(store, 5*time.Second)
	d := NewDispatcher(store, engine, 8, zerolog.Nop())

	matched, err := d.Dispatch(ctx, matching.OrgID, "emergency.created", json.RawMessage(`{"severity":"high"}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if matched != 2 {
		t.Fatalf("matched = %d, want 2 (exact + wildcard)", matched)
	}

	d.Close()

	if hits.Load() != 2 {
		t.Fatalf("endpoint hit %d times, want 2", hits.Load())
	}
	for _, sub := range []*models.Subscription{matching, wildcard} {
		logs, _ := store.ListDeliveryLogs(ctx, sub.ID, 10, 0)
		if len(logs) != 1 {
			t.Fatalf("subscription %s: %d log entries, want 1", sub.ID, len(logs))
		}
	}
	if logs, _ := store.ListDeliveryLogs(ctx, other.ID, 10, 0); len(logs) != 0 {
		t.Fatalf("non-subscribed endpoint received %d deliveries", len(logs))
	}
}

func TestDispatchSkipsUnsubscribedEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newTestStore(t)
	sub := seedSubscription(t, store, srv.URL, "emergency.created")
	engine := newEngine(store, 5*time.Second)
	d := NewDispatcher(store, engine, 8, zerolog.Nop())

	matched, err := d.Dispatch(context.Background(), sub.OrgID, "ticket.created", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	d.Close()

	if matched != 0 {
		t.Fatalf("matched = %d, want 0", matched)
	}
	if logs, _ := store.ListDeliveryLogs(context.Background(), sub.ID, 10, 0); len(logs) != 0 {
		t.Fatalf("unexpected deliveries: %d", len(logs))
	}
}

func TestDispatchExcludesDisabledSubscriptions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := newTestStore(t)
	sub := seedSubscription(t, store, srv.URL, "ticket.created")
	engine := newEngine(store, 5*time.Second)
	ctx := context.Background()

	// Trip the threshold: four consecutive failed dispatches.
	for i := 0; i < DefaultFailureThreshold; i++ {
		d := NewDispatcher(store, engine, 8, zerolog.Nop())
		d.Dispatch(ctx, sub.OrgID, "ticket.created", json.RawMessage(`{}`))
		d.Close()
	}

	got, _ := store.GetSubscription(ctx, sub.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}

	// A fifth emit produces no attempt: the dispatcher no longer selects it.
	d := NewDispatcher(store, engine, 8, zerolog.Nop())
	matched, _ := d.Dispatch(ctx, sub.OrgID, "ticket.created", json.RawMessage(`{}`))
	d.Close()
	if matched != 0 {
		t.Fatalf("disabled subscription still matched")
	}
	logs, _ := store.ListDeliveryLogs(ctx, sub.ID, 10, 0)
	if len(logs) != DefaultFailureThreshold {
		t.Fatalf("log entries = %d, want %d", len(logs), DefaultFailureThreshold)
	}
}

func TestDispatchDoesNotBlockCaller(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newTestStore(t)
	sub := seedSubscription(t, store, srv.URL, "ticket.created")
	engine := newEngine(store, 5*time.Second)
	d := NewDispatcher(store, engine, 8, zerolog.Nop())

	start := time.Now()
	matched, err := d.Dispatch(context.Background(), sub.OrgID, "ticket.created", json.RawMessage(`{}`))
	elapsed := time.Since(start)

	if err != nil || matched != 1 {
		t.Fatalf("dispatch: matched=%d err=%v", matched, err)
	}
	if elapsed > time.Second {
		t.Fatalf("dispatch blocked on delivery: %v", elapsed)
	}

	close(release)
	d.Close()
}
