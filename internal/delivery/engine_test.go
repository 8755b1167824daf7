package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/plantops/webhookd/internal/events"
	"github.com/plantops/webhookd/internal/models"
	"github.com/plantops/webhookd/internal/signing"
	"github.com/plantops/webhookd/internal/storage"
	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) storage.Storage {
	t.Helper()
	s, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func seedSubscription(t *testing.T, store storage.Storage, url string, eventNames ...string) *models.Subscription {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	org := &models.Organization{
		ID:        models.NewID("org"),
		Name:      "Riverside Plant",
		APIKey:    models.NewAPIKey(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateOrganization(ctx, org); err != nil {
		t.Fatalf("create org: %v", err)
	}
	if len(eventNames) == 0 {
		eventNames = []string{"ticket.created"}
	}
	sub := &models.Subscription{
		ID:        models.NewID("sub"),
		OrgID:     org.ID,
		URL:       url,
		Events:    eventNames,
		Secret:    models.NewSecret(),
		Status:    models.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	return sub
}

func newEngine(store storage.Storage, timeout time.Duration) *Engine {
	return NewEngine(store, NewSender(timeout, "test"), DefaultFailureThreshold, zerolog.Nop())
}

func TestDeliverSuccess(t *testing.T) {
	var gotBody []byte
	var gotSig, gotEvent, gotDeliveryID string
	var gotTS int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(bytes.Buffer)
		buf.ReadFrom(r.Body)
		gotBody = buf.Bytes()
		gotSig = r.Header.Get("X-PlantOps-Signature")
		gotEvent = r.Header.Get("X-PlantOps-Event")
		gotDeliveryID = r.Header.Get("X-PlantOps-Delivery")
		gotTS, _ = strconv.ParseInt(r.Header.Get("X-PlantOps-Timestamp"), 10, 64)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newTestStore(t)
	sub := seedSubscription(t, store, srv.URL)
	engine := newEngine(store, 5*time.Second)

	entry, err := engine.Deliver(context.Background(), sub, "ticket.created", json.RawMessage(`{"ticket":"tkt_1"}`))
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if !entry.Delivered() || entry.ResponseStatus != http.StatusOK {
		t.Fatalf("unexpected result: %+v", entry)
	}
	if gotEvent != "ticket.created" || gotDeliveryID != entry.ID {
		t.Fatalf("headers: event=%q delivery=%q", gotEvent, gotDeliveryID)
	}

	// The bytes on the wire are the bytes in the log, and the signature was
	// computed over exactly those bytes.
	if !bytes.Equal(gotBody, entry.Payload) {
		t.Fatalf("sent bytes differ from logged payload:\n%s\n%s", gotBody, entry.Payload)
	}
	if !signing.Verify(sub.Secret, entry.Payload, gotTS, gotSig) {
		t.Fatal("signature does not verify against logged payload and secret")
	}

	var envelope Envelope
	if err := json.Unmarshal(entry.Payload, &envelope); err != nil {
		t.Fatalf("payload is not a valid envelope: %v", err)
	}
	if envelope.Event != "ticket.created" || envelope.OrgID != sub.OrgID {
		t.Fatalf("envelope fields: %+v", envelope)
	}

	got, _ := store.GetSubscription(context.Background(), sub.ID)
	if got.FailureCount != 0 || got.Status != models.StatusActive || got.LastTriggeredAt == nil {
		t.Fatalf("success bookkeeping: %+v", got)
	}
}

func TestDeliverFailureThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := newTestStore(t)
	sub := seedSubscription(t, store, srv.URL)
	engine := newEngine(store, 5*time.Second)
	ctx := context.Background()

	for i := 1; i <= DefaultFailureThreshold-1; i++ {
		engine.Deliver(ctx, sub, "ticket.created", json.RawMessage(`{}`))
		got, _ := store.GetSubscription(ctx, sub.ID)
		if got.FailureCount != i || got.Status != models.StatusActive {
			t.Fatalf("after %d failures: count=%d status=%q", i, got.FailureCount, got.Status)
		}
	}

	engine.Deliver(ctx, sub, "ticket.created", json.RawMessage(`{}`))
	got, _ := store.GetSubscription(ctx, sub.ID)
	if got.FailureCount != DefaultFailureThreshold || got.Status != models.StatusFailed {
		t.Fatalf("at threshold: count=%d status=%q", got.FailureCount, got.Status)
	}
	// URL, events and secret are untouched by failure bookkeeping.
	if got.URL != sub.URL || got.Secret != sub.Secret {
		t.Fatalf("failure touched url/secret: %+v", got)
	}
}

func TestDeliverSuccessResetsAfterFailures(t *testing.T) {
	fail := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	store := newTestStore(t)
	sub := seedSubscription(t, store, srv.URL)
	engine := newEngine(store, 5*time.Second)
	ctx := context.Background()

	engine.Deliver(ctx, sub, "ticket.created", json.RawMessage(`{}`))
	engine.Deliver(ctx, sub, "ticket.created", json.RawMessage(`{}`))

	fail = false
	engine.Deliver(ctx, sub, "ticket.created", json.RawMessage(`{}`))

	got, _ := store.GetSubscription(ctx, sub.ID)
	if got.FailureCount != 0 || got.Status != models.StatusActive {
		t.Fatalf("2xx did not reset: count=%d status=%q", got.FailureCount, got.Status)
	}
}

func TestDeliverNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	store := newTestStore(t)
	sub := seedSubscription(t, store, srv.URL)
	engine := newEngine(store, 100*time.Millisecond)

	entry, err := engine.Deliver(context.Background(), sub, "ticket.created", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if entry.ResponseStatus != 0 {
		t.Fatalf("expected status 0 sentinel, got %d", entry.ResponseStatus)
	}
	if entry.ResponseBody == "" {
		t.Fatal("expected error description in response body")
	}

	got, _ := store.GetSubscription(context.Background(), sub.ID)
	if got.FailureCount != 1 {
		t.Fatalf("network failure not counted: %d", got.FailureCount)
	}
}

func TestTestPing(t *testing.T) {
	var gotEvent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEvent = r.Header.Get("X-PlantOps-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newTestStore(t)
	sub := seedSubscription(t, store, srv.URL)
	engine := newEngine(store, 5*time.Second)

	entry, err := engine.Test(context.Background(), sub)
	if err != nil {
		t.Fatalf("test: %v", err)
	}
	if gotEvent != events.TestPing || entry.Event != events.TestPing {
		t.Fatalf("expected %s, got %q / %q", events.TestPing, gotEvent, entry.Event)
	}
	if !entry.Delivered() {
		t.Fatalf("test ping not delivered: %+v", entry)
	}

	logs, _ := store.ListDeliveryLogs(context.Background(), sub.ID, 10, 0)
	if len(logs) != 1 {
		t.Fatalf("expected one log entry, got %d", len(logs))
	}
}

func TestRetrySendsIdenticalBytes(t *testing.T) {
	var bodies [][]byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(bytes.Buffer)
		buf.ReadFrom(r.Body)
		bodies = append(bodies, buf.Bytes())
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newTestStore(t)
	sub := seedSubscription(t, store, srv.URL)
	engine := newEngine(store, 5*time.Second)
	ctx := context.Background()

	original, err := engine.Deliver(ctx, sub, "ticket.created", json.RawMessage(`{"ticket":"tkt_9"}`))
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}

	retried, err := engine.Retry(ctx, sub, original)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.RetryOf != original.ID {
		t.Fatalf("retry_of = %q, want %q", retried.RetryOf, original.ID)
	}
	if retried.ID == original.ID {
		t.Fatal("retry reused the original log id")
	}
	if len(bodies) != 2 || !bytes.Equal(bodies[0], bodies[1]) {
		t.Fatalf("retry did not replay identical bytes")
	}
	if !bytes.Equal(retried.Payload, original.Payload) {
		t.Fatal("retry log entry payload differs from the original")
	}

	// The original entry is immutable: still present and unchanged.
	kept, _ := store.GetDeliveryLog(ctx, original.ID)
	if kept == nil || !bytes.Equal(kept.Payload, original.Payload) || kept.RetryOf != "" {
		t.Fatalf("original log entry changed: %+v", kept)
	}
}

func TestRetryAppliesBookkeeping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := newTestStore(t)
	sub := seedSubscription(t, store, srv.URL)
	engine := newEngine(store, 5*time.Second)
	ctx := context.Background()

	original, _ := engine.Deliver(ctx, sub, "ticket.created", json.RawMessage(`{}`))
	engine.Retry(ctx, sub, original)

	got, _ := store.GetSubscription(ctx, sub.ID)
	if got.FailureCount != 2 {
		t.Fatalf("retry failure not counted: %d", got.FailureCount)
	}
}
