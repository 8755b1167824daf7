package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/plantops/webhookd/internal/events"
	"github.com/plantops/webhookd/internal/models"
	"github.com/plantops/webhookd/internal/storage"
	"github.com/rs/zerolog"
)

// DefaultFailureThreshold is the consecutive-failure count at which a
// subscription is automatically disabled.
const DefaultFailureThreshold = 4

// Envelope is the canonical message built for one event occurrence. It is
// serialized exactly once; the same bytes are signed, sent, and stored in the
// delivery log so that a retry can replay them bit-identically.
type Envelope struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
	OrgID     string          `json:"org_id"`
}

// Engine performs single delivery attempts: sign, send, log, bookkeeping.
// It never retries on its own; retrying is an explicit operator action.
type Engine struct {
	store     storage.Storage
	sender    *Sender
	threshold int
	log       zerolog.Logger
}

func NewEngine(store storage.Storage, sender *Sender, threshold int, log zerolog.Logger) *Engine {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &Engine{
		store:     store,
		sender:    sender,
		threshold: threshold,
		log:       log,
	}
}

// Deliver builds and sends a fresh envelope for one event occurrence.
func (e *Engine) Deliver(ctx context.Context, sub *models.Subscription, event string, data json.RawMessage) (*models.DeliveryLog, error) {
	payload, err := e.seal(sub, event, data)
	if err != nil {
		return nil, err
	}
	return e.attempt(ctx, sub, event, payload, "")
}

// Test sends a synthetic test.ping envelope through the same path as a real
// delivery, including failure bookkeeping, and returns the outcome
// synchronously for display.
func (e *Engine) Test(ctx context.Context, sub *models.Subscription) (*models.DeliveryLog, error) {
	data, _ := json.Marshal(map[string]string{"message": "webhook test from PlantOps"})
	payload, err := e.seal(sub, events.TestPing, data)
	if err != nil {
		return nil, err
	}
	return e.attempt(ctx, sub, events.TestPing, payload, "")
}

// Retry re-signs and re-sends the exact payload bytes of an earlier attempt.
// The original envelope identifier and timestamp ride along inside those
// bytes; only the signature timestamp is fresh. The new log entry points at
// the original via retry_of.
func (e *Engine) Retry(ctx context.Context, sub *models.Subscription, original *models.DeliveryLog) (*models.DeliveryLog, error) {
	return e.attempt(ctx, sub, original.Event, original.Payload, original.ID)
}

// seal builds the canonical envelope and serializes it. The returned bytes
// are the only representation that ever gets signed or stored.
func (e *Engine) seal(sub *models.Subscription, event string, data json.RawMessage) ([]byte, error) {
	envelope := Envelope{
		ID:        models.NewID("evt"),
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		OrgID:     sub.OrgID,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to seal envelope: %w", err)
	}
	return payload, nil
}

func (e *Engine) attempt(ctx context.Context, sub *models.Subscription, event string, payload []byte, retryOf string) (*models.DeliveryLog, error) {
	logID := models.NewID("log")
	result := e.sender.Send(ctx, sub.URL, sub.Secret, logID, event, payload)

	body := result.ResponseBody
	if result.Error != "" {
		body = result.Error
	}

	entry := &models.DeliveryLog{
		ID:             logID,
		WebhookID:      sub.ID,
		Event:          event,
		Payload:        payload,
		ResponseStatus: result.StatusCode,
		ResponseBody:   body,
		DurationMs:     result.DurationMs,
		RetryOf:        retryOf,
		CreatedAt:      time.Now().UTC(),
	}

	if err := e.store.CreateDeliveryLog(ctx, entry); err != nil {
		e.log.Error().Err(err).
			Str("webhook_id", sub.ID).
			Str("event", event).
			Msg("failed to record delivery attempt")
	}

	if result.Delivered() {
		if err := e.store.RecordDeliverySuccess(ctx, sub.ID, entry.CreatedAt); err != nil {
			e.log.Error().Err(err).Str("webhook_id", sub.ID).Msg("failed to record delivery success")
		}
		e.log.Info().
			Str("webhook_id", sub.ID).
			Str("event", event).
			Int("status", result.StatusCode).
			Int64("duration_ms", result.DurationMs).
			Msg("delivery succeeded")
		return entry, nil
	}

	count, status, err := e.store.RecordDeliveryFailure(ctx, sub.ID, e.threshold)
	if err != nil {
		e.log.Error().Err(err).Str("webhook_id", sub.ID).Msg("failed to record delivery failure")
		return entry, nil
	}

	evt := e.log.Warn().
		Str("webhook_id", sub.ID).
		Str("event", event).
		Int("status", result.StatusCode).
		Int("failure_count", count)
	if result.Error != "" {
		evt = evt.Str("error", result.Error)
	}
	if status == models.StatusFailed {
		evt.Msg("delivery failed, subscription disabled")
	} else {
		evt.Msg("delivery failed")
	}
	return entry, nil
}
