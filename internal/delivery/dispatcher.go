package delivery

import (
	"context"
	"encoding/json"

	"github.com/plantops/webhookd/internal/events"
	"github.com/plantops/webhookd/internal/storage"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// Dispatcher fans an emitted event out to the organization's matching active
// subscriptions. Delivery runs detached from the caller on a bounded pool; a
// slow or failing subscriber never blocks the event producer or its siblings.
type Dispatcher struct {
	store  storage.Storage
	engine *Engine
	pool   *pool.Pool
	log    zerolog.Logger
}

func NewDispatcher(store storage.Storage, engine *Engine, maxConcurrent int, log zerolog.Logger) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 64
	}
	return &Dispatcher{
		store:  store,
		engine: engine,
		pool:   pool.New().WithMaxGoroutines(maxConcurrent),
		log:    log,
	}
}

// Dispatch matches event against the organization's active subscriptions and
// schedules one delivery per match. It returns the match count immediately;
// delivery outcomes surface only through the delivery log and subscription
// status, never to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, orgID, event string, data json.RawMessage) (int, error) {
	subs, err := d.store.ListActiveSubscriptions(ctx, orgID)
	if err != nil {
		return 0, err
	}

	matched := 0
	for _, sub := range subs {
		if !events.Matches(sub.Events, event) {
			continue
		}
		matched++
		sub := sub
		d.pool.Go(func() {
			defer func() {
				if r := recover(); r != nil {
					d.log.Error().
						Str("webhook_id", sub.ID).
						Str("event", event).
						Interface("panic", r).
						Msg("delivery task panicked")
				}
			}()
			// Detached from the emitting request; the sender's client
			// timeout bounds the network call.
			if _, err := d.engine.Deliver(context.Background(), &sub, event, data); err != nil {
				d.log.Error().Err(err).
					Str("webhook_id", sub.ID).
					Str("event", event).
					Msg("delivery task failed")
			}
		})
	}

	if matched > 0 {
		d.log.Debug().
			Str("org_id", orgID).
			Str("event", event).
			Int("matched", matched).
			Msg("event dispatched")
	}
	return matched, nil
}

// Close drains in-flight deliveries. Call once, on shutdown.
func (d *Dispatcher) Close() {
	d.pool.Wait()
}
