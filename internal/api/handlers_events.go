package api

import (
	"encoding/json"
	"net/http"

	"github.com/plantops/webhookd/internal/delivery"
	"github.com/plantops/webhookd/internal/events"
)

type EventHandler struct {
	dispatcher *delivery.Dispatcher
}

func NewEventHandler(dispatcher *delivery.Dispatcher) *EventHandler {
	return &EventHandler{dispatcher: dispatcher}
}

type emitRequest struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

const maxPayloadSize = 256 * 1024 // 256KB

// Emit is the platform's entry point: producing subsystems call it whenever a
// notable state change occurs. Matching is synchronous, delivery is not; the
// response never reflects any subscriber's outcome.
func (h *EventHandler) Emit(w http.ResponseWriter, r *http.Request) {
	org := OrgFromContext(r.Context())
	if org == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadSize)
	var req emitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Event == "" {
		writeError(w, http.StatusBadRequest, "event is required")
		return
	}
	if len(req.Data) == 0 {
		req.Data = json.RawMessage("{}")
	}

	matched, err := h.dispatcher.Dispatch(r.Context(), org.ID, req.Event, req.Data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to dispatch event")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"event":   req.Event,
		"matched": matched,
	})
}

// Types lists the registerable event vocabulary for management UIs.
func (h *EventHandler) Types(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events":   events.Names(),
		"wildcard": events.Wildcard,
	})
}
