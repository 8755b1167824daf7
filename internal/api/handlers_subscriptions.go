package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/plantops/webhookd/internal/delivery"
	"github.com/plantops/webhookd/internal/events"
	"github.com/plantops/webhookd/internal/models"
	"github.com/plantops/webhookd/internal/storage"
)

type SubscriptionHandler struct {
	store  storage.Storage
	engine *delivery.Engine
	audit  *auditor
}

func NewSubscriptionHandler(store storage.Storage, engine *delivery.Engine, audit *auditor) *SubscriptionHandler {
	return &SubscriptionHandler{store: store, engine: engine, audit: audit}
}

type createSubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

// validateSubscriptionInput returns an error message, or "" when the input is
// acceptable. Webhook URLs must use encrypted transport and every event name
// must belong to the platform vocabulary (or be the wildcard).
func validateSubscriptionInput(rawURL string, evts []string) string {
	if rawURL == "" {
		return "url is required"
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return "url must be a valid HTTPS URL"
	}
	if len(evts) == 0 {
		return "events must contain at least one event name"
	}
	for _, name := range evts {
		if !events.Known(name) {
			return "unknown event type: " + name
		}
	}
	return ""
}

func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	org := OrgFromContext(r.Context())
	if org == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateSubscriptionInput(req.URL, req.Events); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	now := time.Now().UTC()
	sub := &models.Subscription{
		ID:        models.NewID("sub"),
		OrgID:     org.ID,
		URL:       req.URL,
		Events:    req.Events,
		Secret:    models.NewSecret(),
		Status:    models.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.CreateSubscription(r.Context(), sub); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create subscription")
		return
	}

	h.audit.record(r, org.ID, "webhook.create", "subscription", sub.ID, "", snapshot(sub))

	// The only response besides rotation that includes the secret.
	writeJSON(w, http.StatusCreated, sub)
}

// load fetches a subscription and enforces the organization boundary. A
// subscription belonging to another organization is indistinguishable from a
// missing one.
func (h *SubscriptionHandler) load(w http.ResponseWriter, r *http.Request) *models.Subscription {
	org := OrgFromContext(r.Context())
	if org == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil
	}

	id := chi.URLParam(r, "id")
	sub, err := h.store.GetSubscription(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get subscription")
		return nil
	}
	if sub == nil || sub.OrgID != org.ID {
		writeError(w, http.StatusNotFound, "subscription not found")
		return nil
	}
	return sub
}

func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub := h.load(w, r)
	if sub == nil {
		return
	}
	writeJSON(w, http.StatusOK, sub.Redacted())
}

func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	org := OrgFromContext(r.Context())
	if org == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	subs, err := h.store.ListSubscriptions(r.Context(), org.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}

	redacted := make([]models.Subscription, 0, len(subs))
	for _, sub := range subs {
		redacted = append(redacted, sub.Redacted())
	}
	writeJSON(w, http.StatusOK, redacted)
}

type updateSubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Status string   `json:"status"`
}

func (h *SubscriptionHandler) Update(w http.ResponseWriter, r *http.Request) {
	sub := h.load(w, r)
	if sub == nil {
		return
	}
	before := snapshot(sub)

	var req updateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.URL != "" {
		u, err := url.Parse(req.URL)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			writeError(w, http.StatusBadRequest, "url must be a valid HTTPS URL")
			return
		}
		sub.URL = req.URL
	}
	if req.Events != nil {
		if msg := validateSubscriptionInput(sub.URL, req.Events); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
		sub.Events = req.Events
	}
	if req.Status != "" {
		status := models.SubscriptionStatus(req.Status)
		switch status {
		case models.StatusActive, models.StatusPaused, models.StatusFailed:
		default:
			writeError(w, http.StatusBadRequest, "status must be one of: active, paused, failed")
			return
		}
		// Reactivating a tripped subscription re-arms the failure counter.
		if status == models.StatusActive && sub.Status == models.StatusFailed {
			sub.FailureCount = 0
		}
		sub.Status = status
	}

	if err := h.store.UpdateSubscription(r.Context(), sub); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update subscription")
		return
	}

	h.audit.record(r, sub.OrgID, "webhook.update", "subscription", sub.ID, before, snapshot(sub))
	writeJSON(w, http.StatusOK, sub.Redacted())
}

func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sub := h.load(w, r)
	if sub == nil {
		return
	}

	if err := h.store.DeleteSubscription(r.Context(), sub.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete subscription")
		return
	}

	h.audit.record(r, sub.OrgID, "webhook.delete", "subscription", sub.ID, snapshot(sub), "")
	w.WriteHeader(http.StatusNoContent)
}

func (h *SubscriptionHandler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	sub := h.load(w, r)
	if sub == nil {
		return
	}

	secret := models.NewSecret()
	if err := h.store.UpdateSubscriptionSecret(r.Context(), sub.ID, secret); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to rotate secret")
		return
	}

	h.audit.record(r, sub.OrgID, "webhook.rotate_secret", "subscription", sub.ID, "", "")

	// Returned exactly once; attempts already in flight finish with the old
	// secret.
	writeJSON(w, http.StatusOK, map[string]string{"secret": secret})
}

func (h *SubscriptionHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	sub := h.load(w, r)
	if sub == nil {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	logs, err := h.store.ListDeliveryLogs(r.Context(), sub.ID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list delivery logs")
		return
	}
	if logs == nil {
		logs = []models.DeliveryLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

type testResponse struct {
	Delivered  bool               `json:"delivered"`
	Status     int                `json:"status"`
	Response   string             `json:"response"`
	DurationMs int64              `json:"duration_ms"`
	Log        models.DeliveryLog `json:"log"`
}

func (h *SubscriptionHandler) Test(w http.ResponseWriter, r *http.Request) {
	sub := h.load(w, r)
	if sub == nil {
		return
	}

	entry, err := h.engine.Test(r.Context(), sub)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to send test delivery")
		return
	}

	writeJSON(w, http.StatusOK, testResponse{
		Delivered:  entry.Delivered(),
		Status:     entry.ResponseStatus,
		Response:   entry.ResponseBody,
		DurationMs: entry.DurationMs,
		Log:        *entry,
	})
}

func (h *SubscriptionHandler) RetryLog(w http.ResponseWriter, r *http.Request) {
	sub := h.load(w, r)
	if sub == nil {
		return
	}

	logID := chi.URLParam(r, "logID")
	original, err := h.store.GetDeliveryLog(r.Context(), logID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get delivery log")
		return
	}
	if original == nil || original.WebhookID != sub.ID {
		writeError(w, http.StatusNotFound, "delivery log not found")
		return
	}

	entry, err := h.engine.Retry(r.Context(), sub, original)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to retry delivery")
		return
	}

	writeJSON(w, http.StatusOK, entry)
}
