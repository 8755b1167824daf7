package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/plantops/webhookd/internal/models"
	"github.com/plantops/webhookd/internal/storage"
	"github.com/rs/zerolog"
)

// auditor writes one compliance record per registry mutation. Failures to
// persist an audit row are logged, not surfaced: the mutation itself already
// succeeded.
type auditor struct {
	store storage.Storage
	log   zerolog.Logger
}

func (a *auditor) record(r *http.Request, orgID, action, entityType, entityID, oldValue, newValue string) {
	entry := &models.AuditEntry{
		ID:         models.NewID("aud"),
		OrgID:      orgID,
		UserID:     r.Header.Get("X-PlantOps-User"),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		OldValue:   oldValue,
		NewValue:   newValue,
		SourceIP:   r.RemoteAddr,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.CreateAuditEntry(r.Context(), entry); err != nil {
		a.log.Error().Err(err).
			Str("action", action).
			Str("entity_id", entityID).
			Msg("failed to record audit entry")
	}
}

// snapshot serializes a subscription for audit old/new values with the secret
// stripped; secrets never land in the audit trail.
func snapshot(sub *models.Subscription) string {
	if sub == nil {
		return ""
	}
	b, _ := json.Marshal(sub.Redacted())
	return string(b)
}
