package models

import "time"

type SubscriptionStatus string

const (
	StatusActive SubscriptionStatus = "active"
	StatusPaused SubscriptionStatus = "paused"
	StatusFailed SubscriptionStatus = "failed"
)

// Subscription is a registered external URL plus the set of event names it
// wants to receive, scoped to one organization. Status "failed" is reached only
// through the consecutive-failure threshold, never set by the delivery path
// directly from user input.
type Subscription struct {
	ID              string             `json:"id"`
	OrgID           string             `json:"org_id"`
	URL             string             `json:"url"`
	Events          []string           `json:"events"`
	Secret          string             `json:"secret,omitempty"`
	Status          SubscriptionStatus `json:"status"`
	FailureCount    int                `json:"failure_count"`
	LastTriggeredAt *time.Time         `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Redacted returns a copy safe for list/get responses: the signing secret is
// never re-readable after creation except via rotation.
func (s Subscription) Redacted() Subscription {
	s.Secret = ""
	return s
}
