package models

import (
	"encoding/json"
	"time"
)

// DeliveryLog records one delivery attempt, automatic, manual test or retry.
// Rows are append-only: a retry creates a new entry pointing at the original
// via RetryOf, it never edits the original.
type DeliveryLog struct {
	ID             string          `json:"id"`
	WebhookID      string          `json:"webhook_id"`
	Event          string          `json:"event"`
	Payload        json.RawMessage `json:"payload"`
	ResponseStatus int             `json:"response_status"`
	ResponseBody   string          `json:"response_body"`
	DurationMs     int64           `json:"duration_ms"`
	RetryOf        string          `json:"retry_of,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Delivered reports whether the attempt got a 2xx response. ResponseStatus 0
// is the sentinel for a network-level failure (timeout, connection refused,
// DNS) where no HTTP status exists.
func (l DeliveryLog) Delivered() bool {
	return l.ResponseStatus >= 200 && l.ResponseStatus < 300
}
