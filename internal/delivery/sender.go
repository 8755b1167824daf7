package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/plantops/webhookd/internal/signing"
)

// maxResponseBytes bounds the stored copy of a subscriber's response body.
// Applied on every path: automatic dispatch, manual test and retry.
const maxResponseBytes = 1024

type SendResult struct {
	StatusCode   int
	ResponseBody string
	DurationMs   int64
	Error        string
}

// Delivered reports whether the endpoint answered 2xx.
func (r *SendResult) Delivered() bool {
	return r.Error == "" && r.StatusCode >= 200 && r.StatusCode < 300
}

type Sender struct {
	client  *http.Client
	version string
}

// NewSender builds a sender whose client timeout is the hard wall-clock bound
// on one delivery attempt.
func NewSender(timeout time.Duration, version string) *Sender {
	return &Sender{
		client:  &http.Client{Timeout: timeout},
		version: version,
	}
}

// Send signs payload with the subscription secret and POSTs it. Network-level
// failures (timeout, connection refused, DNS) come back with StatusCode 0 and
// the error description in Error; they are results, not Go errors.
func (s *Sender) Send(ctx context.Context, url, secret, deliveryID, event string, payload []byte) *SendResult {
	start := time.Now()

	signature, timestamp := signing.Sign(secret, payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &SendResult{
			Error:      fmt.Sprintf("failed to create request: %v", err),
			DurationMs: time.Since(start).Milliseconds(),
		}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "PlantOps-Webhooks/"+s.version)
	req.Header.Set("X-PlantOps-Delivery", deliveryID)
	req.Header.Set("X-PlantOps-Event", event)
	req.Header.Set("X-PlantOps-Timestamp", fmt.Sprintf("%d", timestamp))
	req.Header.Set("X-PlantOps-Signature", signature)

	resp, err := s.client.Do(req)
	if err != nil {
		return &SendResult{
			Error:      fmt.Sprintf("request failed: %v", err),
			DurationMs: time.Since(start).Milliseconds(),
		}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	return &SendResult{
		StatusCode:   resp.StatusCode,
		ResponseBody: string(body),
		DurationMs:   time.Since(start).Milliseconds(),
	}
}
