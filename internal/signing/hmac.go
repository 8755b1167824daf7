// Package signing implements the single signature scheme used on every
// delivery path: HMAC-SHA256 over "<unix timestamp>.<payload>", carried as
// "t=<timestamp>,v1=<hex>". Embedding the timestamp lets receivers reject
// stale or replayed signatures.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Sign computes the signature header value for payload using the webhook
// secret. The returned timestamp is the one embedded in the signature.
func Sign(secret string, payload []byte) (signature string, timestamp int64) {
	return signAt(secret, payload, time.Now().Unix())
}

func signAt(secret string, payload []byte, timestamp int64) (string, int64) {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil))), timestamp
}

// Verify recomputes the signature over payload at the given timestamp and
// compares it in constant time against the provided header value.
func Verify(secret string, payload []byte, timestamp int64, signature string) bool {
	expected, _ := signAt(secret, payload, timestamp)
	return hmac.Equal([]byte(expected), []byte(signature))
}
