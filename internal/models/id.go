package models

import (
	"crypto/rand"
	"fmt"
	"math/big"
	mrand "math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a prefixed, lexicographically sortable identifier such as
// "sub_01J9ZK...".
func NewID(prefix string) string {
	t := time.Now()
	entropy := ulid.Monotonic(mrand.New(mrand.NewSource(t.UnixNano())), 0)
	id := ulid.MustNew(ulid.Timestamp(t), entropy)
	return fmt.Sprintf("%s_%s", prefix, id.String())
}

const tokenCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomToken(n int) string {
	b := make([]byte, n)
	for i := range b {
		idx, _ := rand.Int(rand.Reader, big.NewInt(int64(len(tokenCharset))))
		b[i] = tokenCharset[idx.Int64()]
	}
	return string(b)
}

// NewAPIKey returns a bearer credential for an organization.
func NewAPIKey() string {
	return fmt.Sprintf("pok_%s", randomToken(32))
}

// NewSecret returns a webhook signing secret. It is shown to the caller
// exactly once, on subscription creation or secret rotation.
func NewSecret() string {
	return fmt.Sprintf("whsec_%s", randomToken(40))
}
