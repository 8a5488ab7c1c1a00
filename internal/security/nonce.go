package security

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/google/uuid"
)

// nonceBytes gives 128 bits of entropy per nonce
const nonceBytes = 16

// GenerateNonce returns a fresh CSP nonce as standard base64 (24 chars).
// A failing entropy source is unrecoverable, so it panics instead of
// falling back to a weaker source.
func GenerateNonce() string {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		panic("security: crypto/rand unavailable: " + err.Error())
	}
	return base64.StdEncoding.EncodeToString(b)
}

// UUIDNonce derives a nonce from the 16 bytes of a random v4 UUID. Six of
// those bits are fixed by the version and variant fields.
func UUIDNonce() string {
	id := uuid.New()
	return base64.StdEncoding.EncodeToString(id[:])
}
