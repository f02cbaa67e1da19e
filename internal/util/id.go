package util

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// NewID returns a URL-safe hex string ID.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// NewRequestID returns a high-entropy opaque identifier suitable for
// disambiguating concurrent OTP challenges.
func NewRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
