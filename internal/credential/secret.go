package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// GenerateSecret returns a 256-bit random secret in base64url form.
// Used for key secrets and opaque refresh tokens; the plaintext is
// revealed to the caller exactly once.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("credential: generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// LookupDigest derives the indexed lookup key for an opaque token. Refresh
// tokens are located by this digest, never by direct secret comparison.
func LookupDigest(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
