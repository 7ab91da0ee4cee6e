package cryptox

import (
	"crypto/sha256"
	"encoding/base64"
)

// Fingerprint returns a deterministic SHA-256 digest of the input as a
// base64url string (43 chars, no padding). Used wherever we need a
// collision-resistant, fixed-length key derived from content: cache keys and
// audit entry hashes.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
