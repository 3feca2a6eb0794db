package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"

	goerrors "github.com/goliatone/go-errors"
)

// Opaque token sizes in random bytes before base64url encoding.
const (
	RefreshTokenBytes      = 64
	ResetTokenBytes        = 48
	VerificationTokenBytes = 32
)

// NewOpaqueToken draws nBytes from the process CSPRNG and encodes them as
// URL-safe base64 without padding. The value has no internal structure; it is
// meaningful only by fingerprint lookup.
func NewOpaqueToken(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read random bytes")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Fingerprint computes the at-rest key for an opaque token: SHA-256 over its
// UTF-8 bytes, URL-safe base64 without padding (43 chars). Deterministic and
// unsalted; tokens carry >=256 bits of entropy so a salt would only defeat
// equality lookup.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
