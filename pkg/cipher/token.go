package cipher

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/google/uuid"
)

// AuthToken returns the credential a subscriber presents when it
// authenticates: HMAC-SHA256 over the subscriber ID keyed by the shared
// secret.
func AuthToken(secret string, subscriberID uuid.UUID) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(subscriberID[:])
	return mac.Sum(nil)
}

// VerifyToken reports whether token matches AuthToken(secret, subscriberID)
// in constant time.
func VerifyToken(secret string, subscriberID uuid.UUID, token []byte) bool {
	return hmac.Equal(token, AuthToken(secret, subscriberID))
}
