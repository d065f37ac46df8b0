package tunnel

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// authenticator answers server challenges. The HMAC key is the SHA-256 of
// the shared secret, matching the bore server's key derivation bit for bit.
type authenticator struct {
	key []byte
}

func newAuthenticator(secret string) *authenticator {
	sum := sha256.Sum256([]byte(secret))
	return &authenticator{key: sum[:]}
}

// answer returns the hex HMAC-SHA256 of the challenge id.
func (a *authenticator) answer(challenge uuid.UUID) string {
	mac := hmac.New(sha256.New, a.key)
	mac.Write(challenge[:])
	return hex.EncodeToString(mac.Sum(nil))
}

// validate checks a tag against a challenge, in constant time.
func (a *authenticator) validate(challenge uuid.UUID, tag string) bool {
	expected, err := hex.DecodeString(a.answer(challenge))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(tag)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}
