package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// LinkTokenBytes is the entropy of a login link secret.
const LinkTokenBytes = 32

var ErrInvalidLinkToken = errors.New("invalid link token")

// NewLinkToken returns a random base64url secret and the hash to persist.
func NewLinkToken() (string, []byte, error) {
	const op = "auth.NewLinkToken"

	b := make([]byte, LinkTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}

	raw := base64.RawURLEncoding.EncodeToString(b)
	sum := blake2b.Sum256([]byte(raw))

	return raw, sum[:], nil
}

// HashLinkToken hashes a presented secret. Secrets that could not have been
// produced by NewLinkToken are rejected without touching the store.
func HashLinkToken(raw string) ([]byte, error) {
	if raw == "" {
		return nil, ErrInvalidLinkToken
	}

	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil || len(b) != LinkTokenBytes {
		return nil, ErrInvalidLinkToken
	}

	sum := blake2b.Sum256([]byte(raw))
	return sum[:], nil
}
