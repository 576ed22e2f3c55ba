package vp

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// DefaultNonceSize is 32 bytes (256 bits of entropy).
const DefaultNonceSize = 32

// ErrNonceGeneration is returned when the system random source fails.
var ErrNonceGeneration = errors.New("failed to generate nonce")

// Challenge is the verifier's per-request binding for a KB-JWT.
// Both fields must match the KB-JWT exactly. A challenge is single use.
type Challenge struct {
	// Audience is the verifier's client identifier or response URI.
	Audience string `json:"aud"`

	// Nonce is the fresh value sent in the authorization request.
	Nonce string `json:"nonce"`
}

// GenerateNonce creates a cryptographically secure random nonce,
// base64url-encoded without padding.
func GenerateNonce(size int) (string, error) {
	if size <= 0 {
		size = DefaultNonceSize
	}

	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNonceGeneration, err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewChallenge returns a challenge for audience with a fresh nonce.
func NewChallenge(audience string) (Challenge, error) {
	nonce, err := GenerateNonce(DefaultNonceSize)
	if err != nil {
		return Challenge{}, err
	}
	return Challenge{Audience: audience, Nonce: nonce}, nil
}
