package sdjwt

import (
	"crypto"
	_ "crypto/sha256" // register SHA-256
	_ "crypto/sha512" // register SHA-384 and SHA-512
	"encoding/json"
	"fmt"

	"github.com/capiscio/vp-verifier/pkg/jwt"
	"github.com/capiscio/vp-verifier/pkg/vperr"
)

// DefaultAlgorithm is the digest algorithm used when _sd_alg is absent.
const DefaultAlgorithm = "sha-256"

// Disclosure is one revealed claim.
type Disclosure struct {
	// Raw is the base64url-encoded disclosure as presented.
	Raw string

	// Salt is the random salt.
	Salt string

	// Name is the claim name; empty for array element disclosures.
	Name string

	// Value is the disclosed value.
	Value any

	// IsArrayEntry is true for two-element disclosures.
	IsArrayEntry bool
}

// ParseDisclosure decodes a single base64url disclosure.
func ParseDisclosure(raw string) (*Disclosure, error) {
	var arr []any
	if err := jwt.DecodeJSON(raw, &arr); err != nil {
		return nil, vperr.WrapError(vperr.ErrCodeDecode, "decoding disclosure", err)
	}

	d := &Disclosure{Raw: raw}

	var ok bool
	switch len(arr) {
	case 3:
		d.Salt, ok = arr[0].(string)
		if !ok {
			return nil, vperr.NewError(vperr.ErrCodeDecode, "disclosure salt is not a string")
		}
		d.Name, ok = arr[1].(string)
		if !ok {
			return nil, vperr.NewError(vperr.ErrCodeDecode, "disclosure claim name is not a string")
		}
		d.Value = arr[2]
	case 2:
		d.Salt, ok = arr[0].(string)
		if !ok {
			return nil, vperr.NewError(vperr.ErrCodeDecode, "disclosure salt is not a string")
		}
		d.Value = arr[1]
		d.IsArrayEntry = true
	default:
		return nil, vperr.Errorf(vperr.ErrCodeDecode, "unexpected disclosure array length: %d", len(arr))
	}

	return d, nil
}

// Digest returns the base64url digest of the disclosure under the named algorithm.
func (d Disclosure) Digest(alg string) (string, error) {
	h, err := HashFor(alg)
	if err != nil {
		return "", err
	}
	return digest(h, d.Raw), nil
}

// Encode builds the base64url form of a disclosure. Name is omitted for array entries.
func Encode(salt, name string, value any) (string, error) {
	arr := []any{salt, name, value}
	if name == "" {
		arr = []any{salt, value}
	}
	b, err := json.Marshal(arr)
	if err != nil {
		return "", fmt.Errorf("marshaling disclosure: %w", err)
	}
	return jwt.EncodeSegment(b), nil
}

// HashFor maps an _sd_alg name to a hash function. Only SHA-2 family hashes are accepted.
func HashFor(alg string) (crypto.Hash, error) {
	switch alg {
	case "sha-256":
		return crypto.SHA256, nil
	case "sha-384":
		return crypto.SHA384, nil
	case "sha-512":
		return crypto.SHA512, nil
	default:
		return 0, vperr.Errorf(vperr.ErrCodeSchema, "unsupported _sd_alg: %q", alg)
	}
}

func digest(h crypto.Hash, value string) string {
	hasher := h.New()
	hasher.Write([]byte(value))
	return jwt.EncodeSegment(hasher.Sum(nil))
}
