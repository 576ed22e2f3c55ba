package trust

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/capiscio/vp-verifier/pkg/jwt"
	"github.com/capiscio/vp-verifier/pkg/vperr"
	"github.com/go-jose/go-jose/v4"
)

// KeyHint says where the key that signed an issuer JWT comes from.
// It is one of ByIdentifier, ByTrustChain or ByCertChain.
type KeyHint interface {
	keyHint()
}

// ByIdentifier names a key by its kid.
type ByIdentifier struct {
	KeyID string
}

// ByTrustChain carries the keys of a federation leaf entity configuration.
// Nothing in it is authenticated until a FederationValidator has checked the chain.
type ByTrustChain struct {
	// Subject is the entity the leaf statement describes.
	Subject string

	// Keys are the leaf's federation signing keys, in statement order.
	Keys []jose.JSONWebKey

	// Statements are the raw entity statements, leaf first.
	Statements []string
}

// ByCertChain carries the x5c certificate chain, leaf first.
type ByCertChain struct {
	// Key is the leaf certificate's public key.
	Key jose.JSONWebKey

	// Chain is the parsed chain; Chain[0] is the leaf.
	Chain []*x509.Certificate
}

func (ByIdentifier) keyHint() {}
func (ByTrustChain) keyHint() {}
func (ByCertChain) keyHint()  {}

// ResolveKeyHint picks the key hint of a JOSE header.
// kid takes precedence over trust_chain, which takes precedence over x5c.
func ResolveKeyHint(header map[string]any) (KeyHint, error) {
	if kid, ok := header["kid"].(string); ok && kid != "" {
		return ByIdentifier{KeyID: kid}, nil
	}
	if raw, ok := header["trust_chain"]; ok {
		return parseTrustChain(raw)
	}
	if raw, ok := header["x5c"]; ok {
		return parseCertChain(raw)
	}
	return nil, vperr.NewError(vperr.ErrCodeKeyNotFound, "no kid, trust_chain or x5c in JWT header")
}

func parseTrustChain(raw any) (ByTrustChain, error) {
	statements, err := stringArray(raw, "trust_chain")
	if err != nil {
		return ByTrustChain{}, err
	}

	leaf, err := jwt.Parse(statements[0])
	if err != nil {
		return ByTrustChain{}, fmt.Errorf("parsing trust_chain leaf: %w", err)
	}
	iss, sub := leaf.ClaimString("iss"), leaf.ClaimString("sub")
	if iss == "" || iss != sub {
		return ByTrustChain{}, vperr.NewError(vperr.ErrCodeSchema, "trust_chain leaf is not a self-issued entity configuration")
	}

	// Only the last statement, the trust anchor's own configuration, may be self-issued.
	for i, s := range statements[1:] {
		st, err := jwt.Parse(s)
		if err != nil {
			return ByTrustChain{}, fmt.Errorf("parsing trust_chain statement %d: %w", i+1, err)
		}
		if i+1 < len(statements)-1 && st.ClaimString("iss") == st.ClaimString("sub") {
			return ByTrustChain{}, vperr.Errorf(vperr.ErrCodeSchema, "trust_chain statement %d is self-issued", i+1)
		}
	}

	keys, err := statementKeys(leaf)
	if err != nil {
		return ByTrustChain{}, err
	}

	return ByTrustChain{Subject: sub, Keys: keys, Statements: statements}, nil
}

func statementKeys(st *jwt.Token) ([]jose.JSONWebKey, error) {
	jwks := st.ClaimObject("jwks")
	if jwks == nil {
		return nil, vperr.NewError(vperr.ErrCodeKeyNotFound, "trust_chain leaf has no jwks")
	}

	b, err := json.Marshal(jwks)
	if err != nil {
		return nil, vperr.WrapError(vperr.ErrCodeDecode, "encoding trust_chain jwks", err)
	}
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(b, &set); err != nil {
		return nil, vperr.WrapError(vperr.ErrCodeDecode, "decoding trust_chain jwks", err)
	}
	if len(set.Keys) == 0 {
		return nil, vperr.NewError(vperr.ErrCodeKeyNotFound, "trust_chain leaf jwks is empty")
	}
	return set.Keys, nil
}

func parseCertChain(raw any) (ByCertChain, error) {
	entries, err := stringArray(raw, "x5c")
	if err != nil {
		return ByCertChain{}, err
	}

	chain := make([]*x509.Certificate, 0, len(entries))
	for i, entry := range entries {
		der, err := base64.StdEncoding.DecodeString(entry)
		if err != nil {
			return ByCertChain{}, vperr.WrapError(vperr.ErrCodeDecode, fmt.Sprintf("decoding x5c certificate %d", i), err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return ByCertChain{}, vperr.WrapError(vperr.ErrCodeDecode, fmt.Sprintf("parsing x5c certificate %d", i), err)
		}
		chain = append(chain, cert)
	}

	return ByCertChain{
		Key:   jose.JSONWebKey{Key: chain[0].PublicKey, Certificates: chain},
		Chain: chain,
	}, nil
}

func stringArray(raw any, name string) ([]string, error) {
	arr, ok := raw.([]any)
	if !ok || len(arr) == 0 {
		return nil, vperr.Errorf(vperr.ErrCodeSchema, "%s must be a non-empty array", name)
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		s, ok := v.(string)
		if !ok {
			return nil, vperr.Errorf(vperr.ErrCodeSchema, "%s must contain only strings", name)
		}
		out = append(out, s)
	}
	return out, nil
}
