package vp

import (
	"context"
	"errors"
	"fmt"

	"github.com/capiscio/vp-verifier/pkg/jwt"
	"github.com/capiscio/vp-verifier/pkg/sdjwt"
	"github.com/capiscio/vp-verifier/pkg/trust"
	"github.com/capiscio/vp-verifier/pkg/vperr"
	"github.com/go-jose/go-jose/v4"
)

// DefaultAlgorithms are the JWS algorithms accepted unless configured otherwise.
func DefaultAlgorithms() []jose.SignatureAlgorithm {
	return []jose.SignatureAlgorithm{jose.ES256, jose.ES384, jose.ES512, jose.EdDSA, jose.RS256, jose.PS256}
}

// issuerKeys resolves the candidate keys for the issuer JWT from its key hint.
func (v *Verifier) issuerKeys(ctx context.Context, p *sdjwt.Presentation) ([]jose.JSONWebKey, error) {
	hint, err := trust.ResolveKeyHint(p.IssuerJWT.Header)
	if err != nil {
		return nil, err
	}

	switch h := hint.(type) {
	case trust.ByIdentifier:
		return v.keysByID(ctx, p.Issuer(), h.KeyID)

	case trust.ByTrustChain:
		if v.federation == nil {
			return nil, vperr.NewError(vperr.ErrCodeKeyNotFound, "trust_chain key hint requires configured trust anchors")
		}
		return v.federation.Validate(h, p.Issuer(), v.now(), v.algorithms)

	case trust.ByCertChain:
		if v.certs == nil {
			return nil, vperr.NewError(vperr.ErrCodeKeyNotFound, "x5c key hint requires configured root certificates")
		}
		if err := v.certs.Validate(h, p.Issuer(), v.now()); err != nil {
			return nil, err
		}
		return []jose.JSONWebKey{h.Key}, nil

	default:
		return nil, vperr.Errorf(vperr.ErrCodeKeyNotFound, "unsupported key hint %T", hint)
	}
}

// keysByID looks in the local key store first, then asks the trust sources for the issuer.
func (v *Verifier) keysByID(ctx context.Context, issuer, kid string) ([]jose.JSONWebKey, error) {
	if v.keys != nil {
		key, err := v.keys.Get(kid)
		if err == nil {
			return []jose.JSONWebKey{*key}, nil
		}
		if !errors.Is(err, vperr.ErrKeyNotFound) {
			return nil, vperr.WrapError(vperr.ErrCodeKeyNotFound, "issuer key store lookup failed", err)
		}
	}

	if v.trust == nil {
		return nil, vperr.Errorf(vperr.ErrCodeKeyNotFound, "issuer key not found in key store: kid %q", kid)
	}

	keys, err := v.trust.PublicKeys(ctx, issuer)
	if err != nil {
		return nil, vperr.WrapError(vperr.ErrCodeKeyNotFound, fmt.Sprintf("issuer key not found in key store: kid %q", kid), err)
	}
	var matched []jose.JSONWebKey
	for _, k := range keys {
		if k.KeyID == kid {
			matched = append(matched, k)
		}
	}
	if len(matched) == 0 {
		return nil, vperr.Errorf(vperr.ErrCodeKeyNotFound, "issuer key not found in key store: kid %q", kid)
	}
	return matched, nil
}

// verifySignature checks tok against each key in turn and returns the verified payload.
func (v *Verifier) verifySignature(tok *jwt.Token, keys []jose.JSONWebKey, what string) ([]byte, error) {
	jws, err := jose.ParseSigned(tok.Compact(), v.algorithms)
	if err != nil {
		return nil, vperr.WrapError(vperr.ErrCodeSignature, fmt.Sprintf("%s: unsupported or invalid JWS", what), err)
	}

	kid := tok.HeaderString("kid")
	var lastErr error
	for _, key := range keys {
		if kid != "" && key.KeyID != "" && key.KeyID != kid {
			continue
		}
		if !key.Valid() {
			lastErr = errors.New("invalid key")
			continue
		}
		payload, err := jws.Verify(key.Public())
		if err == nil {
			return payload, nil
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = errors.New("no candidate key")
	}
	return nil, vperr.WrapError(vperr.ErrCodeSignature, fmt.Sprintf("%s: signature verification failed", what), lastErr)
}

// decodeVerified decodes a verified payload the same way the codec does.
func decodeVerified(payload []byte) (map[string]any, error) {
	var claims map[string]any
	if err := jwt.UnmarshalJSON(payload, &claims); err != nil {
		return nil, vperr.WrapError(vperr.ErrCodeDecode, "decoding verified payload", err)
	}
	if claims == nil {
		return nil, vperr.NewError(vperr.ErrCodeDecode, "verified payload is not a JSON object")
	}
	return claims, nil
}
