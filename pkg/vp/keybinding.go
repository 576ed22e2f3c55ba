package vp

import (
	"encoding/json"
	"time"

	"github.com/capiscio/vp-verifier/pkg/sdjwt"
	"github.com/capiscio/vp-verifier/pkg/vperr"
	"github.com/go-jose/go-jose/v4"
)

// confirmationKey reads cnf.jwk from the verified issuer payload.
func confirmationKey(payload map[string]any) (jose.JSONWebKey, error) {
	cnf, _ := payload["cnf"].(map[string]any)
	raw, ok := cnf["jwk"].(map[string]any)
	if !ok {
		return jose.JSONWebKey{}, vperr.NewError(vperr.ErrCodeSchema, "issuer payload has no cnf.jwk")
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return jose.JSONWebKey{}, vperr.WrapError(vperr.ErrCodeSchema, "encoding cnf.jwk", err)
	}
	var key jose.JSONWebKey
	if err := json.Unmarshal(b, &key); err != nil {
		return jose.JSONWebKey{}, vperr.WrapError(vperr.ErrCodeSchema, "invalid cnf.jwk", err)
	}
	if !key.IsPublic() {
		return jose.JSONWebKey{}, vperr.NewError(vperr.ErrCodeSchema, "cnf.jwk must be a public key")
	}
	return key, nil
}

// verifyKeyBinding runs the KB-JWT gates in order: challenge, freshness,
// sd_hash, then signature against the confirmation key.
func (v *Verifier) verifyKeyBinding(p *sdjwt.Presentation, cnf jose.JSONWebKey, challenge Challenge) error {
	kb := p.KeyBindingJWT

	if err := checkChallenge(kb.Payload, challenge); err != nil {
		return err
	}

	iat, _ := kb.ClaimInt("iat")
	if err := checkFreshness(iat, v.now(), v.clockSkew); err != nil {
		return err
	}

	if v.requireSDHash {
		if err := checkSDHash(p); err != nil {
			return err
		}
	}

	_, err := v.verifySignature(kb, []jose.JSONWebKey{cnf}, "invalid key binding")
	return err
}

func checkChallenge(payload map[string]any, challenge Challenge) error {
	aud, ok := payload["aud"].(string)
	if !ok {
		return vperr.NewError(vperr.ErrCodeChallengeMismatch, "invalid key binding: aud is missing")
	}
	if aud != challenge.Audience {
		return vperr.Errorf(vperr.ErrCodeChallengeMismatch, "invalid key binding: aud %q does not match %q", aud, challenge.Audience)
	}

	nonce, ok := payload["nonce"].(string)
	if !ok {
		return vperr.NewError(vperr.ErrCodeChallengeMismatch, "invalid key binding: nonce is missing")
	}
	if nonce != challenge.Nonce {
		return vperr.NewError(vperr.ErrCodeChallengeMismatch, "invalid key binding: nonce does not match")
	}
	return nil
}

// checkFreshness rejects a KB-JWT issued after now plus skew. There is no lower bound.
func checkFreshness(iat int64, now time.Time, skew time.Duration) error {
	if iat > now.Add(skew).Unix() {
		return vperr.Errorf(vperr.ErrCodeFreshness, "invalid key binding: issued in the future (iat %s, now %s)",
			time.Unix(iat, 0).UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	}
	return nil
}

func checkSDHash(p *sdjwt.Presentation) error {
	got := p.KeyBindingJWT.ClaimString("sd_hash")
	if got == "" {
		return vperr.NewError(vperr.ErrCodeDigestMismatch, "invalid key binding: sd_hash is missing")
	}
	want, err := p.SDHash()
	if err != nil {
		return err
	}
	if got != want {
		return vperr.NewError(vperr.ErrCodeDigestMismatch, "invalid key binding: sd_hash does not match the presentation")
	}
	return nil
}
