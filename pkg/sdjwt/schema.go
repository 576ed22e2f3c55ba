package sdjwt

import (
	"fmt"

	"github.com/capiscio/vp-verifier/pkg/jwt"
	"github.com/capiscio/vp-verifier/pkg/vperr"
)

// Accepted typ header values.
const (
	TypeVCSDJWT    = "vc+sd-jwt"
	TypeDCSDJWT    = "dc+sd-jwt"
	TypeKeyBinding = "kb+jwt"
)

// ValidateSchema checks the structure of both tokens of the presentation.
// A violation means a malformed credential, not a forged one.
func (p *Presentation) ValidateSchema() error {
	if err := ValidateIssuerHeader(p.IssuerJWT.Header); err != nil {
		return err
	}
	if err := ValidateIssuerPayload(p.IssuerJWT.Payload); err != nil {
		return err
	}
	if err := ValidateKeyBindingHeader(p.KeyBindingJWT.Header); err != nil {
		return err
	}
	return ValidateKeyBindingPayload(p.KeyBindingJWT.Payload)
}

// ValidateIssuerHeader checks the JOSE header of an issuer-signed SD-JWT VC.
func ValidateIssuerHeader(h map[string]any) error {
	if err := requireAlg(h, "issuer JWT"); err != nil {
		return err
	}
	if typ, ok := h["typ"]; ok {
		s, isStr := typ.(string)
		if !isStr || (s != TypeVCSDJWT && s != TypeDCSDJWT) {
			return schemaErr("issuer JWT header typ must be %q or %q, got %v", TypeVCSDJWT, TypeDCSDJWT, typ)
		}
	}
	if err := optionalString(h, "kid", "issuer JWT header"); err != nil {
		return err
	}
	if err := optionalStringArray(h, "trust_chain", "issuer JWT header"); err != nil {
		return err
	}
	return optionalStringArray(h, "x5c", "issuer JWT header")
}

// ValidateIssuerPayload checks the claims of an issuer-signed SD-JWT VC.
func ValidateIssuerPayload(p map[string]any) error {
	const where = "issuer JWT payload"

	if err := requireString(p, "iss", where); err != nil {
		return err
	}
	if err := requireString(p, "vct", where); err != nil {
		return err
	}
	for _, name := range []string{"iat", "exp", "nbf"} {
		if err := optionalInt(p, name, where); err != nil {
			return err
		}
	}
	if err := optionalString(p, "_sd_alg", where); err != nil {
		return err
	}
	if err := optionalStringArray(p, "_sd", where); err != nil {
		return err
	}

	cnf, ok := p["cnf"].(map[string]any)
	if !ok {
		return schemaErr("missing or invalid claim [cnf] in %s", where)
	}
	if _, ok := cnf["jwk"].(map[string]any); !ok {
		return schemaErr("missing or invalid claim [cnf.jwk] in %s", where)
	}
	return nil
}

// ValidateKeyBindingHeader checks the JOSE header of a KB-JWT.
func ValidateKeyBindingHeader(h map[string]any) error {
	if err := requireAlg(h, "key binding JWT"); err != nil {
		return err
	}
	if typ, _ := h["typ"].(string); typ != TypeKeyBinding {
		return schemaErr("key binding JWT header typ must be %q, got %v", TypeKeyBinding, h["typ"])
	}
	return nil
}

// ValidateKeyBindingPayload checks the claims of a KB-JWT.
// Absence of aud or nonce is left to the challenge check so the failure names the field.
func ValidateKeyBindingPayload(p map[string]any) error {
	const where = "key binding JWT payload"

	if _, ok := p["iat"]; !ok {
		return schemaErr("missing parameter [iat] in %s", where)
	}
	if err := optionalInt(p, "iat", where); err != nil {
		return err
	}
	for _, name := range []string{"aud", "nonce", "sd_hash"} {
		if err := optionalString(p, name, where); err != nil {
			return err
		}
	}
	return nil
}

func requireAlg(h map[string]any, where string) error {
	alg, ok := h["alg"].(string)
	if !ok || alg == "" {
		return schemaErr("missing parameter [alg] in %s header", where)
	}
	if alg == "none" {
		return schemaErr("algorithm 'none' is not allowed in %s header", where)
	}
	return nil
}

func requireString(m map[string]any, name, where string) error {
	s, ok := m[name].(string)
	if !ok || s == "" {
		return schemaErr("missing or invalid claim [%s] in %s", name, where)
	}
	return nil
}

func optionalString(m map[string]any, name, where string) error {
	v, ok := m[name]
	if !ok {
		return nil
	}
	if _, isStr := v.(string); !isStr {
		return schemaErr("claim [%s] in %s must be a string", name, where)
	}
	return nil
}

func optionalInt(m map[string]any, name, where string) error {
	v, ok := m[name]
	if !ok {
		return nil
	}
	if _, isInt := jwt.Int64(v); !isInt {
		return schemaErr("claim [%s] in %s must be an integer", name, where)
	}
	return nil
}

func optionalStringArray(m map[string]any, name, where string) error {
	v, ok := m[name]
	if !ok {
		return nil
	}
	arr, isArr := v.([]any)
	if !isArr {
		return schemaErr("claim [%s] in %s must be an array", name, where)
	}
	for _, item := range arr {
		if _, isStr := item.(string); !isStr {
			return schemaErr("claim [%s] in %s must contain only strings", name, where)
		}
	}
	return nil
}

func schemaErr(format string, args ...any) error {
	return vperr.NewError(vperr.ErrCodeSchema, fmt.Sprintf(format, args...))
}
