// Package sdjwt splits SD-JWT presentations with key binding into their parts
// and resolves the disclosed claims against the issuer's digests.
package sdjwt

import (
	"fmt"
	"strings"

	"github.com/capiscio/vp-verifier/pkg/jwt"
	"github.com/capiscio/vp-verifier/pkg/vperr"
)

// Delimiter separates the issuer JWT, the disclosures and the KB-JWT.
const Delimiter = "~"

// Presentation is an unverified SD-JWT+KB presentation.
type Presentation struct {
	// Raw is the presentation exactly as received.
	Raw string

	// IssuerJWT is the issuer-signed token.
	IssuerJWT *jwt.Token

	// Disclosures are the revealed claims in presentation order.
	Disclosures []Disclosure

	// KeyBindingJWT is the holder's proof of possession.
	KeyBindingJWT *jwt.Token
}

// Split parses a presentation of the form <issuer-jwt>~<d1>~...~<dn>~<kb-jwt>.
// A presentation without a key binding JWT is rejected.
func Split(presentation string) (*Presentation, error) {
	presentation = strings.TrimSpace(presentation)
	parts := strings.Split(presentation, Delimiter)
	if len(parts) < 2 {
		return nil, vperr.NewError(vperr.ErrCodeFormat, "not an SD-JWT with key binding: no '~' delimiter")
	}

	last := parts[len(parts)-1]
	if last == "" {
		return nil, vperr.NewError(vperr.ErrCodeFormat, "not an SD-JWT with key binding: key binding JWT is missing")
	}

	issuerJWT, err := jwt.Parse(parts[0])
	if err != nil {
		return nil, fmt.Errorf("parsing issuer JWT: %w", err)
	}

	disclosures := make([]Disclosure, 0, len(parts)-2)
	for i, raw := range parts[1 : len(parts)-1] {
		d, err := ParseDisclosure(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing disclosure %d: %w", i+1, err)
		}
		disclosures = append(disclosures, *d)
	}

	kbJWT, err := jwt.Parse(last)
	if err != nil {
		return nil, fmt.Errorf("parsing key binding JWT: %w", err)
	}

	return &Presentation{
		Raw:           presentation,
		IssuerJWT:     issuerJWT,
		Disclosures:   disclosures,
		KeyBindingJWT: kbJWT,
	}, nil
}

// IsKeyBindingFormat reports whether s looks like an SD-JWT with a trailing KB-JWT.
func IsKeyBindingFormat(s string) bool {
	parts := strings.Split(strings.TrimSpace(s), Delimiter)
	if len(parts) < 2 {
		return false
	}
	return jwt.IsCompact(parts[0]) && jwt.IsCompact(parts[len(parts)-1])
}

// Issuer returns the unverified iss claim of the issuer JWT.
func (p *Presentation) Issuer() string {
	return p.IssuerJWT.ClaimString("iss")
}

// SDHash computes the digest a KB-JWT commits to: the hash of
// <issuer-jwt>~<d1>~...~<dn>~ using the presentation's _sd_alg.
func (p *Presentation) SDHash() (string, error) {
	h, err := HashFor(p.Algorithm())
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(p.IssuerJWT.Raw)
	b.WriteString(Delimiter)
	for _, d := range p.Disclosures {
		b.WriteString(d.Raw)
		b.WriteString(Delimiter)
	}

	return digest(h, b.String()), nil
}

// Algorithm returns the _sd_alg of the issuer payload, defaulting to sha-256.
func (p *Presentation) Algorithm() string {
	if alg := p.IssuerJWT.ClaimString("_sd_alg"); alg != "" {
		return strings.ToLower(alg)
	}
	return DefaultAlgorithm
}
