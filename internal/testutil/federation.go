package testutil

import (
	"time"
)

// EntityConfiguration returns a self-issued federation entity statement carrying the issuer's JWKS.
func (i *Issuer) EntityConfiguration() (string, error) {
	now := time.Now()
	return Sign(i.Key, map[string]any{"typ": "entity-statement+jwt", "kid": i.KeyID}, map[string]any{
		"iss":  i.ID,
		"sub":  i.ID,
		"iat":  now.Unix(),
		"exp":  now.Add(time.Hour).Unix(),
		"jwks": i.JWKS(),
	})
}

// SubordinateStatement returns a statement by i about subject.
func (i *Issuer) SubordinateStatement(subject *Issuer) (string, error) {
	now := time.Now()
	return Sign(i.Key, map[string]any{"typ": "entity-statement+jwt", "kid": i.KeyID}, map[string]any{
		"iss":  i.ID,
		"sub":  subject.ID,
		"iat":  now.Unix(),
		"exp":  now.Add(time.Hour).Unix(),
		"jwks": subject.JWKS(),
	})
}
