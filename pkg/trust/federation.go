package trust

import (
	"errors"
	"fmt"
	"time"

	"github.com/capiscio/vp-verifier/pkg/jwt"
	"github.com/capiscio/vp-verifier/pkg/vperr"
	"github.com/go-jose/go-jose/v4"
)

// FederationValidator checks trust_chain key hints against configured
// federation trust anchors.
//
// A chain is leaf first. Statement j is signed by a key from the jwks of
// statement j+1, whose subject is the issuer of statement j. The last
// statement must be signed by a configured anchor key.
type FederationValidator struct {
	anchors map[string][]jose.JSONWebKey
}

// NewFederationValidator creates a validator over anchor entity IDs and their keys.
func NewFederationValidator(anchors map[string]*jose.JSONWebKeySet) (*FederationValidator, error) {
	v := &FederationValidator{anchors: make(map[string][]jose.JSONWebKey, len(anchors))}
	for id, set := range anchors {
		if id == "" || set == nil || len(set.Keys) == 0 {
			return nil, vperr.Errorf(vperr.ErrCodeConfig, "trust anchor %q has no keys", id)
		}
		v.anchors[id] = set.Keys
	}
	if len(v.anchors) == 0 {
		return nil, vperr.NewError(vperr.ErrCodeConfig, "no federation trust anchors configured")
	}
	return v, nil
}

// Anchors returns the number of configured trust anchors.
func (v *FederationValidator) Anchors() int {
	return len(v.anchors)
}

// Validate verifies every statement of the chain up to a trust anchor and
// returns the leaf keys. issuer must be the subject of the leaf.
func (v *FederationValidator) Validate(hint ByTrustChain, issuer string, at time.Time, algs []jose.SignatureAlgorithm) ([]jose.JSONWebKey, error) {
	if hint.Subject != issuer {
		return nil, vperr.Errorf(vperr.ErrCodeKeyNotFound, "trust_chain subject %q is not the credential issuer", hint.Subject)
	}
	if len(hint.Statements) == 0 {
		return nil, vperr.NewError(vperr.ErrCodeKeyNotFound, "empty trust_chain")
	}

	tokens := make([]*jwt.Token, len(hint.Statements))
	for i, s := range hint.Statements {
		tok, err := jwt.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parsing trust_chain statement %d: %w", i, err)
		}
		tokens[i] = tok
	}

	last := len(tokens) - 1
	for j, tok := range tokens {
		if exp, ok := tok.ClaimInt("exp"); ok && at.Unix() > exp {
			return nil, vperr.Errorf(vperr.ErrCodeKeyNotFound, "trust_chain statement %d expired", j)
		}
		if j > 0 && tok.ClaimString("sub") != tokens[j-1].ClaimString("iss") {
			return nil, vperr.Errorf(vperr.ErrCodeKeyNotFound, "trust_chain statement %d is not about the issuer of statement %d", j, j-1)
		}

		var keys []jose.JSONWebKey
		if j < last {
			var err error
			if keys, err = statementKeys(tokens[j+1]); err != nil {
				return nil, err
			}
		} else {
			anchor := tok.ClaimString("iss")
			if keys = v.anchors[anchor]; keys == nil {
				return nil, vperr.Errorf(vperr.ErrCodeKeyNotFound, "trust_chain does not end at a configured trust anchor (got %q)", anchor)
			}
		}

		if err := verifyStatement(tok, keys, algs); err != nil {
			return nil, vperr.WrapError(vperr.ErrCodeKeyNotFound, fmt.Sprintf("trust_chain statement %d", j), err)
		}
	}

	return hint.Keys, nil
}

func verifyStatement(tok *jwt.Token, keys []jose.JSONWebKey, algs []jose.SignatureAlgorithm) error {
	jws, err := jose.ParseSigned(tok.Compact(), algs)
	if err != nil {
		return fmt.Errorf("invalid JWS: %w", err)
	}

	kid := tok.HeaderString("kid")
	for _, key := range keys {
		if kid != "" && key.KeyID != "" && key.KeyID != kid {
			continue
		}
		if _, err := jws.Verify(key.Public()); err == nil {
			return nil
		}
	}
	return errors.New("signature not made by any key of the superior statement")
}
