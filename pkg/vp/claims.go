package vp

import (
	"github.com/capiscio/vp-verifier/pkg/vperr"
)

// DefaultAcceptedClaims returns the claims released to relying parties by default.
// Each call returns a fresh slice.
func DefaultAcceptedClaims() []string {
	return []string{"given_name", "family_name", "birth_date", "unique_id", "tax_id_code"}
}

// Projector keeps only accepted claims.
type Projector struct {
	accept map[string]struct{}
}

// NewProjector creates a projector over acceptList. An empty list accepts everything.
func NewProjector(acceptList []string) *Projector {
	p := &Projector{}
	if len(acceptList) == 0 {
		return p
	}
	p.accept = make(map[string]struct{}, len(acceptList))
	for _, name := range acceptList {
		p.accept[name] = struct{}{}
	}
	return p
}

// Project returns a new map holding the accepted claims. Unknown names are dropped silently.
func (p *Projector) Project(claims map[string]any) map[string]any {
	out := make(map[string]any, len(claims))
	for k, v := range claims {
		if p.accept == nil {
			out[k] = v
			continue
		}
		if _, ok := p.accept[k]; ok {
			out[k] = v
		}
	}
	return out
}

// ExtractClaims projects the claims of a successful verification result onto acceptList.
func (v *Verifier) ExtractClaims(result *Result, acceptList []string) (map[string]any, error) {
	return extractClaims(result, NewProjector(acceptList))
}

// AcceptedClaims projects the claims of a successful verification result onto
// the accept list the verifier was configured with.
func (v *Verifier) AcceptedClaims(result *Result) (map[string]any, error) {
	return extractClaims(result, v.projector)
}

func extractClaims(result *Result, p *Projector) (map[string]any, error) {
	if result == nil || !result.verified {
		return nil, vperr.NewError(vperr.ErrCodeSignature, "claims can only be extracted from a verified presentation")
	}
	return p.Project(result.Claims), nil
}

// MergeClaims merges the claims of several verified results into one map.
// Later results override earlier ones on conflicting names. Unverified results are skipped.
func MergeClaims(results ...*Result) map[string]any {
	merged := make(map[string]any)
	for _, r := range results {
		if r == nil || !r.verified {
			continue
		}
		for k, v := range r.Claims {
			merged[k] = v
		}
	}
	return merged
}
