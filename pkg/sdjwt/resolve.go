package sdjwt

import (
	"github.com/capiscio/vp-verifier/pkg/vperr"
)

const (
	sdKey         = "_sd"
	sdAlgKey      = "_sd_alg"
	arrayEntryKey = "..."
)

// ResolveClaims merges the disclosures into the issuer payload by following
// _sd digests and {"...": digest} array entries.
//
// Every disclosure must be referenced exactly once by a digest reachable from
// the signed payload; a disclosure the issuer never committed to is rejected.
func (p *Presentation) ResolveClaims() (map[string]any, error) {
	alg := p.Algorithm()

	byDigest := make(map[string]*Disclosure, len(p.Disclosures))
	for i := range p.Disclosures {
		d := &p.Disclosures[i]
		dg, err := d.Digest(alg)
		if err != nil {
			return nil, err
		}
		if _, dup := byDigest[dg]; dup {
			return nil, vperr.Errorf(vperr.ErrCodeDisclosure, "disclosure %d is presented twice", i+1)
		}
		byDigest[dg] = d
	}

	r := &resolver{byDigest: byDigest, used: make(map[string]bool, len(byDigest))}
	claims, err := r.object(p.IssuerJWT.Payload)
	if err != nil {
		return nil, err
	}
	delete(claims, sdAlgKey)

	for dg, d := range byDigest {
		if !r.used[dg] {
			name := d.Name
			if d.IsArrayEntry {
				name = "array element"
			}
			return nil, vperr.Errorf(vperr.ErrCodeDisclosure, "disclosure for %q is not referenced by the issuer payload", name)
		}
	}

	return claims, nil
}

type resolver struct {
	byDigest map[string]*Disclosure
	used     map[string]bool
}

func (r *resolver) claim(dg string) (*Disclosure, error) {
	d, ok := r.byDigest[dg]
	if !ok {
		return nil, nil
	}
	if r.used[dg] {
		return nil, vperr.NewError(vperr.ErrCodeDisclosure, "digest referenced more than once")
	}
	r.used[dg] = true
	return d, nil
}

func (r *resolver) object(obj map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if k == sdKey {
			continue
		}
		resolved, err := r.value(v)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}

	digests, _ := obj[sdKey].([]any)
	for _, item := range digests {
		dg, ok := item.(string)
		if !ok {
			return nil, vperr.NewError(vperr.ErrCodeSchema, "_sd entry is not a string")
		}
		d, err := r.claim(dg)
		if err != nil {
			return nil, err
		}
		if d == nil {
			// decoy or undisclosed
			continue
		}
		if d.IsArrayEntry {
			return nil, vperr.NewError(vperr.ErrCodeDisclosure, "array element disclosure referenced from an object")
		}
		if d.Name == sdKey || d.Name == arrayEntryKey {
			return nil, vperr.Errorf(vperr.ErrCodeDisclosure, "disclosure uses reserved claim name %q", d.Name)
		}
		if _, exists := out[d.Name]; exists {
			return nil, vperr.Errorf(vperr.ErrCodeDisclosure, "disclosed claim %q overwrites an existing claim", d.Name)
		}
		resolved, err := r.value(d.Value)
		if err != nil {
			return nil, err
		}
		out[d.Name] = resolved
	}

	return out, nil
}

func (r *resolver) array(arr []any) ([]any, error) {
	out := make([]any, 0, len(arr))
	for _, item := range arr {
		if obj, ok := item.(map[string]any); ok && len(obj) == 1 {
			if dg, ok := obj[arrayEntryKey].(string); ok {
				d, err := r.claim(dg)
				if err != nil {
					return nil, err
				}
				if d == nil {
					continue
				}
				if !d.IsArrayEntry {
					return nil, vperr.NewError(vperr.ErrCodeDisclosure, "object property disclosure referenced from an array")
				}
				resolved, err := r.value(d.Value)
				if err != nil {
					return nil, err
				}
				out = append(out, resolved)
				continue
			}
		}
		resolved, err := r.value(item)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return out, nil
}

func (r *resolver) value(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		return r.object(val)
	case []any:
		return r.array(val)
	default:
		return v, nil
	}
}
