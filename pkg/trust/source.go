// Package trust resolves issuer keys and metadata through an ordered set of
// trust sources, and extracts key hints from issuer JWT headers.
package trust

import (
	"context"

	"github.com/go-jose/go-jose/v4"
)

//go:generate mockgen -destination=mock/source_mock.go -package=mock github.com/capiscio/vp-verifier/pkg/trust Source

// Source is a read-only trust anchor for credential issuers.
// An empty answer (nil slice or nil map with a nil error) means the source has
// nothing for the issuer; the evaluator then asks the next source.
type Source interface {
	// Name is the configured name of the source, used in diagnostics.
	Name() string

	// PublicKeys returns the signing keys the source trusts for an issuer.
	PublicKeys(ctx context.Context, issuer string) ([]jose.JSONWebKey, error)

	// Metadata returns the issuer's metadata document.
	Metadata(ctx context.Context, issuer string) (map[string]any, error)
}

// Evaluator is the trust query surface used by the verifier.
type Evaluator interface {
	PublicKeys(ctx context.Context, issuer string) ([]jose.JSONWebKey, error)
	Metadata(ctx context.Context, issuer string) (map[string]any, error)
}
