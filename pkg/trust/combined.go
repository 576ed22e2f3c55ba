package trust

import (
	"context"
	"strings"

	"github.com/capiscio/vp-verifier/internal/log"
	"github.com/capiscio/vp-verifier/pkg/vperr"
	"github.com/go-jose/go-jose/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/capiscio/vp-verifier/pkg/trust")

// CombinedEvaluator queries its sources in order and returns the first
// non-empty answer. It holds no cache of its own.
type CombinedEvaluator struct {
	sources []Source
}

// NewCombinedEvaluator creates an evaluator over sources in fallback order.
func NewCombinedEvaluator(sources ...Source) *CombinedEvaluator {
	return &CombinedEvaluator{sources: sources}
}

// Sources returns the names of the configured sources in query order.
func (e *CombinedEvaluator) Sources() []string {
	names := make([]string, len(e.sources))
	for i, s := range e.sources {
		names[i] = s.Name()
	}
	return names
}

// PublicKeys returns the keys of the first source that knows the issuer.
func (e *CombinedEvaluator) PublicKeys(ctx context.Context, issuer string) ([]jose.JSONWebKey, error) {
	return query(ctx, e, "PublicKeys", issuer, func(ctx context.Context, s Source) (int, []jose.JSONWebKey, error) {
		keys, err := s.PublicKeys(ctx, issuer)
		return len(keys), keys, err
	})
}

// Metadata returns the metadata of the first source that knows the issuer.
func (e *CombinedEvaluator) Metadata(ctx context.Context, issuer string) (map[string]any, error) {
	return query(ctx, e, "Metadata", issuer, func(ctx context.Context, s Source) (int, map[string]any, error) {
		md, err := s.Metadata(ctx, issuer)
		return len(md), md, err
	})
}

// IsRevoked is reserved for status list support.
func (e *CombinedEvaluator) IsRevoked(_ context.Context, _ string) (bool, error) {
	return false, vperr.NewError(vperr.ErrCodeNotSupported, "revocation checking is not supported")
}

// Policies is reserved for trust framework policies.
func (e *CombinedEvaluator) Policies(_ context.Context, _ string) (map[string]any, error) {
	return nil, vperr.NewError(vperr.ErrCodeNotSupported, "trust policies are not supported")
}

func query[T any](ctx context.Context, e *CombinedEvaluator, op, issuer string, ask func(context.Context, Source) (int, T, error)) (T, error) {
	ctx, span := tracer.Start(ctx, "trust."+op)
	defer span.End()
	span.SetAttributes(attribute.String("issuer", issuer))

	var zero T
	tried := make([]string, 0, len(e.sources))
	for _, s := range e.sources {
		tried = append(tried, s.Name())

		n, answer, err := ask(ctx, s)
		if err != nil {
			log.Logger().
				WithError(err).
				WithField("source", s.Name()).
				WithField("issuer", issuer).
				Warnf("Trust source failed on %s, trying next source", op)
			continue
		}
		if n > 0 {
			span.SetAttributes(attribute.String("source", s.Name()))
			return answer, nil
		}
	}

	err := vperr.Errorf(vperr.ErrCodeTrustExhausted, "no trust source answered %s for issuer %q (tried: %s)", op, issuer, strings.Join(tried, ", "))
	span.RecordError(err)
	span.SetStatus(codes.Error, "trust exhausted")
	return zero, err
}
