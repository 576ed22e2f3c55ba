// Package vp verifies SD-JWT VC presentations with key binding.
//
// Verification runs as a fixed sequence of gates and stops at the first
// failure: split, schema, issuer key resolution, issuer signature, disclosure
// resolution, key binding (challenge, freshness, sd_hash, signature). A Result
// is only returned when every gate passed.
package vp

import (
	"context"
	"time"

	"github.com/capiscio/vp-verifier/internal/log"
	"github.com/capiscio/vp-verifier/pkg/sdjwt"
	"github.com/capiscio/vp-verifier/pkg/trust"
	"github.com/capiscio/vp-verifier/pkg/vperr"
	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/capiscio/vp-verifier/pkg/vp")

// Outcome for successful verifications, reported to the Recorder.
const outcomeAccepted = "accepted"

// Recorder receives one observation per Verify call.
type Recorder interface {
	ObserveVerification(outcome string, disclosures int, d time.Duration)
}

// Result is a verified presentation.
type Result struct {
	// ID identifies this verification in logs and traces.
	ID string `json:"id"`

	// Issuer is the verified iss of the credential.
	Issuer string `json:"iss"`

	// Claims are the verified payload claims merged with the disclosed claims.
	Claims map[string]any `json:"claims"`

	// Disclosures are the claim names that were selectively disclosed.
	Disclosures []string `json:"disclosures"`

	// VerifiedAt is the verifier's clock at the time of verification.
	VerifiedAt time.Time `json:"verified_at"`

	verified bool
}

// Verifier verifies presentations. It is safe for concurrent use.
type Verifier struct {
	keys          trust.KeyStore
	trust         trust.Evaluator
	certs         *trust.CertChainValidator
	federation    *trust.FederationValidator
	algorithms    []jose.SignatureAlgorithm
	clockSkew     time.Duration
	requireSDHash bool
	projector     *Projector
	recorder      Recorder
	now           func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithKeyStore sets the local issuer key store consulted for kid hints.
func WithKeyStore(ks trust.KeyStore) Option {
	return func(v *Verifier) { v.keys = ks }
}

// WithTrust sets the trust evaluator consulted when the key store has no answer.
func WithTrust(e trust.Evaluator) Option {
	return func(v *Verifier) { v.trust = e }
}

// WithCertChainValidator enables x5c key hints, anchored in the validator's roots.
func WithCertChainValidator(c *trust.CertChainValidator) Option {
	return func(v *Verifier) { v.certs = c }
}

// WithTrustAnchors enables trust_chain key hints, anchored in the validator's trust anchors.
func WithTrustAnchors(f *trust.FederationValidator) Option {
	return func(v *Verifier) { v.federation = f }
}

// WithAlgorithms restricts the accepted JWS algorithms.
func WithAlgorithms(algs ...jose.SignatureAlgorithm) Option {
	return func(v *Verifier) { v.algorithms = algs }
}

// WithClockSkew tolerates KB-JWTs issued up to skew in the future.
func WithClockSkew(skew time.Duration) Option {
	return func(v *Verifier) { v.clockSkew = skew }
}

// WithRequireSDHash makes the KB-JWT sd_hash mandatory and checked.
func WithRequireSDHash(require bool) Option {
	return func(v *Verifier) { v.requireSDHash = require }
}

// WithAcceptedClaims sets the accept list used by AcceptedClaims.
func WithAcceptedClaims(names []string) Option {
	return func(v *Verifier) { v.projector = NewProjector(names) }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(v *Verifier) { v.recorder = r }
}

// WithNow overrides the clock (for testing).
func WithNow(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier creates a Verifier. Without a key store or trust evaluator
// every presentation fails with a key-not-found error.
func NewVerifier(opts ...Option) *Verifier {
	v := &Verifier{
		algorithms: DefaultAlgorithms(),
		projector:  NewProjector(DefaultAcceptedClaims()),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks a presentation of the form <issuer-jwt>~<d1>~...~<dn>~<kb-jwt>
// against the verifier's challenge.
func (v *Verifier) Verify(ctx context.Context, presentation string, challenge Challenge) (*Result, error) {
	id := uuid.NewString()
	ctx, span := tracer.Start(ctx, "vp.Verify", trace.WithAttributes(attribute.String("verification.id", id)))
	defer span.End()

	start := time.Now()
	logger := log.Logger().WithField("id", id)

	result, err := v.verify(ctx, id, presentation, challenge)
	elapsed := time.Since(start)

	if err != nil {
		code := vperr.GetErrorCode(err)
		if code == "" {
			code = "unclassified"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, code)
		v.observe(code, 0, elapsed)
		logger.WithError(err).WithField("code", code).Warn("Presentation rejected")
		return nil, err
	}

	span.SetAttributes(attribute.String("issuer", result.Issuer), attribute.Int("disclosures", len(result.Disclosures)))
	v.observe(outcomeAccepted, len(result.Disclosures), elapsed)
	logger.
		WithField("issuer", result.Issuer).
		WithField("disclosures", len(result.Disclosures)).
		Info("Presentation accepted")
	return result, nil
}

func (v *Verifier) verify(ctx context.Context, id, presentation string, challenge Challenge) (*Result, error) {
	logger := log.Logger().WithField("id", id)

	p, err := sdjwt.Split(presentation)
	if err != nil {
		return nil, err
	}
	logger.Debugf("Split presentation: %d disclosures", len(p.Disclosures))

	if err := p.ValidateSchema(); err != nil {
		return nil, err
	}

	keys, err := v.issuerKeys(ctx, p)
	if err != nil {
		return nil, err
	}
	logger.Debugf("Resolved %d candidate issuer keys", len(keys))

	verified, err := v.verifySignature(p.IssuerJWT, keys, "issuer JWT")
	if err != nil {
		return nil, err
	}
	payload, err := decodeVerified(verified)
	if err != nil {
		return nil, err
	}
	p.IssuerJWT.Payload = payload
	logger.Debug("Issuer signature verified")

	claims, err := p.ResolveClaims()
	if err != nil {
		return nil, err
	}

	cnf, err := confirmationKey(payload)
	if err != nil {
		return nil, err
	}

	if err := v.verifyKeyBinding(p, cnf, challenge); err != nil {
		return nil, err
	}
	logger.Debug("Key binding verified")

	names := make([]string, 0, len(p.Disclosures))
	for _, d := range p.Disclosures {
		if !d.IsArrayEntry {
			names = append(names, d.Name)
		}
	}

	return &Result{
		ID:          id,
		Issuer:      p.Issuer(),
		Claims:      claims,
		Disclosures: names,
		VerifiedAt:  v.now(),
		verified:    true,
	}, nil
}

// VerifyAll verifies every presentation of one response concurrently against the
// same challenge. Results keep input order; the first failure fails the whole call.
func (v *Verifier) VerifyAll(ctx context.Context, presentations []string, challenge Challenge) ([]*Result, error) {
	results := make([]*Result, len(presentations))
	g, ctx := errgroup.WithContext(ctx)
	for i, p := range presentations {
		g.Go(func() error {
			r, err := v.Verify(ctx, p, challenge)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (v *Verifier) observe(outcome string, disclosures int, d time.Duration) {
	if v.recorder != nil {
		v.recorder.ObserveVerification(outcome, disclosures, d)
	}
}
