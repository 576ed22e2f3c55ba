// Package testutil issues real SD-JWT VCs and key binding presentations for tests.
package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/capiscio/vp-verifier/pkg/jwt"
	"github.com/capiscio/vp-verifier/pkg/sdjwt"
	"github.com/go-jose/go-jose/v4"
)

// Default fixture values.
const (
	IssuerID = "https://issuer.example.org"
	VCT      = "PersonIdentificationData"
	Audience = "https://rp.example.org/callback"
	Nonce    = "n-123"
)

// Issuer signs SD-JWT VCs with a P-256 key.
type Issuer struct {
	ID    string
	KeyID string
	Key   *ecdsa.PrivateKey
}

// Holder owns the confirmation key bound into credentials.
type Holder struct {
	Key *ecdsa.PrivateKey
}

// Credential is an issued SD-JWT VC.
type Credential struct {
	// IssuerJWT is the signed issuer token.
	IssuerJWT string

	// Disclosures maps claim name to encoded disclosure.
	Disclosures map[string]string

	// Order lists the disclosed claim names, sorted.
	Order []string
}

// KeyBinding describes the holder's KB-JWT.
type KeyBinding struct {
	Audience string
	Nonce    string
	IssuedAt time.Time

	// SDHash overrides the computed sd_hash when set.
	SDHash string

	// OmitSDHash leaves sd_hash out of the KB-JWT.
	OmitSDHash bool

	// Key signs the KB-JWT instead of the holder key when set.
	Key *ecdsa.PrivateKey
}

type issueOptions struct {
	header map[string]any
	claims map[string]any
	sdAlg  string
	noKID  bool
}

// IssueOption customizes Issue.
type IssueOption func(*issueOptions)

// WithHeader adds a JOSE header parameter to the issuer JWT.
func WithHeader(name string, value any) IssueOption {
	return func(o *issueOptions) { o.header[name] = value }
}

// WithClaim adds an always-visible claim to the issuer payload.
func WithClaim(name string, value any) IssueOption {
	return func(o *issueOptions) { o.claims[name] = value }
}

// WithSDAlg sets _sd_alg and digests disclosures with it.
func WithSDAlg(alg string) IssueOption {
	return func(o *issueOptions) { o.sdAlg = alg }
}

// WithoutKeyID drops the kid header so another key hint can be used.
func WithoutKeyID() IssueOption {
	return func(o *issueOptions) { o.noKID = true }
}

// NewIssuer creates an issuer with a fresh P-256 key.
func NewIssuer(id, kid string) (*Issuer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate issuer key: %w", err)
	}
	return &Issuer{ID: id, KeyID: kid, Key: key}, nil
}

// PublicJWK returns the issuer's public key as a JWK.
func (i *Issuer) PublicJWK() jose.JSONWebKey {
	return jose.JSONWebKey{Key: &i.Key.PublicKey, KeyID: i.KeyID, Algorithm: string(jose.ES256), Use: "sig"}
}

// JWKS returns the issuer's public key set.
func (i *Issuer) JWKS() *jose.JSONWebKeySet {
	return &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{i.PublicJWK()}}
}

// Issue signs a credential where every entry of claims is selectively disclosable.
func (i *Issuer) Issue(claims map[string]any, holder *Holder, opts ...IssueOption) (*Credential, error) {
	o := &issueOptions{header: map[string]any{}, claims: map[string]any{}, sdAlg: sdjwt.DefaultAlgorithm}
	for _, opt := range opts {
		opt(o)
	}

	names := make([]string, 0, len(claims))
	for name := range claims {
		names = append(names, name)
	}
	sort.Strings(names)

	cred := &Credential{Disclosures: make(map[string]string, len(names)), Order: names}
	digests := make([]string, 0, len(names))
	for _, name := range names {
		salt, err := randomSalt()
		if err != nil {
			return nil, err
		}
		d, err := sdjwt.Encode(salt, name, claims[name])
		if err != nil {
			return nil, err
		}
		dg, err := hashString(o.sdAlg, d)
		if err != nil {
			return nil, err
		}
		cred.Disclosures[name] = d
		digests = append(digests, dg)
	}

	now := time.Now()
	payload := map[string]any{
		"iss":     i.ID,
		"iat":     now.Unix(),
		"exp":     now.Add(24 * time.Hour).Unix(),
		"vct":     VCT,
		"_sd_alg": o.sdAlg,
		"_sd":     digests,
		"cnf":     map[string]any{"jwk": holder.PublicJWK()},
	}
	for k, v := range o.claims {
		payload[k] = v
	}

	header := map[string]any{"typ": sdjwt.TypeDCSDJWT}
	if !o.noKID {
		header["kid"] = i.KeyID
	}
	for k, v := range o.header {
		header[k] = v
	}

	token, err := Sign(i.Key, header, payload)
	if err != nil {
		return nil, err
	}
	cred.IssuerJWT = token
	return cred, nil
}

// NewHolder creates a holder with a fresh P-256 key.
func NewHolder() (*Holder, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate holder key: %w", err)
	}
	return &Holder{Key: key}, nil
}

// PublicJWK returns the holder's confirmation key.
func (h *Holder) PublicJWK() jose.JSONWebKey {
	return jose.JSONWebKey{Key: &h.Key.PublicKey, Algorithm: string(jose.ES256)}
}

// Present builds <issuer-jwt>~<d...>~<kb-jwt> disclosing the named claims, or all claims when none are named.
func (h *Holder) Present(cred *Credential, kb KeyBinding, disclose ...string) (string, error) {
	if len(disclose) == 0 {
		disclose = cred.Order
	}

	var b strings.Builder
	b.WriteString(cred.IssuerJWT)
	b.WriteString(sdjwt.Delimiter)
	for _, name := range disclose {
		d, ok := cred.Disclosures[name]
		if !ok {
			return "", fmt.Errorf("credential has no disclosure for %q", name)
		}
		b.WriteString(d)
		b.WriteString(sdjwt.Delimiter)
	}
	sdPart := b.String()

	iat := kb.IssuedAt
	if iat.IsZero() {
		iat = time.Now()
	}
	payload := map[string]any{"iat": iat.Unix()}
	if kb.Audience != "" {
		payload["aud"] = kb.Audience
	}
	if kb.Nonce != "" {
		payload["nonce"] = kb.Nonce
	}
	if !kb.OmitSDHash {
		sdHash := kb.SDHash
		if sdHash == "" {
			alg, err := credentialSDAlg(cred.IssuerJWT)
			if err != nil {
				return "", err
			}
			if sdHash, err = hashString(alg, sdPart); err != nil {
				return "", err
			}
		}
		payload["sd_hash"] = sdHash
	}

	key := kb.Key
	if key == nil {
		key = h.Key
	}
	kbJWT, err := Sign(key, map[string]any{"typ": sdjwt.TypeKeyBinding}, payload)
	if err != nil {
		return "", err
	}
	return sdPart + kbJWT, nil
}

// DefaultKeyBinding returns a KB matching the default fixture challenge, issued now.
func DefaultKeyBinding() KeyBinding {
	return KeyBinding{Audience: Audience, Nonce: Nonce, IssuedAt: time.Now()}
}

// Sign creates an ES256 compact JWS with the given extra header parameters.
func Sign(key *ecdsa.PrivateKey, header map[string]any, payload any) (string, error) {
	opts := &jose.SignerOptions{}
	for k, v := range header {
		opts = opts.WithHeader(jose.HeaderKey(k), v)
	}

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: key}, opts)
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	jws, err := signer.Sign(body)
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}

	return jws.CompactSerialize()
}

func credentialSDAlg(issuerJWT string) (string, error) {
	tok, err := jwt.Parse(issuerJWT)
	if err != nil {
		return "", err
	}
	if alg := tok.ClaimString("_sd_alg"); alg != "" {
		return alg, nil
	}
	return sdjwt.DefaultAlgorithm, nil
}

func hashString(alg, s string) (string, error) {
	h, err := sdjwt.HashFor(alg)
	if err != nil {
		return "", err
	}
	hasher := h.New()
	hasher.Write([]byte(s))
	return jwt.EncodeSegment(hasher.Sum(nil)), nil
}

func randomSalt() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	return jwt.EncodeSegment(b), nil
}
