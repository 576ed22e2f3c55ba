package trust

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-jose/go-jose/v4"
)

// StaticIssuer is the configured trust for one issuer.
type StaticIssuer struct {
	// JWKS holds the issuer's signing keys inline.
	JWKS *jose.JSONWebKeySet `json:"jwks,omitempty"`

	// JWKSFile is a path to a JWKS file, read once at construction.
	JWKSFile string `json:"jwks_file,omitempty"`

	// Metadata is returned as-is by Metadata.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// StaticSource answers from configuration held in memory.
type StaticSource struct {
	name    string
	issuers map[string]staticEntry
}

type staticEntry struct {
	keys     []jose.JSONWebKey
	metadata map[string]any
}

// NewStaticSource creates a source from per-issuer configuration.
// Key files are read immediately so a bad path fails at startup.
func NewStaticSource(name string, issuers map[string]StaticIssuer) (*StaticSource, error) {
	s := &StaticSource{name: name, issuers: make(map[string]staticEntry, len(issuers))}
	for issuer, cfg := range issuers {
		var keys []jose.JSONWebKey
		if cfg.JWKS != nil {
			keys = append(keys, cfg.JWKS.Keys...)
		}
		if cfg.JWKSFile != "" {
			set, err := readJWKSFile(cfg.JWKSFile)
			if err != nil {
				return nil, fmt.Errorf("issuer %s: %w", issuer, err)
			}
			keys = append(keys, set.Keys...)
		}
		for _, k := range keys {
			if !k.IsPublic() {
				return nil, fmt.Errorf("issuer %s: %w: key %q is not a public key", issuer, ErrInvalidKey, k.KeyID)
			}
		}

		md := cfg.Metadata
		if md == nil && len(keys) > 0 {
			md = issuerMetadata(issuer, keys)
		}
		s.issuers[issuer] = staticEntry{keys: keys, metadata: md}
	}
	return s, nil
}

// Name returns the configured source name.
func (s *StaticSource) Name() string {
	return s.name
}

// PublicKeys returns the configured keys for issuer.
func (s *StaticSource) PublicKeys(_ context.Context, issuer string) ([]jose.JSONWebKey, error) {
	return s.issuers[issuer].keys, nil
}

// Metadata returns a copy of the configured metadata for issuer.
func (s *StaticSource) Metadata(_ context.Context, issuer string) (map[string]any, error) {
	md := s.issuers[issuer].metadata
	if md == nil {
		return nil, nil
	}
	return copyValue(md).(map[string]any), nil
}

func copyValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = copyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

func readJWKSFile(path string) (*jose.JSONWebKeySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read JWKS file: %w", err)
	}
	return ParseKeys(data)
}

// ParseKeys reads either a JWKS document or a single JWK.
func ParseKeys(data []byte) (*jose.JSONWebKeySet, error) {
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(data, &set); err == nil && len(set.Keys) > 0 {
		return &set, nil
	}

	var key jose.JSONWebKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{key}}, nil
}
