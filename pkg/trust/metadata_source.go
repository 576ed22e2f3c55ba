package trust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-jose/go-jose/v4"
)

// WellKnownJWTVCIssuer is the path of SD-JWT VC issuer metadata.
const WellKnownJWTVCIssuer = "/.well-known/jwt-vc-issuer"

// MetadataSource resolves issuer keys from the issuer's own
// /.well-known/jwt-vc-issuer document, following jwks_uri when the keys are
// not inline.
type MetadataSource struct {
	name      string
	fetcher   *DefaultJWKSFetcher
	allowHTTP bool
}

// NewMetadataSource creates an HTTP metadata source.
// Only https issuers are accepted unless allowHTTP is set.
func NewMetadataSource(name string, fetcher *DefaultJWKSFetcher, allowHTTP bool) *MetadataSource {
	if fetcher == nil {
		fetcher = NewDefaultJWKSFetcher()
	}
	return &MetadataSource{name: name, fetcher: fetcher, allowHTTP: allowHTTP}
}

// Name returns the configured source name.
func (s *MetadataSource) Name() string {
	return s.name
}

// Metadata fetches the issuer metadata. A 404 is an empty answer.
func (s *MetadataSource) Metadata(ctx context.Context, issuer string) (map[string]any, error) {
	endpoint, err := s.metadataURL(issuer)
	if err != nil {
		return nil, err
	}

	md, err := s.fetcher.FetchMetadata(ctx, endpoint)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if got, _ := md["issuer"].(string); got != issuer {
		return nil, fmt.Errorf("metadata issuer %q does not match %q", got, issuer)
	}
	return md, nil
}

// PublicKeys returns the keys named by the issuer metadata.
func (s *MetadataSource) PublicKeys(ctx context.Context, issuer string) ([]jose.JSONWebKey, error) {
	md, err := s.Metadata(ctx, issuer)
	if err != nil || md == nil {
		return nil, err
	}

	if inline, ok := md["jwks"].(map[string]any); ok {
		b, err := json.Marshal(inline)
		if err != nil {
			return nil, err
		}
		var set jose.JSONWebKeySet
		if err := json.Unmarshal(b, &set); err != nil {
			return nil, fmt.Errorf("failed to decode inline jwks: %w", err)
		}
		return set.Keys, nil
	}

	if uri, ok := md["jwks_uri"].(string); ok && uri != "" {
		if err := s.checkScheme(uri); err != nil {
			return nil, err
		}
		set, err := s.fetcher.Fetch(ctx, uri)
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return set.Keys, nil
	}

	return nil, nil
}

func (s *MetadataSource) metadataURL(issuer string) (string, error) {
	if err := s.checkScheme(issuer); err != nil {
		return "", err
	}
	return strings.TrimSuffix(issuer, "/") + WellKnownJWTVCIssuer, nil
}

func (s *MetadataSource) checkScheme(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid URL %q", raw)
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if s.allowHTTP {
			return nil
		}
	}
	return fmt.Errorf("refusing to fetch %q: scheme must be https", raw)
}
