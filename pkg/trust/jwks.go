package trust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/capiscio/vp-verifier/internal/log"
	"github.com/go-jose/go-jose/v4"
	"github.com/patrickmn/go-cache"
)

const maxDocumentSize = 1 << 20

// JWKSFetcher fetches JSON Web Key Sets by URL.
type JWKSFetcher interface {
	Fetch(ctx context.Context, url string) (*jose.JSONWebKeySet, error)
}

// DefaultJWKSFetcher fetches JWKS and issuer metadata documents over HTTP,
// retrying transient failures and caching successful responses.
type DefaultJWKSFetcher struct {
	client   *http.Client
	cache    *cache.Cache
	ttl      time.Duration
	attempts uint
	delay    time.Duration
}

// NewDefaultJWKSFetcher creates a fetcher with a 10 second HTTP timeout,
// three attempts per request and a one hour cache TTL.
func NewDefaultJWKSFetcher() *DefaultJWKSFetcher {
	return &DefaultJWKSFetcher{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		cache:    cache.New(time.Hour, 10*time.Minute),
		ttl:      time.Hour,
		attempts: 3,
		delay:    200 * time.Millisecond,
	}
}

// SetTTL configures the cache time-to-live for later fetches.
func (f *DefaultJWKSFetcher) SetTTL(ttl time.Duration) {
	f.ttl = ttl
}

// SetHTTPClient replaces the HTTP client.
func (f *DefaultJWKSFetcher) SetHTTPClient(client *http.Client) {
	f.client = client
}

// SetRetry configures the number of attempts and the initial backoff delay.
func (f *DefaultJWKSFetcher) SetRetry(attempts uint, delay time.Duration) {
	f.attempts = attempts
	f.delay = delay
}

// FlushCache clears all cached documents.
func (f *DefaultJWKSFetcher) FlushCache() {
	f.cache.Flush()
}

// Fetch retrieves the JWKS at url, using the cache if available.
func (f *DefaultJWKSFetcher) Fetch(ctx context.Context, url string) (*jose.JSONWebKeySet, error) {
	var jwks jose.JSONWebKeySet
	if err := f.getJSON(ctx, "jwks:", url, &jwks); err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	return &jwks, nil
}

// FetchMetadata retrieves a JSON metadata document at url, using the cache if available.
// Every call returns a freshly decoded document.
func (f *DefaultJWKSFetcher) FetchMetadata(ctx context.Context, url string) (map[string]any, error) {
	var md map[string]any
	if err := f.getJSON(ctx, "metadata:", url, &md); err != nil {
		return nil, fmt.Errorf("failed to fetch metadata: %w", err)
	}
	if md == nil {
		return nil, fmt.Errorf("failed to fetch metadata: document at %s is not an object", url)
	}
	return md, nil
}

// getJSON decodes the document at url into v. The cache holds the raw bytes
// so callers never share decoded values.
func (f *DefaultJWKSFetcher) getJSON(ctx context.Context, kind, url string, v any) error {
	if cached, found := f.cache.Get(kind + url); found {
		return json.Unmarshal(cached.([]byte), v)
	}

	data, err := f.download(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	f.cache.Set(kind+url, data, f.ttl)
	return nil
}

var errNotFound = errors.New("not found")

func (f *DefaultJWKSFetcher) download(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
			}
			req.Header.Set("Accept", "application/json")

			resp, err := f.client.Do(req)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()

			switch {
			case resp.StatusCode == http.StatusNotFound:
				return retry.Unrecoverable(fmt.Errorf("%w: %s", errNotFound, url))
			case resp.StatusCode >= 400 && resp.StatusCode < 500:
				return retry.Unrecoverable(fmt.Errorf("status %d", resp.StatusCode))
			case resp.StatusCode != http.StatusOK:
				return fmt.Errorf("status %d", resp.StatusCode)
			}

			data, err = io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
			return err
		},
		retry.Context(ctx),
		retry.Attempts(f.attempts),
		retry.Delay(f.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Logger().
				WithError(err).
				WithField("url", url).
				Debugf("Retrying HTTP fetch (attempt %d)", n+1)
		}),
	)
	return data, err
}
