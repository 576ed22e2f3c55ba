package trust_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/capiscio/vp-verifier/internal/testutil"
	"github.com/capiscio/vp-verifier/pkg/trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFetcher() *trust.DefaultJWKSFetcher {
	f := trust.NewDefaultJWKSFetcher()
	f.SetRetry(3, time.Millisecond)
	return f
}

func TestMetadataSource(t *testing.T) {
	ctx := context.Background()
	iss, err := testutil.NewIssuer("", "k1")
	require.NoError(t, err)

	var srv *httptest.Server
	var jwksHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/inline"+trust.WellKnownJWTVCIssuer, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"issuer": srv.URL + "/inline", "jwks": iss.JWKS()})
	})
	mux.HandleFunc("/remote"+trust.WellKnownJWTVCIssuer, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"issuer": srv.URL + "/remote", "jwks_uri": srv.URL + "/jwks.json"})
	})
	mux.HandleFunc("/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		jwksHits.Add(1)
		_ = json.NewEncoder(w).Encode(iss.JWKS())
	})
	mux.HandleFunc("/impostor"+trust.WellKnownJWTVCIssuer, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"issuer": "https://someone.else", "jwks": iss.JWKS()})
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	src := trust.NewMetadataSource("web", newFetcher(), true)

	t.Run("inline jwks", func(t *testing.T) {
		keys, err := src.PublicKeys(ctx, srv.URL+"/inline")
		require.NoError(t, err)
		require.Len(t, keys, 1)
		assert.Equal(t, "k1", keys[0].KeyID)
	})

	t.Run("jwks_uri is cached", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			keys, err := src.PublicKeys(ctx, srv.URL+"/remote")
			require.NoError(t, err)
			require.Len(t, keys, 1)
		}
		assert.Equal(t, int32(1), jwksHits.Load())
	})

	t.Run("unknown issuer is an empty answer", func(t *testing.T) {
		keys, err := src.PublicKeys(ctx, srv.URL+"/nobody")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("issuer mismatch", func(t *testing.T) {
		_, err := src.Metadata(ctx, srv.URL+"/impostor")
		assert.Error(t, err)
	})

	t.Run("http refused by default", func(t *testing.T) {
		strict := trust.NewMetadataSource("web", newFetcher(), false)
		_, err := strict.Metadata(ctx, srv.URL+"/inline")
		assert.Error(t, err)
	})
}

func TestDefaultJWKSFetcher_Retries(t *testing.T) {
	iss, err := testutil.NewIssuer(issuer, "k1")
	require.NoError(t, err)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(iss.JWKS())
	}))
	defer srv.Close()

	f := newFetcher()
	set, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, set.Keys, 1)
	assert.Equal(t, int32(3), calls.Load())

	f.FlushCache()
	_, err = f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int32(4), calls.Load())
}

func TestDefaultJWKSFetcher_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newFetcher().Fetch(context.Background(), srv.URL)
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDefaultJWKSFetcher_CachedMetadataIsNotShared(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"issuer": issuer, "jwks_uri": issuer + "/jwks.json"})
	}))
	defer srv.Close()

	f := newFetcher()
	md, err := f.FetchMetadata(context.Background(), srv.URL)
	require.NoError(t, err)
	md["issuer"] = "https://evil.example"
	delete(md, "jwks_uri")

	md, err = f.FetchMetadata(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, issuer, md["issuer"])
	assert.Equal(t, issuer+"/jwks.json", md["jwks_uri"])
	assert.Equal(t, int32(1), calls.Load(), "second fetch is served from the cache")
}

func TestDefaultJWKSFetcher_DecodeErrorNotCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"keys": [`))
	}))
	defer srv.Close()

	f := newFetcher()
	_, err := f.Fetch(context.Background(), srv.URL)
	assert.Error(t, err)
	_, err = f.Fetch(context.Background(), srv.URL)
	assert.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}
