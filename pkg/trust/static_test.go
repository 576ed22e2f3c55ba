package trust_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/capiscio/vp-verifier/internal/testutil"
	"github.com/capiscio/vp-verifier/pkg/trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticSource(t *testing.T) {
	ctx := context.Background()
	iss, err := testutil.NewIssuer(issuer, "k1")
	require.NoError(t, err)
	other, err := testutil.NewIssuer("https://other.example.org", "k2")
	require.NoError(t, err)

	data, err := json.Marshal(other.JWKS())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "other.jwks")
	require.NoError(t, os.WriteFile(path, data, 0600))

	src, err := trust.NewStaticSource("inline", map[string]trust.StaticIssuer{
		issuer:   {JWKS: iss.JWKS(), Metadata: map[string]any{"issuer": issuer, "display": "Test"}},
		other.ID: {JWKSFile: path},
	})
	require.NoError(t, err)
	assert.Equal(t, "inline", src.Name())

	keys, err := src.PublicKeys(ctx, issuer)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "k1", keys[0].KeyID)

	md, err := src.Metadata(ctx, issuer)
	require.NoError(t, err)
	assert.Equal(t, "Test", md["display"])

	keys, err = src.PublicKeys(ctx, other.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "k2", keys[0].KeyID)

	md, err = src.Metadata(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, other.ID, md["issuer"])

	keys, err = src.PublicKeys(ctx, "https://unknown.example")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStaticSource_MetadataIsCopied(t *testing.T) {
	ctx := context.Background()
	iss, err := testutil.NewIssuer(issuer, "k1")
	require.NoError(t, err)
	src, err := trust.NewStaticSource("inline", map[string]trust.StaticIssuer{
		issuer: {JWKS: iss.JWKS(), Metadata: map[string]any{"issuer": issuer, "display": []any{map[string]any{"name": "Test"}}}},
	})
	require.NoError(t, err)

	md, err := src.Metadata(ctx, issuer)
	require.NoError(t, err)
	md["issuer"] = "https://evil.example"
	md["display"].([]any)[0].(map[string]any)["name"] = "Evil"

	md, err = src.Metadata(ctx, issuer)
	require.NoError(t, err)
	assert.Equal(t, issuer, md["issuer"])
	assert.Equal(t, []any{map[string]any{"name": "Test"}}, md["display"])
}

func TestStaticSource_BadFile(t *testing.T) {
	_, err := trust.NewStaticSource("inline", map[string]trust.StaticIssuer{
		issuer: {JWKSFile: filepath.Join(t.TempDir(), "missing.jwks")},
	})
	assert.Error(t, err)
}

func TestParseKeys(t *testing.T) {
	iss, err := testutil.NewIssuer(issuer, "k1")
	require.NoError(t, err)

	single, err := json.Marshal(iss.PublicJWK())
	require.NoError(t, err)
	set, err := trust.ParseKeys(single)
	require.NoError(t, err)
	assert.Len(t, set.Keys, 1)

	multi, err := json.Marshal(iss.JWKS())
	require.NoError(t, err)
	set, err = trust.ParseKeys(multi)
	require.NoError(t, err)
	assert.Len(t, set.Keys, 1)

	_, err = trust.ParseKeys([]byte(`{"kty":"nope"}`))
	assert.ErrorIs(t, err, trust.ErrInvalidKey)
}
