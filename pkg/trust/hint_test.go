package trust_test

import (
	"testing"
	"time"

	"github.com/capiscio/vp-verifier/internal/testutil"
	"github.com/capiscio/vp-verifier/pkg/trust"
	"github.com/capiscio/vp-verifier/pkg/vperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func anySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func TestResolveKeyHint(t *testing.T) {
	iss, err := testutil.NewIssuer(issuer, "issuer-key-1")
	require.NoError(t, err)
	anchor, err := testutil.NewIssuer("https://anchor.example.org", "anchor-key")
	require.NoError(t, err)

	ec, err := iss.EntityConfiguration()
	require.NoError(t, err)
	sub, err := anchor.SubordinateStatement(iss)
	require.NoError(t, err)

	ca, err := testutil.NewCA("Test Root")
	require.NoError(t, err)
	leaf, err := ca.IssueLeaf(&iss.Key.PublicKey, "issuer", issuer)
	require.NoError(t, err)
	x5c := anySlice(testutil.X5C(leaf, ca.Cert))

	t.Run("kid wins over everything", func(t *testing.T) {
		hint, err := trust.ResolveKeyHint(map[string]any{
			"kid":         "k1",
			"trust_chain": anySlice([]string{ec}),
			"x5c":         x5c,
		})
		require.NoError(t, err)
		assert.Equal(t, trust.ByIdentifier{KeyID: "k1"}, hint)
	})

	t.Run("trust_chain wins over x5c", func(t *testing.T) {
		hint, err := trust.ResolveKeyHint(map[string]any{
			"trust_chain": anySlice([]string{ec, sub}),
			"x5c":         x5c,
		})
		require.NoError(t, err)

		tc, ok := hint.(trust.ByTrustChain)
		require.True(t, ok)
		assert.Equal(t, issuer, tc.Subject)
		require.Len(t, tc.Keys, 1)
		assert.Equal(t, "issuer-key-1", tc.Keys[0].KeyID)
		assert.Len(t, tc.Statements, 2)
	})

	t.Run("x5c", func(t *testing.T) {
		hint, err := trust.ResolveKeyHint(map[string]any{"x5c": x5c})
		require.NoError(t, err)

		cc, ok := hint.(trust.ByCertChain)
		require.True(t, ok)
		require.Len(t, cc.Chain, 2)
		assert.Equal(t, leaf.Raw, cc.Chain[0].Raw)
		assert.Equal(t, leaf.PublicKey, cc.Key.Key)
	})

	t.Run("no hint", func(t *testing.T) {
		_, err := trust.ResolveKeyHint(map[string]any{"alg": "ES256"})
		assert.ErrorIs(t, err, vperr.ErrKeyNotFound)
	})

	t.Run("empty kid is not a hint", func(t *testing.T) {
		_, err := trust.ResolveKeyHint(map[string]any{"kid": ""})
		assert.ErrorIs(t, err, vperr.ErrKeyNotFound)
	})

	t.Run("trust_chain leaf must be self-issued", func(t *testing.T) {
		_, err := trust.ResolveKeyHint(map[string]any{"trust_chain": anySlice([]string{sub})})
		assert.ErrorIs(t, err, vperr.ErrSchema)
	})

	t.Run("trust_chain subordinate must not be self-issued", func(t *testing.T) {
		_, err := trust.ResolveKeyHint(map[string]any{"trust_chain": anySlice([]string{ec, ec, sub})})
		assert.ErrorIs(t, err, vperr.ErrSchema)
	})

	t.Run("bad x5c", func(t *testing.T) {
		_, err := trust.ResolveKeyHint(map[string]any{"x5c": []any{"not base64!"}})
		assert.ErrorIs(t, err, vperr.ErrDecode)

		_, err = trust.ResolveKeyHint(map[string]any{"x5c": []any{}})
		assert.ErrorIs(t, err, vperr.ErrSchema)
	})
}

func TestCertChainValidator(t *testing.T) {
	iss, err := testutil.NewIssuer(issuer, "issuer-key-1")
	require.NoError(t, err)
	ca, err := testutil.NewCA("Test Root")
	require.NoError(t, err)
	other, err := testutil.NewCA("Other Root")
	require.NoError(t, err)

	chainFor := func(t *testing.T, sans ...string) trust.ByCertChain {
		t.Helper()
		leaf, err := ca.IssueLeaf(&iss.Key.PublicKey, "issuer", sans...)
		require.NoError(t, err)
		hint, err := trust.ResolveKeyHint(map[string]any{"x5c": anySlice(testutil.X5C(leaf))})
		require.NoError(t, err)
		return hint.(trust.ByCertChain)
	}
	chain := chainFor(t, issuer)

	t.Run("trusted root", func(t *testing.T) {
		v, err := trust.NewCertChainValidator(ca.PEM())
		require.NoError(t, err)
		assert.Equal(t, 1, v.Roots())
		assert.NoError(t, v.Validate(chain, issuer, time.Now()))
	})

	t.Run("untrusted root", func(t *testing.T) {
		v, err := trust.NewCertChainValidator(other.PEM())
		require.NoError(t, err)
		assert.ErrorIs(t, v.Validate(chain, issuer, time.Now()), vperr.ErrKeyNotFound)
	})

	t.Run("expired", func(t *testing.T) {
		v, err := trust.NewCertChainValidator(ca.PEM())
		require.NoError(t, err)
		assert.Error(t, v.Validate(chain, issuer, time.Now().Add(48*time.Hour)))
	})

	t.Run("leaf names", func(t *testing.T) {
		v, err := trust.NewCertChainValidator(ca.PEM())
		require.NoError(t, err)

		assert.NoError(t, v.Validate(chainFor(t, "issuer.example.org"), issuer, time.Now()), "DNS SAN of the iss host")
		assert.NoError(t, v.Validate(chainFor(t, "ISSUER.example.org"), issuer, time.Now()), "DNS names are case insensitive")
		assert.ErrorIs(t, v.Validate(chainFor(t, "evil.example"), issuer, time.Now()), vperr.ErrKeyNotFound)
		assert.ErrorIs(t, v.Validate(chainFor(t, "https://evil.example"), issuer, time.Now()), vperr.ErrKeyNotFound)
		assert.ErrorIs(t, v.Validate(chainFor(t), issuer, time.Now()), vperr.ErrKeyNotFound)
		assert.ErrorIs(t, v.Validate(chain, "https://other.example.org", time.Now()), vperr.ErrKeyNotFound)
	})

	t.Run("empty bundle", func(t *testing.T) {
		_, err := trust.NewCertChainValidator([]byte("nothing here"))
		assert.ErrorIs(t, err, vperr.ErrConfig)
	})
}
