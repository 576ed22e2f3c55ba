package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/capiscio/vp-verifier/internal/config"
	"github.com/capiscio/vp-verifier/internal/testutil"
	"github.com/capiscio/vp-verifier/pkg/trust"
	"github.com/capiscio/vp-verifier/pkg/vp"
	"github.com/capiscio/vp-verifier/pkg/vperr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Verifier: config.VerifierConfig{
			Audience:       testutil.Audience,
			AcceptedClaims: vp.DefaultAcceptedClaims(),
			Algorithms:     []string{"ES256"},
		},
		Trust: config.TrustConfig{
			Sources: []trust.SourceConfig{
				{Name: "local", Type: trust.TypeDirectTrust, Config: map[string]any{"dir": t.TempDir()}},
			},
		},
		Log: config.LogConfig{Level: "info", Format: "text"},
	}
}

func issuePresentation(t *testing.T) (string, *testutil.Issuer) {
	t.Helper()
	iss, err := testutil.NewIssuer(testutil.IssuerID, "issuer-key-1")
	require.NoError(t, err)
	holder, err := testutil.NewHolder()
	require.NoError(t, err)
	cred, err := iss.Issue(map[string]any{
		"given_name":     "Mario",
		"family_name":    "Rossi",
		"place_of_birth": "Roma",
	}, holder)
	require.NoError(t, err)
	p, err := holder.Present(cred, testutil.DefaultKeyBinding())
	require.NoError(t, err)
	return p, iss
}

func writeKeyFile(t *testing.T, iss *testutil.Issuer) string {
	t.Helper()
	data, err := json.Marshal(iss.PublicJWK())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "issuer.jwk")
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

func TestReadPresentations(t *testing.T) {
	t.Run("literal", func(t *testing.T) {
		out, err := readPresentations("a.b.c~d.e.f", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"a.b.c~d.e.f"}, out)
	})

	t.Run("file with several lines", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vp_token.txt")
		require.NoError(t, os.WriteFile(path, []byte("one~x\n\n  two~y  \n"), 0600))
		out, err := readPresentations(path, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"one~x", "two~y"}, out)
	})

	t.Run("stdin", func(t *testing.T) {
		out, err := readPresentations("-", strings.NewReader("one~x\n"))
		require.NoError(t, err)
		assert.Equal(t, []string{"one~x"}, out)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := readPresentations("-", strings.NewReader("\n \n"))
		assert.Error(t, err)
	})
}

func TestVerifyWithKeyFile(t *testing.T) {
	presentation, iss := issuePresentation(t)
	keyFile := writeKeyFile(t, iss)

	verifier, err := newVerifier(testConfig(t), []string{keyFile}, prometheus.NewRegistry())
	require.NoError(t, err)

	challenge := vp.Challenge{Audience: testutil.Audience, Nonce: testutil.Nonce}
	results, err := verifier.VerifyAll(context.Background(), []string{presentation}, challenge)
	require.NoError(t, err)
	require.Len(t, results, 1)

	verifyJSON = true
	t.Cleanup(func() { verifyJSON = false })

	var buf bytes.Buffer
	require.NoError(t, printResults(&buf, verifier, results))

	var out struct {
		Results []struct {
			Issuer   string         `json:"iss"`
			Accepted map[string]any `json:"accepted"`
		} `json:"results"`
		Claims map[string]any `json:"claims"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out.Results, 1)
	assert.Equal(t, testutil.IssuerID, out.Results[0].Issuer)
	assert.Equal(t, "Mario", out.Claims["given_name"])
	assert.Equal(t, "Rossi", out.Claims["family_name"])
	assert.NotContains(t, out.Claims, "place_of_birth")
}

func TestVerifyWithoutKeys(t *testing.T) {
	presentation, _ := issuePresentation(t)

	verifier, err := newVerifier(testConfig(t), nil, prometheus.NewRegistry())
	require.NoError(t, err)

	challenge := vp.Challenge{Audience: testutil.Audience, Nonce: testutil.Nonce}
	_, err = verifier.VerifyAll(context.Background(), []string{presentation}, challenge)
	assert.ErrorIs(t, err, vperr.ErrKeyNotFound)
}

func TestPrintResultsText(t *testing.T) {
	presentation, iss := issuePresentation(t)
	verifier, err := newVerifier(testConfig(t), []string{writeKeyFile(t, iss)}, prometheus.NewRegistry())
	require.NoError(t, err)

	result, err := verifier.Verify(context.Background(), presentation, vp.Challenge{Audience: testutil.Audience, Nonce: testutil.Nonce})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, printResults(&buf, verifier, []*vp.Result{result}))
	assert.Contains(t, buf.String(), testutil.IssuerID)
	assert.Contains(t, buf.String(), "given_name")
	assert.NotContains(t, buf.String(), "Roma")
}

func TestNewVerifierConfigErrors(t *testing.T) {
	t.Run("missing key file", func(t *testing.T) {
		_, err := newVerifier(testConfig(t), []string{filepath.Join(t.TempDir(), "nope.jwk")}, prometheus.NewRegistry())
		assert.Error(t, err)
	})

	t.Run("unknown source type", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Trust.Sources = []trust.SourceConfig{{Name: "x", Type: "openid_federation"}}
		_, err := newVerifier(cfg, nil, prometheus.NewRegistry())
		assert.ErrorIs(t, err, vperr.ErrConfig)
	})

	t.Run("inline x5c roots", func(t *testing.T) {
		ca, err := testutil.NewCA("Test Root")
		require.NoError(t, err)
		cfg := testConfig(t)
		cfg.Trust.X5CRoots = string(ca.PEM())
		_, err = newVerifier(cfg, nil, prometheus.NewRegistry())
		assert.NoError(t, err)
	})

	t.Run("x5c roots without certificates", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "roots.pem")
		require.NoError(t, os.WriteFile(path, []byte("not a pem"), 0600))
		cfg := testConfig(t)
		cfg.Trust.X5CRoots = path
		_, err := newVerifier(cfg, nil, prometheus.NewRegistry())
		assert.ErrorIs(t, err, vperr.ErrConfig)
	})

	t.Run("missing anchor jwks", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Trust.Anchors = []config.AnchorConfig{{EntityID: "https://anchor.example.org", JWKSFile: filepath.Join(t.TempDir(), "nope.json")}}
		_, err := newVerifier(cfg, nil, prometheus.NewRegistry())
		assert.Error(t, err)
	})
}

func TestVerifyWithTrustAnchors(t *testing.T) {
	iss, err := testutil.NewIssuer(testutil.IssuerID, "issuer-key-1")
	require.NoError(t, err)
	anchor, err := testutil.NewIssuer("https://anchor.example.org", "anchor-key-1")
	require.NoError(t, err)
	ec, err := iss.EntityConfiguration()
	require.NoError(t, err)
	sub, err := anchor.SubordinateStatement(iss)
	require.NoError(t, err)

	holder, err := testutil.NewHolder()
	require.NoError(t, err)
	cred, err := iss.Issue(map[string]any{"given_name": "Mario"}, holder,
		testutil.WithoutKeyID(), testutil.WithHeader("trust_chain", []string{ec, sub}))
	require.NoError(t, err)
	presentation, err := holder.Present(cred, testutil.DefaultKeyBinding())
	require.NoError(t, err)
	challenge := vp.Challenge{Audience: testutil.Audience, Nonce: testutil.Nonce}

	verifier, err := newVerifier(testConfig(t), nil, prometheus.NewRegistry())
	require.NoError(t, err)
	_, err = verifier.Verify(context.Background(), presentation, challenge)
	assert.ErrorIs(t, err, vperr.ErrKeyNotFound)

	cfg := testConfig(t)
	cfg.Trust.Anchors = []config.AnchorConfig{{EntityID: anchor.ID, JWKSFile: writeKeyFile(t, anchor)}}
	verifier, err = newVerifier(cfg, nil, prometheus.NewRegistry())
	require.NoError(t, err)
	_, err = verifier.Verify(context.Background(), presentation, challenge)
	assert.NoError(t, err)
}

func TestWriteMetrics(t *testing.T) {
	presentation, iss := issuePresentation(t)
	reg := prometheus.NewRegistry()
	verifier, err := newVerifier(testConfig(t), []string{writeKeyFile(t, iss)}, reg)
	require.NoError(t, err)

	_, err = verifier.Verify(context.Background(), presentation, vp.Challenge{Audience: testutil.Audience, Nonce: "wrong"})
	require.Error(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeMetrics(&buf, reg))
	assert.Contains(t, buf.String(), `vp_verifications_total{outcome="VP_CHALLENGE_MISMATCH"} 1`)
}

func TestOpenTrustStore(t *testing.T) {
	dir := t.TempDir()
	cfg = &config.Config{Trust: config.TrustConfig{Sources: []trust.SourceConfig{
		{Name: "pinned", Type: trust.TypeStatic},
		{Name: "local", Type: trust.TypeDirectTrust, Config: map[string]any{"dir": dir}},
	}}}
	t.Cleanup(func() { cfg = nil })

	store, err := openTrustStore()
	require.NoError(t, err)
	assert.Equal(t, dir, store.Dir())

	other := t.TempDir()
	trustDir = other
	t.Cleanup(func() { trustDir = "" })
	store, err = openTrustStore()
	require.NoError(t, err)
	assert.Equal(t, other, store.Dir())
}
