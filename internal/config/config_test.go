package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/capiscio/vp-verifier/pkg/trust"
	"github.com/capiscio/vp-verifier/pkg/vp"
	"github.com/capiscio/vp-verifier/pkg/vperr"
	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
verifier:
  audience: https://rp.example.org/callback
  clockskew: 5s
  acceptedclaims: [given_name, family_name]
  algorithms: [ES256, EdDSA]
trust:
  sources:
    - name: local
      type: direct_trust
      config:
        dir: /tmp/trust
    - name: web
      type: jwt_vc_issuer
      config:
        cache_ttl: 10m
  anchors:
    - entityid: https://anchor.example.org
      jwksfile: /etc/vpverify/anchor.jwks
log:
  level: debug
  format: json
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vpverify.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	flags := FlagSet()
	require.NoError(t, flags.Parse([]string{"--configfile", filepath.Join(t.TempDir(), "missing.yaml")}))

	cfg, err := Load(flags)
	require.NoError(t, err)

	assert.Equal(t, vp.DefaultAcceptedClaims(), cfg.Verifier.AcceptedClaims)
	assert.Equal(t, time.Duration(0), cfg.Verifier.ClockSkew)
	assert.False(t, cfg.Verifier.RequireSDHash)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Empty(t, cfg.Trust.Sources)

	algs, err := cfg.Verifier.SignatureAlgorithms()
	require.NoError(t, err)
	assert.Equal(t, vp.DefaultAlgorithms(), algs)
}

func TestLoad_File(t *testing.T) {
	flags := FlagSet()
	require.NoError(t, flags.Parse([]string{"--configfile", writeConfig(t, testConfig)}))

	cfg, err := Load(flags)
	require.NoError(t, err)

	assert.Equal(t, "https://rp.example.org/callback", cfg.Verifier.Audience)
	assert.Equal(t, 5*time.Second, cfg.Verifier.ClockSkew)
	assert.Equal(t, []string{"given_name", "family_name"}, cfg.Verifier.AcceptedClaims)
	assert.Equal(t, "debug", cfg.Log.Level)

	require.Len(t, cfg.Trust.Sources, 2)
	assert.Equal(t, trust.SourceConfig{Name: "local", Type: trust.TypeDirectTrust, Config: map[string]any{"dir": "/tmp/trust"}}, cfg.Trust.Sources[0])
	assert.Equal(t, trust.TypeJWTVCIssuer, cfg.Trust.Sources[1].Type)
	assert.Equal(t, []AnchorConfig{{EntityID: "https://anchor.example.org", JWKSFile: "/etc/vpverify/anchor.jwks"}}, cfg.Trust.Anchors)

	algs, err := cfg.Verifier.SignatureAlgorithms()
	require.NoError(t, err)
	assert.Equal(t, []jose.SignatureAlgorithm{jose.ES256, jose.EdDSA}, algs)
}

func TestLoad_Precedence(t *testing.T) {
	t.Setenv("VPVERIFY_VERIFIER_AUDIENCE", "https://env.example.org")
	t.Setenv("VPVERIFY_VERIFIER_ACCEPTEDCLAIMS", "given_name, birth_date")
	t.Setenv("VPVERIFY_LOG_LEVEL", "warn")

	flags := FlagSet()
	require.NoError(t, flags.Parse([]string{
		"--configfile", writeConfig(t, testConfig),
		"--log.level", "error",
		"--verifier.requiresdhash",
	}))

	cfg, err := Load(flags)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.org", cfg.Verifier.Audience, "env overrides file")
	assert.Equal(t, []string{"given_name", "birth_date"}, cfg.Verifier.AcceptedClaims)
	assert.Equal(t, "error", cfg.Log.Level, "flag overrides env")
	assert.True(t, cfg.Verifier.RequireSDHash)
	assert.Equal(t, "json", cfg.Log.Format, "file value kept")
}

func TestLoad_ConfigFileFromEnv(t *testing.T) {
	t.Setenv("VPVERIFY_CONFIGFILE", writeConfig(t, testConfig))

	cfg, err := Load(FlagSet())
	require.NoError(t, err)
	assert.Equal(t, "https://rp.example.org/callback", cfg.Verifier.Audience)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{Log: LogConfig{Level: "info", Format: "text"}}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative skew", func(c *Config) { c.Verifier.ClockSkew = -time.Second }},
		{"unknown algorithm", func(c *Config) { c.Verifier.Algorithms = []string{"HS256"} }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"source without type", func(c *Config) { c.Trust.Sources = []trust.SourceConfig{{Name: "x"}} }},
		{"anchor without jwks", func(c *Config) { c.Trust.Anchors = []AnchorConfig{{EntityID: "https://anchor.example.org"}} }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.ErrorIs(t, c.Validate(), vperr.ErrConfig)
		})
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	flags := FlagSet()
	require.NoError(t, flags.Parse([]string{"--configfile", writeConfig(t, "verifier: [not, a, map")}))

	_, err := Load(flags)
	assert.ErrorIs(t, err, vperr.ErrConfig)
}
