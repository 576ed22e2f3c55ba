// Package config loads verifier configuration from a yaml file, VPVERIFY_
// environment variables and command line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/capiscio/vp-verifier/pkg/trust"
	"github.com/capiscio/vp-verifier/pkg/vp"
	"github.com/capiscio/vp-verifier/pkg/vperr"
	"github.com/go-jose/go-jose/v4"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

const (
	defaultPrefix            = "VPVERIFY_"
	defaultDelimiter         = "."
	configValueListSeparator = ","
	configFileFlag           = "configfile"
	defaultConfigFile        = "vpverify.yaml"
)

// Config is the complete verifier configuration.
type Config struct {
	ConfigFile string         `koanf:"configfile"`
	Verifier   VerifierConfig `koanf:"verifier"`
	Trust      TrustConfig    `koanf:"trust"`
	Log        LogConfig      `koanf:"log"`
}

// VerifierConfig configures presentation verification.
type VerifierConfig struct {
	// Audience is the expected KB-JWT aud.
	Audience string `koanf:"audience"`

	// ClockSkew tolerates KB-JWTs issued slightly in the future.
	ClockSkew time.Duration `koanf:"clockskew"`

	// AcceptedClaims is the claim accept list; empty accepts everything.
	AcceptedClaims []string `koanf:"acceptedclaims"`

	// RequireSDHash enforces the KB-JWT sd_hash.
	RequireSDHash bool `koanf:"requiresdhash"`

	// Algorithms lists the accepted JWS algorithms.
	Algorithms []string `koanf:"algorithms"`
}

// TrustConfig configures issuer trust.
type TrustConfig struct {
	// X5CRoots is a PEM bundle of roots for x5c key hints. Empty disables x5c.
	X5CRoots string `koanf:"x5croots"`

	// Sources are queried in order.
	Sources []trust.SourceConfig `koanf:"sources"`

	// Anchors are the federation trust anchors for trust_chain key hints.
	// Without anchors trust_chain hints are rejected.
	Anchors []AnchorConfig `koanf:"anchors"`
}

// AnchorConfig names a federation trust anchor and the JWKS file holding its keys.
type AnchorConfig struct {
	EntityID string `koanf:"entityid"`
	JWKSFile string `koanf:"jwksfile"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// FlagSet returns the configuration flags with their defaults.
func FlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("config", pflag.ContinueOnError)
	flagSet.String(configFileFlag, defaultConfigFile, "Config file")
	flagSet.String("verifier.audience", "", "Expected key binding audience")
	flagSet.Duration("verifier.clockskew", 0, "Tolerated clock skew for key binding iat")
	flagSet.StringSlice("verifier.acceptedclaims", vp.DefaultAcceptedClaims(), "Claims released after verification; empty releases all")
	flagSet.Bool("verifier.requiresdhash", false, "Require and check the key binding sd_hash")
	flagSet.StringSlice("verifier.algorithms", algorithmNames(vp.DefaultAlgorithms()), "Accepted JWS algorithms")
	flagSet.String("trust.x5croots", "", "PEM bundle of root certificates for x5c key hints")
	flagSet.String("log.level", "info", "Log level (trace, debug, info, warn, error)")
	flagSet.String("log.format", "text", "Log format (text, json)")
	return flagSet
}

// Load reads the configuration. flags must contain the flags of FlagSet.
func Load(flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(defaultDelimiter)

	if err := loadFromFlagSet(k, flags); err != nil {
		return nil, err
	}
	if err := loadFromFile(k, resolveConfigFilePath(flags)); err != nil {
		return nil, err
	}
	if err := loadFromEnv(k); err != nil {
		return nil, err
	}
	if err := loadFromFlagSet(k, flags); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: false}); err != nil {
		return nil, vperr.WrapError(vperr.ErrCodeConfig, "unmarshaling configuration", err)
	}
	return &cfg, cfg.Validate()
}

// Validate checks the configuration for values the verifier cannot use.
func (c *Config) Validate() error {
	if c.Verifier.ClockSkew < 0 {
		return vperr.NewError(vperr.ErrCodeConfig, "verifier.clockskew must not be negative")
	}
	if _, err := c.Verifier.SignatureAlgorithms(); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return vperr.WrapError(vperr.ErrCodeConfig, "invalid log.level", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return vperr.Errorf(vperr.ErrCodeConfig, "invalid log.format %q", c.Log.Format)
	}
	for i, s := range c.Trust.Sources {
		if s.Type == "" {
			return vperr.Errorf(vperr.ErrCodeConfig, "trust.sources[%d]: missing type", i)
		}
	}
	for i, a := range c.Trust.Anchors {
		if a.EntityID == "" || a.JWKSFile == "" {
			return vperr.Errorf(vperr.ErrCodeConfig, "trust.anchors[%d]: entityid and jwksfile are required", i)
		}
	}
	return nil
}

// SignatureAlgorithms parses the configured algorithm names.
func (c VerifierConfig) SignatureAlgorithms() ([]jose.SignatureAlgorithm, error) {
	if len(c.Algorithms) == 0 {
		return vp.DefaultAlgorithms(), nil
	}
	known := make(map[string]bool)
	for _, a := range allAlgorithms {
		known[string(a)] = true
	}
	algs := make([]jose.SignatureAlgorithm, 0, len(c.Algorithms))
	for _, name := range c.Algorithms {
		if !known[name] {
			return nil, vperr.Errorf(vperr.ErrCodeConfig, "unsupported signature algorithm %q", name)
		}
		algs = append(algs, jose.SignatureAlgorithm(name))
	}
	return algs, nil
}

var allAlgorithms = []jose.SignatureAlgorithm{
	jose.ES256, jose.ES384, jose.ES512, jose.EdDSA,
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
}

func algorithmNames(algs []jose.SignatureAlgorithm) []string {
	names := make([]string, len(algs))
	for i, a := range algs {
		names[i] = string(a)
	}
	return names
}

func loadFromFile(k *koanf.Koanf, path string) error {
	if path == "" {
		return nil
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return vperr.WrapError(vperr.ErrCodeConfig, fmt.Sprintf("loading %s", path), err)
		}
	}
	return nil
}

func loadFromEnv(k *koanf.Koanf) error {
	e := env.ProviderWithValue(defaultPrefix, defaultDelimiter, func(rawKey string, rawValue string) (string, interface{}) {
		key := strings.Replace(strings.ToLower(strings.TrimPrefix(rawKey, defaultPrefix)), "_", defaultDelimiter, -1)

		// Support multiple values separated by a comma
		if strings.Contains(rawValue, configValueListSeparator) {
			values := strings.Split(rawValue, configValueListSeparator)
			for i, value := range values {
				values[i] = strings.TrimSpace(value)
			}
			return key, values
		}

		return key, rawValue
	})
	// errors can't occur for this provider
	return k.Load(e, nil)
}

func loadFromFlagSet(k *koanf.Koanf, flags *pflag.FlagSet) error {
	return k.Load(posflag.Provider(flags, defaultDelimiter, k), nil)
}

// resolveConfigFilePath resolves the config file from the flag, then VPVERIFY_CONFIGFILE.
func resolveConfigFilePath(flags *pflag.FlagSet) string {
	k := koanf.New(defaultDelimiter)

	e := env.Provider(defaultPrefix, defaultDelimiter, func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, defaultPrefix)), "_", defaultDelimiter, -1)
	})
	_ = k.Load(e, nil)
	_ = k.Load(posflag.Provider(flags, defaultDelimiter, k), nil)

	return k.String(configFileFlag)
}
