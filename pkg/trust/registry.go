package trust

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/capiscio/vp-verifier/internal/log"
	"github.com/capiscio/vp-verifier/pkg/vperr"
)

// Source type tags accepted in configuration.
const (
	TypeDirectTrust = "direct_trust"
	TypeStatic      = "static"
	TypeJWTVCIssuer = "jwt_vc_issuer"
)

// SourceConfig configures one trust source.
type SourceConfig struct {
	Name   string         `koanf:"name" json:"name"`
	Type   string         `koanf:"type" json:"type"`
	Config map[string]any `koanf:"config" json:"config"`
}

// Factory builds a source from its decoded configuration.
type Factory func(name string, config map[string]any) (Source, error)

// Registry maps source type tags to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in source types.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(TypeDirectTrust, newDirectTrust)
	r.Register(TypeStatic, newStatic)
	r.Register(TypeJWTVCIssuer, newJWTVCIssuer)
	return r
}

// Register adds or replaces the factory for a type tag.
func (r *Registry) Register(typ string, f Factory) {
	r.factories[typ] = f
}

// Types returns the registered type tags, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Build creates the sources in configuration order and combines them.
// An empty configuration falls back to the local direct trust store.
func (r *Registry) Build(configs []SourceConfig) (*CombinedEvaluator, error) {
	if len(configs) == 0 {
		log.Logger().Warn("No trust sources configured, falling back to the local direct trust store")
		configs = []SourceConfig{{Name: TypeDirectTrust, Type: TypeDirectTrust}}
	}

	seen := make(map[string]bool, len(configs))
	sources := make([]Source, 0, len(configs))
	for i, cfg := range configs {
		name := cfg.Name
		if name == "" {
			name = cfg.Type
		}
		if seen[name] {
			return nil, vperr.Errorf(vperr.ErrCodeConfig, "trust source %d: duplicate name %q", i, name)
		}
		seen[name] = true

		factory, ok := r.factories[cfg.Type]
		if !ok {
			return nil, vperr.Errorf(vperr.ErrCodeConfig, "trust source %q: unknown type %q (known: %v)", name, cfg.Type, r.Types())
		}

		src, err := factory(name, cfg.Config)
		if err != nil {
			return nil, vperr.WrapError(vperr.ErrCodeConfig, fmt.Sprintf("trust source %q", name), err)
		}
		log.Logger().
			WithField("source", name).
			WithField("type", cfg.Type).
			Debug("Trust source configured")
		sources = append(sources, src)
	}

	return NewCombinedEvaluator(sources...), nil
}

// decodeConfig converts a generic config map into a typed struct.
func decodeConfig(config map[string]any, v any) error {
	if len(config) == 0 {
		return nil
	}
	b, err := json.Marshal(config)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func newDirectTrust(name string, config map[string]any) (Source, error) {
	var cfg struct {
		Dir string `json:"dir"`
	}
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	store, err := NewFileStore(cfg.Dir)
	if err != nil {
		return nil, err
	}
	store.name = name
	return store, nil
}

func newStatic(name string, config map[string]any) (Source, error) {
	var cfg struct {
		Issuers map[string]StaticIssuer `json:"issuers"`
	}
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Issuers) == 0 {
		return nil, fmt.Errorf("static source needs at least one issuer")
	}
	return NewStaticSource(name, cfg.Issuers)
}

func newJWTVCIssuer(name string, config map[string]any) (Source, error) {
	var cfg struct {
		AllowHTTP bool   `json:"allow_http"`
		CacheTTL  string `json:"cache_ttl"`
		Attempts  uint   `json:"attempts"`
	}
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	fetcher := NewDefaultJWKSFetcher()
	if cfg.CacheTTL != "" {
		ttl, err := time.ParseDuration(cfg.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("invalid cache_ttl: %w", err)
		}
		fetcher.SetTTL(ttl)
	}
	if cfg.Attempts > 0 {
		fetcher.SetRetry(cfg.Attempts, fetcher.delay)
	}
	return NewMetadataSource(name, fetcher, cfg.AllowHTTP), nil
}
