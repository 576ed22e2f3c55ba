package trust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/capiscio/vp-verifier/pkg/vperr"
	"github.com/go-jose/go-jose/v4"
)

// Common errors returned by the file store.
var (
	ErrKeyNotFound    = vperr.NewError(vperr.ErrCodeKeyNotFound, "key not found in trust store")
	ErrIssuerNotFound = errors.New("issuer not found in trust store")
	ErrInvalidKey     = errors.New("invalid key format")
)

// KeyStore looks up issuer keys by kid.
type KeyStore interface {
	// Get retrieves a key by kid.
	Get(kid string) (*jose.JSONWebKey, error)
}

// Store is a writable key store with issuer mappings.
type Store interface {
	KeyStore

	// Add adds a key to the trust store.
	Add(key jose.JSONWebKey) error

	// GetByIssuer retrieves all keys for an issuer.
	GetByIssuer(issuer string) ([]jose.JSONWebKey, error)

	// List returns all keys in the store.
	List() ([]jose.JSONWebKey, error)

	// Remove removes a key by kid.
	Remove(kid string) error

	// AddIssuerMapping maps an issuer to a key kid.
	AddIssuerMapping(issuer, kid string) error
}

// FileStore implements Store and Source on the filesystem.
// Each key is a <kid>.jwk file; issuers.json maps issuers to kids.
// Default location: ~/.vpverify/trust/
type FileStore struct {
	name string
	dir  string
	mu   sync.RWMutex
}

// DefaultTrustDir returns the default trust store directory.
func DefaultTrustDir() string {
	if envPath := os.Getenv("VPVERIFY_TRUST_PATH"); envPath != "" {
		return envPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vpverify/trust"
	}
	return filepath.Join(home, ".vpverify", "trust")
}

// NewFileStore creates a new file-based trust store.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = DefaultTrustDir()
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create trust directory: %w", err)
	}

	return &FileStore{name: TypeDirectTrust, dir: dir}, nil
}

// Name returns the configured source name.
func (s *FileStore) Name() string {
	return s.name
}

// Dir returns the store directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) keyPath(kid string) string {
	return filepath.Join(s.dir, sanitizeFilename(kid)+".jwk")
}

func (s *FileStore) issuersPath() string {
	return filepath.Join(s.dir, "issuers.json")
}

// Add adds a public key to the trust store. Private keys are refused.
func (s *FileStore) Add(key jose.JSONWebKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key.KeyID == "" {
		return fmt.Errorf("%w: missing kid", ErrInvalidKey)
	}
	if !key.IsPublic() {
		return fmt.Errorf("%w: refusing to store a private key", ErrInvalidKey)
	}

	data, err := json.MarshalIndent(key, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal key: %w", err)
	}

	if err := os.WriteFile(s.keyPath(key.KeyID), data, 0600); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}

	return nil
}

// Get retrieves a key by kid.
func (s *FileStore) Get(kid string) (*jose.JSONWebKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.readKey(kid)
}

func (s *FileStore) readKey(kid string) (*jose.JSONWebKey, error) {
	data, err := os.ReadFile(s.keyPath(kid))
	if os.IsNotExist(err) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}

	var key jose.JSONWebKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("failed to parse key: %w", err)
	}

	return &key, nil
}

// GetByIssuer retrieves all keys mapped to an issuer.
func (s *FileStore) GetByIssuer(issuer string) ([]jose.JSONWebKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	issuers, err := s.loadIssuers()
	if os.IsNotExist(err) {
		return nil, ErrIssuerNotFound
	}
	if err != nil {
		return nil, err
	}

	kids, ok := issuers[issuer]
	if !ok || len(kids) == 0 {
		return nil, ErrIssuerNotFound
	}

	var keys []jose.JSONWebKey
	for _, kid := range kids {
		key, err := s.readKey(kid)
		if err != nil {
			continue // Skip missing or invalid keys
		}
		keys = append(keys, *key)
	}

	if len(keys) == 0 {
		return nil, ErrKeyNotFound
	}

	return keys, nil
}

// PublicKeys implements Source. An unknown issuer is an empty answer.
func (s *FileStore) PublicKeys(_ context.Context, issuer string) ([]jose.JSONWebKey, error) {
	keys, err := s.GetByIssuer(issuer)
	if errors.Is(err, ErrIssuerNotFound) || errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	return keys, err
}

// Metadata implements Source. The file store holds keys only, so the
// metadata is a jwt-vc-issuer document built from the mapped keys.
func (s *FileStore) Metadata(ctx context.Context, issuer string) (map[string]any, error) {
	keys, err := s.PublicKeys(ctx, issuer)
	if err != nil || len(keys) == 0 {
		return nil, err
	}
	return issuerMetadata(issuer, keys), nil
}

// List returns all keys in the store.
func (s *FileStore) List() ([]jose.JSONWebKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read trust directory: %w", err)
	}

	var keys []jose.JSONWebKey
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jwk" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}

		var key jose.JSONWebKey
		if err := json.Unmarshal(data, &key); err != nil {
			continue
		}
		keys = append(keys, key)
	}

	return keys, nil
}

// Issuers returns the issuer to kid mapping.
func (s *FileStore) Issuers() (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	issuers, err := s.loadIssuers()
	if os.IsNotExist(err) {
		return map[string][]string{}, nil
	}
	return issuers, err
}

// Remove removes a key by kid and drops it from every issuer mapping.
func (s *FileStore) Remove(kid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.keyPath(kid)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return ErrKeyNotFound
	}

	issuers, err := s.loadIssuers()
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove key: %w", err)
	}
	if issuers == nil {
		return nil
	}

	for issuer, kids := range issuers {
		for i, k := range kids {
			if k == kid {
				issuers[issuer] = append(kids[:i], kids[i+1:]...)
				break
			}
		}
		if len(issuers[issuer]) == 0 {
			delete(issuers, issuer)
		}
	}
	return s.saveIssuers(issuers)
}

// AddIssuerMapping maps an issuer to a key kid.
func (s *FileStore) AddIssuerMapping(issuer, kid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	issuers, err := s.loadIssuers()
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if issuers == nil {
		issuers = make(map[string][]string)
	}

	kids := issuers[issuer]
	for _, k := range kids {
		if k == kid {
			return nil // Already mapped
		}
	}

	issuers[issuer] = append(kids, kid)
	return s.saveIssuers(issuers)
}

// AddFromJWKS adds all keys from a JWKS and optionally maps them to an issuer.
func (s *FileStore) AddFromJWKS(jwks *jose.JSONWebKeySet, issuer string) error {
	for _, key := range jwks.Keys {
		if err := s.Add(key); err != nil {
			return fmt.Errorf("failed to add key %s: %w", key.KeyID, err)
		}
		if issuer != "" {
			if err := s.AddIssuerMapping(issuer, key.KeyID); err != nil {
				return fmt.Errorf("failed to map key %s to issuer: %w", key.KeyID, err)
			}
		}
	}
	return nil
}

func (s *FileStore) loadIssuers() (map[string][]string, error) {
	data, err := os.ReadFile(s.issuersPath())
	if err != nil {
		return nil, err
	}

	var issuers map[string][]string
	if err := json.Unmarshal(data, &issuers); err != nil {
		return nil, fmt.Errorf("failed to parse issuers file: %w", err)
	}

	return issuers, nil
}

func (s *FileStore) saveIssuers(issuers map[string][]string) error {
	data, err := json.MarshalIndent(issuers, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal issuers: %w", err)
	}

	if err := os.WriteFile(s.issuersPath(), data, 0600); err != nil {
		return fmt.Errorf("failed to write issuers file: %w", err)
	}

	return nil
}

// sanitizeFilename converts a kid to a safe filename.
func sanitizeFilename(kid string) string {
	safe := make([]byte, 0, len(kid))
	for _, c := range []byte(kid) {
		switch c {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			safe = append(safe, '_')
		default:
			safe = append(safe, c)
		}
	}
	return string(safe)
}

// issuerMetadata renders keys as a jwt-vc-issuer metadata document.
func issuerMetadata(issuer string, keys []jose.JSONWebKey) map[string]any {
	b, err := json.Marshal(jose.JSONWebKeySet{Keys: keys})
	if err != nil {
		return map[string]any{"issuer": issuer}
	}
	var jwks map[string]any
	_ = json.Unmarshal(b, &jwks)
	return map[string]any{"issuer": issuer, "jwks": jwks}
}

// KeySet is an in-memory KeyStore over a fixed JWKS.
type KeySet struct {
	keys map[string]jose.JSONWebKey
}

// NewKeySet indexes the keys of set by kid. Keys without a kid are skipped.
func NewKeySet(set *jose.JSONWebKeySet) *KeySet {
	ks := &KeySet{keys: make(map[string]jose.JSONWebKey)}
	if set == nil {
		return ks
	}
	for _, k := range set.Keys {
		if k.KeyID != "" {
			ks.keys[k.KeyID] = k
		}
	}
	return ks
}

// Get retrieves a key by kid.
func (s *KeySet) Get(kid string) (*jose.JSONWebKey, error) {
	k, ok := s.keys[kid]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return &k, nil
}

// Len returns the number of indexed keys.
func (s *KeySet) Len() int {
	return len(s.keys)
}
