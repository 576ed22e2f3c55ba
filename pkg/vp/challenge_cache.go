package vp

import (
	"sync"
	"time"

	"github.com/capiscio/vp-verifier/pkg/vperr"
)

// ChallengeCacheConfig configures a ChallengeCache.
type ChallengeCacheConfig struct {
	// TTL is how long an issued challenge can be redeemed (default: 5 minutes).
	TTL time.Duration

	// MaxEntries limits outstanding challenges (0 = unlimited).
	// When full, the oldest challenge is dropped.
	MaxEntries int

	// CleanupInterval is how often to purge expired challenges (0 = no background cleanup).
	CleanupInterval time.Duration
}

// DefaultChallengeCacheConfig returns the defaults used by NewChallengeCache(nil).
func DefaultChallengeCacheConfig() *ChallengeCacheConfig {
	return &ChallengeCacheConfig{
		TTL:             5 * time.Minute,
		MaxEntries:      10000,
		CleanupInterval: time.Minute,
	}
}

type pendingChallenge struct {
	challenge Challenge
	issuedAt  time.Time
	expiresAt time.Time
}

// ChallengeCache tracks issued challenges so that each nonce is redeemed at most once.
type ChallengeCache struct {
	mu      sync.Mutex
	pending map[string]*pendingChallenge
	config  *ChallengeCacheConfig
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewChallengeCache creates a cache. Call Close to stop background cleanup.
func NewChallengeCache(config *ChallengeCacheConfig) *ChallengeCache {
	if config == nil {
		config = DefaultChallengeCacheConfig()
	}
	if config.TTL <= 0 {
		config.TTL = DefaultChallengeCacheConfig().TTL
	}

	c := &ChallengeCache{
		pending: make(map[string]*pendingChallenge),
		config:  config,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if config.CleanupInterval > 0 {
		go c.cleanupLoop()
	}
	return c
}

// Issue creates a fresh challenge for audience and remembers it.
func (c *ChallengeCache) Issue(audience string) (Challenge, error) {
	ch, err := NewChallenge(audience)
	if err != nil {
		return Challenge{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.config.MaxEntries > 0 && len(c.pending) >= c.config.MaxEntries {
		var oldest string
		var oldestAt time.Time
		for nonce, p := range c.pending {
			if oldest == "" || p.issuedAt.Before(oldestAt) {
				oldest, oldestAt = nonce, p.issuedAt
			}
		}
		delete(c.pending, oldest)
	}

	now := c.now()
	c.pending[ch.Nonce] = &pendingChallenge{challenge: ch, issuedAt: now, expiresAt: now.Add(c.config.TTL)}
	return ch, nil
}

// Redeem removes and returns the challenge issued with nonce. Unknown, expired
// and already redeemed nonces are a ChallengeMismatch.
func (c *ChallengeCache) Redeem(nonce string) (Challenge, error) {
	c.mu.Lock()
	p, ok := c.pending[nonce]
	delete(c.pending, nonce)
	c.mu.Unlock()

	if !ok {
		return Challenge{}, vperr.NewError(vperr.ErrCodeChallengeMismatch, "unknown or already used nonce")
	}
	if c.now().After(p.expiresAt) {
		return Challenge{}, vperr.NewError(vperr.ErrCodeChallengeMismatch, "challenge expired")
	}
	return p.challenge, nil
}

// Size returns the number of outstanding challenges.
func (c *ChallengeCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close stops background cleanup.
func (c *ChallengeCache) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *ChallengeCache) cleanupLoop() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stop:
			return
		}
	}
}

func (c *ChallengeCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for nonce, p := range c.pending {
		if now.After(p.expiresAt) {
			delete(c.pending, nonce)
		}
	}
}
