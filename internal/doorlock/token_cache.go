package doorlock

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Token is an access token and its expiry. A nil ExpiresAt means the token does not
// expire.
type Token struct {
	Value     string
	ExpiresAt *time.Time
}

// Valid reports whether t can still be used at now.
func (t Token) Valid(now time.Time) bool {
	if t.Value == "" {
		return false
	}
	return t.ExpiresAt == nil || t.ExpiresAt.After(now)
}

// TokenCache shares access tokens between clients built from the same credentials. It
// also remembers token values the platform rejected so a stale copy in the stored
// settings is not served again.
type TokenCache struct {
	ttl     time.Duration
	items   *ttlcache.Cache[string, Token]
	revoked *ttlcache.Cache[string, string]
}

// NewTokenCache creates a cache holding tokens for at most ttl. Revoked markers are kept
// for the same duration.
func NewTokenCache(ttl time.Duration) *TokenCache {
	items := ttlcache.New[string, Token](
		ttlcache.WithTTL[string, Token](ttl),
		ttlcache.WithDisableTouchOnHit[string, Token](),
	)
	revoked := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](ttl),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	return &TokenCache{ttl: ttl, items: items, revoked: revoked}
}

// Start runs the expiry loops. It blocks until Stop is called.
func (c *TokenCache) Start() {
	go c.revoked.Start()
	c.items.Start()
}

// Stop ends the expiry loops.
func (c *TokenCache) Stop() {
	c.revoked.Stop()
	c.items.Stop()
}

// Get returns the cached token for a credential fingerprint.
func (c *TokenCache) Get(fingerprint string) (Token, bool) {
	item := c.items.Get(fingerprint)
	if item == nil {
		return Token{}, false
	}
	return item.Value(), true
}

// Put stores tok until the earlier of its own expiry and the cache TTL.
func (c *TokenCache) Put(fingerprint string, tok Token, now time.Time) {
	ttl := ttlcache.DefaultTTL
	if tok.ExpiresAt != nil {
		ttl = tok.ExpiresAt.Sub(now)
		if ttl <= 0 {
			return
		}
		if ttl > c.ttl {
			ttl = ttlcache.DefaultTTL
		}
	}
	c.items.Set(fingerprint, tok, ttl)
}

// Revoke drops the cached token and marks value as rejected for the fingerprint.
func (c *TokenCache) Revoke(fingerprint, value string) {
	c.items.Delete(fingerprint)
	if value != "" {
		c.revoked.Set(fingerprint, value, ttlcache.DefaultTTL)
	}
}

// Revoked reports whether value was rejected for the fingerprint.
func (c *TokenCache) Revoked(fingerprint, value string) bool {
	item := c.revoked.Get(fingerprint)
	return item != nil && item.Value() == value
}

// Clear drops every token. Wired to the settings write path. Revoked markers survive
// since a rejected value never becomes valid again.
func (c *TokenCache) Clear() {
	c.items.DeleteAll()
}

// fingerprint identifies a credential tuple without keeping the secrets as map keys.
func fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
