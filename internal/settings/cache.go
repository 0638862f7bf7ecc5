package settings

import (
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/teresa-solution/guest-access-service/internal/model"
	"github.com/teresa-solution/guest-access-service/internal/monitoring"
)

type cacheKey struct {
	kind   model.ProviderKind
	org    int64
	branch int64
}

func keyOf(kind model.ProviderKind, scope Scope) cacheKey {
	k := cacheKey{kind: kind, org: scope.OrganizationID}
	if scope.BranchID != nil {
		k.branch = *scope.BranchID
	}
	return k
}

// Cache holds decrypted settings for a fixed TTL. Entries do not extend on hit, so a
// reader sees a stale value for at most one TTL after a write it was not told about.
type Cache struct {
	items *ttlcache.Cache[cacheKey, *Resolved]
}

// NewCache creates a cache whose entries expire ttl after they are set. Reads do not
// extend the lifetime.
func NewCache(ttl time.Duration) *Cache {
	items := ttlcache.New[cacheKey, *Resolved](
		ttlcache.WithTTL[cacheKey, *Resolved](ttl),
		ttlcache.WithDisableTouchOnHit[cacheKey, *Resolved](),
	)
	return &Cache{items: items}
}

// Start runs the expiry loop until Stop is called.
func (c *Cache) Start() { c.items.Start() }

// Stop ends the expiry loop started by Start.
func (c *Cache) Stop() { c.items.Stop() }

// Get returns a private copy of the cached entry.
func (c *Cache) Get(kind model.ProviderKind, scope Scope) (*Resolved, bool) {
	item := c.items.Get(keyOf(kind, scope))
	if item == nil {
		monitoring.SettingsCacheEvents.WithLabelValues("miss").Inc()
		return nil, false
	}
	monitoring.SettingsCacheEvents.WithLabelValues("hit").Inc()
	res := *item.Value()
	res.Section = cloneSection(res.Section)
	return &res, true
}

// Set stores a copy of res for the provider kind and scope.
func (c *Cache) Set(kind model.ProviderKind, scope Scope, res *Resolved) {
	stored := *res
	stored.Section = cloneSection(res.Section)
	c.items.Set(keyOf(kind, scope), &stored, ttlcache.DefaultTTL)
}

// Invalidate drops every entry affected by a change. A tenant-level change affects all
// of the tenant's branches; a branch change only that branch.
func (c *Cache) Invalidate(ch Change) {
	for _, k := range c.items.Keys() {
		if k.org != ch.OrganizationID {
			continue
		}
		if ch.BranchID != nil && k.branch != *ch.BranchID {
			continue
		}
		if ch.Kind != "" && k.kind != ch.Kind {
			continue
		}
		c.items.Delete(k)
	}
	monitoring.SettingsCacheEvents.WithLabelValues("invalidate").Inc()
}

// Flush drops every entry.
func (c *Cache) Flush() {
	c.items.DeleteAll()
	monitoring.SettingsCacheEvents.WithLabelValues("invalidate").Inc()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int { return c.items.Len() }
