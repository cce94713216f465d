// Package cache provides a short-TTL cache of read-mostly trader flags,
// modeled on the go-cache usage in the teacher's
// internal/api/middleware/security.go. It exists purely as a hot-path
// optimization: every Submit reads a trader's active/admin flags before
// reserving anything, and those flags change rarely.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// TraderFlags is the subset of trader state cached outside the transaction.
type TraderFlags struct {
	Active bool
	Admin  bool
}

// TraderCache caches TraderFlags by trader id.
type TraderCache struct {
	inner *gocache.Cache
}

// NewTraderCache builds a cache whose entries expire after ttl; expired
// entries are purged every 2*ttl.
func NewTraderCache(ttl time.Duration) *TraderCache {
	return &TraderCache{inner: gocache.New(ttl, ttl*2)}
}

// Get returns the cached flags for traderID, if present and unexpired.
func (c *TraderCache) Get(traderID string) (TraderFlags, bool) {
	v, ok := c.inner.Get(traderID)
	if !ok {
		return TraderFlags{}, false
	}
	return v.(TraderFlags), true
}

// Set stores flags for traderID, refreshing its TTL.
func (c *TraderCache) Set(traderID string, flags TraderFlags) {
	c.inner.SetDefault(traderID, flags)
}

// Invalidate evicts traderID, e.g. after an admin flips a trader's active flag.
func (c *TraderCache) Invalidate(traderID string) {
	c.inner.Delete(traderID)
}
