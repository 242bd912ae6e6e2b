package resolver

import (
	"context"
	"net/netip"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// Cached remembers successful lookups of the wrapped resolver for ttl.
// Failures are not cached.
type Cached struct {
	next  Resolver
	cache *cache.Cache
}

// NewCached wraps next with a TTL cache. Expired entries are purged every
// 2*ttl.
func NewCached(next Resolver, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: cache.New(ttl, 2*ttl)}
}

func (c *Cached) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	key := strings.ToLower(host)
	if v, ok := c.cache.Get(key); ok {
		return append([]netip.Addr(nil), v.([]netip.Addr)...), nil
	}

	addrs, err := c.next.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, append([]netip.Addr(nil), addrs...))
	return addrs, nil
}
