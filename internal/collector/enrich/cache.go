package enrich

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedGeolocator 在外部查询前加一层带过期时间的 LRU。Unknown 不缓存，下次出现时重新查询。
type CachedGeolocator struct {
	next  Geolocator
	cache *expirable.LRU[string, string]
}

func NewCachedGeolocator(next Geolocator, size int, ttl time.Duration) *CachedGeolocator {
	return &CachedGeolocator{
		next:  next,
		cache: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

func (c *CachedGeolocator) Geolocate(ctx context.Context, ip string) string {
	if v, ok := c.cache.Get(ip); ok {
		return v
	}
	v := c.next.Geolocate(ctx, ip)
	if v != Unknown && v != LocalNetwork {
		c.cache.Add(ip, v)
	}
	return v
}

// CachedReputation 只缓存服务确实应答过的结果。
type CachedReputation struct {
	next  ReputationChecker
	cache *expirable.LRU[string, Reputation]
}

func NewCachedReputation(next ReputationChecker, size int, ttl time.Duration) *CachedReputation {
	return &CachedReputation{
		next:  next,
		cache: expirable.NewLRU[string, Reputation](size, nil, ttl),
	}
}

func (c *CachedReputation) CheckReputation(ctx context.Context, ip string) Reputation {
	if v, ok := c.cache.Get(ip); ok {
		return v
	}
	v := c.next.CheckReputation(ctx, ip)
	if v.Checked {
		c.cache.Add(ip, v)
	}
	return v
}
