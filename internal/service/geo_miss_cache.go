package service

import (
	"context"
	"sync"
	"time"
)

// GeoMissCache remembers IPs the geolocation upstream could not resolve so
// enrichment does not hammer it with the same address.
type GeoMissCache interface {
	IsMiss(ctx context.Context, ip string) (bool, error)
	MarkMiss(ctx context.Context, ip string, ttl time.Duration) error
}

type NoopGeoMissCache struct{}

func (NoopGeoMissCache) IsMiss(context.Context, string) (bool, error) { return false, nil }
func (NoopGeoMissCache) MarkMiss(context.Context, string, time.Duration) error { return nil }

type InMemoryGeoMissCache struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewInMemoryGeoMissCache() *InMemoryGeoMissCache {
	return &InMemoryGeoMissCache{expires: make(map[string]time.Time), now: time.Now}
}

func (c *InMemoryGeoMissCache) IsMiss(_ context.Context, ip string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.expires[ip]
	if !ok {
		return false, nil
	}
	if !c.now().Before(until) {
		delete(c.expires, ip)
		return false, nil
	}
	return true, nil
}

func (c *InMemoryGeoMissCache) MarkMiss(_ context.Context, ip string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	c.expires[ip] = c.now().Add(ttl)
	c.mu.Unlock()
	return nil
}
