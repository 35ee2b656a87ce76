package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"

	"github.com/sandeepkv93/learning-platform-auth/internal/domain"
	"github.com/sandeepkv93/learning-platform-auth/internal/observability"
)

var ErrGeoUnavailable = errors.New("geolocation unavailable")

type GeoLocator interface {
	Lookup(ctx context.Context, ip string) (domain.Location, error)
}

type NoopGeoLocator struct{}

func NewNoopGeoLocator() *NoopGeoLocator { return &NoopGeoLocator{} }

func (NoopGeoLocator) Lookup(context.Context, string) (domain.Location, error) {
	return domain.Location{}, nil
}

type HTTPGeoLocatorOptions struct {
	URLTemplate string
	Timeout     time.Duration
	CacheSize   int
	CacheTTL    time.Duration
	MissTTL     time.Duration
}

// HTTPGeoLocator resolves public IPs against an ipapi.co-compatible JSON
// endpoint. Hits are kept in an expiring LRU, misses in a GeoMissCache,
// and concurrent lookups for one IP share a single request.
type HTTPGeoLocator struct {
	client *http.Client
	opts   HTTPGeoLocatorOptions
	cache  *expirable.LRU[string, domain.Location]
	misses GeoMissCache
	group  singleflight.Group
}

func NewHTTPGeoLocator(opts HTTPGeoLocatorOptions, misses GeoMissCache) *HTTPGeoLocator {
	if opts.URLTemplate == "" {
		opts.URLTemplate = "https://ipapi.co/%s/json/"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 24 * time.Hour
	}
	if misses == nil {
		misses = NoopGeoMissCache{}
	}
	return &HTTPGeoLocator{
		client: &http.Client{Timeout: opts.Timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		opts:   opts,
		cache:  expirable.NewLRU[string, domain.Location](opts.CacheSize, nil, opts.CacheTTL),
		misses: misses,
	}
}

type ipapiResponse struct {
	City        string   `json:"city"`
	CountryName string   `json:"country_name"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Error       bool     `json:"error"`
	Reason      string   `json:"reason"`
}

// Lookup returns an empty location without error for addresses that cannot be
// geolocated (private, loopback, unparseable).
func (g *HTTPGeoLocator) Lookup(ctx context.Context, ip string) (domain.Location, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil || !isPublicAddr(addr) {
		observability.RecordGeoLookup(ctx, "skipped")
		return domain.Location{}, nil
	}
	key := addr.String()
	if loc, ok := g.cache.Get(key); ok {
		observability.RecordGeoLookup(ctx, "cache_hit")
		return loc, nil
	}
	if miss, err := g.misses.IsMiss(ctx, key); err == nil && miss {
		observability.RecordGeoLookup(ctx, "negative_hit")
		return domain.Location{}, ErrGeoUnavailable
	}
	// The shared fetch outlives the caller's context; a caller that gives up
	// only stops waiting.
	ch := g.group.DoChan(key, func() (any, error) {
		detached := context.WithoutCancel(ctx)
		fetchCtx, cancel := context.WithTimeout(detached, g.opts.Timeout)
		defer cancel()
		loc, err := g.fetch(fetchCtx, key)
		if err != nil {
			_ = g.misses.MarkMiss(detached, key, g.opts.MissTTL)
			return domain.Location{}, err
		}
		g.cache.Add(key, loc)
		return loc, nil
	})
	select {
	case <-ctx.Done():
		observability.RecordGeoLookup(ctx, "cancelled")
		return domain.Location{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			observability.RecordGeoLookup(ctx, "error")
			return domain.Location{}, res.Err
		}
		observability.RecordGeoLookup(ctx, "fetched")
		return res.Val.(domain.Location), nil
	}
}

func (g *HTTPGeoLocator) fetch(ctx context.Context, ip string) (domain.Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(g.opts.URLTemplate, ip), nil)
	if err != nil {
		return domain.Location{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		return domain.Location{}, fmt.Errorf("%w: %v", ErrGeoUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Location{}, fmt.Errorf("%w: status %d", ErrGeoUnavailable, resp.StatusCode)
	}
	var body ipapiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.Location{}, fmt.Errorf("%w: decode: %v", ErrGeoUnavailable, err)
	}
	if body.Error {
		return domain.Location{}, fmt.Errorf("%w: %s", ErrGeoUnavailable, body.Reason)
	}
	return domain.Location{
		City:      body.City,
		Country:   body.CountryName,
		Latitude:  body.Latitude,
		Longitude: body.Longitude,
	}, nil
}

func isPublicAddr(addr netip.Addr) bool {
	return addr.IsValid() &&
		!addr.IsPrivate() &&
		!addr.IsLoopback() &&
		!addr.IsUnspecified() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsMulticast()
}
