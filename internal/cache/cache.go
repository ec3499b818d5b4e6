// Package cache decorates a MarketDataProvider with a point-in-time cache
// keyed by (ticker, field, as_of), so repeated reads at the same rebalance
// date across factor scoring, Black-Litterman and the optimizer hit memory
// instead of the provider. It follows the teacher's RedisCache in
// CRun0.9/src/infrastructure/cache/redis_cache.go (a thin client.Get/Set
// wrapper with a TTL), generalized with an in-process LRU fallback for when
// no Redis endpoint is configured.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantedge/alphacore/internal/domain/market"
	"github.com/quantedge/alphacore/internal/provider"
)

// Config selects the cache backend: a Redis address, or none (in-process
// LRU only).
type Config struct {
	RedisAddr string
	RedisDB   int
	TTL       time.Duration
	LRUSize   int
}

// Provider wraps a MarketDataProvider with a read-through cache. It is
// itself a MarketDataProvider, so it composes transparently with the
// resilience decorators.
type Provider struct {
	inner provider.MarketDataProvider
	ttl   time.Duration
	redis *redis.Client
	lru   *lru
}

// New builds a caching decorator around inner. When cfg.RedisAddr is empty
// it falls back to an in-process LRU of cfg.LRUSize entries (default 10000).
func New(inner provider.MarketDataProvider, cfg Config) *Provider {
	p := &Provider{inner: inner, ttl: cfg.TTL}
	if cfg.TTL == 0 {
		p.ttl = 24 * time.Hour
	}
	if cfg.RedisAddr != "" {
		p.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		return p
	}
	size := cfg.LRUSize
	if size == 0 {
		size = 10000
	}
	p.lru = newLRU(size)
	return p
}

func cacheKey(field string, ticker market.Ticker, asOf market.AsOfDate, extra string) string {
	return fmt.Sprintf("alphacore:%s:%s:%s:%s", field, ticker, asOf, extra)
}

func (p *Provider) getOrCompute(ctx context.Context, key string, dest any, compute func() (any, error)) error {
	if raw, ok := p.read(ctx, key); ok {
		return json.Unmarshal(raw, dest)
	}
	val, err := compute()
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(val)
	if err != nil {
		return err
	}
	p.write(ctx, key, encoded)
	return json.Unmarshal(encoded, dest)
}

func (p *Provider) read(ctx context.Context, key string) ([]byte, bool) {
	if p.redis != nil {
		val, err := p.redis.Get(ctx, key).Bytes()
		if err != nil {
			return nil, false
		}
		return val, true
	}
	return p.lru.get(key)
}

func (p *Provider) write(ctx context.Context, key string, val []byte) {
	if p.redis != nil {
		p.redis.Set(ctx, key, val, p.ttl)
		return
	}
	p.lru.put(key, val)
}

// Prices implements provider.MarketDataProvider.
func (p *Provider) Prices(ctx context.Context, ticker market.Ticker, start, end market.AsOfDate) (market.PriceSeries, error) {
	var out market.PriceSeries
	key := cacheKey("prices", ticker, end, start.String())
	err := p.getOrCompute(ctx, key, &out, func() (any, error) {
		return p.inner.Prices(ctx, ticker, start, end)
	})
	return out, err
}

// Fundamentals implements provider.MarketDataProvider.
func (p *Provider) Fundamentals(ctx context.Context, ticker market.Ticker, asOf market.AsOfDate) (market.FundamentalSnapshot, error) {
	var out market.FundamentalSnapshot
	key := cacheKey("fundamentals", ticker, asOf, "")
	err := p.getOrCompute(ctx, key, &out, func() (any, error) {
		return p.inner.Fundamentals(ctx, ticker, asOf)
	})
	return out, err
}

// MarketCaps implements provider.MarketDataProvider. Not cached: it is
// always called once per rebalance over the already-ranked top-N set, so
// caching would add a serialization round trip for no reuse.
func (p *Provider) MarketCaps(ctx context.Context, tickers []market.Ticker, asOf market.AsOfDate) (map[market.Ticker]float64, error) {
	return p.inner.MarketCaps(ctx, tickers, asOf)
}

// BenchmarkPrices implements provider.MarketDataProvider.
func (p *Provider) BenchmarkPrices(ctx context.Context, start, end market.AsOfDate) (market.PriceSeries, error) {
	var out market.PriceSeries
	key := cacheKey("benchmark", "", end, start.String())
	err := p.getOrCompute(ctx, key, &out, func() (any, error) {
		return p.inner.BenchmarkPrices(ctx, start, end)
	})
	return out, err
}

// CAPE implements provider.MarketDataProvider.
func (p *Provider) CAPE(ctx context.Context, asOf market.AsOfDate) (*float64, error) {
	return p.inner.CAPE(ctx, asOf)
}

// FFFactorWindow implements provider.MarketDataProvider. Not cached: it is a
// single monthly-resolution call per rebalance, cheap relative to the daily
// price reads the cache targets.
func (p *Provider) FFFactorWindow(ctx context.Context, end market.AsOfDate, months int) (map[provider.FFFactor]provider.FFWindow, error) {
	return p.inner.FFFactorWindow(ctx, end, months)
}

// IndexHistory implements provider.MarketDataProvider.
func (p *Provider) IndexHistory(ctx context.Context, symbol string, end market.AsOfDate, lookbackDays int) (market.PriceSeries, error) {
	var out market.PriceSeries
	key := cacheKey("index", market.Ticker(symbol), end, fmt.Sprintf("%d", lookbackDays))
	err := p.getOrCompute(ctx, key, &out, func() (any, error) {
		return p.inner.IndexHistory(ctx, symbol, end, lookbackDays)
	})
	return out, err
}

// VIXStructure implements provider.MarketDataProvider.
func (p *Provider) VIXStructure(ctx context.Context, end market.AsOfDate) (provider.VIXTermStructure, error) {
	return p.inner.VIXStructure(ctx, end)
}

var _ provider.MarketDataProvider = (*Provider)(nil)

// lru is a minimal, mutex-protected fixed-capacity cache. It exists purely
// as the zero-configuration fallback when no Redis endpoint is set; nothing
// here is meant to rival a real cache library.
type lru struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List
}

type lruEntry struct {
	key string
	val []byte
}

func newLRU(capacity int) *lru {
	return &lru{capacity: capacity, items: make(map[string]*list.Element), order: list.New()}
}

func (c *lru) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).val, true
}

func (c *lru) put(key string, val []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry).val = val
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&lruEntry{key: key, val: val})
	c.items[key] = el
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*lruEntry).key)
		}
	}
}
