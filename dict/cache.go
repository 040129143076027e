// Package dict caches backend dictionaries (device types, statuses,
// permission kinds) so list views can resolve labels without a request per
// row.
package dict

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	console "github.com/chimerakang/assetconsole"
	"github.com/chimerakang/assetconsole/metrics"
)

const cacheType = "dictionary"

// Cache is a console.DictionaryService that caches another one.
type Cache struct {
	svc     console.DictionaryService
	lru     *expirable.LRU[string, []console.DictEntry]
	sf      singleflight.Group
	metrics *metrics.Metrics
}

// compile-time check
var _ console.DictionaryService = (*Cache)(nil)

// Option configures the Cache.
type Option func(*Cache)

// WithMetrics records hits, misses and size.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// NewCache caches up to size dictionaries for ttl each.
func NewCache(svc console.DictionaryService, ttl time.Duration, size int, opts ...Option) *Cache {
	if size <= 0 {
		size = console.DefaultDictionarySize
	}
	if ttl <= 0 {
		ttl = console.DefaultDictionaryTTL
	}
	c := &Cache{svc: svc}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.New(false)
	}
	c.lru = expirable.NewLRU[string, []console.DictEntry](size, nil, ttl)
	return c
}

// Dictionary returns the entries of dictType. Concurrent misses for the same
// type share one backend request. Errors are not cached.
func (c *Cache) Dictionary(ctx context.Context, dictType string) ([]console.DictEntry, error) {
	if entries, ok := c.lru.Get(dictType); ok {
		c.metrics.RecordCacheHit(cacheType)
		return entries, nil
	}
	c.metrics.RecordCacheMiss(cacheType)

	v, err, _ := c.sf.Do(dictType, func() (interface{}, error) {
		entries, err := c.svc.Dictionary(ctx, dictType)
		if err != nil {
			return nil, err
		}
		c.lru.Add(dictType, entries)
		c.metrics.SetCacheSize(cacheType, float64(c.lru.Len()))
		return entries, nil
	})
	if err != nil {
		return nil, fmt.Errorf("console/dict: %s: %w", dictType, err)
	}
	return v.([]console.DictEntry), nil
}

// Label returns the label of value in dictType, or value itself when the
// dictionary has no such entry.
func (c *Cache) Label(ctx context.Context, dictType, value string) (string, error) {
	entries, err := c.Dictionary(ctx, dictType)
	if err != nil {
		return value, err
	}
	for _, e := range entries {
		if e.Value == value {
			return e.Label, nil
		}
	}
	return value, nil
}

// Invalidate drops one dictionary.
func (c *Cache) Invalidate(dictType string) {
	c.lru.Remove(dictType)
	c.metrics.SetCacheSize(cacheType, float64(c.lru.Len()))
}

// Purge drops every dictionary. It runs on logout so the next operator
// does not see data fetched under the previous credential.
func (c *Cache) Purge() {
	c.lru.Purge()
	c.metrics.SetCacheSize(cacheType, 0)
}

// Len returns the number of cached dictionaries.
func (c *Cache) Len() int { return c.lru.Len() }
