// Package cache implements the read-side response cache (spec §4.9):
// an in-memory, TTL-based cache keyed by md5(path + sorted query),
// storing the path alongside the value so prefix-based invalidation
// can also catch legacy entries missing a recorded path. Backed by
// jellydator/ttlcache/v3, the same library C2's artifact cache uses.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

type entry struct {
	value   []byte
	path    string
	hasPath bool
}

// ResponseCache is not strongly consistent; entries expire on their
// own TTL independent of any write to the underlying data (spec
// §4.9).
type ResponseCache struct {
	cache *ttlcache.Cache[string, entry]
	flight singleflight.Group
}

func New(defaultTTL time.Duration) *ResponseCache {
	c := ttlcache.New[string, entry](ttlcache.WithTTL[string, entry](defaultTTL))
	go c.Start()
	return &ResponseCache{cache: c}
}

func (c *ResponseCache) Stop() { c.cache.Stop() }

// Key returns md5(path + sorted_query) for the given path and raw
// query string (spec §4.9).
func Key(path string, rawQuery string) string {
	values, _ := url.ParseQuery(rawQuery)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(path)
	for _, k := range keys {
		vs := values[k]
		sort.Strings(vs)
		for _, v := range vs {
			sb.WriteString(k)
			sb.WriteString("=")
			sb.WriteString(v)
			sb.WriteString("&")
		}
	}

	sum := md5.Sum([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

func (c *ResponseCache) Get(key string) ([]byte, bool) {
	item := c.cache.Get(key)
	if item == nil {
		return nil, false
	}
	return item.Value().value, true
}

func (c *ResponseCache) Set(key, path string, value []byte, ttl time.Duration) {
	c.cache.Set(key, entry{value: value, path: path, hasPath: true}, ttl)
}

// GetOrLoad returns the cached value for key, or calls load and caches
// its result under ttl. Concurrent misses for the same key are
// collapsed into a single load call via singleflight, so a burst of
// requests for the same cold device status doesn't fan out into one
// database read per request.
func (c *ResponseCache) GetOrLoad(key, path string, ttl time.Duration, load func() ([]byte, error)) ([]byte, bool, error) {
	if cached, ok := c.Get(key); ok {
		return cached, true, nil
	}

	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		body, err := load()
		if err != nil {
			return nil, err
		}
		c.Set(key, path, body, ttl)
		return body, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]byte), false, nil
}

// InvalidatePrefix drops every entry whose recorded path starts with
// prefix, along with any legacy entry that has no recorded path at
// all, since staleness there can't otherwise be ruled out (spec §4.9).
func (c *ResponseCache) InvalidatePrefix(prefix string) {
	var toDelete []string
	c.cache.Range(func(item *ttlcache.Item[string, entry]) bool {
		e := item.Value()
		if !e.hasPath || strings.HasPrefix(e.path, prefix) {
			toDelete = append(toDelete, item.Key())
		}
		return true
	})
	for _, k := range toDelete {
		c.cache.Delete(k)
	}
}
