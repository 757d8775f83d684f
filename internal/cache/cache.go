// Package cache is the content cache between the pipeline and the filing
// API. Stores hold opaque bytes under deterministic fingerprints; misses
// for the same fingerprint are coalesced so concurrent runs trigger one
// upstream call.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrNotFound is returned by Store.Get for absent or expired entries.
var ErrNotFound = errors.New("cache: not found")

// Store is one cache tier.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Stats are monotonic counters since process start.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Saves  uint64 `json:"saves"`
}

// HitRate is hits / (hits + misses), 0 when nothing was looked up.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache wraps a Store with fingerprinting, hit/miss accounting and
// singleflight miss coalescing.
type Cache struct {
	store Store
	group singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64
	saves  atomic.Uint64
}

func New(store Store) *Cache {
	return &Cache{store: store}
}

// Fingerprint derives a stable cache key from a namespace and a parameter
// map. Parameters are serialized in sorted key order so logically equal
// requests always collide.
func Fingerprint(namespace string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(namespace))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(params[k]))
	}
	return namespace + ":" + hex.EncodeToString(h.Sum(nil))[:40]
}

// GetOrFill returns the cached value for key, or runs fill exactly once
// across concurrent callers and stores its result for ttl. A nil result
// from fill is not cached (no negative caching).
func (c *Cache) GetOrFill(ctx context.Context, key string, ttl time.Duration, fill func(context.Context) ([]byte, error)) ([]byte, error) {
	if v, err := c.store.Get(ctx, key); err == nil {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// another caller may have filled while we queued
		if v, err := c.store.Get(ctx, key); err == nil {
			return v, nil
		}
		b, err := fill(ctx)
		if err != nil {
			return nil, err
		}
		if b != nil {
			if err := c.store.Set(ctx, key, b, ttl); err == nil {
				c.saves.Add(1)
			}
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// GetJSON unmarshals the cached value for key into out.
func (c *Cache) GetJSON(ctx context.Context, key string, out interface{}) error {
	b, err := c.store.Get(ctx, key)
	if err != nil {
		c.misses.Add(1)
		return err
	}
	c.hits.Add(1)
	return json.Unmarshal(b, out)
}

// SetJSON stores v under key for ttl.
func (c *Cache) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, key, b, ttl); err != nil {
		return err
	}
	c.saves.Add(1)
	return nil
}

// Invalidate drops one entry.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

func (c *Cache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Saves:  c.saves.Load(),
	}
}
