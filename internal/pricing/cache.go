package pricing

import (
	"sync"
	"time"

	"github.com/yourorg/coinwatch/internal/domain"
)

const DefaultTTL = 60 * time.Second

// Cache holds the last known price snapshot per asset. Entries are
// immutable *PriceSnapshot values replaced atomically per key, so readers
// never block on writers and always see a complete snapshot. Expiry is
// lazy: a read past the TTL deletes the entry and reports a miss.
type Cache struct {
	ttl     time.Duration
	entries sync.Map // domain.AssetID -> *domain.PriceSnapshot

	// now is swapped in tests.
	now func() time.Time
}

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{ttl: ttl, now: time.Now}
}

func (c *Cache) Get(asset domain.AssetID) (*domain.PriceSnapshot, bool) {
	v, ok := c.entries.Load(asset)
	if !ok {
		return nil, false
	}
	snap := v.(*domain.PriceSnapshot)
	if c.expired(snap) {
		c.entries.Delete(asset)
		return nil, false
	}
	return snap, true
}

// GetBatch returns the present, unexpired snapshots for the given assets.
// Absent ids are simply missing from the result.
func (c *Cache) GetBatch(assets []domain.AssetID) map[domain.AssetID]*domain.PriceSnapshot {
	out := make(map[domain.AssetID]*domain.PriceSnapshot, len(assets))
	for _, a := range assets {
		if snap, ok := c.Get(a); ok {
			out[a] = snap
		}
	}
	return out
}

func (c *Cache) Put(snap domain.PriceSnapshot) {
	c.entries.Store(snap.Asset, &snap)
}

func (c *Cache) PutAll(snaps map[domain.AssetID]domain.PriceSnapshot) {
	for _, snap := range snaps {
		c.Put(snap)
	}
}

// Len counts unexpired entries.
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(_, v any) bool {
		if !c.expired(v.(*domain.PriceSnapshot)) {
			n++
		}
		return true
	})
	return n
}

// Prune drops expired entries eagerly. The cache works without it; the
// scheduler calls it once per tick to keep the map from accumulating
// delisted assets.
func (c *Cache) Prune() int {
	dropped := 0
	c.entries.Range(func(k, v any) bool {
		if c.expired(v.(*domain.PriceSnapshot)) {
			c.entries.Delete(k)
			dropped++
		}
		return true
	})
	return dropped
}

func (c *Cache) expired(snap *domain.PriceSnapshot) bool {
	return c.now().Sub(snap.FetchedAt) >= c.ttl
}
