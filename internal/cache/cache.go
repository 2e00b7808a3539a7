package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/portalwatch/internal/entity"
	"git.home.luguber.info/inful/portalwatch/internal/foundation"
	"git.home.luguber.info/inful/portalwatch/internal/logfields"
	"git.home.luguber.info/inful/portalwatch/internal/schema"
)

// Entry is a cached entity payload with its write timestamp. Entries are owned
// exclusively by the cache: callers never mutate one, only replace it wholesale
// through Put.
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"data"`
}

// Cache layers TTL accounting and schema validation over a Store. Its read
// path never fails: absent, unparsable, or schema-invalid entries all read as
// a miss, and invalid entries are evicted as a side effect so corruption heals
// itself.
type Cache struct {
	store    Store
	registry *schema.Registry
	now      func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a Cache over the given store and schema registry.
func New(store Store, registry *schema.Registry, opts ...Option) *Cache {
	c := &Cache{store: store, registry: registry, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached entry for the entity; a miss is None, never a
// zero-valued entry. A hit guarantees the payload currently validates against
// the entity's schema; a failed validation means "treat as cache miss", never
// "treat as truth".
func (c *Cache) Get(ctx context.Context, kind entity.Kind, id string) foundation.Option[Entry] {
	key := EntityKey(kind, id)
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		slog.Debug("Cache read failed; treating as miss", logfields.CacheKey(key), logfields.Error(err))
		return foundation.None[Entry]()
	}
	if !ok {
		return foundation.None[Entry]()
	}

	var stored Entry
	if err := json.Unmarshal(raw, &stored); err != nil {
		c.evict(ctx, key, "unparsable entry")
		return foundation.None[Entry]()
	}
	if err := c.registry.Validate(kind, stored.Payload); err != nil {
		c.evict(ctx, key, "schema-invalid entry")
		return foundation.None[Entry]()
	}
	return foundation.Some(stored)
}

// Put stores the payload with the current timestamp, replacing any prior entry.
func (c *Cache) Put(ctx context.Context, kind entity.Kind, id string, payload json.RawMessage) error {
	stored, err := json.Marshal(Entry{Timestamp: c.now(), Payload: payload})
	if err != nil {
		return err
	}
	return c.store.Set(ctx, EntityKey(kind, id), stored)
}

// Evict removes the cached entry for the entity.
func (c *Cache) Evict(ctx context.Context, kind entity.Kind, id string) {
	c.evict(ctx, EntityKey(kind, id), "explicit eviction")
}

// IsFresh reports whether the entry is younger than ttl.
func (c *Cache) IsFresh(e Entry, ttl time.Duration) bool {
	return c.now().Sub(e.Timestamp) < ttl
}

func (c *Cache) evict(ctx context.Context, key, reason string) {
	if err := c.store.Delete(ctx, key); err != nil {
		slog.Debug("Cache eviction failed", logfields.CacheKey(key), logfields.Error(err))
		return
	}
	slog.Debug("Evicted cache entry", logfields.CacheKey(key), slog.String("reason", reason))
}

// Marker returns the persisted marker value for key, if any. Marker reads
// never fail; a storage error reads as "no marker".
func (c *Cache) Marker(ctx context.Context, key string) (string, bool) {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		return "", false
	}
	return string(raw), true
}

// SetMarker persists a marker value.
func (c *Cache) SetMarker(ctx context.Context, key, value string) error {
	return c.store.Set(ctx, key, []byte(value))
}

// ClearMarker removes a marker. Clearing an absent marker is a no-op.
func (c *Cache) ClearMarker(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// Flag reads a persisted boolean flag. Absent or malformed flags read false.
func (c *Cache) Flag(ctx context.Context, key string) bool {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		return false
	}
	return string(raw) == "true"
}

// SetFlag persists a boolean flag.
func (c *Cache) SetFlag(ctx context.Context, key string, value bool) error {
	str := "false"
	if value {
		str = "true"
	}
	return c.store.Set(ctx, key, []byte(str))
}
