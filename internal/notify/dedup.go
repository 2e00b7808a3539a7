package notify

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/portalwatch/internal/cache"
	"git.home.luguber.info/inful/portalwatch/internal/logfields"
)

// Deduplicator enforces at-most-once notification per notable state value by
// recording what was last announced under a persisted marker. The marker
// survives restarts, so an Approved announced yesterday stays announced.
type Deduplicator struct {
	cache *cache.Cache
}

// NewDeduplicator creates a Deduplicator over the given cache.
func NewDeduplicator(c *cache.Cache) *Deduplicator {
	return &Deduplicator{cache: c}
}

// RecordAndShouldNotify reports whether value is notable and new under the
// marker key, recording it when it is. A value equal to the recorded one has
// already been announced and must not be announced again; a non-notable value
// is never announced and never recorded. Marker write failures fail open: the
// notification is emitted, at worst twice, rather than swallowed.
func (d *Deduplicator) RecordAndShouldNotify(ctx context.Context, markerKey, value string, notable bool) bool {
	if !notable {
		return false
	}
	if recorded, ok := d.cache.Marker(ctx, markerKey); ok && recorded == value {
		return false
	}
	if err := d.cache.SetMarker(ctx, markerKey, value); err != nil {
		slog.Warn("Notification marker write failed",
			logfields.CacheKey(markerKey), logfields.Error(err))
	}
	return true
}

// Seen reports whether any value is recorded under the marker key.
func (d *Deduplicator) Seen(ctx context.Context, markerKey string) bool {
	_, ok := d.cache.Marker(ctx, markerKey)
	return ok
}

// Clear forgets the marker, re-arming the notification. Used when the watched
// lifecycle is superseded, for example a new request after a rejection or a
// company turning Active again.
func (d *Deduplicator) Clear(ctx context.Context, markerKey string) {
	if err := d.cache.ClearMarker(ctx, markerKey); err != nil {
		slog.Warn("Notification marker clear failed",
			logfields.CacheKey(markerKey), logfields.Error(err))
	}
}
