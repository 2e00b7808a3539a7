package reconcile

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/portalwatch/internal/cache"
	"git.home.luguber.info/inful/portalwatch/internal/entity"
	"git.home.luguber.info/inful/portalwatch/internal/logfields"
)

// ResetDerivedState wipes everything the previous session derived from its
// observations: cached entities, notification markers, and fast-path flags.
// Run between sessions so one user's observations never leak into the next
// user's view.
func ResetDerivedState(ctx context.Context, c *cache.Cache) {
	for _, kind := range []entity.Kind{entity.KindSession, entity.KindRequest, entity.KindCompany} {
		c.Evict(ctx, kind, cache.SelfID)
	}
	for _, marker := range []string{cache.MarkerLatestRequestState, cache.MarkerCompanyDeactivatedNotice} {
		if err := c.ClearMarker(ctx, marker); err != nil {
			slog.Warn("Marker clear failed during session reset",
				logfields.CacheKey(marker), logfields.Error(err))
		}
	}
	if err := c.SetFlag(ctx, cache.FlagHasCompany, false); err != nil {
		slog.Warn("Flag reset failed during session reset", logfields.Error(err))
	}
	slog.Info("Derived state reset")
}
