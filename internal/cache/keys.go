package cache

import (
	"fmt"

	"git.home.luguber.info/inful/portalwatch/internal/entity"
)

// Persisted key layout. Every surface sharing the store addresses values
// through these keys; writes are single-key and last-write-wins.
const (
	// MarkerLatestRequestState records the last request state announced to the
	// user. Cleared once a company exists for the applicant.
	MarkerLatestRequestState = "marker:latestRequestState"
	// MarkerCompanyDeactivatedNotice holds "true" while the deactivation
	// notice for the current company state is already announced. Cleared on
	// reactivation.
	MarkerCompanyDeactivatedNotice = "marker:companyDeactivatedNotice"
	// FlagHasCompany is a fast-path projection of "a company exists", always
	// re-derived from the authoritative fetch, never authored independently.
	FlagHasCompany = "flag:hasCompany"
)

// SelfID addresses the singleton entity owned by the current user.
const SelfID = "self"

// EntityKey builds the cache key for an entity instance.
func EntityKey(kind entity.Kind, id string) string {
	return fmt.Sprintf("cache:%s:%s", kind, id)
}
