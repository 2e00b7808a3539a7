package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyEntityKind = "entity_kind"
	KeyCacheKey   = "cache_key"
	KeySequence   = "sequence"
	KeyWatcherID  = "watcher_id"
	KeyUserID     = "user_id"
	KeyState      = "state"
	KeyPrevState  = "prev_state"
	KeyRoute      = "route"
	KeyDecision   = "decision"
	KeyDurationMS = "duration_ms"
	KeyMethod     = "method"
	KeyPath       = "path"
	KeyStatus     = "status"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func EntityKind(k string) slog.Attr  { return slog.String(KeyEntityKind, k) }
func CacheKey(k string) slog.Attr    { return slog.String(KeyCacheKey, k) }
func Sequence(n uint64) slog.Attr    { return slog.Uint64(KeySequence, n) }
func WatcherID(id string) slog.Attr  { return slog.String(KeyWatcherID, id) }
func UserID(id string) slog.Attr     { return slog.String(KeyUserID, id) }
func State(s string) slog.Attr       { return slog.String(KeyState, s) }
func PrevState(s string) slog.Attr   { return slog.String(KeyPrevState, s) }
func Route(r string) slog.Attr       { return slog.String(KeyRoute, r) }
func Decision(d string) slog.Attr    { return slog.String(KeyDecision, d) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Method(m string) slog.Attr      { return slog.String(KeyMethod, m) }
func Path(p string) slog.Attr        { return slog.String(KeyPath, p) }
func Status(code int) slog.Attr      { return slog.Int(KeyStatus, code) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
