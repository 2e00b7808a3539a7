// Package metrics defines the observability hooks for the agent. The agent
// runs unattended on user machines, so every reconciliation outcome is
// countable without log scraping.
package metrics

import "time"

// FetchOutcome enumerates how a single entity fetch resolved.
type FetchOutcome string

const (
	FetchCacheHit        FetchOutcome = "cache_hit"
	FetchValidated       FetchOutcome = "validated"
	FetchValidationError FetchOutcome = "validation_error"
	FetchTransportError  FetchOutcome = "transport_error"
	FetchAuthError       FetchOutcome = "auth_error"
	FetchNotFound        FetchOutcome = "not_found"
	FetchStaleDiscarded  FetchOutcome = "stale_discarded"
)

// GateDecision enumerates navigation gate verdicts.
type GateDecision string

const (
	GateAllowed    GateDecision = "allow"
	GateLoading    GateDecision = "loading"
	GateRedirected GateDecision = "redirect"
)

// Recorder defines observability hooks for reconciliation, fetching, and
// gating. Implementations may forward to Prometheus, OpenTelemetry, etc. All
// methods must be safe on the NoopRecorder so injection stays optional.
type Recorder interface {
	ObserveTickDuration(kind string, d time.Duration)
	IncFetchOutcome(kind string, outcome FetchOutcome)
	IncNotificationEmitted(kind string)
	IncNotificationDeduped(kind string)
	IncGateDecision(decision GateDecision)
	SetWatcherActive(active bool)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveTickDuration(string, time.Duration) {}
func (NoopRecorder) IncFetchOutcome(string, FetchOutcome)      {}
func (NoopRecorder) IncNotificationEmitted(string)             {}
func (NoopRecorder) IncNotificationDeduped(string)             {}
func (NoopRecorder) IncGateDecision(GateDecision)              {}
func (NoopRecorder) SetWatcherActive(bool)                     {}
