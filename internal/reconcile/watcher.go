// Package reconcile drives the polling loop that keeps local entity state
// converged with the backend. One Watcher exists per authenticated session;
// logout or session swap tears it down and discards everything it derived.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"git.home.luguber.info/inful/portalwatch/internal/cache"
	"git.home.luguber.info/inful/portalwatch/internal/entity"
	"git.home.luguber.info/inful/portalwatch/internal/fetch"
	"git.home.luguber.info/inful/portalwatch/internal/foundation"
	"git.home.luguber.info/inful/portalwatch/internal/logfields"
	"git.home.luguber.info/inful/portalwatch/internal/metrics"
	"git.home.luguber.info/inful/portalwatch/internal/navgate"
	"git.home.luguber.info/inful/portalwatch/internal/notify"
)

// DefaultInterval is the poll cadence while a session is authenticated.
const DefaultInterval = 45 * time.Second

// SessionEndReason explains why the watcher ended the session it served.
type SessionEndReason string

const (
	ReasonAccountInactive  SessionEndReason = "account_inactive"
	ReasonAccountSuspended SessionEndReason = "account_suspended"
	ReasonUnauthenticated  SessionEndReason = "unauthenticated"
	ReasonAuthError        SessionEndReason = "auth_error"
)

// Watcher reconciles the watched entities on a fixed interval. It owns all
// derived in-memory state for one session; none of it survives Stop.
type Watcher struct {
	id       string
	fetcher  *fetch.Fetcher
	cache    *cache.Cache
	dedup    *notify.Deduplicator
	bus      *notify.Bus
	mirror   notify.Mirror
	gate     *navgate.Gate
	recorder metrics.Recorder
	interval time.Duration
	now      func() time.Time

	// onSessionEnd is invoked at most once, from the tick goroutine, when the
	// session must be torn down. It must not call Stop synchronously.
	onSessionEnd func(reason SessionEndReason)

	scheduler gocron.Scheduler
	cancel    context.CancelFunc

	mu         sync.Mutex
	started    bool
	ended      bool
	prev       map[entity.Kind]string
	hasCompany bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithInterval overrides the poll interval.
func WithInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithMirror attaches an out-of-process notification mirror.
func WithMirror(m notify.Mirror) Option {
	return func(w *Watcher) {
		if m != nil {
			w.mirror = m
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(w *Watcher) {
		if r != nil {
			w.recorder = r
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) { w.now = now }
}

// OnSessionEnd registers the teardown callback.
func OnSessionEnd(fn func(reason SessionEndReason)) Option {
	return func(w *Watcher) { w.onSessionEnd = fn }
}

// New creates a Watcher. It does not poll until Start.
func New(f *fetch.Fetcher, c *cache.Cache, d *notify.Deduplicator, bus *notify.Bus, gate *navgate.Gate, opts ...Option) *Watcher {
	w := &Watcher{
		id:       uuid.NewString(),
		fetcher:  f,
		cache:    c,
		dedup:    d,
		bus:      bus,
		mirror:   notify.NoopMirror{},
		gate:     gate,
		recorder: metrics.NoopRecorder{},
		interval: DefaultInterval,
		now:      time.Now,
		prev:     make(map[entity.Kind]string),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID returns the watcher's instance ID, used to correlate log lines.
func (w *Watcher) ID() string { return w.id }

// Start schedules the poll loop and runs the first tick immediately.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return foundation.InternalError("watcher already started").
			WithContext("watcher_id", w.id).Build()
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	w.scheduler = scheduler

	_, err = scheduler.NewJob(
		gocron.DurationJob(w.interval),
		gocron.NewTask(w.Tick, ctx),
		gocron.WithName("reconcile-tick"),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to schedule reconcile tick: %w", err)
	}

	scheduler.Start()
	w.started = true
	w.recorder.SetWatcherActive(true)
	slog.Info("Watcher started",
		logfields.WatcherID(w.id),
		slog.Duration("interval", w.interval))
	return nil
}

// Stop tears the watcher down: the interval job is removed, in-flight fetch
// rounds are invalidated so late responses cannot mutate shared state, and
// all derived in-memory state is dropped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	cancel := w.cancel
	scheduler := w.scheduler
	w.prev = make(map[entity.Kind]string)
	w.hasCompany = false
	w.mu.Unlock()

	cancel()
	w.fetcher.InvalidateAll()
	if err := scheduler.Shutdown(); err != nil {
		slog.Warn("Scheduler shutdown failed", logfields.WatcherID(w.id), logfields.Error(err))
	}
	w.recorder.SetWatcherActive(false)
	slog.Info("Watcher stopped", logfields.WatcherID(w.id))
}

// Tick runs one reconciliation pass: session first, then company, then the
// registration request while no company exists. A transport failure on the
// session fetch does not block the other entities once a session has been
// observed; only a definitive logged-out answer halts the tick.
func (w *Watcher) Tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if !w.reconcileSession(ctx) {
		return
	}
	w.reconcileCompany(ctx)
	if !w.companyKnown() {
		w.reconcileRequest(ctx)
	}
}

// reconcileSession returns false when the tick must not proceed to the other
// entities: teardown, or a fetch failure before any session was observed.
func (w *Watcher) reconcileSession(ctx context.Context) bool {
	started := w.now()
	defer func() { w.recorder.ObserveTickDuration(string(entity.KindSession), w.now().Sub(started)) }()

	// Checking is shown only before the first definitive answer; afterwards
	// the gate keeps serving the last known state while a refresh runs.
	if w.gate.AuthState() == navgate.AuthUnknown {
		w.gate.SetAuthState(navgate.AuthChecking)
	}

	raw, err := w.fetcher.GetAuthoritative(ctx, entity.KindSession)
	if err != nil {
		if foundation.IsCategory(err, foundation.CategoryAuth) {
			w.endSession(ReasonAuthError)
			return false
		}
		// Transport failures keep the previous auth view. With a session
		// already observed, the other entities still reconcile this tick.
		slog.Debug("Session fetch failed; keeping previous state",
			logfields.WatcherID(w.id), logfields.Error(err))
		return w.restoreAuthView()
	}

	var session entity.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		slog.Warn("Session payload undecodable", logfields.WatcherID(w.id), logfields.Error(err))
		return w.restoreAuthView()
	}

	if !session.Authenticated {
		w.endSession(ReasonUnauthenticated)
		return false
	}

	effective := session.EffectiveAccountState(w.now())
	switch effective {
	case entity.AccountInactive:
		w.endSession(ReasonAccountInactive)
		return false
	case entity.AccountSuspended:
		w.endSession(ReasonAccountSuspended)
		return false
	}

	w.gate.SetAuthState(navgate.AuthAuthenticated)
	w.observe(entity.KindSession, string(effective))
	return true
}

func (w *Watcher) reconcileCompany(ctx context.Context) {
	started := w.now()
	defer func() { w.recorder.ObserveTickDuration(string(entity.KindCompany), w.now().Sub(started)) }()

	raw, err := w.fetcher.GetAuthoritative(ctx, entity.KindCompany)
	if err != nil {
		if foundation.IsCategory(err, foundation.CategoryNotFound) {
			w.setCompany(false, "")
			if err := w.cache.SetFlag(ctx, cache.FlagHasCompany, false); err != nil {
				slog.Warn("Flag write failed", logfields.WatcherID(w.id), logfields.Error(err))
			}
			w.gate.SetCompany(false, "")
		}
		return
	}

	var company entity.Company
	if err := json.Unmarshal(raw, &company); err != nil {
		slog.Warn("Company payload undecodable", logfields.WatcherID(w.id), logfields.Error(err))
		return
	}

	state := entity.NormalizeCompanyState(string(company.State))
	firstObservation := !w.companyKnown()
	prevState := w.previous(entity.KindCompany)
	w.setCompany(true, state)
	if err := w.cache.SetFlag(ctx, cache.FlagHasCompany, true); err != nil {
		slog.Warn("Flag write failed", logfields.WatcherID(w.id), logfields.Error(err))
	}
	w.gate.SetCompany(true, state)

	if firstObservation {
		// A company supersedes the request lifecycle: request polling stops
		// and a stale request marker must never mask a future request.
		w.dedup.Clear(ctx, cache.MarkerLatestRequestState)
		w.forget(entity.KindRequest)
		slog.Info("Company observed; request polling stopped",
			logfields.WatcherID(w.id), logfields.State(string(state)))
	}

	event, changed := entity.Transition(entity.KindCompany, prevState, string(state))
	if !changed {
		return
	}

	switch state {
	case entity.CompanyInactive:
		if w.dedup.RecordAndShouldNotify(ctx, cache.MarkerCompanyDeactivatedNotice, "true", true) {
			if err := w.publish(ctx, notify.ForCompanyDeactivated()); err != nil {
				// The marker must not claim an announcement that never
				// went out.
				w.dedup.Clear(ctx, cache.MarkerCompanyDeactivatedNotice)
			}
		} else {
			w.recorder.IncNotificationDeduped(string(entity.KindCompany))
		}
	case entity.CompanyActive:
		// Reactivation re-arms the one-time deactivation notice.
		w.dedup.Clear(ctx, cache.MarkerCompanyDeactivatedNotice)
	}
	slog.Debug("Company state transition",
		logfields.WatcherID(w.id),
		logfields.PrevState(event.From),
		logfields.State(event.To))
}

func (w *Watcher) reconcileRequest(ctx context.Context) {
	started := w.now()
	defer func() { w.recorder.ObserveTickDuration(string(entity.KindRequest), w.now().Sub(started)) }()

	raw, err := w.fetcher.GetAuthoritative(ctx, entity.KindRequest)
	if err != nil {
		// No request yet is an ordinary condition for fresh accounts.
		return
	}

	var request entity.CompanyRequest
	if err := json.Unmarshal(raw, &request); err != nil {
		slog.Warn("Request payload undecodable", logfields.WatcherID(w.id), logfields.Error(err))
		return
	}

	state := entity.NormalizeRequestState(string(request.State))
	event, changed := entity.Transition(entity.KindRequest, w.previous(entity.KindRequest), string(state))
	w.observe(entity.KindRequest, string(state))
	if !changed {
		return
	}

	notification, notable := notify.ForRequestState(state, request.RejectionReason)
	if w.dedup.RecordAndShouldNotify(ctx, cache.MarkerLatestRequestState, string(state), notable) {
		if err := w.publish(ctx, notification); err != nil {
			w.dedup.Clear(ctx, cache.MarkerLatestRequestState)
		}
	} else if notable {
		w.recorder.IncNotificationDeduped(string(entity.KindRequest))
	}
	slog.Debug("Request state transition",
		logfields.WatcherID(w.id),
		logfields.PrevState(event.From),
		logfields.State(event.To))
}

// publish dispatches to the in-process bus and best-effort to the mirror.
// A bus failure means nothing was shown to the user; callers roll their
// dedup marker back so the announcement is retried.
func (w *Watcher) publish(ctx context.Context, n notify.Notification) error {
	if err := w.bus.Publish(ctx, n); err != nil {
		slog.Warn("Notification publish failed",
			logfields.WatcherID(w.id), logfields.Error(err))
		return err
	}
	if err := w.mirror.Publish(n); err != nil {
		slog.Warn("Notification mirror publish failed",
			logfields.WatcherID(w.id), logfields.Error(err))
	}
	w.recorder.IncNotificationEmitted(string(n.Kind))
	return nil
}

// endSession tears down the gate view and notifies the owner exactly once.
func (w *Watcher) endSession(reason SessionEndReason) {
	w.gate.SetAuthState(navgate.AuthUnauthenticated)

	w.mu.Lock()
	alreadyEnded := w.ended
	w.ended = true
	w.mu.Unlock()
	if alreadyEnded {
		return
	}

	slog.Info("Session ended",
		logfields.WatcherID(w.id),
		slog.String("reason", string(reason)))
	if w.onSessionEnd != nil {
		go w.onSessionEnd(reason)
	}
}

// restoreAuthView undoes the Checking marker after a failed session fetch,
// keeping whatever the gate knew before the tick. It reports whether a
// session is known, so the tick can go on to the other entities.
func (w *Watcher) restoreAuthView() bool {
	w.mu.Lock()
	known := w.prev[entity.KindSession] != ""
	w.mu.Unlock()
	if known {
		w.gate.SetAuthState(navgate.AuthAuthenticated)
		return true
	}
	if w.gate.AuthState() == navgate.AuthChecking {
		w.gate.SetAuthState(navgate.AuthUnknown)
	}
	return false
}

func (w *Watcher) previous(kind entity.Kind) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.prev[kind]
}

func (w *Watcher) observe(kind entity.Kind, state string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prev[kind] = state
}

func (w *Watcher) forget(kind entity.Kind) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.prev, kind)
}

func (w *Watcher) setCompany(has bool, state entity.CompanyState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hasCompany = has
	if has {
		w.prev[entity.KindCompany] = string(state)
	}
}

func (w *Watcher) companyKnown() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hasCompany
}
