// Package agent wires the portalwatch pieces into a long-running process:
// persistent cache, remote client, per-session reconciler, navigation gate,
// local HTTP API, and config hot-reload.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/portalwatch/internal/cache"
	"git.home.luguber.info/inful/portalwatch/internal/config"
	"git.home.luguber.info/inful/portalwatch/internal/fetch"
	"git.home.luguber.info/inful/portalwatch/internal/logfields"
	"git.home.luguber.info/inful/portalwatch/internal/metrics"
	"git.home.luguber.info/inful/portalwatch/internal/navgate"
	"git.home.luguber.info/inful/portalwatch/internal/notify"
	"git.home.luguber.info/inful/portalwatch/internal/reconcile"
	"git.home.luguber.info/inful/portalwatch/internal/remote"
	"git.home.luguber.info/inful/portalwatch/internal/schema"
	"git.home.luguber.info/inful/portalwatch/internal/server"
)

// Agent owns the process-lifetime resources and supervises one session
// watcher at a time.
type Agent struct {
	store    cache.Store
	cache    *cache.Cache
	registry *schema.Registry
	client   remote.Client
	fetcher  *fetch.Fetcher
	bus      *notify.Bus
	mirror   notify.Mirror
	dedup    *notify.Deduplicator
	gate     *navgate.Gate
	recorder metrics.Recorder
	api      *server.Server

	mu  sync.Mutex
	cfg *config.Config
}

// New builds an Agent from configuration. Nothing runs until Run.
func New(cfg *config.Config) (*Agent, error) {
	registry, err := schema.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("schema registry: %w", err)
	}

	var store cache.Store
	if cfg.Cache.Path == "" {
		store = cache.NewMemoryStore()
	} else {
		store, err = cache.NewSQLiteStore(cfg.Cache.Path)
		if err != nil {
			return nil, fmt.Errorf("cache store: %w", err)
		}
	}
	entityCache := cache.New(store, registry)

	client := remote.NewHTTPClient(cfg.Remote.BaseURL, cfg.Remote.Token,
		remote.WithRetryPolicy(cfg.Remote.Retry.Policy()))

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	var promRecorder *metrics.PrometheusRecorder
	if cfg.Server.Metrics.Enabled {
		promRecorder = metrics.NewPrometheusRecorder(nil)
		recorder = promRecorder
	}

	fetcher := fetch.New(entityCache, client, registry,
		fetch.WithTTL(cfg.Cache.TTLDuration()),
		fetch.WithRecorder(recorder))

	bus := notify.NewBus()

	var mirror notify.Mirror = notify.NoopMirror{}
	if cfg.NATS.Enabled {
		mirror, err = notify.NewNATSMirror(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("nats mirror: %w", err)
		}
	}

	gate := navgate.New(navgate.Policy{
		LoginRoute:       cfg.Gate.LoginRoute,
		HomeRoute:        cfg.Gate.HomeRoute,
		DeactivatedRoute: cfg.Gate.DeactivatedRoute,
		GracePeriod:      cfg.Gate.GraceDuration(),
		PublicRoutes:     cfg.Gate.PublicRoutes,
		CompanyRoutes:    cfg.Gate.CompanyRoutes,
	}, navgate.WithRecorder(recorder))

	deps := server.Deps{
		Gate:    gate,
		Fetcher: fetcher,
		Bus:     bus,
	}
	if promRecorder != nil {
		deps.MetricsHandler = promRecorder.HTTPHandler()
		deps.MetricsPath = cfg.Server.Metrics.Path
	}

	return &Agent{
		store:    store,
		cache:    entityCache,
		registry: registry,
		client:   client,
		fetcher:  fetcher,
		bus:      bus,
		mirror:   mirror,
		dedup:    notify.NewDeduplicator(entityCache),
		gate:     gate,
		recorder: recorder,
		api:      server.New(cfg.Server.Addr, deps),
		cfg:      cfg,
	}, nil
}

// ReloadConfig applies the subset of configuration that is safe to change at
// runtime: poll interval, cache TTL, and gate grace period. The supervising
// loop picks the new values up when it builds the next watcher.
func (a *Agent) ReloadConfig(cfg *config.Config) error {
	a.mu.Lock()
	current := a.cfg
	if cfg.Remote.BaseURL != current.Remote.BaseURL || cfg.Server.Addr != current.Server.Addr {
		a.mu.Unlock()
		return fmt.Errorf("remote.base_url and server.addr changes require a restart")
	}
	a.cfg = cfg
	a.mu.Unlock()
	slog.Info("Configuration reloaded",
		slog.Duration("poll_interval", cfg.Poll.IntervalDuration()))
	return nil
}

func (a *Agent) pollInterval() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.Poll.IntervalDuration()
}

// Run serves until ctx is canceled.
func (a *Agent) Run(ctx context.Context) error {
	defer a.close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.api.Run(ctx)
	}()

	go a.supervise(ctx)

	select {
	case <-ctx.Done():
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// supervise runs one watcher per session. When a watcher reports its session
// ended, derived state is wiped and a fresh watcher starts after one poll
// interval, picking up whichever user signs in next.
func (a *Agent) supervise(ctx context.Context) {
	for ctx.Err() == nil {
		ended := make(chan reconcile.SessionEndReason, 1)
		watcher := reconcile.New(a.fetcher, a.cache, a.dedup, a.bus, a.gate,
			reconcile.WithInterval(a.pollInterval()),
			reconcile.WithMirror(a.mirror),
			reconcile.WithRecorder(a.recorder),
			reconcile.OnSessionEnd(func(reason reconcile.SessionEndReason) {
				select {
				case ended <- reason:
				default:
				}
			}))

		if err := watcher.Start(ctx); err != nil {
			slog.Error("Watcher start failed", logfields.Error(err))
			return
		}

		select {
		case <-ctx.Done():
			watcher.Stop()
			return
		case reason := <-ended:
			watcher.Stop()
			reconcile.ResetDerivedState(ctx, a.cache)
			a.api.ResetPending()
			// The gate stays Unauthenticated so a logged-out user is
			// redirected to login instead of watching a spinner until the
			// next session check; only the company view is forgotten.
			a.gate.ResetCompany()
			if reason == reconcile.ReasonAuthError || reason == reconcile.ReasonAccountInactive ||
				reason == reconcile.ReasonAccountSuspended {
				if err := a.client.SignOut(ctx); err != nil {
					slog.Debug("Server-side sign-out failed", logfields.Error(err))
				}
			}
			// Wait one interval before watching for the next session.
			select {
			case <-ctx.Done():
				return
			case <-time.After(a.pollInterval()):
			}
		}
	}
}

func (a *Agent) close() {
	a.bus.Close()
	if err := a.mirror.Close(); err != nil {
		slog.Warn("Mirror close failed", logfields.Error(err))
	}
	if err := a.store.Close(); err != nil {
		slog.Warn("Cache store close failed", logfields.Error(err))
	}
}
