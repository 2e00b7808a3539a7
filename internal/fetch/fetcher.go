// Package fetch implements stale-while-revalidate reads over the entity
// cache. A read delivers the cached payload first when one is present and
// fresh, then always consults the backend and delivers the authoritative
// payload, so consumers render instantly and converge shortly after.
package fetch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"git.home.luguber.info/inful/portalwatch/internal/cache"
	"git.home.luguber.info/inful/portalwatch/internal/entity"
	"git.home.luguber.info/inful/portalwatch/internal/foundation"
	"git.home.luguber.info/inful/portalwatch/internal/logfields"
	"git.home.luguber.info/inful/portalwatch/internal/metrics"
	"git.home.luguber.info/inful/portalwatch/internal/remote"
	"git.home.luguber.info/inful/portalwatch/internal/schema"
)

// Source tells a consumer whether a delivery came from the local cache or the
// backend. Cache deliveries may be superseded moments later by a remote one.
type Source string

const (
	SourceCache  Source = "cache"
	SourceRemote Source = "remote"
)

// Delivery is one payload handed to a consumer. Sequence is the fetch round
// that produced it; consumers holding state keyed by entity should ignore
// deliveries older than the last one they applied.
type Delivery struct {
	Kind     entity.Kind
	Source   Source
	Payload  json.RawMessage
	Sequence uint64
}

// Result is a single delivery or a classified failure.
type Result = foundation.Result[Delivery, error]

// DefaultTTL bounds how long a cached payload is considered fresh enough to
// deliver ahead of the authoritative response.
const DefaultTTL = 5 * time.Minute

// Fetcher coordinates cache reads, backend fetches, and write-back. Reads for
// the same entity kind are coalesced into a single backend request, and
// responses that lose a race against a newer round are discarded instead of
// clobbering newer state.
type Fetcher struct {
	cache    *cache.Cache
	client   remote.Client
	registry *schema.Registry
	recorder metrics.Recorder
	ttl      time.Duration

	group singleflight.Group

	mu      sync.Mutex
	nextSeq map[entity.Kind]uint64
	applied map[entity.Kind]uint64
	barrier map[entity.Kind]uint64
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithTTL overrides the cache freshness bound.
func WithTTL(ttl time.Duration) Option {
	return func(f *Fetcher) {
		if ttl > 0 {
			f.ttl = ttl
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(f *Fetcher) {
		if r != nil {
			f.recorder = r
		}
	}
}

// New creates a Fetcher.
func New(c *cache.Cache, client remote.Client, registry *schema.Registry, opts ...Option) *Fetcher {
	f := &Fetcher{
		cache:    c,
		client:   client,
		registry: registry,
		recorder: metrics.NoopRecorder{},
		ttl:      DefaultTTL,
		nextSeq:  make(map[entity.Kind]uint64),
		applied:  make(map[entity.Kind]uint64),
		barrier:  make(map[entity.Kind]uint64),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get starts a fetch round for the entity kind and returns a channel that
// yields up to two results (cached, then authoritative) and is then closed.
// The channel is buffered; callers may consume it at their own pace.
func (f *Fetcher) Get(ctx context.Context, kind entity.Kind) <-chan Result {
	out := make(chan Result, 2)
	seq := f.issueSequence(kind)

	go func() {
		defer close(out)

		if cached := f.cache.Get(ctx, kind, cache.SelfID); cached.IsSome() && f.cache.IsFresh(cached.Unwrap(), f.ttl) {
			f.recorder.IncFetchOutcome(string(kind), metrics.FetchCacheHit)
			out <- foundation.Ok[Delivery, error](Delivery{
				Kind: kind, Source: SourceCache, Payload: cached.Unwrap().Payload, Sequence: seq,
			})
		}

		raw, err := f.fetchCoalesced(ctx, kind)
		if err != nil {
			if foundation.IsCategory(err, foundation.CategoryNotFound) {
				// The backend says the entity no longer exists; a cached copy
				// must not outlive it.
				f.cache.Evict(ctx, kind, cache.SelfID)
			}
			f.recordFailure(kind, err)
			out <- foundation.Err[Delivery, error](err)
			return
		}

		if err := f.registry.Validate(kind, raw); err != nil {
			// Malformed authoritative payload: discard it. Any cached entry
			// stays untouched; evict-on-read already guards cached corruption.
			f.recorder.IncFetchOutcome(string(kind), metrics.FetchValidationError)
			out <- foundation.Err[Delivery, error](err)
			return
		}

		if f.invalidated(kind, seq) {
			f.recorder.IncFetchOutcome(string(kind), metrics.FetchStaleDiscarded)
			slog.Debug("Discarded invalidated fetch response",
				logfields.EntityKind(string(kind)), logfields.Sequence(seq))
			return
		}

		if f.commit(kind, seq) {
			if err := f.cache.Put(ctx, kind, cache.SelfID, raw); err != nil {
				slog.Warn("Cache write-back failed",
					logfields.EntityKind(string(kind)), logfields.Error(err))
			}
			f.recorder.IncFetchOutcome(string(kind), metrics.FetchValidated)
		} else {
			// A sibling round already applied this response. Losing the
			// write-back race never starves the caller; only state
			// application is skipped.
			f.recorder.IncFetchOutcome(string(kind), metrics.FetchStaleDiscarded)
			slog.Debug("Fetch round lost the commit race",
				logfields.EntityKind(string(kind)), logfields.Sequence(seq))
		}
		out <- foundation.Ok[Delivery, error](Delivery{
			Kind: kind, Source: SourceRemote, Payload: raw, Sequence: seq,
		})
	}()

	return out
}

// GetAuthoritative waits out a full round and returns only the backend
// payload, ignoring the cached delivery.
func (f *Fetcher) GetAuthoritative(ctx context.Context, kind entity.Kind) (json.RawMessage, error) {
	var last Result
	delivered := false
	for res := range f.Get(ctx, kind) {
		last = res
		delivered = true
	}
	if !delivered {
		// Round invalidated mid-flight; the session it served is gone.
		return nil, foundation.InternalError("fetch round superseded").
			WithOperation("fetch.authoritative").WithContext("kind", string(kind)).Build()
	}
	d, err := last.ToTuple()
	if err != nil {
		return nil, err
	}
	if d.Source != SourceRemote {
		return nil, foundation.InternalError("no authoritative delivery").
			WithOperation("fetch.authoritative").WithContext("kind", string(kind)).Build()
	}
	return d.Payload, nil
}

// InvalidateAll abandons every in-flight round. Responses issued before the
// call deliver nothing, commit nothing, and write nothing back. Used on
// session swap and teardown.
func (f *Fetcher) InvalidateAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for kind, next := range f.nextSeq {
		f.applied[kind] = next
		f.barrier[kind] = next
	}
}

func (f *Fetcher) fetchCoalesced(ctx context.Context, kind entity.Kind) (json.RawMessage, error) {
	v, err, _ := f.group.Do(string(kind), func() (any, error) {
		return f.client.Fetch(ctx, kind)
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

func (f *Fetcher) issueSequence(kind entity.Kind) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSeq[kind]++
	return f.nextSeq[kind]
}

// invalidated reports whether the round was abandoned by InvalidateAll.
func (f *Fetcher) invalidated(kind entity.Kind, seq uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return seq <= f.barrier[kind]
}

// commit records a round as applied. It fails when a newer round already
// committed; the response then still reaches its caller but must not touch
// shared state.
func (f *Fetcher) commit(kind entity.Kind, seq uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if seq <= f.applied[kind] {
		return false
	}
	f.applied[kind] = seq
	return true
}

func (f *Fetcher) recordFailure(kind entity.Kind, err error) {
	switch {
	case foundation.IsCategory(err, foundation.CategoryNotFound):
		f.recorder.IncFetchOutcome(string(kind), metrics.FetchNotFound)
	case foundation.IsCategory(err, foundation.CategoryAuth):
		f.recorder.IncFetchOutcome(string(kind), metrics.FetchAuthError)
	default:
		f.recorder.IncFetchOutcome(string(kind), metrics.FetchTransportError)
	}
}
