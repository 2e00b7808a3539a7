package fetch

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/portalwatch/internal/cache"
	"git.home.luguber.info/inful/portalwatch/internal/entity"
	"git.home.luguber.info/inful/portalwatch/internal/foundation"
	"git.home.luguber.info/inful/portalwatch/internal/schema"
)

const (
	sessionActive    = `{"authenticated":true,"userId":"u1","accountState":"Active"}`
	sessionSuspended = `{"authenticated":true,"userId":"u1","accountState":"Suspended"}`
)

// fakeClient serves canned payloads per kind. A gate channel, when set, blocks
// Fetch until released so tests can interleave rounds deterministically.
type fakeClient struct {
	mu       sync.Mutex
	payloads map[entity.Kind]json.RawMessage
	errs     map[entity.Kind]error
	calls    atomic.Int32
	gate     chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		payloads: make(map[entity.Kind]json.RawMessage),
		errs:     make(map[entity.Kind]error),
	}
}

func (f *fakeClient) set(kind entity.Kind, payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[kind] = json.RawMessage(payload)
}

func (f *fakeClient) fail(kind entity.Kind, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[kind] = err
}

func (f *fakeClient) Fetch(ctx context.Context, kind entity.Kind) (json.RawMessage, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[kind]; err != nil {
		return nil, err
	}
	return f.payloads[kind], nil
}

func (f *fakeClient) FetchSession(ctx context.Context) (json.RawMessage, error) {
	return f.Fetch(ctx, entity.KindSession)
}

func (f *fakeClient) FetchOwnCompany(ctx context.Context) (json.RawMessage, error) {
	return f.Fetch(ctx, entity.KindCompany)
}

func (f *fakeClient) FetchLatestRequest(ctx context.Context) (json.RawMessage, error) {
	return f.Fetch(ctx, entity.KindRequest)
}

func (f *fakeClient) ApproveRequest(context.Context, string) error { return nil }

func (f *fakeClient) RejectRequest(context.Context, string, string) error { return nil }

func (f *fakeClient) SetCompanyState(context.Context, string, entity.CompanyState) error {
	return nil
}

func (f *fakeClient) SignOut(context.Context) error { return nil }

func newTestFetcher(t *testing.T, client *fakeClient) (*Fetcher, *cache.Cache) {
	t.Helper()
	registry, err := schema.NewRegistry()
	require.NoError(t, err)
	c := cache.New(cache.NewMemoryStore(), registry)
	return New(c, client, registry), c
}

func collect(t *testing.T, ch <-chan Result) []Result {
	t.Helper()
	var out []Result
	deadline := time.After(5 * time.Second)
	for {
		select {
		case res, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, res)
		case <-deadline:
			t.Fatal("fetch round did not complete")
		}
	}
}

func TestCachedThenAuthoritative(t *testing.T) {
	client := newFakeClient()
	client.set(entity.KindSession, sessionSuspended)
	f, c := newTestFetcher(t, client)
	require.NoError(t, c.Put(t.Context(), entity.KindSession, cache.SelfID, json.RawMessage(sessionActive)))

	results := collect(t, f.Get(t.Context(), entity.KindSession))
	require.Len(t, results, 2)

	first := results[0].Unwrap()
	assert.Equal(t, SourceCache, first.Source)
	assert.JSONEq(t, sessionActive, string(first.Payload))

	second := results[1].Unwrap()
	assert.Equal(t, SourceRemote, second.Source)
	assert.JSONEq(t, sessionSuspended, string(second.Payload))
	assert.Equal(t, first.Sequence, second.Sequence, "one round, one sequence")

	cached := c.Get(t.Context(), entity.KindSession, cache.SelfID)
	require.True(t, cached.IsSome(), "authoritative payload written back")
	assert.JSONEq(t, sessionSuspended, string(cached.Unwrap().Payload))
}

func TestEmptyCacheDeliversOnlyAuthoritative(t *testing.T) {
	client := newFakeClient()
	client.set(entity.KindSession, sessionActive)
	f, _ := newTestFetcher(t, client)

	results := collect(t, f.Get(t.Context(), entity.KindSession))
	require.Len(t, results, 1)
	assert.Equal(t, SourceRemote, results[0].Unwrap().Source)
}

func TestTransportFailureStillServesCachedCopy(t *testing.T) {
	client := newFakeClient()
	client.fail(entity.KindSession, foundation.TransportError("backend down").Build())
	f, c := newTestFetcher(t, client)
	require.NoError(t, c.Put(t.Context(), entity.KindSession, cache.SelfID, json.RawMessage(sessionActive)))

	results := collect(t, f.Get(t.Context(), entity.KindSession))
	require.Len(t, results, 2)
	assert.Equal(t, SourceCache, results[0].Unwrap().Source)
	require.True(t, results[1].IsErr())
	assert.True(t, foundation.IsCategory(results[1].UnwrapErr(), foundation.CategoryTransport))

	assert.True(t, c.Get(t.Context(), entity.KindSession, cache.SelfID).IsSome(),
		"transport failure must not evict the cached copy")
}

func TestInvalidAuthoritativePayloadIsDiscarded(t *testing.T) {
	client := newFakeClient()
	client.set(entity.KindSession, `{"authenticated":"yes"}`)
	f, c := newTestFetcher(t, client)
	require.NoError(t, c.Put(t.Context(), entity.KindSession, cache.SelfID, json.RawMessage(sessionActive)))

	results := collect(t, f.Get(t.Context(), entity.KindSession))
	require.Len(t, results, 2)
	require.True(t, results[1].IsErr())
	assert.True(t, foundation.IsCategory(results[1].UnwrapErr(), foundation.CategoryValidation))

	cached := c.Get(t.Context(), entity.KindSession, cache.SelfID)
	require.True(t, cached.IsSome(), "cached entry stays untouched when the fresh payload is invalid")
	assert.JSONEq(t, sessionActive, string(cached.Unwrap().Payload))
}

func TestNotFoundEvictsCache(t *testing.T) {
	client := newFakeClient()
	client.fail(entity.KindCompany, foundation.NotFoundError("company").Build())
	f, c := newTestFetcher(t, client)
	companyJSON := `{"id":"co-1","ownerId":"u1","state":"Active"}`
	require.NoError(t, c.Put(t.Context(), entity.KindCompany, cache.SelfID, json.RawMessage(companyJSON)))

	results := collect(t, f.Get(t.Context(), entity.KindCompany))
	require.NotEmpty(t, results)
	last := results[len(results)-1]
	require.True(t, last.IsErr())
	assert.True(t, foundation.IsCategory(last.UnwrapErr(), foundation.CategoryNotFound))

	assert.True(t, c.Get(t.Context(), entity.KindCompany, cache.SelfID).IsNone())
}

func TestInvalidatedRoundIsDiscarded(t *testing.T) {
	client := newFakeClient()
	client.set(entity.KindSession, sessionActive)
	client.gate = make(chan struct{})
	f, c := newTestFetcher(t, client)

	ch := f.Get(t.Context(), entity.KindSession)
	f.InvalidateAll()
	close(client.gate)

	results := collect(t, ch)
	assert.Empty(t, results, "invalidated round must deliver nothing")

	assert.True(t, c.Get(t.Context(), entity.KindSession, cache.SelfID).IsNone(),
		"invalidated round must not write back")
}

func TestConcurrentRoundsCoalesceBackendCalls(t *testing.T) {
	client := newFakeClient()
	client.set(entity.KindSession, sessionActive)
	client.gate = make(chan struct{})
	f, _ := newTestFetcher(t, client)

	ch1 := f.Get(t.Context(), entity.KindSession)
	ch2 := f.Get(t.Context(), entity.KindSession)
	time.Sleep(20 * time.Millisecond)
	close(client.gate)

	r1 := collect(t, ch1)
	r2 := collect(t, ch2)
	require.NotEmpty(t, r1, "every coalesced caller receives the resolved value")
	require.NotEmpty(t, r2, "every coalesced caller receives the resolved value")
	assert.JSONEq(t, sessionActive, string(r1[len(r1)-1].Unwrap().Payload))
	assert.JSONEq(t, sessionActive, string(r2[len(r2)-1].Unwrap().Payload))
	assert.Equal(t, int32(1), client.calls.Load(), "concurrent rounds share one backend call")
}

func TestCommitRaceLoserStillDelivers(t *testing.T) {
	client := newFakeClient()
	client.set(entity.KindSession, sessionActive)
	f, c := newTestFetcher(t, client)

	// A sibling round already applied a newer response.
	require.True(t, f.commit(entity.KindSession, 5))

	results := collect(t, f.Get(t.Context(), entity.KindSession))
	require.NotEmpty(t, results, "losing the write-back race must not starve the caller")
	last := results[len(results)-1]
	require.True(t, last.IsOk())
	assert.Equal(t, SourceRemote, last.Unwrap().Source)
	assert.JSONEq(t, sessionActive, string(last.Unwrap().Payload))

	assert.True(t, c.Get(t.Context(), entity.KindSession, cache.SelfID).IsNone(),
		"a race-losing round must not write back")
}

func TestGetAuthoritative(t *testing.T) {
	client := newFakeClient()
	client.set(entity.KindSession, sessionSuspended)
	f, c := newTestFetcher(t, client)
	require.NoError(t, c.Put(t.Context(), entity.KindSession, cache.SelfID, json.RawMessage(sessionActive)))

	raw, err := f.GetAuthoritative(t.Context(), entity.KindSession)
	require.NoError(t, err)
	assert.JSONEq(t, sessionSuspended, string(raw))
}
