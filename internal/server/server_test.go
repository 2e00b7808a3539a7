package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/portalwatch/internal/cache"
	"git.home.luguber.info/inful/portalwatch/internal/entity"
	"git.home.luguber.info/inful/portalwatch/internal/fetch"
	"git.home.luguber.info/inful/portalwatch/internal/foundation"
	"git.home.luguber.info/inful/portalwatch/internal/navgate"
	"git.home.luguber.info/inful/portalwatch/internal/notify"
	"git.home.luguber.info/inful/portalwatch/internal/schema"
)

type stubClient struct {
	payloads map[entity.Kind]json.RawMessage
	errs     map[entity.Kind]error
}

func (s *stubClient) Fetch(_ context.Context, kind entity.Kind) (json.RawMessage, error) {
	if err := s.errs[kind]; err != nil {
		return nil, err
	}
	if p, ok := s.payloads[kind]; ok {
		return p, nil
	}
	return nil, foundation.NotFoundError(string(kind)).Build()
}

func (s *stubClient) FetchSession(ctx context.Context) (json.RawMessage, error) {
	return s.Fetch(ctx, entity.KindSession)
}

func (s *stubClient) FetchOwnCompany(ctx context.Context) (json.RawMessage, error) {
	return s.Fetch(ctx, entity.KindCompany)
}

func (s *stubClient) FetchLatestRequest(ctx context.Context) (json.RawMessage, error) {
	return s.Fetch(ctx, entity.KindRequest)
}

func (s *stubClient) ApproveRequest(context.Context, string) error        { return nil }
func (s *stubClient) RejectRequest(context.Context, string, string) error { return nil }
func (s *stubClient) SetCompanyState(context.Context, string, entity.CompanyState) error {
	return nil
}
func (s *stubClient) SignOut(context.Context) error { return nil }

type testEnv struct {
	srv    *Server
	api    *httptest.Server
	client *stubClient
	cache  *cache.Cache
	bus    *notify.Bus
	gate   *navgate.Gate
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	registry, err := schema.NewRegistry()
	require.NoError(t, err)

	client := &stubClient{
		payloads: make(map[entity.Kind]json.RawMessage),
		errs:     make(map[entity.Kind]error),
	}
	c := cache.New(cache.NewMemoryStore(), registry)
	bus := notify.NewBus()
	t.Cleanup(bus.Close)
	gate := navgate.New(navgate.DefaultPolicy())

	srv := New("127.0.0.1:0", Deps{
		Gate:    gate,
		Fetcher: fetch.New(c, client, registry),
		Bus:     bus,
	})
	api := httptest.NewServer(srv.Handler())
	t.Cleanup(api.Close)

	return &testEnv{srv: srv, api: api, client: client, cache: c, bus: bus, gate: gate}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	var body map[string]any
	status := getJSON(t, env.api.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestGateEvaluateEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.gate.SetAuthState(navgate.AuthAuthenticated)
	env.gate.SetCompany(true, entity.CompanyInactive)

	var d navgate.Decision
	status := getJSON(t, env.api.URL+"/v1/gate/evaluate?path=/mi-empresa", &d)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, navgate.DecisionRedirect, d.Kind)
	assert.Equal(t, "/empresa-desactivada", d.Target)
}

func TestGateEvaluateRequiresPath(t *testing.T) {
	env := newTestEnv(t)
	var body map[string]any
	status := getJSON(t, env.api.URL+"/v1/gate/evaluate", &body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", body["category"])
}

func TestEntityEndpointServesAuthoritative(t *testing.T) {
	env := newTestEnv(t)
	env.client.payloads[entity.KindSession] = json.RawMessage(`{"authenticated":true,"userId":"u1","accountState":"Active"}`)

	var body struct {
		Data      json.RawMessage `json:"data"`
		FromCache bool            `json:"fromCache"`
	}
	status := getJSON(t, env.api.URL+"/v1/entities/session", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.False(t, body.FromCache)
	assert.JSONEq(t, `{"authenticated":true,"userId":"u1","accountState":"Active"}`, string(body.Data))
}

func TestEntityEndpointFallsBackToStaleCache(t *testing.T) {
	env := newTestEnv(t)
	cached := `{"authenticated":true,"userId":"u1","accountState":"Active"}`
	require.NoError(t, env.cache.Put(t.Context(), entity.KindSession, cache.SelfID, json.RawMessage(cached)))
	env.client.errs[entity.KindSession] = foundation.TransportError("backend down").Build()

	var body struct {
		Data  json.RawMessage `json:"data"`
		Stale bool            `json:"stale"`
	}
	status := getJSON(t, env.api.URL+"/v1/entities/session", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, body.Stale)
	assert.JSONEq(t, cached, string(body.Data))
}

func TestEntityEndpointUnknownKind(t *testing.T) {
	env := newTestEnv(t)
	var body map[string]any
	status := getJSON(t, env.api.URL+"/v1/entities/bogus", &body)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestEntityEndpointMapsErrorCategories(t *testing.T) {
	env := newTestEnv(t)
	env.client.errs[entity.KindCompany] = foundation.NotFoundError("company").Build()

	var body map[string]any
	status := getJSON(t, env.api.URL+"/v1/entities/company", &body)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["category"])
}

func TestNotificationsDrain(t *testing.T) {
	env := newTestEnv(t)

	n := notify.NewNotification(entity.KindRequest, "Approved", notify.SeveritySuccess, "approved")
	require.NoError(t, env.bus.Publish(t.Context(), n))

	var body struct {
		Notifications []notify.Notification `json:"notifications"`
	}
	require.Eventually(t, func() bool {
		getJSON(t, env.api.URL+"/v1/notifications", &body)
		return len(body.Notifications) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, n.ID, body.Notifications[0].ID)

	// Drained notifications are gone.
	status := getJSON(t, env.api.URL+"/v1/notifications", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, body.Notifications)
}

func TestSessionSwapDiscardsPendingNotifications(t *testing.T) {
	env := newTestEnv(t)

	n := notify.NewNotification(entity.KindRequest, "Approved", notify.SeveritySuccess, "approved")
	require.NoError(t, env.bus.Publish(t.Context(), n))
	require.Eventually(t, func() bool {
		env.srv.mu.Lock()
		defer env.srv.mu.Unlock()
		return len(env.srv.pending) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The agent runs this between sessions; one user's undrained
	// notifications must never be shown to the next.
	env.srv.ResetPending()

	var body struct {
		Notifications []notify.Notification `json:"notifications"`
	}
	status := getJSON(t, env.api.URL+"/v1/notifications", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, body.Notifications)
}
