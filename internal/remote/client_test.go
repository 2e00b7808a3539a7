package remote

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/portalwatch/internal/entity"
	"git.home.luguber.info/inful/portalwatch/internal/foundation"
	"git.home.luguber.info/inful/portalwatch/internal/retry"
)

func fastPolicy(maxRetries int) retry.Policy {
	return retry.NewPolicy(retry.BackoffFixed, time.Millisecond, 5*time.Millisecond, maxRetries)
}

func TestFetchSessionReturnsRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/session", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Correlation-Id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"authenticated":true,"userId":"u1","accountState":"Active"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok", WithRetryPolicy(fastPolicy(0)))
	raw, err := c.FetchSession(t.Context())
	require.NoError(t, err)

	var session entity.Session
	require.NoError(t, json.Unmarshal(raw, &session))
	assert.True(t, session.Authenticated)
	assert.Equal(t, "u1", session.UserID)
}

func TestFetchDispatchesByKind(t *testing.T) {
	var gotPath atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok", WithRetryPolicy(fastPolicy(0)))

	tests := []struct {
		kind entity.Kind
		path string
	}{
		{entity.KindSession, "/v1/session"},
		{entity.KindCompany, "/v1/companies/own"},
		{entity.KindRequest, "/v1/company-requests/latest"},
	}
	for _, tc := range tests {
		_, err := c.Fetch(t.Context(), tc.kind)
		require.NoError(t, err)
		assert.Equal(t, tc.path, gotPath.Load())
	}

	_, err := c.Fetch(t.Context(), entity.Kind("bogus"))
	assert.True(t, foundation.IsCategory(err, foundation.CategoryInternal))
}

func TestMissingCompanyIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"code":"no_company","message":"no company registered"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok", WithRetryPolicy(fastPolicy(0)))
	_, err := c.FetchOwnCompany(t.Context())
	require.Error(t, err)
	assert.True(t, foundation.IsCategory(err, foundation.CategoryNotFound))
}

func TestUnauthorizedIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"session expired"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok", WithRetryPolicy(fastPolicy(0)))
	_, err := c.FetchSession(t.Context())
	require.Error(t, err)
	assert.True(t, foundation.IsCategory(err, foundation.CategoryAuth))

	var classified *foundation.ClassifiedError
	require.True(t, foundation.AsClassified(err, &classified))
	assert.False(t, classified.IsRetryable())
	assert.Contains(t, classified.Message, "session expired")
}

func TestServerErrorRetriedThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok", WithRetryPolicy(fastPolicy(3)))
	_, err := c.FetchSession(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestServerErrorExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok", WithRetryPolicy(fastPolicy(2)))
	_, err := c.FetchSession(t.Context())
	require.Error(t, err)
	assert.True(t, foundation.IsCategory(err, foundation.CategoryTransport))
	assert.Equal(t, int32(3), calls.Load(), "initial attempt plus two retries")
}

func TestConnectionFailureIsTransport(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", "tok", WithRetryPolicy(fastPolicy(0)))
	_, err := c.FetchSession(t.Context())
	require.Error(t, err)
	assert.True(t, foundation.IsCategory(err, foundation.CategoryTransport))
}

func TestRejectRequestSendsReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/admin/company-requests/req-9/reject", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "incomplete paperwork", body["reason"])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok", WithRetryPolicy(fastPolicy(0)))
	require.NoError(t, c.RejectRequest(t.Context(), "req-9", "incomplete paperwork"))
}

func TestSetCompanyStateSendsState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/admin/companies/co-1/state", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Inactive", body["state"])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok", WithRetryPolicy(fastPolicy(0)))
	require.NoError(t, c.SetCompanyState(t.Context(), "co-1", entity.CompanyInactive))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 2*time.Second, parseRetryAfter("2"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("garbage"))
	assert.Zero(t, parseRetryAfter("-1"))
}
