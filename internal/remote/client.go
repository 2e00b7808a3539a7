// Package remote implements the REST client against the portal backend. It is
// the only package that talks to the network; everything above it consumes
// raw JSON payloads and classified errors.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/portalwatch/internal/entity"
	"git.home.luguber.info/inful/portalwatch/internal/foundation"
	"git.home.luguber.info/inful/portalwatch/internal/retry"
)

// Client is the remote surface the fetcher and reconciler depend on. Fetch
// methods return the raw response body so the schema boundary check sees
// exactly what the server sent.
type Client interface {
	// FetchSession returns the current session document.
	FetchSession(ctx context.Context) (json.RawMessage, error)
	// FetchOwnCompany returns the caller's company, or a not_found error
	// when no company exists yet.
	FetchOwnCompany(ctx context.Context) (json.RawMessage, error)
	// FetchLatestRequest returns the caller's most recent registration
	// request, or a not_found error when none was ever submitted.
	FetchLatestRequest(ctx context.Context) (json.RawMessage, error)
	// Fetch dispatches to the endpoint for the given kind.
	Fetch(ctx context.Context, kind entity.Kind) (json.RawMessage, error)

	// ApproveRequest and RejectRequest are admin decisions on a pending
	// registration request.
	ApproveRequest(ctx context.Context, requestID string) error
	RejectRequest(ctx context.Context, requestID, reason string) error
	// SetCompanyState toggles a company between Active and Inactive.
	SetCompanyState(ctx context.Context, companyID string, state entity.CompanyState) error

	// SignOut destroys the server-side session.
	SignOut(ctx context.Context) error
}

// HTTPClient implements Client over net/http with bounded retries for
// transient failures. Retries happen only inside a single call; callers
// waiting for the next poll tick never stack retry loops on top.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	policy     retry.Policy
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithRetryPolicy overrides the default backoff policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *HTTPClient) { c.policy = p }
}

// WithHTTPClient substitutes the underlying http.Client, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *HTTPClient) { c.httpClient = h }
}

// NewHTTPClient builds a client against baseURL authenticating with token.
func NewHTTPClient(baseURL, token string, opts ...Option) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	c := &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		policy:     retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) FetchSession(ctx context.Context) (json.RawMessage, error) {
	return c.getRaw(ctx, "/v1/session", "session")
}

func (c *HTTPClient) FetchOwnCompany(ctx context.Context) (json.RawMessage, error) {
	return c.getRaw(ctx, "/v1/companies/own", "company")
}

func (c *HTTPClient) FetchLatestRequest(ctx context.Context) (json.RawMessage, error) {
	return c.getRaw(ctx, "/v1/company-requests/latest", "companyRequest")
}

func (c *HTTPClient) Fetch(ctx context.Context, kind entity.Kind) (json.RawMessage, error) {
	switch kind {
	case entity.KindSession:
		return c.FetchSession(ctx)
	case entity.KindCompany:
		return c.FetchOwnCompany(ctx)
	case entity.KindRequest:
		return c.FetchLatestRequest(ctx)
	default:
		return nil, foundation.InternalError(fmt.Sprintf("no endpoint for entity kind %q", kind)).
			WithOperation("remote.fetch").Build()
	}
}

func (c *HTTPClient) ApproveRequest(ctx context.Context, requestID string) error {
	path := fmt.Sprintf("/v1/admin/company-requests/%s/approve", url.PathEscape(requestID))
	return c.doJSON(ctx, http.MethodPost, path, nil, nil)
}

func (c *HTTPClient) RejectRequest(ctx context.Context, requestID, reason string) error {
	path := fmt.Sprintf("/v1/admin/company-requests/%s/reject", url.PathEscape(requestID))
	body := map[string]string{"reason": reason}
	return c.doJSON(ctx, http.MethodPost, path, body, nil)
}

func (c *HTTPClient) SetCompanyState(ctx context.Context, companyID string, state entity.CompanyState) error {
	path := fmt.Sprintf("/v1/admin/companies/%s/state", url.PathEscape(companyID))
	body := map[string]string{"state": string(state)}
	return c.doJSON(ctx, http.MethodPost, path, body, nil)
}

func (c *HTTPClient) SignOut(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/session/signout", nil, nil)
}

func (c *HTTPClient) getRaw(ctx context.Context, path, resource string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		var classified *foundation.ClassifiedError
		if foundation.AsClassified(err, &classified) && classified.Category == foundation.CategoryNotFound {
			return nil, foundation.NotFoundError(resource).
				WithOperation("remote.fetch").WithCause(classified.Cause).Build()
		}
		return nil, err
	}
	return out, nil
}

// doJSON performs one logical request with bounded retries on transient
// failures (network errors, 429, 5xx). A Retry-After header overrides the
// computed backoff, capped at the policy maximum.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return foundation.InternalError("encoding request body").
				WithOperation("remote."+method).WithCause(err).Build()
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return foundation.InternalError("building request").
				WithOperation("remote."+method).WithCause(err).Build()
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("X-Correlation-Id", uuid.NewString())
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.policy.MaxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return foundation.TransportError("request failed").
				WithOperation("remote."+method).WithContext("path", path).WithCause(err).Build()
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return foundation.TransportError("reading response body").
				WithOperation("remote."+method).WithContext("path", path).WithCause(readErr).Build()
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			if err := json.Unmarshal(payload, out); err != nil {
				return foundation.ValidationError("response is not valid JSON").
					WithOperation("remote."+method).WithContext("path", path).WithCause(err).Build()
			}
			return nil
		}

		if retryableStatus(resp.StatusCode) && attempt < c.policy.MaxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		return c.classifyStatus(method, path, resp.StatusCode, payload)
	}
}

func (c *HTTPClient) classifyStatus(method, path string, status int, payload []byte) error {
	var errPayload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(payload, &errPayload)
	message := errPayload.Message
	if message == "" {
		message = http.StatusText(status)
	}

	var builder *foundation.ErrorBuilder
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		builder = foundation.AuthError(message)
	case status == http.StatusNotFound:
		builder = foundation.NotFoundError(path)
	case status >= 500 || status == http.StatusTooManyRequests:
		builder = foundation.TransportError(message)
	default:
		builder = foundation.ValidationError(message)
	}
	return builder.
		WithOperation("remote." + method).
		WithContext("path", path).
		WithContext("status", status).
		WithContext("code", errPayload.Code).
		Build()
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.policy.Max {
			return c.policy.Max
		}
		return retryAfter
	}
	return c.policy.Delay(attempt)
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(header); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
