// Package session implements the authenticated HTTP client shared by the
// identity manager and the payment orchestrator. It owns CSRF token
// acquisition, attachment and the single refresh-and-retry policy.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"paygate-client/internal/apierrors"
	"paygate-client/internal/util"

	"go.uber.org/zap"
)

const (
	csrfPath       = "/csrf/"
	csrfCookieName = "csrftoken"
	csrfHeaderName = "X-CSRFToken"
)

// Client wraps all backend calls. Mutating requests carry the session's
// CSRF token; a 403 with a CSRF indicator triggers exactly one forced
// token refresh and re-issue per original request.
type Client struct {
	base       string
	baseURL    *url.URL
	http       *http.Client
	state      *State
	logger     *zap.Logger
	retryDelay time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithLogger injects a diagnostic sink. Behavior is identical with
// logging on or off.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHTTPClient replaces the underlying HTTP client. A cookie jar is
// added when the replacement has none, since the CSRF cookie must
// survive across requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc.Jar == nil {
			hc.Jar, _ = cookiejar.New(nil)
		}
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithRetryDelay sets the pause between a forced token refresh and the
// re-issued request, allowing the refreshed cookie to propagate.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// New creates a session client against the given API base URL using the
// injected session state.
func New(base string, state *State, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", base, err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	c := &Client{
		base:    strings.TrimRight(base, "/"),
		baseURL: u,
		http: &http.Client{
			Jar:     jar,
			Timeout: 15 * time.Second,
		},
		state:      state,
		logger:     util.NamedLogger("session"),
		retryDelay: 100 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// State returns the injected session state (read access for callers).
func (c *Client) State() *State {
	return c.state
}

// Timeout returns the per-request timeout of the underlying client.
func (c *Client) Timeout() time.Duration {
	return c.http.Timeout
}

type requestOptions struct {
	allowUnauthenticated bool
}

// RequestOption adjusts how a single request's response is interpreted.
type RequestOption func(*requestOptions)

// AllowUnauthenticated marks an identity-check request: a 401/403
// response becomes apierrors.ErrUnauthenticated, is never logged as an
// error, and never enters the CSRF retry path.
func AllowUnauthenticated() RequestOption {
	return func(ro *requestOptions) { ro.allowUnauthenticated = true }
}

// Bootstrap fetches the CSRF token once per session lifetime. Subsequent
// calls are no-ops while the session is Ready. The fetch itself is never
// retried.
func (c *Client) Bootstrap(ctx context.Context) error {
	return c.bootstrap(ctx, false)
}

func (c *Client) bootstrap(ctx context.Context, force bool) error {
	if !c.state.beginInit(force) {
		return nil
	}

	util.CSRFFetchesTotal.Inc()
	c.logger.Debug("fetching CSRF token", zap.Bool("forced", force))

	// The server may deliver the token via Set-Cookie, a body field, or
	// both. The cookie lands in the jar; the body value is cached as a
	// fallback for when no cookie is readable.
	var body struct {
		CSRFToken string `json:"csrfToken"`
	}
	if err := c.doOnce(ctx, http.MethodGet, csrfPath, nil, &body); err != nil {
		c.state.failInit()
		c.logger.Error("CSRF token fetch failed", zap.Error(err))
		return err
	}

	c.state.completeInit(body.CSRFToken)
	return nil
}

// Get issues a GET against the API.
func (c *Client) Get(ctx context.Context, path string, out interface{}, opts ...RequestOption) error {
	return c.do(ctx, http.MethodGet, path, nil, out, opts...)
}

// Post issues a POST against the API with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out interface{}, opts ...RequestOption) error {
	return c.do(ctx, http.MethodPost, path, body, out, opts...)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, opts ...RequestOption) error {
	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}

	ctx, span := util.StartSpan(ctx, fmt.Sprintf("session.%s %s", method, path))
	defer span.End()

	// Matches the page-load ordering: the token fetch always precedes the
	// first real request.
	if err := c.Bootstrap(ctx); err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	err := c.doOnce(ctx, method, path, payload, out)
	if err == nil {
		return nil
	}

	if ro.allowUnauthenticated {
		var apiErr *apierrors.APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
			// Expected for first visits; a normal "no identity" outcome.
			c.logger.Debug("not authenticated", zap.String("path", path), zap.Int("status", apiErr.StatusCode))
			return apierrors.ErrUnauthenticated
		}
		return err
	}

	var apiErr *apierrors.APIError
	if errors.As(err, &apiErr) && apiErr.CSRFInvalid() && path != csrfPath {
		util.CSRFRetriesTotal.Inc()
		c.logger.Warn("CSRF token missing or invalid, fetching new token",
			zap.String("method", method),
			zap.String("path", path))

		if berr := c.bootstrap(ctx, true); berr != nil {
			return err
		}

		// Let the refreshed cookie settle before re-issuing.
		select {
		case <-time.After(c.retryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}

		retryErr := c.doOnce(ctx, method, path, payload, out)
		if retryErr != nil {
			c.logger.Error("request failed after CSRF refresh",
				zap.String("method", method),
				zap.String("path", path),
				zap.Error(retryErr))
		}
		return retryErr
	}

	c.logger.Error("api request failed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Error(err))
	return err
}

// doOnce issues a single request with no retry policy attached.
func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	fullURL := c.base + path

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token := c.csrfToken(); token != "" {
		req.Header.Set(csrfHeaderName, token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &apierrors.NetworkError{Op: method, URL: fullURL, Err: err}
	}
	defer resp.Body.Close()

	util.APIRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	util.APIRequestsTotal.WithLabelValues(method, path, strconv.Itoa(resp.StatusCode)).Inc()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &apierrors.NetworkError{Op: method, URL: fullURL, Err: err}
	}

	if resp.StatusCode >= 400 {
		return &apierrors.APIError{
			StatusCode: resp.StatusCode,
			Detail:     extractDetail(respBody),
			Body:       respBody,
		}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", path, err)
		}
	}
	return nil
}

// csrfToken reads the current token: the cookie takes precedence, the
// body-delivered value is the fallback.
func (c *Client) csrfToken() string {
	if c.http.Jar != nil {
		for _, ck := range c.http.Jar.Cookies(c.baseURL) {
			if ck.Name == csrfCookieName && ck.Value != "" {
				return ck.Value
			}
		}
	}
	return c.state.Token()
}

// extractDetail pulls the human-readable message out of an error body.
// DRF uses {"detail": ...}; the app views use {"error": ...}.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	if parsed.Detail != "" {
		return parsed.Detail
	}
	return parsed.Error
}
