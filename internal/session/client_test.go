package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"paygate-client/internal/apierrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// csrfBackend is a minimal backend for exercising the token lifecycle.
// It rotates the token on every /csrf/ call and rejects mutating
// requests whose header does not match the current token.
type csrfBackend struct {
	mu         sync.Mutex
	token      string
	setCookie  bool // deliver the token via Set-Cookie
	setBody    bool // deliver the token via the response body
	csrfCalls  int
	postCalls  int
	userStatus int // status for /auth/user/
}

func (b *csrfBackend) currentToken() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.token
}

func (b *csrfBackend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/csrf/", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.csrfCalls++
		b.token = fmt.Sprintf("token%d", b.csrfCalls)
		token := b.token
		b.mu.Unlock()

		if b.setCookie {
			http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: token, Path: "/"})
		}
		w.Header().Set("Content-Type", "application/json")
		if b.setBody {
			_ = json.NewEncoder(w).Encode(map[string]string{"csrfToken": token})
		} else {
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "CSRF cookie set."})
		}
	})

	mux.HandleFunc("/auth/user/", func(w http.ResponseWriter, r *http.Request) {
		status := b.userStatus
		if status == 0 {
			status = http.StatusForbidden
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Authentication credentials were not provided."})
	})

	mux.HandleFunc("/payments/create-order/", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.postCalls++
		token := b.token
		b.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("X-CSRFToken") != token {
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": "CSRF Failed: CSRF token missing or incorrect."})
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
	})

	return mux
}

func newTestClient(t *testing.T, backend *csrfBackend) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	client, err := New(srv.URL, NewState(),
		WithLogger(zap.NewNop()),
		WithRetryDelay(time.Millisecond))
	require.NoError(t, err)
	return client, srv
}

func TestBootstrapFetchesTokenOnce(t *testing.T) {
	backend := &csrfBackend{setCookie: true}
	client, _ := newTestClient(t, backend)
	ctx := context.Background()

	require.NoError(t, client.Bootstrap(ctx))
	require.NoError(t, client.Bootstrap(ctx))
	require.NoError(t, client.Post(ctx, "/payments/create-order/", map[string]any{"amount": 1}, nil))

	assert.Equal(t, 1, backend.csrfCalls)
	assert.True(t, client.State().Initialized())
}

func TestMutatingRequestCarriesCookieToken(t *testing.T) {
	backend := &csrfBackend{setCookie: true}
	client, _ := newTestClient(t, backend)
	ctx := context.Background()

	require.NoError(t, client.Post(ctx, "/payments/create-order/", map[string]any{"amount": 1}, nil))

	// The backend only accepts the POST when the header matched its
	// current token, so reaching postCalls==1 without error proves the
	// attachment.
	assert.Equal(t, 1, backend.postCalls)
	assert.Equal(t, backend.currentToken(), client.csrfToken())
}

func TestBodyTokenUsedWhenNoCookie(t *testing.T) {
	backend := &csrfBackend{setBody: true}
	client, _ := newTestClient(t, backend)
	ctx := context.Background()

	require.NoError(t, client.Post(ctx, "/payments/create-order/", map[string]any{"amount": 1}, nil))
	assert.Equal(t, backend.currentToken(), client.State().Token())
}

func TestCSRFInvalidRetriesExactlyOnce(t *testing.T) {
	backend := &csrfBackend{setCookie: true}
	client, _ := newTestClient(t, backend)
	ctx := context.Background()

	require.NoError(t, client.Bootstrap(ctx))

	// Invalidate the client's token server-side: the next POST sees a
	// stale token, triggering one refresh and one re-issue.
	backend.mu.Lock()
	backend.token = "rotated-elsewhere"
	backend.mu.Unlock()

	err := client.Post(ctx, "/payments/create-order/", map[string]any{"amount": 1}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, backend.postCalls, "original request plus exactly one retry")
	assert.Equal(t, 2, backend.csrfCalls, "initial fetch plus one forced refresh")
}

func TestSecondCSRFFailurePropagates(t *testing.T) {
	// A backend that rejects every POST as CSRF-invalid regardless of
	// the token.
	var postCalls, csrfCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/csrf/", func(w http.ResponseWriter, r *http.Request) {
		csrfCalls++
		http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "abc", Path: "/"})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/payments/verify/", func(w http.ResponseWriter, r *http.Request) {
		postCalls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "CSRF Failed: CSRF token missing or incorrect."})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := New(srv.URL, NewState(), WithLogger(zap.NewNop()), WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	err = client.Post(context.Background(), "/payments/verify/", map[string]any{}, nil)
	require.Error(t, err)

	var apiErr *apierrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.CSRFInvalid())
	assert.Equal(t, 2, postCalls, "no retry beyond the single re-issue")
	assert.Equal(t, 2, csrfCalls)
}

func TestIdentityCheckUnauthorizedNeverRetries(t *testing.T) {
	backend := &csrfBackend{setCookie: true, userStatus: http.StatusForbidden}
	client, _ := newTestClient(t, backend)
	ctx := context.Background()

	err := client.Get(ctx, "/auth/user/", nil, AllowUnauthenticated())
	assert.ErrorIs(t, err, apierrors.ErrUnauthenticated)
	assert.Equal(t, 1, backend.csrfCalls, "unauthorized identity check must not force a token refresh")

	backend.userStatus = http.StatusUnauthorized
	err = client.Get(ctx, "/auth/user/", nil, AllowUnauthenticated())
	assert.ErrorIs(t, err, apierrors.ErrUnauthenticated)
	assert.Equal(t, 1, backend.csrfCalls)
}

func TestBootstrapTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // connection refused from here on

	client, err := New(srv.URL, NewState(), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	err = client.Bootstrap(context.Background())
	require.Error(t, err)

	var netErr *apierrors.NetworkError
	assert.ErrorAs(t, err, &netErr)
	assert.False(t, client.State().Initialized())
}

func TestIndependentSessions(t *testing.T) {
	backend := &csrfBackend{setCookie: true}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	a, err := New(srv.URL, NewState(), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	b, err := New(srv.URL, NewState(), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	require.NoError(t, a.Bootstrap(context.Background()))
	assert.True(t, a.State().Initialized())
	assert.False(t, b.State().Initialized(), "sessions must not share state")
}
