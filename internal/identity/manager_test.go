package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"paygate-client/internal/models"
	"paygate-client/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type authBackend struct {
	userStatus int
	user       models.Identity
	loginFail  bool
}

func (b *authBackend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/csrf/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "tok", Path: "/"})
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/auth/user/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if b.userStatus != http.StatusOK {
			w.WriteHeader(b.userStatus)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": "nope"})
			return
		}
		_ = json.NewEncoder(w).Encode(b.user)
	})

	mux.HandleFunc("/auth/login/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if b.loginFail {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Invalid email or password."})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"message": "Login successful.",
			"user":    b.user,
		})
	})

	mux.HandleFunc("/auth/signup/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"message": "Account created.",
			"user":    b.user,
		})
	})

	mux.HandleFunc("/auth/logout/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Logged out."})
	})

	return mux
}

func newTestManager(t *testing.T, backend *authBackend) (*Manager, *Store) {
	t.Helper()
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	client, err := session.New(srv.URL, session.NewState(),
		session.WithLogger(zap.NewNop()),
		session.WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	store := NewStore()
	return NewManager(client, store, zap.NewNop()), store
}

func TestInitializeAuthenticated(t *testing.T) {
	backend := &authBackend{
		userStatus: http.StatusOK,
		user:       models.Identity{ID: 7, Email: "a@b.c", FirstName: "Ada"},
	}
	manager, store := newTestManager(t, backend)

	var loadingFalse int
	store.Subscribe(func(snap Snapshot) {
		if !snap.Loading {
			loadingFalse++
		}
	})

	require.True(t, store.Loading())
	require.NoError(t, manager.Initialize(context.Background()))

	assert.False(t, store.Loading())
	require.NotNil(t, store.Identity())
	assert.Equal(t, int64(7), store.Identity().ID)
	assert.Equal(t, 1, loadingFalse, "loading must reach false exactly once")
}

func TestInitializeUnauthenticatedIsNotAnError(t *testing.T) {
	backend := &authBackend{userStatus: http.StatusForbidden}
	manager, store := newTestManager(t, backend)

	require.NoError(t, manager.Initialize(context.Background()))
	assert.Nil(t, store.Identity())
	assert.False(t, store.Loading())
}

func TestInitializeBootstrapFailureCompletesLoading(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client, err := session.New(srv.URL, session.NewState(), session.WithLogger(zap.NewNop()))
	require.NoError(t, err)

	store := NewStore()
	manager := NewManager(client, store, zap.NewNop())

	err = manager.Initialize(context.Background())
	require.Error(t, err)
	assert.Nil(t, store.Identity())
	assert.False(t, store.Loading(), "loading completes even when bootstrap fails")
}

func TestCheckIdentityUnexpectedFailureClearsIdentity(t *testing.T) {
	backend := &authBackend{userStatus: http.StatusOK, user: models.Identity{ID: 1, Email: "a@b.c"}}
	manager, store := newTestManager(t, backend)

	require.NoError(t, manager.CheckIdentity(context.Background()))
	require.NotNil(t, store.Identity())

	backend.userStatus = http.StatusInternalServerError
	err := manager.CheckIdentity(context.Background())
	require.Error(t, err)
	assert.Nil(t, store.Identity())
}

func TestLoginSetsIdentityFromResponse(t *testing.T) {
	backend := &authBackend{
		userStatus: http.StatusForbidden,
		user:       models.Identity{ID: 3, Email: "x@y.z", FirstName: "Max"},
	}
	manager, store := newTestManager(t, backend)

	resp, err := manager.Login(context.Background(), Credentials{Email: "x@y.z", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "Login successful.", resp.Message)

	// Identity comes from the response body, not a re-fetch: the
	// backend's /auth/user/ still answers 403 here.
	require.NotNil(t, store.Identity())
	assert.Equal(t, "x@y.z", store.Identity().Email)
}

func TestFailedLoginLeavesIdentityUnchanged(t *testing.T) {
	backend := &authBackend{
		userStatus: http.StatusOK,
		user:       models.Identity{ID: 3, Email: "x@y.z"},
	}
	manager, store := newTestManager(t, backend)
	require.NoError(t, manager.CheckIdentity(context.Background()))

	backend.loginFail = true
	_, err := manager.Login(context.Background(), Credentials{Email: "x@y.z", Password: "bad"})
	require.Error(t, err)
	require.NotNil(t, store.Identity())
	assert.Equal(t, int64(3), store.Identity().ID)
}

func TestSignupDoesNotTouchIdentity(t *testing.T) {
	backend := &authBackend{
		userStatus: http.StatusForbidden,
		user:       models.Identity{ID: 9, Email: "new@user.io"},
	}
	manager, store := newTestManager(t, backend)

	resp, err := manager.Signup(context.Background(), SignupRequest{
		FirstName: "New", LastName: "User",
		Email: "new@user.io", Password1: "pw", Password2: "pw",
	})
	require.NoError(t, err)
	assert.Equal(t, "Account created.", resp.Message)
	assert.Nil(t, store.Identity(), "signup requires a separate login")
}

func TestLogoutClearsIdentity(t *testing.T) {
	backend := &authBackend{userStatus: http.StatusOK, user: models.Identity{ID: 5, Email: "a@b.c"}}
	manager, store := newTestManager(t, backend)
	require.NoError(t, manager.CheckIdentity(context.Background()))
	require.NotNil(t, store.Identity())

	require.NoError(t, manager.Logout(context.Background()))
	assert.Nil(t, store.Identity())
}

func TestSubscribeCancel(t *testing.T) {
	store := NewStore()

	var calls int
	cancel := store.Subscribe(func(Snapshot) { calls++ })

	store.setIdentity(&models.Identity{ID: 1})
	cancel()
	store.setIdentity(nil)

	assert.Equal(t, 1, calls)
}
