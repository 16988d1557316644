// Package identity bootstraps the session and owns the authenticated
// user: login, signup, logout and the identity check.
package identity

import (
	"context"
	"errors"

	"paygate-client/internal/apierrors"
	"paygate-client/internal/models"
	"paygate-client/internal/session"
	"paygate-client/internal/util"

	"go.uber.org/zap"
)

const (
	userPath   = "/auth/user/"
	loginPath  = "/auth/login/"
	signupPath = "/auth/signup/"
	logoutPath = "/auth/logout/"
)

// Manager orchestrates session bootstrap and identity mutation. All
// identity writes go through it; the Payment Orchestrator and the
// presentation layer only read the Store.
type Manager struct {
	client *session.Client
	store  *Store
	logger *zap.Logger
}

func NewManager(client *session.Client, store *Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = util.NamedLogger("identity")
	}
	return &Manager{
		client: client,
		store:  store,
		logger: logger,
	}
}

// Store exposes the observable identity state.
func (m *Manager) Store() *Store {
	return m.store
}

// Credentials are the login inputs.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned to the caller in full; the embedded user
// replaces the current identity without a re-fetch.
type LoginResponse struct {
	Message string          `json:"message"`
	User    models.Identity `json:"user"`
}

// SignupRequest carries the registration form. A separate login is
// required afterward; signup never touches the identity.
type SignupRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password1 string `json:"password1"`
	Password2 string `json:"password2"`
}

// SignupResponse confirms the registration.
type SignupResponse struct {
	Message string          `json:"message"`
	User    models.Identity `json:"user"`
}

// Initialize runs the session bootstrap and then the identity check.
// The loading flag reaches false exactly once regardless of outcome.
func (m *Manager) Initialize(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "identity.Manager.Initialize")
	defer span.End()
	defer m.store.setLoading(false)

	if err := m.client.Bootstrap(ctx); err != nil {
		m.logger.Error("session bootstrap failed", zap.Error(err))
		m.store.setIdentity(nil)
		return err
	}

	return m.CheckIdentity(ctx)
}

// CheckIdentity fetches the current identity. An unauthorized response
// clears the identity without being treated as an error; any other
// failure clears it and is reported as unexpected.
func (m *Manager) CheckIdentity(ctx context.Context) error {
	var who models.Identity
	err := m.client.Get(ctx, userPath, &who, session.AllowUnauthenticated())
	if err != nil {
		m.store.setIdentity(nil)
		if errors.Is(err, apierrors.ErrUnauthenticated) {
			m.logger.Debug("no authenticated identity")
			return nil
		}
		m.logger.Error("unexpected identity check failure", zap.Error(err))
		return err
	}

	m.store.setIdentity(&who)
	return nil
}

// Login posts credentials. On success the identity embedded in the
// response replaces the current one; on failure the identity is left
// unchanged and the error propagates.
func (m *Manager) Login(ctx context.Context, creds Credentials) (*LoginResponse, error) {
	ctx, span := util.StartSpan(ctx, "identity.Manager.Login")
	defer span.End()

	var resp LoginResponse
	if err := m.client.Post(ctx, loginPath, creds, &resp); err != nil {
		return nil, err
	}

	m.store.setIdentity(&resp.User)
	m.logger.Info("logged in", zap.String("email", resp.User.Email))
	return &resp, nil
}

// Signup posts registration data and propagates errors.
func (m *Manager) Signup(ctx context.Context, req SignupRequest) (*SignupResponse, error) {
	ctx, span := util.StartSpan(ctx, "identity.Manager.Signup")
	defer span.End()

	var resp SignupResponse
	if err := m.client.Post(ctx, signupPath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout posts a logout request; on success the identity is cleared
// unconditionally.
func (m *Manager) Logout(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "identity.Manager.Logout")
	defer span.End()

	if err := m.client.Post(ctx, logoutPath, nil, nil); err != nil {
		return err
	}

	m.store.setIdentity(nil)
	m.logger.Info("logged out")
	return nil
}
