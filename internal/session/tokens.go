package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"taskgrid.org/internal/obs"
)

// expiryMargin treats a token expiring within this window as already expired,
// so a request never leaves with a token that dies in flight.
const expiryMargin = 5 * time.Second

// IsExpired reports whether an access token is expired or unusable. The
// signature is not checked; only the exp claim matters here, and any token
// that cannot be decoded is treated as expired.
func IsExpired(token string, now time.Time) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return !now.Add(expiryMargin).Before(claims.ExpiresAt.Time)
}

// fallbackMessage is shown when a failure carries no usable message.
const fallbackMessage = "something went wrong, please try again"

// UserMessage extracts a display string from an error.
func UserMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallbackMessage
}

// refreshAttempt is one in-flight refresh. Followers wait on done and read
// the outcome; the initiator fills the fields before closing the channel.
type refreshAttempt struct {
	done  chan struct{}
	token string
	err   error
}

// initAttempt is one restore from storage. It doubles as the memo: the
// pointer stays published after completion so repeat callers read the same
// outcome until Reset drops it.
type initAttempt struct {
	done chan struct{}
	err  error
}

// Manager owns the credential lifecycle: persistence, expiry checks, and the
// single-flight refresh that all concurrent callers converge on.
type Manager struct {
	client  *Client
	storage Storage
	state   *State
	now     func() time.Time

	mu      sync.Mutex
	refresh *refreshAttempt
	init    *initAttempt
}

// ManagerOption adjusts a Manager.
type ManagerOption func(*Manager)

// WithManagerClock substitutes the time source.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

func NewManager(client *Client, storage Storage, state *State, opts ...ManagerOption) *Manager {
	m := &Manager{
		client:  client,
		storage: storage,
		state:   state,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State exposes the session snapshot this manager writes to.
func (m *Manager) State() *State { return m.state }

// InitializeFromStorage restores a persisted session. Concurrent first
// callers share one restore: the first publishes an in-flight attempt, the
// rest wait on it. The attempt stays published as the memo, so repeat calls
// return its outcome without touching storage again until Reset.
func (m *Manager) InitializeFromStorage(ctx context.Context) error {
	m.mu.Lock()
	if attempt := m.init; attempt != nil {
		m.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	attempt := &initAttempt{done: make(chan struct{})}
	m.init = attempt
	m.mu.Unlock()

	attempt.err = m.initialize(ctx)
	close(attempt.done)
	return attempt.err
}

// initialize restores the session from storage. A restore that fails resolves
// to "not authenticated" with no stored error: the session is dropped
// everywhere and nil is returned, so a broken restore looks exactly like no
// session at all.
func (m *Manager) initialize(ctx context.Context) error {
	tokens, ok, err := m.storage.Load()
	if err != nil {
		m.forceLogout()
		return nil
	}
	if !ok {
		m.state.ClearAuth()
		return nil
	}
	m.state.SetTokens(tokens)

	access := tokens.AccessToken
	if IsExpired(access, m.now()) {
		access, err = m.SharedRefresh(ctx)
		if err != nil {
			if !IsRefreshRejected(err) {
				m.forceLogout()
			}
			// A rejection already performed the full logout.
			return nil
		}
	}

	user, roles, err := m.client.WhoAmI(ctx, access)
	if err != nil {
		m.forceLogout()
		return nil
	}
	m.state.SetAuthResponse(user, roles, m.state.Tokens())
	return nil
}

// Login authenticates, persists the pair, and loads the identity.
func (m *Manager) Login(ctx context.Context, email, password string) error {
	tokens, err := m.client.Login(ctx, email, password)
	if err != nil {
		m.state.SetError(err)
		return err
	}
	return m.install(ctx, tokens)
}

// Register creates a tenant and its owner, then behaves like Login.
func (m *Manager) Register(ctx context.Context, p RegisterParams) error {
	tokens, err := m.client.Register(ctx, p)
	if err != nil {
		m.state.SetError(err)
		return err
	}
	return m.install(ctx, tokens)
}

func (m *Manager) install(ctx context.Context, tokens Tokens) error {
	if err := m.storage.Save(tokens); err != nil {
		m.state.SetError(err)
		return err
	}
	m.state.SetTokens(tokens)

	user, roles, err := m.client.WhoAmI(ctx, tokens.AccessToken)
	if err != nil {
		m.state.SetError(err)
		return err
	}
	m.state.SetAuthResponse(user, roles, tokens)
	return nil
}

// AccessToken returns a token fit to send, refreshing first when the held
// one is expired. Empty with nil error means no session is present.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	token := m.state.AccessToken()
	if token == "" {
		return "", nil
	}
	if !IsExpired(token, m.now()) {
		return token, nil
	}
	return m.SharedRefresh(ctx)
}

// SharedRefresh exchanges the refresh credential for a new pair. Concurrent
// callers share one exchange: the first caller performs it, the rest block
// until it resolves and receive the same outcome. A rejected credential logs
// the session out before the error is broadcast.
func (m *Manager) SharedRefresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	if attempt := m.refresh; attempt != nil {
		m.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.token, attempt.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	attempt := &refreshAttempt{done: make(chan struct{})}
	m.refresh = attempt
	m.mu.Unlock()

	attempt.token, attempt.err = m.doRefresh(ctx)
	close(attempt.done)

	m.mu.Lock()
	m.refresh = nil
	m.mu.Unlock()

	return attempt.token, attempt.err
}

func (m *Manager) doRefresh(ctx context.Context) (string, error) {
	refreshToken := m.state.Tokens().RefreshToken
	if refreshToken == "" {
		err := &APIError{Kind: KindRefreshRejected, Message: "no refresh token held"}
		m.forceLogout()
		obs.SessionRefresh.WithLabelValues("rejected").Inc()
		return "", err
	}

	tokens, err := m.client.Refresh(ctx, refreshToken)
	if err != nil {
		if IsRefreshRejected(err) {
			m.forceLogout()
			obs.SessionRefresh.WithLabelValues("rejected").Inc()
			return "", err
		}
		obs.SessionRefresh.WithLabelValues("error").Inc()
		return "", err
	}

	if err := m.storage.Save(tokens); err != nil {
		obs.SessionRefresh.WithLabelValues("error").Inc()
		return "", err
	}
	m.state.SetTokens(tokens)
	obs.SessionRefresh.WithLabelValues("ok").Inc()
	return tokens.AccessToken, nil
}

// Logout drops the session everywhere: state, storage, and the memoized
// initialization result.
func (m *Manager) Logout() error {
	m.state.ClearAuth()
	err := m.storage.Clear()
	m.Reset()
	return err
}

// forceLogout is the non-user-initiated logout: a rejected refresh or a
// failed restore ends the session the same way Logout does, memo included.
func (m *Manager) forceLogout() {
	m.state.ClearAuth()
	_ = m.storage.Clear()
	m.Reset()
}

// Reset forgets the memoized initialization so the next
// InitializeFromStorage call re-reads storage.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.init = nil
	m.mu.Unlock()
}
