// Package session holds per-person authenticated sessions and funnels all
// reauthentication through a single in-flight attempt per person.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/skolnik/skolnik/internal/domain/model"
	"github.com/skolnik/skolnik/pkg/logger"
)

// Credentials identify one tracked person against the upstream server.
type Credentials struct {
	Server   string
	UserID   string
	Username string
	Password string
}

// Handle is an authenticated session usable for upstream calls. Treated as
// immutable once issued; reauthentication produces a fresh Handle.
type Handle struct {
	AccessToken  string
	RefreshToken string
	IssuedAt     time.Time
}

// Authenticator performs the actual credential exchange against the
// upstream. Implementations return the upstream error taxonomy.
type Authenticator interface {
	// Authenticate logs in with username and password.
	Authenticate(ctx context.Context, creds Credentials) (*Handle, error)

	// Refresh exchanges a refresh token for a new session. Refresh tokens
	// rotate; the returned handle supersedes the old one entirely.
	Refresh(ctx context.Context, creds Credentials, refreshToken string) (*Handle, error)
}

// Manager owns the session state of every tracked person. Concurrent
// fetchers of different domains share one Manager, so an expired session
// observed by several of them converges on a single reauth attempt.
type Manager struct {
	auth   Authenticator
	logger logger.Logger

	mu      sync.Mutex
	persons map[model.PersonKey]*personState
}

// personState carries the per-person exclusion region around the reauth
// path. pending is the single-slot in-flight attempt concurrent callers
// attach to.
type personState struct {
	creds   Credentials
	handle  *Handle
	pending *reauthCall
}

type reauthCall struct {
	done   chan struct{}
	handle *Handle
	err    error
}

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithLogger sets a custom logger for the manager.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a Manager using auth for credential exchanges.
func NewManager(auth Authenticator, opts ...Option) *Manager {
	m := &Manager{
		auth:    auth,
		persons: make(map[model.PersonKey]*personState),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logger.Get()
	}
	return m
}

// Register adds a tracked person. Must be called before any Session call
// for that person.
func (m *Manager) Register(person model.PersonKey, creds Credentials) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.persons[person]; !ok {
		m.persons[person] = &personState{creds: creds}
	}
}

// Session returns the current session handle for person, performing the
// initial login lazily on first use.
func (m *Manager) Session(ctx context.Context, person model.PersonKey) (*Handle, error) {
	m.mu.Lock()
	st, ok := m.persons[person]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("session: unknown person %q", person)
	}
	if h := st.handle; h != nil {
		m.mu.Unlock()
		return h, nil
	}
	m.mu.Unlock()
	return m.ForceReauth(ctx, person)
}

// ForceReauth obtains a fresh session for person. At most one upstream
// reauthentication is in flight per person: callers arriving while one is
// outstanding block on its result instead of issuing a second call.
func (m *Manager) ForceReauth(ctx context.Context, person model.PersonKey) (*Handle, error) {
	m.mu.Lock()
	st, ok := m.persons[person]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("session: unknown person %q", person)
	}
	if call := st.pending; call != nil {
		m.mu.Unlock()
		return m.await(ctx, call)
	}

	call := &reauthCall{done: make(chan struct{})}
	st.pending = call
	creds := st.creds
	prior := st.handle
	m.mu.Unlock()

	call.handle, call.err = m.reauth(ctx, creds, prior)
	close(call.done)

	m.mu.Lock()
	st.pending = nil
	if call.err == nil {
		st.handle = call.handle
	} else {
		st.handle = nil
	}
	m.mu.Unlock()

	if call.err != nil {
		m.logger.Warn(ctx, "reauthentication failed",
			logger.String("person", string(person)),
			logger.Err(call.err),
		)
	}
	return call.handle, call.err
}

// Invalidate drops the cached handle so the next Session call logs in
// again. Used by tests and operator tooling; fetchers go through
// ForceReauth instead.
func (m *Manager) Invalidate(person model.PersonKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.persons[person]; ok {
		st.handle = nil
	}
}

// reauth prefers the rotated refresh token of the prior session and falls
// back to a full credential login.
func (m *Manager) reauth(ctx context.Context, creds Credentials, prior *Handle) (*Handle, error) {
	if prior != nil && prior.RefreshToken != "" {
		h, err := m.auth.Refresh(ctx, creds, prior.RefreshToken)
		if err == nil {
			return h, nil
		}
		m.logger.Debug(ctx, "refresh token rejected, retrying with credentials", logger.Err(err))
	}
	return m.auth.Authenticate(ctx, creds)
}

func (m *Manager) await(ctx context.Context, call *reauthCall) (*Handle, error) {
	select {
	case <-call.done:
		return call.handle, call.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
