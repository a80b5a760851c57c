// Package upstream wraps the school API behind a uniform call contract and
// translates transport failures into the service error taxonomy.
package upstream

import (
	"context"
	"errors"
	"time"

	"github.com/skolnik/skolnik/internal/domain/model"
	"github.com/skolnik/skolnik/internal/session"
	"github.com/skolnik/skolnik/pkg/metrics"
)

// API is the raw per-domain fetch surface of the upstream server. Every
// method takes an authenticated session handle and returns errors from the
// package taxonomy.
type API interface {
	Marks(ctx context.Context, h *session.Handle, creds session.Credentials) ([]model.Grade, error)
	Messages(ctx context.Context, h *session.Handle, creds session.Credentials, from, to time.Time) ([]model.Message, error)
	Timetable(ctx context.Context, h *session.Handle, creds session.Credentials, weekOf time.Time) ([]model.TimetableSlot, error)
}

// Adapter is the uniform call path in front of API. It resolves the session
// through the session manager, detects expired sessions once, routes them
// through the shared reauth path, and retries the original call exactly
// once with the refreshed session. It never loops; retry policy beyond that
// belongs to the scheduler.
type Adapter struct {
	api      API
	sessions *session.Manager
	creds    map[model.PersonKey]session.Credentials
}

// NewAdapter creates an Adapter over api using sessions for auth state.
func NewAdapter(api API, sessions *session.Manager) *Adapter {
	return &Adapter{
		api:      api,
		sessions: sessions,
		creds:    make(map[model.PersonKey]session.Credentials),
	}
}

// Register adds a tracked person to both the adapter and the session
// manager.
func (a *Adapter) Register(person model.PersonKey, creds session.Credentials) {
	a.creds[person] = creds
	a.sessions.Register(person, creds)
}

// FetchGrades retrieves the full current mark set for person.
func (a *Adapter) FetchGrades(ctx context.Context, person model.PersonKey) ([]model.Grade, error) {
	return call(ctx, a, person, func(ctx context.Context, h *session.Handle, c session.Credentials) ([]model.Grade, error) {
		return a.api.Marks(ctx, h, c)
	})
}

// FetchMessages retrieves received messages for person within the current
// school-year window.
func (a *Adapter) FetchMessages(ctx context.Context, person model.PersonKey, from, to time.Time) ([]model.Message, error) {
	return call(ctx, a, person, func(ctx context.Context, h *session.Handle, c session.Credentials) ([]model.Message, error) {
		return a.api.Messages(ctx, h, c, from, to)
	})
}

// FetchTimetable retrieves the actual timetable week containing weekOf.
func (a *Adapter) FetchTimetable(ctx context.Context, person model.PersonKey, weekOf time.Time) ([]model.TimetableSlot, error) {
	return call(ctx, a, person, func(ctx context.Context, h *session.Handle, c session.Credentials) ([]model.TimetableSlot, error) {
		return a.api.Timetable(ctx, h, c, weekOf)
	})
}

// call resolves a session and performs fn, retrying once after a shared
// reauthentication when the session turned out to be expired.
func call[T any](ctx context.Context, a *Adapter, person model.PersonKey, fn func(context.Context, *session.Handle, session.Credentials) (T, error)) (T, error) {
	var zero T
	creds, ok := a.creds[person]
	if !ok {
		return zero, ErrNotFound
	}

	h, err := a.sessions.Session(ctx, person)
	if err != nil {
		return zero, err
	}

	out, err := fn(ctx, h, creds)
	if !errors.Is(err, ErrAuthRequired) {
		return out, err
	}

	metrics.RecordReauth()
	h, err = a.sessions.ForceReauth(ctx, person)
	if err != nil {
		metrics.RecordReauthFailure()
		return zero, err
	}
	return fn(ctx, h, creds)
}
