package upstream_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skolnik/skolnik/internal/domain/model"
	"github.com/skolnik/skolnik/internal/session"
	"github.com/skolnik/skolnik/internal/upstream"
	"github.com/skolnik/skolnik/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	m.Run()
}

// fakeServer implements both the authenticator and the fetch surface. Tokens
// are numbered so tests can tell which session served a call, and marksErrs
// scripts one error per successive Marks call.
type fakeServer struct {
	logins     atomic.Int64
	refreshes  atomic.Int64
	marksCalls atomic.Int64
	marksErrs  []error
	marks      []model.Grade
}

func (f *fakeServer) Authenticate(ctx context.Context, creds session.Credentials) (*session.Handle, error) {
	f.logins.Add(1)
	return &session.Handle{AccessToken: "access", RefreshToken: "refresh", IssuedAt: time.Now()}, nil
}

func (f *fakeServer) Refresh(ctx context.Context, creds session.Credentials, refreshToken string) (*session.Handle, error) {
	f.refreshes.Add(1)
	return &session.Handle{AccessToken: "refreshed", RefreshToken: "rotated", IssuedAt: time.Now()}, nil
}

func (f *fakeServer) Marks(ctx context.Context, h *session.Handle, creds session.Credentials) ([]model.Grade, error) {
	n := int(f.marksCalls.Add(1))
	if n <= len(f.marksErrs) && f.marksErrs[n-1] != nil {
		return nil, f.marksErrs[n-1]
	}
	return f.marks, nil
}

func (f *fakeServer) Messages(ctx context.Context, h *session.Handle, creds session.Credentials, from, to time.Time) ([]model.Message, error) {
	return nil, nil
}

func (f *fakeServer) Timetable(ctx context.Context, h *session.Handle, creds session.Credentials, weekOf time.Time) ([]model.TimetableSlot, error) {
	return nil, nil
}

func TestAdapter(t *testing.T) {
	ctx := context.Background()
	person := model.NewPersonKey("school.example.cz", "student-1")
	creds := session.Credentials{Server: "school.example.cz", UserID: "student-1", Username: "u", Password: "p"}

	newAdapter := func(srv *fakeServer) *upstream.Adapter {
		a := upstream.NewAdapter(srv, session.NewManager(srv))
		a.Register(person, creds)
		return a
	}

	Convey("Given a healthy upstream", t, func() {
		srv := &fakeServer{marks: []model.Grade{{ID: "m1"}}}
		a := newAdapter(srv)

		Convey("When fetching grades", func() {
			grades, err := a.FetchGrades(ctx, person)

			Convey("Then the login happens lazily and once", func() {
				So(err, ShouldBeNil)
				So(grades, ShouldHaveLength, 1)
				So(srv.logins.Load(), ShouldEqual, 1)
				So(srv.marksCalls.Load(), ShouldEqual, 1)
			})

			Convey("And the session is reused on the next fetch", func() {
				_, err := a.FetchGrades(ctx, person)
				So(err, ShouldBeNil)
				So(srv.logins.Load(), ShouldEqual, 1)
			})
		})
	})

	Convey("Given a session the upstream has expired", t, func() {
		srv := &fakeServer{
			marks:     []model.Grade{{ID: "m1"}},
			marksErrs: []error{upstream.ErrAuthRequired},
		}
		a := newAdapter(srv)

		Convey("When fetching grades", func() {
			grades, err := a.FetchGrades(ctx, person)

			Convey("Then the call is retried exactly once after reauth", func() {
				So(err, ShouldBeNil)
				So(grades, ShouldHaveLength, 1)
				So(srv.marksCalls.Load(), ShouldEqual, 2)
				So(srv.refreshes.Load(), ShouldEqual, 1)
			})
		})
	})

	Convey("Given an upstream that rejects even refreshed sessions", t, func() {
		srv := &fakeServer{
			marksErrs: []error{upstream.ErrAuthRequired, upstream.ErrAuthRequired},
		}
		a := newAdapter(srv)

		Convey("When fetching grades", func() {
			_, err := a.FetchGrades(ctx, person)

			Convey("Then the auth error surfaces without a retry loop", func() {
				So(err, ShouldEqual, upstream.ErrAuthRequired)
				So(srv.marksCalls.Load(), ShouldEqual, 2)
			})
		})
	})

	Convey("Given a transiently failing upstream", t, func() {
		srv := &fakeServer{marksErrs: []error{upstream.ErrTransient}}
		a := newAdapter(srv)

		Convey("When fetching grades", func() {
			_, err := a.FetchGrades(ctx, person)

			Convey("Then there is no retry; backoff is the scheduler's job", func() {
				So(err, ShouldEqual, upstream.ErrTransient)
				So(srv.marksCalls.Load(), ShouldEqual, 1)
			})
		})
	})

	Convey("Given an unregistered person", t, func() {
		srv := &fakeServer{}
		a := upstream.NewAdapter(srv, session.NewManager(srv))

		Convey("Then fetches report not found", func() {
			_, err := a.FetchGrades(ctx, person)
			So(err, ShouldEqual, upstream.ErrNotFound)
		})
	})
}
