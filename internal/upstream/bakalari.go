package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/skolnik/skolnik/internal/domain/model"
	"github.com/skolnik/skolnik/internal/session"
	"github.com/skolnik/skolnik/pkg/logger"
)

// Bakalari API v3 endpoints.
const (
	loginPath     = "/api/login"
	marksPath     = "/api/3/marks"
	messagesPath  = "/api/3/komens/messages/received"
	timetablePath = "/api/3/timetable/actual"

	clientID = "ANDR"

	defaultHTTPTimeout = 30 * time.Second
)

// BakalariClient talks to a Bakalari v3 server over HTTP. It implements
// both session.Authenticator and API.
type BakalariClient struct {
	http   *http.Client
	logger logger.Logger
}

// ClientOption applies a configuration option to the BakalariClient.
type ClientOption func(*BakalariClient)

// WithHTTPClient replaces the underlying HTTP client (tests, custom
// transports).
func WithHTTPClient(c *http.Client) ClientOption {
	return func(b *BakalariClient) {
		if c != nil {
			b.http = c
		}
	}
}

// WithClientLogger sets a custom logger for the client.
func WithClientLogger(l logger.Logger) ClientOption {
	return func(b *BakalariClient) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBakalariClient creates a client with a sane transport timeout. The
// per-fetch deadline is the caller's job via ctx.
func NewBakalariClient(opts ...ClientOption) *BakalariClient {
	b := &BakalariClient{
		http: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logger.Get()
	}
	return b
}

// ---- session.Authenticator ----

type loginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ErrorCode    string `json:"error"`
	Description  string `json:"error_description"`
}

// Authenticate performs a password grant login.
func (b *BakalariClient) Authenticate(ctx context.Context, creds session.Credentials) (*session.Handle, error) {
	form := url.Values{
		"client_id":  {clientID},
		"grant_type": {"password"},
		"username":   {creds.Username},
		"password":   {creds.Password},
	}
	return b.login(ctx, creds.Server, form)
}

// Refresh exchanges a rotated refresh token for a new session.
func (b *BakalariClient) Refresh(ctx context.Context, creds session.Credentials, refreshToken string) (*session.Handle, error) {
	form := url.Values{
		"client_id":     {clientID},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	return b.login(ctx, creds.Server, form)
}

func (b *BakalariClient) login(ctx context.Context, server string, form url.Values) (*session.Handle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+loginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	var out loginResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("%w: decoding login response: %v", ErrTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK && out.AccessToken != "":
		return &session.Handle{
			AccessToken:  out.AccessToken,
			RefreshToken: out.RefreshToken,
			IssuedAt:     time.Now(),
		}, nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		// invalid_grant covers both rejected credentials and dead refresh
		// tokens; the caller decides whether a password fallback remains.
		return nil, fmt.Errorf("%w: %s", ErrAuthFailed, out.Description)
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: login returned %d", ErrUnavailable, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: login returned %d", ErrTransient, resp.StatusCode)
	}
}

// ---- API ----

type marksResponse struct {
	Subjects []struct {
		Subject struct {
			ID     string `json:"Id"`
			Abbrev string `json:"Abbrev"`
			Name   string `json:"Name"`
		} `json:"Subject"`
		Marks []struct {
			ID         string  `json:"Id"`
			MarkDate   string  `json:"MarkDate"`
			Caption    string  `json:"Caption"`
			Theme      string  `json:"Theme"`
			MarkText   string  `json:"MarkText"`
			PointsText string  `json:"PointsText"`
			IsPoints   bool    `json:"IsPoints"`
			MaxPoints  int     `json:"MaxPoints"`
			Weight     float64 `json:"Weight"`
			Teacher    string  `json:"TeacherId"`
		} `json:"Marks"`
	} `json:"Subjects"`
}

// Marks fetches every mark of the current school year, flattened across
// subjects.
func (b *BakalariClient) Marks(ctx context.Context, h *session.Handle, creds session.Credentials) ([]model.Grade, error) {
	var out marksResponse
	if err := b.get(ctx, h, creds.Server+marksPath, &out); err != nil {
		return nil, err
	}

	var grades []model.Grade
	for _, s := range out.Subjects {
		for _, m := range s.Marks {
			if m.ID == "" {
				continue
			}
			g := model.Grade{
				ID:            m.ID,
				SubjectID:     s.Subject.ID,
				SubjectAbbrev: strings.TrimSpace(s.Subject.Abbrev),
				SubjectName:   strings.TrimSpace(s.Subject.Name),
				Caption:       m.Caption,
				MarkText:      m.MarkText,
				MaxPoints:     m.MaxPoints,
				IsPoints:      m.IsPoints,
				Weight:        m.Weight,
				Teacher:       m.Teacher,
				Theme:         m.Theme,
				Date:          parseAPITime(m.MarkDate),
			}
			if m.IsPoints {
				if v, err := strconv.ParseFloat(strings.TrimSpace(m.PointsText), 64); err == nil {
					g.Value = v
				}
			}
			grades = append(grades, g)
		}
	}
	return grades, nil
}

type messagesResponse struct {
	Messages []struct {
		ID       string `json:"Id"`
		Title    string `json:"Title"`
		Text     string `json:"Text"`
		SentDate string `json:"SentDate"`
		Sender   struct {
			Name string `json:"Name"`
		} `json:"Sender"`
		Attachments []struct {
			ID string `json:"Id"`
		} `json:"Attachments"`
	} `json:"Messages"`
}

// Messages fetches received komens messages within [from, to].
func (b *BakalariClient) Messages(ctx context.Context, h *session.Handle, creds session.Credentials, from, to time.Time) ([]model.Message, error) {
	var out messagesResponse
	if err := b.get(ctx, h, creds.Server+messagesPath, &out); err != nil {
		return nil, err
	}

	var msgs []model.Message
	for _, m := range out.Messages {
		if m.ID == "" {
			continue
		}
		sent := parseAPITime(m.SentDate)
		if !from.IsZero() && sent.Before(from) {
			continue
		}
		if !to.IsZero() && sent.After(to) {
			continue
		}
		msgs = append(msgs, model.Message{
			ID:          m.ID,
			Title:       m.Title,
			Text:        m.Text,
			Sender:      m.Sender.Name,
			SentAt:      sent,
			Attachments: len(m.Attachments),
		})
	}
	return msgs, nil
}

type timetableResponse struct {
	Days []struct {
		Date  string `json:"Date"`
		Atoms []struct {
			HourID    int      `json:"HourId"`
			SubjectID string   `json:"SubjectId"`
			TeacherID string   `json:"TeacherId"`
			RoomID    string   `json:"RoomId"`
			GroupIDs  []string `json:"GroupIds"`
			Change    *struct {
				Description string `json:"Description"`
			} `json:"Change"`
		} `json:"Atoms"`
	} `json:"Days"`
	Subjects []ttEntity `json:"Subjects"`
	Teachers []ttEntity `json:"Teachers"`
	Rooms    []ttEntity `json:"Rooms"`
	Groups   []ttEntity `json:"Groups"`
}

type ttEntity struct {
	ID     string `json:"Id"`
	Abbrev string `json:"Abbrev"`
	Name   string `json:"Name"`
}

// Timetable fetches the actual week containing weekOf and flattens it into
// one slot per scheduled lesson.
func (b *BakalariClient) Timetable(ctx context.Context, h *session.Handle, creds session.Credentials, weekOf time.Time) ([]model.TimetableSlot, error) {
	u := creds.Server + timetablePath + "?date=" + weekOf.Format("2006-01-02")
	var out timetableResponse
	if err := b.get(ctx, h, u, &out); err != nil {
		return nil, err
	}

	subjects := entityIndex(out.Subjects)
	teachers := entityIndex(out.Teachers)
	rooms := entityIndex(out.Rooms)
	groups := entityIndex(out.Groups)
	weekStart := startOfWeek(weekOf)

	var slots []model.TimetableSlot
	for _, d := range out.Days {
		day := parseAPITime(d.Date)
		for _, a := range d.Atoms {
			group := groupLabel(a.GroupIDs, groups)
			// Split lessons share a day and hour, so the slot identity
			// carries the group, or the subject when no groups are set.
			qualifier := group
			if qualifier == "" {
				qualifier = a.SubjectID
			}
			slot := model.TimetableSlot{
				ID:        model.SlotID(day, a.HourID, qualifier),
				Day:       day,
				Hour:      a.HourID,
				Group:     group,
				WeekStart: weekStart,
			}
			if s, ok := subjects[a.SubjectID]; ok {
				slot.SubjectAbbrev = s.Abbrev
				slot.SubjectName = s.Name
			}
			if t, ok := teachers[a.TeacherID]; ok {
				slot.Teacher = t.Name
			}
			if r, ok := rooms[a.RoomID]; ok {
				slot.Room = r.Abbrev
			}
			if a.Change != nil {
				slot.Change = a.Change.Description
			}
			slots = append(slots, slot)
		}
	}
	return slots, nil
}

// get performs an authenticated GET and decodes the JSON body into out.
func (b *BakalariClient) get(ctx context.Context, h *session.Handle, rawurl string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	req.Header.Set("Authorization", "Bearer "+h.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s returned 401", ErrAuthRequired, req.URL.Path)
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s returned %d", ErrUnavailable, req.URL.Path, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: %s returned %d", ErrTransient, req.URL.Path, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s: %v", ErrTransient, req.URL.Path, err)
	}
	return nil
}

// classifyTransport maps client-side transport failures. Context
// cancellation and deadline expiry count as transient so the scheduler
// retries on the next cycle.
func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

func entityIndex(entities []ttEntity) map[string]ttEntity {
	idx := make(map[string]ttEntity, len(entities))
	for _, e := range entities {
		idx[e.ID] = e
	}
	return idx
}

// groupLabel joins the attending groups of a split lesson, preferring the
// abbreviation and falling back to the raw id when the group table lacks it.
func groupLabel(ids []string, groups map[string]ttEntity) string {
	if len(ids) == 0 {
		return ""
	}
	labels := make([]string, 0, len(ids))
	for _, id := range ids {
		g, ok := groups[id]
		switch {
		case ok && g.Abbrev != "":
			labels = append(labels, g.Abbrev)
		case ok && g.Name != "":
			labels = append(labels, g.Name)
		default:
			labels = append(labels, id)
		}
	}
	return strings.Join(labels, ",")
}

// parseAPITime accepts the timestamp variants the API is known to emit.
func parseAPITime(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-0700", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// startOfWeek returns the Monday of the week containing t.
func startOfWeek(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
