// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Domain identifies one of the synchronized record kinds.
type Domain string

// Synchronized domains.
const (
	DomainGrades    Domain = "grades"
	DomainMessages  Domain = "messages"
	DomainTimetable Domain = "timetable"
)

// Domains lists every synchronized domain in a stable order.
func Domains() []Domain {
	return []Domain{DomainGrades, DomainMessages, DomainTimetable}
}

// ParseDomain validates a domain name coming from an external caller.
func ParseDomain(s string) (Domain, bool) {
	switch Domain(strings.ToLower(strings.TrimSpace(s))) {
	case DomainGrades:
		return DomainGrades, true
	case DomainMessages:
		return DomainMessages, true
	case DomainTimetable:
		return DomainTimetable, true
	}
	return "", false
}

// PersonKey is the stable composite identifier scoping all cached state to
// one tracked person. It is composed as "<server>|<user_id>" so the same
// user id on two schools never collides.
type PersonKey string

// NewPersonKey builds a PersonKey. The server part must not contain '|'.
func NewPersonKey(server, userID string) PersonKey {
	return PersonKey(fmt.Sprintf("%s|%s", server, userID))
}

// Record is any upstream item carrying a stable identifier unique within
// its (person, domain) pair.
type Record interface {
	// RecordID returns the upstream identifier, stable across fetches.
	RecordID() string

	// SortTime returns the time used for domain ordering
	// (most recent first for grades/messages, week order for timetable).
	SortTime() time.Time
}

// Annotated pairs a record with its derived new-item flag. The flag is
// recomputed from the seen-set on every diff pass; the record itself is
// never mutated by annotation.
type Annotated[T Record] struct {
	Record T    `json:"record"`
	IsNew  bool `json:"is_new"`
}

// Grade is a single mark as reported by the upstream marks endpoint.
type Grade struct {
	ID            string    `json:"id"`
	SubjectID     string    `json:"subject_id"`
	SubjectAbbrev string    `json:"subject_abbr"`
	SubjectName   string    `json:"subject_name"`
	Caption       string    `json:"caption,omitempty"`
	MarkText      string    `json:"mark_text,omitempty"`
	Value         float64   `json:"value,omitempty"`
	MaxPoints     int       `json:"max_points,omitempty"`
	IsPoints      bool      `json:"is_points"`
	Weight        float64   `json:"weight,omitempty"` // 0 means unspecified (counts as 1.0)
	Teacher       string    `json:"teacher,omitempty"`
	Theme         string    `json:"theme,omitempty"`
	Date          time.Time `json:"date"`
}

func (g Grade) RecordID() string    { return g.ID }
func (g Grade) SortTime() time.Time { return g.Date }

// EffectiveWeight returns the weight used for weighted means.
func (g Grade) EffectiveWeight() float64 {
	if g.Weight > 0 {
		return g.Weight
	}
	return 1.0
}

// Message is a received komens message.
type Message struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Text        string    `json:"text,omitempty"`
	Sender      string    `json:"sender,omitempty"`
	SentAt      time.Time `json:"sent_at"`
	Attachments int       `json:"attachments,omitempty"`
}

func (m Message) RecordID() string    { return m.ID }
func (m Message) SortTime() time.Time { return m.SentAt }

// TimetableSlot is one lesson in an actual timetable week.
type TimetableSlot struct {
	ID            string    `json:"id"` // "<day>|<hour>[|<qualifier>]", stable within a person
	Day           time.Time `json:"day"`
	Hour          int       `json:"hour"`
	SubjectAbbrev string    `json:"subject_abbr"`
	SubjectName   string    `json:"subject_name,omitempty"`
	Teacher       string    `json:"teacher,omitempty"`
	Room          string    `json:"room,omitempty"`
	Group         string    `json:"group,omitempty"`  // class groups attending a split lesson
	Change        string    `json:"change,omitempty"` // non-empty when the lesson deviates from the permanent plan
	WeekStart     time.Time `json:"week_start"`
}

func (t TimetableSlot) RecordID() string    { return t.ID }
func (t TimetableSlot) SortTime() time.Time { return t.Day }

// SlotID derives the stable identifier for a timetable slot. The qualifier
// keeps parallel lessons in the same hour apart, such as a class split into
// language groups.
func SlotID(day time.Time, hour int, qualifier string) string {
	id := fmt.Sprintf("%s|%d", day.Format("2006-01-02"), hour)
	if qualifier != "" {
		id += "|" + qualifier
	}
	return id
}
