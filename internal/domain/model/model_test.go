package model_test

import (
	"testing"
	"time"

	"github.com/skolnik/skolnik/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestPersonKey(t *testing.T) {
	Convey("Given server and user id", t, func() {
		Convey("Then the key composes both parts", func() {
			k := model.NewPersonKey("school.example.cz", "student-1")
			So(k, ShouldEqual, model.PersonKey("school.example.cz|student-1"))
		})

		Convey("Then the same user id on two servers never collides", func() {
			a := model.NewPersonKey("a.example.cz", "student-1")
			b := model.NewPersonKey("b.example.cz", "student-1")
			So(a, ShouldNotEqual, b)
		})
	})
}

func TestParseDomain(t *testing.T) {
	Convey("Given external domain names", t, func() {
		Convey("Then known names parse case-insensitively", func() {
			for _, raw := range []string{"grades", "GRADES", " messages ", "Timetable"} {
				_, ok := model.ParseDomain(raw)
				So(ok, ShouldBeTrue)
			}
		})

		Convey("Then unknown names are rejected", func() {
			_, ok := model.ParseDomain("homework")
			So(ok, ShouldBeFalse)
			_, ok = model.ParseDomain("")
			So(ok, ShouldBeFalse)
		})

		Convey("And Domains lists every parseable domain", func() {
			for _, d := range model.Domains() {
				got, ok := model.ParseDomain(string(d))
				So(ok, ShouldBeTrue)
				So(got, ShouldEqual, d)
			}
		})
	})
}

func TestRecords(t *testing.T) {
	Convey("Given the record implementations", t, func() {
		day := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

		Convey("Then grades sort by mark date", func() {
			g := model.Grade{ID: "m1", Date: day}
			So(g.RecordID(), ShouldEqual, "m1")
			So(g.SortTime(), ShouldResemble, day)
		})

		Convey("Then an unspecified grade weight counts as one", func() {
			So(model.Grade{}.EffectiveWeight(), ShouldEqual, 1.0)
			So(model.Grade{Weight: -1}.EffectiveWeight(), ShouldEqual, 1.0)
			So(model.Grade{Weight: 2.5}.EffectiveWeight(), ShouldEqual, 2.5)
		})

		Convey("Then timetable slot ids derive from day, hour and qualifier", func() {
			So(model.SlotID(day, 3, ""), ShouldEqual, "2026-03-09|3")
			So(model.SlotID(day, 3, "MAT"), ShouldEqual, "2026-03-09|3|MAT")
			So(model.SlotID(day, 3, "AJ1"), ShouldNotEqual, model.SlotID(day, 3, "AJ2"))
			s := model.TimetableSlot{ID: model.SlotID(day, 3, ""), Day: day, Hour: 3}
			So(s.RecordID(), ShouldEqual, "2026-03-09|3")
			So(s.SortTime(), ShouldResemble, day)
		})

		Convey("Then messages sort by sent time", func() {
			m := model.Message{ID: "k1", SentAt: day}
			So(m.RecordID(), ShouldEqual, "k1")
			So(m.SortTime(), ShouldResemble, day)
		})
	})
}
