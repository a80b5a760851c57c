package stats_test

import (
	"testing"
	"time"

	"github.com/skolnik/skolnik/internal/domain/model"
	"github.com/skolnik/skolnik/internal/domain/stats"
	. "github.com/smartystreets/goconvey/convey"
)

func numeric(subject string, value, weight float64, day int) model.Annotated[model.Grade] {
	return model.Annotated[model.Grade]{Record: model.Grade{
		ID:          subject + "-" + time.Date(2026, 1, day, 0, 0, 0, 0, time.UTC).Format("02"),
		SubjectID:   subject,
		SubjectName: subject,
		Value:       value,
		Weight:      weight,
		IsPoints:    true,
		Date:        time.Date(2026, 1, day, 0, 0, 0, 0, time.UTC),
	}}
}

func textual(subject, text string, day int) model.Annotated[model.Grade] {
	return model.Annotated[model.Grade]{Record: model.Grade{
		ID:          subject + "-txt-" + text,
		SubjectID:   subject,
		SubjectName: subject,
		MarkText:    text,
		Date:        time.Date(2026, 1, day, 0, 0, 0, 0, time.UTC),
	}}
}

func TestAggregate(t *testing.T) {
	Convey("Given grades of a single subject", t, func() {
		Convey("When weights differ", func() {
			ov := stats.Aggregate([]model.Annotated[model.Grade]{
				numeric("MAT", 1, 2, 1),
				numeric("MAT", 3, 1, 2),
			})

			Convey("Then means follow the weights", func() {
				So(ov.Subjects, ShouldHaveLength, 1)
				s := ov.Subjects[0]
				So(s.Mean, ShouldEqual, 2.0)
				// (1*2 + 3*1) / 3, rounded to three decimals
				So(s.WeightedMean, ShouldEqual, 1.667)
				So(ov.Summary.WeightedMean, ShouldEqual, 1.667)
			})
		})

		Convey("When a weight is missing", func() {
			ov := stats.Aggregate([]model.Annotated[model.Grade]{
				numeric("MAT", 1, 0, 1),
				numeric("MAT", 3, 1, 2),
			})

			Convey("Then it defaults to 1.0", func() {
				So(ov.Subjects[0].WeightedMean, ShouldEqual, 2.0)
			})
		})

		Convey("When textual marks are mixed in", func() {
			ov := stats.Aggregate([]model.Annotated[model.Grade]{
				numeric("MAT", 2, 1, 1),
				textual("MAT", "A", 2),
			})

			Convey("Then text marks count but never enter the means", func() {
				s := ov.Subjects[0]
				So(s.Count, ShouldEqual, 2)
				So(s.NumericCount, ShouldEqual, 1)
				So(s.TextCount, ShouldEqual, 1)
				So(s.Mean, ShouldEqual, 2.0)
			})
		})

		Convey("When two grades share the same date", func() {
			first := numeric("MAT", 1, 1, 5)
			second := numeric("MAT", 3, 1, 5)
			second.Record.ID = "MAT-tie"
			ov := stats.Aggregate([]model.Annotated[model.Grade]{first, second})

			Convey("Then the later-fetched grade is the latest", func() {
				So(ov.Subjects[0].Latest.Record.ID, ShouldEqual, "MAT-tie")
			})
		})
	})

	Convey("Given grades across subjects", t, func() {
		a := numeric("CJL", 1, 1, 1)
		a.IsNew = true
		ov := stats.Aggregate([]model.Annotated[model.Grade]{
			numeric("MAT", 2, 1, 1),
			numeric("MAT", 4, 1, 2),
			a,
		})

		Convey("Then subjects are split and sorted by name", func() {
			So(ov.Subjects, ShouldHaveLength, 2)
			So(ov.Subjects[0].SubjectName, ShouldEqual, "CJL")
			So(ov.Subjects[1].SubjectName, ShouldEqual, "MAT")
			So(ov.Subjects[1].Mean, ShouldEqual, 3.0)
		})

		Convey("And the summary covers everything", func() {
			So(ov.Summary.TotalMarks, ShouldEqual, 3)
			So(ov.Summary.TotalNumeric, ShouldEqual, 3)
			So(ov.Summary.NewMarks, ShouldEqual, 1)
			// (2 + 4 + 1) / 3
			So(ov.Summary.Mean, ShouldEqual, 2.333)
		})
	})

	Convey("Given a grade without any subject identity", t, func() {
		g := numeric("", 2, 1, 1)
		g.Record.SubjectName = ""
		ov := stats.Aggregate([]model.Annotated[model.Grade]{g})

		Convey("Then it lands in a single unknown bucket", func() {
			So(ov.Subjects, ShouldHaveLength, 1)
			So(ov.Subjects[0].Count, ShouldEqual, 1)
		})
	})

	Convey("Given no grades", t, func() {
		ov := stats.Aggregate(nil)

		Convey("Then the overview is empty but well formed", func() {
			So(ov.Subjects, ShouldBeEmpty)
			So(ov.Summary.TotalMarks, ShouldEqual, 0)
			So(ov.Summary.Mean, ShouldEqual, 0)
		})
	})
}
