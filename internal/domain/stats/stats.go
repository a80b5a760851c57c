// Package stats derives per-subject and overall grade statistics from
// annotated grade records.
package stats

import (
	"math"
	"sort"

	"github.com/skolnik/skolnik/internal/domain/model"
)

// Subject aggregates the grades of one subject for one person.
type Subject struct {
	SubjectID     string  `json:"subject_id"`
	SubjectAbbrev string  `json:"subject_abbr"`
	SubjectName   string  `json:"subject_name"`
	Count         int     `json:"count"`
	NewCount      int     `json:"new_count"`
	NumericCount  int     `json:"numeric_count"`
	TextCount     int     `json:"text_count"`
	Mean          float64 `json:"mean"`          // arithmetic mean over point-based values
	WeightedMean  float64 `json:"weighted_mean"` // weight defaults to 1.0 when unspecified

	// Latest is the most recent grade by date. When dates tie, the grade
	// that appeared later in the fetched order wins; input order from the
	// upstream is stable, so this is a documented policy, not an accident.
	Latest *model.Annotated[model.Grade] `json:"latest,omitempty"`
}

// Summary aggregates the same statistics across all subjects of a person.
type Summary struct {
	TotalMarks   int     `json:"total_marks"`
	TotalNumeric int     `json:"total_numeric"`
	TotalText    int     `json:"total_text"`
	NewMarks     int     `json:"new_marks"`
	Mean         float64 `json:"mean"`
	WeightedMean float64 `json:"weighted_mean"`
}

// Overview is the full derived statistics block stored alongside a grades
// snapshot.
type Overview struct {
	Subjects []Subject `json:"subjects"`
	Summary  Summary   `json:"summary"`
}

// Aggregate groups annotated grades by subject and computes the statistics
// for each subject plus the overall summary. Subjects are sorted by display
// name for stable output.
func Aggregate(grades []model.Annotated[model.Grade]) *Overview {
	type acc struct {
		subject     Subject
		sum         float64
		weightedSum float64
		weightTotal float64
	}

	byID := make(map[string]*acc)
	var order []string

	for i := range grades {
		g := grades[i]
		key := subjectKey(g.Record)
		a, ok := byID[key]
		if !ok {
			a = &acc{subject: Subject{
				SubjectID:     g.Record.SubjectID,
				SubjectAbbrev: g.Record.SubjectAbbrev,
				SubjectName:   g.Record.SubjectName,
			}}
			byID[key] = a
			order = append(order, key)
		}

		a.subject.Count++
		if g.IsNew {
			a.subject.NewCount++
		}
		if g.Record.IsPoints {
			a.subject.NumericCount++
			w := g.Record.EffectiveWeight()
			a.sum += g.Record.Value
			a.weightedSum += g.Record.Value * w
			a.weightTotal += w
		} else {
			a.subject.TextCount++
		}

		// Later-fetched record wins on an equal date.
		if a.subject.Latest == nil || !g.Record.Date.Before(a.subject.Latest.Record.Date) {
			latest := g
			a.subject.Latest = &latest
		}
	}

	ov := &Overview{Subjects: make([]Subject, 0, len(order))}
	var totalSum, totalWeightedSum, totalWeight float64
	for _, key := range order {
		a := byID[key]
		if a.subject.NumericCount > 0 {
			a.subject.Mean = round3(a.sum / float64(a.subject.NumericCount))
			a.subject.WeightedMean = round3(a.weightedSum / a.weightTotal)
		}
		ov.Summary.TotalMarks += a.subject.Count
		ov.Summary.TotalNumeric += a.subject.NumericCount
		ov.Summary.TotalText += a.subject.TextCount
		ov.Summary.NewMarks += a.subject.NewCount
		totalSum += a.sum
		totalWeightedSum += a.weightedSum
		totalWeight += a.weightTotal
		ov.Subjects = append(ov.Subjects, a.subject)
	}
	if ov.Summary.TotalNumeric > 0 {
		ov.Summary.Mean = round3(totalSum / float64(ov.Summary.TotalNumeric))
		ov.Summary.WeightedMean = round3(totalWeightedSum / totalWeight)
	}

	sort.SliceStable(ov.Subjects, func(i, j int) bool {
		return ov.Subjects[i].SubjectName < ov.Subjects[j].SubjectName
	})
	return ov
}

// subjectKey follows the original priority: subject id, then abbreviation,
// then name, finally "unknown".
func subjectKey(g model.Grade) string {
	switch {
	case g.SubjectID != "":
		return g.SubjectID
	case g.SubjectAbbrev != "":
		return g.SubjectAbbrev
	case g.SubjectName != "":
		return g.SubjectName
	}
	return "unknown"
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
