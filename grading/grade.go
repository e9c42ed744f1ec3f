package grading

import (
	"math"
	"strconv"

	"gradebook-server-go/models"
)

// Grade is a computed grade. Invalid grades (ungraded cells, malformed input,
// broken settings) are first-class values, not errors: they display as "not
// available" and are excluded from averages.
type Grade struct {
	Value float64
	Valid bool
}

// Invalid is the sentinel for a grade that could not be computed.
var Invalid = Grade{}

// Calculate maps a raw score onto the two-segment piecewise-linear grading
// scale. The score is clamped to maxScore before mapping; values above max do
// not extrapolate. Returns Invalid for non-finite inputs, maxScore <= 0, or a
// settings record violating minGrade < passingGrade < maxGrade.
func Calculate(score, maxScore, exigency float64, s models.Settings) Grade {
	if math.IsNaN(score) || math.IsInf(score, 0) ||
		math.IsNaN(maxScore) || math.IsInf(maxScore, 0) ||
		math.IsNaN(exigency) || math.IsInf(exigency, 0) {
		return Invalid
	}
	if maxScore <= 0 || !s.Valid() {
		return Invalid
	}
	if score > maxScore {
		score = maxScore
	}
	passingScore := maxScore * (exigency / 100)
	if score <= passingScore {
		// Degenerate lower segment: a zero passing score means everything
		// at or below it already passes.
		if passingScore == 0 {
			return Grade{Value: s.PassingGrade, Valid: true}
		}
		return Grade{Value: s.MinGrade + score*((s.PassingGrade-s.MinGrade)/passingScore), Valid: true}
	}
	scoreRange := maxScore - passingScore
	if scoreRange <= 0 {
		return Grade{Value: s.MaxGrade, Valid: true}
	}
	return Grade{Value: s.PassingGrade + (score-passingScore)*((s.MaxGrade-s.PassingGrade)/scoreRange), Valid: true}
}

// CalculateRaw parses stored score text and grades it. Empty text (ungraded)
// and unparsable text yield Invalid.
func CalculateRaw(raw string, maxScore, exigency float64, s models.Settings) Grade {
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Invalid
	}
	return Calculate(score, maxScore, exigency, s)
}

// Average is the arithmetic mean of the valid grades. Invalid entries are
// excluded from both numerator and denominator; if every entry is Invalid the
// average is Invalid.
func Average(grades []Grade) Grade {
	var total float64
	count := 0
	for _, g := range grades {
		if g.Valid {
			total += g.Value
			count++
		}
	}
	if count == 0 {
		return Invalid
	}
	return Grade{Value: total / float64(count), Valid: true}
}

// StudentGrades computes a student's per-evaluation grades and their average
// for one sheet, resolving differentiated max scores from the student's
// highlight. Grades are derived on read and never persisted.
func StudentGrades(sh models.Sheet, st models.Student, s models.Settings) ([]Grade, Grade) {
	grades := make([]Grade, len(sh.Evaluations))
	for i, ev := range sh.Evaluations {
		max := ev.EffectiveMaxScore(st.Highlight)
		grades[i] = CalculateRaw(st.Scores[ev.ID], max, ev.Exigency, s)
	}
	return grades, Average(grades)
}
