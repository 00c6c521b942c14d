package grading

import "math"

// Final is the computed percentage, pass/fail flag and letter grade.
type Final struct {
	Percentage float64
	IsPassed   bool
	Grade      string
}

// Finalize derives the final grade figures from earned and total points.
// The pass determination uses the unrounded ratio so a passing score is
// never reached by rounding alone.
func Finalize(earnedPoints, totalPoints, passingScore float64) Final {
	if totalPoints <= 0 {
		return Final{Percentage: 0, IsPassed: false, Grade: LetterGrade(0)}
	}

	ratio := earnedPoints / totalPoints * 100

	return Final{
		Percentage: math.Round(ratio),
		IsPassed:   ratio >= passingScore,
		Grade:      LetterGrade(math.Round(ratio)),
	}
}

// LetterGrade maps a percentage onto a letter grade. Boundaries are
// inclusive at the lower edge: 90 is an A, 89 a B.
func LetterGrade(percentage float64) string {
	switch {
	case percentage >= 90:
		return "A"
	case percentage >= 80:
		return "B"
	case percentage >= 70:
		return "C"
	case percentage >= 60:
		return "D"
	default:
		return "F"
	}
}
