package grading

import (
	"math"

	"github.com/evalhub/assess-go-api/internal/models"
)

// RubricOutcome is the result of re-deriving a total from rubric criteria.
// When Applied is true, TotalEarned replaces the auto-graded total.
type RubricOutcome struct {
	Applied     bool
	Earned      float64
	Max         float64
	TotalEarned float64
	Scores      []models.RubricScore
}

// ScoreRubric matches supplied scores to the assessment's criteria,
// clamps each to the criterion's range and scales the summed result onto
// the assessment total. Criteria without a supplied score count as zero
// earned but still contribute their max points.
func ScoreRubric(criteria []models.RubricCriterion, scores []models.RubricScore, totalPoints float64) RubricOutcome {
	if len(criteria) == 0 || len(scores) == 0 {
		return RubricOutcome{}
	}

	byID := make(map[uint]models.RubricScore, len(scores))
	for _, score := range scores {
		byID[score.CriterionID] = score
	}

	outcome := RubricOutcome{Scores: make([]models.RubricScore, 0, len(criteria))}
	for _, criterion := range criteria {
		earned := 0.0
		comment := ""
		if score, ok := byID[criterion.ID]; ok {
			earned = score.EarnedPoints
			comment = score.Comment
		}
		if earned < 0 {
			earned = 0
		}
		if earned > criterion.MaxPoints {
			earned = criterion.MaxPoints
		}

		outcome.Earned += earned
		outcome.Max += criterion.MaxPoints
		outcome.Scores = append(outcome.Scores, models.RubricScore{
			CriterionID:  criterion.ID,
			EarnedPoints: earned,
			MaxPoints:    criterion.MaxPoints,
			Comment:      comment,
		})
	}

	if outcome.Max > 0 && totalPoints > 0 {
		outcome.Applied = true
		outcome.TotalEarned = math.Round(outcome.Earned / outcome.Max * totalPoints)
	}

	return outcome
}
