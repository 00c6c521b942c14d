package grading

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"github.com/evalhub/assess-go-api/internal/models"
)

// manualCorrectThreshold marks a manually scored answer as correct when
// the awarded points exceed this share of the question's points. It is a
// display flag only; the points themselves stay authoritative.
const manualCorrectThreshold = 0.6

// Grader scores individual answers by question type. Coding answers are
// delegated to the code runner.
type Grader struct {
	code   *CodeRunner
	logger zerolog.Logger
}

// NewGrader constructs the auto grader.
func NewGrader(code *CodeRunner, logger zerolog.Logger) *Grader {
	return &Grader{
		code:   code,
		logger: logger.With().Str("component", "auto_grader").Logger(),
	}
}

// GradeAll grades every answer that maps to a known question and
// aggregates earned points, correct count and answered count. Answers
// referencing unknown question ids are skipped rather than treated as
// errors, matching how stale drafts behave after an assessment edit.
func (g *Grader) GradeAll(ctx context.Context, questions []Question, answers []Answer, feedback Feedback) ([]Result, Totals) {
	byID := make(map[uint]Question, len(questions))
	for _, question := range questions {
		byID[question.ID] = question
	}

	results := make([]Result, 0, len(answers))
	totals := Totals{}

	for _, answer := range answers {
		question, ok := byID[answer.QuestionID]
		if !ok {
			g.logger.Debug().Uint("question_id", answer.QuestionID).Msg("answer references unknown question, skipping")
			continue
		}

		result := g.GradeAnswer(ctx, question, answer, feedback)
		results = append(results, result)

		totals.AnsweredQuestions++
		totals.EarnedPoints += result.Points
		if result.IsCorrect {
			totals.CorrectAnswers++
		}
	}

	return results, totals
}

// GradeAnswer scores one answer against its question definition.
func (g *Grader) GradeAnswer(ctx context.Context, question Question, answer Answer, feedback Feedback) Result {
	result := Result{QuestionID: question.ID}

	switch question.Type {
	case models.QuestionTypeMultipleChoice:
		result.IsCorrect = g.gradeMultipleChoice(question, answer)
	case models.QuestionTypeTrueFalse:
		result.IsCorrect = g.gradeTrueFalse(question, answer)
	case models.QuestionTypeFillBlank:
		result.IsCorrect = g.gradeFillBlank(question, answer)
	case models.QuestionTypeShortAnswer, models.QuestionTypeEssay:
		return g.gradeManual(question, feedback)
	case models.QuestionTypeCoding:
		return g.gradeCoding(ctx, question, answer)
	default:
		g.logger.Warn().Str("type", question.Type).Uint("question_id", question.ID).Msg("unknown question type")
		return result
	}

	if result.IsCorrect {
		result.Points = question.Points
	}
	return result
}

// gradeMultipleChoice accepts the correct option's id, its text compared
// case- and whitespace-insensitively, or the question's raw correctAnswer
// value kept for legacy assessments.
func (g *Grader) gradeMultipleChoice(question Question, answer Answer) bool {
	submitted, ok := decodeString(answer.Value)
	if !ok {
		return false
	}

	for _, option := range question.Options {
		if !option.IsCorrect {
			continue
		}
		if submitted == option.ID {
			return true
		}
		if strings.EqualFold(strings.TrimSpace(submitted), strings.TrimSpace(option.Text)) {
			return true
		}
	}

	if legacy, ok := decodeString(question.CorrectAnswer); ok && legacy != "" && submitted == legacy {
		return true
	}

	return false
}

func (g *Grader) gradeTrueFalse(question Question, answer Answer) bool {
	submitted, ok := decodeBool(answer.Value)
	if !ok {
		return false
	}
	expected, ok := decodeBool(question.CorrectAnswer)
	if !ok {
		return false
	}
	return submitted == expected
}

// gradeFillBlank matches the normalized submission against the accepted
// values, which are stored either as an array or a pipe-delimited string.
func (g *Grader) gradeFillBlank(question Question, answer Answer) bool {
	submitted, ok := decodeString(answer.Value)
	if !ok {
		return false
	}
	submitted = normalize(submitted)

	for _, accepted := range acceptedAnswers(question.CorrectAnswer) {
		if submitted == accepted {
			return true
		}
	}
	return false
}

func acceptedAnswers(raw json.RawMessage) []string {
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		var single string
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil
		}
		list = strings.Split(single, "|")
	}

	accepted := make([]string, 0, len(list))
	for _, value := range list {
		accepted = append(accepted, normalize(value))
	}
	return accepted
}

// gradeManual awards the points supplied through instructor feedback.
func (g *Grader) gradeManual(question Question, feedback Feedback) Result {
	result := Result{QuestionID: question.ID}

	comment, ok := feedback.commentFor(question.ID)
	if !ok {
		return result
	}

	points := comment.Points
	if points < 0 {
		points = 0
	}
	if points > question.Points {
		points = question.Points
	}

	result.Points = points
	result.IsCorrect = points > manualCorrectThreshold*question.Points
	return result
}

func (g *Grader) gradeCoding(ctx context.Context, question Question, answer Answer) Result {
	result := Result{QuestionID: question.ID, Coding: true, TotalTestCases: len(question.TestCases)}

	code, ok := decodeCode(answer.Value)
	if !ok {
		g.logger.Warn().Uint("question_id", question.ID).Msg("coding answer missing code or language")
		return result
	}

	if len(question.AllowedLanguages) > 0 && !languageAllowed(question.AllowedLanguages, code.Language) {
		return result
	}

	// No oracle, no partial credit.
	if len(question.TestCases) == 0 {
		return result
	}

	outcome := g.code.Run(ctx, question, code.Code, code.Language)
	result.Points = outcome.Points
	result.IsCorrect = outcome.IsCorrect
	result.PassedTestCases = outcome.PassedTestCases
	result.TotalTestCases = outcome.TotalTestCases
	return result
}

func languageAllowed(allowed []string, language string) bool {
	for _, candidate := range allowed {
		if strings.EqualFold(strings.TrimSpace(candidate), strings.TrimSpace(language)) {
			return true
		}
	}
	return false
}
