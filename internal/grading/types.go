// Package grading implements the assessment scoring engine: per-question
// auto grading, code execution orchestration, late penalties, rubric
// scoring and grade finalization. Everything in this package is free of
// persistence concerns; the submission service applies the returned
// records wholesale.
package grading

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/evalhub/assess-go-api/internal/models"
)

// Question is the grading engine's read-only view of one assessment item.
type Question struct {
	ID               uint
	Type             string
	Points           float64
	Options          []models.Option
	CorrectAnswer    json.RawMessage
	TestCases        []models.TestCase
	AllowedLanguages []string
}

// QuestionFromModel projects a persisted question into the engine view.
func QuestionFromModel(q models.Question) Question {
	return Question{
		ID:               q.ID,
		Type:             q.Type,
		Points:           q.Points,
		Options:          q.Options,
		CorrectAnswer:    json.RawMessage(q.CorrectAnswer),
		TestCases:        q.TestCases,
		AllowedLanguages: q.AllowedLanguages,
	}
}

// QuestionsFromModel projects an assessment's question list.
func QuestionsFromModel(questions []models.Question) []Question {
	out := make([]Question, 0, len(questions))
	for _, q := range questions {
		out = append(out, QuestionFromModel(q))
	}
	return out
}

// Answer is one submitted answer to be graded.
type Answer struct {
	QuestionID uint
	Value      json.RawMessage
}

// CodeAnswer is the structured payload of a coding answer.
type CodeAnswer struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

// QuestionComment carries manually awarded points for one question, used
// for essay and short-answer grading.
type QuestionComment struct {
	QuestionID uint    `json:"question_id"`
	Points     float64 `json:"points"`
	Comment    string  `json:"comment,omitempty"`
}

// Feedback is the instructor input supplied alongside a grading call.
type Feedback struct {
	Overall          string            `json:"overall,omitempty"`
	QuestionComments []QuestionComment `json:"question_comments,omitempty"`
}

func (f Feedback) commentFor(questionID uint) (QuestionComment, bool) {
	for _, comment := range f.QuestionComments {
		if comment.QuestionID == questionID {
			return comment, true
		}
	}
	return QuestionComment{}, false
}

// Result is the grading outcome for a single answer. The submitted answer
// itself is never mutated; the lifecycle manager copies these fields onto
// the stored answer record.
type Result struct {
	QuestionID      uint
	IsCorrect       bool
	Points          float64
	PassedTestCases int
	TotalTestCases  int
	Coding          bool
}

// Totals aggregates results across all graded answers.
type Totals struct {
	EarnedPoints      float64
	CorrectAnswers    int
	AnsweredQuestions int
}

// decodeString extracts a string form of a submitted scalar value. JSON
// numbers are formatted so legacy clients submitting option ids as
// numbers still match.
func decodeString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatFloat(n, 'f', -1, 64), true
	}

	return "", false
}

func decodeBool(raw json.RawMessage) (bool, bool) {
	if len(raw) == 0 {
		return false, false
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, true
	}

	return false, false
}

func decodeCode(raw json.RawMessage) (CodeAnswer, bool) {
	if len(raw) == 0 {
		return CodeAnswer{}, false
	}

	var code CodeAnswer
	if err := json.Unmarshal(raw, &code); err != nil {
		return CodeAnswer{}, false
	}
	if strings.TrimSpace(code.Code) == "" || strings.TrimSpace(code.Language) == "" {
		return CodeAnswer{}, false
	}

	return code, true
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
