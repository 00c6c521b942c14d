package ai

import "context"

// EssayInput contains the artefacts needed to draft feedback for one
// essay or short-answer response.
type EssayInput struct {
	QuestionPrompt string
	StudentAnswer  string
	MaxPoints      float64
	RubricNotes    string
}

// EssaySuggestion is the structured draft returned by the assistant. It
// is advisory only; the instructor decides what to award.
type EssaySuggestion struct {
	SuggestedPoints float64                `json:"suggested_points"`
	Comment         string                 `json:"comment"`
	Confidence      float64                `json:"confidence"`
	Details         map[string]interface{} `json:"details,omitempty"`
}

// Assistant describes a model capable of drafting essay feedback.
type Assistant interface {
	SuggestFeedback(ctx context.Context, input EssayInput) (EssaySuggestion, error)
}
