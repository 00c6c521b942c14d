package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/evalhub/assess-go-api/internal/dto"
	"github.com/evalhub/assess-go-api/internal/models"
	"github.com/evalhub/assess-go-api/internal/repository"
	"github.com/evalhub/assess-go-api/pkg/ai"
)

// ErrAssistantUnavailable indicates no feedback assistant is configured.
var ErrAssistantUnavailable = errors.New("feedback assistant is not configured")

// SuggestionService drafts essay feedback for instructors. Suggestions are
// never persisted or applied automatically; the instructor copies what
// they agree with into a grading call.
type SuggestionService interface {
	SuggestEssayFeedback(ctx context.Context, submissionID uint) ([]dto.EssaySuggestionResponse, error)
}

type suggestionService struct {
	submissions repository.SubmissionRepository
	assessments repository.AssessmentRepository
	assistant   ai.Assistant
	logger      zerolog.Logger
}

// NewSuggestionService constructs the essay feedback suggestion service.
// A nil assistant disables the feature.
func NewSuggestionService(
	submissions repository.SubmissionRepository,
	assessments repository.AssessmentRepository,
	assistant ai.Assistant,
	logger zerolog.Logger,
) SuggestionService {
	return &suggestionService{
		submissions: submissions,
		assessments: assessments,
		assistant:   assistant,
		logger:      logger.With().Str("component", "suggestion_service").Logger(),
	}
}

func (s *suggestionService) SuggestEssayFeedback(ctx context.Context, submissionID uint) ([]dto.EssaySuggestionResponse, error) {
	if s.assistant == nil {
		return nil, ErrAssistantUnavailable
	}

	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	if !submission.IsCompleted() {
		return nil, ErrSubmissionNotCompleted
	}

	assessment, err := s.assessments.GetWithQuestions(ctx, submission.AssessmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAssessmentNotFound
		}
		return nil, err
	}

	questions := make(map[uint]models.Question, len(assessment.Questions))
	for _, question := range assessment.Questions {
		if question.Type == models.QuestionTypeEssay || question.Type == models.QuestionTypeShortAnswer {
			questions[question.ID] = question
		}
	}

	var suggestions []dto.EssaySuggestionResponse
	for _, answer := range submission.Answers {
		question, ok := questions[answer.QuestionID]
		if !ok {
			continue
		}

		var text string
		if err := json.Unmarshal(answer.Value, &text); err != nil || text == "" {
			continue
		}

		suggestion, err := s.assistant.SuggestFeedback(ctx, ai.EssayInput{
			QuestionPrompt: question.Prompt,
			StudentAnswer:  text,
			MaxPoints:      question.Points,
		})
		if err != nil {
			// A model hiccup on one answer should not void the rest.
			s.logger.Warn().Err(err).
				Uint("submission_id", submissionID).
				Uint("question_id", question.ID).
				Msg("feedback suggestion failed")
			continue
		}

		suggestions = append(suggestions, dto.EssaySuggestionResponse{
			QuestionID:      question.ID,
			SuggestedPoints: suggestion.SuggestedPoints,
			Comment:         suggestion.Comment,
			Confidence:      suggestion.Confidence,
		})
	}

	return suggestions, nil
}
