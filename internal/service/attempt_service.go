package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/evalhub/assess-go-api/internal/dto"
	"github.com/evalhub/assess-go-api/internal/grading"
	"github.com/evalhub/assess-go-api/internal/models"
	"github.com/evalhub/assess-go-api/internal/repository"
)

// ErrSubmissionNotFound indicates the submission id is unknown.
var ErrSubmissionNotFound = errors.New("submission not found")

// ErrAssessmentNotFound indicates the assessment id is unknown.
var ErrAssessmentNotFound = errors.New("assessment not found")

// ErrInvalidAnswerFormat indicates the submitted answers payload is not an
// array of answer objects.
var ErrInvalidAnswerFormat = errors.New("answers must be an array")

// ErrLateSubmissionRejected indicates the deadline has passed and the
// assessment's late policy disallows late submissions.
var ErrLateSubmissionRejected = errors.New("late submission rejected")

// ErrQuestionIDRequired indicates a progress update without a question id.
var ErrQuestionIDRequired = errors.New("question id is required")

// ErrAttemptNotActive indicates the submission is not in progress.
var ErrAttemptNotActive = errors.New("attempt is not in progress")

// answersSchema validates the structural shape of a submitted answers
// payload before it is decoded. The answer value itself is free-form; its
// interpretation belongs to the grader.
const answersSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"properties": {
			"question_id": {"type": "integer", "minimum": 0},
			"value": {},
			"time_spent_seconds": {"type": "integer", "minimum": 0}
		}
	}
}`

// AttemptService manages the submission lifecycle: starting attempts,
// recording progress and handing work in.
type AttemptService interface {
	CreateAttempt(ctx context.Context, assessmentID uint, payload dto.AttemptCreateRequest) (dto.SubmissionResponse, error)
	UpdateProgress(ctx context.Context, submissionID uint, payload dto.ProgressUpdateRequest) (dto.SubmissionResponse, error)
	Submit(ctx context.Context, submissionID uint, payload dto.SubmitRequest) (dto.SubmissionResponse, error)
	RecordViolation(ctx context.Context, submissionID uint, payload dto.ViolationRequest) (dto.SubmissionResponse, error)
	List(ctx context.Context, filter dto.SubmissionFilter) ([]dto.SubmissionResponse, error)
	Get(ctx context.Context, submissionID uint) (dto.SubmissionResponse, error)
}

type attemptService struct {
	submissions repository.SubmissionRepository
	assessments repository.AssessmentRepository
	resolver    grading.LatePolicyResolver
	locks       *SubmissionLocks
	validator   *validator.Validate
	schema      *jsonschema.Schema
	sanitizer   *bluemonday.Policy
	events      EventPublisher
	logger      zerolog.Logger
	now         func() time.Time
}

// NewAttemptService constructs the submission lifecycle service.
func NewAttemptService(
	submissions repository.SubmissionRepository,
	assessments repository.AssessmentRepository,
	resolver grading.LatePolicyResolver,
	locks *SubmissionLocks,
	validate *validator.Validate,
	events EventPublisher,
	logger zerolog.Logger,
) AttemptService {
	schema := jsonschema.MustCompileString("answers.json", answersSchema)
	if events == nil {
		events = NopPublisher{}
	}

	return &attemptService{
		submissions: submissions,
		assessments: assessments,
		resolver:    resolver,
		locks:       locks,
		validator:   validate,
		schema:      schema,
		sanitizer:   bluemonday.StrictPolicy(),
		events:      events,
		logger:      logger.With().Str("component", "attempt_service").Logger(),
		now:         time.Now,
	}
}

func (s *attemptService) CreateAttempt(ctx context.Context, assessmentID uint, payload dto.AttemptCreateRequest) (dto.SubmissionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	if _, err := s.assessments.GetByID(ctx, assessmentID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrAssessmentNotFound
		}
		return dto.SubmissionResponse{}, err
	}

	submission := models.Submission{
		AssessmentID:     assessmentID,
		StudentID:        payload.StudentID,
		EnrollmentID:     payload.EnrollmentID,
		TimeLimitMinutes: payload.TimeLimitMinutes,
		StartedAt:        s.now(),
		Answers:          datatypes.JSONSlice[models.Answer]{},
	}

	if err := s.submissions.CreateAttempt(ctx, &submission); err != nil {
		return dto.SubmissionResponse{}, err
	}

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Uint("assessment_id", assessmentID).
		Uint("student_id", payload.StudentID).
		Int("attempt_number", submission.AttemptNumber).
		Msg("attempt started")

	return dto.NewSubmissionResponse(submission), nil
}

func (s *attemptService) UpdateProgress(ctx context.Context, submissionID uint, payload dto.ProgressUpdateRequest) (dto.SubmissionResponse, error) {
	if payload.QuestionID == 0 {
		return dto.SubmissionResponse{}, ErrQuestionIDRequired
	}
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	unlock := s.locks.Lock(submissionID)
	defer unlock()

	submission, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if submission.Status != models.SubmissionStatusInProgress {
		return dto.SubmissionResponse{}, ErrAttemptNotActive
	}

	// Legacy rows can carry answer entries without a question id; they
	// are dropped here rather than surfaced as an error.
	answers := make([]models.Answer, 0, len(submission.Answers)+1)
	replaced := false
	for _, answer := range submission.Answers {
		if answer.QuestionID == 0 {
			continue
		}
		if answer.QuestionID == payload.QuestionID {
			answer.Value = json.RawMessage(payload.Answer)
			if payload.TimeSpentSeconds > 0 {
				answer.TimeSpentSeconds = payload.TimeSpentSeconds
			}
			replaced = true
		}
		answers = append(answers, answer)
	}
	if !replaced {
		answers = append(answers, models.Answer{
			QuestionID:       payload.QuestionID,
			Value:            json.RawMessage(payload.Answer),
			TimeSpentSeconds: payload.TimeSpentSeconds,
		})
	}

	submission.Answers = datatypes.JSONSlice[models.Answer](answers)
	if err := s.submissions.Update(ctx, &submission); err != nil {
		return dto.SubmissionResponse{}, err
	}

	return dto.NewSubmissionResponse(submission), nil
}

func (s *attemptService) Submit(ctx context.Context, submissionID uint, payload dto.SubmitRequest) (dto.SubmissionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	answers, err := s.decodeAnswers(payload.Answers)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	unlock := s.locks.Lock(submissionID)
	defer unlock()

	submission, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if submission.Status != models.SubmissionStatusInProgress {
		return dto.SubmissionResponse{}, ErrAttemptNotActive
	}

	assessment, err := s.assessments.GetWithQuestions(ctx, submission.AssessmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrAssessmentNotFound
		}
		return dto.SubmissionResponse{}, err
	}

	completedAt := s.now()
	outcome := s.resolver.ResolveAtSubmit(assessment.LatePolicy, assessment.Deadline(), completedAt)
	if outcome.Rejected {
		// The submission stays in progress; nothing is persisted.
		return dto.SubmissionResponse{}, ErrLateSubmissionRejected
	}

	s.sanitizeFreeText(assessment.Questions, answers)

	submission.Answers = datatypes.JSONSlice[models.Answer](answers)
	submission.CompletedAt = &completedAt
	submission.DeviceInfo = strings.TrimSpace(payload.DeviceInfo)
	submission.LatePolicy = models.LatePolicyApplied{
		IsLate:        outcome.IsLate,
		LateByMinutes: outcome.LateByMinutes,
	}
	submission.Flags.IsLate = outcome.IsLate
	submission.Scoring.TotalQuestions = len(assessment.Questions)
	submission.Scoring.AnsweredQuestions = len(answers)

	if outcome.IsLate {
		submission.Status = models.SubmissionStatusLate
	} else {
		submission.Status = models.SubmissionStatusSubmitted
	}

	if err := s.submissions.Update(ctx, &submission); err != nil {
		return dto.SubmissionResponse{}, err
	}

	s.events.Publish(ctx, GradingEvent{
		Type:         EventSubmissionReceived,
		SubmissionID: submission.ID,
		AssessmentID: submission.AssessmentID,
		StudentID:    submission.StudentID,
	})

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Bool("late", outcome.IsLate).
		Int("late_by_minutes", outcome.LateByMinutes).
		Msg("submission received")

	return dto.NewSubmissionResponse(submission), nil
}

func (s *attemptService) RecordViolation(ctx context.Context, submissionID uint, payload dto.ViolationRequest) (dto.SubmissionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	unlock := s.locks.Lock(submissionID)
	defer unlock()

	submission, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if submission.Status != models.SubmissionStatusInProgress {
		return dto.SubmissionResponse{}, ErrAttemptNotActive
	}

	submission.Violations = append(submission.Violations, models.Violation{
		Type:      payload.Type,
		Timestamp: s.now(),
		Details:   s.sanitizer.Sanitize(payload.Details),
	})
	submission.Flags.HasViolations = true

	if err := s.submissions.Update(ctx, &submission); err != nil {
		return dto.SubmissionResponse{}, err
	}

	return dto.NewSubmissionResponse(submission), nil
}

func (s *attemptService) List(ctx context.Context, filter dto.SubmissionFilter) ([]dto.SubmissionResponse, error) {
	submissions, err := s.submissions.List(ctx, repository.SubmissionFilter{
		AssessmentID: filter.AssessmentID,
		StudentID:    filter.StudentID,
		Status:       filter.Status,
	})
	if err != nil {
		return nil, err
	}
	return dto.NewSubmissionResponses(submissions), nil
}

func (s *attemptService) Get(ctx context.Context, submissionID uint) (dto.SubmissionResponse, error) {
	submission, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	return dto.NewSubmissionResponse(submission), nil
}

func (s *attemptService) loadSubmission(ctx context.Context, id uint) (models.Submission, error) {
	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Submission{}, ErrSubmissionNotFound
		}
		return models.Submission{}, err
	}
	return submission, nil
}

// decodeAnswers validates the raw payload shape and drops corrupt entries
// without a question id.
func (s *attemptService) decodeAnswers(raw json.RawMessage) ([]models.Answer, error) {
	if len(raw) == 0 {
		return nil, ErrInvalidAnswerFormat
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAnswerFormat, err)
	}
	if err := s.schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAnswerFormat, err)
	}

	var decoded []models.Answer
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAnswerFormat, err)
	}

	answers := make([]models.Answer, 0, len(decoded))
	for _, answer := range decoded {
		if answer.QuestionID == 0 {
			continue
		}
		answers = append(answers, answer)
	}
	return answers, nil
}

// sanitizeFreeText strips markup from essay and short-answer values
// before they are stored. Structured values are left untouched.
func (s *attemptService) sanitizeFreeText(questions []models.Question, answers []models.Answer) {
	freeText := make(map[uint]bool, len(questions))
	for _, question := range questions {
		if question.Type == models.QuestionTypeEssay || question.Type == models.QuestionTypeShortAnswer {
			freeText[question.ID] = true
		}
	}

	for i, answer := range answers {
		if !freeText[answer.QuestionID] {
			continue
		}
		var text string
		if err := json.Unmarshal(answer.Value, &text); err != nil {
			continue
		}
		clean := s.sanitizer.Sanitize(text)
		if clean == text {
			continue
		}
		if encoded, err := json.Marshal(clean); err == nil {
			answers[i].Value = encoded
		}
	}
}
