package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/evalhub/assess-go-api/internal/dto"
	"github.com/evalhub/assess-go-api/internal/grading"
	"github.com/evalhub/assess-go-api/internal/models"
	"github.com/evalhub/assess-go-api/internal/observability"
	"github.com/evalhub/assess-go-api/internal/repository"
)

// ErrAssessmentQuestionsMissing indicates the assessment has no question
// definitions, so there is nothing to grade against.
var ErrAssessmentQuestionsMissing = errors.New("assessment has no questions")

// ErrEmptyAnswers indicates the submission carries no answers to grade.
var ErrEmptyAnswers = errors.New("submission has no answers")

// ErrSubmissionNotCompleted indicates grading was requested before the
// attempt was handed in.
var ErrSubmissionNotCompleted = errors.New("submission is not completed")

// GradingService runs the full grading pipeline on a completed submission.
// Calls are idempotent: re-grading recomputes every derived figure from the
// stored answers and the current assessment definition.
type GradingService interface {
	Grade(ctx context.Context, submissionID uint, graderID uint, payload dto.GradeRequest) (dto.SubmissionResponse, error)
}

// StatsInvalidator drops cached aggregates after a grade changes.
type StatsInvalidator interface {
	Invalidate(ctx context.Context, assessmentID uint)
}

type gradingService struct {
	submissions repository.SubmissionRepository
	assessments repository.AssessmentRepository
	grader      *grading.Grader
	resolver    grading.LatePolicyResolver
	locks       *SubmissionLocks
	validator   *validator.Validate
	events      EventPublisher
	stats       StatsInvalidator
	tracer      trace.Tracer
	logger      zerolog.Logger
	now         func() time.Time
}

// NewGradingService constructs the grading pipeline service.
func NewGradingService(
	submissions repository.SubmissionRepository,
	assessments repository.AssessmentRepository,
	grader *grading.Grader,
	resolver grading.LatePolicyResolver,
	locks *SubmissionLocks,
	validate *validator.Validate,
	events EventPublisher,
	stats StatsInvalidator,
	logger zerolog.Logger,
) GradingService {
	if events == nil {
		events = NopPublisher{}
	}

	return &gradingService{
		submissions: submissions,
		assessments: assessments,
		grader:      grader,
		resolver:    resolver,
		locks:       locks,
		validator:   validate,
		events:      events,
		stats:       stats,
		tracer:      otel.Tracer("github.com/evalhub/assess-go-api/internal/service"),
		logger:      logger.With().Str("component", "grading_service").Logger(),
		now:         time.Now,
	}
}

func (s *gradingService) Grade(ctx context.Context, submissionID uint, graderID uint, payload dto.GradeRequest) (dto.SubmissionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "grading.grade",
		trace.WithAttributes(attribute.Int64("submission.id", int64(submissionID))))
	defer span.End()

	started := s.now()

	response, err := s.grade(ctx, submissionID, graderID, payload)
	observability.GradingDuration().Observe(time.Since(started).Seconds())
	if err != nil {
		observability.GradingRuns().WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return dto.SubmissionResponse{}, err
	}

	observability.GradingRuns().WithLabelValues("graded").Inc()
	span.SetAttributes(
		attribute.Float64("grading.percentage", response.Scoring.Percentage),
		attribute.String("grading.grade", response.Scoring.Grade),
	)
	return response, nil
}

func (s *gradingService) grade(ctx context.Context, submissionID uint, graderID uint, payload dto.GradeRequest) (dto.SubmissionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	unlock := s.locks.Lock(submissionID)
	defer unlock()

	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionResponse{}, err
	}
	if !submission.IsGradable() {
		return dto.SubmissionResponse{}, ErrSubmissionNotCompleted
	}
	if len(submission.Answers) == 0 {
		return dto.SubmissionResponse{}, ErrEmptyAnswers
	}

	assessment, err := s.assessments.GetWithQuestions(ctx, submission.AssessmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrAssessmentNotFound
		}
		return dto.SubmissionResponse{}, err
	}
	if len(assessment.Questions) == 0 {
		return dto.SubmissionResponse{}, ErrAssessmentQuestionsMissing
	}

	questions := grading.QuestionsFromModel(assessment.Questions)
	answers := make([]grading.Answer, 0, len(submission.Answers))
	for _, answer := range submission.Answers {
		answers = append(answers, grading.Answer{QuestionID: answer.QuestionID, Value: answer.Value})
	}

	results, totals := s.grader.GradeAll(ctx, questions, answers, payload.Feedback)

	totalPoints := assessment.TotalPoints
	if totalPoints <= 0 {
		for _, question := range assessment.Questions {
			totalPoints += question.Points
		}
	}

	earned := totals.EarnedPoints
	var rubricScores []models.RubricScore
	if assessment.HasRubric() && len(payload.RubricScores) > 0 {
		rubric := grading.ScoreRubric(assessment.Rubric, payload.RubricScores, totalPoints)
		if rubric.Applied {
			earned = rubric.TotalEarned
		}
		rubricScores = rubric.Scores
	}

	penalty := s.resolver.ComputePenalty(
		assessment.LatePolicy,
		submission.LatePolicy.IsLate,
		submission.LatePolicy.LateByMinutes,
		earned,
	)

	final := grading.Finalize(penalty.PointsAfterPenalty, totalPoints, assessment.PassingScore)

	s.annotateAnswers(&submission, results, payload.Feedback)

	gradedAt := s.now()
	submission.Scoring = models.Scoring{
		TotalQuestions:    len(assessment.Questions),
		AnsweredQuestions: totals.AnsweredQuestions,
		CorrectAnswers:    totals.CorrectAnswers,
		TotalPoints:       totalPoints,
		EarnedPoints:      penalty.PointsAfterPenalty,
		Percentage:        final.Percentage,
		IsPassed:          final.IsPassed,
		Grade:             final.Grade,
	}
	submission.LatePolicy.PenaltyPercent = penalty.PenaltyPercent
	submission.LatePolicy.PenaltyPoints = penalty.PenaltyPoints
	submission.LatePolicy.PointsBeforePenalty = penalty.PointsBeforePenalty
	submission.LatePolicy.PointsAfterPenalty = penalty.PointsAfterPenalty
	submission.RubricScores = datatypes.JSONSlice[models.RubricScore](rubricScores)
	submission.Feedback = payload.Feedback.Overall
	submission.Status = models.SubmissionStatusGraded
	submission.GradedBy = &graderID
	submission.GradedAt = &gradedAt

	if err := s.submissions.Update(ctx, &submission); err != nil {
		return dto.SubmissionResponse{}, err
	}

	history := models.GradeHistory{
		SubmissionID: submission.ID,
		EarnedPoints: submission.Scoring.EarnedPoints,
		Percentage:   submission.Scoring.Percentage,
		Grade:        submission.Scoring.Grade,
		Source:       models.GradeSourceAuto,
		GradedBy:     graderID,
		GradedAt:     gradedAt,
	}
	if err := s.submissions.CreateHistory(ctx, &history); err != nil {
		s.logger.Error().Err(err).Uint("submission_id", submission.ID).Msg("failed to write grade history")
	}

	if s.stats != nil {
		s.stats.Invalidate(ctx, submission.AssessmentID)
	}

	s.events.Publish(ctx, GradingEvent{
		Type:         EventSubmissionGraded,
		SubmissionID: submission.ID,
		AssessmentID: submission.AssessmentID,
		StudentID:    submission.StudentID,
		Percentage:   submission.Scoring.Percentage,
		Grade:        submission.Scoring.Grade,
		ActorID:      graderID,
	})

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Float64("earned_points", submission.Scoring.EarnedPoints).
		Float64("percentage", submission.Scoring.Percentage).
		Str("grade", submission.Scoring.Grade).
		Bool("passed", submission.Scoring.IsPassed).
		Msg("submission graded")

	return dto.NewSubmissionResponse(submission), nil
}

// annotateAnswers copies grading results onto the stored answer records.
// Answers whose question no longer exists keep their previous annotations
// cleared so a re-grade never leaves stale scores behind.
func (s *gradingService) annotateAnswers(submission *models.Submission, results []grading.Result, feedback grading.Feedback) {
	byID := make(map[uint]grading.Result, len(results))
	for _, result := range results {
		byID[result.QuestionID] = result
	}

	comments := make(map[uint]string, len(feedback.QuestionComments))
	for _, comment := range feedback.QuestionComments {
		comments[comment.QuestionID] = comment.Comment
	}

	answers := submission.Answers
	for i, answer := range answers {
		result, ok := byID[answer.QuestionID]
		if !ok {
			answers[i].IsCorrect = nil
			answers[i].Points = nil
			answers[i].PassedTestCases = nil
			answers[i].TotalTestCases = nil
			continue
		}

		isCorrect := result.IsCorrect
		points := result.Points
		answers[i].IsCorrect = &isCorrect
		answers[i].Points = &points
		if result.Coding {
			passed := result.PassedTestCases
			total := result.TotalTestCases
			answers[i].PassedTestCases = &passed
			answers[i].TotalTestCases = &total
		} else {
			answers[i].PassedTestCases = nil
			answers[i].TotalTestCases = nil
		}
		if comment, ok := comments[answer.QuestionID]; ok {
			answers[i].Comment = comment
		}
	}
	submission.Answers = answers
}
