package service

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/evalhub/assess-go-api/internal/dto"
	"github.com/evalhub/assess-go-api/internal/grading"
	"github.com/evalhub/assess-go-api/internal/models"
	"github.com/evalhub/assess-go-api/internal/observability"
	"github.com/evalhub/assess-go-api/internal/repository"
)

// ErrMissingGradeInput indicates an override supplied neither points nor
// a percentage.
var ErrMissingGradeInput = errors.New("either points or percentage is required")

// ErrSubmissionNotGraded indicates a review action that requires a
// finished grade was requested too early.
var ErrSubmissionNotGraded = errors.New("submission is not graded")

// ReviewService covers the instructor review workflow after auto grading:
// manual overrides, revision requests and plagiarism reports.
type ReviewService interface {
	OverrideGrade(ctx context.Context, submissionID uint, actorID uint, payload dto.OverrideRequest) (dto.SubmissionResponse, error)
	RequestRevision(ctx context.Context, submissionID uint, actorID uint, payload dto.RevisionRequestPayload) (dto.SubmissionResponse, error)
	RecordPlagiarismReport(ctx context.Context, submissionID uint, payload dto.PlagiarismReportPayload) (dto.SubmissionResponse, error)
}

type reviewService struct {
	submissions repository.SubmissionRepository
	assessments repository.AssessmentRepository
	locks       *SubmissionLocks
	validator   *validator.Validate
	events      EventPublisher
	stats       StatsInvalidator
	logger      zerolog.Logger
	now         func() time.Time
}

// NewReviewService constructs the review workflow service.
func NewReviewService(
	submissions repository.SubmissionRepository,
	assessments repository.AssessmentRepository,
	locks *SubmissionLocks,
	validate *validator.Validate,
	events EventPublisher,
	stats StatsInvalidator,
	logger zerolog.Logger,
) ReviewService {
	if events == nil {
		events = NopPublisher{}
	}

	return &reviewService{
		submissions: submissions,
		assessments: assessments,
		locks:       locks,
		validator:   validate,
		events:      events,
		stats:       stats,
		logger:      logger.With().Str("component", "review_service").Logger(),
		now:         time.Now,
	}
}

// OverrideGrade replaces the computed grade with the instructor's figures.
// Whichever of points or percentage is supplied, the other is derived from
// the assessment total. The late penalty is not re-applied; the override is
// taken as the instructor's final word.
func (s *reviewService) OverrideGrade(ctx context.Context, submissionID uint, actorID uint, payload dto.OverrideRequest) (dto.SubmissionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}
	if payload.Points == nil && payload.Percentage == nil {
		return dto.SubmissionResponse{}, ErrMissingGradeInput
	}

	unlock := s.locks.Lock(submissionID)
	defer unlock()

	submission, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if !submission.IsGradable() {
		return dto.SubmissionResponse{}, ErrSubmissionNotCompleted
	}

	assessment, err := s.assessments.GetByID(ctx, submission.AssessmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrAssessmentNotFound
		}
		return dto.SubmissionResponse{}, err
	}

	totalPoints := submission.Scoring.TotalPoints
	if totalPoints <= 0 {
		totalPoints = assessment.TotalPoints
	}

	points, err := derivePoints(payload, totalPoints)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	final := grading.Finalize(points, totalPoints, assessment.PassingScore)

	overriddenAt := s.now()
	submission.Scoring.TotalPoints = totalPoints
	submission.Scoring.EarnedPoints = points
	submission.Scoring.Percentage = final.Percentage
	submission.Scoring.IsPassed = final.IsPassed
	submission.Scoring.Grade = final.Grade
	submission.Override = models.GradeOverride{
		IsOverridden: true,
		Points:       points,
		Percentage:   final.Percentage,
		Reason:       payload.Reason,
		OverriddenBy: actorID,
		OverriddenAt: &overriddenAt,
	}
	submission.Status = models.SubmissionStatusGraded
	submission.GradedBy = &actorID
	submission.GradedAt = &overriddenAt

	if err := s.submissions.Update(ctx, &submission); err != nil {
		return dto.SubmissionResponse{}, err
	}

	history := models.GradeHistory{
		SubmissionID: submission.ID,
		EarnedPoints: points,
		Percentage:   final.Percentage,
		Grade:        final.Grade,
		Source:       models.GradeSourceOverride,
		Reason:       payload.Reason,
		GradedBy:     actorID,
		GradedAt:     overriddenAt,
	}
	if err := s.submissions.CreateHistory(ctx, &history); err != nil {
		s.logger.Error().Err(err).Uint("submission_id", submission.ID).Msg("failed to write grade history")
	}

	observability.GradeOverrides().Inc()
	if s.stats != nil {
		s.stats.Invalidate(ctx, submission.AssessmentID)
	}

	s.events.Publish(ctx, GradingEvent{
		Type:         EventGradeOverridden,
		SubmissionID: submission.ID,
		AssessmentID: submission.AssessmentID,
		StudentID:    submission.StudentID,
		Percentage:   final.Percentage,
		Grade:        final.Grade,
		ActorID:      actorID,
	})

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Uint("actor_id", actorID).
		Float64("points", points).
		Float64("percentage", final.Percentage).
		Msg("grade overridden")

	return dto.NewSubmissionResponse(submission), nil
}

// derivePoints resolves the override's earned points from whichever input
// was supplied. Points win when both are present.
func derivePoints(payload dto.OverrideRequest, totalPoints float64) (float64, error) {
	if payload.Points != nil {
		points := *payload.Points
		if points < 0 {
			points = 0
		}
		if totalPoints > 0 && points > totalPoints {
			points = totalPoints
		}
		return points, nil
	}

	percentage := *payload.Percentage
	if percentage < 0 {
		percentage = 0
	}
	if percentage > 100 {
		percentage = 100
	}
	if totalPoints <= 0 {
		return 0, ErrMissingGradeInput
	}
	return math.Round(percentage / 100 * totalPoints), nil
}

// RequestRevision reopens a completed submission for the student to revise.
// The existing scoring is kept so the previous result stays visible while
// the revision is pending.
func (s *reviewService) RequestRevision(ctx context.Context, submissionID uint, actorID uint, payload dto.RevisionRequestPayload) (dto.SubmissionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	unlock := s.locks.Lock(submissionID)
	defer unlock()

	submission, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	if !submission.IsCompleted() {
		return dto.SubmissionResponse{}, ErrSubmissionNotCompleted
	}

	requestedAt := s.now()
	submission.Revision = models.RevisionRequest{
		Requested:   true,
		RequestedAt: &requestedAt,
		RequestedBy: actorID,
		DueAt:       payload.DueAt,
		Reason:      payload.Reason,
	}
	submission.Status = models.SubmissionStatusIncomplete

	if err := s.submissions.Update(ctx, &submission); err != nil {
		return dto.SubmissionResponse{}, err
	}

	s.events.Publish(ctx, GradingEvent{
		Type:         EventRevisionRequested,
		SubmissionID: submission.ID,
		AssessmentID: submission.AssessmentID,
		StudentID:    submission.StudentID,
		ActorID:      actorID,
	})

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Uint("actor_id", actorID).
		Msg("revision requested")

	return dto.NewSubmissionResponse(submission), nil
}

// RecordPlagiarismReport stores an external similarity check outcome. A
// flagged report marks the submission for manual review.
func (s *reviewService) RecordPlagiarismReport(ctx context.Context, submissionID uint, payload dto.PlagiarismReportPayload) (dto.SubmissionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionResponse{}, err
	}

	unlock := s.locks.Lock(submissionID)
	defer unlock()

	submission, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	status := payload.Status
	if status == "" {
		status = models.PlagiarismStatusChecked
	}
	// A positive similarity score flags the submission even when the
	// provider did not set the flag itself.
	flagged := payload.Flagged || status == models.PlagiarismStatusFlagged
	if payload.SimilarityScore != nil && *payload.SimilarityScore > 0 {
		flagged = true
	}
	if flagged {
		status = models.PlagiarismStatusFlagged
	}

	checkedAt := s.now()
	submission.Plagiarism = models.PlagiarismReport{
		Status:          status,
		Provider:        payload.Provider,
		SimilarityScore: payload.SimilarityScore,
		Flagged:         flagged,
		ReportURL:       payload.ReportURL,
		Details:         datatypes.JSONMap(payload.Details),
		CheckedAt:       &checkedAt,
	}
	if flagged {
		submission.Flags.NeedsReview = true
	}

	if err := s.submissions.Update(ctx, &submission); err != nil {
		return dto.SubmissionResponse{}, err
	}

	if flagged {
		s.events.Publish(ctx, GradingEvent{
			Type:         EventPlagiarismFlagged,
			SubmissionID: submission.ID,
			AssessmentID: submission.AssessmentID,
			StudentID:    submission.StudentID,
		})
	}

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Str("provider", payload.Provider).
		Bool("flagged", flagged).
		Msg("plagiarism report recorded")

	return dto.NewSubmissionResponse(submission), nil
}

func (s *reviewService) loadSubmission(ctx context.Context, id uint) (models.Submission, error) {
	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Submission{}, ErrSubmissionNotFound
		}
		return models.Submission{}, err
	}
	return submission, nil
}
