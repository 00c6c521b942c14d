package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/evalhub/assess-go-api/internal/dto"
	"github.com/evalhub/assess-go-api/internal/models"
	"github.com/evalhub/assess-go-api/internal/observability"
	"github.com/evalhub/assess-go-api/internal/repository"
)

const statsCacheKeyPrefix = "assess:stats:assessment:"

// StatsService aggregates grading outcomes per assessment and per student.
// Assessment aggregates are cached; the cache is dropped whenever a grade
// for that assessment changes.
type StatsService interface {
	StatsInvalidator
	GetSubmissionStats(ctx context.Context, assessmentID uint) (dto.SubmissionStatsResponse, error)
	GetStudentProgress(ctx context.Context, studentID, courseID uint) (dto.StudentProgressResponse, error)
}

type statsService struct {
	submissions repository.SubmissionRepository
	assessments repository.AssessmentRepository
	cache       *redis.Client
	ttl         time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

// NewStatsService constructs the statistics service. A nil cache client
// disables caching; every call computes from the database.
func NewStatsService(
	submissions repository.SubmissionRepository,
	assessments repository.AssessmentRepository,
	cache *redis.Client,
	ttl time.Duration,
	logger zerolog.Logger,
) StatsService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &statsService{
		submissions: submissions,
		assessments: assessments,
		cache:       cache,
		ttl:         ttl,
		logger:      logger.With().Str("component", "stats_service").Logger(),
		now:         time.Now,
	}
}

func statsCacheKey(assessmentID uint) string {
	return fmt.Sprintf("%s%d", statsCacheKeyPrefix, assessmentID)
}

func (s *statsService) GetSubmissionStats(ctx context.Context, assessmentID uint) (dto.SubmissionStatsResponse, error) {
	if cached, ok := s.fromCache(ctx, assessmentID); ok {
		observability.StatsCacheLookups().WithLabelValues("hit").Inc()
		cached.CacheHit = true
		return cached, nil
	}
	observability.StatsCacheLookups().WithLabelValues("miss").Inc()

	if _, err := s.assessments.GetByID(ctx, assessmentID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionStatsResponse{}, ErrAssessmentNotFound
		}
		return dto.SubmissionStatsResponse{}, err
	}

	submissions, err := s.submissions.ListCompletedByAssessment(ctx, assessmentID)
	if err != nil {
		return dto.SubmissionStatsResponse{}, err
	}

	stats := s.buildStats(assessmentID, submissions)
	s.toCache(ctx, assessmentID, stats)
	return stats, nil
}

// buildStats counts every handed-in submission; the score aggregates
// cover the graded subset, since ungraded attempts have no percentage or
// letter grade yet.
func (s *statsService) buildStats(assessmentID uint, submissions []models.Submission) dto.SubmissionStatsResponse {
	stats := dto.SubmissionStatsResponse{
		AssessmentID:      assessmentID,
		GradeDistribution: map[string]int{},
		GeneratedAt:       s.now().UTC(),
	}

	var (
		sumPercentage float64
		sumTime       float64
		passed        int
		first         = true
	)

	for _, submission := range submissions {
		stats.Count++
		sumTime += float64(submission.TotalTimeSpentSeconds())

		if !submission.IsGraded() {
			continue
		}

		percentage := submission.Scoring.Percentage
		stats.GradedCount++
		sumPercentage += percentage
		stats.GradeDistribution[submission.Scoring.Grade]++
		if submission.Scoring.IsPassed {
			passed++
		}

		if first {
			stats.MaxPercentage = percentage
			stats.MinPercentage = percentage
			first = false
			continue
		}
		if percentage > stats.MaxPercentage {
			stats.MaxPercentage = percentage
		}
		if percentage < stats.MinPercentage {
			stats.MinPercentage = percentage
		}
	}

	if stats.Count > 0 {
		stats.AverageTimeSpentSeconds = sumTime / float64(stats.Count)
	}
	if stats.GradedCount > 0 {
		stats.AveragePercentage = sumPercentage / float64(stats.GradedCount)
		stats.PassRate = float64(passed) / float64(stats.GradedCount) * 100
	}

	return stats
}

func (s *statsService) GetStudentProgress(ctx context.Context, studentID, courseID uint) (dto.StudentProgressResponse, error) {
	submissions, err := s.submissions.ListCompletedByStudentAndCourse(ctx, studentID, courseID)
	if err != nil {
		return dto.StudentProgressResponse{}, err
	}

	progress := dto.StudentProgressResponse{
		StudentID: studentID,
		CourseID:  courseID,
	}

	var sumPercentage float64
	for _, submission := range submissions {
		progress.Completed++

		if !submission.IsGraded() {
			continue
		}

		progress.Graded++
		progress.EarnedPoints += submission.Scoring.EarnedPoints
		progress.TotalPoints += submission.Scoring.TotalPoints
		sumPercentage += submission.Scoring.Percentage
		if submission.Scoring.IsPassed {
			progress.Passed++
		}
	}

	if progress.Graded > 0 {
		progress.AveragePercentage = sumPercentage / float64(progress.Graded)
	}

	return progress, nil
}

// Invalidate drops the cached aggregate for one assessment.
func (s *statsService) Invalidate(ctx context.Context, assessmentID uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, statsCacheKey(assessmentID)).Err(); err != nil {
		s.logger.Warn().Err(err).Uint("assessment_id", assessmentID).Msg("failed to invalidate stats cache")
	}
}

func (s *statsService) fromCache(ctx context.Context, assessmentID uint) (dto.SubmissionStatsResponse, bool) {
	if s.cache == nil {
		return dto.SubmissionStatsResponse{}, false
	}

	payload, err := s.cache.Get(ctx, statsCacheKey(assessmentID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Uint("assessment_id", assessmentID).Msg("stats cache read failed")
		}
		return dto.SubmissionStatsResponse{}, false
	}

	var stats dto.SubmissionStatsResponse
	if err := json.Unmarshal(payload, &stats); err != nil {
		s.logger.Warn().Err(err).Uint("assessment_id", assessmentID).Msg("stats cache entry corrupt")
		return dto.SubmissionStatsResponse{}, false
	}
	return stats, true
}

func (s *statsService) toCache(ctx context.Context, assessmentID uint, stats dto.SubmissionStatsResponse) {
	if s.cache == nil {
		return
	}

	payload, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, statsCacheKey(assessmentID), payload, s.ttl).Err(); err != nil {
		s.logger.Warn().Err(err).Uint("assessment_id", assessmentID).Msg("stats cache write failed")
	}
}
