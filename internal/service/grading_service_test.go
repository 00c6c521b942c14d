package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/evalhub/assess-go-api/internal/dto"
	"github.com/evalhub/assess-go-api/internal/grading"
	"github.com/evalhub/assess-go-api/internal/models"
)

type captureInvalidator struct {
	mu  sync.Mutex
	ids []uint
}

func (c *captureInvalidator) Invalidate(_ context.Context, assessmentID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, assessmentID)
}

func newTestGradingService(subs *fakeSubmissionRepo, assessments *fakeAssessmentRepo, events EventPublisher, stats StatsInvalidator) *gradingService {
	grader := grading.NewGrader(
		grading.NewCodeRunner(noopSandbox{}, grading.CodeRunnerConfig{}, testLogger()),
		testLogger(),
	)
	svc := NewGradingService(
		subs,
		assessments,
		grader,
		grading.NewLatePolicyResolver(grading.DefaultLatePolicy()),
		NewSubmissionLocks(),
		testValidator(),
		events,
		stats,
		testLogger(),
	).(*gradingService)
	svc.now = fixedTime
	return svc
}

func mixedAssessment() models.Assessment {
	return models.Assessment{
		ID:           7,
		CourseID:     1,
		Title:        "Midterm",
		TotalPoints:  20,
		PassingScore: 60,
		LatePolicy:   models.LatePolicy{Mode: models.LateModeAllow},
		Questions: []models.Question{
			{
				ID: 1, AssessmentID: 7, Position: 0, Type: models.QuestionTypeMultipleChoice, Points: 5,
				Options: datatypes.JSONSlice[models.Option]{
					{ID: "a", Text: "Mercury", IsCorrect: true},
					{ID: "b", Text: "Venus"},
				},
			},
			{
				ID: 2, AssessmentID: 7, Position: 1, Type: models.QuestionTypeTrueFalse, Points: 5,
				CorrectAnswer: datatypes.JSON(`true`),
			},
			{
				ID: 3, AssessmentID: 7, Position: 2, Type: models.QuestionTypeEssay, Points: 10,
			},
		},
	}
}

func completedSubmission(status string) models.Submission {
	return models.Submission{
		ID:           1,
		AssessmentID: 7,
		StudentID:    3,
		Status:       status,
		Answers: datatypes.JSONSlice[models.Answer]{
			{QuestionID: 1, Value: json.RawMessage(`"a"`)},
			{QuestionID: 2, Value: json.RawMessage(`true`)},
			{QuestionID: 3, Value: json.RawMessage(`"my essay text"`)},
		},
	}
}

func TestGradeFullPipeline(t *testing.T) {
	subs := newFakeSubmissionRepo()
	subs.put(completedSubmission(models.SubmissionStatusSubmitted))
	events := &capturePublisher{}
	stats := &captureInvalidator{}
	svc := newTestGradingService(subs, newFakeAssessmentRepo(mixedAssessment()), events, stats)

	response, err := svc.Grade(context.Background(), 1, 42, dto.GradeRequest{
		Feedback: grading.Feedback{
			Overall: "Solid work.",
			QuestionComments: []grading.QuestionComment{
				{QuestionID: 3, Points: 8, Comment: "Good argument"},
			},
		},
	})
	require.NoError(t, err)

	require.Equal(t, models.SubmissionStatusGraded, response.Status)
	require.Equal(t, 18.0, response.Scoring.EarnedPoints)
	require.Equal(t, 20.0, response.Scoring.TotalPoints)
	require.Equal(t, 90.0, response.Scoring.Percentage)
	require.Equal(t, "A", response.Scoring.Grade)
	require.True(t, response.Scoring.IsPassed)
	require.Equal(t, 3, response.Scoring.CorrectAnswers)
	require.Equal(t, 3, response.Scoring.AnsweredQuestions)
	require.Equal(t, "Solid work.", response.Feedback)

	require.NotNil(t, response.GradedBy)
	require.Equal(t, uint(42), *response.GradedBy)
	require.NotNil(t, response.GradedAt)

	// Per-answer annotations.
	require.Len(t, response.Answers, 3)
	require.NotNil(t, response.Answers[2].Points)
	require.Equal(t, 8.0, *response.Answers[2].Points)
	require.Equal(t, "Good argument", response.Answers[2].Comment)

	// Audit trail, cache invalidation and event fan-out.
	require.Len(t, subs.history, 1)
	require.Equal(t, models.GradeSourceAuto, subs.history[0].Source)
	require.Equal(t, []uint{7}, stats.ids)
	require.Len(t, events.byType(EventSubmissionGraded), 1)
}

func TestGradeIsIdempotent(t *testing.T) {
	subs := newFakeSubmissionRepo()
	subs.put(completedSubmission(models.SubmissionStatusSubmitted))
	svc := newTestGradingService(subs, newFakeAssessmentRepo(mixedAssessment()), nil, nil)

	payload := dto.GradeRequest{
		Feedback: grading.Feedback{
			QuestionComments: []grading.QuestionComment{{QuestionID: 3, Points: 8}},
		},
	}

	first, err := svc.Grade(context.Background(), 1, 42, payload)
	require.NoError(t, err)

	second, err := svc.Grade(context.Background(), 1, 42, payload)
	require.NoError(t, err)

	require.Equal(t, first.Scoring, second.Scoring)
	require.Equal(t, models.SubmissionStatusGraded, second.Status)
}

func TestGradeAppliesLatePenalty(t *testing.T) {
	assessment := mixedAssessment()
	assessment.LatePolicy = models.LatePolicy{
		Mode:                 models.LateModePenalty,
		PenaltyPercentPerDay: 10,
		MaxPenaltyPercent:    50,
	}

	submission := completedSubmission(models.SubmissionStatusLate)
	submission.LatePolicy.IsLate = true
	submission.LatePolicy.LateByMinutes = 90 // within the first late day

	subs := newFakeSubmissionRepo()
	subs.put(submission)
	svc := newTestGradingService(subs, newFakeAssessmentRepo(assessment), nil, nil)

	response, err := svc.Grade(context.Background(), 1, 42, dto.GradeRequest{
		Feedback: grading.Feedback{
			QuestionComments: []grading.QuestionComment{{QuestionID: 3, Points: 10}},
		},
	})
	require.NoError(t, err)

	// 20 earned, 10% off for one late day.
	require.Equal(t, 10.0, response.LatePolicy.PenaltyPercent)
	require.Equal(t, 20.0, response.LatePolicy.PointsBeforePenalty)
	require.Equal(t, 18.0, response.LatePolicy.PointsAfterPenalty)
	require.Equal(t, 18.0, response.Scoring.EarnedPoints)
	require.Equal(t, 90.0, response.Scoring.Percentage)
}

func TestGradeRubricReplacesAutoTotal(t *testing.T) {
	assessment := mixedAssessment()
	assessment.Rubric = []models.RubricCriterion{
		{ID: 1, AssessmentID: 7, Title: "Correctness", MaxPoints: 10},
		{ID: 2, AssessmentID: 7, Title: "Style", MaxPoints: 5},
	}

	subs := newFakeSubmissionRepo()
	subs.put(completedSubmission(models.SubmissionStatusSubmitted))
	svc := newTestGradingService(subs, newFakeAssessmentRepo(assessment), nil, nil)

	response, err := svc.Grade(context.Background(), 1, 42, dto.GradeRequest{
		RubricScores: []models.RubricScore{
			{CriterionID: 1, EarnedPoints: 9},
			{CriterionID: 2, EarnedPoints: 3},
		},
	})
	require.NoError(t, err)

	// 12 of 15 rubric points scaled onto 20 total = 16.
	require.Equal(t, 16.0, response.Scoring.EarnedPoints)
	require.Equal(t, 80.0, response.Scoring.Percentage)
	require.Len(t, response.RubricScores, 2)
}

func TestGradeTotalPointsFallsBackToQuestionSum(t *testing.T) {
	assessment := mixedAssessment()
	assessment.TotalPoints = 0

	subs := newFakeSubmissionRepo()
	subs.put(completedSubmission(models.SubmissionStatusSubmitted))
	svc := newTestGradingService(subs, newFakeAssessmentRepo(assessment), nil, nil)

	response, err := svc.Grade(context.Background(), 1, 42, dto.GradeRequest{})
	require.NoError(t, err)
	require.Equal(t, 20.0, response.Scoring.TotalPoints)
}

// A submission reopened for revision must be re-gradable once the
// instructor finishes the review.
func TestGradeAfterRevisionRequest(t *testing.T) {
	subs := newFakeSubmissionRepo()
	subs.put(completedSubmission(models.SubmissionStatusSubmitted))
	assessments := newFakeAssessmentRepo(mixedAssessment())
	gradingSvc := newTestGradingService(subs, assessments, nil, nil)
	reviewSvc := newTestReviewService(subs, assessments, nil, nil)

	payload := dto.GradeRequest{
		Feedback: grading.Feedback{
			QuestionComments: []grading.QuestionComment{{QuestionID: 3, Points: 6}},
		},
	}
	_, err := gradingSvc.Grade(context.Background(), 1, 42, payload)
	require.NoError(t, err)

	reopened, err := reviewSvc.RequestRevision(context.Background(), 1, 42, dto.RevisionRequestPayload{
		Reason: "expand the essay",
	})
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusIncomplete, reopened.Status)

	payload.Feedback.QuestionComments[0].Points = 9
	regraded, err := gradingSvc.Grade(context.Background(), 1, 42, payload)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusGraded, regraded.Status)
	require.Equal(t, 19.0, regraded.Scoring.EarnedPoints)
	require.Equal(t, 95.0, regraded.Scoring.Percentage)
	require.Len(t, subs.history, 2)
}

func TestGradeGuards(t *testing.T) {
	t.Run("submission not found", func(t *testing.T) {
		svc := newTestGradingService(newFakeSubmissionRepo(), newFakeAssessmentRepo(), nil, nil)
		_, err := svc.Grade(context.Background(), 99, 42, dto.GradeRequest{})
		require.ErrorIs(t, err, ErrSubmissionNotFound)
	})

	t.Run("submission not completed", func(t *testing.T) {
		subs := newFakeSubmissionRepo()
		subs.put(completedSubmission(models.SubmissionStatusInProgress))
		svc := newTestGradingService(subs, newFakeAssessmentRepo(mixedAssessment()), nil, nil)
		_, err := svc.Grade(context.Background(), 1, 42, dto.GradeRequest{})
		require.ErrorIs(t, err, ErrSubmissionNotCompleted)
	})

	t.Run("empty answers", func(t *testing.T) {
		submission := completedSubmission(models.SubmissionStatusSubmitted)
		submission.Answers = nil
		subs := newFakeSubmissionRepo()
		subs.put(submission)
		svc := newTestGradingService(subs, newFakeAssessmentRepo(mixedAssessment()), nil, nil)
		_, err := svc.Grade(context.Background(), 1, 42, dto.GradeRequest{})
		require.ErrorIs(t, err, ErrEmptyAnswers)
	})

	t.Run("assessment without questions", func(t *testing.T) {
		assessment := mixedAssessment()
		assessment.Questions = nil
		subs := newFakeSubmissionRepo()
		subs.put(completedSubmission(models.SubmissionStatusSubmitted))
		svc := newTestGradingService(subs, newFakeAssessmentRepo(assessment), nil, nil)
		_, err := svc.Grade(context.Background(), 1, 42, dto.GradeRequest{})
		require.ErrorIs(t, err, ErrAssessmentQuestionsMissing)
	})
}
