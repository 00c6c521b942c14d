package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evalhub/assess-go-api/internal/dto"
	"github.com/evalhub/assess-go-api/internal/models"
)

func newTestReviewService(subs *fakeSubmissionRepo, assessments *fakeAssessmentRepo, events EventPublisher, stats StatsInvalidator) *reviewService {
	svc := NewReviewService(
		subs,
		assessments,
		NewSubmissionLocks(),
		testValidator(),
		events,
		stats,
		testLogger(),
	).(*reviewService)
	svc.now = fixedTime
	return svc
}

func gradedSubmission() models.Submission {
	gradedAt := fixedTime()
	return models.Submission{
		ID:           1,
		AssessmentID: 7,
		StudentID:    3,
		Status:       models.SubmissionStatusGraded,
		Scoring: models.Scoring{
			TotalQuestions: 3,
			TotalPoints:    20,
			EarnedPoints:   12,
			Percentage:     60,
			IsPassed:       true,
			Grade:          "D",
		},
		GradedAt: &gradedAt,
	}
}

func reviewAssessment() models.Assessment {
	return models.Assessment{ID: 7, CourseID: 1, TotalPoints: 20, PassingScore: 60}
}

func TestOverrideGradeWithPoints(t *testing.T) {
	subs := newFakeSubmissionRepo()
	subs.put(gradedSubmission())
	events := &capturePublisher{}
	stats := &captureInvalidator{}
	svc := newTestReviewService(subs, newFakeAssessmentRepo(reviewAssessment()), events, stats)

	points := 18.0
	response, err := svc.OverrideGrade(context.Background(), 1, 42, dto.OverrideRequest{
		Points: &points,
		Reason: "regrade after appeal",
	})
	require.NoError(t, err)

	require.True(t, response.Override.IsOverridden)
	require.Equal(t, 18.0, response.Override.Points)
	require.Equal(t, 90.0, response.Override.Percentage)
	require.Equal(t, "regrade after appeal", response.Override.Reason)
	require.Equal(t, uint(42), response.Override.OverriddenBy)

	require.Equal(t, 18.0, response.Scoring.EarnedPoints)
	require.Equal(t, 90.0, response.Scoring.Percentage)
	require.Equal(t, "A", response.Scoring.Grade)
	require.True(t, response.Scoring.IsPassed)

	require.Len(t, subs.history, 1)
	require.Equal(t, models.GradeSourceOverride, subs.history[0].Source)
	require.Equal(t, []uint{7}, stats.ids)
	require.Len(t, events.byType(EventGradeOverridden), 1)
}

func TestOverrideGradeWithPercentageDerivesPoints(t *testing.T) {
	subs := newFakeSubmissionRepo()
	subs.put(gradedSubmission())
	svc := newTestReviewService(subs, newFakeAssessmentRepo(reviewAssessment()), nil, nil)

	percentage := 75.0
	response, err := svc.OverrideGrade(context.Background(), 1, 42, dto.OverrideRequest{
		Percentage: &percentage,
		Reason:     "partial credit granted",
	})
	require.NoError(t, err)
	require.Equal(t, 15.0, response.Scoring.EarnedPoints)
	require.Equal(t, 75.0, response.Scoring.Percentage)
	require.Equal(t, "C", response.Scoring.Grade)
}

func TestOverrideGradeClampsPointsToTotal(t *testing.T) {
	subs := newFakeSubmissionRepo()
	subs.put(gradedSubmission())
	svc := newTestReviewService(subs, newFakeAssessmentRepo(reviewAssessment()), nil, nil)

	points := 35.0
	response, err := svc.OverrideGrade(context.Background(), 1, 42, dto.OverrideRequest{
		Points: &points,
		Reason: "typo in request",
	})
	require.NoError(t, err)
	require.Equal(t, 20.0, response.Scoring.EarnedPoints)
	require.Equal(t, 100.0, response.Scoring.Percentage)
}

func TestOverrideGradeRequiresInput(t *testing.T) {
	subs := newFakeSubmissionRepo()
	subs.put(gradedSubmission())
	svc := newTestReviewService(subs, newFakeAssessmentRepo(reviewAssessment()), nil, nil)

	_, err := svc.OverrideGrade(context.Background(), 1, 42, dto.OverrideRequest{Reason: "missing numbers"})
	require.ErrorIs(t, err, ErrMissingGradeInput)
}

func TestOverrideGradeRejectsOpenAttempt(t *testing.T) {
	submission := gradedSubmission()
	submission.Status = models.SubmissionStatusInProgress
	subs := newFakeSubmissionRepo()
	subs.put(submission)
	svc := newTestReviewService(subs, newFakeAssessmentRepo(reviewAssessment()), nil, nil)

	points := 10.0
	_, err := svc.OverrideGrade(context.Background(), 1, 42, dto.OverrideRequest{
		Points: &points,
		Reason: "too early",
	})
	require.ErrorIs(t, err, ErrSubmissionNotCompleted)
}

func TestOverrideGradeAfterRevisionRequest(t *testing.T) {
	submission := gradedSubmission()
	submission.Status = models.SubmissionStatusIncomplete
	subs := newFakeSubmissionRepo()
	subs.put(submission)
	svc := newTestReviewService(subs, newFakeAssessmentRepo(reviewAssessment()), nil, nil)

	points := 16.0
	response, err := svc.OverrideGrade(context.Background(), 1, 42, dto.OverrideRequest{
		Points: &points,
		Reason: "closing the revision with a manual grade",
	})
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusGraded, response.Status)
	require.Equal(t, 16.0, response.Scoring.EarnedPoints)
	require.Equal(t, "B", response.Scoring.Grade)
}

// Overriding by the percentage an earlier points override produced must
// land on the same figures.
func TestOverrideGradeRoundTrip(t *testing.T) {
	for _, points := range []float64{0, 5, 11, 17, 20} {
		subs := newFakeSubmissionRepo()
		subs.put(gradedSubmission())
		svc := newTestReviewService(subs, newFakeAssessmentRepo(reviewAssessment()), nil, nil)

		p := points
		first, err := svc.OverrideGrade(context.Background(), 1, 42, dto.OverrideRequest{
			Points: &p,
			Reason: "first pass",
		})
		require.NoError(t, err)

		pct := first.Scoring.Percentage
		second, err := svc.OverrideGrade(context.Background(), 1, 42, dto.OverrideRequest{
			Percentage: &pct,
			Reason:     "second pass",
		})
		require.NoError(t, err)

		require.Equal(t, first.Scoring.EarnedPoints, second.Scoring.EarnedPoints)
		require.Equal(t, first.Scoring.Percentage, second.Scoring.Percentage)
		require.Equal(t, first.Scoring.Grade, second.Scoring.Grade)
	}
}

func TestRequestRevisionKeepsScoring(t *testing.T) {
	subs := newFakeSubmissionRepo()
	subs.put(gradedSubmission())
	events := &capturePublisher{}
	svc := newTestReviewService(subs, newFakeAssessmentRepo(reviewAssessment()), events, nil)

	response, err := svc.RequestRevision(context.Background(), 1, 42, dto.RevisionRequestPayload{
		Reason: "please expand the second answer",
	})
	require.NoError(t, err)

	require.Equal(t, models.SubmissionStatusIncomplete, response.Status)
	require.True(t, response.Revision.Requested)
	require.Equal(t, uint(42), response.Revision.RequestedBy)
	require.Equal(t, "please expand the second answer", response.Revision.Reason)

	// The previous grade stays visible while the revision is pending.
	require.Equal(t, 12.0, response.Scoring.EarnedPoints)
	require.Equal(t, "D", response.Scoring.Grade)
	require.Len(t, events.byType(EventRevisionRequested), 1)
}

func TestRecordPlagiarismReportFlagged(t *testing.T) {
	subs := newFakeSubmissionRepo()
	subs.put(gradedSubmission())
	events := &capturePublisher{}
	svc := newTestReviewService(subs, newFakeAssessmentRepo(reviewAssessment()), events, nil)

	score := 87.5
	response, err := svc.RecordPlagiarismReport(context.Background(), 1, dto.PlagiarismReportPayload{
		Provider:        "turnitin",
		SimilarityScore: &score,
		Flagged:         true,
		Details:         map[string]interface{}{"matched_sources": 4.0},
	})
	require.NoError(t, err)

	require.Equal(t, models.PlagiarismStatusFlagged, response.Plagiarism.Status)
	require.True(t, response.Plagiarism.Flagged)
	require.Equal(t, "turnitin", response.Plagiarism.Provider)
	require.NotNil(t, response.Plagiarism.CheckedAt)
	require.True(t, response.Flags.NeedsReview)
	require.Len(t, events.byType(EventPlagiarismFlagged), 1)
}

// A positive similarity score must flag the submission even when the
// provider left the flag unset.
func TestRecordPlagiarismReportPositiveScoreFlags(t *testing.T) {
	subs := newFakeSubmissionRepo()
	subs.put(gradedSubmission())
	events := &capturePublisher{}
	svc := newTestReviewService(subs, newFakeAssessmentRepo(reviewAssessment()), events, nil)

	score := 42.0
	response, err := svc.RecordPlagiarismReport(context.Background(), 1, dto.PlagiarismReportPayload{
		Provider:        "turnitin",
		SimilarityScore: &score,
		Flagged:         false,
	})
	require.NoError(t, err)

	require.Equal(t, models.PlagiarismStatusFlagged, response.Plagiarism.Status)
	require.True(t, response.Plagiarism.Flagged)
	require.True(t, response.Flags.NeedsReview)
	require.Len(t, events.byType(EventPlagiarismFlagged), 1)
}

func TestRecordPlagiarismReportClean(t *testing.T) {
	subs := newFakeSubmissionRepo()
	subs.put(gradedSubmission())
	events := &capturePublisher{}
	svc := newTestReviewService(subs, newFakeAssessmentRepo(reviewAssessment()), events, nil)

	score := 0.0
	response, err := svc.RecordPlagiarismReport(context.Background(), 1, dto.PlagiarismReportPayload{
		Provider:        "turnitin",
		SimilarityScore: &score,
	})
	require.NoError(t, err)

	require.Equal(t, models.PlagiarismStatusChecked, response.Plagiarism.Status)
	require.False(t, response.Plagiarism.Flagged)
	require.False(t, response.Flags.NeedsReview)
	require.Empty(t, events.byType(EventPlagiarismFlagged))
}
