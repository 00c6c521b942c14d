package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/evalhub/assess-go-api/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Assessment{},
		&models.Question{},
		&models.RubricCriterion{},
		&models.Submission{},
		&models.GradeHistory{},
	))
	return db
}

func TestCreateAttemptAbandonsPriorAndNumbersSequentially(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSubmissionRepository(db)
	ctx := context.Background()

	first := models.Submission{AssessmentID: 1, StudentID: 2, StartedAt: time.Now()}
	require.NoError(t, repo.CreateAttempt(ctx, &first))
	require.Equal(t, 1, first.AttemptNumber)
	require.Equal(t, models.SubmissionStatusInProgress, first.Status)

	second := models.Submission{AssessmentID: 1, StudentID: 2, StartedAt: time.Now()}
	require.NoError(t, repo.CreateAttempt(ctx, &second))
	require.Equal(t, 2, second.AttemptNumber)

	reloaded, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusAbandoned, reloaded.Status)

	// A different student keeps an independent attempt sequence.
	other := models.Submission{AssessmentID: 1, StudentID: 3, StartedAt: time.Now()}
	require.NoError(t, repo.CreateAttempt(ctx, &other))
	require.Equal(t, 1, other.AttemptNumber)
}

func TestUpdateVersionConflict(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSubmissionRepository(db)
	ctx := context.Background()

	submission := models.Submission{AssessmentID: 1, StudentID: 2, StartedAt: time.Now()}
	require.NoError(t, repo.CreateAttempt(ctx, &submission))

	loadedA, err := repo.GetByID(ctx, submission.ID)
	require.NoError(t, err)
	loadedB, err := repo.GetByID(ctx, submission.ID)
	require.NoError(t, err)

	loadedA.Status = models.SubmissionStatusSubmitted
	require.NoError(t, repo.Update(ctx, &loadedA))

	loadedB.Status = models.SubmissionStatusGraded
	err = repo.Update(ctx, &loadedB)
	require.ErrorIs(t, err, ErrVersionConflict)
}

func TestListCompletedByAssessment(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSubmissionRepository(db)
	ctx := context.Background()

	completed := time.Now()
	rows := []models.Submission{
		{AssessmentID: 5, StudentID: 1, Status: models.SubmissionStatusGraded, CompletedAt: &completed},
		{AssessmentID: 5, StudentID: 2, Status: models.SubmissionStatusLate, CompletedAt: &completed},
		{AssessmentID: 5, StudentID: 3, Status: models.SubmissionStatusInProgress},
		{AssessmentID: 6, StudentID: 1, Status: models.SubmissionStatusGraded, CompletedAt: &completed},
	}
	for i := range rows {
		require.NoError(t, db.Create(&rows[i]).Error)
	}

	submissions, err := repo.ListCompletedByAssessment(ctx, 5)
	require.NoError(t, err)
	require.Len(t, submissions, 2)
}

func TestListCompletedByStudentAndCourse(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSubmissionRepository(db)
	ctx := context.Background()

	assessments := []models.Assessment{
		{CourseID: 10, Title: "Quiz 1", TotalPoints: 50},
		{CourseID: 10, Title: "Quiz 2", TotalPoints: 50},
		{CourseID: 99, Title: "Other course", TotalPoints: 50},
	}
	for i := range assessments {
		require.NoError(t, db.Create(&assessments[i]).Error)
	}

	completed := time.Now()
	rows := []models.Submission{
		{AssessmentID: assessments[0].ID, StudentID: 7, Status: models.SubmissionStatusGraded, CompletedAt: &completed},
		{AssessmentID: assessments[1].ID, StudentID: 7, Status: models.SubmissionStatusSubmitted, CompletedAt: &completed},
		{AssessmentID: assessments[2].ID, StudentID: 7, Status: models.SubmissionStatusGraded, CompletedAt: &completed},
		{AssessmentID: assessments[0].ID, StudentID: 8, Status: models.SubmissionStatusGraded, CompletedAt: &completed},
	}
	for i := range rows {
		require.NoError(t, db.Create(&rows[i]).Error)
	}

	submissions, err := repo.ListCompletedByStudentAndCourse(ctx, 7, 10)
	require.NoError(t, err)
	require.Len(t, submissions, 2)
}
