package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/evalhub/assess-go-api/internal/models"
)

// ErrVersionConflict indicates a concurrent writer updated the submission
// between load and save.
var ErrVersionConflict = errors.New("submission modified concurrently")

// SubmissionFilter narrows submission queries.
type SubmissionFilter struct {
	AssessmentID *uint
	StudentID    *uint
	Status       *string
}

// SubmissionRepository defines data operations for submissions and their
// grade history.
type SubmissionRepository interface {
	List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, error)
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	CreateAttempt(ctx context.Context, submission *models.Submission) error
	Update(ctx context.Context, submission *models.Submission) error
	CreateHistory(ctx context.Context, history *models.GradeHistory) error
	ListCompletedByAssessment(ctx context.Context, assessmentID uint) ([]models.Submission, error)
	ListCompletedByStudentAndCourse(ctx context.Context, studentID, courseID uint) ([]models.Submission, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

var completedStatuses = []string{
	models.SubmissionStatusSubmitted,
	models.SubmissionStatusLate,
	models.SubmissionStatusGraded,
}

func (r *submissionRepository) List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, error) {
	query := r.db.WithContext(ctx).Model(&models.Submission{})

	if filter.AssessmentID != nil {
		query = query.Where("assessment_id = ?", *filter.AssessmentID)
	}
	if filter.StudentID != nil {
		query = query.Where("student_id = ?", *filter.StudentID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	var submissions []models.Submission
	if err := query.Order("created_at DESC").Find(&submissions).Error; err != nil {
		return nil, err
	}
	return submissions, nil
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

// CreateAttempt atomically abandons any in-progress attempt for the same
// (assessment, student) pair, numbers the new attempt from the count of
// prior ones and inserts it. Running inside one transaction preserves the
// single in-progress attempt invariant under concurrent starts.
func (r *submissionRepository) CreateAttempt(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Submission{}).
			Where("assessment_id = ? AND student_id = ? AND status = ?",
				submission.AssessmentID, submission.StudentID, models.SubmissionStatusInProgress).
			Update("status", models.SubmissionStatusAbandoned).Error; err != nil {
			return err
		}

		var prior int64
		if err := tx.Model(&models.Submission{}).
			Where("assessment_id = ? AND student_id = ?", submission.AssessmentID, submission.StudentID).
			Count(&prior).Error; err != nil {
			return err
		}

		submission.AttemptNumber = int(prior) + 1
		submission.Status = models.SubmissionStatusInProgress
		return tx.Create(submission).Error
	})
}

// Update persists the submission guarded by its optimistic version
// column. A lost race surfaces as ErrVersionConflict so callers can
// reload and retry instead of silently overwriting a concurrent grade.
func (r *submissionRepository) Update(ctx context.Context, submission *models.Submission) error {
	currentVersion := submission.Version
	submission.Version = currentVersion + 1

	result := r.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("id = ? AND version = ?", submission.ID, currentVersion).
		Select("*").
		Omit("id", "created_at").
		Updates(submission)
	if result.Error != nil {
		submission.Version = currentVersion
		return result.Error
	}
	if result.RowsAffected == 0 {
		submission.Version = currentVersion
		return ErrVersionConflict
	}
	return nil
}

func (r *submissionRepository) CreateHistory(ctx context.Context, history *models.GradeHistory) error {
	return r.db.WithContext(ctx).Create(history).Error
}

func (r *submissionRepository) ListCompletedByAssessment(ctx context.Context, assessmentID uint) ([]models.Submission, error) {
	var submissions []models.Submission
	if err := r.db.WithContext(ctx).
		Where("assessment_id = ? AND status IN ?", assessmentID, completedStatuses).
		Order("created_at ASC").
		Find(&submissions).Error; err != nil {
		return nil, err
	}
	return submissions, nil
}

func (r *submissionRepository) ListCompletedByStudentAndCourse(ctx context.Context, studentID, courseID uint) ([]models.Submission, error) {
	var submissions []models.Submission
	if err := r.db.WithContext(ctx).
		Joins("JOIN assessments ON assessments.id = submissions.assessment_id").
		Where("submissions.student_id = ? AND assessments.course_id = ? AND submissions.status IN ?",
			studentID, courseID, completedStatuses).
		Order("submissions.created_at ASC").
		Find(&submissions).Error; err != nil {
		return nil, err
	}
	return submissions, nil
}
