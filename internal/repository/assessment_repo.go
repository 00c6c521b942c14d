package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/evalhub/assess-go-api/internal/models"
)

// AssessmentRepository provides read access to assessment definitions.
// The grading engine never writes assessments.
type AssessmentRepository interface {
	GetByID(ctx context.Context, id uint) (models.Assessment, error)
	GetWithQuestions(ctx context.Context, id uint) (models.Assessment, error)
}

type assessmentRepository struct {
	db *gorm.DB
}

// NewAssessmentRepository instantiates the repository.
func NewAssessmentRepository(db *gorm.DB) AssessmentRepository {
	return &assessmentRepository{db: db}
}

func (r *assessmentRepository) GetByID(ctx context.Context, id uint) (models.Assessment, error) {
	var assessment models.Assessment
	if err := r.db.WithContext(ctx).First(&assessment, id).Error; err != nil {
		return models.Assessment{}, err
	}
	return assessment, nil
}

func (r *assessmentRepository) GetWithQuestions(ctx context.Context, id uint) (models.Assessment, error) {
	var assessment models.Assessment
	if err := r.db.WithContext(ctx).
		Preload("Questions", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC")
		}).
		Preload("Rubric").
		First(&assessment, id).Error; err != nil {
		return models.Assessment{}, err
	}
	return assessment, nil
}
