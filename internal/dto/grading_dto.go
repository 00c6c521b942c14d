package dto

import (
	"time"

	"github.com/evalhub/assess-go-api/internal/grading"
	"github.com/evalhub/assess-go-api/internal/models"
)

// GradeRequest carries instructor input for a grading pass.
type GradeRequest struct {
	Feedback     grading.Feedback     `json:"feedback"`
	RubricScores []models.RubricScore `json:"rubric_scores" validate:"omitempty,dive"`
}

// OverrideRequest manually replaces a computed grade. At least one of
// Points or Percentage must be supplied; the service derives the other.
type OverrideRequest struct {
	Points     *float64 `json:"points" validate:"omitempty,gte=0"`
	Percentage *float64 `json:"percentage" validate:"omitempty"`
	Reason     string   `json:"reason" validate:"required,min=3"`
}

// RevisionRequestPayload asks the student to revise and resubmit.
type RevisionRequestPayload struct {
	Reason string     `json:"reason" validate:"required,min=3"`
	DueAt  *time.Time `json:"due_at" validate:"omitempty"`
}

// EssaySuggestionResponse is a drafted feedback item for one essay answer.
type EssaySuggestionResponse struct {
	QuestionID      uint    `json:"question_id"`
	SuggestedPoints float64 `json:"suggested_points"`
	Comment         string  `json:"comment"`
	Confidence      float64 `json:"confidence"`
}

// PlagiarismReportPayload records an external similarity check result.
type PlagiarismReportPayload struct {
	Provider        string                 `json:"provider" validate:"required,max=64"`
	SimilarityScore *float64               `json:"similarity_score" validate:"omitempty,gte=0,lte=100"`
	ReportURL       string                 `json:"report_url" validate:"omitempty,url"`
	Details         map[string]interface{} `json:"details"`
	Flagged         bool                   `json:"flagged"`
	Status          string                 `json:"status" validate:"omitempty,oneof=pending checked flagged"`
}
