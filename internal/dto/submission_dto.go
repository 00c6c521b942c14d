package dto

import (
	"encoding/json"
	"time"

	"github.com/evalhub/assess-go-api/internal/models"
)

// AttemptCreateRequest starts a new attempt at an assessment.
type AttemptCreateRequest struct {
	StudentID        uint `json:"student_id" validate:"required,gt=0"`
	EnrollmentID     uint `json:"enrollment_id" validate:"omitempty,gt=0"`
	TimeLimitMinutes int  `json:"time_limit_minutes" validate:"omitempty,gt=0"`
}

// ProgressUpdateRequest records or replaces a single draft answer.
type ProgressUpdateRequest struct {
	QuestionID       uint            `json:"question_id"`
	Answer           json.RawMessage `json:"answer"`
	TimeSpentSeconds int             `json:"time_spent_seconds" validate:"omitempty,gte=0"`
}

// SubmitRequest hands in the attempt. Answers stays raw until it has been
// validated against the answers schema; a non-array payload must be
// rejected before decoding.
type SubmitRequest struct {
	Answers    json.RawMessage `json:"answers" validate:"required"`
	DeviceInfo string          `json:"device_info" validate:"omitempty,max=255"`
}

// ViolationRequest records a proctoring event on an open attempt.
type ViolationRequest struct {
	Type    string `json:"type" validate:"required,max=64"`
	Details string `json:"details" validate:"omitempty,max=1024"`
}

// SubmissionFilter describes query string filters for listing submissions.
type SubmissionFilter struct {
	AssessmentID *uint   `query:"assessment_id"`
	StudentID    *uint   `query:"student_id"`
	Status       *string `query:"status" validate:"omitempty,oneof=in-progress submitted late incomplete graded abandoned"`
}

// AnswerResponse serializes one recorded answer with its grading outcome.
type AnswerResponse struct {
	QuestionID       uint            `json:"question_id"`
	Value            json.RawMessage `json:"value"`
	TimeSpentSeconds int             `json:"time_spent_seconds,omitempty"`
	IsCorrect        *bool           `json:"is_correct,omitempty"`
	Points           *float64        `json:"points,omitempty"`
	PassedTestCases  *int            `json:"passed_test_cases,omitempty"`
	TotalTestCases   *int            `json:"total_test_cases,omitempty"`
	Comment          string          `json:"comment,omitempty"`
}

// SubmissionResponse is returned to API clients when viewing submissions.
type SubmissionResponse struct {
	ID               uint                     `json:"id"`
	AssessmentID     uint                     `json:"assessment_id"`
	StudentID        uint                     `json:"student_id"`
	EnrollmentID     uint                     `json:"enrollment_id,omitempty"`
	AttemptNumber    int                      `json:"attempt_number"`
	Status           string                   `json:"status"`
	StartedAt        time.Time                `json:"started_at"`
	CompletedAt      *time.Time               `json:"completed_at"`
	Answers          []AnswerResponse         `json:"answers"`
	Scoring          models.Scoring           `json:"scoring"`
	LatePolicy       models.LatePolicyApplied `json:"late_policy_applied"`
	RubricScores     []models.RubricScore     `json:"rubric_scores,omitempty"`
	Override         models.GradeOverride     `json:"grade_override"`
	Revision         models.RevisionRequest   `json:"revision_request"`
	Plagiarism       models.PlagiarismReport  `json:"plagiarism_report"`
	Violations       []models.Violation       `json:"violations,omitempty"`
	Flags            models.Flags             `json:"flags"`
	Feedback         string                   `json:"feedback,omitempty"`
	GradedBy         *uint                    `json:"graded_by"`
	GradedAt         *time.Time               `json:"graded_at"`
	TimeLimitMinutes int                      `json:"time_limit_minutes,omitempty"`
	CreatedAt        time.Time                `json:"created_at"`
	UpdatedAt        time.Time                `json:"updated_at"`
}

// NewSubmissionResponse converts a Submission model into a DTO.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	answers := make([]AnswerResponse, 0, len(model.Answers))
	for _, answer := range model.Answers {
		answers = append(answers, AnswerResponse{
			QuestionID:       answer.QuestionID,
			Value:            answer.Value,
			TimeSpentSeconds: answer.TimeSpentSeconds,
			IsCorrect:        answer.IsCorrect,
			Points:           answer.Points,
			PassedTestCases:  answer.PassedTestCases,
			TotalTestCases:   answer.TotalTestCases,
			Comment:          answer.Comment,
		})
	}

	return SubmissionResponse{
		ID:               model.ID,
		AssessmentID:     model.AssessmentID,
		StudentID:        model.StudentID,
		EnrollmentID:     model.EnrollmentID,
		AttemptNumber:    model.AttemptNumber,
		Status:           model.Status,
		StartedAt:        model.StartedAt,
		CompletedAt:      model.CompletedAt,
		Answers:          answers,
		Scoring:          model.Scoring,
		LatePolicy:       model.LatePolicy,
		RubricScores:     model.RubricScores,
		Override:         model.Override,
		Revision:         model.Revision,
		Plagiarism:       model.Plagiarism,
		Violations:       model.Violations,
		Flags:            model.Flags,
		Feedback:         model.Feedback,
		GradedBy:         model.GradedBy,
		GradedAt:         model.GradedAt,
		TimeLimitMinutes: model.TimeLimitMinutes,
		CreatedAt:        model.CreatedAt,
		UpdatedAt:        model.UpdatedAt,
	}
}

// NewSubmissionResponses converts a slice of submissions.
func NewSubmissionResponses(items []models.Submission) []SubmissionResponse {
	responses := make([]SubmissionResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, NewSubmissionResponse(item))
	}
	return responses
}
