package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Submission lifecycle states.
const (
	SubmissionStatusInProgress = "in-progress"
	SubmissionStatusSubmitted  = "submitted"
	SubmissionStatusLate       = "late"
	SubmissionStatusIncomplete = "incomplete"
	SubmissionStatusGraded     = "graded"
	SubmissionStatusAbandoned  = "abandoned"
)

// Plagiarism report states.
const (
	PlagiarismStatusPending = "pending"
	PlagiarismStatusChecked = "checked"
	PlagiarismStatusFlagged = "flagged"
)

// Answer is one recorded answer within a submission. Value holds the raw
// submitted payload, which varies by question type: a string, a boolean,
// or an object carrying code and language for coding questions. Grading
// annotates the IsCorrect/Points fields; the submitted Value is never
// rewritten.
type Answer struct {
	QuestionID       uint            `json:"question_id"`
	Value            json.RawMessage `json:"value"`
	TimeSpentSeconds int             `json:"time_spent_seconds,omitempty"`
	IsCorrect        *bool           `json:"is_correct,omitempty"`
	Points           *float64        `json:"points,omitempty"`
	PassedTestCases  *int            `json:"passed_test_cases,omitempty"`
	TotalTestCases   *int            `json:"total_test_cases,omitempty"`
	Comment          string          `json:"comment,omitempty"`
}

// Scoring summarises a graded submission.
type Scoring struct {
	TotalQuestions    int     `json:"total_questions"`
	AnsweredQuestions int     `json:"answered_questions"`
	CorrectAnswers    int     `json:"correct_answers"`
	TotalPoints       float64 `json:"total_points"`
	EarnedPoints      float64 `json:"earned_points"`
	Percentage        float64 `json:"percentage"`
	IsPassed          bool    `json:"is_passed"`
	Grade             string  `gorm:"size:4" json:"grade"`
}

// LatePolicyApplied records the lateness determination made at submit time
// and the penalty applied at grading time.
type LatePolicyApplied struct {
	IsLate              bool    `json:"is_late"`
	LateByMinutes       int     `json:"late_by_minutes"`
	PenaltyPercent      float64 `json:"penalty_percent"`
	PenaltyPoints       float64 `json:"penalty_points"`
	PointsBeforePenalty float64 `json:"points_before_penalty"`
	PointsAfterPenalty  float64 `json:"points_after_penalty"`
}

// RubricScore is one criterion's earned points within a rubric-scored grade.
type RubricScore struct {
	CriterionID  uint    `json:"criterion_id"`
	EarnedPoints float64 `json:"earned_points"`
	MaxPoints    float64 `json:"max_points"`
	Comment      string  `json:"comment,omitempty"`
}

// GradeOverride is the audit record of a manual grade replacement.
type GradeOverride struct {
	IsOverridden bool       `json:"is_overridden"`
	Points       float64    `json:"points"`
	Percentage   float64    `json:"percentage"`
	Reason       string     `gorm:"type:text" json:"reason"`
	OverriddenBy uint       `json:"overridden_by"`
	OverriddenAt *time.Time `json:"overridden_at"`
}

// RevisionRequest tracks an instructor's request for the student to revise
// and resubmit.
type RevisionRequest struct {
	Requested   bool       `json:"requested"`
	RequestedAt *time.Time `json:"requested_at"`
	RequestedBy uint       `json:"requested_by"`
	DueAt       *time.Time `json:"due_at"`
	Reason      string     `gorm:"type:text" json:"reason"`
}

// PlagiarismReport stores the outcome of an external similarity check.
type PlagiarismReport struct {
	Status          string            `gorm:"size:32" json:"status"`
	Provider        string            `gorm:"size:64" json:"provider"`
	SimilarityScore *float64          `json:"similarity_score"`
	Flagged         bool              `json:"flagged"`
	ReportURL       string            `gorm:"size:512" json:"report_url"`
	Details         datatypes.JSONMap `json:"details"`
	CheckedAt       *time.Time        `json:"checked_at"`
}

// Violation is a proctoring event recorded while an attempt is open.
type Violation struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details,omitempty"`
}

// Flags carries quick-filter booleans derived from the submission state.
type Flags struct {
	IsLate        bool `json:"is_late"`
	HasViolations bool `json:"has_violations"`
	NeedsReview   bool `json:"needs_review"`
}

// Submission is one attempt by a student at an assessment. At most one
// submission per (assessment, student) may be in-progress at a time.
type Submission struct {
	ID               uint                             `gorm:"primaryKey" json:"id"`
	AssessmentID     uint                             `gorm:"not null;index:idx_submission_attempt" json:"assessment_id"`
	StudentID        uint                             `gorm:"not null;index:idx_submission_attempt" json:"student_id"`
	EnrollmentID     uint                             `json:"enrollment_id"`
	AttemptNumber    int                              `gorm:"not null;default:1" json:"attempt_number"`
	Status           string                           `gorm:"size:32;not null;index" json:"status"`
	TimeLimitMinutes int                              `json:"time_limit_minutes"`
	StartedAt        time.Time                        `json:"started_at"`
	CompletedAt      *time.Time                       `json:"completed_at"`
	Answers          datatypes.JSONSlice[Answer]      `json:"answers"`
	Scoring          Scoring                          `gorm:"embedded;embeddedPrefix:scoring_" json:"scoring"`
	LatePolicy       LatePolicyApplied                `gorm:"embedded;embeddedPrefix:late_" json:"late_policy_applied"`
	RubricScores     datatypes.JSONSlice[RubricScore] `json:"rubric_scores"`
	Override         GradeOverride                    `gorm:"embedded;embeddedPrefix:override_" json:"grade_override"`
	Revision         RevisionRequest                  `gorm:"embedded;embeddedPrefix:revision_" json:"revision_request"`
	Plagiarism       PlagiarismReport                 `gorm:"embedded;embeddedPrefix:plagiarism_" json:"plagiarism_report"`
	Violations       datatypes.JSONSlice[Violation]   `json:"violations"`
	Flags            Flags                            `gorm:"embedded;embeddedPrefix:flag_" json:"flags"`
	Feedback         string                           `gorm:"type:text" json:"feedback"`
	GradedBy         *uint                            `json:"graded_by"`
	GradedAt         *time.Time                       `json:"graded_at"`
	DeviceInfo       string                           `gorm:"size:255" json:"device_info"`
	Version          int                              `gorm:"not null;default:1" json:"version"`
	CreatedAt        time.Time                        `json:"created_at"`
	UpdatedAt        time.Time                        `json:"updated_at"`
	Assessment       Assessment                       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// IsCompleted reports whether the attempt has been handed in, regardless
// of whether grading has happened yet.
func (s Submission) IsCompleted() bool {
	switch s.Status {
	case SubmissionStatusSubmitted, SubmissionStatusLate, SubmissionStatusGraded:
		return true
	}
	return false
}

// IsGradable reports whether a grading pass may run on the submission:
// either it has been handed in, or it was reopened for revision and the
// instructor is re-grading it.
func (s Submission) IsGradable() bool {
	return s.IsCompleted() || s.Status == SubmissionStatusIncomplete
}

// IsGraded reports whether the submission has a final grade.
func (s Submission) IsGraded() bool {
	return s.Status == SubmissionStatusGraded
}

// TotalTimeSpentSeconds sums the per-answer time tracking.
func (s Submission) TotalTimeSpentSeconds() int {
	total := 0
	for _, answer := range s.Answers {
		total += answer.TimeSpentSeconds
	}
	return total
}

// GradeHistory is an append-only audit row written on every grade,
// re-grade and override.
type GradeHistory struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	SubmissionID uint      `gorm:"not null;index" json:"submission_id"`
	EarnedPoints float64   `json:"earned_points"`
	Percentage   float64   `json:"percentage"`
	Grade        string    `gorm:"size:4" json:"grade"`
	Source       string    `gorm:"size:32" json:"source"`
	Reason       string    `gorm:"type:text" json:"reason"`
	GradedBy     uint      `json:"graded_by"`
	GradedAt     time.Time `json:"graded_at"`
}

// Grade history sources.
const (
	GradeSourceAuto     = "auto"
	GradeSourceOverride = "override"
)
