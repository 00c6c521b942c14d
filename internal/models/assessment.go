package models

import (
	"time"

	"gorm.io/datatypes"
)

// Question type discriminators. The grading engine dispatches on these.
const (
	QuestionTypeMultipleChoice = "multiple-choice"
	QuestionTypeTrueFalse      = "true-false"
	QuestionTypeShortAnswer    = "short-answer"
	QuestionTypeEssay          = "essay"
	QuestionTypeFillBlank      = "fill-blank"
	QuestionTypeCoding         = "coding"
)

// Late policy modes governing how lateness affects submission eligibility.
const (
	LateModeAllow       = "allow"
	LateModeDisallow    = "disallow"
	LateModeGracePeriod = "grace-period"
	LateModePenalty     = "penalty"
)

// Option is a selectable choice on a multiple-choice question.
type Option struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// TestCase is one stdin/stdout oracle for a coding question.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
}

// Question is one item of an assessment. Type-specific fields are stored
// as JSON columns; only the fields relevant to the question's type are set.
type Question struct {
	ID               uint                          `gorm:"primaryKey" json:"id"`
	AssessmentID     uint                          `gorm:"not null;index" json:"assessment_id"`
	Position         int                           `gorm:"not null;default:0" json:"position"`
	Type             string                        `gorm:"size:32;not null" json:"type"`
	Prompt           string                        `gorm:"type:text" json:"prompt"`
	Points           float64                       `gorm:"not null" json:"points"`
	Options          datatypes.JSONSlice[Option]   `json:"options"`
	CorrectAnswer    datatypes.JSON                `json:"correct_answer"`
	TestCases        datatypes.JSONSlice[TestCase] `json:"test_cases"`
	AllowedLanguages datatypes.JSONSlice[string]   `json:"allowed_languages"`
	CreatedAt        time.Time                     `json:"created_at"`
	UpdatedAt        time.Time                     `json:"updated_at"`
}

// RubricCriterion is a named scoring criterion with independent max points.
type RubricCriterion struct {
	ID           uint    `gorm:"primaryKey" json:"id"`
	AssessmentID uint    `gorm:"not null;index" json:"assessment_id"`
	Title        string  `gorm:"size:255;not null" json:"title"`
	Description  string  `gorm:"type:text" json:"description"`
	MaxPoints    float64 `gorm:"not null" json:"max_points"`
}

// LatePolicy configures how late submissions are treated for an assessment.
type LatePolicy struct {
	Mode                 string  `gorm:"size:32" json:"mode"`
	GraceMinutes         int     `json:"grace_minutes"`
	PenaltyPercentPerDay float64 `json:"penalty_percent_per_day"`
	MaxPenaltyPercent    float64 `json:"max_penalty_percent"`
}

// Assessment is a graded activity definition. The grading engine only ever
// reads assessments; authoring belongs to the course admin surface.
type Assessment struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	CourseID      uint              `gorm:"not null;index" json:"course_id"`
	Title         string            `gorm:"size:255;not null" json:"title"`
	Description   string            `gorm:"type:text" json:"description"`
	TotalPoints   float64           `gorm:"not null" json:"total_points"`
	PassingScore  float64           `gorm:"not null;default:60" json:"passing_score"`
	GradingMethod string            `gorm:"size:32" json:"grading_method"`
	IsScheduled   bool              `gorm:"not null;default:false" json:"is_scheduled"`
	StartDate     *time.Time        `json:"start_date"`
	EndDate       *time.Time        `json:"end_date"`
	LatePolicy    LatePolicy        `gorm:"embedded;embeddedPrefix:late_" json:"late_policy"`
	Questions     []Question        `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"questions"`
	Rubric        []RubricCriterion `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"rubric"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// HasRubric reports whether the assessment defines rubric criteria.
func (a Assessment) HasRubric() bool {
	return len(a.Rubric) > 0
}

// Deadline returns the scheduled end date, or nil when the assessment
// has no enforced deadline.
func (a Assessment) Deadline() *time.Time {
	if !a.IsScheduled || a.EndDate == nil {
		return nil
	}
	return a.EndDate
}
