package dto

import "time"

// SubmissionStatsResponse aggregates all completed submissions for one
// assessment. Count covers every handed-in attempt; the score figures are
// computed over the GradedCount submissions that have a grade.
type SubmissionStatsResponse struct {
	AssessmentID            uint           `json:"assessment_id"`
	Count                   int            `json:"count"`
	GradedCount             int            `json:"graded_count"`
	AveragePercentage       float64        `json:"average_percentage"`
	MaxPercentage           float64        `json:"max_percentage"`
	MinPercentage           float64        `json:"min_percentage"`
	PassRate                float64        `json:"pass_rate"`
	GradeDistribution       map[string]int `json:"grade_distribution"`
	AverageTimeSpentSeconds float64        `json:"average_time_spent_seconds"`
	GeneratedAt             time.Time      `json:"generated_at"`
	CacheHit                bool           `json:"cache_hit,omitempty"`
}

// StudentProgressResponse aggregates a student's completed submissions
// across the assessments of one course.
type StudentProgressResponse struct {
	StudentID         uint    `json:"student_id"`
	CourseID          uint    `json:"course_id"`
	Completed         int     `json:"completed"`
	Graded            int     `json:"graded"`
	AveragePercentage float64 `json:"average_percentage"`
	EarnedPoints      float64 `json:"earned_points"`
	TotalPoints       float64 `json:"total_points"`
	Passed            int     `json:"passed"`
}
