package grading

import (
	"math"
	"time"

	"github.com/evalhub/assess-go-api/internal/models"
)

const minutesPerDay = 1440

// DefaultLatePolicy returns the process-wide fallback merged under each
// assessment's own policy.
func DefaultLatePolicy() models.LatePolicy {
	return models.LatePolicy{
		Mode:              models.LateModeAllow,
		MaxPenaltyPercent: 100,
	}
}

// LatePolicyResolver decides lateness at submit time and computes the
// numeric penalty at grading time. The defaults are explicit
// configuration, not a package singleton.
type LatePolicyResolver struct {
	defaults models.LatePolicy
}

// NewLatePolicyResolver builds a resolver with the given fallback policy.
func NewLatePolicyResolver(defaults models.LatePolicy) LatePolicyResolver {
	if defaults.Mode == "" {
		defaults.Mode = models.LateModeAllow
	}
	if defaults.MaxPenaltyPercent <= 0 {
		defaults.MaxPenaltyPercent = 100
	}
	return LatePolicyResolver{defaults: defaults}
}

func (r LatePolicyResolver) effective(policy models.LatePolicy) models.LatePolicy {
	merged := policy
	if merged.Mode == "" {
		merged.Mode = r.defaults.Mode
	}
	if merged.GraceMinutes <= 0 {
		merged.GraceMinutes = r.defaults.GraceMinutes
	}
	if merged.PenaltyPercentPerDay <= 0 {
		merged.PenaltyPercentPerDay = r.defaults.PenaltyPercentPerDay
	}
	if merged.MaxPenaltyPercent <= 0 {
		merged.MaxPenaltyPercent = r.defaults.MaxPenaltyPercent
	}
	return merged
}

// SubmitOutcome is the lateness determination made when a submission is
// handed in.
type SubmitOutcome struct {
	IsLate        bool
	LateByMinutes int
	Rejected      bool
}

// ResolveAtSubmit tags lateness against the deadline. A nil deadline
// means the assessment is not time-bound and the submission is on time.
// Under the disallow mode a late submission is rejected outright.
func (r LatePolicyResolver) ResolveAtSubmit(policy models.LatePolicy, deadline *time.Time, completedAt time.Time) SubmitOutcome {
	if deadline == nil || !completedAt.After(*deadline) {
		return SubmitOutcome{}
	}

	lateBy := int(math.Ceil(completedAt.Sub(*deadline).Minutes()))
	merged := r.effective(policy)

	switch merged.Mode {
	case models.LateModeDisallow:
		return SubmitOutcome{IsLate: true, LateByMinutes: lateBy, Rejected: true}
	case models.LateModeGracePeriod:
		if lateBy <= merged.GraceMinutes {
			return SubmitOutcome{}
		}
		return SubmitOutcome{IsLate: true, LateByMinutes: lateBy}
	default:
		// allow and penalty both accept the submission as late; the
		// penalty amount is computed at grading time.
		return SubmitOutcome{IsLate: true, LateByMinutes: lateBy}
	}
}

// Penalty is the numeric deduction applied to a late submission.
type Penalty struct {
	PenaltyPercent      float64
	PenaltyPoints       float64
	PointsBeforePenalty float64
	PointsAfterPenalty  float64
}

// ComputePenalty derives the late deduction for a graded submission.
// Only the penalty mode deducts points; every other mode returns the
// earned points unchanged. Any partial day counts as a full late day.
func (r LatePolicyResolver) ComputePenalty(policy models.LatePolicy, isLate bool, lateByMinutes int, earnedPoints float64) Penalty {
	merged := r.effective(policy)

	passthrough := Penalty{
		PointsBeforePenalty: earnedPoints,
		PointsAfterPenalty:  earnedPoints,
	}

	if merged.Mode != models.LateModePenalty || !isLate || lateByMinutes <= 0 {
		return passthrough
	}

	lateDays := int(math.Ceil(float64(lateByMinutes) / minutesPerDay))
	if lateDays < 1 {
		lateDays = 1
	}

	percent := float64(lateDays) * merged.PenaltyPercentPerDay
	if percent > merged.MaxPenaltyPercent {
		percent = merged.MaxPenaltyPercent
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	after := math.Round(earnedPoints * (1 - percent/100))
	if after < 0 {
		after = 0
	}

	return Penalty{
		PenaltyPercent:      percent,
		PenaltyPoints:       earnedPoints - after,
		PointsBeforePenalty: earnedPoints,
		PointsAfterPenalty:  after,
	}
}
