package models

import (
	"math"
	"time"

	"github.com/ignite/habit-coach/internal/domain"
	"github.com/ignite/habit-coach/internal/features"
)

// Fallback reasons recorded on results.
const (
	ReasonNewUser          = "new_user"
	ReasonInsufficientData = "insufficient_data"
	ReasonModelUnavailable = "model_unavailable"
	ReasonTimeout          = "timeout"
)

// DefaultWeeklyGoal is the goal recommended without enough history.
const DefaultWeeklyGoal = 3

// newUserConfidence is the fixed confidence of the new-user default set.
const newUserConfidence = 0.20

// FallbackInput describes a user the models cannot score.
type FallbackInput struct {
	UserID        string
	Activities    int
	AccountAge    time.Duration
	NewAccountAge time.Duration
	Reason        string // overrides the tier reason, e.g. ReasonTimeout
}

// IsNewUser reports whether the input falls in the new-user tier.
func (in FallbackInput) IsNewUser() bool {
	return in.Activities == 0 || in.AccountAge < in.NewAccountAge
}

// Fallback returns the conservative default for t. New accounts get the
// morning-hours set; established accounts with sparse history get a more
// cautious set with lower confidence. Every fallback is below
// domain.LowTrustConfidence.
func Fallback(t domain.PredictionType, in FallbackInput, now time.Time) *domain.PredictionResult {
	r := &domain.PredictionResult{
		UserID:       in.UserID,
		Type:         t,
		ModelVersion: domain.HeuristicVersion,
		ComputedAt:   now,
		Fallback:     true,
	}

	if in.IsNewUser() {
		r.Confidence = newUserConfidence
		r.FallbackReason = ReasonNewUser
		switch t {
		case domain.PredictionHabitFormation:
			r.Payload.Probability = 0.30
		case domain.PredictionStreakRisk:
			r.Payload.RiskLevel = domain.RiskLow
			r.Payload.Probability = 0.20
			r.Payload.Urgency = 0.20
		case domain.PredictionOptimalTiming:
			r.Payload.Windows = dailyWindows(map[int]float64{8: 1, 7: 0.9})
		}
	} else {
		r.Confidence = math.Min(newUserConfidence, FallbackConfidence(in.Activities))
		r.FallbackReason = ReasonInsufficientData
		switch t {
		case domain.PredictionHabitFormation:
			r.Payload.Probability = 0.20
		case domain.PredictionStreakRisk:
			r.Payload.RiskLevel = domain.RiskMedium
			r.Payload.Probability = 0.50
			r.Payload.Urgency = 0.50
		case domain.PredictionOptimalTiming:
			r.Payload.Windows = dailyWindows(map[int]float64{8: 1, 19: 0.9})
		}
	}

	switch t {
	case domain.PredictionSegment:
		r.Payload.Archetype = domain.ArchetypeGettingStarted
		r.Payload.Rule = "fallback"
	case domain.PredictionGoalRecommendation:
		r.Payload.WeeklyGoal = DefaultWeeklyGoal
	}
	if in.Reason != "" {
		r.FallbackReason = in.Reason
	}
	return r
}

// dailyWindows lists the given hours on every weekday, best score first.
func dailyWindows(hours map[int]float64) []domain.SendWindow {
	scores := make([]float64, Slots)
	for d := 0; d < 7; d++ {
		for h, s := range hours {
			scores[d*24+h] = s
		}
	}
	return RankScores(scores, 7*len(hours))
}

// RuleHabitProbability is the untrained habit score used when no artifact
// is active.
func RuleHabitProbability(s *domain.BehavioralSnapshot) float64 {
	p := 0.15 +
		0.45*s.NormalizedFrequency +
		0.25*math.Min(1, float64(s.CurrentStreak)/7) +
		0.10*s.StreakStability -
		0.02*s.DaysSinceLast
	return clamp(p, 0.02, 0.98)
}

// RuleTiming is the untrained timing model: the user's own histogram
// smoothed toward a uniform prior.
func RuleTiming() *Timing {
	return &Timing{Prior: UniformPrior(), Smoothing: 5}
}

// GoalRecommendation returns the weekly activity target and the value the
// user should focus on: ceil(weekly rate * 1.2) clamped to [2, 7], and the
// value with the highest engagement weight.
func GoalRecommendation(s *domain.BehavioralSnapshot) (int, string) {
	goal := int(math.Ceil(s.WeeklyRate * 1.2))
	goal = min(max(goal, 2), 7)
	return goal, features.TopValue(s)
}
