package decision

import (
	"github.com/ignite/habit-coach/internal/domain"
)

// Trigger moves a user from Idle to Candidate when Fire holds. Uses lists
// the prediction types recorded on the message as its justification.
type Trigger struct {
	Name     string
	Category domain.MessageCategory
	Uses     []domain.PredictionType
	Fire     func(cfg Config, in *Input) bool
}

// Trigger names.
const (
	TriggerHabitBoost   = "habit_boost_peak_window"
	TriggerReengagement = "reengagement_gap"
	TriggerMilestone    = "streak_milestone"
	TriggerStreakRisk   = "streak_risk_high"
)

// DefaultTriggers is the catalogue in registration order.
func DefaultTriggers() []Trigger {
	return []Trigger{
		{
			Name:     TriggerHabitBoost,
			Category: domain.CategoryHabitBoost,
			Uses:     []domain.PredictionType{domain.PredictionHabitFormation, domain.PredictionOptimalTiming},
			Fire:     habitBoost,
		},
		{
			Name:     TriggerReengagement,
			Category: domain.CategoryReengagement,
			Fire:     reengagement,
		},
		{
			Name:     TriggerMilestone,
			Category: domain.CategoryMilestone,
			Fire:     milestone,
		},
		{
			Name:     TriggerStreakRisk,
			Category: domain.CategoryStreakRisk,
			Uses:     []domain.PredictionType{domain.PredictionStreakRisk},
			Fire:     streakRisk,
		},
	}
}

func streakRisk(_ Config, in *Input) bool {
	r := in.Predictions.Get(domain.PredictionStreakRisk)
	return r != nil && r.Payload.RiskLevel == domain.RiskHigh
}

func milestone(cfg Config, in *Input) bool {
	if in.Snapshot == nil || in.Snapshot.CurrentStreak == 0 {
		return false
	}
	for _, d := range cfg.MilestoneDays {
		if in.Snapshot.CurrentStreak == d {
			return true
		}
	}
	return false
}

func reengagement(cfg Config, in *Input) bool {
	if in.Snapshot == nil || in.Snapshot.ActivityCount == 0 {
		return false
	}
	gap := in.Snapshot.DaysSinceLast
	return gap >= cfg.ReengagementMinGapDays && gap <= cfg.ReengagementMaxGapDays
}

func habitBoost(cfg Config, in *Input) bool {
	habit := in.Predictions.Get(domain.PredictionHabitFormation)
	if habit == nil || habit.Payload.Probability >= cfg.HabitBoostMaxProbability {
		return false
	}
	timing := in.Predictions.Get(domain.PredictionOptimalTiming)
	if timing == nil {
		return false
	}
	return inPeak(timing.Payload.Windows, cfg.PeakWindows, in.localNow())
}
