package templates

import (
	"math"

	"github.com/ignite/habit-coach/internal/domain"
)

// Personalization is the variable set templates can reference.
type Personalization struct {
	Name          string
	Streak        int
	PriorStreak   int
	LongestStreak int
	DaysAway      int
	BestHour      int
	WeeklyGoal    int
	FocusValue    string
	Archetype     domain.Archetype
	Category      domain.MessageCategory
}

// BuildPersonalization collects variables from the profile, the snapshot
// (nil for sparse users) and the prediction set.
func BuildPersonalization(p *domain.UserPersonalizationProfile, s *domain.BehavioralSnapshot, preds domain.PredictionSet, c domain.MessageCategory) Personalization {
	out := Personalization{Category: c, BestHour: -1, Archetype: domain.ArchetypeGettingStarted}
	if p != nil {
		out.Name = p.DisplayName
	}
	if s != nil {
		out.Streak = s.CurrentStreak
		out.PriorStreak = s.PriorStreak
		out.LongestStreak = s.LongestStreak
		out.DaysAway = int(math.Floor(s.DaysSinceLast))
	}
	if r := preds.Get(domain.PredictionOptimalTiming); r != nil && len(r.Payload.Windows) > 0 {
		out.BestHour = r.Payload.Windows[0].Hour
	}
	if r := preds.Get(domain.PredictionGoalRecommendation); r != nil {
		out.WeeklyGoal = r.Payload.WeeklyGoal
		out.FocusValue = r.Payload.FocusValue
	}
	if r := preds.Get(domain.PredictionSegment); r != nil && r.Payload.Archetype != "" {
		out.Archetype = r.Payload.Archetype
	}
	return out
}

// Map returns the Liquid bindings, also stored on the message.
func (p Personalization) Map() map[string]interface{} {
	m := map[string]interface{}{
		"name":           p.Name,
		"streak":         p.Streak,
		"prior_streak":   p.PriorStreak,
		"longest_streak": p.LongestStreak,
		"days_away":      p.DaysAway,
		"weekly_goal":    p.WeeklyGoal,
		"focus_value":    p.FocusValue,
		"archetype":      string(p.Archetype),
		"category":       string(p.Category),
	}
	if p.BestHour >= 0 {
		m["best_hour"] = p.BestHour
	}
	return m
}
