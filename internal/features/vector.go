package features

import (
	"math"

	"github.com/ignite/habit-coach/internal/domain"
)

// Names lists the columns of Vector in order. Trained artifacts store
// weights in this order, so append only.
var Names = []string{
	"normalized_frequency",
	"weekly_rate",
	"log_current_streak",
	"log_prior_streak",
	"log_longest_streak",
	"gap_mean",
	"gap_std",
	"gap_max",
	"streak_stability",
	"days_since_last",
	"session_mean",
	"session_std",
	"overdue_ratio",
}

// Vector flattens the scalar features of s in Names order.
func Vector(s *domain.BehavioralSnapshot) []float64 {
	return []float64{
		s.NormalizedFrequency,
		s.WeeklyRate,
		math.Log1p(float64(s.CurrentStreak)),
		math.Log1p(float64(s.PriorStreak)),
		math.Log1p(float64(s.LongestStreak)),
		s.GapMean,
		math.Sqrt(s.GapVariance),
		s.GapMax,
		s.StreakStability,
		s.DaysSinceLast,
		s.SessionMean,
		math.Sqrt(s.SessionVariance),
		OverdueRatio(s),
	}
}

// OverdueRatio is how far past the user's usual gap the current silence is.
// 1 means exactly on schedule; larger means overdue.
func OverdueRatio(s *domain.BehavioralSnapshot) float64 {
	expected := s.GapMean
	if expected < 1 {
		expected = 1
	}
	return s.DaysSinceLast / expected
}

// TopValue is the value with the highest engagement weight. Ties go to the
// alphabetically first value.
func TopValue(s *domain.BehavioralSnapshot) string {
	var best string
	var bestW float64
	for k, w := range s.ValueWeights {
		if w > bestW || (w == bestW && k < best) {
			best, bestW = k, w
		}
	}
	return best
}
