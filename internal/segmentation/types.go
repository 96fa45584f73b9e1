// Package segmentation assigns each user exactly one behavioral archetype
// from an ordered rule table. Rules are data: a list of (conditions,
// archetype) pairs evaluated top to bottom, first match wins, with
// getting_started as the catch-all.
package segmentation

import "github.com/ignite/habit-coach/internal/domain"

// ==========================================
// OPERATORS
// ==========================================

// Operator represents a numeric comparison operator
type Operator string

const (
	OpGt      Operator = "gt"
	OpGte     Operator = "gte"
	OpLt      Operator = "lt"
	OpLte     Operator = "lte"
	OpBetween Operator = "between" // inclusive of both bounds
)

// ==========================================
// FIELDS
// ==========================================

// Field names a snapshot feature a condition can test.
type Field string

const (
	FieldCurrentStreak   Field = "current_streak"
	FieldLongestStreak   Field = "longest_streak"
	FieldStreakStability Field = "streak_stability"
	FieldGapVariance     Field = "gap_variance"
	FieldSessionMean     Field = "session_mean"
	FieldWeeklyRate      Field = "weekly_rate"
	FieldActiveDays      Field = "active_days"
	FieldDaysSinceLast   Field = "days_since_last"
)

var fieldValues = map[Field]func(*domain.BehavioralSnapshot) float64{
	FieldCurrentStreak:   func(s *domain.BehavioralSnapshot) float64 { return float64(s.CurrentStreak) },
	FieldLongestStreak:   func(s *domain.BehavioralSnapshot) float64 { return float64(s.LongestStreak) },
	FieldStreakStability: func(s *domain.BehavioralSnapshot) float64 { return s.StreakStability },
	FieldGapVariance:     func(s *domain.BehavioralSnapshot) float64 { return s.GapVariance },
	FieldSessionMean:     func(s *domain.BehavioralSnapshot) float64 { return s.SessionMean },
	FieldWeeklyRate:      func(s *domain.BehavioralSnapshot) float64 { return s.WeeklyRate },
	FieldActiveDays:      func(s *domain.BehavioralSnapshot) float64 { return float64(s.ActiveDays) },
	FieldDaysSinceLast:   func(s *domain.BehavioralSnapshot) float64 { return s.DaysSinceLast },
}

// ==========================================
// RULES
// ==========================================

// Condition is one comparison against a snapshot field.
type Condition struct {
	Field          Field    `json:"field" yaml:"field"`
	Operator       Operator `json:"operator" yaml:"operator"`
	Value          float64  `json:"value" yaml:"value"`
	ValueSecondary float64  `json:"value_secondary,omitempty" yaml:"value_secondary,omitempty"` // upper bound for between
}

// Rule maps a conjunction of conditions to an archetype.
type Rule struct {
	Name       string           `json:"name" yaml:"name"`
	Archetype  domain.Archetype `json:"archetype" yaml:"archetype"`
	Conditions []Condition      `json:"conditions" yaml:"conditions"`
}

// Result is the outcome of classifying one snapshot.
type Result struct {
	Archetype domain.Archetype `json:"archetype"`
	Rule      string           `json:"rule"`
}

// DefaultRuleName is reported when no rule matched.
const DefaultRuleName = "default"

// DefaultRules is the production rule table in priority order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:      "long_stable_streak",
			Archetype: domain.ArchetypeHabitMaster,
			Conditions: []Condition{
				{Field: FieldCurrentStreak, Operator: OpGte, Value: 21},
				{Field: FieldStreakStability, Operator: OpGte, Value: 0.5},
			},
		},
		{
			Name:      "deep_sessions",
			Archetype: domain.ArchetypeQualityFocused,
			Conditions: []Condition{
				{Field: FieldSessionMean, Operator: OpGte, Value: 30},
				{Field: FieldWeeklyRate, Operator: OpGte, Value: 2},
			},
		},
		{
			Name:      "regular_rhythm",
			Archetype: domain.ArchetypeConsistencyBuilder,
			Conditions: []Condition{
				{Field: FieldStreakStability, Operator: OpGte, Value: 0.6},
				{Field: FieldWeeklyRate, Operator: OpGte, Value: 3},
			},
		},
		{
			Name:      "active_streak",
			Archetype: domain.ArchetypeStreakEnthusiast,
			Conditions: []Condition{
				{Field: FieldCurrentStreak, Operator: OpGte, Value: 7},
			},
		},
	}
}
