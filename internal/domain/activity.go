package domain

import "time"

// Activity is a single logged habit completion as returned by the activity
// history store, ordered by OccurredAt.
type Activity struct {
	ID          string    `json:"id" db:"id"`
	UserID      string    `json:"user_id" db:"user_id"`
	Kind        string    `json:"kind" db:"kind"`
	Value       string    `json:"value,omitempty" db:"value_key"`       // personal value the activity serves, e.g. "health"
	Importance  float64   `json:"importance,omitempty" db:"importance"` // user-rated importance of Value, 0-1
	DurationMin float64   `json:"duration_min" db:"duration_min"`
	OccurredAt  time.Time `json:"occurred_at" db:"occurred_at"`
	Source      string    `json:"source,omitempty" db:"source"`
}

// BehavioralSnapshot is the fixed-shape feature vector derived from one
// user's activity window. It is ephemeral and never persisted directly.
type BehavioralSnapshot struct {
	UserID      string    `json:"user_id"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	ActivityCount int `json:"activity_count"`
	ActiveDays    int `json:"active_days"`

	HourHistogram    [24]int            `json:"hour_histogram"`
	WeekdayHistogram [7]int             `json:"weekday_histogram"`
	HourWeekday      [7][24]int         `json:"hour_weekday"`
	ValueWeights     map[string]float64 `json:"value_weights,omitempty"`

	NormalizedFrequency float64 `json:"normalized_frequency"` // active days / window days
	WeeklyRate          float64 `json:"weekly_rate"`          // active days per 7 days

	CurrentStreak   int     `json:"current_streak"`
	PriorStreak     int     `json:"prior_streak"` // length of the most recent run, broken or not
	LongestStreak   int     `json:"longest_streak"`
	GapMean         float64 `json:"gap_mean_days"`
	GapVariance     float64 `json:"gap_variance"`
	GapMax          float64 `json:"gap_max_days"`
	StreakStability float64 `json:"streak_stability"` // 1 / (1 + gap variance)
	DaysSinceLast   float64 `json:"days_since_last"`

	SessionMean     float64 `json:"session_mean_min"`
	SessionVariance float64 `json:"session_variance"`

	LastActivityAt time.Time `json:"last_activity_at"`
}

// WindowDays returns the length of the snapshot window in whole days.
func (s *BehavioralSnapshot) WindowDays() int {
	d := int(s.WindowEnd.Sub(s.WindowStart).Hours() / 24)
	if d < 1 {
		return 1
	}
	return d
}
