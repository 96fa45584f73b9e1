package domain

import "time"

// TargetingPredicate narrows which users a template may be shown to.
// Zero values match everything.
type TargetingPredicate struct {
	Segments   []Archetype `json:"segments,omitempty"`
	Locales    []string    `json:"locales,omitempty"`
	RiskLevels []RiskLevel `json:"risk_levels,omitempty"`
	MinStreak  int         `json:"min_streak,omitempty"`
	MaxStreak  int         `json:"max_streak,omitempty"` // 0 means unbounded
}

// CoachingMessageTemplate is authored externally and read-only at runtime.
// Body and Title are liquid templates with personalization slots.
type CoachingMessageTemplate struct {
	ID           string             `json:"id"`
	Category     MessageCategory    `json:"category"`
	Tone         Tone               `json:"tone"`
	Targeting    TargetingPredicate `json:"targeting"`
	Title        string             `json:"title"`
	Body         string             `json:"body"`
	Weight       int                `json:"weight"`
	ExperimentID string             `json:"experiment_id,omitempty"`
	Active       bool               `json:"active"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}
