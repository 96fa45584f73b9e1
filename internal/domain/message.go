package domain

import "time"

// MessageCategory is what a coaching message is about.
type MessageCategory string

const (
	CategoryStreakRisk   MessageCategory = "streak_risk"
	CategoryMilestone    MessageCategory = "milestone"
	CategoryReengagement MessageCategory = "reengagement"
	CategoryHabitBoost   MessageCategory = "habit_boost"
)

// Priority returns the explicit numeric priority of a category. Higher wins.
func (c MessageCategory) Priority() int {
	switch c {
	case CategoryStreakRisk:
		return 100
	case CategoryMilestone:
		return 80
	case CategoryReengagement:
		return 60
	case CategoryHabitBoost:
		return 40
	}
	return 0
}

// Tone is the voice a message is written in.
type Tone string

const (
	ToneEncouraging Tone = "encouraging"
	ToneDirect      Tone = "direct"
	ToneCelebratory Tone = "celebratory"
	ToneGentle      Tone = "gentle"
)

// MessageStatus is the lifecycle state of a coaching message.
type MessageStatus string

const (
	MessageGenerated MessageStatus = "generated"
	MessageScheduled MessageStatus = "scheduled"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageActed     MessageStatus = "acted"
	MessageExpired   MessageStatus = "expired"
	MessageFailed    MessageStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s MessageStatus) Terminal() bool {
	switch s {
	case MessageRead, MessageActed, MessageExpired, MessageFailed:
		return true
	}
	return false
}

// CoachingMessage is created by the decision engine and afterwards only
// mutated by the delivery tracker.
type CoachingMessage struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Category        MessageCategory `json:"category"`
	Tone            Tone            `json:"tone"`
	Priority        int             `json:"priority"`
	GeneratedAt     time.Time       `json:"generated_at"`
	ScheduledFor    time.Time       `json:"scheduled_for"`
	Status          MessageStatus   `json:"status"`
	TemplateID      string          `json:"template_id"`
	ABBucket        string          `json:"ab_bucket,omitempty"`
	Title           string          `json:"title,omitempty"`
	Body            string          `json:"body"`
	Personalization map[string]any  `json:"personalization,omitempty"`
	Trigger         string          `json:"trigger"`
	PredictionRefs  []PredictionRef `json:"prediction_refs,omitempty"`

	DeliveryAttempts int        `json:"delivery_attempts"`
	LastError        string     `json:"last_error,omitempty"`
	DeliveredAt      *time.Time `json:"delivered_at,omitempty"`
	ReadAt           *time.Time `json:"read_at,omitempty"`
	ActedAt          *time.Time `json:"acted_at,omitempty"`
	StuckFlagged     bool       `json:"stuck_flagged,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// MessageRollup is one row of the daily analytics rollup.
type MessageRollup struct {
	Day        time.Time       `json:"day"`
	Category   MessageCategory `json:"category"`
	TemplateID string          `json:"template_id"`
	ABBucket   string          `json:"ab_bucket"`
	Status     MessageStatus   `json:"status"`
	Count      int             `json:"count"`
}

// QueueHealth is the result of the hourly health check.
type QueueHealth struct {
	CheckedAt      time.Time `json:"checked_at"`
	ScheduledDepth int       `json:"scheduled_depth"`
	StuckFlagged   int       `json:"stuck_flagged"`
	FailedLastDay  int       `json:"failed_last_day"`
}
