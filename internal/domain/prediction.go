package domain

import "time"

// PredictionType identifies one kind of prediction served by the engine.
type PredictionType string

const (
	PredictionHabitFormation     PredictionType = "habit_formation"
	PredictionStreakRisk         PredictionType = "streak_risk"
	PredictionOptimalTiming      PredictionType = "optimal_timing"
	PredictionSegment            PredictionType = "segment"
	PredictionGoalRecommendation PredictionType = "goal_recommendation"
)

// AllPredictionTypes lists every prediction type in a stable order.
func AllPredictionTypes() []PredictionType {
	return []PredictionType{
		PredictionHabitFormation,
		PredictionStreakRisk,
		PredictionOptimalTiming,
		PredictionSegment,
		PredictionGoalRecommendation,
	}
}

// Valid reports whether t is a known prediction type.
func (t PredictionType) Valid() bool {
	switch t {
	case PredictionHabitFormation, PredictionStreakRisk, PredictionOptimalTiming,
		PredictionSegment, PredictionGoalRecommendation:
		return true
	}
	return false
}

// RiskLevel is the ordinal streak-risk class.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Rank orders risk levels: low=0, medium=1, high=2.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	}
	return 0
}

// LowTrustConfidence is the bound under which a prediction is a fallback
// and consumers should treat it as low-trust.
const LowTrustConfidence = 0.3

// SendWindow is one ranked (weekday, hour) slot from the timing model.
type SendWindow struct {
	Weekday time.Weekday `json:"weekday"`
	Hour    int          `json:"hour"`
	Score   float64      `json:"score"`
}

// PredictionPayload carries the type-specific output. Only the fields that
// belong to the result's PredictionType are populated.
type PredictionPayload struct {
	Probability float64      `json:"probability,omitempty"`
	RiskLevel   RiskLevel    `json:"risk_level,omitempty"`
	Urgency     float64      `json:"urgency,omitempty"`
	Windows     []SendWindow `json:"windows,omitempty"`
	Archetype   Archetype    `json:"archetype,omitempty"`
	Rule        string       `json:"rule,omitempty"`
	WeeklyGoal  int          `json:"weekly_goal,omitempty"`
	FocusValue  string       `json:"focus_value,omitempty"`
}

// PredictionResult is one computed prediction. Results are superseded on
// recomputation, never mutated.
type PredictionResult struct {
	UserID         string            `json:"user_id"`
	Type           PredictionType    `json:"type"`
	Payload        PredictionPayload `json:"payload"`
	Confidence     float64           `json:"confidence"`
	ModelVersion   string            `json:"model_version"`
	ComputedAt     time.Time         `json:"computed_at"`
	Fallback       bool              `json:"fallback,omitempty"`
	FallbackReason string            `json:"fallback_reason,omitempty"`
}

// LowTrust reports whether downstream consumers should discount r.
func (r *PredictionResult) LowTrust() bool {
	return r.Confidence < LowTrustConfidence
}

// Ref returns the audit reference stored on messages justified by r.
func (r *PredictionResult) Ref() PredictionRef {
	return PredictionRef{
		Type:         r.Type,
		ModelVersion: r.ModelVersion,
		Confidence:   r.Confidence,
		ComputedAt:   r.ComputedAt,
	}
}

// PredictionRef identifies the prediction that justified a message trigger.
type PredictionRef struct {
	Type         PredictionType `json:"type"`
	ModelVersion string         `json:"model_version"`
	Confidence   float64        `json:"confidence"`
	ComputedAt   time.Time      `json:"computed_at"`
}

// PredictionSet is the full result set of one getPredictions call.
type PredictionSet map[PredictionType]*PredictionResult

// Get returns the result for t, or nil.
func (s PredictionSet) Get(t PredictionType) *PredictionResult {
	if s == nil {
		return nil
	}
	return s[t]
}
