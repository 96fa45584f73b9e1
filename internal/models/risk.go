package models

import (
	"math"

	"github.com/ignite/habit-coach/internal/domain"
	"github.com/ignite/habit-coach/internal/features"
)

// DefaultCutpoints split the risk score into low/medium/high.
var DefaultCutpoints = []float64{1.0 / 3, 2.0 / 3}

// Risk is an ordinal classifier: a logistic score in [0,1] cut into three
// levels.
type Risk struct {
	Score     *Logistic
	Cutpoints []float64
}

// RiskFromParams rebuilds a risk model from an artifact.
func RiskFromParams(p domain.ModelParams) (*Risk, error) {
	lg, err := LogisticFromParams(p, len(features.Names))
	if err != nil {
		return nil, err
	}
	cut := p.Cutpoints
	if len(cut) != 2 || cut[0] > cut[1] {
		cut = DefaultCutpoints
	}
	return &Risk{Score: lg, Cutpoints: cut}, nil
}

// Classify returns the level, the raw score and the urgency.
func (r *Risk) Classify(s *domain.BehavioralSnapshot) (domain.RiskLevel, float64, float64) {
	p := r.Score.Prob(features.Vector(s))
	return LevelFor(p, r.Cutpoints), p, Urgency(p, s)
}

// LevelFor maps a score onto the ordinal levels.
func LevelFor(p float64, cut []float64) domain.RiskLevel {
	switch {
	case p >= cut[1]:
		return domain.RiskHigh
	case p >= cut[0]:
		return domain.RiskMedium
	}
	return domain.RiskLow
}

// Urgency blends the risk score with how overdue the user is relative to
// their usual gap and how volatile their gaps have been.
func Urgency(p float64, s *domain.BehavioralSnapshot) float64 {
	overdue := clamp((features.OverdueRatio(s)-1)/4, 0, 1)
	volatility := 1 - s.StreakStability
	return clamp(0.5*p+0.35*overdue+0.15*volatility, 0, 1)
}

// RuleRiskScore is the untrained risk score used when no artifact is
// active: it rises with the overdue ratio and with the size of the streak
// at stake.
func RuleRiskScore(s *domain.BehavioralSnapshot) float64 {
	overdue := features.OverdueRatio(s)
	stake := math.Min(1, float64(s.PriorStreak)/7)
	switch {
	case s.DaysSinceLast < 1:
		return 0.1
	case overdue >= 3:
		return 0.7 + 0.3*stake
	case overdue >= 1.5:
		return 0.4 + 0.2*stake
	}
	return 0.2
}
