package models

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/habit-coach/internal/domain"
	"github.com/ignite/habit-coach/internal/features"
	"github.com/ignite/habit-coach/internal/pkg/logger"
)

var log = logger.Component("models")

// Engine runs inference for the model-backed and goal prediction types
// against whatever the Registry has active at call time.
type Engine struct {
	registry *Registry
	windows  int

	// compiled holds one decoded model per family (domain.ModelType to
	// *compiledModel), replaced when the active version changes.
	compiled sync.Map
}

type compiledModel struct {
	tag   string
	model any
}

// NewEngine creates an Engine over reg.
func NewEngine(reg *Registry) *Engine {
	return &Engine{registry: reg, windows: DefaultWindowCount}
}

// Registry returns the registry the engine reads.
func (e *Engine) Registry() *Registry { return e.registry }

// Predict computes one prediction from a snapshot. When no artifact is
// active, or the active one cannot be decoded, it degrades to the rule
// path and logs it. Only an unsupported type is an error.
func (e *Engine) Predict(t domain.PredictionType, s *domain.BehavioralSnapshot, now time.Time) (*domain.PredictionResult, error) {
	switch t {
	case domain.PredictionHabitFormation:
		return e.habit(s, now), nil
	case domain.PredictionStreakRisk:
		return e.risk(s, now), nil
	case domain.PredictionOptimalTiming:
		return e.timing(s, now), nil
	case domain.PredictionGoalRecommendation:
		goal, focus := GoalRecommendation(s)
		r := e.result(s, t, domain.RulesVersion, RulesQuality, now)
		r.Payload.WeeklyGoal = goal
		r.Payload.FocusValue = focus
		return r, nil
	}
	return nil, fmt.Errorf("models: unsupported prediction type %q", t)
}

func (e *Engine) habit(s *domain.BehavioralSnapshot, now time.Time) *domain.PredictionResult {
	t := domain.PredictionHabitFormation
	art, m, err := e.load(domain.ModelHabitFormation)
	if err != nil {
		e.degraded(s.UserID, domain.ModelHabitFormation, err)
		r := e.rules(s, t, now)
		r.Payload.Probability = RuleHabitProbability(s)
		return r
	}
	r := e.result(s, t, art.VersionTag(), art.Metrics.Primary, now)
	r.Payload.Probability = m.(*Logistic).Prob(features.Vector(s))
	return r
}

func (e *Engine) risk(s *domain.BehavioralSnapshot, now time.Time) *domain.PredictionResult {
	t := domain.PredictionStreakRisk
	art, m, err := e.load(domain.ModelStreakRisk)
	if err != nil {
		e.degraded(s.UserID, domain.ModelStreakRisk, err)
		r := e.rules(s, t, now)
		p := RuleRiskScore(s)
		r.Payload.RiskLevel = LevelFor(p, DefaultCutpoints)
		r.Payload.Probability = p
		r.Payload.Urgency = Urgency(p, s)
		return r
	}
	r := e.result(s, t, art.VersionTag(), art.Metrics.Primary, now)
	level, p, urgency := m.(*Risk).Classify(s)
	r.Payload.RiskLevel = level
	r.Payload.Probability = p
	r.Payload.Urgency = urgency
	return r
}

func (e *Engine) timing(s *domain.BehavioralSnapshot, now time.Time) *domain.PredictionResult {
	t := domain.PredictionOptimalTiming
	art, m, err := e.load(domain.ModelOptimalTiming)
	if err != nil {
		e.degraded(s.UserID, domain.ModelOptimalTiming, err)
		r := e.rules(s, t, now)
		r.Payload.Windows = RuleTiming().Rank(s.HourWeekday, e.windows)
		return r
	}
	r := e.result(s, t, art.VersionTag(), art.Metrics.Primary, now)
	r.Payload.Windows = m.(*Timing).Rank(s.HourWeekday, e.windows)
	return r
}

// load returns the active artifact and its decoded model.
func (e *Engine) load(mt domain.ModelType) (*domain.ModelArtifact, any, error) {
	art, err := e.registry.Active(mt)
	if err != nil {
		return nil, nil, err
	}
	// A restore loads fresh copies of the same versions; the tag is
	// enough since a recorded version's parameters never change.
	tag := art.VersionTag()
	if v, ok := e.compiled.Load(mt); ok {
		if c := v.(*compiledModel); c.tag == tag {
			return art, c.model, nil
		}
	}

	var m any
	switch mt {
	case domain.ModelHabitFormation:
		m, err = LogisticFromParams(art.Params, len(features.Names))
	case domain.ModelStreakRisk:
		m, err = RiskFromParams(art.Params)
	case domain.ModelOptimalTiming:
		m, err = TimingFromParams(art.Params)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", art.VersionTag(), err)
	}
	e.compiled.Store(mt, &compiledModel{tag: tag, model: m})
	return art, m, nil
}

func (e *Engine) result(s *domain.BehavioralSnapshot, t domain.PredictionType, version string, quality float64, now time.Time) *domain.PredictionResult {
	return &domain.PredictionResult{
		UserID:       s.UserID,
		Type:         t,
		Confidence:   Confidence(s.ActivityCount, s.DaysSinceLast, quality),
		ModelVersion: version,
		ComputedAt:   now,
	}
}

func (e *Engine) rules(s *domain.BehavioralSnapshot, t domain.PredictionType, now time.Time) *domain.PredictionResult {
	r := e.result(s, t, domain.RulesVersion, RulesQuality, now)
	r.Fallback = true
	r.FallbackReason = ReasonModelUnavailable
	return r
}

func (e *Engine) degraded(userID string, mt domain.ModelType, err error) {
	if errors.Is(err, ErrModelUnavailable) {
		log.Warn("model unavailable, using rules", "user_id", userID, "model_type", string(mt), "error", err)
		return
	}
	log.Error("model load failed, using rules", "user_id", userID, "model_type", string(mt), "error", err)
}
