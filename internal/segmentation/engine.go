package segmentation

import (
	"fmt"
	"time"

	"github.com/ignite/habit-coach/internal/domain"
	"github.com/ignite/habit-coach/internal/models"
)

// Engine evaluates a fixed rule table.
type Engine struct {
	rules []Rule
}

// NewEngine validates rules and returns an Engine over a private copy.
func NewEngine(rules []Rule) (*Engine, error) {
	if errs := ValidateRules(rules); len(errs) > 0 {
		return nil, fmt.Errorf("invalid segmentation rules: %v", errs)
	}
	return &Engine{rules: append([]Rule(nil), rules...)}, nil
}

// NewDefaultEngine returns an Engine over DefaultRules.
func NewDefaultEngine() *Engine {
	return &Engine{rules: DefaultRules()}
}

// Rules returns the rule table in evaluation order.
func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Classify returns the archetype of the first rule whose conditions all
// hold, or getting_started.
func (e *Engine) Classify(s *domain.BehavioralSnapshot) Result {
	for _, r := range e.rules {
		if r.matches(s) {
			return Result{Archetype: r.Archetype, Rule: r.Name}
		}
	}
	return Result{Archetype: domain.ArchetypeGettingStarted, Rule: DefaultRuleName}
}

// Predict wraps Classify as a segment prediction.
func (e *Engine) Predict(s *domain.BehavioralSnapshot, now time.Time) *domain.PredictionResult {
	res := e.Classify(s)
	return &domain.PredictionResult{
		UserID:       s.UserID,
		Type:         domain.PredictionSegment,
		Payload:      domain.PredictionPayload{Archetype: res.Archetype, Rule: res.Rule},
		Confidence:   models.Confidence(s.ActivityCount, s.DaysSinceLast, models.RulesQuality),
		ModelVersion: domain.RulesVersion,
		ComputedAt:   now,
	}
}

func (r Rule) matches(s *domain.BehavioralSnapshot) bool {
	for _, c := range r.Conditions {
		if !c.holds(fieldValues[c.Field](s)) {
			return false
		}
	}
	return true
}

func (c Condition) holds(v float64) bool {
	switch c.Operator {
	case OpGt:
		return v > c.Value
	case OpGte:
		return v >= c.Value
	case OpLt:
		return v < c.Value
	case OpLte:
		return v <= c.Value
	case OpBetween:
		return v >= c.Value && v <= c.ValueSecondary
	}
	return false
}

// ValidateRules reports every problem in a rule table.
func ValidateRules(rules []Rule) []string {
	var errors []string
	seen := make(map[string]bool)

	for i, r := range rules {
		if r.Name == "" {
			errors = append(errors, fmt.Sprintf("rule %d has no name", i))
		} else if seen[r.Name] {
			errors = append(errors, fmt.Sprintf("duplicate rule name: %s", r.Name))
		}
		seen[r.Name] = true

		if r.Archetype == "" {
			errors = append(errors, fmt.Sprintf("rule %s has no archetype", r.Name))
		}
		if len(r.Conditions) == 0 {
			errors = append(errors, fmt.Sprintf("rule %s has no conditions", r.Name))
		}
		for _, c := range r.Conditions {
			if _, ok := fieldValues[c.Field]; !ok {
				errors = append(errors, fmt.Sprintf("rule %s: unknown field: %s", r.Name, c.Field))
			}
			switch c.Operator {
			case OpGt, OpGte, OpLt, OpLte:
			case OpBetween:
				if c.ValueSecondary < c.Value {
					errors = append(errors, fmt.Sprintf("rule %s: between on %s has upper bound below lower bound", r.Name, c.Field))
				}
			default:
				errors = append(errors, fmt.Sprintf("rule %s: unknown operator: %s", r.Name, c.Operator))
			}
		}
	}
	return errors
}
