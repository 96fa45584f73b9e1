package decision

import (
	"time"

	"github.com/ignite/habit-coach/internal/domain"
)

// State is where a user ends up in one evaluation cycle.
type State string

const (
	StateIdle       State = "idle"
	StateCandidate  State = "candidate"
	StateSuppressed State = "suppressed"
	StateFired      State = "fired"
)

// Suppression reasons.
const (
	ReasonQuietHours     = "quiet_hours"
	ReasonCooldown       = "cooldown"
	ReasonCategoryWeight = "category_weight"
)

// Input is everything one evaluation reads. Snapshot is nil when the
// user's history is too sparse to build one.
type Input struct {
	UserID      string
	Now         time.Time
	Predictions domain.PredictionSet
	Snapshot    *domain.BehavioralSnapshot
	Profile     *domain.UserPersonalizationProfile
	Recent      []domain.CoachingMessage
}

func (in *Input) localNow() time.Time {
	return in.Now.In(in.Profile.Location())
}

// Candidate is one trigger that fired.
type Candidate struct {
	Trigger  string                 `json:"trigger"`
	Category domain.MessageCategory `json:"category"`
	Priority int                    `json:"priority"`
	order    int
	uses     []domain.PredictionType
}

// Decision is the outcome of one evaluation.
type Decision struct {
	State        State                  `json:"state"`
	Category     domain.MessageCategory `json:"category,omitempty"`
	Trigger      string                 `json:"trigger,omitempty"`
	Priority     int                    `json:"priority,omitempty"`
	Reason       string                 `json:"reason,omitempty"`
	Tone         domain.Tone            `json:"tone,omitempty"`
	ScheduledFor time.Time              `json:"scheduled_for,omitempty"`
	Refs         []domain.PredictionRef `json:"prediction_refs,omitempty"`
	Candidates   []Candidate            `json:"candidates,omitempty"`
}

// Engine evaluates the registered triggers.
type Engine struct {
	cfg      Config
	triggers []Trigger
}

// NewEngine creates an engine with the default trigger catalogue.
func NewEngine(cfg Config) *Engine {
	e := &Engine{cfg: cfg}
	for _, t := range DefaultTriggers() {
		e.Register(t)
	}
	return e
}

// Register appends a trigger. Among triggers of equal category priority
// the one registered last wins.
func (e *Engine) Register(t Trigger) {
	e.triggers = append(e.triggers, t)
}

// Config returns the engine settings.
func (e *Engine) Config() Config { return e.cfg }

// Evaluate runs one cycle for one user.
func (e *Engine) Evaluate(in Input) Decision {
	if in.Profile == nil {
		in.Profile = domain.DefaultProfile(in.UserID)
	}

	var cands []Candidate
	for i, t := range e.triggers {
		if t.Fire(e.cfg, &in) {
			cands = append(cands, Candidate{
				Trigger:  t.Name,
				Category: t.Category,
				Priority: t.Category.Priority(),
				order:    i,
				uses:     t.Uses,
			})
		}
	}
	if len(cands) == 0 {
		return Decision{State: StateIdle}
	}

	win := cands[0]
	for _, c := range cands[1:] {
		if c.Priority > win.Priority || (c.Priority == win.Priority && c.order > win.order) {
			win = c
		}
	}
	d := Decision{
		State:      StateCandidate,
		Category:   win.Category,
		Trigger:    win.Trigger,
		Priority:   win.Priority,
		Candidates: cands,
	}

	local := in.localNow()
	switch {
	case in.Profile.QuietHours.Contains(local.Hour()):
		d.State, d.Reason = StateSuppressed, ReasonQuietHours
	case e.inCooldown(&in, win.Priority):
		d.State, d.Reason = StateSuppressed, ReasonCooldown
	case in.Profile.CategoryWeight(win.Category) < e.cfg.MinCategoryWeight:
		d.State, d.Reason = StateSuppressed, ReasonCategoryWeight
	}
	if d.State == StateSuppressed {
		return d
	}

	d.State = StateFired
	d.Tone = e.tone(&in, win.Category)
	d.ScheduledFor = e.scheduleFor(&in)
	for _, t := range win.uses {
		if r := in.Predictions.Get(t); r != nil {
			d.Refs = append(d.Refs, r.Ref())
		}
	}
	return d
}

func (e *Engine) inCooldown(in *Input, priority int) bool {
	since := in.Now.Add(-e.cfg.Cooldown(in.Profile.Frequency))
	for _, m := range in.Recent {
		if m.Status == domain.MessageFailed {
			continue
		}
		if m.Priority >= priority && m.GeneratedAt.After(since) {
			return true
		}
	}
	return false
}

// tone prefers the user's choice, then the category's natural voice for
// milestones and risk, then the archetype default.
func (e *Engine) tone(in *Input, c domain.MessageCategory) domain.Tone {
	if in.Profile.TonePreference != "" {
		return in.Profile.TonePreference
	}
	switch c {
	case domain.CategoryMilestone:
		return domain.ToneCelebratory
	case domain.CategoryStreakRisk:
		return domain.ToneDirect
	}
	arch := domain.ArchetypeGettingStarted
	if seg := in.Predictions.Get(domain.PredictionSegment); seg != nil && seg.Payload.Archetype != "" {
		arch = seg.Payload.Archetype
	}
	return arch.DefaultTone()
}
