package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/habit-coach/internal/domain"
)

// Wednesday 15:00 UTC.
var now = time.Date(2026, 4, 1, 15, 0, 0, 0, time.UTC)

func riskSet(level domain.RiskLevel) domain.PredictionSet {
	return domain.PredictionSet{
		domain.PredictionStreakRisk: {
			Type:         domain.PredictionStreakRisk,
			ModelVersion: domain.RulesVersion,
			Confidence:   0.5,
			ComputedAt:   now,
			Payload:      domain.PredictionPayload{RiskLevel: level, Probability: 1},
		},
		domain.PredictionSegment: {
			Type:    domain.PredictionSegment,
			Payload: domain.PredictionPayload{Archetype: domain.ArchetypeConsistencyBuilder},
		},
	}
}

func lapsed() *domain.BehavioralSnapshot {
	return &domain.BehavioralSnapshot{ActivityCount: 14, PriorStreak: 14, DaysSinceLast: 10.5}
}

func highFreq() *domain.UserPersonalizationProfile {
	p := domain.DefaultProfile("u1")
	p.Frequency = domain.FrequencyHigh
	return p
}

func TestEvaluate_LapsedStreakFiresStreakRisk(t *testing.T) {
	e := NewEngine(DefaultConfig())
	d := e.Evaluate(Input{UserID: "u1", Now: now, Predictions: riskSet(domain.RiskHigh), Snapshot: lapsed(), Profile: highFreq()})

	require.Equal(t, StateFired, d.State)
	assert.Equal(t, domain.CategoryStreakRisk, d.Category)
	assert.Equal(t, TriggerStreakRisk, d.Trigger)
	assert.Len(t, d.Candidates, 2, "reengagement fires too and loses on priority")
	assert.Equal(t, domain.ToneDirect, d.Tone)
	assert.False(t, highFreq().QuietHours.Contains(d.ScheduledFor.Hour()))
	require.Len(t, d.Refs, 1)
	assert.Equal(t, domain.PredictionStreakRisk, d.Refs[0].Type)
}

func TestEvaluate_MilestoneAndRiskPicksRisk(t *testing.T) {
	e := NewEngine(DefaultConfig())
	snap := &domain.BehavioralSnapshot{ActivityCount: 30, CurrentStreak: 7, DaysSinceLast: 0.9}
	d := e.Evaluate(Input{UserID: "u1", Now: now, Predictions: riskSet(domain.RiskHigh), Snapshot: snap, Profile: highFreq()})

	require.Equal(t, StateFired, d.State)
	assert.Equal(t, domain.CategoryStreakRisk, d.Category)
	assert.Len(t, d.Candidates, 2)
}

func TestEvaluate_MilestoneAlone(t *testing.T) {
	e := NewEngine(DefaultConfig())
	snap := &domain.BehavioralSnapshot{ActivityCount: 30, CurrentStreak: 21, DaysSinceLast: 0.5}
	d := e.Evaluate(Input{UserID: "u1", Now: now, Predictions: riskSet(domain.RiskLow), Snapshot: snap, Profile: highFreq()})

	require.Equal(t, StateFired, d.State)
	assert.Equal(t, domain.CategoryMilestone, d.Category)
	assert.Equal(t, domain.ToneCelebratory, d.Tone)
	assert.Empty(t, d.Refs)
}

func TestEvaluate_TieGoesToLaterTrigger(t *testing.T) {
	e := NewEngine(DefaultConfig())
	e.Register(Trigger{
		Name:     "risk_custom",
		Category: domain.CategoryStreakRisk,
		Fire:     func(Config, *Input) bool { return true },
	})
	d := e.Evaluate(Input{UserID: "u1", Now: now, Predictions: riskSet(domain.RiskHigh), Profile: highFreq()})

	require.Equal(t, StateFired, d.State)
	assert.Equal(t, "risk_custom", d.Trigger)
}

func TestEvaluate_Idle(t *testing.T) {
	e := NewEngine(DefaultConfig())
	d := e.Evaluate(Input{UserID: "u1", Now: now, Predictions: riskSet(domain.RiskLow), Profile: highFreq()})
	assert.Equal(t, StateIdle, d.State)
	assert.Empty(t, d.Category)
}

func TestEvaluate_Suppression(t *testing.T) {
	recentRisk := domain.CoachingMessage{Priority: 100, GeneratedAt: now.Add(-2 * time.Hour), Status: domain.MessageScheduled}

	tests := []struct {
		name   string
		now    time.Time
		recent []domain.CoachingMessage
		mutate func(p *domain.UserPersonalizationProfile)
		state  State
		reason string
	}{
		{name: "fires", now: now, state: StateFired},
		{name: "quiet hours", now: time.Date(2026, 4, 1, 23, 0, 0, 0, time.UTC), state: StateSuppressed, reason: ReasonQuietHours},
		{name: "cooldown", now: now, recent: []domain.CoachingMessage{recentRisk}, state: StateSuppressed, reason: ReasonCooldown},
		{
			name:   "lower priority recent message does not suppress",
			now:    now,
			recent: []domain.CoachingMessage{{Priority: 40, GeneratedAt: now.Add(-time.Hour)}},
			state:  StateFired,
		},
		{
			name:   "failed message does not count",
			now:    now,
			recent: []domain.CoachingMessage{{Priority: 100, GeneratedAt: now.Add(-time.Hour), Status: domain.MessageFailed}},
			state:  StateFired,
		},
		{
			name:   "cooldown elapsed",
			now:    now,
			recent: []domain.CoachingMessage{{Priority: 100, GeneratedAt: now.Add(-13 * time.Hour)}},
			state:  StateFired,
		},
		{
			name:   "minimal frequency has a week of cooldown",
			now:    now,
			recent: []domain.CoachingMessage{{Priority: 100, GeneratedAt: now.Add(-6 * 24 * time.Hour)}},
			mutate: func(p *domain.UserPersonalizationProfile) { p.Frequency = domain.FrequencyMinimal },
			state:  StateSuppressed,
			reason: ReasonCooldown,
		},
		{
			name: "category opted out",
			now:  now,
			mutate: func(p *domain.UserPersonalizationProfile) {
				p.CategoryWeights = map[domain.MessageCategory]float64{domain.CategoryStreakRisk: 0.1}
			},
			state:  StateSuppressed,
			reason: ReasonCategoryWeight,
		},
	}

	e := NewEngine(DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := highFreq()
			if tt.mutate != nil {
				tt.mutate(p)
			}
			d := e.Evaluate(Input{UserID: "u1", Now: tt.now, Predictions: riskSet(domain.RiskHigh), Profile: p, Recent: tt.recent})
			assert.Equal(t, tt.state, d.State)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, domain.CategoryStreakRisk, d.Category)
		})
	}
}

func TestEvaluate_HabitBoostInPeakWindow(t *testing.T) {
	e := NewEngine(DefaultConfig())
	set := domain.PredictionSet{
		domain.PredictionHabitFormation: {Type: domain.PredictionHabitFormation, Payload: domain.PredictionPayload{Probability: 0.3}},
		domain.PredictionOptimalTiming: {Type: domain.PredictionOptimalTiming, Payload: domain.PredictionPayload{Windows: []domain.SendWindow{
			{Weekday: time.Wednesday, Hour: 15, Score: 1},
		}}},
		domain.PredictionSegment: {Type: domain.PredictionSegment, Payload: domain.PredictionPayload{Archetype: domain.ArchetypeConsistencyBuilder}},
	}
	d := e.Evaluate(Input{UserID: "u1", Now: now, Predictions: set, Profile: highFreq()})

	require.Equal(t, StateFired, d.State)
	assert.Equal(t, domain.CategoryHabitBoost, d.Category)
	assert.Equal(t, domain.ToneEncouraging, d.Tone)
	assert.Equal(t, now, d.ScheduledFor)
	assert.Len(t, d.Refs, 2)

	set[domain.PredictionHabitFormation].Payload.Probability = 0.9
	assert.Equal(t, StateIdle, e.Evaluate(Input{UserID: "u1", Now: now, Predictions: set, Profile: highFreq()}).State)
}

func TestEvaluate_TonePreferenceWins(t *testing.T) {
	e := NewEngine(DefaultConfig())
	p := highFreq()
	p.TonePreference = domain.ToneGentle
	d := e.Evaluate(Input{UserID: "u1", Now: now, Predictions: riskSet(domain.RiskHigh), Profile: p})
	assert.Equal(t, domain.ToneGentle, d.Tone)
}

func TestScheduleFor(t *testing.T) {
	e := NewEngine(DefaultConfig())
	timing := func(ws ...domain.SendWindow) domain.PredictionSet {
		return domain.PredictionSet{domain.PredictionOptimalTiming: {Payload: domain.PredictionPayload{Windows: ws}}}
	}

	t.Run("preferred window later today", func(t *testing.T) {
		p := highFreq()
		p.PreferredWindows = []domain.HourRange{{Start: 18, End: 20}}
		got := e.scheduleFor(&Input{Now: now, Profile: p})
		assert.Equal(t, time.Date(2026, 4, 1, 18, 0, 0, 0, time.UTC), got)
	})

	t.Run("inside preferred window sends now", func(t *testing.T) {
		p := highFreq()
		p.PreferredWindows = []domain.HourRange{{Start: 14, End: 16}}
		assert.Equal(t, now, e.scheduleFor(&Input{Now: now, Profile: p}))
	})

	t.Run("skips quiet hours", func(t *testing.T) {
		in := &Input{Now: now, Profile: highFreq(), Predictions: timing(
			domain.SendWindow{Weekday: time.Wednesday, Hour: 23, Score: 1},
			domain.SendWindow{Weekday: time.Thursday, Hour: 9, Score: 0.8},
		)}
		assert.Equal(t, time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC), e.scheduleFor(in))
	})

	t.Run("nothing within a day sends now", func(t *testing.T) {
		in := &Input{Now: now, Profile: highFreq(), Predictions: timing(domain.SendWindow{Weekday: time.Saturday, Hour: 9, Score: 1})}
		assert.Equal(t, now, e.scheduleFor(in))
	})

	t.Run("uses the profile time zone", func(t *testing.T) {
		p := highFreq()
		p.Timezone = "America/New_York" // 11:00 local
		p.PreferredWindows = []domain.HourRange{{Start: 12, End: 13}}
		assert.Equal(t, time.Date(2026, 4, 1, 16, 0, 0, 0, time.UTC), e.scheduleFor(&Input{Now: now, Profile: p}))
	})
}

func TestConfig_Cooldowns(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 168*time.Hour, cfg.Cooldown(domain.FrequencyMinimal))
	assert.Equal(t, 12*time.Hour, cfg.Cooldown(domain.FrequencyHigh))
	assert.Equal(t, 48*time.Hour, cfg.Cooldown("unknown"))
	assert.Equal(t, 168*time.Hour, cfg.LongestCooldown())
}
