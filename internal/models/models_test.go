package models

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/habit-coach/internal/domain"
	"github.com/ignite/habit-coach/internal/features"
)

var now = time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)

func snapshot() *domain.BehavioralSnapshot {
	s := &domain.BehavioralSnapshot{
		UserID:              "u1",
		WindowStart:         now.AddDate(0, 0, -30),
		WindowEnd:           now,
		ActivityCount:       20,
		ActiveDays:          20,
		NormalizedFrequency: 20.0 / 30,
		WeeklyRate:          20.0 * 7 / 30,
		CurrentStreak:       6,
		PriorStreak:         6,
		LongestStreak:       9,
		GapMean:             1.4,
		GapVariance:         0.3,
		StreakStability:     1 / 1.3,
		DaysSinceLast:       0.5,
		SessionMean:         12,
		ValueWeights:        map[string]float64{"health": 0.6, "focus": 0.4},
	}
	s.HourWeekday[time.Monday][7] = 6
	s.HourWeekday[time.Tuesday][7] = 5
	s.HourWeekday[time.Saturday][10] = 3
	return s
}

func TestConfidence_Bounds(t *testing.T) {
	assert.Equal(t, MinModelConfidence, Confidence(0, 0, 1))
	assert.Equal(t, MinModelConfidence, Confidence(100, 0, 0))
	assert.LessOrEqual(t, Confidence(10000, 0, 1), MaxModelConfidence)
	assert.Greater(t, Confidence(60, 0, 0.9), Confidence(5, 0, 0.9))
	assert.Greater(t, Confidence(60, 0, 0.9), Confidence(60, 20, 0.9))
}

func TestFallbackConfidence_AlwaysLowTrust(t *testing.T) {
	for n := -1; n < 50; n++ {
		c := FallbackConfidence(n)
		assert.Less(t, c, domain.LowTrustConfidence)
		assert.GreaterOrEqual(t, c, 0.10)
	}
}

func TestFallback_NewUser(t *testing.T) {
	in := FallbackInput{UserID: "u1", Activities: 0, AccountAge: 30 * 24 * time.Hour, NewAccountAge: 7 * 24 * time.Hour}
	require.True(t, in.IsNewUser())

	timing := Fallback(domain.PredictionOptimalTiming, in, now)
	assert.True(t, timing.Fallback)
	assert.Equal(t, ReasonNewUser, timing.FallbackReason)
	assert.Equal(t, domain.HeuristicVersion, timing.ModelVersion)
	assert.True(t, timing.LowTrust())
	require.Len(t, timing.Payload.Windows, 14)
	for _, w := range timing.Payload.Windows[:7] {
		assert.Equal(t, 8, w.Hour)
	}
	for _, w := range timing.Payload.Windows[7:] {
		assert.Equal(t, 7, w.Hour)
	}

	risk := Fallback(domain.PredictionStreakRisk, in, now)
	assert.Equal(t, domain.RiskLow, risk.Payload.RiskLevel)

	habit := Fallback(domain.PredictionHabitFormation, in, now)
	assert.Equal(t, 0.30, habit.Payload.Probability)

	seg := Fallback(domain.PredictionSegment, in, now)
	assert.Equal(t, domain.ArchetypeGettingStarted, seg.Payload.Archetype)

	goal := Fallback(domain.PredictionGoalRecommendation, in, now)
	assert.Equal(t, DefaultWeeklyGoal, goal.Payload.WeeklyGoal)
}

func TestFallback_EstablishedSparse(t *testing.T) {
	in := FallbackInput{UserID: "u1", Activities: 2, AccountAge: 90 * 24 * time.Hour, NewAccountAge: 7 * 24 * time.Hour}
	require.False(t, in.IsNewUser())

	for _, pt := range domain.AllPredictionTypes() {
		r := Fallback(pt, in, now)
		assert.True(t, r.LowTrust(), pt)
		assert.LessOrEqual(t, r.Confidence, 0.20, pt)
		assert.Equal(t, ReasonInsufficientData, r.FallbackReason, pt)
	}
	risk := Fallback(domain.PredictionStreakRisk, in, now)
	assert.Equal(t, domain.RiskMedium, risk.Payload.RiskLevel)

	timing := Fallback(domain.PredictionOptimalTiming, in, now)
	hours := map[int]int{}
	for _, w := range timing.Payload.Windows {
		hours[w.Hour]++
	}
	assert.Equal(t, map[int]int{8: 7, 19: 7}, hours)
}

func TestFallback_ReasonOverride(t *testing.T) {
	in := FallbackInput{UserID: "u1", Activities: 40, AccountAge: time.Hour * 24 * 100, Reason: ReasonTimeout}
	r := Fallback(domain.PredictionHabitFormation, in, now)
	assert.Equal(t, ReasonTimeout, r.FallbackReason)
	assert.True(t, r.LowTrust())
}

func TestFitLogistic_SeparatesClasses(t *testing.T) {
	var X [][]float64
	var y []float64
	for i := 0; i < 40; i++ {
		v := float64(i)
		X = append(X, []float64{v, 1})
		if i >= 20 {
			y = append(y, 1)
		} else {
			y = append(y, 0)
		}
	}
	m := FitLogistic(X, y, FitOptions{LearningRate: 0.5, Epochs: 500})
	assert.Less(t, m.Prob([]float64{2, 1}), 0.2)
	assert.Greater(t, m.Prob([]float64{37, 1}), 0.8)
	assert.Equal(t, 1.0, m.Scales[1], "constant column keeps unit scale")

	again := FitLogistic(X, y, FitOptions{LearningRate: 0.5, Epochs: 500})
	assert.Equal(t, m, again)
}

func TestLogisticFromParams_DimensionCheck(t *testing.T) {
	_, err := LogisticFromParams(domain.ModelParams{Weights: []float64{1}}, 3)
	assert.ErrorIs(t, err, ErrInvalidArtifact)
}

func TestTiming_RankUsesUserHistory(t *testing.T) {
	tm := RuleTiming()
	windows := tm.Rank(snapshot().HourWeekday, 3)
	require.Len(t, windows, 3)
	assert.Equal(t, domain.SendWindow{Weekday: time.Monday, Hour: 7, Score: 1}, windows[0])
	assert.Equal(t, time.Tuesday, windows[1].Weekday)
	assert.Equal(t, time.Saturday, windows[2].Weekday)
	assert.Less(t, windows[2].Score, windows[1].Score)
}

func TestTiming_EmptyHistoryFollowsPrior(t *testing.T) {
	counts := make([]float64, Slots)
	counts[int(time.Wednesday)*24+18] = 50
	tm := &Timing{Prior: PriorFromCounts(counts), Smoothing: 10}

	var empty [7][24]int
	windows := tm.Rank(empty, 1)
	assert.Equal(t, time.Wednesday, windows[0].Weekday)
	assert.Equal(t, 18, windows[0].Hour)
}

func TestTimingFromParams_Validates(t *testing.T) {
	_, err := TimingFromParams(domain.ModelParams{TimingPrior: []float64{1}})
	assert.ErrorIs(t, err, ErrInvalidArtifact)
}

func TestRuleRiskScore_BrokenStreakIsHigh(t *testing.T) {
	s := snapshot()
	s.CurrentStreak = 0
	s.PriorStreak = 14
	s.GapMean = 1
	s.DaysSinceLast = 10.5
	p := RuleRiskScore(s)
	assert.Equal(t, domain.RiskHigh, LevelFor(p, DefaultCutpoints))
	assert.Greater(t, Urgency(p, s), 0.8)

	s.DaysSinceLast = 0.3
	assert.Equal(t, domain.RiskLow, LevelFor(RuleRiskScore(s), DefaultCutpoints))
}

func TestGoalRecommendation(t *testing.T) {
	s := snapshot()
	goal, focus := GoalRecommendation(s)
	assert.Equal(t, 6, goal) // ceil(4.667 * 1.2)
	assert.Equal(t, "health", focus)

	s.WeeklyRate = 0.5
	goal, _ = GoalRecommendation(s)
	assert.Equal(t, 2, goal)

	s.WeeklyRate = 7
	goal, _ = GoalRecommendation(s)
	assert.Equal(t, 7, goal)
}

func artifact(mt domain.ModelType, version int64) *domain.ModelArtifact {
	a := &domain.ModelArtifact{
		ID:        string(mt),
		Type:      mt,
		Version:   version,
		TrainedAt: now,
		Metrics:   domain.EvaluationMetrics{PrimaryName: "auc", Primary: 0.8},
	}
	switch mt {
	case domain.ModelOptimalTiming:
		a.Params = (&Timing{Prior: UniformPrior(), Smoothing: 1}).Params()
	default:
		dim := len(features.Names)
		a.Params = domain.ModelParams{
			Weights: make([]float64, dim),
			Means:   make([]float64, dim),
			Scales:  make([]float64, dim),
			Bias:    2,
		}
		for i := range a.Params.Scales {
			a.Params.Scales[i] = 1
		}
		if mt == domain.ModelStreakRisk {
			a.Params.Cutpoints = []float64{0.2, 0.5}
		}
	}
	return a
}

func TestRegistry_PublishSwapsActive(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Active(domain.ModelHabitFormation)
	assert.True(t, errors.Is(err, ErrModelUnavailable))
	assert.Equal(t, domain.RulesVersion, reg.ActiveVersion(domain.PredictionHabitFormation))

	prev, err := reg.Publish(artifact(domain.ModelHabitFormation, 1))
	require.NoError(t, err)
	assert.Nil(t, prev)
	assert.Equal(t, "habit_formation@v1", reg.ActiveVersion(domain.PredictionHabitFormation))

	prev, err = reg.Publish(artifact(domain.ModelHabitFormation, 2))
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, int64(1), prev.Version)
	assert.Equal(t, "habit_formation@v2", reg.ActiveVersion(domain.PredictionHabitFormation))
	assert.Equal(t, []int64{1, 2}, reg.Versions(domain.ModelHabitFormation))

	assert.Equal(t, domain.RulesVersion, reg.ActiveVersion(domain.PredictionSegment))
}

func TestRegistry_PruneKeepsActiveAndGrace(t *testing.T) {
	clock := now
	reg := NewRegistry().WithClock(func() time.Time { return clock })
	_, _ = reg.Publish(artifact(domain.ModelStreakRisk, 1))
	_, _ = reg.Publish(artifact(domain.ModelStreakRisk, 2))

	retired, ok := reg.RetiredAt(domain.ModelStreakRisk, 1)
	require.True(t, ok)
	assert.Equal(t, now, retired)

	assert.Empty(t, reg.Prune(domain.ModelStreakRisk, now.Add(-time.Hour)), "inside grace period")

	dropped := reg.Prune(domain.ModelStreakRisk, now.Add(time.Hour))
	require.Len(t, dropped, 1)
	assert.Equal(t, int64(1), dropped[0].Version)
	assert.Equal(t, []int64{2}, reg.Versions(domain.ModelStreakRisk))
}

func TestRegistry_ActivateRollsBack(t *testing.T) {
	reg := NewRegistry()
	_, _ = reg.Publish(artifact(domain.ModelOptimalTiming, 1))
	_, _ = reg.Publish(artifact(domain.ModelOptimalTiming, 2))

	_, err := reg.Activate(domain.ModelOptimalTiming, 1)
	require.NoError(t, err)
	assert.Equal(t, "optimal_timing@v1", reg.ActiveVersion(domain.PredictionOptimalTiming))
	_, retired := reg.RetiredAt(domain.ModelOptimalTiming, 1)
	assert.False(t, retired)

	_, err = reg.Activate(domain.ModelOptimalTiming, 9)
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestRegistry_Health(t *testing.T) {
	reg := NewRegistry()
	_, _ = reg.Publish(artifact(domain.ModelHabitFormation, 1))

	health := reg.Health()
	require.Len(t, health, 3)
	assert.False(t, health[0].Degraded)
	assert.Equal(t, "habit_formation@v1", health[0].ActiveVersion)
	assert.True(t, health[1].Degraded)
	assert.True(t, health[2].Degraded)
}

func TestRegistry_ConcurrentReadsDuringPublish(t *testing.T) {
	reg := NewRegistry()
	_, _ = reg.Publish(artifact(domain.ModelHabitFormation, 1))
	eng := NewEngine(reg)
	s := snapshot()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				r, err := eng.Predict(domain.PredictionHabitFormation, s, now)
				if assert.NoError(t, err) {
					assert.Contains(t, []string{"habit_formation@v1", "habit_formation@v2", "habit_formation@v3"}, r.ModelVersion)
				}
			}
		}()
	}
	_, _ = reg.Publish(artifact(domain.ModelHabitFormation, 2))
	_, _ = reg.Publish(artifact(domain.ModelHabitFormation, 3))
	wg.Wait()
}

func TestEngine_DegradesWithoutArtifact(t *testing.T) {
	eng := NewEngine(NewRegistry())
	s := snapshot()

	for _, pt := range []domain.PredictionType{
		domain.PredictionHabitFormation,
		domain.PredictionStreakRisk,
		domain.PredictionOptimalTiming,
	} {
		r, err := eng.Predict(pt, s, now)
		require.NoError(t, err)
		assert.True(t, r.Fallback, pt)
		assert.Equal(t, ReasonModelUnavailable, r.FallbackReason, pt)
		assert.Equal(t, domain.RulesVersion, r.ModelVersion, pt)
		assert.GreaterOrEqual(t, r.Confidence, MinModelConfidence, pt)
	}
}

func TestEngine_UsesActiveArtifact(t *testing.T) {
	reg := NewRegistry()
	for _, mt := range domain.AllModelTypes() {
		_, err := reg.Publish(artifact(mt, 4))
		require.NoError(t, err)
	}
	eng := NewEngine(reg)
	s := snapshot()

	habit, err := eng.Predict(domain.PredictionHabitFormation, s, now)
	require.NoError(t, err)
	assert.False(t, habit.Fallback)
	assert.Equal(t, "habit_formation@v4", habit.ModelVersion)
	assert.InDelta(t, sigmoid(2), habit.Payload.Probability, 1e-9)
	assert.Equal(t, Confidence(20, 0.5, 0.8), habit.Confidence)

	risk, err := eng.Predict(domain.PredictionStreakRisk, s, now)
	require.NoError(t, err)
	assert.Equal(t, domain.RiskHigh, risk.Payload.RiskLevel, "sigmoid(2) is above the 0.5 cutpoint")

	timing, err := eng.Predict(domain.PredictionOptimalTiming, s, now)
	require.NoError(t, err)
	require.Len(t, timing.Payload.Windows, DefaultWindowCount)
	assert.Equal(t, time.Monday, timing.Payload.Windows[0].Weekday)

	goal, err := eng.Predict(domain.PredictionGoalRecommendation, s, now)
	require.NoError(t, err)
	assert.Equal(t, domain.RulesVersion, goal.ModelVersion)
	assert.Equal(t, 6, goal.Payload.WeeklyGoal)

	_, err = eng.Predict(domain.PredictionSegment, s, now)
	assert.Error(t, err)
}

func compiledCount(e *Engine) int {
	n := 0
	e.compiled.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func TestEngine_CompiledModelsStayBoundedAcrossReloads(t *testing.T) {
	reg := NewRegistry()
	eng := NewEngine(reg)
	s := snapshot()

	for i := 0; i < 5; i++ {
		// every reload hands the registry fresh copies of v1
		for _, mt := range domain.AllModelTypes() {
			require.NoError(t, reg.Load(artifact(mt, 1)))
			_, err := reg.Activate(mt, 1)
			require.NoError(t, err)
		}
		for _, pt := range []domain.PredictionType{domain.PredictionHabitFormation, domain.PredictionStreakRisk, domain.PredictionOptimalTiming} {
			r, err := eng.Predict(pt, s, now)
			require.NoError(t, err)
			assert.False(t, r.Fallback, pt)
		}
	}
	assert.Equal(t, len(domain.AllModelTypes()), compiledCount(eng))

	next := artifact(domain.ModelHabitFormation, 2)
	next.Params.Bias = -2
	_, err := reg.Publish(next)
	require.NoError(t, err)
	r, err := eng.Predict(domain.PredictionHabitFormation, s, now)
	require.NoError(t, err)
	assert.Equal(t, "habit_formation@v2", r.ModelVersion)
	assert.InDelta(t, sigmoid(-2), r.Payload.Probability, 1e-9, "a new version must not reuse the old decode")
	assert.Equal(t, len(domain.AllModelTypes()), compiledCount(eng))
}

func TestEngine_BadArtifactDegrades(t *testing.T) {
	reg := NewRegistry()
	bad := artifact(domain.ModelHabitFormation, 1)
	bad.Params.Weights = []float64{1}
	_, _ = reg.Publish(bad)

	r, err := NewEngine(reg).Predict(domain.PredictionHabitFormation, snapshot(), now)
	require.NoError(t, err)
	assert.True(t, r.Fallback)
	assert.Equal(t, domain.RulesVersion, r.ModelVersion)
}
