package training

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/habit-coach/internal/domain"
	"github.com/ignite/habit-coach/internal/features"
	"github.com/ignite/habit-coach/internal/models"
)

var datasetEnd = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

// population is 90 days of twelve users in three shapes: daily at 08:00,
// daily at 19:00 then quitting halfway, and every third day at noon.
func population(end time.Time) []domain.Activity {
	start := end.AddDate(0, 0, -90)
	var out []domain.Activity
	for u := 0; u < 12; u++ {
		id := fmt.Sprintf("u%02d", u)
		add := func(at time.Time) {
			out = append(out, domain.Activity{
				ID:          fmt.Sprintf("%s-%d", id, len(out)),
				UserID:      id,
				Kind:        "walk",
				Value:       "health",
				Importance:  0.8,
				DurationMin: 20,
				OccurredAt:  at,
			})
		}
		for d := 0; d < 90; d++ {
			day := start.AddDate(0, 0, d)
			switch u % 3 {
			case 0:
				add(day.Add(8 * time.Hour))
			case 1:
				if d < 45 {
					add(day.Add(19 * time.Hour))
				}
			case 2:
				if d%3 == 0 {
					add(day.Add(12 * time.Hour))
				}
			}
		}
	}
	return out
}

func populationSamples(t *testing.T) []features.Sample {
	t.Helper()
	samples := BuildSamples(population(datasetEnd), datasetEnd.AddDate(0, 0, -90), datasetEnd,
		features.AggregateOptions{WindowDays: 30, HorizonDays: 7, StepDays: 7})
	require.Len(t, samples, 92)
	return samples
}

func TestAUC(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		labels []float64
		want   float64
	}{
		{"perfect", []float64{0.1, 0.2, 0.8, 0.9}, []float64{0, 0, 1, 1}, 1},
		{"inverted", []float64{0.9, 0.8, 0.2, 0.1}, []float64{0, 0, 1, 1}, 0},
		{"all tied", []float64{0.5, 0.5, 0.5, 0.5}, []float64{0, 1, 0, 1}, 0.5},
		{"one class", []float64{0.1, 0.9}, []float64{1, 1}, 0.5},
		{"one swap", []float64{0.1, 0.3, 0.2, 0.9}, []float64{0, 0, 1, 1}, 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, AUC(tt.scores, tt.labels), 1e-9)
		})
	}
}

func TestLogLoss(t *testing.T) {
	assert.InDelta(t, 0, LogLoss([]float64{1, 0}, []float64{1, 0}), 1e-9)
	assert.InDelta(t, 0.6931, LogLoss([]float64{0.5}, []float64{1}), 1e-4)
	assert.Equal(t, 0.0, LogLoss(nil, nil))
}

func TestHitRate(t *testing.T) {
	var s features.Sample
	s.Snapshot = &domain.BehavioralSnapshot{}
	s.Snapshot.HourWeekday[time.Monday][8] = 5
	s.FutureSlots[time.Monday][8] = 3
	s.FutureSlots[time.Friday][22] = 1

	m := &models.Timing{Prior: models.UniformPrior(), Smoothing: 1}
	assert.InDelta(t, 0.75, HitRate(m, []features.Sample{s}, 1), 1e-9)

	var empty features.Sample
	empty.Snapshot = &domain.BehavioralSnapshot{}
	assert.Equal(t, 0.0, HitRate(m, []features.Sample{empty}, 5))
}

func TestTrainer_Habit(t *testing.T) {
	samples := populationSamples(t)
	c, err := NewTrainer(Options{Epochs: 50}).Train(domain.ModelHabitFormation, samples)
	require.NoError(t, err)

	assert.Equal(t, domain.ModelHabitFormation, c.Type)
	assert.Equal(t, MetricAUC, c.Metrics.PrimaryName)
	assert.GreaterOrEqual(t, c.Metrics.Primary, 0.0)
	assert.LessOrEqual(t, c.Metrics.Primary, 1.0)
	assert.Equal(t, 19, c.Metrics.HeldOut)
	assert.Equal(t, 73, c.Metrics.Samples)
	assert.Len(t, c.Params.Weights, len(features.Names))
	assert.Contains(t, c.Params.Hyperparameters, "learning_rate")
	assert.Contains(t, c.Metrics.Extra, "accuracy")

	_, err = models.LogisticFromParams(c.Params, len(features.Names))
	assert.NoError(t, err)
}

func TestTrainer_Risk(t *testing.T) {
	c, err := NewTrainer(Options{Epochs: 50}).Train(domain.ModelStreakRisk, populationSamples(t))
	require.NoError(t, err)

	assert.Equal(t, MetricLevelAccuracy, c.Metrics.PrimaryName)
	assert.Equal(t, models.DefaultCutpoints, c.Params.Cutpoints)
	assert.GreaterOrEqual(t, c.Metrics.Primary, 0.0)
	assert.LessOrEqual(t, c.Metrics.Primary, 1.0)

	_, err = models.RiskFromParams(c.Params)
	assert.NoError(t, err)
}

func TestTrainer_Timing(t *testing.T) {
	grid := []float64{1, 10}
	c, err := NewTrainer(Options{SmoothingGrid: grid}).Train(domain.ModelOptimalTiming, populationSamples(t))
	require.NoError(t, err)

	assert.Equal(t, MetricTopKHitRate, c.Metrics.PrimaryName)
	assert.Len(t, c.Params.TimingPrior, models.Slots)
	assert.Contains(t, grid, c.Params.Smoothing)
	assert.Greater(t, c.Metrics.Primary, 0.0)
	assert.LessOrEqual(t, c.Metrics.Primary, 1.0)
	assert.Contains(t, c.Metrics.Extra, "uniform_prior_hit_rate")
}

func TestTrainer_Deterministic(t *testing.T) {
	samples := populationSamples(t)
	tr := NewTrainer(Options{Epochs: 30, LearningRates: []float64{0.1}, L2Penalties: []float64{0, 0.01}})

	a, err := tr.Train(domain.ModelHabitFormation, samples)
	require.NoError(t, err)

	reversed := make([]features.Sample, len(samples))
	for i := range samples {
		reversed[len(samples)-1-i] = samples[i]
	}
	b, err := tr.Train(domain.ModelHabitFormation, samples)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := tr.Train(domain.ModelHabitFormation, reversed)
	require.NoError(t, err)
	assert.Equal(t, a.Metrics.HeldOut, c.Metrics.HeldOut)
}

func TestTrainer_InsufficientSamples(t *testing.T) {
	samples := populationSamples(t)[:8]
	_, err := NewTrainer(Options{}).Train(domain.ModelHabitFormation, samples)
	assert.ErrorIs(t, err, ErrInsufficientSamples)
}

func TestTrainer_UnknownType(t *testing.T) {
	_, err := NewTrainer(Options{}).Train("segment", populationSamples(t))
	assert.Error(t, err)
}

func TestRegressionError(t *testing.T) {
	var err error = &RegressionError{Type: domain.ModelStreakRisk, Metric: MetricLevelAccuracy, Candidate: 0.6, Active: 0.7, Tolerance: 0.02}
	assert.ErrorIs(t, err, ErrTrainingRegression)
	assert.Contains(t, err.Error(), "streak_risk")
}
