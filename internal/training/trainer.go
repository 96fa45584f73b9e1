package training

import (
	"fmt"
	"math"
	"sort"

	"github.com/ignite/habit-coach/internal/domain"
	"github.com/ignite/habit-coach/internal/features"
	"github.com/ignite/habit-coach/internal/models"
)

// Primary metric names recorded on artifacts.
const (
	MetricAUC           = "auc"
	MetricLevelAccuracy = "level_accuracy"
	MetricTopKHitRate   = "top_k_hit_rate"
)

// Options is the search space and the validation scheme.
type Options struct {
	Folds           int
	HoldoutFraction float64
	LearningRates   []float64
	L2Penalties     []float64
	Epochs          int
	SmoothingGrid   []float64
	TopK            int
}

func (o Options) withDefaults() Options {
	if o.Folds < 2 {
		o.Folds = 5
	}
	if o.HoldoutFraction <= 0 || o.HoldoutFraction >= 1 {
		o.HoldoutFraction = 0.2
	}
	if len(o.LearningRates) == 0 {
		o.LearningRates = []float64{0.05, 0.1, 0.3}
	}
	if len(o.L2Penalties) == 0 {
		o.L2Penalties = []float64{0, 0.001, 0.01}
	}
	if o.Epochs <= 0 {
		o.Epochs = 200
	}
	if len(o.SmoothingGrid) == 0 {
		o.SmoothingGrid = []float64{1, 5, 20, 50}
	}
	if o.TopK <= 0 {
		o.TopK = models.DefaultWindowCount
	}
	return o
}

// Candidate is a fitted, evaluated model that has not been published.
type Candidate struct {
	Type    domain.ModelType
	Params  domain.ModelParams
	Metrics domain.EvaluationMetrics
}

// Trainer fits one model family at a time. It holds no state between
// calls and is safe for concurrent use.
type Trainer struct {
	opts Options
}

// NewTrainer applies defaults to opts.
func NewTrainer(opts Options) *Trainer {
	return &Trainer{opts: opts.withDefaults()}
}

// Train selects hyperparameters by k-fold cross-validation on the older
// part of the samples, refits the winner on all of it and scores it on
// the most recent HoldoutFraction.
func (t *Trainer) Train(mt domain.ModelType, samples []features.Sample) (*Candidate, error) {
	train, holdout, err := t.split(samples)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", mt, err)
	}
	switch mt {
	case domain.ModelHabitFormation:
		return t.trainLogistic(mt, train, holdout, habitLabel, habitScore, MetricAUC), nil
	case domain.ModelStreakRisk:
		return t.trainLogistic(mt, train, holdout, riskLabel, riskScore, MetricLevelAccuracy), nil
	case domain.ModelOptimalTiming:
		return t.trainTiming(train, holdout), nil
	}
	return nil, fmt.Errorf("unsupported model type %q", mt)
}

// split is temporal: samples are ordered by cut time and the latest ones
// are held out, so the holdout never predates anything trained on.
func (t *Trainer) split(samples []features.Sample) (train, holdout []features.Sample, err error) {
	sorted := append([]features.Sample(nil), samples...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Snapshot.WindowEnd.Before(sorted[j].Snapshot.WindowEnd)
	})
	n := len(sorted)
	hold := int(math.Ceil(float64(n) * t.opts.HoldoutFraction))
	if hold < 1 {
		hold = 1
	}
	if n-hold < 2*t.opts.Folds {
		return nil, nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientSamples, n, 2*t.opts.Folds+hold)
	}
	return sorted[:n-hold], sorted[n-hold:], nil
}

// folds assigns sample i to fold i % k.
func folds(samples []features.Sample, k, f int) (fit, val []features.Sample) {
	for i, s := range samples {
		if i%k == f {
			val = append(val, s)
		} else {
			fit = append(fit, s)
		}
	}
	return fit, val
}

type logisticScore func(*models.Logistic, []features.Sample) float64

func (t *Trainer) trainLogistic(mt domain.ModelType, train, holdout []features.Sample, label func(features.Sample) float64, score logisticScore, metric string) *Candidate {
	var (
		best              models.FitOptions
		bestMean, bestStd = math.Inf(-1), 0.0
	)
	for _, lr := range t.opts.LearningRates {
		for _, l2 := range t.opts.L2Penalties {
			fo := models.FitOptions{LearningRate: lr, L2: l2, Epochs: t.opts.Epochs}
			scores := make([]float64, 0, t.opts.Folds)
			for f := 0; f < t.opts.Folds; f++ {
				fit, val := folds(train, t.opts.Folds, f)
				X, y := design(fit, label)
				scores = append(scores, score(models.FitLogistic(X, y, fo), val))
			}
			if mean, std := meanStd(scores); mean > bestMean {
				best, bestMean, bestStd = fo, mean, std
			}
		}
	}

	X, y := design(train, label)
	m := models.FitLogistic(X, y, best)
	params := m.Params()
	params.Hyperparameters = map[string]float64{
		"learning_rate": best.LearningRate,
		"l2":            best.L2,
		"epochs":        float64(best.Epochs),
	}

	hx, hy := design(holdout, label)
	probs := make([]float64, len(hx))
	for i, x := range hx {
		probs[i] = m.Prob(x)
	}
	extra := map[string]float64{"log_loss": LogLoss(probs, hy)}
	if mt == domain.ModelStreakRisk {
		params.Cutpoints = append([]float64(nil), models.DefaultCutpoints...)
	} else {
		extra["accuracy"] = habitAccuracy(m, holdout)
	}

	return &Candidate{
		Type:   mt,
		Params: params,
		Metrics: domain.EvaluationMetrics{
			PrimaryName: metric,
			Primary:     score(m, holdout),
			CVMean:      bestMean,
			CVStd:       bestStd,
			Samples:     len(train),
			HeldOut:     len(holdout),
			Extra:       extra,
		},
	}
}

func (t *Trainer) trainTiming(train, holdout []features.Sample) *Candidate {
	var (
		best              float64
		bestMean, bestStd = math.Inf(-1), 0.0
	)
	for _, smoothing := range t.opts.SmoothingGrid {
		scores := make([]float64, 0, t.opts.Folds)
		for f := 0; f < t.opts.Folds; f++ {
			fit, val := folds(train, t.opts.Folds, f)
			m := &models.Timing{Prior: models.PriorFromCounts(populationCounts(fit)), Smoothing: smoothing}
			scores = append(scores, HitRate(m, val, t.opts.TopK))
		}
		if mean, std := meanStd(scores); mean > bestMean {
			best, bestMean, bestStd = smoothing, mean, std
		}
	}

	m := &models.Timing{Prior: models.PriorFromCounts(populationCounts(train)), Smoothing: best}
	params := m.Params()
	params.Hyperparameters = map[string]float64{"smoothing": best, "top_k": float64(t.opts.TopK)}

	uniform := &models.Timing{Prior: models.UniformPrior(), Smoothing: best}
	return &Candidate{
		Type:   domain.ModelOptimalTiming,
		Params: params,
		Metrics: domain.EvaluationMetrics{
			PrimaryName: MetricTopKHitRate,
			Primary:     HitRate(m, holdout, t.opts.TopK),
			CVMean:      bestMean,
			CVStd:       bestStd,
			Samples:     len(train),
			HeldOut:     len(holdout),
			Extra:       map[string]float64{"uniform_prior_hit_rate": HitRate(uniform, holdout, t.opts.TopK)},
		},
	}
}
