package training

import (
	"math"
	"sort"

	"github.com/ignite/habit-coach/internal/domain"
	"github.com/ignite/habit-coach/internal/features"
	"github.com/ignite/habit-coach/internal/models"
)

// AUC is the area under the ROC curve via the rank-sum statistic, with
// tied scores sharing their average rank. A set without both classes
// scores 0.5.
func AUC(scores, labels []float64) float64 {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] < scores[idx[b]] })

	var pos, neg, rankSum float64
	for i := 0; i < len(idx); {
		j := i
		for j < len(idx) && scores[idx[j]] == scores[idx[i]] {
			j++
		}
		avg := float64(i+j+1) / 2
		for _, k := range idx[i:j] {
			if labels[k] >= 0.5 {
				pos++
				rankSum += avg
			} else {
				neg++
			}
		}
		i = j
	}
	if pos == 0 || neg == 0 {
		return 0.5
	}
	return (rankSum - pos*(pos+1)/2) / (pos * neg)
}

// LogLoss is the mean binary cross-entropy.
func LogLoss(probs, labels []float64) float64 {
	if len(probs) == 0 {
		return 0
	}
	const eps = 1e-12
	var sum float64
	for i, p := range probs {
		p = math.Min(math.Max(p, eps), 1-eps)
		sum -= labels[i]*math.Log(p) + (1-labels[i])*math.Log(1-p)
	}
	return sum / float64(len(probs))
}

// habitLabel is 1 when the user kept the habit through the horizon.
func habitLabel(s features.Sample) float64 {
	if s.HabitSustained {
		return 1
	}
	return 0
}

// riskLabel maps the ordinal class onto [0,1] so the score lands near the
// default cutpoints.
func riskLabel(s features.Sample) float64 {
	return float64(s.RiskClass) / 2
}

func riskLevel(class int) domain.RiskLevel {
	switch class {
	case features.RiskClassHigh:
		return domain.RiskHigh
	case features.RiskClassMedium:
		return domain.RiskMedium
	}
	return domain.RiskLow
}

func design(samples []features.Sample, label func(features.Sample) float64) ([][]float64, []float64) {
	X := make([][]float64, len(samples))
	y := make([]float64, len(samples))
	for i, s := range samples {
		X[i] = features.Vector(s.Snapshot)
		y[i] = label(s)
	}
	return X, y
}

func habitScore(m *models.Logistic, samples []features.Sample) float64 {
	X, y := design(samples, habitLabel)
	probs := make([]float64, len(X))
	for i, x := range X {
		probs[i] = m.Prob(x)
	}
	return AUC(probs, y)
}

func habitAccuracy(m *models.Logistic, samples []features.Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var hits int
	for _, s := range samples {
		if (m.Prob(features.Vector(s.Snapshot)) >= 0.5) == s.HabitSustained {
			hits++
		}
	}
	return float64(hits) / float64(len(samples))
}

// riskScore is the share of samples whose predicted level matches the
// observed class.
func riskScore(m *models.Logistic, samples []features.Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var hits int
	for _, s := range samples {
		p := m.Prob(features.Vector(s.Snapshot))
		if models.LevelFor(p, models.DefaultCutpoints) == riskLevel(s.RiskClass) {
			hits++
		}
	}
	return float64(hits) / float64(len(samples))
}

// HitRate is the share of horizon activities that fell inside the top k
// windows ranked from the pre-cut histogram.
func HitRate(m *models.Timing, samples []features.Sample, k int) float64 {
	var hits, total int
	for _, s := range samples {
		var top [models.Slots]bool
		for _, w := range m.Rank(s.Snapshot.HourWeekday, k) {
			top[int(w.Weekday)*24+w.Hour] = true
		}
		for d := 0; d < 7; d++ {
			for h := 0; h < 24; h++ {
				n := s.FutureSlots[d][h]
				total += n
				if top[d*24+h] {
					hits += n
				}
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// populationCounts sums horizon activity per slot, the outcome the prior
// should anticipate.
func populationCounts(samples []features.Sample) []float64 {
	counts := make([]float64, models.Slots)
	for _, s := range samples {
		for d := 0; d < 7; d++ {
			for h := 0; h < 24; h++ {
				counts[d*24+h] += float64(s.FutureSlots[d][h])
			}
		}
	}
	return counts
}

func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var v float64
	for _, x := range xs {
		v += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(v / float64(len(xs)))
}
