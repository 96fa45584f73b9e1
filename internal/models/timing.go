package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/ignite/habit-coach/internal/domain"
)

// Slots is the number of (weekday, hour) cells, weekday-major.
const Slots = 7 * 24

// DefaultWindowCount is how many ranked windows a timing prediction carries.
const DefaultWindowCount = 5

// Timing scores each (weekday, hour) cell as the user's own activity share
// smoothed toward a population prior:
//
//	score(slot) = (count(slot) + smoothing*prior(slot)) / (total + smoothing)
type Timing struct {
	Prior     []float64
	Smoothing float64
}

// UniformPrior spreads weight evenly over all slots.
func UniformPrior() []float64 {
	p := make([]float64, Slots)
	for i := range p {
		p[i] = 1.0 / Slots
	}
	return p
}

// PriorFromCounts normalizes population slot counts into a prior, with one
// pseudo-count per slot so no cell is ever impossible.
func PriorFromCounts(counts []float64) []float64 {
	p := make([]float64, Slots)
	var total float64
	for i := range p {
		if i < len(counts) {
			p[i] = counts[i]
		}
		p[i]++
		total += p[i]
	}
	for i := range p {
		p[i] /= total
	}
	return p
}

// TimingFromParams rebuilds a timing model from an artifact.
func TimingFromParams(p domain.ModelParams) (*Timing, error) {
	if len(p.TimingPrior) != Slots {
		return nil, fmt.Errorf("%w: timing prior wants %d slots, got %d", ErrInvalidArtifact, Slots, len(p.TimingPrior))
	}
	return &Timing{Prior: p.TimingPrior, Smoothing: p.Smoothing}, nil
}

// Params exports the model for an artifact.
func (t *Timing) Params() domain.ModelParams {
	return domain.ModelParams{
		TimingPrior: append([]float64(nil), t.Prior...),
		Smoothing:   t.Smoothing,
	}
}

// Scores returns the posterior share of every slot for a histogram.
func (t *Timing) Scores(hist [7][24]int) []float64 {
	var total float64
	for d := 0; d < 7; d++ {
		for h := 0; h < 24; h++ {
			total += float64(hist[d][h])
		}
	}
	out := make([]float64, Slots)
	denom := total + t.Smoothing
	if denom == 0 {
		copy(out, t.Prior)
		return out
	}
	for d := 0; d < 7; d++ {
		for h := 0; h < 24; h++ {
			i := d*24 + h
			out[i] = (float64(hist[d][h]) + t.Smoothing*t.Prior[i]) / denom
		}
	}
	return out
}

// Rank returns the k best windows, best first, with scores scaled so the
// best window is 1. Ties go to the earlier (weekday, hour).
func (t *Timing) Rank(hist [7][24]int, k int) []domain.SendWindow {
	return RankScores(t.Scores(hist), k)
}

// RankScores ranks a slot score vector.
func RankScores(scores []float64, k int) []domain.SendWindow {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})
	if k > len(idx) {
		k = len(idx)
	}
	top := scores[idx[0]]
	out := make([]domain.SendWindow, 0, k)
	for _, i := range idx[:k] {
		score := 0.0
		if top > 0 {
			score = scores[i] / top
		}
		out = append(out, domain.SendWindow{
			Weekday: time.Weekday(i / 24),
			Hour:    i % 24,
			Score:   score,
		})
	}
	return out
}
