package models

import (
	"fmt"
	"math"

	"github.com/ignite/habit-coach/internal/domain"
)

// Logistic is a standardized logistic regression.
type Logistic struct {
	Weights []float64
	Bias    float64
	Means   []float64
	Scales  []float64
}

// FitOptions are the hyperparameters of FitLogistic.
type FitOptions struct {
	LearningRate float64
	L2           float64
	Epochs       int
}

// FitLogistic trains on rows X with targets y in [0,1] by full-batch
// gradient descent from zero weights. There is no randomness, so the same
// data and options always give the same model.
func FitLogistic(X [][]float64, y []float64, opts FitOptions) *Logistic {
	if opts.LearningRate <= 0 {
		opts.LearningRate = 0.1
	}
	if opts.Epochs <= 0 {
		opts.Epochs = 200
	}
	if len(X) == 0 {
		return &Logistic{}
	}
	dim := len(X[0])
	m := &Logistic{
		Weights: make([]float64, dim),
		Means:   make([]float64, dim),
		Scales:  make([]float64, dim),
	}

	// Standardization
	n := float64(len(X))
	for _, row := range X {
		for j, v := range row {
			m.Means[j] += v / n
		}
	}
	for _, row := range X {
		for j, v := range row {
			d := v - m.Means[j]
			m.Scales[j] += d * d / n
		}
	}
	for j := range m.Scales {
		m.Scales[j] = math.Sqrt(m.Scales[j])
		if m.Scales[j] < 1e-9 {
			m.Scales[j] = 1
		}
	}
	Z := make([][]float64, len(X))
	for i, row := range X {
		Z[i] = m.standardize(row)
	}

	grad := make([]float64, dim)
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		for j := range grad {
			grad[j] = 0
		}
		var gradBias float64
		for i, z := range Z {
			err := sigmoid(dot(m.Weights, z)+m.Bias) - y[i]
			for j, v := range z {
				grad[j] += err * v
			}
			gradBias += err
		}
		for j := range m.Weights {
			m.Weights[j] -= opts.LearningRate * (grad[j]/n + opts.L2*m.Weights[j])
		}
		m.Bias -= opts.LearningRate * gradBias / n
	}
	return m
}

// Score is the linear predictor.
func (m *Logistic) Score(x []float64) float64 {
	return dot(m.Weights, m.standardize(x)) + m.Bias
}

// Prob is the predicted probability.
func (m *Logistic) Prob(x []float64) float64 {
	return sigmoid(m.Score(x))
}

// Params exports the fitted values for an artifact.
func (m *Logistic) Params() domain.ModelParams {
	return domain.ModelParams{
		Weights: append([]float64(nil), m.Weights...),
		Bias:    m.Bias,
		Means:   append([]float64(nil), m.Means...),
		Scales:  append([]float64(nil), m.Scales...),
	}
}

// LogisticFromParams rebuilds a model and checks its dimension.
func LogisticFromParams(p domain.ModelParams, dim int) (*Logistic, error) {
	if len(p.Weights) != dim || len(p.Means) != dim || len(p.Scales) != dim {
		return nil, fmt.Errorf("%w: logistic wants %d weights, got %d", ErrInvalidArtifact, dim, len(p.Weights))
	}
	return &Logistic{Weights: p.Weights, Bias: p.Bias, Means: p.Means, Scales: p.Scales}, nil
}

func (m *Logistic) standardize(x []float64) []float64 {
	z := make([]float64, len(m.Weights))
	for j := range z {
		if j >= len(x) {
			break
		}
		z[j] = (x[j] - m.Means[j]) / m.Scales[j]
	}
	return z
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
