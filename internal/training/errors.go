package training

import (
	"errors"
	"fmt"

	"github.com/ignite/habit-coach/internal/domain"
)

var (
	// ErrTrainingRegression means a candidate scored worse than the active
	// version by more than the tolerance and was not published.
	ErrTrainingRegression = errors.New("training regression")
	// ErrInsufficientSamples means the dataset is too small to split.
	ErrInsufficientSamples = errors.New("insufficient training samples")
	// ErrVersionConflict means another writer recorded the same model
	// version first.
	ErrVersionConflict = errors.New("model version conflict")
)

// RegressionError carries both held-out scores of a rejected candidate.
type RegressionError struct {
	Type      domain.ModelType
	Metric    string
	Candidate float64
	Active    float64
	Tolerance float64
}

func (e *RegressionError) Error() string {
	return fmt.Sprintf("%s: candidate %s %.4f below active %.4f by more than %.4f",
		e.Type, e.Metric, e.Candidate, e.Active, e.Tolerance)
}

func (e *RegressionError) Is(target error) bool { return target == ErrTrainingRegression }
