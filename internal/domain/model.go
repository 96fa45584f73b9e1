package domain

import (
	"fmt"
	"time"
)

// ModelType identifies a trained model family. The three trained families
// share names with the prediction types they serve.
type ModelType string

const (
	ModelHabitFormation ModelType = "habit_formation"
	ModelStreakRisk     ModelType = "streak_risk"
	ModelOptimalTiming  ModelType = "optimal_timing"
)

// AllModelTypes lists the trained model families.
func AllModelTypes() []ModelType {
	return []ModelType{ModelHabitFormation, ModelStreakRisk, ModelOptimalTiming}
}

// ModelFor returns the trained model family behind a prediction type.
// Segment and goal recommendations are rule-based and have none.
func ModelFor(t PredictionType) (ModelType, bool) {
	switch t {
	case PredictionHabitFormation:
		return ModelHabitFormation, true
	case PredictionStreakRisk:
		return ModelStreakRisk, true
	case PredictionOptimalTiming:
		return ModelOptimalTiming, true
	}
	return "", false
}

// RulesVersion tags predictions produced by the deterministic rule tables.
const RulesVersion = "rules-v1"

// HeuristicVersion tags fallback predictions.
const HeuristicVersion = "heuristic-v1"

// ModelParams holds fitted parameters. Each family uses a subset:
// habit/risk use the logistic fields, risk adds Cutpoints, timing uses
// TimingPrior (7*24, weekday-major) and Smoothing.
type ModelParams struct {
	Weights         []float64          `json:"weights,omitempty"`
	Bias            float64            `json:"bias,omitempty"`
	Means           []float64          `json:"means,omitempty"`
	Scales          []float64          `json:"scales,omitempty"`
	Cutpoints       []float64          `json:"cutpoints,omitempty"`
	TimingPrior     []float64          `json:"timing_prior,omitempty"`
	Smoothing       float64            `json:"smoothing,omitempty"`
	Hyperparameters map[string]float64 `json:"hyperparameters,omitempty"`
}

// EvaluationMetrics summarises how an artifact scored. Primary is
// higher-is-better and is the value the regression guard compares.
type EvaluationMetrics struct {
	PrimaryName string             `json:"primary_name"`
	Primary     float64            `json:"primary"`
	CVMean      float64            `json:"cv_mean"`
	CVStd       float64            `json:"cv_std"`
	Samples     int                `json:"samples"`
	HeldOut     int                `json:"held_out"`
	Extra       map[string]float64 `json:"extra,omitempty"`
}

// ModelArtifact is an immutable trained model version.
type ModelArtifact struct {
	ID          string            `json:"id"`
	Type        ModelType         `json:"type"`
	Version     int64             `json:"version"`
	TrainedAt   time.Time         `json:"trained_at"`
	WindowStart time.Time         `json:"window_start"`
	WindowEnd   time.Time         `json:"window_end"`
	Params      ModelParams       `json:"params"`
	Metrics     EvaluationMetrics `json:"metrics"`
	BlobKey     string            `json:"blob_key,omitempty"`
	PublishedAt *time.Time        `json:"published_at,omitempty"`
	RetiredAt   *time.Time        `json:"retired_at,omitempty"`
}

// VersionTag is the string predictions carry to tie them to this artifact.
func (a *ModelArtifact) VersionTag() string {
	return VersionTag(a.Type, a.Version)
}

// VersionTag formats the tag for a model family and version number.
func VersionTag(t ModelType, version int64) string {
	return fmt.Sprintf("%s@v%d", t, version)
}

// ModelHealth is the admin view of one model family.
type ModelHealth struct {
	Type          ModelType          `json:"type"`
	ActiveVersion string             `json:"active_version,omitempty"`
	Degraded      bool               `json:"degraded"`
	TrainedAt     *time.Time         `json:"trained_at,omitempty"`
	Metrics       *EvaluationMetrics `json:"metrics,omitempty"`
	Versions      []int64            `json:"versions"`
}
