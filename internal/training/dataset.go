package training

import (
	"context"
	"time"

	"github.com/ignite/habit-coach/internal/domain"
	"github.com/ignite/habit-coach/internal/features"
)

// Dataset supplies the training export: every user's activities in
// [start, end).
type Dataset interface {
	Load(ctx context.Context, start, end time.Time) ([]domain.Activity, error)
}

// RangeFetcher is the activity store's bulk read. *activity.Service
// implements it.
type RangeFetcher interface {
	FetchRange(ctx context.Context, start, end time.Time) ([]domain.Activity, error)
}

// ActivityDataset reads the export straight from the activity store.
type ActivityDataset struct {
	src RangeFetcher
}

// NewActivityDataset wraps the activity store.
func NewActivityDataset(src RangeFetcher) *ActivityDataset {
	return &ActivityDataset{src: src}
}

func (d *ActivityDataset) Load(ctx context.Context, start, end time.Time) ([]domain.Activity, error) {
	return d.src.FetchRange(ctx, start, end)
}

// BuildSamples cuts every user's history into labelled samples. Users
// are processed in ID order and samples keep their cut order, so the
// result is deterministic for a given export.
func BuildSamples(acts []domain.Activity, start, end time.Time, opts features.AggregateOptions) []features.Sample {
	users, byUser := features.GroupByUser(acts)
	var out []features.Sample
	for _, u := range users {
		out = append(out, features.BuildSamples(byUser[u], start, end, opts)...)
	}
	return out
}
