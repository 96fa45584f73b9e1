package features

import (
	"sort"
	"time"

	"github.com/ignite/habit-coach/internal/domain"
)

// Risk classes used as training labels, ordered low to high.
const (
	RiskClassLow    = 0
	RiskClassMedium = 1
	RiskClassHigh   = 2
)

// Sample pairs the snapshot before a cutoff with what happened after it.
type Sample struct {
	Snapshot *domain.BehavioralSnapshot
	// HabitSustained is true when the user was active on every day of the
	// horizon, i.e. held a streak of at least horizon days.
	HabitSustained bool
	// RiskClass buckets the wait until the next activity.
	RiskClass int
	// FutureSlots counts horizon activities per local (weekday, hour).
	FutureSlots [7][24]int
}

// AggregateOptions controls sample generation.
type AggregateOptions struct {
	WindowDays    int
	HorizonDays   int
	StepDays      int
	MinActivities int
	Location      *time.Location
}

// BuildSamples cuts one user's history every StepDays between the first
// point with a full window and the last point with a full horizon. The
// returned snapshots have UserID cleared.
func BuildSamples(activities []domain.Activity, from, to time.Time, opts AggregateOptions) []Sample {
	if opts.WindowDays <= 0 {
		opts.WindowDays = 60
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = 7
	}
	if opts.StepDays <= 0 {
		opts.StepDays = 7
	}
	if opts.MinActivities <= 0 {
		opts.MinActivities = 3
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	sorted := inWindow(activities, from, to)
	window := time.Duration(opts.WindowDays) * 24 * time.Hour
	horizon := time.Duration(opts.HorizonDays) * 24 * time.Hour
	step := time.Duration(opts.StepDays) * 24 * time.Hour

	var samples []Sample
	for cut := from.Add(window); !cut.Add(horizon).After(to); cut = cut.Add(step) {
		snap, err := Compute("", sorted, cut.Add(-window), cut, loc, opts.MinActivities)
		if err != nil {
			continue
		}
		future := inWindow(sorted, cut, cut.Add(horizon))
		samples = append(samples, label(snap, future, cut, opts.HorizonDays, loc))
	}
	return samples
}

func label(snap *domain.BehavioralSnapshot, future []domain.Activity, cut time.Time, horizonDays int, loc *time.Location) Sample {
	s := Sample{Snapshot: snap}

	days := activeDays(future, loc)
	s.HabitSustained = len(days) >= horizonDays

	switch {
	case len(future) == 0:
		s.RiskClass = RiskClassHigh
	default:
		wait := future[0].OccurredAt.Sub(cut).Hours() / hoursPerDay
		switch {
		case wait <= 1:
			s.RiskClass = RiskClassLow
		case wait <= 3:
			s.RiskClass = RiskClassMedium
		default:
			s.RiskClass = RiskClassHigh
		}
	}

	for _, a := range future {
		local := a.OccurredAt.In(loc)
		s.FutureSlots[local.Weekday()][local.Hour()]++
	}
	return s
}

// GroupByUser splits a flat activity export into per-user slices with
// stable user ordering.
func GroupByUser(activities []domain.Activity) (users []string, byUser map[string][]domain.Activity) {
	byUser = make(map[string][]domain.Activity)
	for _, a := range activities {
		if _, ok := byUser[a.UserID]; !ok {
			users = append(users, a.UserID)
		}
		byUser[a.UserID] = append(byUser[a.UserID], a)
	}
	sort.Strings(users)
	return users, byUser
}
