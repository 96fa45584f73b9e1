package features

import (
	"math"
	"sort"
	"time"

	"github.com/ignite/habit-coach/internal/domain"
)

const hoursPerDay = 24

// Compute builds the snapshot for activities inside [start, end). Buckets,
// days and streaks are evaluated in loc. The input slice is not modified.
func Compute(userID string, activities []domain.Activity, start, end time.Time, loc *time.Location, minActivities int) (*domain.BehavioralSnapshot, error) {
	if loc == nil {
		loc = time.UTC
	}

	acts := inWindow(activities, start, end)
	if len(acts) < minActivities || len(acts) == 0 {
		return nil, &InsufficientDataError{UserID: userID, Count: len(acts), Required: minActivities}
	}

	s := &domain.BehavioralSnapshot{
		UserID:        userID,
		WindowStart:   start,
		WindowEnd:     end,
		ActivityCount: len(acts),
	}

	// Time-bucket histograms and value weights
	valueTotals := make(map[string]float64)
	var valueSum float64
	durations := make([]float64, 0, len(acts))
	for _, a := range acts {
		local := a.OccurredAt.In(loc)
		s.HourHistogram[local.Hour()]++
		s.WeekdayHistogram[local.Weekday()]++
		s.HourWeekday[local.Weekday()][local.Hour()]++

		if a.Value != "" {
			imp := a.Importance
			if imp <= 0 {
				imp = 1
			}
			valueTotals[a.Value] += imp
			valueSum += imp
		}
		durations = append(durations, a.DurationMin)
	}
	if valueSum > 0 {
		s.ValueWeights = make(map[string]float64, len(valueTotals))
		for k, v := range valueTotals {
			s.ValueWeights[k] = v / valueSum
		}
	}
	s.SessionMean, s.SessionVariance = meanVariance(durations)

	// Day-level features
	days := activeDays(acts, loc)
	s.ActiveDays = len(days)
	windowDays := float64(s.WindowDays())
	s.NormalizedFrequency = math.Min(1, float64(len(days))/windowDays)
	s.WeeklyRate = float64(len(days)) * 7 / windowDays

	gaps := make([]float64, 0, len(days))
	for i := 1; i < len(days); i++ {
		gaps = append(gaps, float64(days[i]-days[i-1]))
	}
	s.GapMean, s.GapVariance = meanVariance(gaps)
	for _, g := range gaps {
		if g > s.GapMax {
			s.GapMax = g
		}
	}
	s.StreakStability = 1 / (1 + s.GapVariance)

	s.LongestStreak, s.PriorStreak = runs(days)
	endDay := dayOrdinal(end.Add(-time.Nanosecond), loc)
	if last := days[len(days)-1]; endDay-last <= 1 {
		s.CurrentStreak = s.PriorStreak
	}

	last := acts[len(acts)-1].OccurredAt
	s.LastActivityAt = last
	s.DaysSinceLast = math.Max(0, end.Sub(last).Hours()/hoursPerDay)

	return s, nil
}

// inWindow returns the activities in [start, end) ordered by time, then id.
func inWindow(activities []domain.Activity, start, end time.Time) []domain.Activity {
	out := make([]domain.Activity, 0, len(activities))
	for _, a := range activities {
		if a.OccurredAt.Before(start) || !a.OccurredAt.Before(end) {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	return out
}

// dayOrdinal numbers local calendar days so consecutive days differ by one.
func dayOrdinal(t time.Time, loc *time.Location) int {
	local := t.In(loc)
	y, m, d := local.Date()
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

// activeDays returns the sorted distinct day ordinals with activity.
func activeDays(acts []domain.Activity, loc *time.Location) []int {
	seen := make(map[int]struct{}, len(acts))
	days := make([]int, 0, len(acts))
	for _, a := range acts {
		d := dayOrdinal(a.OccurredAt, loc)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		days = append(days, d)
	}
	sort.Ints(days)
	return days
}

// runs returns the longest run of consecutive days and the length of the
// final run.
func runs(days []int) (longest, last int) {
	if len(days) == 0 {
		return 0, 0
	}
	cur := 1
	longest = 1
	for i := 1; i < len(days); i++ {
		if days[i] == days[i-1]+1 {
			cur++
		} else {
			cur = 1
		}
		if cur > longest {
			longest = cur
		}
	}
	return longest, cur
}

func meanVariance(xs []float64) (mean, variance float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs))
	return mean, variance
}
