package decision

import (
	"time"

	"github.com/ignite/habit-coach/internal/domain"
)

// scheduleFor returns now when the current local hour is a preferred or
// peak window, else the start of the earliest hour in the next 24 that is
// a preferred or ranked timing window and outside quiet hours. With no
// such hour it sends now.
func (e *Engine) scheduleFor(in *Input) time.Time {
	local := in.localNow()
	var windows []domain.SendWindow
	if timing := in.Predictions.Get(domain.PredictionOptimalTiming); timing != nil {
		windows = timing.Payload.Windows
	}

	if preferred(in.Profile.PreferredWindows, local.Hour()) || inPeak(windows, e.cfg.PeakWindows, local) {
		return in.Now
	}

	top := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, local.Location())
	for h := 1; h <= 24; h++ {
		t := top.Add(time.Duration(h) * time.Hour)
		if in.Profile.QuietHours.Contains(t.Hour()) {
			continue
		}
		if preferred(in.Profile.PreferredWindows, t.Hour()) || inPeak(windows, len(windows), t) {
			return t.UTC()
		}
	}
	return in.Now
}

func preferred(ranges []domain.HourRange, hour int) bool {
	for _, r := range ranges {
		if r.Contains(hour) {
			return true
		}
	}
	return false
}

// inPeak reports whether t's local (weekday, hour) is among the first k
// ranked windows.
func inPeak(windows []domain.SendWindow, k int, t time.Time) bool {
	if k > len(windows) {
		k = len(windows)
	}
	for _, w := range windows[:k] {
		if w.Weekday == t.Weekday() && w.Hour == t.Hour() {
			return true
		}
	}
	return false
}
