package decision

import (
	"time"

	"github.com/ignite/habit-coach/internal/config"
	"github.com/ignite/habit-coach/internal/domain"
)

// Config holds trigger thresholds and suppression settings.
type Config struct {
	HabitBoostMaxProbability float64
	ReengagementMinGapDays   float64
	ReengagementMaxGapDays   float64
	MinCategoryWeight        float64
	MilestoneDays            []int
	Cooldowns                map[domain.FrequencyPreference]time.Duration
	PeakWindows              int
}

// DefaultConfig mirrors the config package defaults.
func DefaultConfig() Config {
	return FromConfig(config.Default().Decision)
}

// FromConfig converts the YAML section.
func FromConfig(c config.DecisionConfig) Config {
	out := Config{
		HabitBoostMaxProbability: c.HabitBoostMaxProbability,
		ReengagementMinGapDays:   float64(c.ReengagementMinGapDays),
		ReengagementMaxGapDays:   float64(c.ReengagementMaxGapDays),
		MinCategoryWeight:        c.MinCategoryWeight,
		MilestoneDays:            append([]int(nil), c.MilestoneDays...),
		Cooldowns:                make(map[domain.FrequencyPreference]time.Duration),
		PeakWindows:              c.PeakWindows,
	}
	for _, f := range []domain.FrequencyPreference{domain.FrequencyMinimal, domain.FrequencyModerate, domain.FrequencyDaily, domain.FrequencyHigh} {
		out.Cooldowns[f] = c.Cooldown(string(f), 48*time.Hour)
	}
	return out
}

// Cooldown is the window in which an equal-or-higher priority message
// suppresses a new one.
func (c Config) Cooldown(f domain.FrequencyPreference) time.Duration {
	if d, ok := c.Cooldowns[f]; ok {
		return d
	}
	return c.Cooldowns[domain.FrequencyModerate]
}

// LongestCooldown bounds how far back callers must load recent messages.
func (c Config) LongestCooldown() time.Duration {
	var longest time.Duration
	for _, d := range c.Cooldowns {
		longest = max(longest, d)
	}
	return longest
}
