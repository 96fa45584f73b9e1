package domain

import "time"

// FrequencyPreference controls how often a user may be messaged.
type FrequencyPreference string

const (
	FrequencyMinimal  FrequencyPreference = "minimal"
	FrequencyModerate FrequencyPreference = "moderate"
	FrequencyDaily    FrequencyPreference = "daily"
	FrequencyHigh     FrequencyPreference = "high"
)

// HourRange is a [Start, End) range of local hours that may wrap midnight.
// Start == End is an empty range.
type HourRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether hour falls inside the range.
func (r HourRange) Contains(hour int) bool {
	if r.Start == r.End {
		return false
	}
	if r.Start < r.End {
		return hour >= r.Start && hour < r.End
	}
	return hour >= r.Start || hour < r.End
}

// UserPersonalizationProfile is read by the decision engine and the template
// selector. Only explicit user action mutates it.
type UserPersonalizationProfile struct {
	UserID           string                      `json:"user_id"`
	DisplayName      string                      `json:"display_name,omitempty"`
	Frequency        FrequencyPreference         `json:"frequency"`
	TonePreference   Tone                        `json:"tone_preference,omitempty"`
	QuietHours       HourRange                   `json:"quiet_hours"`
	PreferredWindows []HourRange                 `json:"preferred_windows,omitempty"`
	CategoryWeights  map[MessageCategory]float64 `json:"category_weights,omitempty"`
	Locale           string                      `json:"locale"`
	Timezone         string                      `json:"timezone"`
	CreatedAt        time.Time                   `json:"created_at"`
	UpdatedAt        time.Time                   `json:"updated_at"`
}

// CategoryWeight returns the opt-in weight for c. Unset categories count
// as fully opted in.
func (p *UserPersonalizationProfile) CategoryWeight(c MessageCategory) float64 {
	if p == nil || p.CategoryWeights == nil {
		return 1
	}
	w, ok := p.CategoryWeights[c]
	if !ok {
		return 1
	}
	return w
}

// Location resolves the profile time zone, defaulting to UTC.
func (p *UserPersonalizationProfile) Location() *time.Location {
	if p == nil || p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DefaultProfile is used when the preference store has no row for a user.
func DefaultProfile(userID string) *UserPersonalizationProfile {
	return &UserPersonalizationProfile{
		UserID:     userID,
		Frequency:  FrequencyModerate,
		QuietHours: HourRange{Start: 22, End: 7},
		Locale:     "en",
		Timezone:   "UTC",
	}
}
