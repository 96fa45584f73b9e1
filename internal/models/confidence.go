package models

import "math"

// Confidence bounds.
const (
	MinModelConfidence = 0.30
	MaxModelConfidence = 0.95
	// RulesQuality is the artifact quality credited to deterministic rules.
	RulesQuality = 0.5
)

// Confidence scores a model output from the sample size n, the days since
// the user's last activity and the artifact quality in [0,1]:
//
//	sample     = 1 - exp(-n/15)
//	recency    = exp(-daysSinceLast/14)
//	confidence = clamp(0.30 + 0.65*sample*recency*quality, 0.30, 0.95)
func Confidence(n int, daysSinceLast, quality float64) float64 {
	sample := 1 - math.Exp(-float64(n)/15)
	recency := math.Exp(-math.Max(0, daysSinceLast) / 14)
	q := clamp(quality, 0, 1)
	return clamp(MinModelConfidence+0.65*sample*recency*q, MinModelConfidence, MaxModelConfidence)
}

// FallbackConfidence scores an account-age fallback. It stays below 0.3 so
// consumers always see fallbacks as low-trust.
func FallbackConfidence(n int) float64 {
	return 0.10 + 0.10*float64(min(max(n, 0), 3))/3
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
