package cache

import "time"

// TTLPolicy scales a base TTL by confidence:
//
//	ttl = clamp(base * (0.5 + confidence), min, max)
//
// so a 0.9-confidence result lives 1.4x base and a 0.2 fallback 0.7x.
type TTLPolicy struct {
	Base time.Duration
	Min  time.Duration
	Max  time.Duration
}

// DefaultTTLPolicy is 6h base clamped to [30m, 24h].
var DefaultTTLPolicy = TTLPolicy{Base: 6 * time.Hour, Min: 30 * time.Minute, Max: 24 * time.Hour}

// For returns the TTL for a result with the given confidence.
func (p TTLPolicy) For(confidence float64) time.Duration {
	ttl := time.Duration(float64(p.Base) * (0.5 + confidence))
	if p.Min > 0 && ttl < p.Min {
		ttl = p.Min
	}
	if p.Max > 0 && ttl > p.Max {
		ttl = p.Max
	}
	return ttl
}
