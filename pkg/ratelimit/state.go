// Package ratelimit tracks the API request quota reported in the
// X-RateLimit-Remaining and X-RateLimit-Reset response headers and holds
// requests back while the quota is exhausted.
package ratelimit

import (
	"time"
)

// Response headers carrying the quota.
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Redis keys for shared quota state.
const (
	RedisKeyLimit          = "cm:rate_limit:limit"
	RedisKeyRemaining      = "cm:rate_limit:remaining"
	RedisKeyResetTimestamp = "cm:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "cm:rate_limit:last_update"
)

// Thresholds for quota decisions.
const (
	// RemainingThresholdCritical holds requests until the window resets when
	// fewer requests than this remain.
	RemainingThresholdCritical = 1

	// RemainingThresholdWarning slows requests down when fewer requests than
	// this remain.
	RemainingThresholdWarning = 3
)

// State is the last known request quota.
type State struct {
	// Limit is the window size, from X-RateLimit-Limit. Zero if not sent.
	Limit int `json:"limit"`

	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when the state was taken from response headers.
	LastUpdate time.Time `json:"last_update"`
}

// IsStale returns true if the state is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// Exhausted returns true if requests must wait for the window to reset.
// A state whose reset time has passed is never exhausted.
func (s *State) Exhausted() bool {
	return s.Remaining < RemainingThresholdCritical && s.TimeUntilReset() > 0
}

// NeedsThrottling returns true if the quota is low but not exhausted.
func (s *State) NeedsThrottling() bool {
	return s.Remaining < RemainingThresholdWarning && !s.Exhausted() && s.TimeUntilReset() > 0
}

// TimeUntilReset returns the duration until the window resets, or 0 if it
// already has.
func (s *State) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}
