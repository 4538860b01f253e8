// Package ratelimit tracks the API's error budget and gates requests.
// It reads the X-Error-Limit-Remain and X-Error-Limit-Reset headers and
// keeps the budget in Redis so every client sharing an IP sees it.
package ratelimit

import (
	"time"
)

// Response headers carrying the error budget.
const (
	HeaderErrorLimitRemain = "X-Error-Limit-Remain"
	HeaderErrorLimitReset  = "X-Error-Limit-Reset"
)

// Redis keys for budget state storage.
const (
	RedisKeyErrorsRemaining = "feed:error_budget:errors_remaining"
	RedisKeyResetTimestamp  = "feed:error_budget:reset_timestamp"
	RedisKeyLastUpdate      = "feed:error_budget:last_update"
)

// Default thresholds for budget decisions.
const (
	// ErrorThresholdCritical blocks all requests below this many errors remaining.
	ErrorThresholdCritical = 5

	// ErrorThresholdWarning throttles requests below this many errors remaining.
	ErrorThresholdWarning = 20

	// ErrorThresholdHealthy marks the budget healthy at or above this value.
	ErrorThresholdHealthy = 50
)

// Thresholds configures when requests are blocked or throttled.
type Thresholds struct {
	Critical int
	Warning  int
	Healthy  int
}

// DefaultThresholds returns the package default thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Critical: ErrorThresholdCritical,
		Warning:  ErrorThresholdWarning,
		Healthy:  ErrorThresholdHealthy,
	}
}

// State is the current error budget as last reported by the API.
type State struct {
	// ErrorsRemaining from the X-Error-Limit-Remain header.
	ErrorsRemaining int `json:"errors_remaining"`

	// ResetAt is when the budget window resets (X-Error-Limit-Reset seconds from now).
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last written.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when ErrorsRemaining >= the healthy threshold.
	IsHealthy bool `json:"is_healthy"`
}

// NeedsCriticalBlock returns true if requests must be blocked.
func (s *State) NeedsCriticalBlock(th Thresholds) bool {
	return s.ErrorsRemaining < th.Critical
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *State) NeedsThrottling(th Thresholds) bool {
	return s.ErrorsRemaining < th.Warning && !s.NeedsCriticalBlock(th)
}

// TimeUntilReset returns the duration until the window resets, 0 if passed.
func (s *State) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

// UpdateHealth recomputes IsHealthy.
func (s *State) UpdateHealth(th Thresholds) {
	s.IsHealthy = s.ErrorsRemaining >= th.Healthy
}
