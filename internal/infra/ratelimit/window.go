// Package ratelimit counts issuance requests per tenant and route in
// clock-aligned fixed windows. The memory and Redis limiters share the window
// arithmetic, so replicas and single-process deployments agree on resets.
package ratelimit

import (
	"time"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
)

const minWindow = time.Second

// windowBounds returns the aligned window containing now.
func windowBounds(now time.Time, window time.Duration) (time.Time, time.Time) {
	if window < minWindow {
		window = minWindow
	}
	start := now.UTC().Truncate(window)
	return start, start.Add(window)
}

// decide turns a window counter into a decision. Rejected requests are
// counted too, so count may exceed the quota.
func decide(quota domain.RateLimitQuota, count int64, resetAt time.Time) domain.RateLimitDecision {
	remaining := int64(quota.Requests) - count
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitDecision{
		Allowed:   count <= int64(quota.Requests),
		Limit:     quota.Requests,
		Remaining: int(remaining),
		ResetAt:   resetAt,
	}
}

func unlimited(quota domain.RateLimitQuota) domain.RateLimitDecision {
	return domain.RateLimitDecision{Allowed: true, Limit: quota.Requests, Remaining: -1}
}
