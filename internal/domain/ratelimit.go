package domain

import (
	"context"
	"time"
)

// RateLimitKey scopes a request counter to one tenant and one route.
type RateLimitKey struct {
	TenantID string
	Route    string
}

func (k RateLimitKey) String() string {
	return "tenant:" + k.TenantID + ":route:" + k.Route
}

// RateLimitQuota allows Requests per Window. Requests <= 0 disables limiting.
type RateLimitQuota struct {
	Requests int
	Window   time.Duration
}

type RateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type RateLimiter interface {
	Allow(ctx context.Context, key RateLimitKey, quota RateLimitQuota) (RateLimitDecision, error)
}
