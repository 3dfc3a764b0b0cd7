package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
)

var issueAlpha = domain.RateLimitKey{TenantID: "hospital-alpha", Route: "certificates:issue"}

func TestMemoryLimiter_AlignedWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 10, 0, time.UTC)
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: func() time.Time { return now }})
	ctx := context.Background()
	quota := domain.RateLimitQuota{Requests: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		decision, err := limiter.Allow(ctx, issueAlpha, quota)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !decision.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if decision.Remaining != 2-i {
			t.Fatalf("expected remaining %d, got %d", 2-i, decision.Remaining)
		}
		if want := time.Date(2026, 3, 1, 9, 1, 0, 0, time.UTC); !decision.ResetAt.Equal(want) {
			t.Fatalf("expected reset at %s, got %s", want, decision.ResetAt)
		}
	}
	decision, err := limiter.Allow(ctx, issueAlpha, quota)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if decision.Allowed || decision.Remaining != 0 {
		t.Fatalf("fourth request should be limited, got %+v", decision)
	}

	beta := domain.RateLimitKey{TenantID: "hospital-beta", Route: issueAlpha.Route}
	if other, err := limiter.Allow(ctx, beta, quota); err != nil || !other.Allowed {
		t.Fatalf("other tenant should have its own counter: %v", err)
	}
	decisions := domain.RateLimitKey{TenantID: issueAlpha.TenantID, Route: "decisions:record"}
	if other, err := limiter.Allow(ctx, decisions, quota); err != nil || !other.Allowed {
		t.Fatalf("other route should have its own counter: %v", err)
	}

	// The window is aligned to the minute, not to the first request.
	now = time.Date(2026, 3, 1, 9, 1, 0, 0, time.UTC)
	decision, err = limiter.Allow(ctx, issueAlpha, quota)
	if err != nil || !decision.Allowed || decision.Remaining != 2 {
		t.Fatalf("new window should start fresh, got %+v (%v)", decision, err)
	}
}

func TestMemoryLimiter_DisabledQuota(t *testing.T) {
	limiter := NewMemoryLimiter(MemoryLimiterConfig{})
	decision, err := limiter.Allow(context.Background(), issueAlpha, domain.RateLimitQuota{Window: time.Minute})
	if err != nil || !decision.Allowed {
		t.Fatalf("zero quota should always allow: %v", err)
	}
}

func TestMemoryLimiter_Capacity(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: func() time.Time { return now }, MaxKeys: 1})
	ctx := context.Background()
	quota := domain.RateLimitQuota{Requests: 1, Window: time.Minute}

	if _, err := limiter.Allow(ctx, domain.RateLimitKey{TenantID: "a", Route: "r"}, quota); err != nil {
		t.Fatalf("first key: %v", err)
	}
	if _, err := limiter.Allow(ctx, domain.RateLimitKey{TenantID: "b", Route: "r"}, quota); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := limiter.Allow(ctx, domain.RateLimitKey{TenantID: "b", Route: "r"}, quota); err != nil {
		t.Fatalf("closed windows should be pruned: %v", err)
	}
}
