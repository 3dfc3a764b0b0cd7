package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
)

var ErrCapacityExceeded = errors.New("rate limiter capacity exceeded")

const defaultMaxKeys = 10000

// MemoryLimiter keeps window counters in process memory.
type MemoryLimiter struct {
	mu       sync.Mutex
	now      func() time.Time
	counters map[domain.RateLimitKey]*windowCounter
	maxKeys  int
}

type windowCounter struct {
	start time.Time
	count int64
}

type MemoryLimiterConfig struct {
	Now func() time.Time
	// MaxKeys bounds the number of tenant/route counters held at once.
	MaxKeys int
}

var _ domain.RateLimiter = (*MemoryLimiter)(nil)

func NewMemoryLimiter(cfg MemoryLimiterConfig) *MemoryLimiter {
	m := &MemoryLimiter{
		now:      cfg.Now,
		counters: make(map[domain.RateLimitKey]*windowCounter),
		maxKeys:  cfg.MaxKeys,
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.maxKeys <= 0 {
		m.maxKeys = defaultMaxKeys
	}
	return m
}

func (m *MemoryLimiter) Allow(_ context.Context, key domain.RateLimitKey, quota domain.RateLimitQuota) (domain.RateLimitDecision, error) {
	if quota.Requests <= 0 {
		return unlimited(quota), nil
	}
	start, end := windowBounds(m.now(), quota.Window)

	m.mu.Lock()
	defer m.mu.Unlock()

	counter, ok := m.counters[key]
	if !ok {
		if len(m.counters) >= m.maxKeys {
			m.pruneBefore(start)
		}
		if len(m.counters) >= m.maxKeys {
			return domain.RateLimitDecision{}, ErrCapacityExceeded
		}
		counter = &windowCounter{start: start}
		m.counters[key] = counter
	}
	if !counter.start.Equal(start) {
		counter.start = start
		counter.count = 0
	}
	counter.count++
	return decide(quota, counter.count, end), nil
}

// pruneBefore drops counters whose window closed before start.
func (m *MemoryLimiter) pruneBefore(start time.Time) {
	for key, counter := range m.counters {
		if counter.start.Before(start) {
			delete(m.counters, key)
		}
	}
}
