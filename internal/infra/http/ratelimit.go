package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"

	"github.com/gin-gonic/gin"
)

// Routes that draw from a tenant's issuance quota.
const (
	routeCertificatesIssue = "certificates:issue"
	routeDecisionsRecord   = "decisions:record"
)

// enforceRateLimit counts the request against the tenant's quota for route.
// A limiter outage fails open and is logged.
func (s *Server) enforceRateLimit(c *gin.Context, route string, tenant domain.TenantID) bool {
	if s.rateLimiter == nil || s.rateLimitQuota.Requests <= 0 {
		return true
	}
	key := domain.RateLimitKey{TenantID: tenant.String(), Route: route}
	decision, err := s.rateLimiter.Allow(c.Request.Context(), key, s.rateLimitQuota)
	if err != nil {
		s.logger.Warn("rate limiter unavailable", "tenant_id", tenant.String(), "route", route, "error", err)
		return true
	}
	writeRateLimitHeaders(c, decision, time.Now())
	if !decision.Allowed {
		s.logger.Info("issuance rate limited", "tenant_id", tenant.String(), "route", route)
		writeErrorCode(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
		return false
	}
	return true
}

// writeRateLimitHeaders reports the quota with reset as delta seconds.
func writeRateLimitHeaders(c *gin.Context, decision domain.RateLimitDecision, now time.Time) {
	c.Header("RateLimit-Limit", strconv.Itoa(decision.Limit))
	if decision.Remaining >= 0 {
		c.Header("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	}
	if decision.ResetAt.IsZero() {
		return
	}
	reset := int64(decision.ResetAt.Sub(now) / time.Second)
	if decision.ResetAt.Sub(now)%time.Second > 0 {
		reset++
	}
	if reset < 0 {
		reset = 0
	}
	c.Header("RateLimit-Reset", strconv.FormatInt(reset, 10))
	if !decision.Allowed {
		c.Header("Retry-After", strconv.FormatInt(reset, 10))
	}
}
