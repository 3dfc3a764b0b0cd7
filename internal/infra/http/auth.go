package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"

	"github.com/gin-gonic/gin"
)

const tenantContextKey = "tenant"

// requireAdmin guards operator routes with the X-Admin-Key header. With no
// admin key configured those routes are closed.
func (s *Server) requireAdmin(c *gin.Context) {
	if s.adminAPIKey == "" {
		writeErrorCode(c, http.StatusUnauthorized, "unauthorized", "admin key required")
		c.Abort()
		return
	}
	key := strings.TrimSpace(c.GetHeader("X-Admin-Key"))
	if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.adminAPIKey)) != 1 {
		writeErrorCode(c, http.StatusUnauthorized, "unauthorized", "invalid admin key")
		c.Abort()
		return
	}
	c.Next()
}

// bindTenant resolves the path tenant once; handlers read it back with
// tenantFrom.
func (s *Server) bindTenant(c *gin.Context) {
	tenant, err := domain.NewTenantID(c.Param("tenant_id"))
	if err != nil {
		writeError(c, err)
		c.Abort()
		return
	}
	c.Set(tenantContextKey, tenant)
	c.Next()
}

func tenantFrom(c *gin.Context) domain.TenantID {
	raw, ok := c.Get(tenantContextKey)
	if !ok {
		return domain.TenantID{}
	}
	tenant, _ := raw.(domain.TenantID)
	return tenant
}
