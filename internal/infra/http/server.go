// Package http is the gin boundary of the integrity service. It binds
// tenants from the path, maps domain errors to status codes and never
// echoes payload content in error bodies.
package http

import (
	"log/slog"
	"net/http"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/config"
	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/usecase"

	"github.com/gin-gonic/gin"
)

type Server struct {
	cfg    config.Config
	r      *gin.Engine
	logger *slog.Logger
	mode   string

	keys         *usecase.KeyRegistry
	certificates *usecase.CertificateLedger
	decisions    *usecase.DecisionRecorder
	audit        *usecase.AuditLedger
	emitter      *usecase.AuditEmitter

	adminAPIKey string

	rateLimiter    domain.RateLimiter
	rateLimitQuota domain.RateLimitQuota
}

type ServerDeps struct {
	Keys         *usecase.KeyRegistry
	Certificates *usecase.CertificateLedger
	Decisions    *usecase.DecisionRecorder
	Audit        *usecase.AuditLedger
	Emitter      *usecase.AuditEmitter
	RateLimiter  domain.RateLimiter
	Logger       *slog.Logger
	// Mode is reported by /healthz: "db" or "no-db".
	Mode string
}

func NewServer(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	quota := domain.RateLimitQuota{
		Requests: cfg.RateLimitRequests,
		Window:   cfg.RateLimitWindow(),
	}
	s := &Server{
		cfg:            cfg,
		r:              r,
		logger:         deps.Logger,
		mode:           deps.Mode,
		keys:           deps.Keys,
		certificates:   deps.Certificates,
		decisions:      deps.Decisions,
		audit:          deps.Audit,
		emitter:        deps.Emitter,
		adminAPIKey:    cfg.AdminAPIKey,
		rateLimiter:    deps.RateLimiter,
		rateLimitQuota: quota,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.mode == "" {
		s.mode = "no-db"
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": s.mode})
	})

	v1 := s.r.Group("/v1")
	{
		v1.GET("/audit/verify", s.requireAdmin, s.handleVerifyAuditLedger)

		tenant := v1.Group("/tenants/:tenant_id", s.bindTenant)
		tenant.POST("/certificates", s.handleIssueCertificate)
		tenant.GET("/certificates/:certificate_id", s.handleGetCertificate)
		tenant.POST("/certificates/:certificate_id/verify", s.handleVerifyCertificate)
		tenant.GET("/certificates/:certificate_id/evidence", s.handleCertificateEvidence)
		tenant.GET("/chain/verify", s.handleVerifyChain)

		tenant.POST("/decisions", s.handleRecordDecision)
		tenant.POST("/decisions/verify", s.handleVerifyDecision)

		tenant.GET("/keys", s.handleListKeys)
		tenant.POST("/keys/rotate", s.requireAdmin, s.handleRotateKey)
		tenant.POST("/keys/:key_id/compromise", s.requireAdmin, s.handleCompromiseKey)

		tenant.POST("/audit/events", s.handleAppendAuditEvent)
	}

	s.r.NoRoute(s.handleNoRoute)
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.r
}

func (s *Server) Run() error {
	s.logger.Info("http server listening", "addr", s.cfg.HTTPAddr, "mode", s.mode)
	return s.r.Run(s.cfg.HTTPAddr)
}
