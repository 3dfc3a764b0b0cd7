package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/usecase"

	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type issueCertificateRequest struct {
	domain.CertificateContent
	PatientHash string `json:"patient_hash,omitempty"`
	Nonce       string `json:"nonce,omitempty"`
}

type decisionVerifyResponse struct {
	Valid         bool   `json:"valid"`
	TransactionID string `json:"transaction_id"`
	FinalHash     string `json:"final_hash"`
	KeyID         string `json:"key_id"`
	Error         string `json:"error,omitempty"`
	Detail        string `json:"detail,omitempty"`
}

type keyResponse struct {
	TenantID  string           `json:"tenant_id"`
	KeyID     string           `json:"key_id"`
	Algorithm string           `json:"algorithm"`
	Status    domain.KeyStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

type compromiseResponse struct {
	CompromisedKeyID string       `json:"compromised_key_id"`
	Replacement      *keyResponse `json:"replacement,omitempty"`
}

type auditEventRequest struct {
	ObjectType string         `json:"object_type"`
	ObjectID   string         `json:"object_id"`
	Action     string         `json:"action"`
	Payload    map[string]any `json:"payload"`
	OccurredAt *time.Time     `json:"occurred_at,omitempty"`
}

func (s *Server) handleIssueCertificate(c *gin.Context) {
	tenant := tenantFrom(c)
	if !s.enforceRateLimit(c, routeCertificatesIssue, tenant) {
		return
	}
	var req issueCertificateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	if !s.rotateIfDue(c, tenant) {
		return
	}
	record, err := s.certificates.Issue(c.Request.Context(), tenant, usecase.IssueCertificateRequest{
		Content:     req.CertificateContent,
		PatientHash: req.PatientHash,
		Nonce:       req.Nonce,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	s.emitter.CertificateIssued(c.Request.Context(), tenant, record)
	c.JSON(http.StatusCreated, record)
}

func (s *Server) handleGetCertificate(c *gin.Context) {
	record, err := s.certificates.Get(c.Request.Context(), tenantFrom(c), c.Param("certificate_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleVerifyCertificate(c *gin.Context) {
	result, err := s.certificates.Verify(c.Request.Context(), tenantFrom(c), c.Param("certificate_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleCertificateEvidence(c *gin.Context) {
	ctx := c.Request.Context()
	tenant := tenantFrom(c)
	record, err := s.certificates.Get(ctx, tenant, c.Param("certificate_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	key, err := s.keys.GetKeyByID(ctx, tenant, record.Signature.KeyID)
	if err != nil {
		writeError(c, err)
		return
	}
	if key == nil {
		writeError(c, domain.ErrKeyNotFound)
		return
	}
	bundle, err := usecase.BuildEvidence(*record, *key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bundle)
}

func (s *Server) handleVerifyChain(c *gin.Context) {
	result, err := s.certificates.VerifyTenantChain(c.Request.Context(), tenantFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleRecordDecision(c *gin.Context) {
	tenant := tenantFrom(c)
	if !s.enforceRateLimit(c, routeDecisionsRecord, tenant) {
		return
	}
	var in domain.DecisionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	if !s.rotateIfDue(c, tenant) {
		return
	}
	decision, err := s.decisions.Record(c.Request.Context(), tenant, in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, decision)
}

// handleVerifyDecision answers 200 for both outcomes; an integrity failure is
// a verification result, not a request error.
func (s *Server) handleVerifyDecision(c *gin.Context) {
	var decision domain.SignedDecision
	if err := c.ShouldBindJSON(&decision); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	out := decisionVerifyResponse{
		Valid:         true,
		TransactionID: decision.Input.Genesis.TransactionID,
		FinalHash:     decision.Chain.FinalHash,
		KeyID:         decision.Envelope.Signature.KeyID,
	}
	err := s.decisions.Verify(c.Request.Context(), tenantFrom(c), decision)
	switch {
	case err == nil:
	case isIntegrityFailure(err):
		out.Valid = false
		out.Error = domain.ErrorCode(err)
		out.Detail = err.Error()
	default:
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleListKeys(c *gin.Context) {
	keys, err := s.keys.ListKeys(c.Request.Context(), tenantFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]domain.PublicKeyInfo, 0, len(keys))
	for _, key := range keys {
		out = append(out, key.Info())
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleRotateKey(c *gin.Context) {
	tenant := tenantFrom(c)
	handle, err := s.keys.Rotate(c.Request.Context(), tenant)
	if err != nil {
		writeError(c, err)
		return
	}
	s.emitter.KeyRotated(c.Request.Context(), tenant, handle.KeyID())
	c.JSON(http.StatusCreated, buildKeyResponse(handle))
}

func (s *Server) handleCompromiseKey(c *gin.Context) {
	tenant := tenantFrom(c)
	keyID := c.Param("key_id")
	replacement, err := s.keys.MarkCompromised(c.Request.Context(), tenant, keyID)
	if err != nil {
		writeError(c, err)
		return
	}
	s.emitter.KeyCompromised(c.Request.Context(), tenant, keyID)
	out := compromiseResponse{CompromisedKeyID: keyID}
	if replacement != nil {
		s.emitter.KeyRotated(c.Request.Context(), tenant, replacement.KeyID())
		resp := buildKeyResponse(replacement)
		out.Replacement = &resp
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleAppendAuditEvent(c *gin.Context) {
	var req auditEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "invalid_json", "invalid json")
		return
	}
	in := usecase.AuditEventInput{
		ObjectType: req.ObjectType,
		ObjectID:   req.ObjectID,
		Action:     domain.AuditAction(req.Action),
		Payload:    req.Payload,
	}
	if req.OccurredAt != nil {
		in.OccurredAt = *req.OccurredAt
	}
	event, err := s.audit.Append(c.Request.Context(), tenantFrom(c), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

func (s *Server) handleVerifyAuditLedger(c *gin.Context) {
	var (
		report domain.LedgerReport
		err    error
	)
	if raw := strings.TrimSpace(c.Query("tenant_id")); raw != "" {
		tenant, terr := domain.NewTenantID(raw)
		if terr != nil {
			writeError(c, terr)
			return
		}
		report, err = s.audit.VerifyTenant(c.Request.Context(), tenant)
	} else {
		report, err = s.audit.VerifyAll(c.Request.Context())
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleNoRoute(c *gin.Context) {
	writeErrorCode(c, http.StatusNotFound, "not_found", "route not found")
}

// rotateIfDue applies the rotation interval lazily, on the signing paths.
func (s *Server) rotateIfDue(c *gin.Context, tenant domain.TenantID) bool {
	handle, rotated, err := s.keys.RotateIfDue(c.Request.Context(), tenant)
	if err != nil {
		writeError(c, err)
		return false
	}
	if rotated {
		s.emitter.KeyRotated(c.Request.Context(), tenant, handle.KeyID())
	}
	return true
}

func buildKeyResponse(handle *usecase.KeyHandle) keyResponse {
	return keyResponse{
		TenantID:  handle.TenantID(),
		KeyID:     handle.KeyID(),
		Algorithm: handle.Algorithm(),
		Status:    domain.KeyStatusActive,
		CreatedAt: handle.CreatedAt(),
	}
}

func isIntegrityFailure(err error) bool {
	return errors.Is(err, domain.ErrSignatureInvalid) ||
		errors.Is(err, domain.ErrHashMismatch) ||
		errors.Is(err, domain.ErrChainBroken)
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrSchemaViolation),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrTenantBindingMissing):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrKeyNotFound),
		errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrNonceReplay),
		errors.Is(err, domain.ErrConcurrentChainAdvance),
		errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case isIntegrityFailure(err):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
	}
	code := domain.ErrorCode(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeErrorCode(c, status, code, message)
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
