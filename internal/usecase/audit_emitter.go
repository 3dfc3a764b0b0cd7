package usecase

import (
	"context"
	"log/slog"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
)

// AuditEmitter records service-side lifecycle events. Emission failures are
// logged and never fail the operation that triggered them.
type AuditEmitter struct {
	Ledger *AuditLedger
	Logger *slog.Logger
}

func (e *AuditEmitter) CertificateIssued(ctx context.Context, tenant domain.TenantID, record domain.CertificateRecord) {
	e.emit(ctx, tenant, AuditEventInput{
		ObjectType: domain.AuditObjectCertificate,
		ObjectID:   record.CertificateID,
		Action:     domain.AuditActionCertificateIssued,
		Payload: map[string]any{
			"chain_hash": record.ChainHash,
			"key_id":     record.Signature.KeyID,
			"seq":        record.Seq,
		},
	})
}

func (e *AuditEmitter) KeyRotated(ctx context.Context, tenant domain.TenantID, keyID string) {
	e.emit(ctx, tenant, AuditEventInput{
		ObjectType: domain.AuditObjectSigningKey,
		ObjectID:   keyID,
		Action:     domain.AuditActionKeyRotated,
	})
}

func (e *AuditEmitter) KeyCompromised(ctx context.Context, tenant domain.TenantID, keyID string) {
	e.emit(ctx, tenant, AuditEventInput{
		ObjectType: domain.AuditObjectSigningKey,
		ObjectID:   keyID,
		Action:     domain.AuditActionKeyCompromised,
	})
}

func (e *AuditEmitter) emit(ctx context.Context, tenant domain.TenantID, in AuditEventInput) {
	if e == nil || e.Ledger == nil {
		return
	}
	if _, err := e.Ledger.Append(ctx, tenant, in); err != nil {
		logger := e.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("audit emit failed",
			"tenant_id", tenant.String(),
			"object_type", in.ObjectType,
			"object_id", in.ObjectID,
			"action", string(in.Action),
			"error", err,
		)
	}
}
