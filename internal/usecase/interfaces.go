package usecase

import (
	"context"
	"time"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
)

type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

// KeyStore persists tenant key records. GetActive and GetByID return
// domain.ErrNotFound when nothing matches.
type KeyStore interface {
	GetActive(ctx context.Context, tenantID string) (*domain.TenantKeyRecord, error)
	GetByID(ctx context.Context, tenantID, keyID string) (*domain.TenantKeyRecord, error)
	ListByTenant(ctx context.Context, tenantID string) ([]domain.TenantKeyRecord, error)
	// CreateIfNoActive inserts record only when the tenant has no active key.
	// It reports false when another writer already holds the active slot.
	CreateIfNoActive(ctx context.Context, record domain.TenantKeyRecord) (bool, error)
	// Retire moves keyID from active to status. It returns domain.ErrConflict
	// when keyID is no longer the active key.
	Retire(ctx context.Context, tenantID, keyID string, status domain.KeyStatus, at time.Time) error
	SetStatus(ctx context.Context, tenantID, keyID string, status domain.KeyStatus, at time.Time) error
	WithTx(ctx context.Context, fn func(store KeyStore) error) error
}

// NonceStore records consumed nonces. Insert returns domain.ErrNonceReplay
// when (tenant_id, value) already exists. Delete of an absent nonce is not
// an error.
type NonceStore interface {
	Insert(ctx context.Context, nonce domain.Nonce) error
	Delete(ctx context.Context, tenantID, value string) error
}

// CertificateStore persists certificates and the per-tenant chain head.
type CertificateStore interface {
	// Head returns nil when the tenant has no certificates yet.
	Head(ctx context.Context, tenantID string) (*domain.ChainHead, error)
	// AppendIfHead stores record and advances the head only while the head
	// still equals expectedHead (nil meaning "no head"). A lost race returns
	// domain.ErrConcurrentChainAdvance.
	AppendIfHead(ctx context.Context, record domain.CertificateRecord, expectedHead *string) error
	GetByID(ctx context.Context, tenantID, certificateID string) (*domain.CertificateRecord, error)
	GetBySeq(ctx context.Context, tenantID string, seq int64) (*domain.CertificateRecord, error)
	ListByTenant(ctx context.Context, tenantID string) ([]domain.CertificateRecord, error)
}

// AuditSealFunc completes an event given the tenant's current tail (nil for
// the first event). It runs while the store holds the tenant's append slot.
type AuditSealFunc func(tail *domain.AuditEvent) (domain.AuditEvent, error)

type AuditEventStore interface {
	AppendLinked(ctx context.Context, tenantID string, seal AuditSealFunc) (domain.AuditEvent, error)
	// ListByTenant returns events ordered by occurred_at, event_id.
	ListByTenant(ctx context.Context, tenantID string) ([]domain.AuditEvent, error)
	// ListAll returns events ordered by tenant_id, occurred_at, event_id.
	ListAll(ctx context.Context) ([]domain.AuditEvent, error)
}

type PolicyEvaluator interface {
	Evaluate(ctx context.Context, input domain.PolicyInput) (domain.PolicyEvaluation, error)
}
