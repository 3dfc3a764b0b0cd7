package usecase

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
	cryptoinfra "github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/infra/crypto"
)

const maxActiveKeyAttempts = 3

// KeyHandle is a usable signing key. The private half never leaves this package.
type KeyHandle struct {
	tenantID  string
	keyID     string
	algorithm string
	createdAt time.Time
	private   *ecdsa.PrivateKey
}

func (h *KeyHandle) TenantID() string { return h.tenantID }
func (h *KeyHandle) KeyID() string { return h.keyID }
func (h *KeyHandle) Algorithm() string { return h.algorithm }
func (h *KeyHandle) CreatedAt() time.Time { return h.createdAt }
func (h *KeyHandle) Public() *ecdsa.PublicKey { return &h.private.PublicKey }

// PublicKeyHandle is the verification half of a tenant key.
type PublicKeyHandle struct {
	TenantID  string
	KeyID     string
	Algorithm string
	Status    domain.KeyStatus
	CreatedAt time.Time
	Key       *ecdsa.PublicKey
	DER       []byte
}

func (h PublicKeyHandle) PEM() string {
	return cryptoinfra.PublicKeyPEM(h.DER)
}

func (h PublicKeyHandle) Info() domain.PublicKeyInfo {
	return domain.PublicKeyInfo{
		TenantID:     h.TenantID,
		KeyID:        h.KeyID,
		Algorithm:    h.Algorithm,
		Status:       h.Status,
		PublicKeyPEM: h.PEM(),
		CreatedAt:    h.CreatedAt,
	}
}

// KeyLookup resolves verification keys. A missing key is (nil, nil).
type KeyLookup interface {
	GetKeyByID(ctx context.Context, tenant domain.TenantID, keyID string) (*PublicKeyHandle, error)
}

// KeyRegistry owns tenant ECDSA P-256 keys: creation on first use, rotation
// and lookup. There is no shared or default key.
type KeyRegistry struct {
	Store    KeyStore
	Clock    Clock
	Interval time.Duration
	Logger   *slog.Logger
}

func NewKeyRegistry(store KeyStore, clock Clock, interval time.Duration, logger *slog.Logger) *KeyRegistry {
	return &KeyRegistry{Store: store, Clock: clock, Interval: interval, Logger: logger}
}

// GetActiveKey returns the tenant's active key, creating one on first use.
func (r *KeyRegistry) GetActiveKey(ctx context.Context, tenant domain.TenantID) (*KeyHandle, error) {
	if err := tenant.Require(); err != nil {
		return nil, err
	}
	if r.Store == nil {
		return nil, errors.New("key store is required")
	}
	for attempt := 0; attempt < maxActiveKeyAttempts; attempt++ {
		record, err := r.Store.GetActive(ctx, tenant.String())
		if err == nil {
			return handleFromRecord(*record)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		next, err := r.newKeyRecord(tenant)
		if err != nil {
			return nil, err
		}
		created, err := r.Store.CreateIfNoActive(ctx, next)
		if err != nil {
			return nil, err
		}
		if created {
			r.logger().Info("tenant key created", "tenant_id", tenant.String(), "key_id", next.KeyID)
			return handleFromRecord(next)
		}
		// Another writer created the active key first; read theirs.
	}
	return nil, fmt.Errorf("%w: active key for tenant %s kept changing", domain.ErrConflict, tenant.String())
}

// Rotate marks the active key rotated and activates a fresh key.
func (r *KeyRegistry) Rotate(ctx context.Context, tenant domain.TenantID) (*KeyHandle, error) {
	if err := tenant.Require(); err != nil {
		return nil, err
	}
	if r.Store == nil {
		return nil, errors.New("key store is required")
	}
	current, err := r.Store.GetActive(ctx, tenant.String())
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if current == nil {
		return r.GetActiveKey(ctx, tenant)
	}
	next, err := r.newKeyRecord(tenant)
	if err != nil {
		return nil, err
	}
	now := r.Clock.now()
	err = r.Store.WithTx(ctx, func(store KeyStore) error {
		if err := store.Retire(ctx, tenant.String(), current.KeyID, domain.KeyStatusRotated, now); err != nil {
			return err
		}
		created, err := store.CreateIfNoActive(ctx, next)
		if err != nil {
			return err
		}
		if !created {
			return fmt.Errorf("%w: tenant %s gained an active key during rotation", domain.ErrConflict, tenant.String())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger().Info("tenant key rotated", "tenant_id", tenant.String(), "previous_key_id", current.KeyID, "key_id", next.KeyID)
	return handleFromRecord(next)
}

// RotateIfDue rotates when the active key is older than Interval.
func (r *KeyRegistry) RotateIfDue(ctx context.Context, tenant domain.TenantID) (*KeyHandle, bool, error) {
	active, err := r.GetActiveKey(ctx, tenant)
	if err != nil {
		return nil, false, err
	}
	if r.Interval <= 0 || r.Clock.now().Sub(active.CreatedAt()) < r.Interval {
		return active, false, nil
	}
	rotated, err := r.Rotate(ctx, tenant)
	if err != nil {
		return nil, false, err
	}
	return rotated, true, nil
}

// MarkCompromised flags a key compromised. When it was the active key a new
// active key is created so signing can continue.
func (r *KeyRegistry) MarkCompromised(ctx context.Context, tenant domain.TenantID, keyID string) (*KeyHandle, error) {
	if err := tenant.Require(); err != nil {
		return nil, err
	}
	keyID = strings.TrimSpace(keyID)
	record, err := r.Store.GetByID(ctx, tenant.String(), keyID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrKeyNotFound
		}
		return nil, err
	}
	if err := r.Store.SetStatus(ctx, tenant.String(), keyID, domain.KeyStatusCompromised, r.Clock.now()); err != nil {
		return nil, err
	}
	r.logger().Warn("tenant key marked compromised", "tenant_id", tenant.String(), "key_id", keyID)
	if record.Status != domain.KeyStatusActive {
		return nil, nil
	}
	return r.GetActiveKey(ctx, tenant)
}

// GetKeyByID returns the public key for keyID, or nil when the tenant has no
// such key. Absence is not an error.
func (r *KeyRegistry) GetKeyByID(ctx context.Context, tenant domain.TenantID, keyID string) (*PublicKeyHandle, error) {
	if err := tenant.Require(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(keyID) == "" {
		return nil, nil
	}
	record, err := r.Store.GetByID(ctx, tenant.String(), keyID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if record.TenantID != tenant.String() {
		return nil, nil
	}
	return publicHandleFromRecord(*record)
}

func (r *KeyRegistry) ListKeys(ctx context.Context, tenant domain.TenantID) ([]PublicKeyHandle, error) {
	if err := tenant.Require(); err != nil {
		return nil, err
	}
	records, err := r.Store.ListByTenant(ctx, tenant.String())
	if err != nil {
		return nil, err
	}
	out := make([]PublicKeyHandle, 0, len(records))
	for _, record := range records {
		handle, err := publicHandleFromRecord(record)
		if err != nil {
			return nil, err
		}
		out = append(out, *handle)
	}
	return out, nil
}

func (r *KeyRegistry) newKeyRecord(tenant domain.TenantID) (domain.TenantKeyRecord, error) {
	key, err := cryptoinfra.GenerateKey()
	if err != nil {
		return domain.TenantKeyRecord{}, fmt.Errorf("generate key: %w", err)
	}
	privDER, err := cryptoinfra.MarshalPrivateKey(key)
	if err != nil {
		return domain.TenantKeyRecord{}, err
	}
	pubDER, err := cryptoinfra.MarshalPublicKey(&key.PublicKey)
	if err != nil {
		return domain.TenantKeyRecord{}, err
	}
	return domain.TenantKeyRecord{
		TenantID:   tenant.String(),
		KeyID:      cryptoinfra.KeyIDFromPublicKey(pubDER),
		Algorithm:  domain.SignatureAlgorithm,
		Status:     domain.KeyStatusActive,
		PrivateKey: privDER,
		PublicKey:  pubDER,
		CreatedAt:  r.Clock.now().Truncate(time.Microsecond),
	}, nil
}

func (r *KeyRegistry) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func handleFromRecord(record domain.TenantKeyRecord) (*KeyHandle, error) {
	if record.TenantID == "" {
		return nil, domain.ErrTenantBindingMissing
	}
	private, err := cryptoinfra.ParsePrivateKey(record.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("key %s: %w", record.KeyID, err)
	}
	return &KeyHandle{
		tenantID:  record.TenantID,
		keyID:     record.KeyID,
		algorithm: record.Algorithm,
		createdAt: record.CreatedAt,
		private:   private,
	}, nil
}

func publicHandleFromRecord(record domain.TenantKeyRecord) (*PublicKeyHandle, error) {
	public, err := cryptoinfra.ParsePublicKey(record.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("key %s: %w", record.KeyID, err)
	}
	return &PublicKeyHandle{
		TenantID:  record.TenantID,
		KeyID:     record.KeyID,
		Algorithm: record.Algorithm,
		Status:    record.Status,
		CreatedAt: record.CreatedAt,
		Key:       public,
		DER:       append([]byte(nil), record.PublicKey...),
	}, nil
}
