package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/usecase"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KeyRepository stores tenant signing keys. The one-active-key rule is held
// by the signing_keys_one_active partial unique index.
type KeyRepository struct {
	db *gorm.DB
}

var _ usecase.KeyStore = (*KeyRepository)(nil)

func NewKeyRepository(db *gorm.DB) *KeyRepository {
	return &KeyRepository{db: db}
}

func (r *KeyRepository) GetActive(ctx context.Context, tenantID string) (*domain.TenantKeyRecord, error) {
	return r.findOne(ctx, func(q *gorm.DB) *gorm.DB {
		return q.Where("tenant_id = ? AND status = ?", tenantID, string(domain.KeyStatusActive)).
			Order("created_at DESC")
	})
}

func (r *KeyRepository) GetByID(ctx context.Context, tenantID, keyID string) (*domain.TenantKeyRecord, error) {
	return r.findOne(ctx, func(q *gorm.DB) *gorm.DB {
		return q.Where("tenant_id = ? AND key_id = ?", tenantID, keyID)
	})
}

// findOne maps a missing row to domain.ErrNotFound.
func (r *KeyRepository) findOne(ctx context.Context, filter func(*gorm.DB) *gorm.DB) (*domain.TenantKeyRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var row SigningKeyModel
	switch err := filter(r.db.WithContext(ctx)).First(&row).Error; {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, domain.ErrNotFound
	case err != nil:
		return nil, err
	}
	return keyRecordFromModel(row), nil
}

func (r *KeyRepository) ListByTenant(ctx context.Context, tenantID string) ([]domain.TenantKeyRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []SigningKeyModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC, key_id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.TenantKeyRecord, 0, len(models))
	for _, model := range models {
		out = append(out, *keyRecordFromModel(model))
	}
	return out, nil
}

func (r *KeyRepository) CreateIfNoActive(ctx context.Context, record domain.TenantKeyRecord) (bool, error) {
	if r.db == nil {
		return false, errDBUnavailable
	}
	model := keyModelFromRecord(record)
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *KeyRepository) Retire(ctx context.Context, tenantID, keyID string, status domain.KeyStatus, at time.Time) error {
	if r.db == nil {
		return errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Model(&SigningKeyModel{}).
		Where("tenant_id = ? AND key_id = ? AND status = ?", tenantID, keyID, string(domain.KeyStatusActive)).
		Updates(map[string]any{"status": string(status), "retired_at": at.UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: key %s is not active", domain.ErrConflict, keyID)
	}
	return nil
}

func (r *KeyRepository) SetStatus(ctx context.Context, tenantID, keyID string, status domain.KeyStatus, at time.Time) error {
	if r.db == nil {
		return errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Model(&SigningKeyModel{}).
		Where("tenant_id = ? AND key_id = ?", tenantID, keyID).
		Updates(map[string]any{
			"status":     string(status),
			"retired_at": gorm.Expr("COALESCE(retired_at, ?)", at.UTC()),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *KeyRepository) WithTx(ctx context.Context, fn func(store usecase.KeyStore) error) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&KeyRepository{db: tx})
	})
}

func keyModelFromRecord(record domain.TenantKeyRecord) SigningKeyModel {
	status := record.Status
	if status == "" {
		status = domain.KeyStatusActive
	}
	return SigningKeyModel{
		TenantID:   record.TenantID,
		KeyID:      record.KeyID,
		Algorithm:  record.Algorithm,
		Status:     string(status),
		PrivateKey: copyBytes(record.PrivateKey),
		PublicKey:  copyBytes(record.PublicKey),
		CreatedAt:  record.CreatedAt.UTC(),
		RetiredAt:  record.RetiredAt,
	}
}

func keyRecordFromModel(model SigningKeyModel) *domain.TenantKeyRecord {
	var retiredAt *time.Time
	if model.RetiredAt != nil {
		at := model.RetiredAt.UTC()
		retiredAt = &at
	}
	return &domain.TenantKeyRecord{
		TenantID:   model.TenantID,
		KeyID:      model.KeyID,
		Algorithm:  model.Algorithm,
		Status:     domain.KeyStatus(model.Status),
		PrivateKey: copyBytes(model.PrivateKey),
		PublicKey:  copyBytes(model.PublicKey),
		CreatedAt:  model.CreatedAt.UTC(),
		RetiredAt:  retiredAt,
	}
}
