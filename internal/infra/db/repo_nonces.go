package db

import (
	"context"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/usecase"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type NonceRepository struct {
	db *gorm.DB
}

var _ usecase.NonceStore = (*NonceRepository)(nil)

func NewNonceRepository(db *gorm.DB) *NonceRepository {
	return &NonceRepository{db: db}
}

// Insert is the atomic check-and-insert: the (tenant_id, value) primary key
// decides which of two concurrent consumers wins.
func (r *NonceRepository) Insert(ctx context.Context, nonce domain.Nonce) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := NonceModel{
		TenantID:   nonce.TenantID,
		Value:      nonce.Value,
		ConsumedAt: nonce.ConsumedAt.UTC(),
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return domain.ErrNonceReplay
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNonceReplay
	}
	return nil
}

func (r *NonceRepository) Delete(ctx context.Context, tenantID, value string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).
		Where("tenant_id = ? AND value = ?", tenantID, value).
		Delete(&NonceModel{}).Error
}
