package db

import (
	"context"
	"errors"
	"time"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/usecase"

	"gorm.io/gorm"
)

type CertificateRepository struct {
	db *gorm.DB
}

var _ usecase.CertificateStore = (*CertificateRepository)(nil)

func NewCertificateRepository(db *gorm.DB) *CertificateRepository {
	return &CertificateRepository{db: db}
}

func (r *CertificateRepository) Head(ctx context.Context, tenantID string) (*domain.ChainHead, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model ChainHeadModel
	err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &domain.ChainHead{
		TenantID:  model.TenantID,
		HeadHash:  model.HeadHash,
		Seq:       model.Seq,
		UpdatedAt: model.UpdatedAt.UTC(),
	}, nil
}

// AppendIfHead advances certificate_chain_heads with a compare-and-set on
// head_hash and inserts the certificate in the same transaction. Zero rows
// on the head update, or a unique violation on (tenant_id, seq), means
// another writer got there first.
func (r *CertificateRepository) AppendIfHead(ctx context.Context, record domain.CertificateRecord, expectedHead *string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var res *gorm.DB
		if expectedHead == nil {
			res = tx.Exec(
				`INSERT INTO certificate_chain_heads (tenant_id, head_hash, seq, updated_at)
				 VALUES (?, ?, ?, ?)
				 ON CONFLICT (tenant_id) DO NOTHING`,
				record.TenantID, record.ChainHash, record.Seq, now,
			)
		} else {
			res = tx.Exec(
				`UPDATE certificate_chain_heads
				 SET head_hash = ?, seq = ?, updated_at = ?
				 WHERE tenant_id = ? AND head_hash = ?`,
				record.ChainHash, record.Seq, now, record.TenantID, *expectedHead,
			)
		}
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrConcurrentChainAdvance
		}
		model := certificateModelFromRecord(record, now)
		return tx.Create(&model).Error
	})
	if err != nil && isUniqueViolation(err) {
		return domain.ErrConcurrentChainAdvance
	}
	return err
}

func (r *CertificateRepository) GetByID(ctx context.Context, tenantID, certificateID string) (*domain.CertificateRecord, error) {
	return r.getOne(ctx, "tenant_id = ? AND certificate_id = ?", tenantID, certificateID)
}

func (r *CertificateRepository) GetBySeq(ctx context.Context, tenantID string, seq int64) (*domain.CertificateRecord, error) {
	return r.getOne(ctx, "tenant_id = ? AND seq = ?", tenantID, seq)
}

func (r *CertificateRepository) getOne(ctx context.Context, query string, args ...any) (*domain.CertificateRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model CertificateModel
	if err := r.db.WithContext(ctx).Where(query, args...).Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	record := certificateRecordFromModel(model)
	return &record, nil
}

func (r *CertificateRepository) ListByTenant(ctx context.Context, tenantID string) ([]domain.CertificateRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []CertificateModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("seq ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.CertificateRecord, 0, len(models))
	for _, model := range models {
		out = append(out, certificateRecordFromModel(model))
	}
	return out, nil
}

func certificateModelFromRecord(record domain.CertificateRecord, createdAt time.Time) CertificateModel {
	return CertificateModel{
		CertificateID:           record.CertificateID,
		TenantID:                record.TenantID,
		Seq:                     record.Seq,
		IssuedAt:                record.IssuedAt,
		NoteHash:                record.NoteHash,
		ModelName:               record.ModelName,
		ModelVersion:            record.ModelVersion,
		PromptVersion:           record.PromptVersion,
		GovernancePolicyVersion: record.GovernancePolicyVersion,
		PolicyVersionHash:       record.PolicyVersionHash,
		HumanReviewed:           record.HumanReviewed,
		HumanReviewerIDHash:     record.HumanReviewerIDHash,
		EncounterIDHash:         record.EncounterIDHash,
		ContentHash:             record.ContentHash,
		ChainHash:               record.ChainHash,
		PreviousHash:            record.PreviousHash,
		SignatureAlgorithm:      record.Signature.Algorithm,
		SignatureKeyID:          record.Signature.KeyID,
		Signature:               record.Signature.Value,
		PatientHash:             stringPtrIfNotEmpty(record.ExtraUnsignedFields["patient_hash"]),
		Nonce:                   stringPtrIfNotEmpty(record.ExtraUnsignedFields["nonce"]),
		CreatedAt:               createdAt,
	}
}

func certificateRecordFromModel(model CertificateModel) domain.CertificateRecord {
	record := domain.CertificateRecord{
		CertificateID: model.CertificateID,
		TenantID:      model.TenantID,
		Seq:           model.Seq,
		IssuedAt:      model.IssuedAt,
		CertificateContent: domain.CertificateContent{
			NoteHash:                model.NoteHash,
			ModelName:               model.ModelName,
			ModelVersion:            model.ModelVersion,
			PromptVersion:           model.PromptVersion,
			GovernancePolicyVersion: model.GovernancePolicyVersion,
			PolicyVersionHash:       model.PolicyVersionHash,
			HumanReviewed:           model.HumanReviewed,
			HumanReviewerIDHash:     model.HumanReviewerIDHash,
			EncounterIDHash:         model.EncounterIDHash,
		},
		ContentHash:  model.ContentHash,
		ChainHash:    model.ChainHash,
		PreviousHash: model.PreviousHash,
		Signature: domain.Signature{
			Algorithm: model.SignatureAlgorithm,
			KeyID:     model.SignatureKeyID,
			Value:     model.Signature,
		},
	}
	if model.PatientHash != nil || model.Nonce != nil {
		record.ExtraUnsignedFields = map[string]string{}
		if model.PatientHash != nil {
			record.ExtraUnsignedFields["patient_hash"] = *model.PatientHash
		}
		if model.Nonce != nil {
			record.ExtraUnsignedFields["nonce"] = *model.Nonce
		}
	}
	return record
}
