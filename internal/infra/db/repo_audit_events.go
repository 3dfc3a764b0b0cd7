package db

import (
	"context"
	"fmt"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/usecase"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AuditEventRepository struct {
	db *gorm.DB
}

var _ usecase.AuditEventStore = (*AuditEventRepository)(nil)

func NewAuditEventRepository(db *gorm.DB) *AuditEventRepository {
	return &AuditEventRepository{db: db}
}

// AppendLinked serializes appends per tenant on the tenant_audit_seq row.
// seal sees the current tail and its result is stored before the row lock
// is released.
func (r *AuditEventRepository) AppendLinked(ctx context.Context, tenantID string, seal usecase.AuditSealFunc) (domain.AuditEvent, error) {
	if r.db == nil {
		return domain.AuditEvent{}, errDBUnavailable
	}
	if tenantID == "" {
		return domain.AuditEvent{}, domain.ErrTenantBindingMissing
	}
	var sealed domain.AuditEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		counter, err := lockTenantSeq(tx, tenantID)
		if err != nil {
			return err
		}
		tail, err := auditTail(tx, counter)
		if err != nil {
			return err
		}
		next, err := seal(tail)
		if err != nil {
			return err
		}
		if next.TenantID != tenantID || next.Seq != counter.Seq+1 {
			return fmt.Errorf("sealed event does not extend tenant %s at seq %d", tenantID, counter.Seq+1)
		}
		row := toAuditEventModel(next)
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if err := tx.Model(&counter).Update("seq", next.Seq).Error; err != nil {
			return fmt.Errorf("advance audit seq for tenant %s: %w", tenantID, err)
		}
		sealed = next
		return nil
	})
	if err != nil {
		return domain.AuditEvent{}, err
	}
	return sealed, nil
}

func (r *AuditEventRepository) ListByTenant(ctx context.Context, tenantID string) ([]domain.AuditEvent, error) {
	return r.list(ctx, func(q *gorm.DB) *gorm.DB {
		return q.Where("tenant_id = ?", tenantID)
	})
}

func (r *AuditEventRepository) ListAll(ctx context.Context) ([]domain.AuditEvent, error) {
	return r.list(ctx, func(q *gorm.DB) *gorm.DB {
		return q.Order("tenant_id ASC")
	})
}

// list returns events in chain order; scope may filter or add a leading
// sort key.
func (r *AuditEventRepository) list(ctx context.Context, scope func(*gorm.DB) *gorm.DB) ([]domain.AuditEvent, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var rows []AuditEventModel
	err := scope(r.db.WithContext(ctx)).
		Order("occurred_at ASC").
		Order("event_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	events := make([]domain.AuditEvent, len(rows))
	for i := range rows {
		events[i] = rows[i].toDomain()
	}
	return events, nil
}

// lockTenantSeq creates the counter row on first use and takes it
// FOR UPDATE.
func lockTenantSeq(tx *gorm.DB, tenantID string) (AuditSeqModel, error) {
	counter := AuditSeqModel{TenantID: tenantID}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&counter).Error; err != nil {
		return AuditSeqModel{}, fmt.Errorf("init audit seq for tenant %s: %w", tenantID, err)
	}
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ?", tenantID).
		Take(&counter).Error; err != nil {
		return AuditSeqModel{}, fmt.Errorf("lock audit seq for tenant %s: %w", tenantID, err)
	}
	return counter, nil
}

func auditTail(tx *gorm.DB, counter AuditSeqModel) (*domain.AuditEvent, error) {
	if counter.Seq == 0 {
		return nil, nil
	}
	var row AuditEventModel
	if err := tx.Where("tenant_id = ? AND seq = ?", counter.TenantID, counter.Seq).Take(&row).Error; err != nil {
		return nil, fmt.Errorf("load audit tail for tenant %s: %w", counter.TenantID, err)
	}
	tail := row.toDomain()
	return &tail, nil
}

func toAuditEventModel(event domain.AuditEvent) AuditEventModel {
	return AuditEventModel{
		EventID:       event.EventID,
		TenantID:      event.TenantID,
		Seq:           event.Seq,
		OccurredAt:    event.OccurredAt.UTC(),
		ObjectType:    event.ObjectType,
		ObjectID:      event.ObjectID,
		Action:        string(event.Action),
		PayloadJSON:   event.Payload,
		PrevEventHash: event.PrevEventHash,
		EventHash:     event.EventHash,
	}
}

func (m AuditEventModel) toDomain() domain.AuditEvent {
	return domain.AuditEvent{
		EventID:       m.EventID,
		TenantID:      m.TenantID,
		Seq:           m.Seq,
		OccurredAt:    m.OccurredAt.UTC(),
		ObjectType:    m.ObjectType,
		ObjectID:      m.ObjectID,
		Action:        domain.AuditAction(m.Action),
		Payload:       m.PayloadJSON,
		PrevEventHash: m.PrevEventHash,
		EventHash:     m.EventHash,
	}
}
