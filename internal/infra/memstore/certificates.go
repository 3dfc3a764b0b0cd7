package memstore

import (
	"context"
	"sync"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/usecase"
)

type CertificateStore struct {
	mu      sync.Mutex
	heads   map[string]domain.ChainHead
	records map[string][]domain.CertificateRecord
}

var _ usecase.CertificateStore = (*CertificateStore)(nil)

func NewCertificateStore() *CertificateStore {
	return &CertificateStore{
		heads:   make(map[string]domain.ChainHead),
		records: make(map[string][]domain.CertificateRecord),
	}
}

func (s *CertificateStore) Head(_ context.Context, tenantID string) (*domain.ChainHead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	head, ok := s.heads[tenantID]
	if !ok {
		return nil, nil
	}
	return &head, nil
}

func (s *CertificateStore) AppendIfHead(_ context.Context, record domain.CertificateRecord, expectedHead *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	head, ok := s.heads[record.TenantID]
	switch {
	case expectedHead == nil && ok:
		return domain.ErrConcurrentChainAdvance
	case expectedHead != nil && (!ok || head.HeadHash != *expectedHead):
		return domain.ErrConcurrentChainAdvance
	}
	s.records[record.TenantID] = append(s.records[record.TenantID], record)
	s.heads[record.TenantID] = domain.ChainHead{
		TenantID: record.TenantID,
		HeadHash: record.ChainHash,
		Seq:      record.Seq,
	}
	return nil
}

func (s *CertificateStore) GetByID(_ context.Context, tenantID, certificateID string) (*domain.CertificateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.records[tenantID] {
		if record.CertificateID == certificateID {
			out := record
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *CertificateStore) GetBySeq(_ context.Context, tenantID string, seq int64) (*domain.CertificateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.records[tenantID] {
		if record.Seq == seq {
			out := record
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *CertificateStore) ListByTenant(_ context.Context, tenantID string) ([]domain.CertificateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.CertificateRecord(nil), s.records[tenantID]...), nil
}
