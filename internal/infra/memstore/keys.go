package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/usecase"
)

type KeyStore struct {
	mu   sync.Mutex
	keys map[string]domain.TenantKeyRecord
}

var _ usecase.KeyStore = (*KeyStore)(nil)

func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[string]domain.TenantKeyRecord)}
}

func keyRef(tenantID, keyID string) string {
	return tenantID + ":" + keyID
}

func (s *KeyStore) GetActive(ctx context.Context, tenantID string) (*domain.TenantKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lockedKeys{s}.GetActive(ctx, tenantID)
}

func (s *KeyStore) GetByID(ctx context.Context, tenantID, keyID string) (*domain.TenantKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lockedKeys{s}.GetByID(ctx, tenantID, keyID)
}

func (s *KeyStore) ListByTenant(ctx context.Context, tenantID string) ([]domain.TenantKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lockedKeys{s}.ListByTenant(ctx, tenantID)
}

func (s *KeyStore) CreateIfNoActive(ctx context.Context, record domain.TenantKeyRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lockedKeys{s}.CreateIfNoActive(ctx, record)
}

func (s *KeyStore) Retire(ctx context.Context, tenantID, keyID string, status domain.KeyStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lockedKeys{s}.Retire(ctx, tenantID, keyID, status, at)
}

func (s *KeyStore) SetStatus(ctx context.Context, tenantID, keyID string, status domain.KeyStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lockedKeys{s}.SetStatus(ctx, tenantID, keyID, status, at)
}

// WithTx runs fn with the store locked and rolls back every change when fn
// fails.
func (s *KeyStore) WithTx(ctx context.Context, fn func(store usecase.KeyStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make(map[string]domain.TenantKeyRecord, len(s.keys))
	for k, v := range s.keys {
		snapshot[k] = v
	}
	if err := fn(lockedKeys{s}); err != nil {
		s.keys = snapshot
		return err
	}
	return nil
}

// lockedKeys operates on a KeyStore whose mutex is already held.
type lockedKeys struct {
	s *KeyStore
}

func (l lockedKeys) GetActive(_ context.Context, tenantID string) (*domain.TenantKeyRecord, error) {
	for _, record := range l.s.keys {
		if record.TenantID == tenantID && record.Status == domain.KeyStatusActive {
			out := record
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (l lockedKeys) GetByID(_ context.Context, tenantID, keyID string) (*domain.TenantKeyRecord, error) {
	record, ok := l.s.keys[keyRef(tenantID, keyID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &record, nil
}

func (l lockedKeys) ListByTenant(_ context.Context, tenantID string) ([]domain.TenantKeyRecord, error) {
	var out []domain.TenantKeyRecord
	for _, record := range l.s.keys {
		if record.TenantID == tenantID {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].KeyID < out[j].KeyID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (l lockedKeys) CreateIfNoActive(ctx context.Context, record domain.TenantKeyRecord) (bool, error) {
	if _, err := l.GetActive(ctx, record.TenantID); err == nil {
		return false, nil
	}
	ref := keyRef(record.TenantID, record.KeyID)
	if _, exists := l.s.keys[ref]; exists {
		return false, fmt.Errorf("%w: key %s already exists", domain.ErrConflict, record.KeyID)
	}
	l.s.keys[ref] = record
	return true, nil
}

func (l lockedKeys) Retire(_ context.Context, tenantID, keyID string, status domain.KeyStatus, at time.Time) error {
	ref := keyRef(tenantID, keyID)
	record, ok := l.s.keys[ref]
	if !ok || record.Status != domain.KeyStatusActive {
		return fmt.Errorf("%w: key %s is not active", domain.ErrConflict, keyID)
	}
	record.Status = status
	retired := at
	record.RetiredAt = &retired
	l.s.keys[ref] = record
	return nil
}

func (l lockedKeys) SetStatus(_ context.Context, tenantID, keyID string, status domain.KeyStatus, at time.Time) error {
	ref := keyRef(tenantID, keyID)
	record, ok := l.s.keys[ref]
	if !ok {
		return domain.ErrNotFound
	}
	if record.Status == domain.KeyStatusActive && status != domain.KeyStatusActive {
		retired := at
		record.RetiredAt = &retired
	}
	record.Status = status
	l.s.keys[ref] = record
	return nil
}

func (l lockedKeys) WithTx(_ context.Context, fn func(store usecase.KeyStore) error) error {
	return fn(l)
}
