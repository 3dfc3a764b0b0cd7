package memstore

import (
	"context"
	"sync"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/usecase"
)

type NonceStore struct {
	mu     sync.Mutex
	nonces map[string]domain.Nonce
}

var _ usecase.NonceStore = (*NonceStore)(nil)

func NewNonceStore() *NonceStore {
	return &NonceStore{nonces: make(map[string]domain.Nonce)}
}

func (s *NonceStore) Insert(_ context.Context, nonce domain.Nonce) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := nonce.TenantID + "\x00" + nonce.Value
	if _, ok := s.nonces[ref]; ok {
		return domain.ErrNonceReplay
	}
	s.nonces[ref] = nonce
	return nil
}

func (s *NonceStore) Delete(_ context.Context, tenantID, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nonces, tenantID+"\x00"+value)
	return nil
}
