package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/usecase"
)

// AuditStore keeps events per tenant in append order. It has no update or
// delete path.
type AuditStore struct {
	mu     sync.Mutex
	events map[string][]domain.AuditEvent
}

var _ usecase.AuditEventStore = (*AuditStore)(nil)

func NewAuditStore() *AuditStore {
	return &AuditStore{events: make(map[string][]domain.AuditEvent)}
}

func (s *AuditStore) AppendLinked(_ context.Context, tenantID string, seal usecase.AuditSealFunc) (domain.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tail *domain.AuditEvent
	if events := s.events[tenantID]; len(events) > 0 {
		last := events[len(events)-1]
		tail = &last
	}
	event, err := seal(tail)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	s.events[tenantID] = append(s.events[tenantID], event)
	return event, nil
}

func (s *AuditStore) ListByTenant(_ context.Context, tenantID string) ([]domain.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]domain.AuditEvent(nil), s.events[tenantID]...)
	sortEvents(out)
	return out, nil
}

func (s *AuditStore) ListAll(_ context.Context) ([]domain.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEvent
	for _, events := range s.events {
		out = append(out, events...)
	}
	sortEvents(out)
	return out, nil
}

func sortEvents(events []domain.AuditEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.TenantID != b.TenantID {
			return a.TenantID < b.TenantID
		}
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.Before(b.OccurredAt)
		}
		return a.EventID < b.EventID
	})
}
