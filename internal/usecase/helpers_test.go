package usecase_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/infra/memstore"
	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/usecase"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	clock   *fakeClock
	keys    *memstore.KeyStore
	certs   *memstore.CertificateStore
	audit   *memstore.AuditStore
	nonces  *memstore.NonceStore
	reg     *usecase.KeyRegistry
	tracker *usecase.NonceTracker
	ledger  *usecase.CertificateLedger
	events  *usecase.AuditLedger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:  newFakeClock(),
		keys:   memstore.NewKeyStore(),
		certs:  memstore.NewCertificateStore(),
		audit:  memstore.NewAuditStore(),
		nonces: memstore.NewNonceStore(),
	}
	clock := usecase.Clock(f.clock.Now)
	f.reg = usecase.NewKeyRegistry(f.keys, clock, 0, nil)
	f.tracker = usecase.NewNonceTracker(f.nonces, clock)
	f.ledger = &usecase.CertificateLedger{
		Keys:       f.reg,
		Store:      f.certs,
		Nonces:     f.tracker,
		Clock:      clock,
		MaxRetries: 20,
	}
	f.events = &usecase.AuditLedger{Store: f.audit, Clock: clock}
	return f
}

func tenant(t *testing.T, raw string) domain.TenantID {
	t.Helper()
	id, err := domain.NewTenantID(raw)
	require.NoError(t, err)
	return id
}

func digest(c string) string {
	return strings.Repeat(c, 64)
}

func sampleContent() domain.CertificateContent {
	return domain.CertificateContent{
		NoteHash:                "sha256:" + digest("a"),
		ModelName:               "scribe",
		ModelVersion:            "v1",
		PromptVersion:           "p-3",
		GovernancePolicyVersion: "gov-2026-01",
		HumanReviewed:           true,
		HumanReviewerIDHash:     "sha256:" + digest("d"),
	}
}
