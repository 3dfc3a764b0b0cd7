//go:build integration
// +build integration

package db

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/domain"
	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/usecase"
)

func TestKeyRepository_OneActiveKey(t *testing.T) {
	db := setupTestDB(t)
	resetDB(t, db)
	repo := NewKeyRepository(db)
	ctx := context.Background()
	tenantID := "tenant-" + mustUUID(t)[:8]

	first := testKeyRecord(tenantID, "kid-1")
	created, err := repo.CreateIfNoActive(ctx, first)
	if err != nil {
		t.Fatalf("create first key: %v", err)
	}
	if !created {
		t.Fatal("expected first key to be created")
	}
	created, err = repo.CreateIfNoActive(ctx, testKeyRecord(tenantID, "kid-2"))
	if err != nil {
		t.Fatalf("create second key: %v", err)
	}
	if created {
		t.Fatal("expected second active key to be refused")
	}

	active, err := repo.GetActive(ctx, tenantID)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active.KeyID != "kid-1" {
		t.Fatalf("expected kid-1 active, got %s", active.KeyID)
	}
}

func TestKeyRepository_RotateInTx(t *testing.T) {
	db := setupTestDB(t)
	resetDB(t, db)
	repo := NewKeyRepository(db)
	ctx := context.Background()
	tenantID := "tenant-" + mustUUID(t)[:8]

	if _, err := repo.CreateIfNoActive(ctx, testKeyRecord(tenantID, "kid-1")); err != nil {
		t.Fatalf("create key: %v", err)
	}
	err := repo.WithTx(ctx, func(store usecase.KeyStore) error {
		if err := store.Retire(ctx, tenantID, "kid-1", domain.KeyStatusRotated, time.Now().UTC()); err != nil {
			return err
		}
		created, err := store.CreateIfNoActive(ctx, testKeyRecord(tenantID, "kid-2"))
		if err != nil {
			return err
		}
		if !created {
			t.Fatal("expected replacement key to be created")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}

	old, err := repo.GetByID(ctx, tenantID, "kid-1")
	if err != nil {
		t.Fatalf("get old key: %v", err)
	}
	if old.Status != domain.KeyStatusRotated || old.RetiredAt == nil {
		t.Fatalf("expected rotated key with retired_at, got %s", old.Status)
	}
	if err := repo.Retire(ctx, tenantID, "kid-1", domain.KeyStatusRotated, time.Now().UTC()); err == nil {
		t.Fatal("expected retiring a non-active key to conflict")
	}

	if err := db.Exec("UPDATE signing_keys SET public_key = 'x' WHERE key_id = ?", "kid-1").Error; err == nil {
		t.Fatal("expected key material update to fail")
	} else if !strings.Contains(err.Error(), "append-only") {
		t.Fatalf("unexpected update error: %v", err)
	}
}

func TestNonceRepository_Replay(t *testing.T) {
	db := setupTestDB(t)
	resetDB(t, db)
	repo := NewNonceRepository(db)
	ctx := context.Background()

	nonce := domain.Nonce{TenantID: "tenant-a", Value: "n-1", ConsumedAt: time.Now().UTC()}
	if err := repo.Insert(ctx, nonce); err != nil {
		t.Fatalf("insert nonce: %v", err)
	}
	if err := repo.Insert(ctx, nonce); err != domain.ErrNonceReplay {
		t.Fatalf("expected nonce replay, got %v", err)
	}
	nonce.TenantID = "tenant-b"
	if err := repo.Insert(ctx, nonce); err != nil {
		t.Fatalf("insert nonce for other tenant: %v", err)
	}
	if err := repo.Delete(ctx, "tenant-b", "n-1"); err != nil {
		t.Fatalf("delete nonce: %v", err)
	}
	if err := repo.Insert(ctx, nonce); err != nil {
		t.Fatalf("insert released nonce: %v", err)
	}
	nonce.TenantID = "tenant-a"
	if err := repo.Insert(ctx, nonce); err != domain.ErrNonceReplay {
		t.Fatalf("delete must stay tenant scoped, got %v", err)
	}
}

func TestCertificateRepository_HeadCAS(t *testing.T) {
	db := setupTestDB(t)
	resetDB(t, db)
	repo := NewCertificateRepository(db)
	ctx := context.Background()
	tenantID := "tenant-a"

	first := testCertificate(tenantID, 1, "a", nil)
	if err := repo.AppendIfHead(ctx, first, nil); err != nil {
		t.Fatalf("append genesis: %v", err)
	}
	if err := repo.AppendIfHead(ctx, testCertificate(tenantID, 1, "b", nil), nil); err != domain.ErrConcurrentChainAdvance {
		t.Fatalf("expected concurrent advance for second genesis, got %v", err)
	}

	prev := first.ChainHash
	second := testCertificate(tenantID, 2, "c", &prev)
	if err := repo.AppendIfHead(ctx, second, &prev); err != nil {
		t.Fatalf("append second: %v", err)
	}
	stale := testCertificate(tenantID, 2, "d", &prev)
	if err := repo.AppendIfHead(ctx, stale, &prev); err != domain.ErrConcurrentChainAdvance {
		t.Fatalf("expected concurrent advance for stale head, got %v", err)
	}

	head, err := repo.Head(ctx, tenantID)
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.HeadHash != second.ChainHash || head.Seq != 2 {
		t.Fatalf("unexpected head %+v", head)
	}

	list, err := repo.ListByTenant(ctx, tenantID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[1].CertificateID != second.CertificateID {
		t.Fatalf("expected 2 certificates in order, got %d", len(list))
	}
	if list[0].ExtraUnsignedFields["patient_hash"] != first.ExtraUnsignedFields["patient_hash"] {
		t.Fatal("patient_hash did not round trip")
	}

	got, err := repo.GetBySeq(ctx, tenantID, 1)
	if err != nil {
		t.Fatalf("get by seq: %v", err)
	}
	if got.ChainHash != first.ChainHash || got.PreviousHash != nil {
		t.Fatal("unexpected genesis certificate")
	}
	if _, err := repo.GetByID(ctx, "tenant-b", first.CertificateID); err != domain.ErrNotFound {
		t.Fatalf("expected not found across tenants, got %v", err)
	}

	if err := db.Exec("DELETE FROM certificates WHERE certificate_id = ?", first.CertificateID).Error; err == nil {
		t.Fatal("expected delete to fail")
	} else if !strings.Contains(err.Error(), "append-only") {
		t.Fatalf("unexpected delete error: %v", err)
	}
}

func TestAuditEventRepository_AppendLinked(t *testing.T) {
	db := setupTestDB(t)
	resetDB(t, db)
	repo := NewAuditEventRepository(db)
	ctx := context.Background()
	tenantID := "tenant-a"
	at := time.Date(2026, 2, 1, 10, 0, 0, 123456000, time.UTC)

	var events []domain.AuditEvent
	for i := 0; i < 3; i++ {
		event, err := repo.AppendLinked(ctx, tenantID, func(tail *domain.AuditEvent) (domain.AuditEvent, error) {
			event := domain.AuditEvent{
				EventID:    mustUUID(t),
				TenantID:   tenantID,
				Seq:        1,
				OccurredAt: at.Add(time.Duration(i) * time.Second),
				ObjectType: "clinical_note",
				ObjectID:   "note-1",
				Action:     domain.AuditActionEdit,
				Payload:    `{"v":1}`,
				EventHash:  strings.Repeat("0", 63) + string(rune('1'+i)),
			}
			if tail != nil {
				prev := tail.EventHash
				event.PrevEventHash = &prev
				event.Seq = tail.Seq + 1
			}
			return event, nil
		})
		if err != nil {
			t.Fatalf("append event %d: %v", i, err)
		}
		events = append(events, event)
	}

	stored, err := repo.ListByTenant(ctx, tenantID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("expected 3 events, got %d", len(stored))
	}
	if stored[0].PrevEventHash != nil {
		t.Fatal("first event must have no predecessor")
	}
	if *stored[2].PrevEventHash != events[1].EventHash {
		t.Fatal("third event does not link to the second")
	}
	if !stored[0].OccurredAt.Equal(at) || stored[0].Payload != `{"v":1}` {
		t.Fatal("occurred_at or payload did not round trip exactly")
	}

	if err := db.Exec("UPDATE audit_events SET payload_serialized = '{}' WHERE event_id = ?", events[0].EventID).Error; err == nil {
		t.Fatal("expected update to fail on append-only table")
	} else if !strings.Contains(err.Error(), "append-only") {
		t.Fatalf("expected append-only error, got %v", err)
	}
}

func TestCertificateLedger_ConcurrentIssuanceOnPostgres(t *testing.T) {
	db := setupTestDB(t)
	resetDB(t, db)
	store := NewStoreFromDB(db)
	ctx := context.Background()
	tenant, err := domain.NewTenantID("hospital-alpha")
	if err != nil {
		t.Fatalf("tenant: %v", err)
	}
	ledger := &usecase.CertificateLedger{
		Keys:       usecase.NewKeyRegistry(store.Keys, nil, 0, nil),
		Store:      store.Certificates,
		Nonces:     usecase.NewNonceTracker(store.Nonces, nil),
		MaxRetries: 20,
	}
	content := domain.CertificateContent{
		NoteHash:                "sha256:" + strings.Repeat("a", 64),
		ModelVersion:            "v1",
		GovernancePolicyVersion: "gov-1",
	}

	const workers = 6
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			_, err := ledger.Issue(ctx, tenant, usecase.IssueCertificateRequest{Content: content})
			errs <- err
		}()
	}
	for i := 0; i < workers; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("issue: %v", err)
		}
	}

	records, err := store.Certificates.ListByTenant(ctx, "hospital-alpha")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != workers {
		t.Fatalf("expected %d certificates, got %d", workers, len(records))
	}
	if err := usecase.VerifyCertificateSequence(records); err != nil {
		t.Fatalf("verify sequence: %v", err)
	}
	report, err := ledger.VerifyTenantChain(ctx, tenant)
	if err != nil {
		t.Fatalf("verify chain: %v", err)
	}
	if !report.Valid {
		t.Fatalf("expected valid chain, got %+v", report.Failures)
	}
}

func testKeyRecord(tenantID, keyID string) domain.TenantKeyRecord {
	return domain.TenantKeyRecord{
		TenantID:   tenantID,
		KeyID:      keyID,
		Algorithm:  domain.SignatureAlgorithm,
		Status:     domain.KeyStatusActive,
		PrivateKey: []byte("private-" + keyID),
		PublicKey:  []byte("public-" + keyID),
		CreatedAt:  time.Now().UTC(),
	}
}

func testCertificate(tenantID string, seq int64, fill string, prev *string) domain.CertificateRecord {
	digest := strings.Repeat(fill, 64)
	return domain.CertificateRecord{
		CertificateID: "cert-" + fill,
		TenantID:      tenantID,
		Seq:           seq,
		IssuedAt:      "2026-02-01T10:00:00.000000Z",
		CertificateContent: domain.CertificateContent{
			NoteHash:          "sha256:" + digest,
			ModelVersion:      "v1",
			PolicyVersionHash: digest,
		},
		ContentHash:  "sha256:" + digest,
		ChainHash:    digest,
		PreviousHash: prev,
		Signature: domain.Signature{
			Algorithm: domain.SignatureAlgorithm,
			KeyID:     "kid-1",
			Value:     "c2ln",
		},
		ExtraUnsignedFields: map[string]string{"patient_hash": "sha256:" + digest},
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("POSTGRES_DSN_TEST"))
	if dsn == "" {
		t.Skip("POSTGRES_DSN_TEST not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	lockTestDB(t, db)
	applyMigrations(t, db)
	return db
}

func lockTestDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	conn, err := sqlDB.Conn(context.Background())
	if err != nil {
		t.Fatalf("open db conn: %v", err)
	}
	if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_lock(987654321)"); err != nil {
		_ = conn.Close()
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock(987654321)")
		_ = conn.Close()
	})
}

func applyMigrations(t *testing.T, db *gorm.DB) {
	t.Helper()
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	for _, name := range files {
		sqlBytes, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("read migration %s: %v", name, err)
		}
		if err := db.Exec(string(sqlBytes)).Error; err != nil {
			t.Fatalf("apply migration %s: %v", name, err)
		}
	}
}

func resetDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	if err := db.Exec(`
		TRUNCATE signing_keys,
			nonces,
			certificates,
			certificate_chain_heads,
			audit_events,
			tenant_audit_seq
		RESTART IDENTITY CASCADE`).Error; err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

func mustUUID(t *testing.T) string {
	t.Helper()
	id, err := uuid.NewV7()
	if err != nil {
		t.Fatalf("uuid: %v", err)
	}
	return id.String()
}
